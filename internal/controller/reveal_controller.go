package controller

import (
	"strconv"
	"time"

	"reveal_backend/internal/service"
	"reveal_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// RevealController 拥有者侧接口：创建、列表、删除
type RevealController struct {
	RevealService *service.RevealService
}

func NewRevealController(revealService *service.RevealService) *RevealController {
	return &RevealController{RevealService: revealService}
}

// Create godoc
// @Summary 创建 reveal
// @Description 创建一条一次性 reveal，模式与内容在创建时一次性固定
// @Tags reveal
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body service.RevealCreateRequest true "reveal 配置"
// @Success 201 {object} util.Response{data=object} "创建成功"
// @Failure 400 {object} util.Response "配置不合法"
// @Failure 401 {object} util.Response "未授权"
// @Router /api/reveals [post]
func (c *RevealController) Create(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.RevealCreateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	reveal, err := c.RevealService.Create(claims.UserID, req)
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	util.Created(ctx, gin.H{
		"id":            reveal.ID,
		"mode":          reveal.Mode,
		"windowSeconds": reveal.EffectiveWindowSeconds(),
	})
}

// ListMine godoc
// @Summary 我创建的 reveal 列表
// @Description 分页返回当前用户创建的全部 reveal 及其状态
// @Tags reveal
// @Produce  json
// @Security ApiKeyAuth
// @Param   page query int false "页码，默认1"
// @Param   limit query int false "每页数量，默认20"
// @Success 200 {object} util.Response{data=util.PageResponse} "Success"
// @Failure 401 {object} util.Response "未授权"
// @Router /api/reveals [get]
func (c *RevealController) ListMine(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	reveals, total, err := c.RevealService.ListMine(claims.UserID, page, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, util.PageResponse{
		List:  reveals,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// ListAttempts godoc
// @Summary 某条 reveal 的提交记录
// @Description 拥有者查看自己一条 qa/race reveal 收到的全部提交及判定结果
// @Tags reveal
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "reveal ID"
// @Success 200 {object} util.Response{data=[]model.Attempt} "Success"
// @Failure 401 {object} util.Response "未授权"
// @Failure 404 {object} util.Response "不存在或无权限"
// @Router /api/reveals/{id}/attempts [get]
func (c *RevealController) ListAttempts(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	attempts, err := c.RevealService.ListAttempts(claims.UserID, ctx.Param("id"))
	if err != nil {
		if err == util.ErrRevealNotFound {
			util.NotFound(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, attempts)
}

// Sweep godoc
// @Summary 手动触发过期清扫
// @Description 管理员立即执行一轮超窗 reveal 的兜底过期，不等待后台定时器
// @Tags admin
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response "Success"
// @Failure 401 {object} util.Response "未授权"
// @Failure 403 {object} util.Response "权限不足"
// @Router /api/admin/sweep [post]
func (c *RevealController) Sweep(ctx *gin.Context) {
	if err := c.RevealService.SweepOverdue(time.Now()); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// swagger:model BulkDeleteRequest
type BulkDeleteRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

// BulkDelete godoc
// @Summary 批量删除 reveal
// @Description 删除当前用户的若干 reveal，连同底层资源。不属于自己的 ID 被忽略
// @Tags reveal
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   body body BulkDeleteRequest true "待删除的 ID 列表"
// @Success 200 {object} util.Response{data=object} "Success"
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 401 {object} util.Response "未授权"
// @Router /api/reveals [delete]
func (c *RevealController) BulkDelete(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req BulkDeleteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	deleted, err := c.RevealService.BulkDelete(ctx.Request.Context(), claims.UserID, req.IDs)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, gin.H{"deleted": deleted})
}
