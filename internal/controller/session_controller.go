package controller

import (
	"errors"
	"net/http"
	"time"

	"reveal_backend/internal/service"
	"reveal_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// SessionController 接收方侧接口。一条 reveal 的查看会话从 Open 开始，
// 以 Consume 或 Expire 结束，期间客户端与服务端共同维护状态机
type SessionController struct {
	RevealService    *service.RevealService
	ChallengeService *service.ChallengeService
	Hub              *service.RevealHub
}

func NewSessionController(revealService *service.RevealService, challengeService *service.ChallengeService, hub *service.RevealHub) *SessionController {
	return &SessionController{
		RevealService:    revealService,
		ChallengeService: challengeService,
		Hub:              hub,
	}
}

// swagger:model OpenRequest
type OpenRequest struct {
	Choice string `json:"choice" binding:"omitempty,oneof=yes no"`
}

// Open godoc
// @Summary 打开 reveal
// @Description 查看会话入口。可展示的记录原子迁移到 revealed 并返回内容；
// @Description qa/race 只返回挑战描述；binary 必须携带 choice。
// @Description 并发打开同一条时恰好一个请求拿到内容
// @Tags session
// @Accept  json
// @Produce  json
// @Param   id path string true "reveal ID"
// @Param   body body OpenRequest false "binary 模式的选择"
// @Success 200 {object} util.Response{data=service.OpenResult} "Success"
// @Failure 400 {object} util.Response "binary 模式缺少 choice"
// @Failure 404 {object} util.Response "不存在"
// @Router /api/r/{id}/open [post]
func (c *SessionController) Open(ctx *gin.Context) {
	var req OpenRequest
	if err := ctx.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.RevealService.Open(ctx.Param("id"), participantFrom(ctx), req.Choice, time.Now())
	if err != nil {
		c.mapError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// Status godoc
// @Summary 查询 reveal 状态
// @Description 只读可见性查询，不触发任何状态迁移。race 参与者轮询结果用
// @Tags session
// @Produce  json
// @Param   id path string true "reveal ID"
// @Success 200 {object} util.Response{data=service.OpenResult} "Success"
// @Failure 404 {object} util.Response "不存在"
// @Router /api/r/{id}/status [get]
func (c *SessionController) Status(ctx *gin.Context) {
	result, err := c.RevealService.Status(ctx.Param("id"), participantFrom(ctx), time.Now())
	if err != nil {
		c.mapError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// swagger:model SubmitRequest
type SubmitRequest struct {
	Value string `json:"value" binding:"required"`
}

// SubmitAnswer godoc
// @Summary 提交问答答案
// @Description qa 模式的解锁通道。答对返回内容并开始查看窗口；
// @Description 答错扣一次机会，机会耗尽记录过期
// @Tags session
// @Accept  json
// @Produce  json
// @Param   id path string true "reveal ID"
// @Param   body body SubmitRequest true "提交的答案"
// @Success 200 {object} util.Response{data=service.QAResult} "Success"
// @Failure 400 {object} util.Response "不是 qa 模式"
// @Failure 404 {object} util.Response "不存在"
// @Failure 409 {object} util.Response "已终态"
// @Failure 410 {object} util.Response "尝试次数耗尽"
// @Router /api/r/{id}/answer [post]
func (c *SessionController) SubmitAnswer(ctx *gin.Context) {
	var req SubmitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.ChallengeService.SubmitAnswer(ctx.Param("id"), participantFrom(ctx), req.Value, time.Now())
	if err != nil {
		c.mapError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// SubmitAttempt godoc
// @Summary 提交竞答
// @Description race 模式的参赛通道，需要登录。每人只有一次提交机会，
// @Description 并发提交多个正确答案时恰好一人成为胜者
// @Tags session
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   id path string true "reveal ID"
// @Param   body body SubmitRequest true "提交的答案"
// @Success 200 {object} util.Response{data=service.RaceResult} "Success"
// @Failure 400 {object} util.Response "不是 race 模式"
// @Failure 401 {object} util.Response "未登录"
// @Failure 404 {object} util.Response "不存在"
// @Failure 409 {object} util.Response "重复提交或已终态"
// @Router /api/r/{id}/attempts [post]
func (c *SessionController) SubmitAttempt(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req SubmitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	result, err := c.ChallengeService.SubmitAttempt(ctx.Param("id"), claims.UserID, req.Value, time.Now())
	if err != nil {
		c.mapError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// Consume godoc
// @Summary 确认消费完成
// @Description 查看窗口自然收尾：视频播完或用户主动关闭。revealed 之外的状态报冲突
// @Tags session
// @Produce  json
// @Param   id path string true "reveal ID"
// @Success 200 {object} util.Response "Success"
// @Failure 404 {object} util.Response "不存在"
// @Failure 409 {object} util.Response "状态不允许"
// @Router /api/r/{id}/consume [post]
func (c *SessionController) Consume(ctx *gin.Context) {
	if err := c.RevealService.Consume(ctx.Param("id"), time.Now()); err != nil {
		c.mapError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// Expire godoc
// @Summary 上报过期
// @Description 过期触发通道：倒计时归零、页面隐藏、播放中断都走这里。幂等
// @Tags session
// @Produce  json
// @Param   id path string true "reveal ID"
// @Success 200 {object} util.Response "Success"
// @Failure 404 {object} util.Response "不存在"
// @Router /api/r/{id}/expire [post]
func (c *SessionController) Expire(ctx *gin.Context) {
	if err := c.RevealService.Expire(ctx.Param("id"), time.Now()); err != nil {
		c.mapError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// Watch godoc
// @Summary 订阅 reveal 事件
// @Description WebSocket 升级。race 的参赛、定胜、消费、过期事件实时推送给订阅者
// @Tags session
// @Param   id path string true "reveal ID"
// @Router /api/r/{id}/ws [get]
func (c *SessionController) Watch(ctx *gin.Context) {
	c.Hub.ServeWatch(ctx, ctx.Param("id"), participantFrom(ctx))
}

// participantFrom 接收方无需注册，登录用户取其 ID，匿名按 0 处理
func participantFrom(ctx *gin.Context) uint {
	if claims := util.GetUserFromContext(ctx); claims != nil {
		return claims.UserID
	}
	return 0
}

func (c *SessionController) mapError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrRevealNotFound):
		util.NotFound(ctx)
	case errors.Is(err, util.ErrChoiceRequired),
		errors.Is(err, util.ErrNotRaceReveal),
		errors.Is(err, util.ErrNotQAReveal):
		util.BadRequest(ctx, err.Error())
	case errors.Is(err, util.ErrAlreadyTerminal),
		errors.Is(err, util.ErrInvalidTransition),
		errors.Is(err, util.ErrAlreadyAnswered):
		util.Error(ctx, http.StatusConflict, err.Error())
	case errors.Is(err, util.ErrAttemptsExhausted):
		util.Error(ctx, http.StatusGone, err.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}
