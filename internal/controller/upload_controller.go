package controller

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reveal_backend/internal/config"
	"reveal_backend/internal/model"
	"reveal_backend/internal/service"
	"reveal_backend/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UploadController reveal 资源上传。内容在创建 reveal 前单独上传，
// 创建请求只引用这里返回的 assetKey
type UploadController struct {
	Storage *service.StorageService
	Config  *config.Config
}

func NewUploadController(storage *service.StorageService, cfg *config.Config) *UploadController {
	return &UploadController{Storage: storage, Config: cfg}
}

// Upload godoc
// @Summary 上传 reveal 资源
// @Description 上传图片、视频或音频。视频会探测自然时长，
// @Description 创建 reveal 时该时长覆盖配置的查看窗口
// @Tags upload
// @Accept  multipart/form-data
// @Produce  json
// @Security ApiKeyAuth
// @Param   file formData file true "资源文件"
// @Success 201 {object} util.Response{data=object} "上传成功"
// @Failure 400 {object} util.Response "文件类型不允许"
// @Failure 401 {object} util.Response "未授权"
// @Failure 500 {object} util.Response "服务器内部错误"
// @Router /api/upload [post]
func (c *UploadController) Upload(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "File is required")
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	defer src.Close()

	mimeType, err := util.ValidateMimeType(src, []string{util.MimeImage, util.MimeVideo, util.MimeAudio})
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if util.IsVideo(mimeType) && !slicesContains(util.AllowedVideoExtensions, ext) {
		util.BadRequest(ctx, "unsupported video extension: "+ext)
		return
	}

	// 先落临时文件，视频需要本地路径做探测
	tmpPath := filepath.Join(os.TempDir(), uuid.NewString()+ext)
	if err := ctx.SaveUploadedFile(fileHeader, tmpPath); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	defer os.Remove(tmpPath)

	key := fmt.Sprintf("reveals/%d/%s%s", claims.UserID, time.Now().Format("20060102")+"-"+uuid.NewString(), ext)

	assetType := model.AssetImage
	durationSeconds := 0
	coverKey := ""
	switch {
	case util.IsVideo(mimeType):
		assetType = model.AssetVideo
		if info, err := util.GetVideoInfo(tmpPath); err == nil {
			durationSeconds = int(info.Duration + 0.5)
		}
		// 刮刮卡模式用首帧当遮罩底图，抓不到也不拦上传
		coverPath := tmpPath + ".cover.jpg"
		if err := util.GenerateCoverFrame(tmpPath, coverPath, "00:00:01"); err == nil {
			defer os.Remove(coverPath)
			ck := key + ".cover.jpg"
			if _, err := c.Storage.UploadFile(ctx.Request.Context(), ck, coverPath, "image/jpeg"); err == nil {
				coverKey = ck
			}
		}
	case strings.HasPrefix(mimeType, util.MimeAudio):
		assetType = model.AssetAudio
		if info, err := util.GetVideoInfo(tmpPath); err == nil {
			durationSeconds = int(info.Duration + 0.5)
		}
	case util.IsImage(mimeType):
		assetType = model.AssetImage
	}

	url, err := c.Storage.UploadFile(ctx.Request.Context(), key, tmpPath, mimeType)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	resp := gin.H{
		"assetKey":        key,
		"assetType":       assetType,
		"url":             url,
		"durationSeconds": durationSeconds,
	}
	if coverKey != "" {
		resp["coverKey"] = coverKey
	}
	util.Created(ctx, resp)
}

func slicesContains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
