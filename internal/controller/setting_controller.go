package controller

import (
	"strconv"

	"adaptive_quiz_backend/internal/service"
	"adaptive_quiz_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type SettingController struct {
	SettingsService *service.SettingsService
}

func NewSettingController(settingsService *service.SettingsService) *SettingController {
	return &SettingController{SettingsService: settingsService}
}

type publishSettingsRequest struct {
	Edits []service.SettingEdit `json:"edits" binding:"required"`
}

// @Summary 发布讲座配置
// @Description 追加一代全局配置并递增讲座版本号，历史版本不可变
// @Tags 管理
// @Accept json
// @Produce json
// @Param id path int true "讲座ID"
// @Param edits body publishSettingsRequest true "配置变更"
// @Success 201 {object} util.Response
// @Router /api/admin/lectures/{id}/settings [post]
func (c *SettingController) PublishSettings(ctx *gin.Context) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil || id <= 0 {
		util.BadRequest(ctx, "invalid lecture id")
		return
	}

	var req publishSettingsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	version, err := c.SettingsService.PublishSettings(uint(id), req.Edits)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, gin.H{"version": version})
}

// @Summary 当前讲座配置
// @Tags 管理
// @Produce json
// @Param id path int true "讲座ID"
// @Success 200 {object} util.Response
// @Router /api/admin/lectures/{id}/settings [get]
func (c *SettingController) GetSettings(ctx *gin.Context) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil || id <= 0 {
		util.BadRequest(ctx, "invalid lecture id")
		return
	}

	settings, err := c.SettingsService.CurrentSettings(uint(id))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, settings)
}
