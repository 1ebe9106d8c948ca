package controller

import (
	"strconv"

	"adaptive_quiz_backend/internal/middleware"
	"adaptive_quiz_backend/internal/service"
	"adaptive_quiz_backend/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type SyncController struct {
	SyncService     *service.SyncService
	AnswerService   *service.AnswerService
	AllocService    *service.AllocationService
	SettingsService *service.SettingsService
}

func NewSyncController(syncService *service.SyncService, answerService *service.AnswerService, allocService *service.AllocationService, settingsService *service.SettingsService) *SyncController {
	return &SyncController{
		SyncService:     syncService,
		AnswerService:   answerService,
		AllocService:    allocService,
		SettingsService: settingsService,
	}
}

type syncRequest struct {
	Entries []service.AnswerQueueEntry `json:"entries"`
}

func lectureIDParam(ctx *gin.Context) (uint, bool) {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil || id <= 0 {
		util.BadRequest(ctx, "invalid lecture id")
		return 0, false
	}
	return uint(id), true
}

// @Summary 同步作答队列
// @Description 提交离线作答队列并返回最新配置、题池与作答历史
// @Tags 同步
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "讲座ID"
// @Param queue body syncRequest true "作答队列"
// @Success 200 {object} util.Response
// @Router /api/lectures/{id}/sync [post]
func (c *SyncController) Sync(ctx *gin.Context) {
	student := middleware.GetStudent(ctx)
	if student == nil {
		util.Unauthorized(ctx)
		return
	}
	lectureID, ok := lectureIDParam(ctx)
	if !ok {
		return
	}

	var req syncRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	resp, err := c.SyncService.Sync(ctx.Request.Context(), student, lectureID, req.Entries)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, resp)
}

// @Summary 当前题池
// @Tags 同步
// @Produce json
// @Security BearerAuth
// @Param id path int true "讲座ID"
// @Success 200 {object} util.Response
// @Router /api/lectures/{id}/questions [get]
func (c *SyncController) GetQuestions(ctx *gin.Context) {
	student := middleware.GetStudent(ctx)
	if student == nil {
		util.Unauthorized(ctx)
		return
	}
	lectureID, ok := lectureIDParam(ctx)
	if !ok {
		return
	}

	lecture, err := c.SyncService.LectureRepo.FindByID(lectureID)
	if err == gorm.ErrRecordNotFound {
		util.NotFound(ctx)
		return
	}
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	var settings service.Settings
	if err := c.SyncService.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		settings, err = c.SettingsService.Resolve(tx, lecture, student)
		return err
	}); err != nil {
		util.HandleError(ctx, err)
		return
	}

	pool, err := c.AllocService.GetQuestions(student, lecture, settings)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{
		"lectureId": lecture.ID,
		"settings":  settings,
		"pool":      pool,
	})
}

// @Summary 作答历史
// @Tags 同步
// @Produce json
// @Security BearerAuth
// @Param id path int true "讲座ID"
// @Success 200 {object} util.Response
// @Router /api/lectures/{id}/answers [get]
func (c *SyncController) GetAnswers(ctx *gin.Context) {
	student := middleware.GetStudent(ctx)
	if student == nil {
		util.Unauthorized(ctx)
		return
	}
	lectureID, ok := lectureIDParam(ctx)
	if !ok {
		return
	}

	lecture, err := c.SyncService.LectureRepo.FindByID(lectureID)
	if err == gorm.ErrRecordNotFound {
		util.NotFound(ctx)
		return
	}
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	history, err := c.AnswerService.GetAnswerHistory(student, lecture)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, history)
}
