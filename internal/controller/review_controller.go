package controller

import (
	"adaptive_quiz_backend/internal/middleware"
	"adaptive_quiz_backend/internal/model"
	"adaptive_quiz_backend/internal/repository"
	"adaptive_quiz_backend/internal/service"
	"adaptive_quiz_backend/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ReviewController struct {
	Lifecycle       *service.LifecycleService
	SettingsService *service.SettingsService
	AllocRepo       *repository.AllocationRepository
	QuestionRepo    *repository.QuestionRepository
	LectureRepo     *repository.LectureRepository
	UGRepo          *repository.UserGeneratedRepository
	DB              *gorm.DB
}

func NewReviewController(lifecycle *service.LifecycleService, settingsService *service.SettingsService, allocRepo *repository.AllocationRepository, questionRepo *repository.QuestionRepository, lectureRepo *repository.LectureRepository, ugRepo *repository.UserGeneratedRepository, db *gorm.DB) *ReviewController {
	return &ReviewController{
		Lifecycle:       lifecycle,
		SettingsService: settingsService,
		AllocRepo:       allocRepo,
		QuestionRepo:    questionRepo,
		LectureRepo:     lectureRepo,
		UGRepo:          ugRepo,
		DB:              db,
	}
}

// reviewOptionView hides the correct flags from the reviewer; they
// answer the question cold before rating it.
type reviewOptionView struct {
	Position int    `json:"position"`
	Text     string `json:"text"`
}

type reviewQuestionView struct {
	PublicID string             `json:"publicId"`
	Body     string             `json:"body"`
	Options  []reviewOptionView `json:"options"`
}

// @Summary 领取模板题任务
// @Description 为模板题位返回待评审的学生题目；无可评审题目时进入创作模式
// @Tags 众包题目
// @Produce json
// @Security BearerAuth
// @Param publicId path string true "题位公开ID"
// @Success 200 {object} util.Response
// @Router /api/quiz/{publicId}/review [get]
func (c *ReviewController) PickAssignment(ctx *gin.Context) {
	student := middleware.GetStudent(ctx)
	if student == nil {
		util.Unauthorized(ctx)
		return
	}

	alloc, err := c.AllocRepo.FindByPublicID(c.DB, student.ID, ctx.Param("publicId"))
	if err == gorm.ErrRecordNotFound {
		util.HandleError(ctx, util.ErrAllocationNotFound)
		return
	}
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	if alloc.AllocType != model.AllocTypeTemplate {
		util.BadRequest(ctx, "not a template slot")
		return
	}

	template, err := c.QuestionRepo.FindByID(alloc.QuestionID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	lecture, err := c.LectureRepo.FindByID(alloc.LectureID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	var settings service.Settings
	if err := c.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		settings, err = c.SettingsService.Resolve(tx, lecture, student)
		return err
	}); err != nil {
		util.HandleError(ctx, err)
		return
	}

	picked, err := c.Lifecycle.PickForReview(student, template, settings)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	if picked == nil {
		util.Success(ctx, gin.H{"mode": "author"})
		return
	}

	view := reviewQuestionView{
		PublicID: picked.PublicID,
		Body:     picked.Body,
	}
	for _, opt := range picked.Options {
		view.Options = append(view.Options, reviewOptionView{
			Position: opt.Position,
			Text:     opt.Text,
		})
	}
	util.Success(ctx, gin.H{"mode": "review", "question": view})
}

// @Summary 众包题目状态
// @Tags 众包题目
// @Produce json
// @Security BearerAuth
// @Param publicId path string true "题目公开ID"
// @Success 200 {object} util.Response
// @Router /api/crowd-questions/{publicId} [get]
func (c *ReviewController) GetQuestion(ctx *gin.Context) {
	student := middleware.GetStudent(ctx)
	if student == nil {
		util.Unauthorized(ctx)
		return
	}

	ugQuestion, err := c.UGRepo.FindByPublicID(ctx.Param("publicId"))
	if err == gorm.ErrRecordNotFound {
		util.NotFound(ctx)
		return
	}
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	settings, err := c.settingsForQuestion(student, ugQuestion)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	state, err := c.Lifecycle.State(ugQuestion, settings)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	resp := gin.H{
		"publicId": ugQuestion.PublicID,
		"state":    state,
		"rewarded": ugQuestion.Rewarded,
	}
	if ugQuestion.AuthorID == student.ID {
		resp["body"] = ugQuestion.Body
		resp["explanation"] = ugQuestion.Explanation
		resp["options"] = ugQuestion.Options
	}
	util.Success(ctx, resp)
}

// settingsForQuestion resolves review-cap settings via any lecture
// carrying the template question. The caps are global in practice;
// the first linked lecture wins.
func (c *ReviewController) settingsForQuestion(student *model.Student, ugQuestion *model.UserGeneratedQuestion) (service.Settings, error) {
	var link model.LectureQuestion
	if err := c.DB.Where("question_id = ?", ugQuestion.QuestionID).First(&link).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return service.Settings{}, nil
		}
		return nil, err
	}
	lecture, err := c.LectureRepo.FindByID(link.LectureID)
	if err != nil {
		return nil, err
	}
	var settings service.Settings
	err = c.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		settings, err = c.SettingsService.Resolve(tx, lecture, student)
		return err
	})
	if err != nil {
		return nil, err
	}
	return settings, nil
}
