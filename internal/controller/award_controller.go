package controller

import (
	"adaptive_quiz_backend/internal/middleware"
	"adaptive_quiz_backend/internal/repository"
	"adaptive_quiz_backend/internal/service"
	"adaptive_quiz_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AwardController struct {
	RewardService *service.RewardService
	StudentRepo   *repository.StudentRepository
}

func NewAwardController(rewardService *service.RewardService, studentRepo *repository.StudentRepository) *AwardController {
	return &AwardController{RewardService: rewardService, StudentRepo: studentRepo}
}

// @Summary 奖励历史
// @Description 已结算的代币奖励记录
// @Tags 奖励
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/awards [get]
func (c *AwardController) GetAwards(ctx *gin.Context) {
	student := middleware.GetStudent(ctx)
	if student == nil {
		util.Unauthorized(ctx)
		return
	}

	awards, err := c.RewardService.History(student)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	var total int64
	for _, a := range awards {
		total += a.Amount
	}
	util.Success(ctx, gin.H{
		"awards": awards,
		"total":  total,
	})
}

// @Summary 领取未结算奖励
// @Description 将已赚取但尚未转账的代币结算到钱包
// @Tags 奖励
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response
// @Router /api/awards/claim [post]
func (c *AwardController) ClaimAwards(ctx *gin.Context) {
	student := middleware.GetStudent(ctx)
	if student == nil {
		util.Unauthorized(ctx)
		return
	}
	if student.Wallet == "" {
		util.BadRequest(ctx, "no wallet configured")
		return
	}

	paid, err := c.RewardService.ClaimOutstanding(ctx.Request.Context(), student)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"paid": paid})
}

type walletRequest struct {
	Wallet string `json:"wallet" binding:"required"`
}

// @Summary 设置钱包地址
// @Tags 奖励
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param wallet body walletRequest true "钱包地址"
// @Success 200 {object} util.Response
// @Router /api/wallet [put]
func (c *AwardController) UpdateWallet(ctx *gin.Context) {
	student := middleware.GetStudent(ctx)
	if student == nil {
		util.Unauthorized(ctx)
		return
	}

	var req walletRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if err := c.StudentRepo.UpdateWallet(student.ID, req.Wallet); err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"wallet": req.Wallet})
}
