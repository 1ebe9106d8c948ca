package repository

import (
	"adaptive_quiz_backend/internal/model"

	"gorm.io/gorm"
)

type UserGeneratedRepository struct {
	DB *gorm.DB
}

func NewUserGeneratedRepository(db *gorm.DB) *UserGeneratedRepository {
	return &UserGeneratedRepository{DB: db}
}

func (r *UserGeneratedRepository) FindByID(id uint) (*model.UserGeneratedQuestion, error) {
	var q model.UserGeneratedQuestion
	if err := r.DB.Preload("Options").First(&q, id).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *UserGeneratedRepository) FindByPublicID(publicID string) (*model.UserGeneratedQuestion, error) {
	var q model.UserGeneratedQuestion
	if err := r.DB.Preload("Options").Where("public_id = ?", publicID).First(&q).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// ForTemplate returns all non-superseded crowd questions generated
// from a template question.
func (r *UserGeneratedRepository) ForTemplate(questionID uint) ([]model.UserGeneratedQuestion, error) {
	var questions []model.UserGeneratedQuestion
	err := r.DB.Where("question_id = ? AND superseded_by IS NULL", questionID).
		Find(&questions).Error
	return questions, err
}

func (r *UserGeneratedRepository) Create(tx *gorm.DB, q *model.UserGeneratedQuestion) error {
	return tx.Create(q).Error
}

func (r *UserGeneratedRepository) MarkSuperseded(tx *gorm.DB, oldID, newID uint) error {
	return tx.Model(&model.UserGeneratedQuestion{}).Where("id = ?", oldID).
		Update("superseded_by", newID).Error
}

func (r *UserGeneratedRepository) MarkRewarded(tx *gorm.DB, id uint, amount int64) error {
	return tx.Model(&model.UserGeneratedQuestion{}).Where("id = ?", id).
		Updates(map[string]interface{}{"rewarded": true, "coins_awarded": amount}).Error
}

// TotalAuthoringCoins sums the milestone amounts accrued on a
// student's accepted questions.
func (r *UserGeneratedRepository) TotalAuthoringCoins(tx *gorm.DB, authorID uint) (int64, error) {
	var total int64
	err := tx.Model(&model.UserGeneratedQuestion{}).
		Where("author_id = ?", authorID).
		Select("COALESCE(SUM(coins_awarded), 0)").
		Scan(&total).Error
	return total, err
}

func (r *UserGeneratedRepository) CreateReview(tx *gorm.DB, review *model.UserGeneratedAnswer) error {
	return tx.Create(review).Error
}

func (r *UserGeneratedRepository) Reviews(tx *gorm.DB, ugQuestionID uint) ([]model.UserGeneratedAnswer, error) {
	var reviews []model.UserGeneratedAnswer
	err := tx.Where("ug_question_id = ?", ugQuestionID).Find(&reviews).Error
	return reviews, err
}

// ReviewedQuestionIDs lists the crowd questions this student already
// rated, for the no-repeat-review exclusion.
func (r *UserGeneratedRepository) ReviewedQuestionIDs(reviewerID uint) ([]uint, error) {
	var ids []uint
	err := r.DB.Model(&model.UserGeneratedAnswer{}).
		Where("reviewer_id = ?", reviewerID).
		Pluck("ug_question_id", &ids).Error
	return ids, err
}

// CountRewardedByAuthor counts how many accepted questions from this
// author under this template already paid the authorship milestone.
func (r *UserGeneratedRepository) CountRewardedByAuthor(tx *gorm.DB, authorID, questionID uint) (int64, error) {
	var count int64
	err := tx.Model(&model.UserGeneratedQuestion{}).
		Where("author_id = ? AND question_id = ? AND rewarded = ?", authorID, questionID, true).
		Count(&count).Error
	return count, err
}
