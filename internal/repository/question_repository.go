package repository

import (
	"adaptive_quiz_backend/internal/model"

	"gorm.io/gorm"
)

type QuestionRepository struct {
	DB *gorm.DB
}

func NewQuestionRepository(db *gorm.DB) *QuestionRepository {
	return &QuestionRepository{DB: db}
}

func (r *QuestionRepository) FindByID(id uint) (*model.Question, error) {
	var q model.Question
	if err := r.DB.First(&q, id).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *QuestionRepository) FindByIDs(ids []uint) ([]model.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var questions []model.Question
	err := r.DB.Where("id IN ?", ids).Find(&questions).Error
	return questions, err
}

// Candidates returns active questions of the given type linked to any
// of the lectures, excluding the already-allocated set.
func (r *QuestionRepository) Candidates(tx *gorm.DB, lectureIDs []uint, questionType string, excludeIDs []uint) ([]model.Question, error) {
	if len(lectureIDs) == 0 {
		return nil, nil
	}
	query := tx.Model(&model.Question{}).
		Joins("JOIN lecture_questions lq ON lq.question_id = questions.id").
		Where("lq.lecture_id IN ?", lectureIDs).
		Where("questions.active = ?", true)
	if questionType != "" {
		query = query.Where("questions.type = ?", questionType)
	}
	if len(excludeIDs) > 0 {
		query = query.Where("questions.id NOT IN ?", excludeIDs)
	}
	var questions []model.Question
	err := query.Distinct("questions.*").Find(&questions).Error
	return questions, err
}

// IncrementCounters bumps the running answered/correct counters in
// place; only the answer queue processor writes these.
func (r *QuestionRepository) IncrementCounters(tx *gorm.DB, questionID uint, correct bool) error {
	updates := map[string]interface{}{
		"times_answered": gorm.Expr("times_answered + 1"),
	}
	if correct {
		updates["times_correct"] = gorm.Expr("times_correct + 1")
	}
	return tx.Model(&model.Question{}).Where("id = ?", questionID).Updates(updates).Error
}
