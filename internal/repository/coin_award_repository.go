package repository

import (
	"adaptive_quiz_backend/internal/model"

	"gorm.io/gorm"
)

type CoinAwardRepository struct {
	DB *gorm.DB
}

func NewCoinAwardRepository(db *gorm.DB) *CoinAwardRepository {
	return &CoinAwardRepository{DB: db}
}

func (r *CoinAwardRepository) Create(tx *gorm.DB, award *model.CoinAward) error {
	return tx.Create(award).Error
}

func (r *CoinAwardRepository) FindByStudent(studentID uint) ([]model.CoinAward, error) {
	var awards []model.CoinAward
	err := r.DB.Where("student_id = ?", studentID).Order("id DESC").Find(&awards).Error
	return awards, err
}

// TotalAwarded sums everything already paid out to the student.
// Re-checking claimed-vs-awarded totals is what makes payouts
// idempotent without retrying the rail.
func (r *CoinAwardRepository) TotalAwarded(tx *gorm.DB, studentID uint) (int64, error) {
	var total int64
	err := tx.Model(&model.CoinAward{}).
		Where("student_id = ?", studentID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}
