package repository

import (
	"adaptive_quiz_backend/internal/model"

	"gorm.io/gorm"
)

type AllocationRepository struct {
	DB *gorm.DB
}

func NewAllocationRepository(db *gorm.DB) *AllocationRepository {
	return &AllocationRepository{DB: db}
}

// ActiveForUpdate loads the active allocations of one category for a
// (student, lecture) pair under a row lock, so two concurrent syncs
// cannot both fill the same slots past the cap.
func (r *AllocationRepository) ActiveForUpdate(tx *gorm.DB, studentID, lectureID uint, allocType string) ([]model.Allocation, error) {
	var allocs []model.Allocation
	err := lockForUpdate(tx).
		Where("student_id = ? AND lecture_id = ? AND alloc_type = ? AND active = ?",
			studentID, lectureID, allocType, true).
		Find(&allocs).Error
	return allocs, err
}

func (r *AllocationRepository) ActiveQuestionIDs(tx *gorm.DB, studentID, lectureID uint) ([]uint, error) {
	var ids []uint
	err := tx.Model(&model.Allocation{}).
		Where("student_id = ? AND lecture_id = ? AND active = ?", studentID, lectureID, true).
		Pluck("question_id", &ids).Error
	return ids, err
}

// FindByPublicID resolves an answer entry's allocation reference for
// the owning student, locked for update. Active and historical
// allocations both qualify; a foreign or stale public id yields
// ErrRecordNotFound.
func (r *AllocationRepository) FindByPublicID(tx *gorm.DB, studentID uint, publicID string) (*model.Allocation, error) {
	var a model.Allocation
	err := lockForUpdate(tx).
		Where("student_id = ? AND public_id = ?", studentID, publicID).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AllocationRepository) Create(tx *gorm.DB, alloc *model.Allocation) error {
	return tx.Create(alloc).Error
}

// Deactivate evicts allocations; rows are never hard-deleted.
func (r *AllocationRepository) Deactivate(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.Model(&model.Allocation{}).Where("id IN ?", ids).
		Update("active", false).Error
}

func (r *AllocationRepository) CountActive(studentID, lectureID uint, allocType string) (int64, error) {
	var count int64
	err := r.DB.Model(&model.Allocation{}).
		Where("student_id = ? AND lecture_id = ? AND alloc_type = ? AND active = ?",
			studentID, lectureID, allocType, true).
		Count(&count).Error
	return count, err
}
