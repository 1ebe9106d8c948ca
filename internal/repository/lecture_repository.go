package repository

import (
	"adaptive_quiz_backend/internal/model"

	"gorm.io/gorm"
)

type LectureRepository struct {
	DB *gorm.DB
}

func NewLectureRepository(db *gorm.DB) *LectureRepository {
	return &LectureRepository{DB: db}
}

func (r *LectureRepository) FindByID(id uint) (*model.Lecture, error) {
	var l model.Lecture
	if err := r.DB.First(&l, id).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// SiblingIDs returns all lecture ids in the same tutorial, the
// lecture itself included.
func (r *LectureRepository) SiblingIDs(lecture *model.Lecture) ([]uint, error) {
	var ids []uint
	err := r.DB.Model(&model.Lecture{}).
		Where("tutorial_id = ?", lecture.TutorialID).
		Pluck("id", &ids).Error
	return ids, err
}

// EarlierLectureIDs returns lectures positioned before the given one
// inside its tutorial; their questions form the historical pool.
func (r *LectureRepository) EarlierLectureIDs(lecture *model.Lecture) ([]uint, error) {
	var ids []uint
	err := r.DB.Model(&model.Lecture{}).
		Where("tutorial_id = ? AND position < ?", lecture.TutorialID, lecture.Position).
		Pluck("id", &ids).Error
	return ids, err
}

// BumpVersion increments the lecture version counter. Global setting
// edits call this so per-student choices are re-drawn (or carried
// forward) under the new version.
func (r *LectureRepository) BumpVersion(tx *gorm.DB, lectureID uint) error {
	return tx.Model(&model.Lecture{}).Where("id = ?", lectureID).
		UpdateColumn("version", gorm.Expr("version + 1")).Error
}
