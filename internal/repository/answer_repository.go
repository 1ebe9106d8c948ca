package repository

import (
	"adaptive_quiz_backend/internal/model"

	"gorm.io/gorm"
)

type AnswerRepository struct {
	DB *gorm.DB
}

func NewAnswerRepository(db *gorm.DB) *AnswerRepository {
	return &AnswerRepository{DB: db}
}

func (r *AnswerRepository) Create(tx *gorm.DB, answer *model.Answer) error {
	return tx.Create(answer).Error
}

// SummaryForUpdate loads (or creates) the one summary row for a
// (student, lecture) pair under a row lock; concurrent answer batches
// serialize here so counters never double-count.
func (r *AnswerRepository) SummaryForUpdate(tx *gorm.DB, studentID, lectureID uint) (*model.AnswerSummary, error) {
	var s model.AnswerSummary
	err := lockForUpdate(tx).
		Where("student_id = ? AND lecture_id = ?", studentID, lectureID).
		First(&s).Error
	if err == gorm.ErrRecordNotFound {
		s = model.AnswerSummary{StudentID: studentID, LectureID: lectureID}
		if err := tx.Create(&s).Error; err != nil {
			return nil, err
		}
		return &s, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *AnswerRepository) SaveSummary(tx *gorm.DB, summary *model.AnswerSummary) error {
	return tx.Save(summary).Error
}

func (r *AnswerRepository) Summary(studentID, lectureID uint) (*model.AnswerSummary, error) {
	var s model.AnswerSummary
	err := r.DB.Where("student_id = ? AND lecture_id = ?", studentID, lectureID).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SummariesForLectures returns the student's summaries across a set
// of lectures; the tutorial-aced check counts aced rows against the
// sibling lecture count.
func (r *AnswerRepository) SummariesForLectures(tx *gorm.DB, studentID uint, lectureIDs []uint) ([]model.AnswerSummary, error) {
	if len(lectureIDs) == 0 {
		return nil, nil
	}
	var summaries []model.AnswerSummary
	err := tx.Where("student_id = ? AND lecture_id IN ?", studentID, lectureIDs).
		Find(&summaries).Error
	return summaries, err
}

// History returns the non-practice answers most-recent-first.
func (r *AnswerRepository) History(studentID, lectureID uint) ([]model.Answer, error) {
	var answers []model.Answer
	err := r.DB.Where("student_id = ? AND lecture_id = ? AND practice = ?",
		studentID, lectureID, false).
		Order("id DESC").
		Find(&answers).Error
	return answers, err
}

func (r *AnswerRepository) ExistsForAllocation(tx *gorm.DB, allocationID uint) (bool, error) {
	var count int64
	err := tx.Model(&model.Answer{}).Where("allocation_id = ?", allocationID).Count(&count).Error
	return count > 0, err
}
