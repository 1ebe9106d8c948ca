package repository

import (
	"adaptive_quiz_backend/internal/model"

	"gorm.io/gorm"
)

type SettingRepository struct {
	DB *gorm.DB
}

func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{DB: db}
}

// GlobalForVersion loads the global settings defined at one lecture
// version. Variant rows sort after the unconditional default for the
// same key, so callers can process most-specific-last and overwrite.
func (r *SettingRepository) GlobalForVersion(tx *gorm.DB, lectureID uint, version int) ([]model.LectureSetting, error) {
	var settings []model.LectureSetting
	err := tx.Where("lecture_id = ? AND version = ?", lectureID, version).
		Order("`key` ASC, variant ASC").
		Find(&settings).Error
	return settings, err
}

func (r *SettingRepository) CreateGlobal(tx *gorm.DB, setting *model.LectureSetting) error {
	return tx.Create(setting).Error
}

// StudentValues returns the cached per-student choices at one lecture
// version, keyed by setting name.
func (r *SettingRepository) StudentValues(tx *gorm.DB, studentID, lectureID uint, version int) (map[string]string, error) {
	var rows []model.StudentSetting
	err := tx.Where("student_id = ? AND lecture_id = ? AND version = ?",
		studentID, lectureID, version).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
	}
	return values, nil
}

// PriorValues returns the student's choices for a key at versions
// before the given one, newest first, for the carry-forward check.
func (r *SettingRepository) PriorValues(tx *gorm.DB, studentID, lectureID uint, version int, key string) ([]model.StudentSetting, error) {
	var rows []model.StudentSetting
	err := tx.Where("student_id = ? AND lecture_id = ? AND version < ? AND `key` = ?",
		studentID, lectureID, version, key).
		Order("version DESC").
		Find(&rows).Error
	return rows, err
}

func (r *SettingRepository) CreateStudentValue(tx *gorm.DB, row *model.StudentSetting) error {
	return tx.Create(row).Error
}
