package repository

import (
	"time"

	"adaptive_quiz_backend/internal/model"

	"gorm.io/gorm"
)

type StudentRepository struct {
	DB *gorm.DB
}

func NewStudentRepository(db *gorm.DB) *StudentRepository {
	return &StudentRepository{DB: db}
}

func (r *StudentRepository) FindByID(id uint) (*model.Student, error) {
	var s model.Student
	if err := r.DB.First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// FindOrCreate resolves the (host, username) identity, creating the
// student on first contact. Email is refreshed on every resolution
// since it is the only mutable identity field.
func (r *StudentRepository) FindOrCreate(host, username, email string) (*model.Student, error) {
	var s model.Student
	err := r.DB.Where("host = ? AND username = ?", host, username).First(&s).Error
	if err == gorm.ErrRecordNotFound {
		s = model.Student{Host: host, Username: username, Email: email}
		if err := r.DB.Create(&s).Error; err != nil {
			return nil, err
		}
		return &s, nil
	}
	if err != nil {
		return nil, err
	}
	if email != "" && s.Email != email {
		s.Email = email
		if err := r.DB.Model(&s).Update("email", email).Error; err != nil {
			return nil, err
		}
	}
	return &s, nil
}

func (r *StudentRepository) UpdateWallet(studentID uint, wallet string) error {
	return r.DB.Model(&model.Student{}).Where("id = ?", studentID).Update("wallet", wallet).Error
}

func (r *StudentRepository) UpdateLastSeen(studentID uint) error {
	now := time.Now()
	return r.DB.Model(&model.Student{}).Where("id = ?", studentID).Update("last_seen_at", &now).Error
}
