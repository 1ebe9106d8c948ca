package model

import "time"

const (
	AllocTypeRegular    = "regular"
	AllocTypeTemplate   = "template"
	AllocTypeHistorical = "historical"
)

// Allocation 学生当前领取的题目（student, lecture, question 三元组）
// At most one *active* allocation may exist per tuple. Evicted or
// retired allocations are deactivated, never hard-deleted, so the
// answer history stays resolvable.
// swagger:model Allocation
type Allocation struct {
	BaseModel

	// PublicID is the opaque identifier embedded in client URIs so the
	// internal integer id never leaks.
	PublicID string `gorm:"size:64;not null;uniqueIndex" json:"publicId"`

	StudentID  uint `gorm:"index:idx_alloc_student_lecture;type:bigint unsigned" json:"studentId"`
	LectureID  uint `gorm:"index:idx_alloc_student_lecture;type:bigint unsigned" json:"lectureId"`
	QuestionID uint `gorm:"index;type:bigint unsigned" json:"questionId"`

	AllocType   string    `gorm:"size:20;default:'regular'" json:"allocType"`
	Active      bool      `gorm:"default:true;index" json:"active"`
	AllocatedAt time.Time `json:"allocatedAt"`
}

func (Allocation) TableName() string {
	return "allocations"
}
