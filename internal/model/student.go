package model

import "time"

// Student 学生身份，首次请求时惰性创建
// Identity (host, username) is immutable once created; email is the
// only field the engine ever updates afterwards.
// swagger:model Student
type Student struct {
	BaseModel

	Host     string `gorm:"size:255;not null;uniqueIndex:idx_student_identity,priority:1" json:"host"`
	Username string `gorm:"size:255;not null;uniqueIndex:idx_student_identity,priority:2" json:"username"`
	Email    string `gorm:"size:255" json:"email"`
	Wallet   string `gorm:"size:255" json:"wallet"`

	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

func (Student) TableName() string {
	return "students"
}
