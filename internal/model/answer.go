package model

import "time"

// Answer 单次作答的不可变记录，插入后永不更新
// ChosenAnswer holds the option index for regular questions, the
// created review's id for template reviews, and is empty when a
// student skipped authoring.
// swagger:model Answer
type Answer struct {
	BaseModel

	StudentID    uint `gorm:"index:idx_answer_student_lecture;type:bigint unsigned" json:"studentId"`
	LectureID    uint `gorm:"index:idx_answer_student_lecture;type:bigint unsigned" json:"lectureId"`
	QuestionID   uint `gorm:"index;type:bigint unsigned" json:"questionId"`
	AllocationID uint `gorm:"index;type:bigint unsigned" json:"allocationId"`

	ChosenAnswer string  `gorm:"size:255" json:"chosenAnswer"`
	Correct      bool    `json:"correct"`
	GradeAfter   float64 `gorm:"type:decimal(6,3)" json:"gradeAfter"`
	Practice     bool    `gorm:"default:false" json:"practice"`
	CoinsAwarded int64   `gorm:"default:0" json:"coinsAwarded"`

	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
}

func (Answer) TableName() string {
	return "answers"
}

// AnswerSummary 每个 (student, lecture) 一行的滚动统计
// GradeHighWaterMark is monotonically non-decreasing and gates the
// one-shot milestone rewards.
// swagger:model AnswerSummary
type AnswerSummary struct {
	BaseModel

	StudentID uint `gorm:"index:idx_summary_student_lecture,unique;type:bigint unsigned" json:"studentId"`
	LectureID uint `gorm:"index:idx_summary_student_lecture,unique;type:bigint unsigned" json:"lectureId"`

	LecAnswered      int `gorm:"default:0" json:"lecAnswered"`
	LecCorrect       int `gorm:"default:0" json:"lecCorrect"`
	PracticeAnswered int `gorm:"default:0" json:"practiceAnswered"`
	PracticeCorrect  int `gorm:"default:0" json:"practiceCorrect"`

	Grade              float64 `gorm:"type:decimal(6,3);default:0" json:"grade"`
	GradeHighWaterMark float64 `gorm:"type:decimal(6,3);default:0" json:"gradeHighWaterMark"`

	// Pool-manager coordination, written by the answer queue
	// processor and consumed (and cleared) by the pool manager.
	ReallocRequested      bool     `gorm:"default:false" json:"reallocRequested"`
	TargetDifficulty      *float64 `json:"targetDifficulty,omitempty"`
	CompletedSinceRealloc int      `gorm:"default:0" json:"completedSinceRealloc"`
}

func (AnswerSummary) TableName() string {
	return "answer_summaries"
}
