package model

import "time"

const (
	QuestionTypeRegular  = "regular"
	QuestionTypeTemplate = "template"
)

// Question 题目元数据；题面内容由外部内容服务持有
// ContentRef is the reference the content collaborator resolves;
// the engine never stores question text itself.
// swagger:model Question
type Question struct {
	BaseModel

	ContentRef    string    `gorm:"size:255;not null;index" json:"contentRef"`
	Type          string    `gorm:"size:20;default:'regular'" json:"type"`
	TimesAnswered int64     `gorm:"default:0" json:"timesAnswered"`
	TimesCorrect  int64     `gorm:"default:0" json:"timesCorrect"`
	Active        bool      `gorm:"default:true" json:"active"`
	LastUpdate    time.Time `json:"lastUpdate"`
}

func (Question) TableName() string {
	return "questions"
}

// ObservedAccuracy returns the running correct ratio, or -1 while the
// question has never been answered.
func (q *Question) ObservedAccuracy() float64 {
	if q.TimesAnswered == 0 {
		return -1
	}
	return float64(q.TimesCorrect) / float64(q.TimesAnswered)
}
