package model

// Tutorial groups lectures; the tutorial-aced award needs the sibling
// lecture count, nothing more.
// swagger:model Tutorial
type Tutorial struct {
	BaseModel

	Title string `gorm:"size:255;not null" json:"title"`
}

func (Tutorial) TableName() string {
	return "tutorials"
}

// Lecture 课程单元，版本号在全局设置变更时单调递增
// Position orders lectures inside a tutorial; questions of lectures
// with a lower position count as "historical" for spaced review.
// swagger:model Lecture
type Lecture struct {
	BaseModel

	TutorialID uint   `gorm:"index;type:bigint unsigned" json:"tutorialId"`
	Title      string `gorm:"size:255;not null" json:"title"`
	Position   int    `gorm:"default:0" json:"position"`
	Version    int    `gorm:"default:1" json:"version"`
}

func (Lecture) TableName() string {
	return "lectures"
}

// LectureQuestion links questions to lectures (many-to-many, a
// question may be aliased into several lectures).
type LectureQuestion struct {
	BaseModel

	LectureID  uint `gorm:"index:idx_lecture_question,unique;type:bigint unsigned" json:"lectureId"`
	QuestionID uint `gorm:"index:idx_lecture_question,unique;type:bigint unsigned" json:"questionId"`
}

func (LectureQuestion) TableName() string {
	return "lecture_questions"
}
