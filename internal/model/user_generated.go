package model

// UserGeneratedQuestion 学生依据模板题创作的具体题目
// SupersededBy points at the revision replacing this one. It is a
// plain nullable reference without a database-level foreign key; the
// lifecycle service keeps it consistent (self-referential FKs are a
// deliberate relaxation here).
// swagger:model UserGeneratedQuestion
type UserGeneratedQuestion struct {
	BaseModel

	PublicID   string `gorm:"size:64;not null;uniqueIndex" json:"publicId"`
	QuestionID uint   `gorm:"index;type:bigint unsigned" json:"questionId"`
	AuthorID   uint   `gorm:"index;type:bigint unsigned" json:"authorId"`

	Body        string `gorm:"type:text" json:"body"`
	Explanation string `gorm:"type:text" json:"explanation"`

	SupersededBy *uint `gorm:"index" json:"supersededBy,omitempty"`

	// Rewarded marks that the author milestone already fired for this
	// question, so acceptance re-checks never double-award.
	// CoinsAwarded fixes the amount at acceptance time; like
	// Answer.CoinsAwarded it is the accrual record that a later claim
	// settles when the author had no wallet at acceptance.
	Rewarded     bool  `gorm:"default:false" json:"rewarded"`
	CoinsAwarded int64 `gorm:"default:0" json:"coinsAwarded"`

	Options []UserGeneratedOption `gorm:"foreignKey:UGQuestionID" json:"options"`
}

func (UserGeneratedQuestion) TableName() string {
	return "user_generated_questions"
}

// swagger:model UserGeneratedOption
type UserGeneratedOption struct {
	BaseModel

	UGQuestionID uint   `gorm:"index;type:bigint unsigned" json:"ugQuestionId"`
	Position     int    `gorm:"default:0" json:"position"`
	Text         string `gorm:"type:text" json:"text"`
	Correct      bool   `gorm:"default:false" json:"correct"`
}

func (UserGeneratedOption) TableName() string {
	return "user_generated_options"
}

// RatingNonsense 表示评审认为题目不知所云
const RatingNonsense = -1

// UserGeneratedAnswer 学生对他人创作题目的一次评审
// Rating is -1..100; -1 is the "nonsensical" vote.
// swagger:model UserGeneratedAnswer
type UserGeneratedAnswer struct {
	BaseModel

	UGQuestionID uint `gorm:"index:idx_ug_answer,unique;type:bigint unsigned" json:"ugQuestionId"`
	ReviewerID   uint `gorm:"index:idx_ug_answer,unique;type:bigint unsigned" json:"reviewerId"`

	ChosenOption *int   `json:"chosenOption,omitempty"`
	Rating       int    `gorm:"not null" json:"rating"`
	Comments     string `gorm:"type:text" json:"comments"`
}

func (UserGeneratedAnswer) TableName() string {
	return "user_generated_answers"
}
