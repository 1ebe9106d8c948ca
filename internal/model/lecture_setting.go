package model

// Variant names gate a global setting to an eligible subset of
// students; the empty variant is the unconditional default.
const (
	SettingVariantDefault    = ""
	SettingVariantRegistered = "registered"
)

// LectureSetting 某讲座版本下的全局配置项
// A row either carries a fixed Value, a uniform range [Min, Max), or
// a gamma draw (Shape as shape, Value as scale). Rows are versioned
// and never edited in place: bumping the lecture version appends a
// fresh generation, which keeps the settings history auditable.
// swagger:model LectureSetting
type LectureSetting struct {
	BaseModel

	LectureID uint   `gorm:"index:idx_global_setting,unique;type:bigint unsigned" json:"lectureId"`
	Version   int    `gorm:"index:idx_global_setting,unique" json:"version"`
	Key       string `gorm:"size:100;not null;index:idx_global_setting,unique" json:"key"`
	Variant   string `gorm:"size:50;default:'';index:idx_global_setting,unique" json:"variant"`

	Value string   `gorm:"size:255" json:"value"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Shape *float64 `json:"shape,omitempty"`

	// IsInt rounds any drawn value to the nearest integer.
	IsInt bool `gorm:"default:false" json:"isInt"`
}

func (LectureSetting) TableName() string {
	return "lecture_settings"
}

// HasRandomDraw reports whether resolving this setting samples a
// distribution rather than using the fixed value.
func (s *LectureSetting) HasRandomDraw() bool {
	return s.Shape != nil || s.Max != nil
}

// StudentSetting caches the value resolved for one student under one
// lecture version, so repeat fetches at the same version never
// re-draw.
// swagger:model StudentSetting
type StudentSetting struct {
	BaseModel

	StudentID uint   `gorm:"index:idx_student_setting,unique;type:bigint unsigned" json:"studentId"`
	LectureID uint   `gorm:"index:idx_student_setting,unique;type:bigint unsigned" json:"lectureId"`
	Version   int    `gorm:"index:idx_student_setting,unique" json:"version"`
	Key       string `gorm:"size:100;not null;index:idx_student_setting,unique" json:"key"`
	Value     string `gorm:"size:255;not null" json:"value"`
}

func (StudentSetting) TableName() string {
	return "student_settings"
}
