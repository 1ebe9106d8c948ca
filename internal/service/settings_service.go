package service

import (
	"math"
	"math/rand"
	"strconv"
	"sync"

	"adaptive_quiz_backend/internal/model"
	"adaptive_quiz_backend/internal/repository"
	"adaptive_quiz_backend/internal/util"
	"adaptive_quiz_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Settings is the effective configuration resolved for one
// (lecture, student) pair. Values are stored as strings; use the
// typed accessors.
type Settings map[string]string

func (s Settings) Float(key string, fallback float64) float64 {
	raw, ok := s[key]
	if !ok {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func (s Settings) Int(key string, fallback int) int {
	raw, ok := s[key]
	if !ok {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return int(math.Round(v))
}

func (s Settings) Int64(key string, fallback int64) int64 {
	raw, ok := s[key]
	if !ok {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return int64(math.Round(v))
}

// Setting keys referenced across the engine. Defaults live with the
// reader: callers pass their fallback to the typed accessors.
const (
	SettingLectureVersion       = "lecture_version"
	SettingQuestionCap          = "question_cap"
	SettingHistSel              = "hist_sel"
	SettingAwardLectureAnswered = "award_lecture_answered"
	SettingAwardLectureAced     = "award_lecture_aced"
	SettingAwardTutorialAced    = "award_tutorial_aced"
	SettingAwardTemplateQnAced  = "award_templateqn_aced"
	SettingUGQReviewCap         = "ugq_review_cap"
	SettingUGQNonsenseCap       = "ugq_nonsense_cap"
	SettingUGQSenseThreshold    = "ugq_sense_threshold"
	SettingCapTemplateQns       = "cap_template_qns"
)

const (
	gammaDrawAttempts = 10
	carryForwardEps   = 1e-6
)

// EligibilityFunc decides whether a student satisfies a variant's
// predicate (e.g. "registered").
type EligibilityFunc func(student *model.Student, variant string) bool

func defaultEligibility(student *model.Student, variant string) bool {
	switch variant {
	case model.SettingVariantDefault:
		return true
	case model.SettingVariantRegistered:
		return student.Email != ""
	default:
		return false
	}
}

// SettingsService resolves effective per-student configuration with
// stable randomized draws (§ settings history on the lecture model).
type SettingsService struct {
	SettingRepo *repository.SettingRepository
	LectureRepo *repository.LectureRepository
	DB          *gorm.DB

	Eligible EligibilityFunc

	// rng is injectable so draw behavior is deterministic in tests.
	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewSettingsService(settingRepo *repository.SettingRepository, lectureRepo *repository.LectureRepository, db *gorm.DB, rng *rand.Rand) *SettingsService {
	return &SettingsService{
		SettingRepo: settingRepo,
		LectureRepo: lectureRepo,
		DB:          db,
		Eligible:    defaultEligibility,
		rng:         rng,
	}
}

// Resolve computes the effective settings for the student at the
// lecture's current version. Freshly drawn values are persisted
// inside tx; the caller owns the commit.
func (s *SettingsService) Resolve(tx *gorm.DB, lecture *model.Lecture, student *model.Student) (Settings, error) {
	globals, err := s.SettingRepo.GlobalForVersion(tx, lecture.ID, lecture.Version)
	if err != nil {
		return nil, err
	}

	cached, err := s.SettingRepo.StudentValues(tx, student.ID, lecture.ID, lecture.Version)
	if err != nil {
		return nil, err
	}

	// Variants override the unconditional default for the same key.
	// Rows arrive default-first, so an eligible variant simply
	// replaces the earlier pick.
	applicable := make(map[string]model.LectureSetting)
	var keys []string
	for _, g := range globals {
		if !s.Eligible(student, g.Variant) {
			continue
		}
		if _, seen := applicable[g.Key]; !seen {
			keys = append(keys, g.Key)
		}
		applicable[g.Key] = g
	}

	resolved := Settings{
		SettingLectureVersion: strconv.Itoa(lecture.Version),
	}

	for _, key := range keys {
		setting := applicable[key]

		if value, ok := cached[key]; ok {
			// Stability guarantee: never re-draw within a version.
			resolved[key] = value
			continue
		}

		value, err := s.resolveValue(tx, &setting, student, lecture)
		if err != nil {
			return nil, err
		}

		if err := s.SettingRepo.CreateStudentValue(tx, &model.StudentSetting{
			StudentID: student.ID,
			LectureID: lecture.ID,
			Version:   lecture.Version,
			Key:       key,
			Value:     value,
		}); err != nil {
			return nil, err
		}
		resolved[key] = value
	}

	return resolved, nil
}

func (s *SettingsService) resolveValue(tx *gorm.DB, setting *model.LectureSetting, student *model.Student, lecture *model.Lecture) (string, error) {
	if !setting.HasRandomDraw() {
		return setting.Value, nil
	}

	// Carry the old choice forward when a lecture edit left the
	// distribution effectively unchanged, so near-identical version
	// bumps do not reshuffle every student.
	if carried, ok, err := s.carryForward(tx, setting, student, lecture); err != nil {
		return "", err
	} else if ok {
		return carried, nil
	}

	v, err := s.ChooseSettingValue(setting)
	if err != nil {
		return "", err
	}
	return formatSettingValue(v), nil
}

func (s *SettingsService) carryForward(tx *gorm.DB, setting *model.LectureSetting, student *model.Student, lecture *model.Lecture) (string, bool, error) {
	priors, err := s.SettingRepo.PriorValues(tx, student.ID, lecture.ID, lecture.Version, setting.Key)
	if err != nil {
		return "", false, err
	}
	for _, prior := range priors {
		olds, err := s.SettingRepo.GlobalForVersion(tx, lecture.ID, prior.Version)
		if err != nil {
			return "", false, err
		}
		for _, old := range olds {
			if old.Key != setting.Key || old.Variant != setting.Variant {
				continue
			}
			if settingsEquivalent(&old, setting) {
				return prior.Value, true, nil
			}
		}
	}
	return "", false, nil
}

// settingsEquivalent compares two distribution definitions with a
// 1e-6 float tolerance.
func settingsEquivalent(a, b *model.LectureSetting) bool {
	if a.IsInt != b.IsInt {
		return false
	}
	if !floatPtrEq(a.Min, b.Min) || !floatPtrEq(a.Max, b.Max) || !floatPtrEq(a.Shape, b.Shape) {
		return false
	}
	if a.Shape != nil {
		// Scale rides in Value for gamma settings.
		av, aerr := strconv.ParseFloat(a.Value, 64)
		bv, berr := strconv.ParseFloat(b.Value, 64)
		if aerr != nil || berr != nil {
			return a.Value == b.Value
		}
		return math.Abs(av-bv) < carryForwardEps
	}
	return true
}

func floatPtrEq(a, b *float64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return math.Abs(*a-*b) < carryForwardEps
}

// ChooseSettingValue draws one value for a randomized setting.
// Uniform settings sample [min or 0, max) once; gamma settings retry
// up to 10 times to land inside the configured bounds and fail with a
// configuration error when they cannot.
func (s *SettingsService) ChooseSettingValue(setting *model.LectureSetting) (float64, error) {
	if setting.Shape != nil {
		scale, err := strconv.ParseFloat(setting.Value, 64)
		if err != nil {
			return 0, util.Configurationf("setting %q: gamma scale %q is not numeric", setting.Key, setting.Value)
		}
		for attempt := 0; attempt < gammaDrawAttempts; attempt++ {
			v := s.gammaSample(*setting.Shape) * scale
			if setting.IsInt {
				v = math.Round(v)
			}
			if setting.Min != nil && v < *setting.Min {
				continue
			}
			if setting.Max != nil && v >= *setting.Max {
				continue
			}
			return v, nil
		}
		logger.Log.Error("gamma draw exhausted attempts",
			zap.String("key", setting.Key),
			zap.Float64p("min", setting.Min),
			zap.Float64p("max", setting.Max))
		return 0, util.Configurationf("setting %q: gamma draw cannot satisfy bounds after %d attempts", setting.Key, gammaDrawAttempts)
	}

	if setting.Max == nil {
		return 0, util.Configurationf("setting %q: random setting without max", setting.Key)
	}
	min := 0.0
	if setting.Min != nil {
		min = *setting.Min
	}
	v := min + s.randFloat()*(*setting.Max-min)
	if setting.IsInt {
		v = math.Round(v)
	}
	return v, nil
}

func (s *SettingsService) randFloat() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func (s *SettingsService) randNorm() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.NormFloat64()
}

// gammaSample draws from Gamma(shape, 1) using Marsaglia-Tsang
// squeeze; shapes below one go through the boost transform.
func (s *SettingsService) gammaSample(shape float64) float64 {
	if shape < 1 {
		u := s.randFloat()
		for u == 0 {
			u = s.randFloat()
		}
		return s.gammaSample(shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		x := s.randNorm()
		v := 1.0 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := s.randFloat()
		if u < 1.0-0.0331*x*x*x*x {
			return d * v
		}
		if u > 0 && math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v
		}
	}
}

func formatSettingValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SettingEdit is one admin change to a lecture's global settings.
type SettingEdit struct {
	Key     string   `json:"key" binding:"required"`
	Variant string   `json:"variant"`
	Value   string   `json:"value"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Shape   *float64 `json:"shape,omitempty"`
	IsInt   bool     `json:"isInt"`
}

// PublishSettings appends a new settings generation: the lecture
// version is bumped, unedited rows are copied forward, and the edits
// land at the new version. Nothing is ever updated in place, so the
// full history stays queryable.
func (s *SettingsService) PublishSettings(lectureID uint, edits []SettingEdit) (int, error) {
	if len(edits) == 0 {
		return 0, util.Validationf("no setting edits given")
	}

	var newVersion int
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var lecture model.Lecture
		if err := tx.First(&lecture, lectureID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return util.NotFoundf("lecture %d", lectureID)
			}
			return err
		}
		newVersion = lecture.Version + 1

		current, err := s.SettingRepo.GlobalForVersion(tx, lecture.ID, lecture.Version)
		if err != nil {
			return err
		}

		edited := make(map[string]bool, len(edits))
		for _, e := range edits {
			edited[e.Key+"\x00"+e.Variant] = true
		}

		for _, row := range current {
			if edited[row.Key+"\x00"+row.Variant] {
				continue
			}
			carried := model.LectureSetting{
				LectureID: lecture.ID,
				Version:   newVersion,
				Key:       row.Key,
				Variant:   row.Variant,
				Value:     row.Value,
				Min:       row.Min,
				Max:       row.Max,
				Shape:     row.Shape,
				IsInt:     row.IsInt,
			}
			if err := s.SettingRepo.CreateGlobal(tx, &carried); err != nil {
				return err
			}
		}

		for _, e := range edits {
			row := model.LectureSetting{
				LectureID: lecture.ID,
				Version:   newVersion,
				Key:       e.Key,
				Variant:   e.Variant,
				Value:     e.Value,
				Min:       e.Min,
				Max:       e.Max,
				Shape:     e.Shape,
				IsInt:     e.IsInt,
			}
			if err := s.SettingRepo.CreateGlobal(tx, &row); err != nil {
				return err
			}
		}

		return s.LectureRepo.BumpVersion(tx, lecture.ID)
	})
	if err != nil {
		return 0, err
	}

	logger.Log.Info("lecture settings published",
		zap.Uint("lectureId", lectureID),
		zap.Int("version", newVersion),
		zap.Int("edits", len(edits)))
	return newVersion, nil
}

// CurrentSettings lists the global rows at the lecture's live
// version.
func (s *SettingsService) CurrentSettings(lectureID uint) ([]model.LectureSetting, error) {
	var lecture model.Lecture
	if err := s.DB.First(&lecture, lectureID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, util.NotFoundf("lecture %d", lectureID)
		}
		return nil, err
	}
	return s.SettingRepo.GlobalForVersion(s.DB, lecture.ID, lecture.Version)
}
