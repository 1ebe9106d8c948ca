package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	mrand "math/rand"
	"sort"
	"sync"
	"time"

	"adaptive_quiz_backend/internal/config"
	"adaptive_quiz_backend/internal/model"
	"adaptive_quiz_backend/internal/repository"
	"adaptive_quiz_backend/internal/util"
	"adaptive_quiz_backend/pkg/logger"
	"adaptive_quiz_backend/pkg/monitoring"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	StrategyOriginal = "original"
	StrategyExam     = "exam"

	defaultQuestionCap = 100
	histSelEps         = 1e-4
)

// AllocatedQuestion is one pool slot handed to the client. URI embeds
// the opaque public id only, never the internal question id.
type AllocatedQuestion struct {
	URI      string         `json:"uri"`
	Category string         `json:"category"`
	Question model.Question `json:"question"`
}

// AllocationStrategy is the closed set of pool-building behaviors.
// New strategies are added as variants here, not loaded dynamically.
type AllocationStrategy interface {
	Name() string
	UpdateAllocation(tx *gorm.DB, student *model.Student, lecture *model.Lecture, settings Settings) ([]AllocatedQuestion, error)
	GetQuestions(tx *gorm.DB, student *model.Student, lecture *model.Lecture) ([]AllocatedQuestion, error)
	GetAllQuestions(tx *gorm.DB, student *model.Student, lecture *model.Lecture) ([]model.Allocation, error)
}

// AllocationService maintains the bounded per-student question pool:
// eviction of stale/overflow slots, difficulty re-targeting, backfill.
type AllocationService struct {
	AllocRepo    *repository.AllocationRepository
	QuestionRepo *repository.QuestionRepository
	LectureRepo  *repository.LectureRepository
	AnswerRepo   *repository.AnswerRepository
	DB           *gorm.DB
	Engine       config.EngineConfig

	rngMu sync.Mutex
	rng   *mrand.Rand

	strategies map[string]AllocationStrategy
}

func NewAllocationService(allocRepo *repository.AllocationRepository, questionRepo *repository.QuestionRepository, lectureRepo *repository.LectureRepository, answerRepo *repository.AnswerRepository, db *gorm.DB, engine config.EngineConfig, rng *mrand.Rand) *AllocationService {
	s := &AllocationService{
		AllocRepo:    allocRepo,
		QuestionRepo: questionRepo,
		LectureRepo:  lectureRepo,
		AnswerRepo:   answerRepo,
		DB:           db,
		Engine:       engine,
		rng:          rng,
	}
	s.strategies = map[string]AllocationStrategy{
		StrategyOriginal: &originalStrategy{svc: s},
		StrategyExam:     &examStrategy{svc: s},
	}
	return s
}

// Strategy picks the allocation behavior from settings, defaulting to
// the original pool algorithm.
func (s *AllocationService) Strategy(settings Settings) AllocationStrategy {
	name := settings["alloc_strategy"]
	if strategy, ok := s.strategies[name]; ok {
		return strategy
	}
	return s.strategies[StrategyOriginal]
}

// UpdateAllocation recomputes the pool inside one transaction and
// returns the assembled allocation.
func (s *AllocationService) UpdateAllocation(student *model.Student, lecture *model.Lecture, settings Settings) ([]AllocatedQuestion, error) {
	var pool []AllocatedQuestion
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		pool, err = s.Strategy(settings).UpdateAllocation(tx, student, lecture, settings)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func (s *AllocationService) GetQuestions(student *model.Student, lecture *model.Lecture, settings Settings) ([]AllocatedQuestion, error) {
	return s.Strategy(settings).GetQuestions(s.DB, student, lecture)
}

// categorySpec describes one partition of the target pool.
type categorySpec struct {
	name         string
	cap          int
	questionType string
	lectureIDs   []uint
	retargetable bool
}

// originalStrategy implements the historical/regular/template
// partitioning with difficulty targeting.
type originalStrategy struct {
	svc *AllocationService
}

func (st *originalStrategy) Name() string { return StrategyOriginal }

func (st *originalStrategy) categories(lecture *model.Lecture, settings Settings) ([]categorySpec, error) {
	histSel := settings.Float(SettingHistSel, 0)
	baseCap := settings.Int(SettingQuestionCap, defaultQuestionCap)

	var specs []categorySpec

	if histSel > histSelEps {
		histCap := settings.Int(SettingQuestionCap+"_historical", -1)
		if histCap < 0 {
			if histSel < 0.5 {
				histCap = baseCap / 2
			} else {
				histCap = baseCap
			}
		}
		earlier, err := st.svc.LectureRepo.EarlierLectureIDs(lecture)
		if err != nil {
			return nil, err
		}
		specs = append(specs, categorySpec{
			name:         model.AllocTypeHistorical,
			cap:          histCap,
			questionType: model.QuestionTypeRegular,
			lectureIDs:   earlier,
			retargetable: true,
		})
	}

	if histSel < 1-histSelEps {
		regCap := settings.Int(SettingQuestionCap+"_regular", baseCap)
		tplCap := settings.Int(SettingQuestionCap+"_template", baseCap)
		specs = append(specs,
			categorySpec{
				name:         model.AllocTypeRegular,
				cap:          regCap,
				questionType: model.QuestionTypeRegular,
				lectureIDs:   []uint{lecture.ID},
				retargetable: true,
			},
			categorySpec{
				name:         model.AllocTypeTemplate,
				cap:          tplCap,
				questionType: model.QuestionTypeTemplate,
				lectureIDs:   []uint{lecture.ID},
				retargetable: false,
			},
		)
	}

	return specs, nil
}

func (st *originalStrategy) UpdateAllocation(tx *gorm.DB, student *model.Student, lecture *model.Lecture, settings Settings) ([]AllocatedQuestion, error) {
	svc := st.svc

	summary, err := svc.AnswerRepo.SummaryForUpdate(tx, student.ID, lecture.ID)
	if err != nil {
		return nil, err
	}
	if summary.ReallocRequested && summary.TargetDifficulty == nil {
		return nil, util.Configurationf("re-allocation requested without a target difficulty for student %d lecture %d", student.ID, lecture.ID)
	}

	specs, err := st.categories(lecture, settings)
	if err != nil {
		return nil, err
	}

	allocatedIDs, err := svc.AllocRepo.ActiveQuestionIDs(tx, student.ID, lecture.ID)
	if err != nil {
		return nil, err
	}
	taken := make(map[uint]bool, len(allocatedIDs))
	for _, id := range allocatedIDs {
		taken[id] = true
	}

	var pool []AllocatedQuestion
	for _, spec := range specs {
		slots, err := st.rebuildCategory(tx, student, lecture, spec, summary, taken)
		if err != nil {
			return nil, err
		}
		pool = append(pool, slots...)
	}

	if summary.ReallocRequested {
		summary.ReallocRequested = false
		if err := svc.AnswerRepo.SaveSummary(tx, summary); err != nil {
			return nil, err
		}
	}

	return pool, nil
}

func (st *originalStrategy) rebuildCategory(tx *gorm.DB, student *model.Student, lecture *model.Lecture, spec categorySpec, summary *model.AnswerSummary, taken map[uint]bool) ([]AllocatedQuestion, error) {
	svc := st.svc

	allocs, err := svc.AllocRepo.ActiveForUpdate(tx, student.ID, lecture.ID, spec.name)
	if err != nil {
		return nil, err
	}

	questionIDs := make([]uint, 0, len(allocs))
	for _, a := range allocs {
		questionIDs = append(questionIDs, a.QuestionID)
	}
	questions, err := svc.QuestionRepo.FindByIDs(questionIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	// Eviction phase: retired or stale questions go unconditionally.
	var keep []model.Allocation
	var evict []uint
	for _, a := range allocs {
		q, ok := byID[a.QuestionID]
		if !ok || !q.Active || q.LastUpdate.After(a.AllocatedAt) {
			evict = append(evict, a.ID)
			delete(taken, a.QuestionID)
			continue
		}
		keep = append(keep, a)
	}

	if len(keep) > spec.cap {
		// Over cap: uniformly random subset down to the cap.
		svc.shuffleAllocations(keep)
		for _, a := range keep[spec.cap:] {
			evict = append(evict, a.ID)
			delete(taken, a.QuestionID)
		}
		keep = keep[:spec.cap]
	}
	if len(keep) == spec.cap && spec.retargetable && summary.ReallocRequested {
		kept, evicted := st.retarget(keep, byID, *summary.TargetDifficulty)
		keep = kept
		for _, a := range evicted {
			evict = append(evict, a.ID)
			delete(taken, a.QuestionID)
		}
	}

	if len(evict) > 0 {
		if err := svc.AllocRepo.Deactivate(tx, evict); err != nil {
			return nil, err
		}
		monitoring.AllocationChanges.WithLabelValues("evicted").Add(float64(len(evict)))
	}

	// Backfill phase.
	if shortfall := spec.cap - len(keep); shortfall > 0 && len(spec.lectureIDs) > 0 {
		exclude := make([]uint, 0, len(taken))
		for id := range taken {
			exclude = append(exclude, id)
		}
		candidates, err := svc.QuestionRepo.Candidates(tx, spec.lectureIDs, spec.questionType, exclude)
		if err != nil {
			return nil, err
		}
		st.orderCandidates(candidates, spec, summary)
		if len(candidates) > shortfall {
			candidates = candidates[:shortfall]
		}
		for _, q := range candidates {
			alloc := model.Allocation{
				PublicID:    svc.newPublicID(student.ID, q.ID),
				StudentID:   student.ID,
				LectureID:   lecture.ID,
				QuestionID:  q.ID,
				AllocType:   spec.name,
				Active:      true,
				AllocatedAt: time.Now(),
			}
			if err := svc.AllocRepo.Create(tx, &alloc); err != nil {
				return nil, err
			}
			taken[q.ID] = true
			keep = append(keep, alloc)
			byID[q.ID] = q
		}
		monitoring.AllocationChanges.WithLabelValues("created").Add(float64(len(candidates)))
	}

	slots := make([]AllocatedQuestion, 0, len(keep))
	for _, a := range keep {
		slots = append(slots, AllocatedQuestion{
			URI:      AllocationURI(a.PublicID),
			Category: spec.name,
			Question: byID[a.QuestionID],
		})
	}
	return slots, nil
}

// retarget evicts the worst-fitting slots (at least one) so the
// working set drifts toward the student's difficulty band without a
// full rebuild. Unanswered questions always rank as perfectly
// suitable.
func (st *originalStrategy) retarget(allocs []model.Allocation, byID map[uint]model.Question, target float64) (keep, evict []model.Allocation) {
	type ranked struct {
		alloc       model.Allocation
		suitability float64
	}
	rankedAllocs := make([]ranked, 0, len(allocs))
	for _, a := range allocs {
		q := byID[a.QuestionID]
		suitability := 1.0
		if acc := q.ObservedAccuracy(); acc >= 0 {
			suitability = 1 - math.Abs(target-acc)
		}
		rankedAllocs = append(rankedAllocs, ranked{alloc: a, suitability: suitability})
	}
	sort.SliceStable(rankedAllocs, func(i, j int) bool {
		return rankedAllocs[i].suitability < rankedAllocs[j].suitability
	})

	n := int(math.Floor(st.svc.Engine.RetargetEvictFraction * float64(len(rankedAllocs))))
	if n < 1 {
		n = 1
	}
	for i, r := range rankedAllocs {
		if i < n {
			evict = append(evict, r.alloc)
		} else {
			keep = append(keep, r.alloc)
		}
	}
	logger.Log.Debug("retargeted allocation pool",
		zap.Float64("target", target),
		zap.Int("evicted", len(evict)))
	return keep, evict
}

// orderCandidates sorts backfill candidates by distance to the target
// difficulty band, or shuffles uniformly when no target is set.
func (st *originalStrategy) orderCandidates(candidates []model.Question, spec categorySpec, summary *model.AnswerSummary) {
	if spec.retargetable && summary.TargetDifficulty != nil {
		target := int(math.Round(50 * *summary.TargetDifficulty))
		distance := func(q *model.Question) int {
			accPct := 50
			if acc := q.ObservedAccuracy(); acc >= 0 {
				accPct = int(math.Round(acc * 100))
			}
			d := target - accPct
			if d < 0 {
				d = -d
			}
			return d
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return distance(&candidates[i]) < distance(&candidates[j])
		})
		return
	}
	st.svc.shuffleQuestions(candidates)
}

func (st *originalStrategy) GetQuestions(tx *gorm.DB, student *model.Student, lecture *model.Lecture) ([]AllocatedQuestion, error) {
	return st.svc.activePool(tx, student, lecture)
}

func (st *originalStrategy) GetAllQuestions(tx *gorm.DB, student *model.Student, lecture *model.Lecture) ([]model.Allocation, error) {
	var allocs []model.Allocation
	err := tx.Where("student_id = ? AND lecture_id = ?", student.ID, lecture.ID).
		Find(&allocs).Error
	return allocs, err
}

// examStrategy hands out the whole lecture as one fixed pool: no
// historical slice, no difficulty targeting, no random eviction.
type examStrategy struct {
	svc *AllocationService
}

func (st *examStrategy) Name() string { return StrategyExam }

func (st *examStrategy) UpdateAllocation(tx *gorm.DB, student *model.Student, lecture *model.Lecture, settings Settings) ([]AllocatedQuestion, error) {
	svc := st.svc

	allocs, err := svc.AllocRepo.ActiveForUpdate(tx, student.ID, lecture.ID, model.AllocTypeRegular)
	if err != nil {
		return nil, err
	}
	taken := make(map[uint]bool, len(allocs))
	for _, a := range allocs {
		taken[a.QuestionID] = true
	}

	cap := settings.Int(SettingQuestionCap, defaultQuestionCap)
	if shortfall := cap - len(allocs); shortfall > 0 {
		exclude := make([]uint, 0, len(taken))
		for id := range taken {
			exclude = append(exclude, id)
		}
		candidates, err := svc.QuestionRepo.Candidates(tx, []uint{lecture.ID}, model.QuestionTypeRegular, exclude)
		if err != nil {
			return nil, err
		}
		svc.shuffleQuestions(candidates)
		if len(candidates) > shortfall {
			candidates = candidates[:shortfall]
		}
		for _, q := range candidates {
			alloc := model.Allocation{
				PublicID:    svc.newPublicID(student.ID, q.ID),
				StudentID:   student.ID,
				LectureID:   lecture.ID,
				QuestionID:  q.ID,
				AllocType:   model.AllocTypeRegular,
				Active:      true,
				AllocatedAt: time.Now(),
			}
			if err := svc.AllocRepo.Create(tx, &alloc); err != nil {
				return nil, err
			}
			allocs = append(allocs, alloc)
		}
	}

	return svc.assemble(tx, allocs)
}

func (st *examStrategy) GetQuestions(tx *gorm.DB, student *model.Student, lecture *model.Lecture) ([]AllocatedQuestion, error) {
	return st.svc.activePool(tx, student, lecture)
}

func (st *examStrategy) GetAllQuestions(tx *gorm.DB, student *model.Student, lecture *model.Lecture) ([]model.Allocation, error) {
	var allocs []model.Allocation
	err := tx.Where("student_id = ? AND lecture_id = ?", student.ID, lecture.ID).
		Find(&allocs).Error
	return allocs, err
}

func (s *AllocationService) activePool(tx *gorm.DB, student *model.Student, lecture *model.Lecture) ([]AllocatedQuestion, error) {
	var allocs []model.Allocation
	err := tx.Where("student_id = ? AND lecture_id = ? AND active = ?", student.ID, lecture.ID, true).
		Find(&allocs).Error
	if err != nil {
		return nil, err
	}
	return s.assemble(tx, allocs)
}

func (s *AllocationService) assemble(tx *gorm.DB, allocs []model.Allocation) ([]AllocatedQuestion, error) {
	ids := make([]uint, 0, len(allocs))
	for _, a := range allocs {
		ids = append(ids, a.QuestionID)
	}
	questions, err := s.QuestionRepo.FindByIDs(ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	pool := make([]AllocatedQuestion, 0, len(allocs))
	for _, a := range allocs {
		pool = append(pool, AllocatedQuestion{
			URI:      AllocationURI(a.PublicID),
			Category: a.AllocType,
			Question: byID[a.QuestionID],
		})
	}
	return pool, nil
}

func (s *AllocationService) shuffleAllocations(allocs []model.Allocation) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	s.rng.Shuffle(len(allocs), func(i, j int) {
		allocs[i], allocs[j] = allocs[j], allocs[i]
	})
}

func (s *AllocationService) shuffleQuestions(questions []model.Question) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	s.rng.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})
}

// newPublicID derives the opaque slot identifier from the student,
// question, time and a random salt. Globally unique is all that
// matters here.
func (s *AllocationService) newPublicID(studentID, questionID uint) string {
	salt := make([]byte, 8)
	rand.Read(salt)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d:%d:%s",
		studentID, questionID, time.Now().UnixNano(), hex.EncodeToString(salt))))
	return hex.EncodeToString(sum[:16])
}

// AllocationURI renders the client-facing question reference.
func AllocationURI(publicID string) string {
	return "/api/quiz/" + publicID
}
