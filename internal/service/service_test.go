package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"adaptive_quiz_backend/internal/config"
	"adaptive_quiz_backend/internal/model"
	"adaptive_quiz_backend/internal/repository"
	"adaptive_quiz_backend/pkg/database"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		ReallocDivisor:        2,
		TargetMinAnswers:      9,
		RetargetEvictFraction: 0.1,
		SyncLockSeconds:       30,
	}
}

func testRand() *rand.Rand {
	return rand.New(rand.NewSource(1))
}

// testStack bundles the full service graph over one sqlite database.
type testStack struct {
	db *gorm.DB

	studentRepo *repository.StudentRepository
	lectureRepo *repository.LectureRepository
	allocRepo   *repository.AllocationRepository
	answerRepo  *repository.AnswerRepository

	settings  *SettingsService
	alloc     *AllocationService
	reward    *RewardService
	lifecycle *LifecycleService
	answer    *AnswerService
	sync      *SyncService

	ledger  *fakeLedger
	content *fakeContent
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	db := newTestDB(t)

	studentRepo := repository.NewStudentRepository(db)
	lectureRepo := repository.NewLectureRepository(db)
	questionRepo := repository.NewQuestionRepository(db)
	allocRepo := repository.NewAllocationRepository(db)
	answerRepo := repository.NewAnswerRepository(db)
	coinRepo := repository.NewCoinAwardRepository(db)
	settingRepo := repository.NewSettingRepository(db)
	ugRepo := repository.NewUserGeneratedRepository(db)

	engine := testEngineConfig()
	ledger := &fakeLedger{}
	content := newFakeContent()

	settings := NewSettingsService(settingRepo, lectureRepo, db, testRand())
	alloc := NewAllocationService(allocRepo, questionRepo, lectureRepo, answerRepo, db, engine, testRand())
	reward := NewRewardService(coinRepo, answerRepo, lectureRepo, ugRepo, ledger, db)
	lifecycle := NewLifecycleService(ugRepo, studentRepo, reward, db, testRand())
	answer := NewAnswerService(allocRepo, answerRepo, questionRepo, ugRepo, reward, lifecycle, content, db, engine)
	syncSvc := NewSyncService(settings, answer, alloc, lectureRepo, db, nil, engine)

	return &testStack{
		db:          db,
		studentRepo: studentRepo,
		lectureRepo: lectureRepo,
		allocRepo:   allocRepo,
		answerRepo:  answerRepo,
		settings:    settings,
		alloc:       alloc,
		reward:      reward,
		lifecycle:   lifecycle,
		answer:      answer,
		sync:        syncSvc,
		ledger:      ledger,
		content:     content,
	}
}

type fakeLedger struct {
	mu    sync.Mutex
	calls []ledgerCall
	fail  error
}

type ledgerCall struct {
	wallet string
	amount int64
}

func (f *fakeLedger) SendTransaction(ctx context.Context, wallet string, amount int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.calls = append(f.calls, ledgerCall{wallet: wallet, amount: amount})
	return fmt.Sprintf("tx-%d", len(f.calls)), nil
}

func (f *fakeLedger) total() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum int64
	for _, c := range f.calls {
		sum += c.amount
	}
	return sum
}

type fakeContent struct {
	mu        sync.Mutex
	questions map[string]*QuestionContent
	stats     map[string][2]int64
}

func newFakeContent() *fakeContent {
	return &fakeContent{
		questions: make(map[string]*QuestionContent),
		stats:     make(map[string][2]int64),
	}
}

func (f *fakeContent) set(ref string, choices int, correct ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	qc := &QuestionContent{Text: "q " + ref, CorrectIndices: correct}
	for i := 0; i < choices; i++ {
		qc.Choices = append(qc.Choices, fmt.Sprintf("choice %d", i))
	}
	f.questions[ref] = qc
}

func (f *fakeContent) FetchQuestionContent(ctx context.Context, ref string) (*QuestionContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	qc, ok := f.questions[ref]
	if !ok {
		return nil, fmt.Errorf("question content %s: not found", ref)
	}
	return qc, nil
}

func (f *fakeContent) ReportQuestionStats(ctx context.Context, ref string, timesAnswered, timesCorrect int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[ref] = [2]int64{timesAnswered, timesCorrect}
}

func seedStudent(t *testing.T, db *gorm.DB, username string) *model.Student {
	t.Helper()
	s := &model.Student{
		Host:     "lms.example.org",
		Username: username,
		Email:    username + "@example.org",
		Wallet:   "TESTWALLET" + username,
	}
	require.NoError(t, db.Create(s).Error)
	return s
}

func seedLecture(t *testing.T, db *gorm.DB, tutorialID uint, position int) *model.Lecture {
	t.Helper()
	l := &model.Lecture{
		TutorialID: tutorialID,
		Title:      fmt.Sprintf("Lecture %d", position),
		Position:   position,
		Version:    1,
	}
	require.NoError(t, db.Create(l).Error)
	return l
}

// seedQuestions links n questions of one type into the lecture.
// accuracy < 0 leaves the question unanswered.
func seedQuestions(t *testing.T, db *gorm.DB, lecture *model.Lecture, n int, questionType string, accuracy func(i int) float64) []model.Question {
	t.Helper()
	questions := make([]model.Question, 0, n)
	for i := 0; i < n; i++ {
		q := model.Question{
			ContentRef: fmt.Sprintf("ref-%d-%d", lecture.ID, i),
			Type:       questionType,
			Active:     true,
			LastUpdate: time.Now().Add(-time.Hour),
		}
		if acc := accuracy(i); acc >= 0 {
			q.TimesAnswered = 1000
			q.TimesCorrect = int64(acc * 1000)
		}
		require.NoError(t, db.Create(&q).Error)
		require.NoError(t, db.Create(&model.LectureQuestion{
			LectureID:  lecture.ID,
			QuestionID: q.ID,
		}).Error)
		questions = append(questions, q)
	}
	return questions
}

func seedGlobalSetting(t *testing.T, db *gorm.DB, lecture *model.Lecture, key, value string) {
	t.Helper()
	require.NoError(t, db.Create(&model.LectureSetting{
		LectureID: lecture.ID,
		Version:   lecture.Version,
		Key:       key,
		Value:     value,
	}).Error)
}

func fixedSettings(pairs ...string) Settings {
	s := Settings{}
	for i := 0; i+1 < len(pairs); i += 2 {
		s[pairs[i]] = pairs[i+1]
	}
	return s
}
