package service

import (
	"context"
	"path"
	"strconv"
	"strings"
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

// AnswerQueueEntry is one element of the client's offline answer
// queue. Regular questions carry a chosen option; template questions
// carry either a review or an authored question payload, or neither
// when the student skipped authoring.
// swagger:model AnswerQueueEntry
type AnswerQueueEntry struct {
	URI          string    `json:"uri" binding:"required"`
	ChosenAnswer *int      `json:"chosenAnswer,omitempty"`
	Correct      bool      `json:"correct"`
	GradeAfter   float64   `json:"gradeAfter"`
	Practice     bool      `json:"practice"`
	Synced       bool      `json:"synced"`
	StartedAt    time.Time `json:"startedAt"`
	EndedAt      time.Time `json:"endedAt"`

	Review   *ReviewPayload   `json:"review,omitempty"`
	Authored *AuthoredPayload `json:"authored,omitempty"`
}

// ReviewPayload rates another student's crowd-authored question.
// swagger:model ReviewPayload
type ReviewPayload struct {
	QuestionRef  string `json:"questionRef" binding:"required"`
	ChosenOption *int   `json:"chosenOption,omitempty"`
	Rating       int    `json:"rating"`
	Comments     string `json:"comments"`
}

// AuthoredPayload carries a question the student wrote from a
// template slot. Supersedes references the author's prior revision by
// public id.
// swagger:model AuthoredPayload
type AuthoredPayload struct {
	Body        string           `json:"body"`
	Explanation string           `json:"explanation"`
	Options     []UGQOptionInput `json:"options"`
	Supersedes  string           `json:"supersedes,omitempty"`
}

// SyncResult reports how a queue batch went. Skipped entries are
// logged individually; the batch as a whole still succeeds.
// swagger:model SyncResult
type SyncResult struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
}

// AnswerHistory is the chronological non-practice record plus the
// rolling counters for the lecture.
// swagger:model AnswerHistory
type AnswerHistory struct {
	Answers []model.Answer       `json:"answers"`
	Summary *model.AnswerSummary `json:"summary,omitempty"`
}

// AnswerService drains client answer queues: resolves each entry's
// allocation, re-verifies correctness against the content layer,
// updates counters and grades, and settles milestone rewards.
type AnswerService struct {
	AllocRepo    *repository.AllocationRepository
	AnswerRepo   *repository.AnswerRepository
	QuestionRepo *repository.QuestionRepository
	UGRepo       *repository.UserGeneratedRepository
	Reward       *RewardService
	Lifecycle    *LifecycleService
	Content      ContentProvider
	DB           *gorm.DB
	Engine       config.EngineConfig
}

func NewAnswerService(allocRepo *repository.AllocationRepository, answerRepo *repository.AnswerRepository, questionRepo *repository.QuestionRepository, ugRepo *repository.UserGeneratedRepository, reward *RewardService, lifecycle *LifecycleService, content ContentProvider, db *gorm.DB, engine config.EngineConfig) *AnswerService {
	return &AnswerService{
		AllocRepo:    allocRepo,
		AnswerRepo:   answerRepo,
		QuestionRepo: questionRepo,
		UGRepo:       ugRepo,
		Reward:       reward,
		Lifecycle:    lifecycle,
		Content:      content,
		DB:           db,
		Engine:       engine,
	}
}

// publicIDFromURI pulls the opaque allocation id out of a client URI
// such as /api/quiz/<id>?question_id=…. A bare id passes through.
func publicIDFromURI(uri string) string {
	if idx := strings.IndexByte(uri, '?'); idx >= 0 {
		uri = uri[:idx]
	}
	uri = strings.TrimRight(uri, "/")
	id := path.Base(uri)
	if id == "." || id == "/" {
		return ""
	}
	return id
}

// ParseAnswerQueue processes the batch entry by entry, each in its
// own transaction: one malformed or stale entry is logged and skipped
// without poisoning the rest, and a replayed queue lands on the
// duplicate check instead of double-counting.
func (s *AnswerService) ParseAnswerQueue(ctx context.Context, student *model.Student, lecture *model.Lecture, settings Settings, entries []AnswerQueueEntry) (*SyncResult, error) {
	result := &SyncResult{}
	for i := range entries {
		entry := &entries[i]

		if err := ctx.Err(); err != nil {
			return result, err
		}

		var outcome string
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			var err error
			outcome, err = s.processEntry(ctx, tx, student, lecture, settings, entry)
			return err
		})
		if err != nil {
			logger.Log.Warn("answer entry failed",
				zap.String("uri", entry.URI),
				zap.Uint("studentId", student.ID),
				zap.Uint("lectureId", lecture.ID),
				zap.Error(err))
			monitoring.AnswersProcessed.WithLabelValues("failed").Inc()
			result.Skipped++
			continue
		}
		monitoring.AnswersProcessed.WithLabelValues(outcome).Inc()
		if outcome == "processed" {
			result.Processed++
		} else {
			result.Skipped++
		}
	}
	return result, nil
}

func (s *AnswerService) processEntry(ctx context.Context, tx *gorm.DB, student *model.Student, lecture *model.Lecture, settings Settings, entry *AnswerQueueEntry) (string, error) {
	if entry.Synced {
		return "already_synced", nil
	}

	publicID := publicIDFromURI(entry.URI)
	if publicID == "" {
		logger.Log.Warn("answer entry with unparseable uri",
			zap.String("uri", entry.URI), zap.Uint("studentId", student.ID))
		return "skipped", nil
	}

	alloc, err := s.AllocRepo.FindByPublicID(tx, student.ID, publicID)
	if err == gorm.ErrRecordNotFound {
		// Foreign, stale, or fabricated reference. The student keeps
		// their local state; the server keeps its integrity.
		logger.Log.Warn("no record of allocation for answer entry",
			zap.String("publicId", publicID),
			zap.Uint("studentId", student.ID),
			zap.Uint("lectureId", lecture.ID))
		return "skipped", nil
	}
	if err != nil {
		return "", err
	}
	if alloc.LectureID != lecture.ID {
		logger.Log.Warn("answer entry references another lecture's allocation",
			zap.String("publicId", publicID),
			zap.Uint("allocLectureId", alloc.LectureID),
			zap.Uint("lectureId", lecture.ID))
		return "skipped", nil
	}

	answered, err := s.AnswerRepo.ExistsForAllocation(tx, alloc.ID)
	if err != nil {
		return "", err
	}
	if answered {
		return "duplicate", nil
	}

	var chosen string
	var correct bool
	switch alloc.AllocType {
	case model.AllocTypeTemplate:
		chosen, correct, err = s.processTemplateEntry(ctx, tx, student, alloc, entry, settings)
	default:
		chosen, correct, err = s.processRegularEntry(ctx, tx, student, alloc, entry)
	}
	if err != nil {
		return "", err
	}
	if chosen == "" && alloc.AllocType != model.AllocTypeTemplate {
		// Regular entry was rejected during verification.
		return "skipped", nil
	}

	summary, err := s.AnswerRepo.SummaryForUpdate(tx, student.ID, lecture.ID)
	if err != nil {
		return "", err
	}

	var coins int64
	if entry.Practice {
		summary.PracticeAnswered++
		if correct {
			summary.PracticeCorrect++
		}
	} else {
		summary.LecAnswered++
		if correct {
			summary.LecCorrect++
		}

		coins, err = ComputeAward(summary.GradeHighWaterMark, entry.GradeAfter, settings, func() (bool, error) {
			return s.Reward.SiblingsAced(tx, student, lecture)
		})
		if err != nil {
			return "", err
		}
		if err := s.Reward.Settle(ctx, tx, student, coins); err != nil {
			return "", err
		}

		summary.Grade = entry.GradeAfter
		if entry.GradeAfter > summary.GradeHighWaterMark {
			summary.GradeHighWaterMark = entry.GradeAfter
		}

		s.updatePoolSignals(summary, settings, entry.GradeAfter)
	}

	answer := &model.Answer{
		StudentID:    student.ID,
		LectureID:    lecture.ID,
		QuestionID:   alloc.QuestionID,
		AllocationID: alloc.ID,
		ChosenAnswer: chosen,
		Correct:      correct,
		GradeAfter:   entry.GradeAfter,
		Practice:     entry.Practice,
		CoinsAwarded: coins,
		StartedAt:    entry.StartedAt,
		EndedAt:      entry.EndedAt,
	}
	if err := s.AnswerRepo.Create(tx, answer); err != nil {
		return "", err
	}
	if err := s.AnswerRepo.SaveSummary(tx, summary); err != nil {
		return "", err
	}

	return "processed", nil
}

// updatePoolSignals maintains the markers the pool manager consumes:
// a re-allocation request every cap/divisor completed answers, and
// the difficulty target once the grade has enough answers behind it.
func (s *AnswerService) updatePoolSignals(summary *model.AnswerSummary, settings Settings, gradeAfter float64) {
	summary.CompletedSinceRealloc++

	divisor := s.Engine.ReallocDivisor
	if divisor <= 0 {
		divisor = 2
	}
	checkpoint := settings.Int(SettingQuestionCap, defaultQuestionCap) / divisor
	if checkpoint > 0 && summary.CompletedSinceRealloc >= checkpoint {
		summary.ReallocRequested = true
		summary.CompletedSinceRealloc = 0
	}

	if summary.LecAnswered >= s.Engine.TargetMinAnswers {
		target := gradeAfter / 10
		if target < 0 {
			target = 0
		} else if target > 1 {
			target = 1
		}
		summary.TargetDifficulty = &target
	}
}

// processRegularEntry re-verifies the claimed result against the
// authoritative question content and feeds the global counters. An
// out-of-range choice or missing choice rejects the entry (empty
// chosen string), it does not fail the batch.
func (s *AnswerService) processRegularEntry(ctx context.Context, tx *gorm.DB, student *model.Student, alloc *model.Allocation, entry *AnswerQueueEntry) (string, bool, error) {
	if entry.ChosenAnswer == nil {
		logger.Log.Warn("regular answer entry without a chosen option",
			zap.String("publicId", alloc.PublicID), zap.Uint("studentId", student.ID))
		return "", false, nil
	}

	question, err := s.QuestionRepo.FindByID(alloc.QuestionID)
	if err != nil {
		return "", false, err
	}

	content, err := s.Content.FetchQuestionContent(ctx, question.ContentRef)
	if err != nil {
		return "", false, err
	}

	choice := *entry.ChosenAnswer
	if choice < 0 || choice >= len(content.Choices) {
		logger.Log.Warn("chosen option out of range",
			zap.String("publicId", alloc.PublicID),
			zap.Int("choice", choice),
			zap.Int("choices", len(content.Choices)))
		return "", false, nil
	}

	correct := content.IsCorrect(choice)
	if correct != entry.Correct {
		logger.Log.Warn("client grading disagrees with content, using server verdict",
			zap.String("publicId", alloc.PublicID),
			zap.Bool("client", entry.Correct),
			zap.Bool("server", correct))
	}

	if err := s.QuestionRepo.IncrementCounters(tx, question.ID, correct); err != nil {
		return "", false, err
	}
	answeredNow := question.TimesAnswered + 1
	correctNow := question.TimesCorrect
	if correct {
		correctNow++
	}
	s.Content.ReportQuestionStats(ctx, question.ContentRef, answeredNow, correctNow)

	return strconv.Itoa(choice), correct, nil
}

// processTemplateEntry dispatches a template slot: a review payload
// rates someone else's question, an authored payload creates (or
// revises) the student's own, and neither means the student skipped.
// The stored chosen answer is the review id for reviews and empty for
// a skip, mirroring what the history endpoint exposes.
func (s *AnswerService) processTemplateEntry(ctx context.Context, tx *gorm.DB, student *model.Student, alloc *model.Allocation, entry *AnswerQueueEntry, settings Settings) (string, bool, error) {
	switch {
	case entry.Review != nil:
		ugQuestion, err := s.UGRepo.FindByPublicID(entry.Review.QuestionRef)
		if err == gorm.ErrRecordNotFound {
			return "", false, util.NotFoundf("reviewed question %s", entry.Review.QuestionRef)
		}
		if err != nil {
			return "", false, err
		}
		review, err := s.Lifecycle.RecordReview(ctx, tx, student, ugQuestion,
			entry.Review.ChosenOption, entry.Review.Rating, entry.Review.Comments, settings)
		if err != nil {
			return "", false, err
		}
		return strconv.FormatUint(uint64(review.ID), 10), true, nil

	case entry.Authored != nil:
		var priorID *uint
		if entry.Authored.Supersedes != "" {
			prior, err := s.UGRepo.FindByPublicID(entry.Authored.Supersedes)
			if err == gorm.ErrRecordNotFound {
				return "", false, util.NotFoundf("prior question %s", entry.Authored.Supersedes)
			}
			if err != nil {
				return "", false, err
			}
			priorID = &prior.ID
		}
		template, err := s.QuestionRepo.FindByID(alloc.QuestionID)
		if err != nil {
			return "", false, err
		}
		created, err := s.Lifecycle.CreateRevision(tx, student, template,
			entry.Authored.Body, entry.Authored.Explanation, entry.Authored.Options, priorID)
		if err != nil {
			return "", false, err
		}
		return created.PublicID, true, nil

	default:
		// The student looked at the template slot and moved on.
		return "", false, nil
	}
}

// GetAnswerHistory returns the student's non-practice answers oldest
// first, with the rolling summary attached when one exists.
func (s *AnswerService) GetAnswerHistory(student *model.Student, lecture *model.Lecture) (*AnswerHistory, error) {
	answers, err := s.AnswerRepo.History(student.ID, lecture.ID)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(answers)-1; i < j; i, j = i+1, j-1 {
		answers[i], answers[j] = answers[j], answers[i]
	}

	history := &AnswerHistory{Answers: answers}
	summary, err := s.AnswerRepo.Summary(student.ID, lecture.ID)
	if err == nil {
		history.Summary = summary
	} else if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	return history, nil
}
