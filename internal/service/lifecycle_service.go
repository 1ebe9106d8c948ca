package service

import (
	"context"
	mrand "math/rand"
	"sync"

	"adaptive_quiz_backend/internal/model"
	"adaptive_quiz_backend/internal/repository"
	"adaptive_quiz_backend/internal/util"
	"adaptive_quiz_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Derived lifecycle states of a crowd-authored question.
const (
	UGQStateUnreviewed  = "unreviewed"
	UGQStateUnderReview = "under-review"
	UGQStateAccepted    = "accepted"
	UGQStateRejected    = "rejected"
	UGQStateSuperseded  = "superseded"
)

const (
	defaultUGQReviewCap      = 5
	defaultUGQNonsenseCap    = 3
	defaultUGQSenseThreshold = 50
	defaultCapTemplateQns    = 3
)

// LifecycleService drives the create → review → supersede flow for
// questions students author from template questions.
type LifecycleService struct {
	UGRepo      *repository.UserGeneratedRepository
	StudentRepo *repository.StudentRepository
	Reward      *RewardService
	DB          *gorm.DB

	rngMu sync.Mutex
	rng   *mrand.Rand
}

func NewLifecycleService(ugRepo *repository.UserGeneratedRepository, studentRepo *repository.StudentRepository, reward *RewardService, db *gorm.DB, rng *mrand.Rand) *LifecycleService {
	return &LifecycleService{
		UGRepo:      ugRepo,
		StudentRepo: studentRepo,
		Reward:      reward,
		DB:          db,
		rng:         rng,
	}
}

type reviewStats struct {
	count     int
	ratingSum int
	nonsense  int
	sensible  int
}

func (s *LifecycleService) statsFor(tx *gorm.DB, ugQuestionID uint, senseThreshold int) (reviewStats, error) {
	reviews, err := s.UGRepo.Reviews(tx, ugQuestionID)
	if err != nil {
		return reviewStats{}, err
	}
	var stats reviewStats
	for _, r := range reviews {
		stats.count++
		stats.ratingSum += r.Rating
		if r.Rating == model.RatingNonsense {
			stats.nonsense++
		} else if r.Rating >= senseThreshold {
			stats.sensible++
		}
	}
	return stats, nil
}

// PickForReview selects which crowd question the student should rate
// next: never their own, never one they already rated, never one that
// hit its review cap or was drowned in nonsense votes, never a
// superseded revision. Uniform random among what is left; nil means
// the caller falls back to authoring mode.
func (s *LifecycleService) PickForReview(student *model.Student, templateQuestion *model.Question, settings Settings) (*model.UserGeneratedQuestion, error) {
	reviewCap := settings.Int(SettingUGQReviewCap, defaultUGQReviewCap)
	nonsenseCap := settings.Int(SettingUGQNonsenseCap, defaultUGQNonsenseCap)
	senseThreshold := settings.Int(SettingUGQSenseThreshold, defaultUGQSenseThreshold)

	candidates, err := s.UGRepo.ForTemplate(templateQuestion.ID)
	if err != nil {
		return nil, err
	}

	reviewedIDs, err := s.UGRepo.ReviewedQuestionIDs(student.ID)
	if err != nil {
		return nil, err
	}
	reviewed := make(map[uint]bool, len(reviewedIDs))
	for _, id := range reviewedIDs {
		reviewed[id] = true
	}

	var eligible []model.UserGeneratedQuestion
	for _, candidate := range candidates {
		if candidate.AuthorID == student.ID || reviewed[candidate.ID] {
			continue
		}
		stats, err := s.statsFor(s.DB, candidate.ID, senseThreshold)
		if err != nil {
			return nil, err
		}
		if stats.count >= reviewCap {
			continue
		}
		if stats.nonsense >= nonsenseCap && stats.ratingSum < 0 {
			continue
		}
		eligible = append(eligible, candidate)
	}

	if len(eligible) == 0 {
		return nil, nil
	}

	s.rngMu.Lock()
	picked := eligible[s.rng.Intn(len(eligible))]
	s.rngMu.Unlock()
	return &picked, nil
}

// RecordReview stores one student's rating of another's question and
// runs the acceptance check.
func (s *LifecycleService) RecordReview(ctx context.Context, tx *gorm.DB, reviewer *model.Student, ugQuestion *model.UserGeneratedQuestion, chosenOption *int, rating int, comments string, settings Settings) (*model.UserGeneratedAnswer, error) {
	if rating < model.RatingNonsense || rating > 100 {
		return nil, util.Validationf("rating %d out of range", rating)
	}
	if ugQuestion.AuthorID == reviewer.ID {
		return nil, util.Validationf("self-review is not allowed")
	}

	review := &model.UserGeneratedAnswer{
		UGQuestionID: ugQuestion.ID,
		ReviewerID:   reviewer.ID,
		ChosenOption: chosenOption,
		Rating:       rating,
		Comments:     comments,
	}
	if err := s.UGRepo.CreateReview(tx, review); err != nil {
		return nil, err
	}

	if err := s.maybeAwardAuthor(ctx, tx, ugQuestion, settings); err != nil {
		return nil, err
	}

	return review, nil
}

// maybeAwardAuthor pays the authorship milestone once a question
// completes its review round with a sensible-rating majority. The
// per-author cap stops farming: only the first cap_template_qns
// accepted questions per template earn coins.
func (s *LifecycleService) maybeAwardAuthor(ctx context.Context, tx *gorm.DB, ugQuestion *model.UserGeneratedQuestion, settings Settings) error {
	if ugQuestion.Rewarded {
		return nil
	}

	reviewCap := settings.Int(SettingUGQReviewCap, defaultUGQReviewCap)
	senseThreshold := settings.Int(SettingUGQSenseThreshold, defaultUGQSenseThreshold)

	stats, err := s.statsFor(tx, ugQuestion.ID, senseThreshold)
	if err != nil {
		return err
	}
	if stats.count < reviewCap || stats.sensible*2 <= reviewCap {
		return nil
	}

	capQns := settings.Int64(SettingCapTemplateQns, defaultCapTemplateQns)
	rewarded, err := s.UGRepo.CountRewardedByAuthor(tx, ugQuestion.AuthorID, ugQuestion.QuestionID)
	if err != nil {
		return err
	}
	if rewarded >= capQns {
		return nil
	}

	author, err := s.StudentRepo.FindByID(ugQuestion.AuthorID)
	if err != nil {
		return err
	}
	amount := settings.Int64(SettingAwardTemplateQnAced, defaultAwardTemplateQnAced)
	if err := s.Reward.Settle(ctx, tx, author, amount); err != nil {
		return err
	}
	if err := s.UGRepo.MarkRewarded(tx, ugQuestion.ID, amount); err != nil {
		return err
	}
	logger.Log.Info("authorship milestone awarded",
		zap.Uint("authorId", ugQuestion.AuthorID),
		zap.Uint("ugQuestionId", ugQuestion.ID),
		zap.Int64("amount", amount))
	return nil
}

// UGQOptionInput is the option payload carried by authoring entries.
type UGQOptionInput struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// CreateRevision stores a freshly authored question. When priorID is
// set the new question supersedes the author's earlier revision;
// chains only ever grow, revisions are never deleted.
func (s *LifecycleService) CreateRevision(tx *gorm.DB, author *model.Student, templateQuestion *model.Question, body, explanation string, options []UGQOptionInput, priorID *uint) (*model.UserGeneratedQuestion, error) {
	if body == "" {
		return nil, util.Validationf("question body required")
	}
	if len(options) == 0 {
		return nil, util.Validationf("at least one choice required")
	}

	created := &model.UserGeneratedQuestion{
		PublicID:    model.GenerateUUID(),
		QuestionID:  templateQuestion.ID,
		AuthorID:    author.ID,
		Body:        body,
		Explanation: explanation,
	}
	for i, opt := range options {
		created.Options = append(created.Options, model.UserGeneratedOption{
			Position: i,
			Text:     opt.Text,
			Correct:  opt.Correct,
		})
	}
	if err := s.UGRepo.Create(tx, created); err != nil {
		return nil, err
	}

	if priorID != nil {
		prior, err := s.UGRepo.FindByID(*priorID)
		if err == gorm.ErrRecordNotFound {
			return nil, util.NotFoundf("prior question %d", *priorID)
		}
		if err != nil {
			return nil, err
		}
		// Application-level integrity: there is no DB constraint behind
		// the supersede reference.
		if prior.AuthorID != author.ID || prior.QuestionID != templateQuestion.ID {
			return nil, util.Validationf("prior question %d does not belong to this author and template", *priorID)
		}
		if err := s.UGRepo.MarkSuperseded(tx, prior.ID, created.ID); err != nil {
			return nil, err
		}
	}

	return created, nil
}

// State derives the lifecycle state of a crowd question.
func (s *LifecycleService) State(ugQuestion *model.UserGeneratedQuestion, settings Settings) (string, error) {
	if ugQuestion.SupersededBy != nil {
		return UGQStateSuperseded, nil
	}
	reviewCap := settings.Int(SettingUGQReviewCap, defaultUGQReviewCap)
	senseThreshold := settings.Int(SettingUGQSenseThreshold, defaultUGQSenseThreshold)
	stats, err := s.statsFor(s.DB, ugQuestion.ID, senseThreshold)
	if err != nil {
		return "", err
	}
	switch {
	case stats.count == 0:
		return UGQStateUnreviewed, nil
	case stats.count < reviewCap:
		return UGQStateUnderReview, nil
	case stats.sensible*2 > reviewCap:
		return UGQStateAccepted, nil
	default:
		return UGQStateRejected, nil
	}
}
