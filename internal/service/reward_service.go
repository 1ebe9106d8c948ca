package service

import (
	"context"

	"adaptive_quiz_backend/internal/model"
	"adaptive_quiz_backend/internal/repository"
	"adaptive_quiz_backend/pkg/logger"
	"adaptive_quiz_backend/pkg/monitoring"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Milestone thresholds are exact comparisons against these constants;
// there is deliberately no tolerance band.
const (
	GradeAnsweredThreshold = 5.000
	GradeAcedThreshold     = 9.998

	defaultAwardLectureAnswered = int64(1000)
	defaultAwardLectureAced     = int64(10000)
	defaultAwardTutorialAced    = int64(100000)
	defaultAwardTemplateQnAced  = int64(10000)
)

// RewardService computes milestone coin amounts and settles them
// against the external ledger.
type RewardService struct {
	CoinRepo    *repository.CoinAwardRepository
	AnswerRepo  *repository.AnswerRepository
	LectureRepo *repository.LectureRepository
	UGRepo      *repository.UserGeneratedRepository
	Ledger      Ledger
	DB          *gorm.DB
}

func NewRewardService(coinRepo *repository.CoinAwardRepository, answerRepo *repository.AnswerRepository, lectureRepo *repository.LectureRepository, ugRepo *repository.UserGeneratedRepository, ledger Ledger, db *gorm.DB) *RewardService {
	return &RewardService{
		CoinRepo:    coinRepo,
		AnswerRepo:  answerRepo,
		LectureRepo: lectureRepo,
		UGRepo:      ugRepo,
		Ledger:      ledger,
		DB:          db,
	}
}

// ComputeAward returns the coins earned by moving from the prior
// grade high-water-mark to newGrade. Each rule is a one-shot trigger
// against the prior mark, so resubmitting a grade never re-awards.
// The sibling check is lazy; it only runs when the aced threshold is
// actually crossed.
func ComputeAward(priorHighWaterMark, newGrade float64, settings Settings, siblingsAced func() (bool, error)) (int64, error) {
	var coins int64

	if priorHighWaterMark < GradeAnsweredThreshold && newGrade >= GradeAnsweredThreshold {
		coins += settings.Int64(SettingAwardLectureAnswered, defaultAwardLectureAnswered)
	}

	if priorHighWaterMark < GradeAcedThreshold && newGrade >= GradeAcedThreshold {
		coins += settings.Int64(SettingAwardLectureAced, defaultAwardLectureAced)

		if siblingsAced != nil {
			aced, err := siblingsAced()
			if err != nil {
				return 0, err
			}
			if aced {
				coins += settings.Int64(SettingAwardTutorialAced, defaultAwardTutorialAced)
			}
		}
	}

	return coins, nil
}

// SiblingsAced reports whether every other lecture in the tutorial
// has been aced by this student. It is a count comparison over the
// summary rows, not a per-lecture walk.
func (s *RewardService) SiblingsAced(tx *gorm.DB, student *model.Student, lecture *model.Lecture) (bool, error) {
	siblingIDs, err := s.LectureRepo.SiblingIDs(lecture)
	if err != nil {
		return false, err
	}
	others := make([]uint, 0, len(siblingIDs))
	for _, id := range siblingIDs {
		if id != lecture.ID {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return true, nil
	}

	summaries, err := s.AnswerRepo.SummariesForLectures(tx, student.ID, others)
	if err != nil {
		return false, err
	}
	aced := 0
	for _, summary := range summaries {
		if summary.GradeHighWaterMark >= GradeAcedThreshold {
			aced++
		}
	}
	return aced == len(others), nil
}

// Settle pushes earned coins to the student's wallet and records the
// ledger row. Students without a wallet accrue coins on their answer
// history and accepted authored questions and claim later; the rail
// is never called for them.
func (s *RewardService) Settle(ctx context.Context, tx *gorm.DB, student *model.Student, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if student.Wallet == "" {
		logger.Log.Debug("no wallet configured, coins accrue unclaimed",
			zap.Uint("studentId", student.ID),
			zap.Int64("amount", amount))
		return nil
	}

	txID, err := s.Ledger.SendTransaction(ctx, student.Wallet, amount)
	if err != nil {
		return err
	}

	if err := s.CoinRepo.Create(tx, &model.CoinAward{
		StudentID: student.ID,
		Amount:    amount,
		Wallet:    student.Wallet,
		TxID:      txID,
	}); err != nil {
		return err
	}
	monitoring.CoinsAwarded.Add(float64(amount))
	return nil
}

// ClaimOutstanding settles everything earned but not yet paid out.
// Idempotence comes from re-checking claimed-vs-awarded totals rather
// than retrying individual transfers.
func (s *RewardService) ClaimOutstanding(ctx context.Context, student *model.Student) (int64, error) {
	var paid int64
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var earned int64
		if err := tx.Model(&model.Answer{}).
			Where("student_id = ?", student.ID).
			Select("COALESCE(SUM(coins_awarded), 0)").
			Scan(&earned).Error; err != nil {
			return err
		}
		authored, err := s.UGRepo.TotalAuthoringCoins(tx, student.ID)
		if err != nil {
			return err
		}
		awarded, err := s.CoinRepo.TotalAwarded(tx, student.ID)
		if err != nil {
			return err
		}
		outstanding := earned + authored - awarded
		if outstanding <= 0 {
			return nil
		}
		if err := s.Settle(ctx, tx, student, outstanding); err != nil {
			return err
		}
		paid = outstanding
		return nil
	})
	return paid, err
}

func (s *RewardService) History(student *model.Student) ([]model.CoinAward, error) {
	return s.CoinRepo.FindByStudent(student.ID)
}
