package service

import (
	"context"
	"fmt"
	"time"

	"adaptive_quiz_backend/internal/config"
	"adaptive_quiz_backend/internal/model"
	"adaptive_quiz_backend/internal/repository"
	"adaptive_quiz_backend/internal/util"
	"adaptive_quiz_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SyncResponse is everything the client needs to rebuild its local
// state after draining its answer queue: effective settings, the
// refreshed question pool, and the answer history.
// swagger:model SyncResponse
type SyncResponse struct {
	LectureID int64               `json:"lectureId"`
	Settings  Settings            `json:"settings"`
	Pool      []AllocatedQuestion `json:"pool"`
	Result    *SyncResult         `json:"result"`
	History   *AnswerHistory      `json:"history"`
}

// SyncService runs the full sync pipeline for one (student, lecture)
// pair: settings resolution, answer queue replay, pool rebuild. A
// redis mutex keeps two device syncs for the same pair from
// interleaving.
type SyncService struct {
	SettingsSvc *SettingsService
	AnswerSvc   *AnswerService
	AllocSvc    *AllocationService
	LectureRepo *repository.LectureRepository
	DB          *gorm.DB
	RDB         *redis.Client
	Engine      config.EngineConfig
}

func NewSyncService(settingsSvc *SettingsService, answerSvc *AnswerService, allocSvc *AllocationService, lectureRepo *repository.LectureRepository, db *gorm.DB, rdb *redis.Client, engine config.EngineConfig) *SyncService {
	return &SyncService{
		SettingsSvc: settingsSvc,
		AnswerSvc:   answerSvc,
		AllocSvc:    allocSvc,
		LectureRepo: lectureRepo,
		DB:          db,
		RDB:         rdb,
		Engine:      engine,
	}
}

func syncLockKey(studentID, lectureID uint) string {
	return fmt.Sprintf("sync:lock:%d:%d", studentID, lectureID)
}

// acquireLock takes the per-pair sync mutex. Without redis (unit
// tests, single-node dev) row locks inside the transactions still
// protect correctness, so the mutex degrades to a no-op.
func (s *SyncService) acquireLock(ctx context.Context, studentID, lectureID uint) (func(), error) {
	if s.RDB == nil {
		return func() {}, nil
	}
	ttl := time.Duration(s.Engine.SyncLockSeconds) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	key := syncLockKey(studentID, lectureID)
	ok, err := s.RDB.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		logger.Log.Warn("sync lock unavailable, proceeding on row locks",
			zap.String("key", key), zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, util.ErrSyncInProgress
	}
	return func() {
		if err := s.RDB.Del(context.Background(), key).Err(); err != nil {
			logger.Log.Warn("sync lock release failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

// Sync drains the client's answer queue and returns the refreshed
// engine state for the lecture.
func (s *SyncService) Sync(ctx context.Context, student *model.Student, lectureID uint, entries []AnswerQueueEntry) (*SyncResponse, error) {
	lecture, err := s.LectureRepo.FindByID(lectureID)
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("%w: %d", util.ErrLectureNotFound, lectureID)
	}
	if err != nil {
		return nil, err
	}

	release, err := s.acquireLock(ctx, student.ID, lecture.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	var settings Settings
	if err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		settings, err = s.SettingsSvc.Resolve(tx, lecture, student)
		return err
	}); err != nil {
		return nil, err
	}

	result, err := s.AnswerSvc.ParseAnswerQueue(ctx, student, lecture, settings, entries)
	if err != nil {
		return nil, err
	}

	pool, err := s.AllocSvc.UpdateAllocation(student, lecture, settings)
	if err != nil {
		return nil, err
	}

	history, err := s.AnswerSvc.GetAnswerHistory(student, lecture)
	if err != nil {
		return nil, err
	}

	logger.Log.Info("sync completed",
		zap.Uint("studentId", student.ID),
		zap.Uint("lectureId", lecture.ID),
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("poolSize", len(pool)))

	return &SyncResponse{
		LectureID: int64(lecture.ID),
		Settings:  settings,
		Pool:      pool,
		Result:    result,
		History:   history,
	}, nil
}
