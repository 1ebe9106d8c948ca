package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"adaptive_quiz_backend/internal/config"
	"adaptive_quiz_backend/internal/util"
	"adaptive_quiz_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// QuestionContent is the authoritative question body held by the
// content collaborator. Grading never trusts the client-side copy.
type QuestionContent struct {
	Text           string   `json:"text"`
	Choices        []string `json:"choices"`
	CorrectIndices []int    `json:"correctChoiceIndices"`
}

func (qc *QuestionContent) IsCorrect(choice int) bool {
	for _, idx := range qc.CorrectIndices {
		if idx == choice {
			return true
		}
	}
	return false
}

// ContentProvider is the narrow interface the engine needs from the
// content/document layer.
type ContentProvider interface {
	FetchQuestionContent(ctx context.Context, ref string) (*QuestionContent, error)
	ReportQuestionStats(ctx context.Context, ref string, timesAnswered, timesCorrect int64)
}

// ContentService talks to the hosting application's content API over
// HTTP, with a redis cache in front of question fetches.
type ContentService struct {
	cfg    config.ContentConfig
	client *http.Client
	rdb    *redis.Client
}

func NewContentService(cfg config.ContentConfig, rdb *redis.Client) *ContentService {
	return &ContentService{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		rdb:    rdb,
	}
}

func (s *ContentService) cacheKey(ref string) string {
	return "content:question:" + ref
}

func (s *ContentService) FetchQuestionContent(ctx context.Context, ref string) (*QuestionContent, error) {
	if s.rdb != nil {
		if cached, err := s.rdb.Get(ctx, s.cacheKey(ref)).Result(); err == nil {
			var qc QuestionContent
			if json.Unmarshal([]byte(cached), &qc) == nil {
				return &qc, nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/questions/%s", s.cfg.BaseURL, ref), nil)
	if err != nil {
		return nil, err
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, util.ExternalServicef("content service unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, util.NotFoundf("question content %s", ref)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, util.ExternalServicef("content service returned %d for %s", resp.StatusCode, ref)
	}

	var qc QuestionContent
	if err := json.NewDecoder(resp.Body).Decode(&qc); err != nil {
		return nil, util.ExternalServicef("content service returned malformed body for %s: %v", ref, err)
	}

	if s.rdb != nil {
		if payload, err := json.Marshal(&qc); err == nil {
			ttl := time.Duration(s.cfg.CacheTTLMinutes) * time.Minute
			s.rdb.Set(ctx, s.cacheKey(ref), payload, ttl)
		}
	}

	return &qc, nil
}

// ReportQuestionStats pushes the running counters back to the content
// layer. Best-effort: failures are logged, never surfaced.
func (s *ContentService) ReportQuestionStats(ctx context.Context, ref string, timesAnswered, timesCorrect int64) {
	body, _ := json.Marshal(map[string]int64{
		"timesAnswered": timesAnswered,
		"timesCorrect":  timesCorrect,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/questions/%s/stats", s.cfg.BaseURL, ref), jsonBody(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		logger.Log.Warn("question stats report failed",
			zap.String("ref", ref), zap.Error(err))
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		logger.Log.Warn("question stats report rejected",
			zap.String("ref", ref), zap.Int("status", resp.StatusCode))
	}
}
