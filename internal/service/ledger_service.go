package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"adaptive_quiz_backend/internal/config"
	"adaptive_quiz_backend/internal/util"
	"adaptive_quiz_backend/pkg/logger"

	"go.uber.org/zap"
)

// Ledger is the payment rail the engine pushes coin awards to.
type Ledger interface {
	SendTransaction(ctx context.Context, wallet string, amount int64) (string, error)
}

// LedgerService is the HTTP client for the external coin ledger.
// Wallets carrying the sandbox prefix never hit the rail; they get a
// deterministic fake transaction id so test and demo accounts behave
// identically every run.
type LedgerService struct {
	cfg    config.LedgerConfig
	client *http.Client
}

func NewLedgerService(cfg config.LedgerConfig) *LedgerService {
	return &LedgerService{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

type ledgerResponse struct {
	TxID  string `json:"txId"`
	Error string `json:"error"`
}

func (s *LedgerService) SendTransaction(ctx context.Context, wallet string, amount int64) (string, error) {
	if wallet == "" {
		return "", util.ErrInvalidWallet
	}

	if s.cfg.SandboxPrefix != "" && strings.HasPrefix(wallet, s.cfg.SandboxPrefix) {
		sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", wallet, amount)))
		return "sandbox-" + hex.EncodeToString(sum[:8]), nil
	}

	body, _ := json.Marshal(map[string]interface{}{
		"wallet": wallet,
		"amount": amount,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.BaseURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", util.ExternalServicef("ledger unreachable: %v", err)
	}
	defer resp.Body.Close()

	var parsed ledgerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", util.ExternalServicef("ledger returned malformed body: %v", err)
	}

	// The rail's own error code for a bad destination maps onto the
	// engine's validation taxonomy; anything else is opaque.
	if parsed.Error == "invalid_address" {
		return "", util.ErrInvalidWallet
	}
	if resp.StatusCode != http.StatusOK || parsed.TxID == "" {
		logger.Log.Error("ledger transaction failed",
			zap.Int("status", resp.StatusCode),
			zap.String("railError", parsed.Error))
		return "", util.ExternalServicef("ledger rejected transaction (status %d)", resp.StatusCode)
	}

	return parsed.TxID, nil
}

// jsonBody wraps a marshaled payload for request construction.
func jsonBody(b []byte) io.Reader {
	return bytes.NewReader(b)
}
