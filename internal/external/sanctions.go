package external

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"processing-api/internal/models"
)

// ScreenResult is the outcome of a sanctions list check.
type ScreenResult struct {
	Hit      bool   `json:"hit"`
	ListName string `json:"list_name,omitempty"`
	MatchID  string `json:"match_id,omitempty"`
}

// SanctionsScreen checks transaction parties against sanctions lists.
type SanctionsScreen interface {
	Screen(ctx context.Context, transaction *models.Transaction) (*ScreenResult, error)
}

type SanctionsScreenConfig struct {
	BaseURL    string
	APIKey     string
	SecretKey  string
	Timeout    time.Duration
	MaxRetries int
}

type httpSanctionsScreen struct {
	httpClient *http.Client
	config     *SanctionsScreenConfig
}

// NewHTTPSanctionsScreen returns a SanctionsScreen backed by an external
// screening provider.
func NewHTTPSanctionsScreen(config *SanctionsScreenConfig) SanctionsScreen {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}

	return &httpSanctionsScreen{
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		config: config,
	}
}

func (s *httpSanctionsScreen) Screen(ctx context.Context, transaction *models.Transaction) (*ScreenResult, error) {
	payload := map[string]interface{}{
		"transaction_id":      transaction.TransactionID,
		"user_id":             transaction.UserID,
		"amount":              transaction.Amount.String(),
		"currency":            transaction.Currency,
		"source_country":      transaction.SourceCountry,
		"destination_country": transaction.DestinationCountry,
		"purpose":             transaction.Purpose,
	}

	var result ScreenResult
	if err := s.makeRequest(ctx, "POST", "/screen/transaction", payload, &result); err != nil {
		return nil, fmt.Errorf("sanctions screening failed: %w", err)
	}

	return &result, nil
}

func (s *httpSanctionsScreen) makeRequest(ctx context.Context, method, endpoint string, payload interface{}, result interface{}) error {
	var jsonData []byte
	if payload != nil {
		var err error
		jsonData, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	url := s.config.BaseURL + endpoint

	var resp *http.Response
	var lastErr error

	// The request is rebuilt per attempt; a retry after Do would otherwise
	// send an already-consumed body.
	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		var body io.Reader
		if jsonData != nil {
			body = bytes.NewReader(jsonData)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", s.config.APIKey)
		if jsonData != nil {
			req.Header.Set("X-Signature", s.sign(jsonData))
		}

		resp, lastErr = s.httpClient.Do(req)
		if lastErr == nil && resp.StatusCode < 500 {
			break
		}
		if attempt == s.config.MaxRetries-1 {
			break
		}

		if resp != nil {
			resp.Body.Close()
			resp = nil
		}

		select {
		case <-time.After(time.Duration(attempt+1) * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if lastErr != nil {
		return fmt.Errorf("request failed after %d attempts: %w", s.config.MaxRetries, lastErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("screening request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func (s *httpSanctionsScreen) sign(data []byte) string {
	h := hmac.New(sha256.New, []byte(s.config.SecretKey))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// noHitSanctionsScreen reports every party as clear. Default for local
// development and tests.
type noHitSanctionsScreen struct{}

func NewNoHitSanctionsScreen() SanctionsScreen {
	return &noHitSanctionsScreen{}
}

func (s *noHitSanctionsScreen) Screen(ctx context.Context, transaction *models.Transaction) (*ScreenResult, error) {
	return &ScreenResult{Hit: false}, nil
}

// StaticSanctionsScreen flags configured users. Used to exercise the
// sanctions hold path deterministically.
type StaticSanctionsScreen struct {
	ListName     string
	FlaggedUsers map[int64]bool
}

func (s *StaticSanctionsScreen) Screen(ctx context.Context, transaction *models.Transaction) (*ScreenResult, error) {
	if s.FlaggedUsers[transaction.UserID] {
		return &ScreenResult{Hit: true, ListName: s.ListName}, nil
	}
	return &ScreenResult{Hit: false}, nil
}
