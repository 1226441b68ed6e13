// Package gateway wraps the external payment provider's REST API. Only the
// reconciliation contract is exposed: session initialization and reference
// verification.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"storefront-service/config"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// Statuses the provider reports on verification
const (
	TxStatusSuccess   = "success"
	TxStatusFailed    = "failed"
	TxStatusPending   = "pending"
	TxStatusAbandoned = "abandoned"
)

type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
	logger    *zap.Logger
}

// InitResult is the provider's response to a session initialization
type InitResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// VerifyResult is the provider's view of one payment reference
type VerifyResult struct {
	Status string
	Amount int64
	Raw    string
}

// NewClient creates a new gateway client with a bounded request timeout
func NewClient(cfg config.GatewayConfig) *Client {
	return &Client{
		baseURL:   cfg.BaseURL,
		secretKey: cfg.SecretKey,
		http: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		logger: util.GetLogger(),
	}
}

type initRequest struct {
	Email       string `json:"email"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type initResponse struct {
	Status  bool       `json:"status"`
	Message string     `json:"message"`
	Data    InitResult `json:"data"`
}

// InitializeTransaction opens a payment session for the given reference
func (c *Client) InitializeTransaction(ctx context.Context, email string, amount int64, reference, callbackURL string) (*InitResult, error) {
	body, err := json.Marshal(initRequest{
		Email:       email,
		Amount:      amount,
		Reference:   reference,
		CallbackURL: callbackURL,
	})
	if err != nil {
		return nil, err
	}

	raw, err := c.doRequest(ctx, http.MethodPost, "/transaction/initialize", body)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize transaction: %w", err)
	}

	var resp initResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode initialize response: %w", err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("gateway rejected initialization: %s", resp.Message)
	}

	return &resp.Data, nil
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status string `json:"status"`
		Amount int64  `json:"amount"`
	} `json:"data"`
}

// VerifyTransaction asks the provider for the authoritative state of a
// reference. Safe to call repeatedly.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*VerifyResult, error) {
	start := time.Now()
	defer func() {
		util.GatewayVerifyLatency.Observe(time.Since(start).Seconds())
	}()

	raw, err := c.doRequest(ctx, http.MethodGet, "/transaction/verify/"+reference, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to verify transaction: %w", err)
	}

	var resp verifyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode verify response: %w", err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("gateway could not verify reference: %s", resp.Message)
	}

	return &VerifyResult{
		Status: resp.Data.Status,
		Amount: resp.Data.Amount,
		Raw:    string(raw),
	}, nil
}

// doRequest performs one call with a single retry on transport errors and
// 5xx responses. The provider treats both endpoints as idempotent.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn("Gateway request failed",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("gateway returned %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, raw)
		}

		return raw, nil
	}

	return nil, lastErr
}
