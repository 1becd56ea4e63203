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
	"time"

	"github.com/upshift01/upshift-sub003/config"
	"github.com/upshift01/upshift-sub003/model"
)

// CheckoutProvider is the payment provider as the engine sees it: create a
// hosted checkout session, query its authoritative status. The HTTP client
// below implements it; tests substitute fakes.
type CheckoutProvider interface {
	CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error)
	GetCheckout(ctx context.Context, sessionID string) (*CheckoutStatus, error)
}

// CheckoutRequest describes the payment to collect. Amount is in minor
// currency units.
type CheckoutRequest struct {
	Amount      int64
	Currency    string
	Reference   string
	Description string
}

// CheckoutSession is a freshly created provider session.
type CheckoutSession struct {
	SessionID   string
	CheckoutURL string
}

// CheckoutStatus is the provider's authoritative view of a session.
type CheckoutStatus struct {
	SessionID string
	Status    string // pending, paid, failed, cancelled
	Amount    int64
	Currency  string
}

// CheckoutClient talks to the payment provider's REST API.
type CheckoutClient struct {
	config     *config.PaymentsConfig
	httpClient *http.Client
}

func NewCheckoutClient(cfg *config.PaymentsConfig) *CheckoutClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CheckoutClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type checkoutCreateRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
	Description string `json:"description,omitempty"`
	SuccessURL  string `json:"success_url,omitempty"`
	CancelURL   string `json:"cancel_url,omitempty"`
}

type checkoutCreateResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		SessionID   string `json:"session_id"`
		CheckoutURL string `json:"checkout_url"`
	} `json:"data"`
}

type checkoutStatusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
	} `json:"data"`
}

// CreateCheckout creates a hosted checkout session at the provider.
func (c *CheckoutClient) CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	body := checkoutCreateRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Reference:   req.Reference,
		Description: req.Description,
		SuccessURL:  c.config.SuccessURL,
		CancelURL:   c.config.CancelURL,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.APIURL+"/v1/checkout/sessions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result checkoutCreateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w, body: %s", err, string(respBody))
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("provider error: %s", result.Message)
	}
	if result.Data.SessionID == "" || result.Data.CheckoutURL == "" {
		return nil, fmt.Errorf("provider returned an incomplete session")
	}

	return &CheckoutSession{
		SessionID:   result.Data.SessionID,
		CheckoutURL: result.Data.CheckoutURL,
	}, nil
}

// GetCheckout queries the authoritative status of a session.
func (c *CheckoutClient) GetCheckout(ctx context.Context, sessionID string) (*CheckoutStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/checkout/sessions/%s", c.config.APIURL, sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result checkoutStatusResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("provider error: %s", result.Message)
	}

	return &CheckoutStatus{
		SessionID: result.Data.SessionID,
		Status:    result.Data.Status,
		Amount:    result.Data.Amount,
		Currency:  result.Data.Currency,
	}, nil
}

// VerifyWebhook verifies a provider webhook checksum.
// Checksum = SHA256(session_id + secret + content).
func (c *CheckoutClient) VerifyWebhook(checksum, content, sessionID string) bool {
	data := sessionID + c.config.WebhookSecret + content
	hash := sha256.Sum256([]byte(data))
	expected := hex.EncodeToString(hash[:])
	return checksum == expected
}

// KnownSessionStatus reports whether the provider status is one the engine
// models. Anything else is treated as ambiguous and never committed.
func KnownSessionStatus(status string) bool {
	switch status {
	case model.SessionPending, model.SessionPaid, model.SessionFailed, model.SessionCancelled:
		return true
	}
	return false
}
