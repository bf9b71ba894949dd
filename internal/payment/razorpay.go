package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultBaseURL = "https://api.razorpay.com/v1"
	DefaultTimeout = 15 * time.Second
)

// ErrNotConfigured is returned when no API credentials were provided.
var ErrNotConfigured = errors.New("payment: razorpay credentials not configured")

// Client talks to the Razorpay Orders API.
type Client struct {
	keyID      string
	keySecret  string
	baseURL    string
	httpClient *http.Client
}

// Order is the checkout handle returned to the client.
type Order struct {
	ID       string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
	// KeyID is the public key the hosted checkout needs.
	KeyID string `json:"key_id"`
}

// OrderRequest describes who is buying what.
type OrderRequest struct {
	Plan   Plan
	UserID string
	Email  string
}

type createOrderBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// APIError represents a non-2xx reply from Razorpay.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("Razorpay API error (%d): %s - %s", e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("Razorpay API error (%d): %s", e.StatusCode, e.Description)
}

// NewClient creates a Razorpay client.
func NewClient(keyID, keySecret, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		keyID:      keyID,
		keySecret:  keySecret,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreateOrder registers an order for the plan. The buyer's user id and email
// travel in the order notes so the webhook can find them again. No retry is
// attempted.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if c.keyID == "" || c.keySecret == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(createOrderBody{
		Amount:   req.Plan.Amount,
		Currency: req.Plan.Currency,
		Receipt:  "receipt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		Notes: map[string]string{
			"plan":    req.Plan.ID,
			"user_id": req.UserID,
			"email":   req.Email,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var rzErr razorpayError
		if err := json.Unmarshal(respBody, &rzErr); err == nil && rzErr.Error.Description != "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Code: rzErr.Error.Code, Description: rzErr.Error.Description}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Description: string(respBody)}
	}

	var out orderResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("razorpay returned an order without id")
	}

	return &Order{
		ID:       out.ID,
		Amount:   out.Amount,
		Currency: out.Currency,
		Receipt:  out.Receipt,
		Status:   out.Status,
		KeyID:    c.keyID,
	}, nil
}
