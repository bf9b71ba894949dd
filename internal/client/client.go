// Package client is a Go SDK for the Kue API together with the client-side
// quota arbiter: an advisory view of the user's credits that hides request
// latency and is always overwritten by authoritative values from the server.
package client

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

	"github.com/gorilla/websocket"

	"github.com/kue-app/backend/internal/api/handlers"
	"github.com/kue-app/backend/internal/payment"
)

// DefaultTimeout bounds one HTTP call. Generation includes an LLM round trip.
const DefaultTimeout = 60 * time.Second

var (
	// ErrQuotaExceeded is matched by a 402 quota_exceeded response.
	ErrQuotaExceeded = errors.New("client: quota exceeded")
	// ErrUnauthorized is matched by a 401 response.
	ErrUnauthorized = errors.New("client: unauthorized")
)

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Data       json.RawMessage
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Is lets callers match the quota and auth sentinels with errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrQuotaExceeded:
		return e.StatusCode == http.StatusPaymentRequired
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

// Balance extracts the authoritative balance a quota rejection carries.
func (e *APIError) Balance() (handlers.BalanceView, bool) {
	var body struct {
		Credits *handlers.BalanceView `json:"credits"`
	}
	if len(e.Data) == 0 || json.Unmarshal(e.Data, &body) != nil || body.Credits == nil {
		return handlers.BalanceView{}, false
	}
	return *body.Credits, true
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
	Code  string          `json:"code"`
}

// Client talks to the Kue HTTP API on behalf of one signed-in user.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// New creates a client for baseURL (e.g. https://api.kue.app) using a
// bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		dialer:     websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Balance fetches the authoritative credit balance.
func (c *Client) Balance(ctx context.Context) (*handlers.BalanceView, error) {
	var out handlers.BalanceView
	if err := c.do(ctx, http.MethodGet, "/api/v1/credits", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Generate requests reply suggestions.
func (c *Client) Generate(ctx context.Context, req handlers.GenerateRequest) (*handlers.GenerateResponse, error) {
	var out handlers.GenerateResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/generate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateOrder starts a checkout for plan. The upgrade itself arrives later as
// a balance push once the gateway confirms payment.
func (c *Client) CreateOrder(ctx context.Context, plan string) (*payment.Order, error) {
	var out payment.Order
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments/orders", handlers.CreateOrderRequest{Plan: plan}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stream connects to the live balance channel and calls fn for every frame
// until ctx ends or the connection drops. The first frame is a snapshot.
func (c *Client) Stream(ctx context.Context, fn func(handlers.BalanceView)) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/v1/credits/stream"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("dial balance stream: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var msg handlers.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read balance stream: %w", err)
		}
		if msg.Type == "balance" {
			fn(msg.Data)
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	if resp.StatusCode >= 300 {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: msg, Data: env.Data}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}
