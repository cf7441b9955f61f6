// Package transport implements the chat.Transport contract against the Kai
// backend's REST API.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/kaigo-dev/kaigo/chat"
)

const defaultTimeout = 60 * time.Second

// HTTPClient talks to the Kai backend over HTTP.
//
// Endpoints:
//
//	POST   /api/chat
//	DELETE /api/chat/session/{user_id}
//	GET    /api/chat/proactive/{user_id}
type HTTPClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// Options configures an HTTPClient.
type Options struct {
	// Timeout bounds each request (default: 60s).
	Timeout time.Duration
	// RateLimit caps outbound requests per second (0 = unlimited).
	// The backend enforces per-route limits; staying under them client-side
	// avoids burning a user turn on a 429.
	RateLimit float64
	// Logger for request failures. Defaults to a no-op logger.
	Logger zerolog.Logger
}

// NewHTTPClient creates a client for the Kai backend at baseURL.
func NewHTTPClient(baseURL string, opts Options) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		log:     opts.Logger,
	}, nil
}

// SendChat sends one user message plus prior turns and returns the reply.
func (c *HTTPClient) SendChat(ctx context.Context, req *chat.ChatRequest) (*chat.ChatResponse, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// http.Client wraps the context error; unwrapping via errors.Is
		// still works, so cancellation stays distinguishable upstream.
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var out chat.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	return &out, nil
}

// ClearSession clears the server-side conversation buffer for a user.
func (c *HTTPClient) ClearSession(ctx context.Context, userID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + "/api/chat/session/" + url.PathEscape(userID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build clear request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("clear request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}
	return nil
}

// ProactiveCheckIn asks the backend for an unprompted check-in message.
// Returns (nil, nil) when the backend has nothing to offer.
func (c *HTTPClient) ProactiveCheckIn(ctx context.Context, userID string) (*chat.ChatResponse, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/api/chat/proactive/" + url.PathEscape(userID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build proactive request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("proactive request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read proactive response: %w", err)
	}
	// The backend returns a JSON null when no check-in is due.
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}

	var out chat.ChatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode proactive response: %w", err)
	}
	return &out, nil
}

// wait blocks on the rate limiter, if one is configured.
func (c *HTTPClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// statusError turns a non-200 response into an error carrying the backend's
// detail message when one is present.
func (c *HTTPClient) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var detail struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail != "" {
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, detail.Detail)
	}

	c.log.Debug().Int("status", resp.StatusCode).Msg("backend error without detail")
	return fmt.Errorf("backend returned %d", resp.StatusCode)
}
