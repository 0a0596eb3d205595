// Package webhook delivers notifications to an HTTP push gateway.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/anonchat/edgeworker/internal/push"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

// Config holds gateway configuration.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Sender posts notifications to the gateway. It implements push.Displayer.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a new gateway sender.
func NewSender(config Config) *Sender {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Display sends n to the gateway.
func (s *Sender) Display(ctx context.Context, n push.Notification) error {
	if s.config.URL == "" {
		return &PermanentError{Message: "gateway URL is empty"}
	}

	body, err := json.Marshal(gatewayPayload{Notification: n, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.Tag != "" {
		// Gateways collapse notifications sharing a topic.
		req.Header.Set("Topic", n.Tag)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp)
}

type gatewayPayload struct {
	Notification push.Notification `json:"notification"`
	SentAt       time.Time         `json:"sentAt"`
}

func (s *Sender) handleResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		slog.Debug("notification delivered to gateway", "gateway", maskURL(s.config.URL), "status", resp.StatusCode)
		return nil

	case resp.StatusCode == http.StatusBadRequest:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("bad request: %s", string(body)),
		}

	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: "gateway rejected credentials",
		}

	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: "subscription not found",
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		return &RetryableError{
			Code:    resp.StatusCode,
			Message: "rate limited",
		}

	case resp.StatusCode >= 500:
		return &RetryableError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("server error: %s", string(body)),
		}

	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// maskURL hides the middle of the gateway URL, which often embeds a token.
func maskURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-10:]
	}
	return url
}

// PermanentError indicates a permanent error that should not be retried.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("push gateway error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("push gateway error: %s", e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary error that can be retried.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("push gateway error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("push gateway error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }
