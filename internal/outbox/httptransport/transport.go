// Package httptransport replays queued messages to the upstream
// message-send endpoint.
package httptransport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/anonchat/edgeworker/internal/domain"
	"github.com/anonchat/edgeworker/internal/outbox"
	"github.com/anonchat/edgeworker/internal/upstream"
	"golang.org/x/time/rate"
)

// maxErrorBody bounds how much of a rejection body ends up in errors.
const maxErrorBody = 512

// Config configures the transport.
type Config struct {
	SendPath string
	// Rate limits resends per second; zero means unlimited.
	Rate  float64
	Burst int
}

// Transport implements outbox.Transport over the upstream client.
type Transport struct {
	client   *upstream.Client
	sendPath string
	limiter  *rate.Limiter
}

// New creates a transport.
func New(client *upstream.Client, cfg Config) *Transport {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}

	return &Transport{
		client:   client,
		sendPath: cfg.SendPath,
		limiter:  limiter,
	}
}

// Send posts the original payload plus the correlation id. Any 2xx is
// success.
func (t *Transport) Send(ctx context.Context, msg *domain.QueuedMessage) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for resend slot: %w", err)
	}

	body, err := msg.Payload()
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	resp, err := t.client.Do(ctx, upstream.Request{
		Method: http.MethodPost,
		Path:   t.sendPath,
		Header: http.Header{
			"Content-Type":    {"application/json"},
			"Idempotency-Key": {msg.ID},
		},
		Body: body,
	})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		slog.Debug("queued message resent", "message_id", msg.ID, "status", resp.StatusCode)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &outbox.SendError{StatusCode: resp.StatusCode, Body: string(snippet)}
}
