package push

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/anonchat/edgeworker/internal/clients"
	"github.com/anonchat/edgeworker/internal/pkg/ctxlog"
	"github.com/anonchat/edgeworker/internal/protocol"
)

// Windows is the set of open pages a click can be routed to.
type Windows interface {
	MatchAll(origin string) []*clients.Client
	Focus(c *clients.Client, msg protocol.Message) bool
}

// Config configures notification handling.
type Config struct {
	// AppURL is the application origin, e.g. https://chat.example.com.
	AppURL string
	// ChatPath is the in-app chat route used for deep links.
	ChatPath string
	// Defaults is merged under every push payload.
	Defaults Notification
	// Retry bounds how often a temporary displayer error is retried.
	Retry RetryConfig
}

// RetryConfig is the backoff for displayer errors that classify themselves
// as retryable.
type RetryConfig struct {
	Attempts          int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig keeps retries well inside a push request timeout.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:          3,
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (c RetryConfig) backoff(attempt int) time.Duration {
	backoff := float64(c.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= c.BackoffMultiplier
	}
	if backoff > float64(c.MaxBackoff) {
		backoff = float64(c.MaxBackoff)
	}
	return time.Duration(backoff)
}

// ClickEvent is a notification interaction reported by the platform.
type ClickEvent struct {
	Action       string       `json:"action" validate:"max=64"`
	Notification Notification `json:"notification"`
}

// ClickResult tells the caller where the click was routed. When OpenWindow
// is set no page was open and the caller must open URL itself.
type ClickResult struct {
	Action     string `json:"action"`
	URL        string `json:"url"`
	SessionID  string `json:"sessionId,omitempty"`
	ClientID   string `json:"clientId,omitempty"`
	Focused    bool   `json:"focused"`
	OpenWindow bool   `json:"openWindow"`
}

// CloseEvent reports a dismissed notification.
type CloseEvent struct {
	Notification Notification `json:"notification"`
}

// Handler displays notifications and routes clicks.
type Handler struct {
	config     Config
	origin     string
	displayers []Displayer
	windows    Windows
}

// NewHandler creates a notification handler.
func NewHandler(cfg Config, windows Windows, displayers ...Displayer) (*Handler, error) {
	u, err := url.Parse(cfg.AppURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid app url %q", cfg.AppURL)
	}
	if cfg.ChatPath == "" {
		cfg.ChatPath = "/chat"
	}
	if cfg.Defaults.Title == "" {
		cfg.Defaults = Defaults()
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	return &Handler{
		config:     cfg,
		origin:     u.Scheme + "://" + u.Host,
		displayers: displayers,
		windows:    windows,
	}, nil
}

// Push parses raw and displays the result. A bad payload never fails the
// push; only display errors are returned.
func (h *Handler) Push(ctx context.Context, raw []byte) (Notification, error) {
	logger := ctxlog.FromContext(ctx)

	n, err := ParsePayload(raw, h.config.Defaults)
	switch {
	case err != nil:
		pushesReceived.WithLabelValues("malformed").Inc()
		logger.Warn("malformed push payload, showing defaults", "error", err)
	case len(raw) == 0:
		pushesReceived.WithLabelValues("empty").Inc()
	default:
		pushesReceived.WithLabelValues("custom").Inc()
	}

	if len(h.displayers) == 0 {
		return n, ErrNoDisplayer
	}

	var errs []error
	retryable := true
	for _, d := range h.displayers {
		if err := h.display(ctx, d, n); err != nil {
			errs = append(errs, err)
			retryable = retryable && IsRetryable(err)
		}
	}
	// One working displayer is enough.
	if len(errs) == len(h.displayers) {
		if retryable {
			return n, fmt.Errorf("%w: %w", ErrDisplayUnavailable, errors.Join(errs...))
		}
		return n, fmt.Errorf("display notification: %w", errors.Join(errs...))
	}
	for _, err := range errs {
		logger.Warn("notification displayer failed", "error", err)
	}

	logger.Info("notification displayed", "tag", n.Tag, "session_id", n.SessionID())
	return n, nil
}

// display shows n on d, retrying temporary errors with exponential backoff.
func (h *Handler) display(ctx context.Context, d Displayer, n Notification) error {
	retry := h.config.Retry
	for attempt := 1; ; attempt++ {
		err := d.Display(ctx, n)
		if err == nil {
			return nil
		}
		displayErrors.Inc()
		if !IsRetryable(err) || attempt >= retry.Attempts {
			return err
		}

		wait := retry.backoff(attempt)
		ctxlog.FromContext(ctx).Warn("notification display failed, retrying",
			"attempt", attempt, "max_attempts", retry.Attempts, "backoff", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

// Click closes the notification and routes the user to the chat: the first
// open page of the app is focused and told where to go, otherwise the result
// asks the caller to open a window.
func (h *Handler) Click(ctx context.Context, ev ClickEvent) ClickResult {
	sessionID := ev.Notification.SessionID()
	logger := ctxlog.FromContext(ctx).With("action", ev.Action, "session_id", sessionID)
	logger.Debug("notification closed on click", "tag", ev.Notification.Tag)

	action := ev.Action
	if action == "" {
		action = "default"
	}
	interactions.WithLabelValues("click", action).Inc()

	result := ClickResult{
		Action:    action,
		URL:       h.TargetURL(ev.Action, sessionID),
		SessionID: sessionID,
	}

	for _, page := range h.windows.MatchAll(h.origin) {
		msg := protocol.NotificationClick{Action: action, SessionID: sessionID, URL: result.URL}
		if h.windows.Focus(page, msg) {
			result.Focused = true
			result.ClientID = page.ID
			logger.Info("notification click routed to open page", "client_id", page.ID)
			return result
		}
	}

	result.OpenWindow = true
	logger.Info("no open page, opening window", "url", result.URL)
	return result
}

// Close records a dismissal.
func (h *Handler) Close(ctx context.Context, ev CloseEvent) {
	interactions.WithLabelValues("close", "dismiss").Inc()
	ctxlog.FromContext(ctx).Info("notification dismissed",
		"tag", ev.Notification.Tag,
		"session_id", ev.Notification.SessionID(),
	)
}

// TargetURL is the deep link for a clicked action.
func (h *Handler) TargetURL(action, sessionID string) string {
	var b strings.Builder
	b.WriteString(h.origin)
	b.WriteString(h.config.ChatPath)

	var params []string
	if sessionID != "" {
		params = append(params, "session="+url.QueryEscape(sessionID))
	}
	if action == ActionReply {
		params = append(params, "focus=input")
	}
	if len(params) > 0 {
		b.WriteByte('?')
		b.WriteString(strings.Join(params, "&"))
	}
	return b.String()
}
