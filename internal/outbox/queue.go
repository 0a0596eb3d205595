package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anonchat/edgeworker/internal/domain"
	"github.com/anonchat/edgeworker/internal/protocol"
	"github.com/google/uuid"
)

// DefaultMaxRetries is the number of failed replays after which a message
// is dropped and reported as failed.
const DefaultMaxRetries = 3

// Config configures a Queue.
type Config struct {
	MaxRetries int
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Attempted int
	Sent      int
	Requeued  int
	Failed    int
}

// Queue owns the queued messages. Durable storage is the source of truth;
// the in-memory mirror holds the messages still eligible for replay and is
// rebuilt by Reconcile.
type Queue struct {
	repo       Repository
	transport  Transport
	notifier   Notifier
	maxRetries int

	now       func() time.Time
	newSuffix func() string

	mu      sync.Mutex
	pending []*domain.QueuedMessage

	// drainMu serializes drain passes.
	drainMu sync.Mutex
}

// NewQueue creates a queue. Call Reconcile before serving traffic.
func NewQueue(repo Repository, transport Transport, notifier Notifier, cfg Config) *Queue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Queue{
		repo:       repo,
		transport:  transport,
		notifier:   notifier,
		maxRetries: cfg.MaxRetries,
		now:        time.Now,
		newSuffix:  randomSuffix,
	}
}

// Reconcile loads every durable record into the mirror. Messages already in
// the mirror are kept; order is by enqueue time.
func (q *Queue) Reconcile(ctx context.Context) (int, error) {
	stored, err := q.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list queued messages: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[string]bool, len(q.pending))
	for _, m := range q.pending {
		seen[m.ID] = true
	}
	loaded := 0
	for _, m := range stored {
		if seen[m.ID] {
			continue
		}
		q.pending = append(q.pending, m)
		loaded++
	}
	sort.SliceStable(q.pending, func(i, j int) bool {
		return q.pending[i].Timestamp < q.pending[j].Timestamp
	})
	recordQueueSize(len(q.pending))

	slog.Info("outbox reconciled", "loaded", loaded, "pending", len(q.pending))
	return loaded, nil
}

// Enqueue assigns id, timestamp and retry count to msg, persists it and
// appends it to the mirror. The durable write happens first; if it fails
// the message is not queued at all.
func (q *Queue) Enqueue(ctx context.Context, msg *domain.QueuedMessage) (*domain.QueuedMessage, error) {
	now := q.now()
	msg.ID = fmt.Sprintf("%d-%s", now.UnixMilli(), q.newSuffix())
	msg.Timestamp = now.UnixMilli()
	msg.RetryCount = 0

	if err := q.repo.Save(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist queued message: %w", err)
	}

	q.mu.Lock()
	q.pending = append(q.pending, msg)
	n := len(q.pending)
	q.mu.Unlock()

	messagesEnqueued.Inc()
	recordQueueSize(n)

	slog.Info("message queued for replay",
		"message_id", msg.ID,
		"session_id", msg.SessionID,
		"pending", n,
	)
	return msg, nil
}

// Drain attempts to resend every message currently in the mirror, oldest
// first. Messages enqueued while a drain runs wait for the next one.
// Storage errors do not stop the pass; they are joined into the returned
// error.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	q.mu.Lock()
	snapshot := q.pending
	q.pending = nil
	q.mu.Unlock()

	var result DrainResult
	if len(snapshot) == 0 {
		return result, nil
	}

	drainsTotal.Inc()
	slog.Debug("draining outbox", "count", len(snapshot))

	var errs []error
	for _, msg := range snapshot {
		if ctx.Err() != nil {
			// Not attempted: back into the mirror untouched.
			q.requeue(msg)
			continue
		}
		result.Attempted++
		if err := q.replay(ctx, msg, &result); err != nil {
			errs = append(errs, err)
		}
	}

	q.mu.Lock()
	recordQueueSize(len(q.pending))
	q.mu.Unlock()

	if ctx.Err() != nil {
		errs = append(errs, ctx.Err())
	}

	slog.Info("outbox drained",
		"attempted", result.Attempted,
		"sent", result.Sent,
		"requeued", result.Requeued,
		"failed", result.Failed,
	)
	return result, errors.Join(errs...)
}

func (q *Queue) replay(ctx context.Context, msg *domain.QueuedMessage, result *DrainResult) error {
	state, _, err := Transition(StatePending, EventSend, msg.RetryCount, q.maxRetries)
	if err != nil {
		return err
	}

	start := time.Now()
	sendErr := q.transport.Send(ctx, msg)
	elapsed := time.Since(start)

	if sendErr == nil {
		state, _, _ = Transition(state, EventSucceeded, msg.RetryCount, q.maxRetries)
		return q.complete(ctx, msg, state, nil, elapsed, result)
	}

	if ctx.Err() != nil {
		// Interrupted, not failed: the attempt does not count.
		result.Attempted--
		q.requeue(msg)
		return nil
	}

	state, msg.RetryCount, _ = Transition(state, EventFailed, msg.RetryCount, q.maxRetries)
	if state == StateFailedTerminal {
		return q.complete(ctx, msg, state, sendErr, elapsed, result)
	}

	slog.Warn("queued message replay failed",
		"message_id", msg.ID,
		"attempt", msg.RetryCount,
		"max_attempts", q.maxRetries,
		"error", sendErr,
	)
	recordReplay("retry", elapsed)
	result.Requeued++

	if _, _, err := Transition(state, EventRequeue, msg.RetryCount, q.maxRetries); err != nil {
		return err
	}
	q.requeue(msg)

	if err := q.repo.Save(ctx, msg); err != nil {
		return fmt.Errorf("persist retry count for %s: %w", msg.ID, err)
	}
	return nil
}

// complete handles both terminal states: the durable record goes away and
// every page hears about the outcome.
func (q *Queue) complete(ctx context.Context, msg *domain.QueuedMessage, state State, sendErr error, elapsed time.Duration, result *DrainResult) error {
	var deleteErr error
	if err := q.repo.Delete(ctx, msg.ID); err != nil {
		deleteErr = fmt.Errorf("delete queued message %s: %w", msg.ID, err)
	}

	outcome := protocol.QueuedMessageSent{MessageID: msg.ID}
	if state == StateSent {
		outcome.Success = true
		result.Sent++
		recordReplay("sent", elapsed)
		slog.Info("queued message delivered", "message_id", msg.ID, "retries", msg.RetryCount)
	} else {
		outcome.Error = fmt.Sprintf("%v: %v", ErrMaxRetries, sendErr)
		result.Failed++
		recordReplay("failed", elapsed)
		slog.Error("queued message dropped after max retries",
			"message_id", msg.ID,
			"session_id", msg.SessionID,
			"attempts", msg.RetryCount,
			"error", sendErr,
		)
	}

	if q.notifier != nil {
		delivered := q.notifier.Broadcast(outcome)
		slog.Debug("replay outcome broadcast", "message_id", msg.ID, "clients", delivered)
	}
	return deleteErr
}

func (q *Queue) requeue(msg *domain.QueuedMessage) {
	q.mu.Lock()
	q.pending = append(q.pending, msg)
	q.mu.Unlock()
}

// Snapshot returns copies of the messages currently waiting for replay.
func (q *Queue) Snapshot() []domain.QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.QueuedMessage, 0, len(q.pending))
	for _, m := range q.pending {
		out = append(out, *m)
	}
	return out
}

// Len returns the number of messages waiting for replay.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}
