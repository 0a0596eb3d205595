package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	// DrainInterval adds a periodic drain on top of explicit triggers.
	// Zero disables it.
	DrainInterval time.Duration
}

// Worker runs drain passes on a single goroutine so that passes never
// overlap. Drains are started by Trigger (connectivity restored, a
// successful live send) and optionally by a ticker.
type Worker struct {
	config WorkerConfig
	queue  *Queue

	triggerCh chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewWorker creates a drain worker for queue.
func NewWorker(config WorkerConfig, queue *Queue) *Worker {
	return &Worker{
		config:    config,
		queue:     queue,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the worker goroutine. Drains run under a context derived
// from ctx that Stop cancels.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting outbox worker", "drain_interval", w.config.DrainInterval)

	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)
}

// Stop stops the worker. An in-flight drain is cancelled: its unsent
// messages stay queued for the next start.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()
	w.wg.Wait()
	slog.Info("outbox worker stopped")
}

// Trigger requests a drain. It never blocks; triggers that arrive while a
// drain is pending collapse into one.
func (w *Worker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// OnlineStatusChanged is the page connectivity hook: going online drains.
func (w *Worker) OnlineStatusChanged(isOnline bool) {
	if isOnline {
		w.Trigger()
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	var tick <-chan time.Time
	if w.config.DrainInterval > 0 {
		ticker := time.NewTicker(w.config.DrainInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-w.triggerCh:
			w.drain(ctx)
		case <-tick:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	if _, err := w.queue.Drain(ctx); err != nil {
		slog.Error("outbox drain finished with errors", "error", err)
	}
}
