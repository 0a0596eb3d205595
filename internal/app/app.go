// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anonchat/edgeworker/api/openapi"
	"github.com/anonchat/edgeworker/internal/cache"
	"github.com/anonchat/edgeworker/internal/clients"
	"github.com/anonchat/edgeworker/internal/config"
	"github.com/anonchat/edgeworker/internal/fetch"
	"github.com/anonchat/edgeworker/internal/outbox"
	"github.com/anonchat/edgeworker/internal/outbox/httptransport"
	"github.com/anonchat/edgeworker/internal/pkg/ctxlog"
	"github.com/anonchat/edgeworker/internal/pkg/httputil"
	"github.com/anonchat/edgeworker/internal/pkg/metrics"
	"github.com/anonchat/edgeworker/internal/push"
	"github.com/anonchat/edgeworker/internal/push/webhook"
	"github.com/anonchat/edgeworker/internal/upstream"
	"github.com/anonchat/edgeworker/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	stores        *stores
	upstream      *upstream.Client
	hub           *clients.Hub
	cache         *cache.Manager
	queue         *outbox.Queue
	worker        *outbox.Worker
	interceptor   *fetch.Interceptor
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc

	activated atomic.Bool
}

// New creates a new application instance. Durable queue records are loaded
// into memory before it returns.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	client, err := upstream.NewClient(upstream.Config{
		BaseURL: cfg.Upstream.BaseURL,
		Timeout: cfg.Upstream.Timeout,
	})
	if err != nil {
		st.close()
		return nil, fmt.Errorf("create upstream client: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		stores:        st,
		upstream:      client,
		metricsCancel: metricsCancel,
	}

	app.hub = clients.NewHub(clients.Config{AllowedOrigins: cfg.CORS.AllowedOrigins})

	cacheVersion := cfg.CacheVersion(version.Version)
	app.cache = cache.NewManager(st.cache, app.hub, cache.Config{
		Prefix:      cfg.Cache.Prefix,
		Version:     cacheVersion,
		Precache:    cfg.Cache.Precache,
		OfflinePage: cfg.Cache.OfflinePage,
	})

	transport := httptransport.New(client, httptransport.Config{
		SendPath: cfg.Cache.MessageSendPath,
		Rate:     cfg.Queue.ResendRate,
		Burst:    cfg.Queue.ResendBurst,
	})
	app.queue = outbox.NewQueue(st.outbox, transport, app.hub, outbox.Config{MaxRetries: cfg.Queue.MaxRetries})

	if _, err := app.queue.Reconcile(ctx); err != nil {
		st.close()
		metricsCancel()
		return nil, fmt.Errorf("reconcile queue: %w", err)
	}

	app.worker = outbox.NewWorker(outbox.WorkerConfig{DrainInterval: cfg.Queue.DrainInterval}, app.queue)
	app.hub.OnOnlineStatus(app.worker.OnlineStatusChanged)

	app.interceptor = fetch.New(fetch.Config{
		APIPrefix:       cfg.Cache.APIPrefix,
		MessageSendPath: cfg.Cache.MessageSendPath,
	}, app.cache, client, app.queue, app.worker)

	pushHandler, err := app.newPushHandler()
	if err != nil {
		st.close()
		metricsCancel()
		return nil, fmt.Errorf("setup notifications: %w", err)
	}

	if st.db != nil {
		go app.collectDBMetrics(metricsCtx)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(pushHandler),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func (a *App) newPushHandler() (*push.Handler, error) {
	pc := a.config.Push

	defaults := push.Defaults()
	override(&defaults.Title, pc.Title)
	override(&defaults.Body, pc.Body)
	override(&defaults.Icon, pc.Icon)
	override(&defaults.Badge, pc.Badge)
	override(&defaults.Tag, pc.Tag)

	displayers := []push.Displayer{push.NewHubDisplayer(a.hub)}
	if pc.WebhookURL != "" {
		displayers = append(displayers, webhook.NewSender(webhook.Config{
			URL:     pc.WebhookURL,
			Timeout: pc.Timeout,
		}))
	}

	return push.NewHandler(push.Config{
		AppURL:   pc.AppURL,
		ChatPath: pc.ChatPath,
		Defaults: defaults,
	}, a.hub, displayers...)
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Start installs the precache, activates this release and starts the queue
// worker. Install is retried until it succeeds or ctx ends.
func (a *App) Start(ctx context.Context) error {
	if err := a.install(ctx); err != nil {
		return err
	}

	deleted, err := a.cache.Activate(ctx)
	if err != nil {
		a.logger.Error("cache cleanup incomplete", "error", err)
	}
	a.logger.Info("release activated", "caches", a.cache.Names().Valid(), "deleted", deleted)
	a.activated.Store(true)

	a.worker.Start(context.Background())
	// Messages left over from a previous run go out as soon as possible.
	a.worker.Trigger()
	return nil
}

func (a *App) install(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		installCtx, cancel := context.WithTimeout(ctx, a.config.Cache.InstallTimeout)
		err := a.cache.Install(installCtx, a.upstream)
		cancel()
		if err == nil {
			return nil
		}

		backoff := installBackoff(attempt)
		a.logger.Warn("precache install failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("install cancelled: %w", errors.Join(err, ctx.Err()))
		case <-t.C:
		}
	}
}

// installBackoff doubles from one second up to thirty.
func installBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return 30 * time.Second
	}
	return time.Duration(1<<(attempt-1)) * time.Second
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"upstream", a.config.Upstream.BaseURL,
		"storage", a.config.Storage.Driver,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// The worker finishes its current drain before storage goes away.
	a.worker.Stop()
	a.hub.Close()

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.interceptor.Wait()
	a.stores.close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.stores.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.stores.db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Queue returns the offline message queue.
func (a *App) Queue() *outbox.Queue {
	return a.queue
}

// Hub returns the page registry.
func (a *App) Hub() *clients.Hub {
	return a.hub
}

func (a *App) setupRouter(pushHandler *push.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Route("/sw", func(r chi.Router) {
		r.Use(httputil.NoStore)

		// Long-lived: no request timeout.
		r.Get("/clients", a.hub.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Post("/messages", a.hub.HandleMessage)
			r.Get("/queue", a.queueHandler)
			pushHandler.RegisterRoutes(r)

			r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/yaml")
				_, _ = w.Write(openapi.Spec)
			})
		})
	})

	// Everything else belongs to the application and goes through the
	// interceptor.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Handle("/*", a.interceptor)
	})

	return r
}

// QueueStatus is the body of GET /sw/queue.
type QueueStatus struct {
	Pending  int             `json:"pending"`
	Messages []QueuedMessage `json:"messages"`
}

// QueuedMessage is a queued message as reported by GET /sw/queue.
type QueuedMessage struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	RetryCount int       `json:"retryCount"`
}

func (a *App) queueHandler(w http.ResponseWriter, _ *http.Request) {
	snapshot := a.queue.Snapshot()
	status := QueueStatus{
		Pending:  len(snapshot),
		Messages: make([]QueuedMessage, 0, len(snapshot)),
	}
	for _, m := range snapshot {
		status.Messages = append(status.Messages, QueuedMessage{
			ID:         m.ID,
			SessionID:  m.SessionID,
			EnqueuedAt: m.EnqueuedAt().UTC(),
			RetryCount: m.RetryCount,
		})
	}
	httputil.Success(w, http.StatusOK, status)
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if !a.activated.Load() {
		httputil.Text(w, http.StatusServiceUnavailable, "Not activated")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.stores.ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":       version.Version,
		"commit":        version.GitCommit,
		"build_date":    version.BuildDate,
		"cache_version": a.config.CacheVersion(version.Version),
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
