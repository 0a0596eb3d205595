// Package fetch intercepts every page request. Assets are served cache
// first; API calls go to the network first and fall back to the cache or,
// for message sends, to the offline queue.
package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anonchat/edgeworker/internal/cache"
	"github.com/anonchat/edgeworker/internal/domain"
	"github.com/anonchat/edgeworker/internal/pkg/ctxlog"
	"github.com/anonchat/edgeworker/internal/pkg/httputil"
)

const (
	defaultMaxBodySize  = 1 << 20
	defaultWriteTimeout = 10 * time.Second
)

// Cache status values reported in httputil.CacheStatusHeader.
const (
	StatusHit     = "hit"
	StatusMiss    = "miss"
	StatusOffline = "offline"
	StatusQueued  = "queued"
)

// Cache is the subset of cache.Manager the interceptor uses.
type Cache interface {
	Match(ctx context.Context, url string) (*cache.Entry, error)
	PutDynamic(ctx context.Context, entry *cache.Entry) error
	OfflinePage(ctx context.Context) (*cache.Entry, error)
}

// Network forwards a request to the application server.
type Network interface {
	Forward(r *http.Request, body []byte) (*http.Response, error)
}

// Outbox accepts messages that could not be sent.
type Outbox interface {
	Enqueue(ctx context.Context, msg *domain.QueuedMessage) (*domain.QueuedMessage, error)
}

// Drainer starts a replay of the queue.
type Drainer interface {
	Trigger()
}

// Config configures request classification.
type Config struct {
	APIPrefix       string
	MessageSendPath string
	// MaxBodySize caps buffered request bodies.
	MaxBodySize int64
	// WriteTimeout bounds a background cache write.
	WriteTimeout time.Duration
}

// Interceptor is the catch-all handler in front of the application.
type Interceptor struct {
	config  Config
	cache   Cache
	network Network
	outbox  Outbox
	drainer Drainer

	writes sync.WaitGroup
}

// New creates an interceptor. drainer may be nil.
func New(cfg Config, c Cache, network Network, outbox Outbox, drainer Drainer) *Interceptor {
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/"
	}
	if cfg.MessageSendPath == "" {
		cfg.MessageSendPath = "/api/messages/send"
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Interceptor{
		config:  cfg,
		cache:   c,
		network: network,
		outbox:  outbox,
		drainer: drainer,
	}
}

func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, i.config.MaxBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		httputil.Error(w, http.StatusBadRequest, "could not read request body")
		return
	}

	if i.isAPI(r) {
		i.serveAPI(w, r, body)
		return
	}
	i.serveAsset(w, r, body)
}

// Wait blocks until every background cache write has finished.
func (i *Interceptor) Wait() {
	i.writes.Wait()
}

func (i *Interceptor) isAPI(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, i.config.APIPrefix)
}

func (i *Interceptor) isMessageSend(r *http.Request) bool {
	return r.Method == http.MethodPost && r.URL.Path == i.config.MessageSendPath
}

// isNavigation reports whether r loads a page rather than a subresource.
func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

func cacheKey(r *http.Request) string {
	return r.URL.RequestURI()
}

// writeThrough stores a successful GET response in the dynamic cache
// without holding up the caller.
func (i *Interceptor) writeThrough(ctx context.Context, r *http.Request, resp *http.Response) {
	if !cache.Cacheable(r.Method, resp) {
		return
	}
	logger := ctxlog.FromContext(ctx)

	entry, err := cache.EntryFromResponse(cacheKey(r), resp)
	if err != nil {
		logger.Warn("could not buffer response for cache", "url", cacheKey(r), "error", err)
		return
	}

	i.writes.Add(1)
	go func() {
		defer i.writes.Done()
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.config.WriteTimeout)
		defer cancel()
		if err := i.cache.PutDynamic(writeCtx, entry); err != nil {
			logger.Warn("cache write-through failed", "url", entry.URL, "error", err)
		}
	}()
}

func relay(w http.ResponseWriter, resp *http.Response, status string) {
	defer func() { _ = resp.Body.Close() }()

	h := w.Header()
	for k, vv := range resp.Header {
		h[k] = vv
	}
	h.Set(httputil.CacheStatusHeader, status)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func serveEntry(w http.ResponseWriter, entry *cache.Entry, status string) {
	w.Header().Set(httputil.CacheStatusHeader, status)
	entry.Write(w)
}
