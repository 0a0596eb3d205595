package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Config configures a Manager.
type Config struct {
	Prefix      string
	Version     string
	Precache    []string
	OfflinePage string
}

// Manager owns the lifecycle of the caches of one release.
type Manager struct {
	store   Storage
	claimer Claimer
	names   Names
	config  Config
}

// NewManager creates a manager. claimer may be nil.
func NewManager(store Storage, claimer Claimer, cfg Config) *Manager {
	return &Manager{
		store:   store,
		claimer: claimer,
		names:   NewNames(cfg.Prefix, cfg.Version),
		config:  cfg,
	}
}

// Names returns the cache names of this release.
func (m *Manager) Names() Names {
	return m.names
}

// Install fetches every precache URL and stores them in the static cache.
// Either every URL is stored or none is.
func (m *Manager) Install(ctx context.Context, fetcher Fetcher) error {
	entries := make([]*Entry, 0, len(m.config.Precache))
	for _, url := range m.config.Precache {
		entry, err := m.fetch(ctx, fetcher, url)
		if err != nil {
			writes.WithLabelValues("static", "error").Inc()
			return fmt.Errorf("%w: %w", ErrInstallFailed, err)
		}
		entries = append(entries, entry)
	}

	if err := m.store.PutAll(ctx, m.names.Static, entries); err != nil {
		writes.WithLabelValues("static", "error").Inc()
		return fmt.Errorf("%w: store precache: %w", ErrInstallFailed, err)
	}
	writes.WithLabelValues("static", "ok").Add(float64(len(entries)))

	slog.Info("precache installed", "cache", m.names.Static, "entries", len(entries))
	return nil
}

func (m *Manager) fetch(ctx context.Context, fetcher Fetcher, url string) (*Entry, error) {
	resp, err := fetcher.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	entry, err := EntryFromResponse(url, resp)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	return entry, nil
}

// Activate deletes every cache that does not belong to this release and
// then claims the open pages. It returns the deleted cache names.
func (m *Manager) Activate(ctx context.Context) ([]string, error) {
	names, err := m.store.CacheNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}

	var deleted []string
	var errs []error
	for _, name := range names {
		if m.names.Contains(name) {
			continue
		}
		if err := m.store.DeleteCache(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete cache %s: %w", name, err))
			continue
		}
		evictions.Inc()
		deleted = append(deleted, name)
		slog.Info("stale cache deleted", "cache", name)
	}

	if m.claimer != nil {
		claimed := m.claimer.Claim(m.config.Version)
		slog.Info("pages claimed", "version", m.config.Version, "pages", claimed)
	}
	return deleted, errors.Join(errs...)
}

// Match looks url up in the static, dynamic and umbrella caches in that
// order. It returns ErrNotFound on a miss.
func (m *Manager) Match(ctx context.Context, url string) (*Entry, error) {
	for _, name := range m.names.Valid() {
		entry, err := m.store.Match(ctx, name, url)
		if err == nil {
			lookups.WithLabelValues("hit").Inc()
			return entry, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("match %s in %s: %w", url, name, err)
		}
	}
	lookups.WithLabelValues("miss").Inc()
	return nil, ErrNotFound
}

// PutDynamic writes entry through to the dynamic cache.
func (m *Manager) PutDynamic(ctx context.Context, entry *Entry) error {
	if err := m.store.Put(ctx, m.names.Dynamic, entry); err != nil {
		writes.WithLabelValues("dynamic", "error").Inc()
		return fmt.Errorf("put %s: %w", entry.URL, err)
	}
	writes.WithLabelValues("dynamic", "ok").Inc()
	return nil
}

// OfflinePage returns the cached offline fallback page.
func (m *Manager) OfflinePage(ctx context.Context) (*Entry, error) {
	return m.Match(ctx, m.config.OfflinePage)
}

// Cacheable reports whether a fetched response may be written through.
func Cacheable(method string, resp *http.Response) bool {
	return method == http.MethodGet && resp.StatusCode == http.StatusOK && Shareable(resp.Header)
}
