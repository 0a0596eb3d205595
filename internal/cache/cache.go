// Package cache manages the versioned response caches: the static cache
// filled at install time, the dynamic write-through cache and the legacy
// umbrella cache that older releases used.
package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Entry is a stored response keyed by request URL (path and query).
type Entry struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Write replays the entry on w.
func (e *Entry) Write(w http.ResponseWriter) {
	h := w.Header()
	for k, vv := range e.Header {
		h[k] = append([]string(nil), vv...)
	}
	h.Set("Content-Length", strconv.Itoa(len(e.Body)))
	w.WriteHeader(e.Status)
	_, _ = w.Write(e.Body)
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Header = e.Header.Clone()
	c.Body = append([]byte(nil), e.Body...)
	return &c
}

// EntryFromResponse reads resp fully into an entry and replaces resp.Body
// so the caller can still stream it. Set-Cookie is never stored.
func EntryFromResponse(url string, resp *http.Response) (*Entry, error) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	header := resp.Header.Clone()
	header.Del("Set-Cookie")

	return &Entry{
		URL:      url,
		Status:   resp.StatusCode,
		Header:   header,
		Body:     body,
		StoredAt: time.Now(),
	}, nil
}

// Names are the cache names of one release.
type Names struct {
	Static   string
	Dynamic  string
	Umbrella string
}

// NewNames derives the cache names for prefix and version.
func NewNames(prefix, version string) Names {
	return Names{
		Static:   fmt.Sprintf("%s-static-%s", prefix, version),
		Dynamic:  fmt.Sprintf("%s-dynamic-%s", prefix, version),
		Umbrella: fmt.Sprintf("%s-%s", prefix, version),
	}
}

// Valid returns the names that survive activation, in lookup order.
func (n Names) Valid() []string {
	return []string{n.Static, n.Dynamic, n.Umbrella}
}

// Contains reports whether name belongs to this release.
func (n Names) Contains(name string) bool {
	return name == n.Static || name == n.Dynamic || name == n.Umbrella
}

// Storage persists named caches.
type Storage interface {
	// Put stores entry in cache, replacing any entry for the same URL.
	Put(ctx context.Context, cache string, entry *Entry) error
	// PutAll stores every entry or none of them.
	PutAll(ctx context.Context, cache string, entries []*Entry) error
	// Match returns ErrNotFound when cache has no entry for url.
	Match(ctx context.Context, cache, url string) (*Entry, error)
	// CacheNames lists every cache that holds at least one entry.
	CacheNames(ctx context.Context) ([]string, error)
	// DeleteCache removes a whole cache. Missing caches are not an error.
	DeleteCache(ctx context.Context, cache string) error
}

// Fetcher retrieves precache URLs. *upstream.Client implements it.
type Fetcher interface {
	Get(ctx context.Context, path string) (*http.Response, error)
}

// Claimer takes control of the pages that are already open.
type Claimer interface {
	Claim(version string) int
}

// Shareable reports whether a response may be served to other callers:
// Cache-Control private or no-store keeps it out of every cache.
func Shareable(header http.Header) bool {
	for _, v := range header.Values("Cache-Control") {
		for _, directive := range strings.Split(v, ",") {
			name, _, _ := strings.Cut(strings.TrimSpace(directive), "=")
			switch strings.ToLower(name) {
			case "private", "no-store":
				return false
			}
		}
	}
	return true
}
