package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/anonchat/edgeworker/internal/cache"
	cachememory "github.com/anonchat/edgeworker/internal/cache/memory"
	"github.com/anonchat/edgeworker/internal/domain"
	"github.com/anonchat/edgeworker/internal/outbox"
	outboxmemory "github.com/anonchat/edgeworker/internal/outbox/memory"
	"github.com/anonchat/edgeworker/internal/pkg/httputil"
	"github.com/anonchat/edgeworker/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNetwork serves requests with handler until taken offline.
type fakeNetwork struct {
	mu      sync.Mutex
	offline bool
	calls   []string
	handler http.HandlerFunc
}

func (n *fakeNetwork) Forward(r *http.Request, body []byte) (*http.Response, error) {
	n.mu.Lock()
	n.calls = append(n.calls, r.Method+" "+r.URL.RequestURI())
	offline := n.offline
	n.mu.Unlock()

	if offline {
		return nil, &upstream.NetworkError{Err: errors.New("dial tcp: connection refused")}
	}
	req := r.Clone(r.Context())
	req.Body = io.NopCloser(bytes.NewReader(body))
	rec := httptest.NewRecorder()
	n.handler(rec, req)
	return rec.Result(), nil
}

func (n *fakeNetwork) setOffline(v bool) {
	n.mu.Lock()
	n.offline = v
	n.mu.Unlock()
}

func (n *fakeNetwork) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type countingDrainer struct {
	n atomic.Int32
}

func (d *countingDrainer) Trigger() { d.n.Add(1) }

type failingOutbox struct{}

func (failingOutbox) Enqueue(context.Context, *domain.QueuedMessage) (*domain.QueuedMessage, error) {
	return nil, errors.New("disk full")
}

type fixture struct {
	interceptor *Interceptor
	network     *fakeNetwork
	cache       *cache.Manager
	queue       *outbox.Queue
	drainer     *countingDrainer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		network: &fakeNetwork{handler: func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/api/messages/send":
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"success":true}`))
			case "/api/sessions":
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`[{"id":"s1"}]`))
			case "/missing":
				http.NotFound(w, r)
			case "/inbox":
				http.SetCookie(w, &http.Cookie{Name: "sid", Value: "alice-secret"})
				w.Header().Set("Cache-Control", "private, no-store")
				_, _ = w.Write([]byte("<html>alice inbox</html>"))
			case "/theme.css":
				http.SetCookie(w, &http.Cookie{Name: "sid", Value: "alice-secret"})
				w.Header().Set("Cache-Control", "public, max-age=300")
				_, _ = w.Write([]byte("body{}"))
			default:
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write([]byte("<html>" + r.URL.Path + "</html>"))
			}
		}},
		cache: cache.NewManager(cachememory.NewStore(), nil, cache.Config{
			Prefix:      "anonchat",
			Version:     "v1",
			OfflinePage: "/offline",
		}),
		queue:   outbox.NewQueue(outboxmemory.NewRepository(), nil, nil, outbox.Config{}),
		drainer: &countingDrainer{},
	}
	f.interceptor = New(Config{}, f.cache, f.network, f.queue, f.drainer)
	return f
}

func (f *fixture) do(method, target, body string, header http.Header) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, vv := range header {
		req.Header[k] = vv
	}
	rec := httptest.NewRecorder()
	f.interceptor.ServeHTTP(rec, req)
	f.interceptor.Wait()
	return rec
}

func TestInterceptor_Asset_CacheFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.PutDynamic(ctx, &cache.Entry{
		URL: "/app.js", Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/javascript"}},
		Body:   []byte("cached()"),
	}))

	rec := f.do(http.MethodGet, "/app.js", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cached()", rec.Body.String())
	assert.Equal(t, StatusHit, rec.Header().Get(httputil.CacheStatusHeader))
	assert.Zero(t, f.network.callCount(), "a cache hit never reaches the network")
}

func TestInterceptor_Asset_MissWritesThrough(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/styles.css?v=2", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>/styles.css</html>", rec.Body.String())
	assert.Equal(t, StatusMiss, rec.Header().Get(httputil.CacheStatusHeader))

	entry, err := f.cache.Match(context.Background(), "/styles.css?v=2")
	require.NoError(t, err)
	assert.Equal(t, "<html>/styles.css</html>", string(entry.Body))

	f.network.setOffline(true)
	rec = f.do(http.MethodGet, "/styles.css?v=2", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusHit, rec.Header().Get(httputil.CacheStatusHeader))
}

func TestInterceptor_Asset_ErrorStatusNotCached(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err := f.cache.Match(context.Background(), "/missing")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestInterceptor_Asset_PrivateResponseNotShared(t *testing.T) {
	f := newFixture(t)

	first := f.do(http.MethodGet, "/inbox", "", nil)
	assert.Equal(t, "sid=alice-secret", first.Header().Get("Set-Cookie"))

	_, err := f.cache.Match(context.Background(), "/inbox")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	second := f.do(http.MethodGet, "/inbox", "", nil)
	assert.Equal(t, StatusMiss, second.Header().Get(httputil.CacheStatusHeader))
	assert.Equal(t, 2, f.network.callCount())
}

func TestInterceptor_Asset_CookiesNeverReplayed(t *testing.T) {
	f := newFixture(t)

	first := f.do(http.MethodGet, "/theme.css", "", nil)
	assert.Equal(t, "sid=alice-secret", first.Header().Get("Set-Cookie"))

	second := f.do(http.MethodGet, "/theme.css", "", nil)
	assert.Equal(t, StatusHit, second.Header().Get(httputil.CacheStatusHeader))
	assert.Equal(t, "body{}", second.Body.String())
	assert.Empty(t, second.Header().Get("Set-Cookie"))
}

func TestInterceptor_Asset_OfflineNavigation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.PutDynamic(context.Background(), &cache.Entry{
		URL: "/offline", Status: http.StatusOK, Body: []byte("you are offline"),
	}))
	f.network.setOffline(true)

	tests := []struct {
		name   string
		header http.Header
	}{
		{"sec-fetch-mode", http.Header{"Sec-Fetch-Mode": []string{"navigate"}}},
		{"accept html", http.Header{"Accept": []string{"text/html,application/xhtml+xml"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodGet, "/chat/room-9", "", tt.header)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "you are offline", rec.Body.String())
			assert.Equal(t, StatusOffline, rec.Header().Get(httputil.CacheStatusHeader))
		})
	}
}

func TestInterceptor_Asset_OfflineSubresource(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.PutDynamic(context.Background(), &cache.Entry{URL: "/offline", Status: 200}))
	f.network.setOffline(true)

	rec := f.do(http.MethodGet, "/img/avatar.png", "", http.Header{"Accept": []string{"image/png"}})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "network error", rec.Body.String())
}

func TestInterceptor_API_NetworkFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cache.PutDynamic(ctx, &cache.Entry{URL: "/api/sessions", Status: 200, Body: []byte("stale")}))

	rec := f.do(http.MethodGet, "/api/sessions", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"s1"}]`, rec.Body.String())
	assert.Equal(t, 1, f.network.callCount())

	entry, err := f.cache.Match(ctx, "/api/sessions")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"s1"}]`, string(entry.Body), "fresh response replaces the stale copy")
}

func TestInterceptor_API_OfflineGetServesCache(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodGet, "/api/sessions", "", nil)
	f.network.setOffline(true)

	rec := f.do(http.MethodGet, "/api/sessions", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"s1"}]`, rec.Body.String())
	assert.Equal(t, StatusOffline, rec.Header().Get(httputil.CacheStatusHeader))
}

func TestInterceptor_API_OfflineGetUncached(t *testing.T) {
	f := newFixture(t)
	f.network.setOffline(true)

	rec := f.do(http.MethodGet, "/api/users/me", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body OfflineResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "offline", body.Error)
	assert.NotEmpty(t, body.Message)
}

func TestInterceptor_API_OfflineOtherMethod(t *testing.T) {
	f := newFixture(t)
	f.network.setOffline(true)

	rec := f.do(http.MethodDelete, "/api/sessions/s1", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"network error"}`, rec.Body.String())
	assert.Zero(t, f.queue.Len())
}

func TestInterceptor_API_OfflineSendIsQueued(t *testing.T) {
	f := newFixture(t)
	f.network.setOffline(true)

	rec := f.do(http.MethodPost, "/api/messages/send", `{"content":"hi","sessionId":"s1","replyTo":"m0"}`,
		http.Header{"Content-Type": []string{"application/json"}})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, StatusQueued, rec.Header().Get(httputil.CacheStatusHeader))

	var body QueuedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.True(t, body.Queued)
	assert.Regexp(t, `^\d+-[0-9a-f]{9}$`, body.MessageID)

	queued := f.queue.Snapshot()
	require.Len(t, queued, 1)
	assert.Equal(t, body.MessageID, queued[0].ID)
	assert.Equal(t, "hi", queued[0].Content)
	assert.Equal(t, "s1", queued[0].SessionID)
	assert.Equal(t, 0, queued[0].RetryCount)
	assert.JSONEq(t, `"m0"`, string(queued[0].Extra["replyTo"]))
	assert.Zero(t, f.drainer.n.Load())
}

func TestInterceptor_API_OfflineSendInvalidPayload(t *testing.T) {
	f := newFixture(t)
	f.network.setOffline(true)

	for _, body := range []string{`not json`, `{}`, `null`, `{"sessionId":"s1"}`} {
		t.Run(body, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/messages/send", body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, f.queue.Len())
		})
	}
}

func TestInterceptor_API_OfflineSendQueueFailure(t *testing.T) {
	f := newFixture(t)
	f.network.setOffline(true)
	f.interceptor = New(Config{}, f.cache, f.network, failingOutbox{}, f.drainer)

	rec := f.do(http.MethodPost, "/api/messages/send", `{"content":"hi"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"queue unavailable"}`, rec.Body.String())
}

func TestInterceptor_API_SuccessfulSendTriggersDrain(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/messages/send", `{"content":"hi","sessionId":"s1"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Equal(t, int32(1), f.drainer.n.Load())
	assert.Zero(t, f.queue.Len())

	_, err := f.cache.Match(context.Background(), "/api/messages/send")
	assert.ErrorIs(t, err, cache.ErrNotFound, "POST responses are never cached")
}

func TestInterceptor_BodyTooLarge(t *testing.T) {
	f := newFixture(t)
	f.interceptor = New(Config{MaxBodySize: 8}, f.cache, f.network, f.queue, f.drainer)

	rec := f.do(http.MethodPost, "/api/messages/send", `{"content":"way too long"}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, f.network.callCount())
}

func TestInterceptor_WithUpstreamClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	client, err := upstream.NewClient(upstream.Config{BaseURL: server.URL})
	require.NoError(t, err)

	f := newFixture(t)
	f.interceptor = New(Config{}, f.cache, client, f.queue, f.drainer)

	// An upstream 5xx is a response, not a network failure.
	rec := f.do(http.MethodPost, "/api/messages/send", `{"content":"hi"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, f.queue.Len())

	server.Close()
	rec = f.do(http.MethodPost, "/api/messages/send", `{"content":"hi"}`, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, f.queue.Len())
}
