package fetch

import (
	"errors"
	"net/http"

	"github.com/anonchat/edgeworker/internal/cache"
	"github.com/anonchat/edgeworker/internal/domain"
	"github.com/anonchat/edgeworker/internal/pkg/ctxlog"
	"github.com/anonchat/edgeworker/internal/pkg/httputil"
	"github.com/anonchat/edgeworker/internal/upstream"
)

// QueuedResponse is the synthetic answer to a message send accepted while
// offline.
type QueuedResponse struct {
	Success   bool   `json:"success"`
	Queued    bool   `json:"queued"`
	MessageID string `json:"messageId"`
}

// OfflineResponse is returned for API reads with no cached copy.
type OfflineResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// serveAPI is network first.
func (i *Interceptor) serveAPI(w http.ResponseWriter, r *http.Request, body []byte) {
	ctx := r.Context()

	resp, err := i.network.Forward(r, body)
	if err == nil {
		recordOutcome("api", "network")
		if i.isMessageSend(r) && resp.StatusCode >= 200 && resp.StatusCode <= 299 && i.drainer != nil {
			// The network is back: flush whatever queued up meanwhile.
			i.drainer.Trigger()
		}
		i.writeThrough(ctx, r, resp)
		relay(w, resp, StatusMiss)
		return
	}

	if !upstream.IsNetworkError(err) {
		ctxlog.FromContext(ctx).Error("forward api request", "url", cacheKey(r), "error", err)
		recordOutcome("api", "error")
		httputil.JSON(w, http.StatusInternalServerError, OfflineResponse{Error: "network error"})
		return
	}

	switch {
	case i.isMessageSend(r):
		i.queueMessage(w, r, body)
	case r.Method == http.MethodGet:
		i.serveCachedAPI(w, r)
	default:
		recordOutcome("api", "network_error")
		w.Header().Set(httputil.CacheStatusHeader, StatusOffline)
		httputil.JSON(w, http.StatusInternalServerError, OfflineResponse{Error: "network error"})
	}
}

func (i *Interceptor) queueMessage(w http.ResponseWriter, r *http.Request, body []byte) {
	msg, err := domain.ParseOutbound(body)
	if err != nil {
		recordOutcome("api", "invalid_payload")
		ctxlog.FromContext(r.Context()).Warn("offline send rejected", "error", err)
		httputil.JSON(w, http.StatusBadRequest, OfflineResponse{Error: "invalid message payload", Message: err.Error()})
		return
	}

	ctx, logger := ctxlog.With(r.Context(), "session_id", msg.SessionID)

	queued, err := i.outbox.Enqueue(ctx, msg)
	if err != nil {
		logger.Error("could not queue message", "error", err)
		recordOutcome("api", "queue_error")
		httputil.JSON(w, http.StatusInternalServerError, OfflineResponse{Error: "queue unavailable"})
		return
	}

	recordOutcome("api", "queued")
	logger.Info("message queued while offline", "message_id", queued.ID)
	w.Header().Set(httputil.CacheStatusHeader, StatusQueued)
	httputil.JSON(w, http.StatusAccepted, QueuedResponse{Success: true, Queued: true, MessageID: queued.ID})
}

func (i *Interceptor) serveCachedAPI(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	entry, err := i.cache.Match(ctx, cacheKey(r))
	if err == nil {
		recordOutcome("api", "cached")
		serveEntry(w, entry, StatusOffline)
		return
	}
	if !errors.Is(err, cache.ErrNotFound) {
		ctxlog.FromContext(ctx).Warn("cache lookup failed", "url", cacheKey(r), "error", err)
	}

	recordOutcome("api", "offline")
	w.Header().Set(httputil.CacheStatusHeader, StatusOffline)
	httputil.JSON(w, http.StatusServiceUnavailable, OfflineResponse{
		Error:   "offline",
		Message: "You are offline and this data is not cached",
	})
}
