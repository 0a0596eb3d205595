package fetch

import (
	"errors"
	"net/http"

	"github.com/anonchat/edgeworker/internal/cache"
	"github.com/anonchat/edgeworker/internal/pkg/ctxlog"
	"github.com/anonchat/edgeworker/internal/pkg/httputil"
	"github.com/anonchat/edgeworker/internal/upstream"
)

// serveAsset is cache first: a hit never touches the network.
func (i *Interceptor) serveAsset(w http.ResponseWriter, r *http.Request, body []byte) {
	ctx := r.Context()
	logger := ctxlog.FromContext(ctx)

	if r.Method == http.MethodGet {
		entry, err := i.cache.Match(ctx, cacheKey(r))
		if err == nil {
			recordOutcome("asset", "hit")
			serveEntry(w, entry, StatusHit)
			return
		}
		if !errors.Is(err, cache.ErrNotFound) {
			logger.Warn("cache lookup failed", "url", cacheKey(r), "error", err)
		}
	}

	resp, err := i.network.Forward(r, body)
	if err != nil {
		i.assetFailed(w, r, err)
		return
	}

	recordOutcome("asset", "network")
	i.writeThrough(ctx, r, resp)
	relay(w, resp, StatusMiss)
}

func (i *Interceptor) assetFailed(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	logger := ctxlog.FromContext(ctx)

	if !upstream.IsNetworkError(err) {
		logger.Error("forward asset request", "url", cacheKey(r), "error", err)
		recordOutcome("asset", "error")
		httputil.Text(w, http.StatusBadGateway, "bad gateway")
		return
	}

	if isNavigation(r) {
		page, pageErr := i.cache.OfflinePage(ctx)
		if pageErr == nil {
			logger.Info("serving offline page", "url", cacheKey(r))
			recordOutcome("asset", "offline_page")
			serveEntry(w, page, StatusOffline)
			return
		}
		logger.Warn("offline page not cached", "error", pageErr)
	}

	recordOutcome("asset", "network_error")
	w.Header().Set(httputil.CacheStatusHeader, StatusOffline)
	httputil.Text(w, http.StatusBadGateway, "network error")
}
