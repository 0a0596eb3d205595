package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/anonchat/edgeworker/internal/pkg/ctxlog"
)

// ErrorMapping binds a sentinel error to the status and message a handler
// answers with. An empty Message exposes err.Error().
type ErrorMapping struct {
	Error   error
	Status  int
	Message string
}

// HandleError writes the first mapping err matches. Unmatched errors are
// logged with the request logger; a deadline becomes 504, anything else 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if !errors.Is(err, m.Error) {
			continue
		}
		msg := m.Message
		if msg == "" {
			msg = err.Error()
		}
		Error(w, m.Status, msg)
		return
	}

	logger := ctxlog.FromContext(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("request deadline exceeded", "error", err)
		Error(w, http.StatusGatewayTimeout, "timed out")
		return
	}
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
