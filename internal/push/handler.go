package push

import (
	"errors"
	"io"
	"net/http"

	"github.com/anonchat/edgeworker/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const maxPayloadSize = 64 * 1024

var validate = validator.New()

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrNoDisplayer, Status: http.StatusServiceUnavailable, Message: "notifications are not configured"},
	{Error: ErrDisplayUnavailable, Status: http.StatusServiceUnavailable, Message: "push gateway unavailable, retry later"},
}

// RegisterRoutes registers the notification endpoints under r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/push", h.HandlePush)
	r.Post("/notifications/click", h.HandleClick)
	r.Post("/notifications/close", h.HandleClose)
}

// HandlePush handles POST /sw/push. The body is the raw push payload and
// may be empty or malformed.
func (h *Handler) HandlePush(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, "push payload too large")
			return
		}
		httputil.Error(w, http.StatusBadRequest, "could not read payload")
		return
	}

	n, err := h.Push(r.Context(), raw)
	if err != nil {
		if errors.Is(err, ErrNoDisplayer) || errors.Is(err, ErrDisplayUnavailable) {
			httputil.HandleError(r.Context(), w, err, errorMappings)
			return
		}
		httputil.Error(w, http.StatusBadGateway, "notification could not be displayed")
		return
	}
	httputil.Success(w, http.StatusOK, n)
}

// HandleClick handles POST /sw/notifications/click.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	var ev ClickEvent
	if !httputil.DecodeAndValidate(w, r, validate, &ev) {
		return
	}
	httputil.Success(w, http.StatusOK, h.Click(r.Context(), ev))
}

// HandleClose handles POST /sw/notifications/close.
func (h *Handler) HandleClose(w http.ResponseWriter, r *http.Request) {
	var ev CloseEvent
	if !httputil.DecodeAndValidate(w, r, validate, &ev) {
		return
	}
	h.Close(r.Context(), ev)
	w.WriteHeader(http.StatusNoContent)
}
