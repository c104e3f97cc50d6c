package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/zeynepyuksell/fleeky-chat/internal/chat"
	"github.com/zeynepyuksell/fleeky-chat/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	directory *chat.Directory
	stream    *chat.Stream
	subs      *chat.SubscriptionManager

	dirStore    store.DirectoryStore
	streamStore store.StreamStore

	timeout time.Duration
	log     zerolog.Logger
}

// NewHandler creates a Handler with the given services and stores.
func NewHandler(directory *chat.Directory, stream *chat.Stream, subs *chat.SubscriptionManager,
	dirStore store.DirectoryStore, streamStore store.StreamStore,
	timeout time.Duration, log zerolog.Logger) *Handler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Handler{
		directory:   directory,
		stream:      stream,
		subs:        subs,
		dirStore:    dirStore,
		streamStore: streamStore,
		timeout:     timeout,
		log:         log.With().Str("component", "http").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// ServiceError maps a chat service error onto an HTTP response.
func (h *Handler) ServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		h.Error(w, http.StatusNotFound, "room not found")
	case errors.Is(err, chat.ErrNotMember):
		h.Error(w, http.StatusForbidden, "membership required")
	case errors.Is(err, chat.ErrForbidden):
		h.Error(w, http.StatusForbidden, "not allowed")
	case errors.Is(err, chat.ErrInvalidInput):
		h.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrConflict):
		h.Error(w, http.StatusConflict, "concurrent update conflict, try again")
	case errors.Is(err, chat.ErrResourceExhausted):
		h.Error(w, http.StatusServiceUnavailable, "could not allocate an invite code, try again")
	case errors.Is(err, chat.ErrTimeout):
		h.Error(w, http.StatusGatewayTimeout, "operation timed out")
	case errors.Is(err, chat.ErrUnavailable):
		h.Error(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		h.log.Error().Err(err).Msg("unhandled service error")
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}
