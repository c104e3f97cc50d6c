package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zeynepyuksell/fleeky-chat/internal/api/middleware"
	"github.com/zeynepyuksell/fleeky-chat/internal/metrics"
	"github.com/zeynepyuksell/fleeky-chat/internal/models"
)

// SendMessageRequest represents the send message request.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// MessageListResponse represents a backlog page.
type MessageListResponse struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// GetMessages handles fetching a page of a room's message history.
// Query params: after_ts + after_id (cursor), limit.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	roomID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}

	var after models.Cursor
	afterTS := r.URL.Query().Get("after_ts")
	afterID := r.URL.Query().Get("after_id")
	if afterID != "" && afterTS == "" {
		h.Error(w, http.StatusBadRequest, "after_id requires after_ts")
		return
	}
	if afterTS != "" {
		ts, err := strconv.ParseInt(afterTS, 10, 64)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid after_ts")
			return
		}
		after.CreatedAt = ts
		after.ID = afterID
	}

	// Fetch one extra for the has_more flag.
	msgs, err := h.stream.History(r.Context(), user.ID, roomID, after, limit+1)
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	h.JSON(w, http.StatusOK, MessageListResponse{Messages: msgs, HasMore: hasMore})
}

// SendMessage handles appending a message to a room.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	roomID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	msg, err := h.stream.Send(ctx, user.ID, user.Email, roomID, req.Text)
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	metrics.MessagesSent.Inc()
	h.JSON(w, http.StatusCreated, msg)
}
