package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zeynepyuksell/fleeky-chat/internal/api/middleware"
	"github.com/zeynepyuksell/fleeky-chat/internal/metrics"
	"github.com/zeynepyuksell/fleeky-chat/internal/models"
)

// CreateRoomRequest represents the room creation request.
type CreateRoomRequest struct {
	Name       string            `json:"name"`
	Visibility models.Visibility `json:"visibility"`
}

// JoinByCodeRequest represents the join-by-code request.
type JoinByCodeRequest struct {
	Code string `json:"code"`
}

// JoinResponse represents a successful join.
type JoinResponse struct {
	Room          models.Room `json:"room"`
	AlreadyMember bool        `json:"already_member"`
}

// RoomListResponse represents the visible rooms listing.
type RoomListResponse struct {
	Rooms []models.Room `json:"rooms"`
}

// CreateRoom handles room creation. The invite code of a private room is
// included in this response and nowhere else.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Visibility == "" {
		req.Visibility = models.VisibilityPublic
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	room, err := h.directory.CreateRoom(ctx, user.ID, req.Name, req.Visibility)
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	metrics.RoomsCreated.WithLabelValues(string(room.Visibility)).Inc()
	h.JSON(w, http.StatusCreated, room)
}

// ListRooms handles the one-shot visible rooms listing.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	rooms, err := h.directory.ListVisibleRooms(r.Context(), user.ID)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, RoomListResponse{Rooms: rooms})
}

// JoinByCode handles joining a private room via its invite code.
func (h *Handler) JoinByCode(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req JoinByCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	room, already, err := h.directory.JoinByCode(ctx, user.ID, req.Code)
	if err != nil {
		metrics.JoinsTotal.WithLabelValues("code", "error").Inc()
		h.ServiceError(w, err)
		return
	}

	metrics.JoinsTotal.WithLabelValues("code", joinOutcome(already)).Inc()
	h.JSON(w, http.StatusOK, JoinResponse{Room: *room, AlreadyMember: already})
}

// JoinPublic handles joining a public room by ID.
func (h *Handler) JoinPublic(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	roomID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	room, already, err := h.directory.JoinPublic(ctx, user.ID, roomID)
	if err != nil {
		metrics.JoinsTotal.WithLabelValues("public", "error").Inc()
		h.ServiceError(w, err)
		return
	}

	metrics.JoinsTotal.WithLabelValues("public", joinOutcome(already)).Inc()
	h.JSON(w, http.StatusOK, JoinResponse{Room: *room, AlreadyMember: already})
}

// DeleteRoom handles room deletion under the configured policy.
func (h *Handler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	roomID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.directory.DeleteRoom(ctx, user.ID, roomID); err != nil {
		h.ServiceError(w, err)
		return
	}

	metrics.RoomsDeleted.Inc()
	w.WriteHeader(http.StatusNoContent)
}

func joinOutcome(already bool) string {
	if already {
		return "already_member"
	}
	return "joined"
}
