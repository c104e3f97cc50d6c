package chat

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zeynepyuksell/fleeky-chat/internal/models"
	"github.com/zeynepyuksell/fleeky-chat/internal/store"
)

// MaxMessageRunes bounds message text length in code points.
const MaxMessageRunes = 500

// Stream owns per-room message logs and their ordered delivery.
type Stream struct {
	dir     store.DirectoryStore
	streams store.StreamStore
	log     zerolog.Logger
}

// NewStream creates the message stream service.
func NewStream(dir store.DirectoryStore, streams store.StreamStore, log zerolog.Logger) *Stream {
	return &Stream{
		dir:     dir,
		streams: streams,
		log:     log.With().Str("component", "stream").Logger(),
	}
}

// Send validates and appends a message. The sender must be a participant
// of the room. The append is durable before the room's last-message
// preview is updated; a preview failure is logged, never surfaced, since
// the message itself already committed.
func (s *Stream) Send(ctx context.Context, senderID, senderDisplay string, roomID uuid.UUID, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("message text must not be empty")
	}
	if n := utf8.RuneCountInString(text); n > MaxMessageRunes {
		return nil, invalid("message text too long: %d code points (max %d)", n, MaxMessageRunes)
	}

	room, err := s.dir.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	if !room.HasParticipant(senderID) {
		return nil, ErrNotMember
	}

	msg, err := s.streams.Append(ctx, &models.Message{
		RoomID:        roomID.String(),
		SenderID:      senderID,
		SenderDisplay: senderDisplay,
		Text:          text,
	})
	if err != nil {
		return nil, unavailable(err)
	}

	if err := s.dir.UpdatePreview(ctx, roomID, msg.Text, msg.CreatedAt); err != nil {
		s.log.Warn().Err(err).Str("room", roomID.String()).Msg("failed to update last-message preview")
	}
	return msg, nil
}

// History returns up to limit messages after the cursor in commit order.
// The caller must be able to see the room: public, or a participant.
func (s *Stream) History(ctx context.Context, userID string, roomID uuid.UUID, after models.Cursor, limit int) ([]models.Message, error) {
	if err := s.checkAccess(ctx, userID, roomID); err != nil {
		return nil, err
	}
	msgs, err := s.streams.List(ctx, roomID.String(), after, limit)
	if err != nil {
		return nil, unavailable(err)
	}
	return msgs, nil
}

// Subscribe returns a live feed of the room's messages: everything after
// the cursor, then new appends in commit order. The feed ends only via
// the returned cancel or a terminal error event; it is never closed by
// the server on its own.
func (s *Stream) Subscribe(ctx context.Context, userID string, roomID uuid.UUID, after models.Cursor) (<-chan models.StreamEvent, func(), error) {
	if err := s.checkAccess(ctx, userID, roomID); err != nil {
		return nil, nil, err
	}
	events, cancel, err := s.streams.Watch(ctx, roomID.String(), after)
	if err != nil {
		return nil, nil, unavailable(err)
	}
	return events, cancel, nil
}

func (s *Stream) checkAccess(ctx context.Context, userID string, roomID uuid.UUID) error {
	room, err := s.dir.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return unavailable(err)
	}
	if room.Visibility != models.VisibilityPublic && !room.HasParticipant(userID) {
		return ErrNotMember
	}
	return nil
}
