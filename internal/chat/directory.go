package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zeynepyuksell/fleeky-chat/internal/invite"
	"github.com/zeynepyuksell/fleeky-chat/internal/models"
	"github.com/zeynepyuksell/fleeky-chat/internal/store"
)

// DeletePolicy selects who may delete a room.
type DeletePolicy string

const (
	// DeleteByCreator restricts deletion to the room's creator.
	DeleteByCreator DeletePolicy = "creator"
	// DeleteByParticipant allows any current participant to delete.
	DeleteByParticipant DeletePolicy = "participant"
)

// DirectoryConfig bounds the directory's retry loops.
type DirectoryConfig struct {
	// CodeAttempts bounds invite-code generation retries on collision.
	CodeAttempts int
	// CASRetries bounds compare-and-set retries on join contention.
	CASRetries int
	// RetryBackoff is the initial backoff between CAS retries; it doubles
	// per attempt.
	RetryBackoff time.Duration
	// DeletePolicy selects the room deletion permission model.
	DeletePolicy DeletePolicy
}

// DefaultDirectoryConfig returns the production defaults.
func DefaultDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		CodeAttempts: 5,
		CASRetries:   5,
		RetryBackoff: 10 * time.Millisecond,
		DeletePolicy: DeleteByCreator,
	}
}

// Directory owns room lifecycle: creation, visibility, joining, deletion.
type Directory struct {
	store   store.DirectoryStore
	streams store.StreamStore
	cfg     DirectoryConfig
	log     zerolog.Logger
}

// NewDirectory creates the room directory service.
func NewDirectory(dir store.DirectoryStore, streams store.StreamStore, cfg DirectoryConfig, log zerolog.Logger) *Directory {
	if cfg.CodeAttempts <= 0 {
		cfg.CodeAttempts = DefaultDirectoryConfig().CodeAttempts
	}
	if cfg.CASRetries <= 0 {
		cfg.CASRetries = DefaultDirectoryConfig().CASRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultDirectoryConfig().RetryBackoff
	}
	if cfg.DeletePolicy == "" {
		cfg.DeletePolicy = DeleteByCreator
	}
	return &Directory{
		store:   dir,
		streams: streams,
		cfg:     cfg,
		log:     log.With().Str("component", "directory").Logger(),
	}
}

// CreateRoom validates and persists a new room with the owner as sole
// participant. Private rooms get a fresh invite code; generation retries
// on collision up to the configured bound. The returned room is the only
// place the invite code is ever handed out.
func (d *Directory) CreateRoom(ctx context.Context, ownerID, name string, visibility models.Visibility) (*models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("room name must not be empty")
	}
	if !visibility.Valid() {
		return nil, invalid("unknown visibility %q", visibility)
	}

	room := &models.Room{
		Name:         name,
		Visibility:   visibility,
		CreatedBy:    ownerID,
		Participants: []string{ownerID},
	}

	if visibility != models.VisibilityPrivate {
		created, err := d.store.CreateRoom(ctx, room)
		if err != nil {
			return nil, unavailable(err)
		}
		return created, nil
	}

	for attempt := 0; attempt < d.cfg.CodeAttempts; attempt++ {
		room.InviteCode = invite.Generate()
		created, err := d.store.CreateRoom(ctx, room)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, store.ErrCodeConflict) {
			return nil, unavailable(err)
		}
		d.log.Warn().Int("attempt", attempt+1).Msg("invite code collision, regenerating")
	}
	return nil, ErrResourceExhausted
}

// ListVisibleRooms returns the rooms visible to userID in directory
// order: most recent message first, message-less rooms after all others
// in creation order. Invite codes are blanked.
func (d *Directory) ListVisibleRooms(ctx context.Context, userID string) ([]models.Room, error) {
	rooms, err := d.store.ListRooms(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	return directoryView(rooms, userID), nil
}

// WatchVisibleRooms returns a live feed of the caller's directory view,
// starting with the current state. Every event carries the full visible
// room set in directory order.
func (d *Directory) WatchVisibleRooms(ctx context.Context, userID string) (<-chan models.DirectoryEvent, func(), error) {
	src, cancelSrc, err := d.store.Watch(ctx)
	if err != nil {
		return nil, nil, unavailable(err)
	}

	out := make(chan models.DirectoryEvent)
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelSrc()
			close(stop)
		})
	}

	go func() {
		defer close(out)
		for ev := range src {
			if ev.Err == nil {
				ev.Rooms = directoryView(ev.Rooms, userID)
			}
			select {
			case out <- ev:
			case <-stop:
				return
			}
		}
	}()
	return out, cancel, nil
}

// JoinByCode joins userID to the private room carrying the code. The
// membership write is a compare-and-set retried under contention. The
// second return value reports an idempotent no-op join of an existing
// member.
func (d *Directory) JoinByCode(ctx context.Context, userID, code string) (*models.Room, bool, error) {
	code = invite.Normalize(code)
	if !invite.Valid(code) {
		return nil, false, invalid("malformed invite code")
	}
	return d.join(ctx, userID, func(ctx context.Context) (*models.Room, error) {
		return d.store.GetRoomByCode(ctx, code)
	})
}

// JoinPublic joins userID to a public room. Fails NotFound for missing or
// private rooms; joining an already-joined room is an idempotent no-op.
func (d *Directory) JoinPublic(ctx context.Context, userID string, roomID uuid.UUID) (*models.Room, bool, error) {
	return d.join(ctx, userID, func(ctx context.Context) (*models.Room, error) {
		room, err := d.store.GetRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if room.Visibility != models.VisibilityPublic {
			return nil, store.ErrNotFound
		}
		return room, nil
	})
}

// join re-reads the room and compare-and-sets the participant set until
// it wins, the retry budget runs out, or the context expires. Two
// concurrent joins can never lose an update.
func (d *Directory) join(ctx context.Context, userID string, fetch func(context.Context) (*models.Room, error)) (*models.Room, bool, error) {
	backoff := d.cfg.RetryBackoff
	for attempt := 0; attempt < d.cfg.CASRetries; attempt++ {
		room, err := fetch(ctx)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, false, ErrNotFound
			}
			return nil, false, unavailable(err)
		}
		if room.HasParticipant(userID) {
			return sanitize(room), true, nil
		}

		participants := append(append([]string(nil), room.Participants...), userID)
		err = d.store.UpdateParticipants(ctx, room.ID, room.Version, participants)
		switch {
		case err == nil:
			room.Participants = participants
			room.Version++
			return sanitize(room), false, nil
		case errors.Is(err, store.ErrVersionConflict):
			d.log.Debug().Str("room", room.ID.String()).Int("attempt", attempt+1).Msg("join lost the race, retrying")
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return nil, false, ctxErr(ctx)
			}
		case errors.Is(err, store.ErrNotFound):
			return nil, false, ErrNotFound
		default:
			return nil, false, unavailable(err)
		}
	}
	return nil, false, ErrConflict
}

// DeleteRoom removes a room under the configured permission policy and
// then clears its message log best-effort.
func (d *Directory) DeleteRoom(ctx context.Context, requesterID string, roomID uuid.UUID) error {
	room, err := d.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return unavailable(err)
	}

	switch d.cfg.DeletePolicy {
	case DeleteByParticipant:
		if !room.HasParticipant(requesterID) {
			return ErrForbidden
		}
	default:
		if room.CreatedBy != requesterID {
			return ErrForbidden
		}
	}

	if err := d.store.DeleteRoom(ctx, roomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return unavailable(err)
	}

	if err := d.streams.DeleteRoomMessages(ctx, roomID.String()); err != nil {
		// The room is gone; orphaned messages only waste space.
		d.log.Warn().Err(err).Str("room", roomID.String()).Msg("failed to clear messages of deleted room")
	}
	return nil
}

// directoryView filters rooms down to what userID may see, orders them
// for display and blanks invite codes.
func directoryView(rooms []models.Room, userID string) []models.Room {
	visible := make([]models.Room, 0, len(rooms))
	for i := range rooms {
		r := rooms[i]
		if r.Visibility == models.VisibilityPublic || r.HasParticipant(userID) {
			visible = append(visible, *sanitize(&r))
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		a, b := &visible[i], &visible[j]
		switch {
		case a.LastMessageAt != 0 && b.LastMessageAt != 0:
			if a.LastMessageAt != b.LastMessageAt {
				return a.LastMessageAt > b.LastMessageAt
			}
			return a.ID.String() < b.ID.String()
		case a.LastMessageAt != 0:
			return true
		case b.LastMessageAt != 0:
			return false
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID.String() < b.ID.String()
		}
	})
	return visible
}

// sanitize blanks the invite code. The code leaves the service exactly
// once, on the create response to the creator.
func sanitize(room *models.Room) *models.Room {
	r := room.Clone()
	r.InviteCode = ""
	return r
}
