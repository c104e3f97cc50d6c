// Package store provides the persistence boundary for the chat core: a
// directory of rooms and per-room append-only message logs, each with a
// watch primitive delivering ordered change events.
package store

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/zeynepyuksell/fleeky-chat/internal/models"
)

var (
	// ErrNotFound is returned by point reads and updates on missing rooms.
	ErrNotFound = errors.New("store: not found")
	// ErrVersionConflict is returned by conditional updates when the room
	// was modified by a concurrent writer.
	ErrVersionConflict = errors.New("store: version conflict")
	// ErrCodeConflict is returned by CreateRoom when the invite code is
	// already assigned to another private room.
	ErrCodeConflict = errors.New("store: invite code already assigned")
)

// DirectoryStore holds Room records.
type DirectoryStore interface {
	// CreateRoom persists a new room, assigning ID, CreatedAt and Version.
	// Fails with ErrCodeConflict if the room carries an invite code that is
	// already assigned.
	CreateRoom(ctx context.Context, room *models.Room) (*models.Room, error)

	// GetRoom returns the room or ErrNotFound.
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)

	// GetRoomByCode resolves a private room by invite code,
	// case-insensitively. Returns ErrNotFound if no private room carries
	// the code.
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)

	// ListRooms returns all rooms.
	ListRooms(ctx context.Context) ([]models.Room, error)

	// UpdateParticipants replaces the participant set if and only if the
	// stored version still equals version (compare-and-set). Returns
	// ErrVersionConflict when a concurrent writer got there first.
	UpdateParticipants(ctx context.Context, id uuid.UUID, version int64, participants []string) error

	// UpdatePreview updates the denormalized last-message cache. Callers
	// treat failures as non-fatal.
	UpdatePreview(ctx context.Context, id uuid.UUID, preview string, at int64) error

	// DeleteRoom removes the room or returns ErrNotFound.
	DeleteRoom(ctx context.Context, id uuid.UUID) error

	// Watch returns a feed of directory events: the current full room set
	// immediately, then a fresh snapshot after every change. Events are
	// never reordered or dropped. The returned cancel is idempotent and
	// guarantees no delivery after it returns.
	Watch(ctx context.Context) (<-chan models.DirectoryEvent, func(), error)

	Ping(ctx context.Context) error
	Close() error
}

// StreamStore holds per-room message logs.
type StreamStore interface {
	// Append commits a message, assigning its ID and CreatedAt from the
	// store's commit clock. Messages are immutable once committed.
	Append(ctx context.Context, msg *models.Message) (*models.Message, error)

	// List returns up to limit messages with position strictly after the
	// cursor, in (CreatedAt, ID) order. limit <= 0 means no limit.
	List(ctx context.Context, roomID string, after models.Cursor, limit int) ([]models.Message, error)

	// Watch returns a feed delivering every message after the cursor in
	// commit order, then new appends as they commit. The feed ends only
	// via the cancel func or a terminal error event.
	Watch(ctx context.Context, roomID string, after models.Cursor) (<-chan models.StreamEvent, func(), error)

	// DeleteRoomMessages drops the room's entire log.
	DeleteRoomMessages(ctx context.Context, roomID string) error

	Ping(ctx context.Context) error
	Close() error
}

// ULID generation is serialized so that IDs minted within the same
// millisecond still sort in commit order.
var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID mints a ULID for a message committed at t.
func NewMessageID(t time.Time) string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), ulidEntropy).String()
}
