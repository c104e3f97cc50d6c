package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zeynepyuksell/fleeky-chat/internal/invite"
	"github.com/zeynepyuksell/fleeky-chat/internal/models"
)

// MemoryDirectory is an in-memory DirectoryStore. It is the default
// backend when no database is configured and the test double elsewhere.
type MemoryDirectory struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]*models.Room
	codes map[string]uuid.UUID // normalized code -> private room
	hub   *dirHub
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		rooms: make(map[uuid.UUID]*models.Room),
		codes: make(map[string]uuid.UUID),
		hub:   newDirHub(),
	}
}

func (s *MemoryDirectory) CreateRoom(ctx context.Context, room *models.Room) (*models.Room, error) {
	s.mu.Lock()
	code := invite.Normalize(room.InviteCode)
	if code != "" {
		if _, taken := s.codes[code]; taken {
			s.mu.Unlock()
			return nil, ErrCodeConflict
		}
	}
	r := room.Clone()
	r.ID = uuid.New()
	r.InviteCode = code
	r.CreatedAt = time.Now()
	r.Version = 1
	s.rooms[r.ID] = r
	if code != "" {
		s.codes[code] = r.ID
	}
	// Broadcast under the lock so watchers see snapshots in mutation
	// order.
	s.hub.broadcast(models.DirectoryEvent{Rooms: s.snapshotLocked()})
	s.mu.Unlock()
	return r.Clone(), nil
}

func (s *MemoryDirectory) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryDirectory) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[invite.Normalize(code)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.rooms[id].Clone(), nil
}

func (s *MemoryDirectory) ListRooms(ctx context.Context) ([]models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), nil
}

func (s *MemoryDirectory) UpdateParticipants(ctx context.Context, id uuid.UUID, version int64, participants []string) error {
	s.mu.Lock()
	r, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if r.Version != version {
		s.mu.Unlock()
		return ErrVersionConflict
	}
	r.Participants = append([]string(nil), participants...)
	r.Version++
	s.hub.broadcast(models.DirectoryEvent{Rooms: s.snapshotLocked()})
	s.mu.Unlock()
	return nil
}

func (s *MemoryDirectory) UpdatePreview(ctx context.Context, id uuid.UUID, preview string, at int64) error {
	s.mu.Lock()
	r, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	r.LastMessagePreview = preview
	r.LastMessageAt = at
	s.hub.broadcast(models.DirectoryEvent{Rooms: s.snapshotLocked()})
	s.mu.Unlock()
	return nil
}

func (s *MemoryDirectory) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	r, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if r.InviteCode != "" {
		delete(s.codes, r.InviteCode)
	}
	delete(s.rooms, id)
	s.hub.broadcast(models.DirectoryEvent{Rooms: s.snapshotLocked()})
	s.mu.Unlock()
	return nil
}

func (s *MemoryDirectory) Watch(ctx context.Context) (<-chan models.DirectoryEvent, func(), error) {
	s.mu.RLock()
	f := s.hub.subscribe()
	f.push(models.DirectoryEvent{Rooms: s.snapshotLocked()})
	s.mu.RUnlock()

	cancel := func() { s.hub.drop(f) }
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return f.out, cancel, nil
}

func (s *MemoryDirectory) Ping(ctx context.Context) error { return nil }

func (s *MemoryDirectory) Close() error {
	s.hub.closeAll()
	return nil
}

// snapshotLocked clones all rooms in creation order. Callers hold s.mu.
func (s *MemoryDirectory) snapshotLocked() []models.Room {
	rooms := make([]models.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, *r.Clone())
	}
	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
		}
		return rooms[i].ID.String() < rooms[j].ID.String()
	})
	return rooms
}

// MemoryStream is an in-memory StreamStore.
type MemoryStream struct {
	mu       sync.RWMutex
	logs     map[string][]models.Message
	watchers map[string]map[*feed[models.StreamEvent]]struct{}
	lastTs   int64 // commit clock floor, keeps CreatedAt non-decreasing
}

// NewMemoryStream creates an empty in-memory stream store.
func NewMemoryStream() *MemoryStream {
	return &MemoryStream{
		logs:     make(map[string][]models.Message),
		watchers: make(map[string]map[*feed[models.StreamEvent]]struct{}),
	}
}

func (s *MemoryStream) Append(ctx context.Context, msg *models.Message) (*models.Message, error) {
	s.mu.Lock()
	now := time.Now().UnixMilli()
	if now < s.lastTs {
		now = s.lastTs
	}
	s.lastTs = now

	m := *msg
	m.CreatedAt = now
	m.ID = NewMessageID(time.UnixMilli(now))
	s.logs[m.RoomID] = append(s.logs[m.RoomID], m)

	for f := range s.watchers[m.RoomID] {
		committed := m
		f.push(models.StreamEvent{Message: &committed})
	}
	s.mu.Unlock()

	out := m
	return &out, nil
}

func (s *MemoryStream) List(ctx context.Context, roomID string, after models.Cursor, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var msgs []models.Message
	for i := range s.logs[roomID] {
		m := s.logs[roomID][i]
		if !after.IsZero() && !after.Before(&m) {
			continue
		}
		msgs = append(msgs, m)
		if limit > 0 && len(msgs) == limit {
			break
		}
	}
	return msgs, nil
}

func (s *MemoryStream) Watch(ctx context.Context, roomID string, after models.Cursor) (<-chan models.StreamEvent, func(), error) {
	f := newFeed[models.StreamEvent]()

	// Backlog and registration happen under the same lock as Append, so
	// the feed sees every message exactly once, in commit order.
	s.mu.Lock()
	for i := range s.logs[roomID] {
		m := s.logs[roomID][i]
		if !after.IsZero() && !after.Before(&m) {
			continue
		}
		f.push(models.StreamEvent{Message: &m})
	}
	if s.watchers[roomID] == nil {
		s.watchers[roomID] = make(map[*feed[models.StreamEvent]]struct{})
	}
	s.watchers[roomID][f] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.watchers[roomID], f)
		if len(s.watchers[roomID]) == 0 {
			delete(s.watchers, roomID)
		}
		s.mu.Unlock()
		f.close()
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return f.out, cancel, nil
}

func (s *MemoryStream) DeleteRoomMessages(ctx context.Context, roomID string) error {
	s.mu.Lock()
	delete(s.logs, roomID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStream) Ping(ctx context.Context) error { return nil }

func (s *MemoryStream) Close() error {
	s.mu.Lock()
	for _, feeds := range s.watchers {
		for f := range feeds {
			f.close()
		}
	}
	s.watchers = make(map[string]map[*feed[models.StreamEvent]]struct{})
	s.mu.Unlock()
	return nil
}
