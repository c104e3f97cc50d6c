package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zeynepyuksell/fleeky-chat/internal/models"
)

// ErrSessionClosed is returned when subscribing on a torn-down session.
var ErrSessionClosed = errors.New("session closed")

// DirectoryDeliver receives ordered directory events for one session.
type DirectoryDeliver func(models.DirectoryEvent)

// StreamDeliver receives ordered message events for one session.
type StreamDeliver func(models.StreamEvent)

// SubscriptionManager tracks live subscriptions per client session. Each
// session holds at most one directory subscription and one room
// subscription; switching rooms supersedes the previous one. Cancellation
// is synchronous: once a subscription is detached, its deliver callback
// never fires again, even for events already in flight.
type SubscriptionManager struct {
	directory *Directory
	stream    *Stream
	log       zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSubscriptionManager creates the manager.
func NewSubscriptionManager(directory *Directory, stream *Stream, log zerolog.Logger) *SubscriptionManager {
	return &SubscriptionManager{
		directory: directory,
		stream:    stream,
		log:       log.With().Str("component", "subscriptions").Logger(),
		sessions:  make(map[string]*Session),
	}
}

// OpenSession registers a client session. Opening an already-open client
// ID returns the existing session.
func (m *SubscriptionManager) OpenSession(clientID, userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[clientID]; ok {
		return s
	}
	s := &Session{clientID: clientID, userID: userID, mgr: m}
	m.sessions[clientID] = s
	return s
}

// CloseSession tears down the session and every subscription it owns.
func (m *SubscriptionManager) CloseSession(clientID string) {
	m.mu.Lock()
	s, ok := m.sessions[clientID]
	delete(m.sessions, clientID)
	m.mu.Unlock()
	if ok {
		s.close()
	}
}

// ActiveSessions reports the number of open sessions.
func (m *SubscriptionManager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Session is one client's subscription state. It is exclusively owned by
// that client's connection and never shared.
type Session struct {
	clientID string
	userID   string
	mgr      *SubscriptionManager

	mu     sync.Mutex
	dir    *subscription
	room   *subscription
	closed bool
}

// subscription pairs a source cancel with an active fence. The fence is
// flipped under the session mutex, which the pump also holds while
// delivering, so detach is synchronous.
type subscription struct {
	target    string
	active    bool
	cancelSrc func()
	done      chan struct{}
}

// SubscribeDirectory opens the session's directory subscription. If one
// is already live, this is an idempotent no-op.
func (s *Session) SubscribeDirectory(ctx context.Context, deliver DirectoryDeliver) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.dir != nil && s.dir.active {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	events, cancel, err := s.mgr.directory.WatchVisibleRooms(ctx, s.userID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return ErrSessionClosed
	}
	// A concurrent subscribe may have installed its own watch while ours
	// was being opened; detach it so it cannot deliver or leak.
	race := s.dir
	if race != nil {
		race.active = false
	}
	sub := &subscription{target: "directory", active: true, cancelSrc: cancel, done: make(chan struct{})}
	s.dir = sub
	s.mu.Unlock()

	if race != nil {
		race.cancelSrc()
	}
	go s.pumpDirectory(sub, events, deliver)
	return nil
}

// SubscribeRoom opens a message subscription for roomID, superseding any
// subscription to a different room. Re-subscribing to the same room is an
// idempotent no-op.
func (s *Session) SubscribeRoom(ctx context.Context, roomID uuid.UUID, after models.Cursor, deliver StreamDeliver) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.room != nil && s.room.active && s.room.target == roomID.String() {
		s.mu.Unlock()
		return nil
	}
	prev := s.detachRoomLocked()
	s.mu.Unlock()
	if prev != nil {
		prev.cancelSrc()
	}

	events, cancel, err := s.mgr.stream.Subscribe(ctx, s.userID, roomID, after)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return ErrSessionClosed
	}
	// Detach a watch installed by a concurrent subscribe while ours was
	// being opened.
	race := s.detachRoomLocked()
	sub := &subscription{target: roomID.String(), active: true, cancelSrc: cancel, done: make(chan struct{})}
	s.room = sub
	s.mu.Unlock()

	if race != nil {
		race.cancelSrc()
	}
	go s.pumpRoom(sub, events, deliver)
	return nil
}

// UnsubscribeDirectory detaches the directory subscription, if any. No
// delivery fires after it returns.
func (s *Session) UnsubscribeDirectory() {
	s.mu.Lock()
	sub := s.dir
	if sub != nil {
		sub.active = false
		s.dir = nil
	}
	s.mu.Unlock()
	if sub != nil {
		sub.cancelSrc()
	}
}

// UnsubscribeRoom detaches the room subscription, if any. No delivery
// fires after it returns.
func (s *Session) UnsubscribeRoom() {
	s.mu.Lock()
	sub := s.detachRoomLocked()
	s.mu.Unlock()
	if sub != nil {
		sub.cancelSrc()
	}
}

func (s *Session) detachRoomLocked() *subscription {
	sub := s.room
	if sub != nil {
		sub.active = false
		s.room = nil
	}
	return sub
}

func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	dir, room := s.dir, s.detachRoomLocked()
	if dir != nil {
		dir.active = false
		s.dir = nil
	}
	s.mu.Unlock()

	if dir != nil {
		dir.cancelSrc()
	}
	if room != nil {
		room.cancelSrc()
	}
}

func (s *Session) pumpDirectory(sub *subscription, events <-chan models.DirectoryEvent, deliver DirectoryDeliver) {
	defer close(sub.done)
	for ev := range events {
		s.mu.Lock()
		if !sub.active {
			s.mu.Unlock()
			return
		}
		deliver(ev)
		if ev.Err != nil {
			// Terminal error event closes the subscription.
			sub.active = false
			if s.dir == sub {
				s.dir = nil
			}
			s.mu.Unlock()
			sub.cancelSrc()
			return
		}
		s.mu.Unlock()
	}
}

func (s *Session) pumpRoom(sub *subscription, events <-chan models.StreamEvent, deliver StreamDeliver) {
	defer close(sub.done)
	for ev := range events {
		s.mu.Lock()
		if !sub.active {
			s.mu.Unlock()
			return
		}
		deliver(ev)
		if ev.Err != nil {
			sub.active = false
			if s.room == sub {
				s.room = nil
			}
			s.mu.Unlock()
			sub.cancelSrc()
			return
		}
		s.mu.Unlock()
	}
}
