package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/zeynepyuksell/fleeky-chat/internal/models"
	"github.com/zeynepyuksell/fleeky-chat/internal/store"
)

func newTestManager(t *testing.T) (*SubscriptionManager, *Directory, *Stream) {
	t.Helper()
	dir := store.NewMemoryDirectory()
	streams := store.NewMemoryStream()
	t.Cleanup(func() {
		dir.Close()
		streams.Close()
	})
	d := NewDirectory(dir, streams, DefaultDirectoryConfig(), zerolog.Nop())
	st := NewStream(dir, streams, zerolog.Nop())
	return NewSubscriptionManager(d, st, zerolog.Nop()), d, st
}

// collector buffers delivered messages behind a mutex so tests can poll.
type collector struct {
	mu   sync.Mutex
	msgs []*models.Message
}

func (c *collector) deliver(ev models.StreamEvent) {
	if ev.Err != nil {
		return
	}
	c.mu.Lock()
	c.msgs = append(c.msgs, ev.Message)
	c.mu.Unlock()
}

func (c *collector) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Text
	}
	return out
}

func (c *collector) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.msgs)
		c.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, have %d", n, len(c.texts()))
}

func TestOpenSessionIdempotent(t *testing.T) {
	m, _, _ := newTestManager(t)

	a := m.OpenSession("c1", "alice")
	b := m.OpenSession("c1", "alice")
	if a != b {
		t.Fatal("re-opening a client ID must return the same session")
	}
	if m.ActiveSessions() != 1 {
		t.Fatalf("expected 1 session, got %d", m.ActiveSessions())
	}
	m.CloseSession("c1")
	if m.ActiveSessions() != 0 {
		t.Fatalf("expected 0 sessions after close, got %d", m.ActiveSessions())
	}
}

func TestSubscribeRoomDelivers(t *testing.T) {
	m, d, st := newTestManager(t)
	ctx := context.Background()
	room, err := d.CreateRoom(ctx, "alice", "General", models.VisibilityPublic)
	if err != nil {
		t.Fatal(err)
	}

	sess := m.OpenSession("c1", "alice")
	var c collector
	if err := sess.SubscribeRoom(ctx, room.ID, models.Cursor{}, c.deliver); err != nil {
		t.Fatal(err)
	}

	if _, err := st.Send(ctx, "alice", "Alice", room.ID, "hi"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Send(ctx, "alice", "Alice", room.ID, "hello"); err != nil {
		t.Fatal(err)
	}

	c.waitFor(t, 2)
	got := c.texts()
	if got[0] != "hi" || got[1] != "hello" {
		t.Fatalf("wrong order: %v", got)
	}
	m.CloseSession("c1")
}

func TestSubscribeRoomIdempotent(t *testing.T) {
	m, d, st := newTestManager(t)
	ctx := context.Background()
	room, err := d.CreateRoom(ctx, "alice", "General", models.VisibilityPublic)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Send(ctx, "alice", "Alice", room.ID, "hi"); err != nil {
		t.Fatal(err)
	}

	sess := m.OpenSession("c1", "alice")
	var c collector
	if err := sess.SubscribeRoom(ctx, room.ID, models.Cursor{}, c.deliver); err != nil {
		t.Fatal(err)
	}
	c.waitFor(t, 1)

	// Same room again: no second subscription, no backlog replay.
	if err := sess.SubscribeRoom(ctx, room.ID, models.Cursor{}, c.deliver); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := c.texts(); len(got) != 1 {
		t.Fatalf("idempotent re-subscribe replayed backlog: %v", got)
	}
	m.CloseSession("c1")
}

func TestSubscribeRoomSupersedes(t *testing.T) {
	m, d, st := newTestManager(t)
	ctx := context.Background()
	roomA, err := d.CreateRoom(ctx, "alice", "A", models.VisibilityPublic)
	if err != nil {
		t.Fatal(err)
	}
	roomB, err := d.CreateRoom(ctx, "alice", "B", models.VisibilityPublic)
	if err != nil {
		t.Fatal(err)
	}

	sess := m.OpenSession("c1", "alice")
	var c collector
	if err := sess.SubscribeRoom(ctx, roomA.ID, models.Cursor{}, c.deliver); err != nil {
		t.Fatal(err)
	}
	// Switching rooms detaches A before B attaches.
	if err := sess.SubscribeRoom(ctx, roomB.ID, models.Cursor{}, c.deliver); err != nil {
		t.Fatal(err)
	}

	if _, err := st.Send(ctx, "alice", "Alice", roomA.ID, "from A"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Send(ctx, "alice", "Alice", roomB.ID, "from B"); err != nil {
		t.Fatal(err)
	}

	c.waitFor(t, 1)
	time.Sleep(20 * time.Millisecond)
	if got := c.texts(); len(got) != 1 || got[0] != "from B" {
		t.Fatalf("superseded subscription still delivered: %v", got)
	}
	m.CloseSession("c1")
}

func TestConcurrentSubscribesLeaveOneLive(t *testing.T) {
	m, d, st := newTestManager(t)
	ctx := context.Background()
	room, err := d.CreateRoom(ctx, "alice", "General", models.VisibilityPublic)
	if err != nil {
		t.Fatal(err)
	}

	sess := m.OpenSession("c1", "alice")
	var c collector
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sess.SubscribeRoom(ctx, room.ID, models.Cursor{}, c.deliver); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	// Racing subscribes may each have opened a watch, but only the last
	// installed one may deliver.
	if _, err := st.Send(ctx, "alice", "Alice", room.ID, "hi"); err != nil {
		t.Fatal(err)
	}
	c.waitFor(t, 1)
	time.Sleep(20 * time.Millisecond)
	if got := c.texts(); len(got) != 1 {
		t.Fatalf("orphaned subscription delivered: %v", got)
	}

	// Session close must reach the survivor too.
	m.CloseSession("c1")
	if _, err := st.Send(ctx, "alice", "Alice", room.ID, "late"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := c.texts(); len(got) != 1 {
		t.Fatalf("delivery after session close: %v", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m, d, st := newTestManager(t)
	ctx := context.Background()
	room, err := d.CreateRoom(ctx, "alice", "General", models.VisibilityPublic)
	if err != nil {
		t.Fatal(err)
	}

	sess := m.OpenSession("c1", "alice")
	var c collector
	if err := sess.SubscribeRoom(ctx, room.ID, models.Cursor{}, c.deliver); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Send(ctx, "alice", "Alice", room.ID, "before"); err != nil {
		t.Fatal(err)
	}
	c.waitFor(t, 1)

	sess.UnsubscribeRoom()
	if _, err := st.Send(ctx, "alice", "Alice", room.ID, "after"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := c.texts(); len(got) != 1 {
		t.Fatalf("delivery after unsubscribe: %v", got)
	}
	m.CloseSession("c1")
}

func TestCloseSessionStopsEverything(t *testing.T) {
	m, d, st := newTestManager(t)
	ctx := context.Background()
	room, err := d.CreateRoom(ctx, "alice", "General", models.VisibilityPublic)
	if err != nil {
		t.Fatal(err)
	}

	sess := m.OpenSession("c1", "alice")
	var c collector
	var dirCount int
	var dirMu sync.Mutex
	if err := sess.SubscribeDirectory(ctx, func(models.DirectoryEvent) {
		dirMu.Lock()
		dirCount++
		dirMu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}
	if err := sess.SubscribeRoom(ctx, room.ID, models.Cursor{}, c.deliver); err != nil {
		t.Fatal(err)
	}

	m.CloseSession("c1")

	if _, err := st.Send(ctx, "alice", "Alice", room.ID, "late"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := c.texts(); len(got) != 0 {
		t.Fatalf("closed session still received messages: %v", got)
	}

	// Subscribing on a closed session fails.
	if err := sess.SubscribeRoom(ctx, room.ID, models.Cursor{}, c.deliver); err != ErrSessionClosed {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if err := sess.SubscribeDirectory(ctx, func(models.DirectoryEvent) {}); err != ErrSessionClosed {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestSubscribeDirectoryDeliversSnapshots(t *testing.T) {
	m, d, _ := newTestManager(t)
	ctx := context.Background()

	sess := m.OpenSession("c1", "bob")
	var mu sync.Mutex
	var snaps [][]models.Room
	if err := sess.SubscribeDirectory(ctx, func(ev models.DirectoryEvent) {
		if ev.Err != nil {
			return
		}
		mu.Lock()
		snaps = append(snaps, ev.Rooms)
		mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := d.CreateRoom(ctx, "alice", "General", models.VisibilityPublic); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(snaps)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out, have %d snapshots", n)
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(snaps[0]) != 0 {
		t.Fatalf("initial snapshot should be empty, got %+v", snaps[0])
	}
	last := snaps[len(snaps)-1]
	if len(last) != 1 || last[0].Name != "General" {
		t.Fatalf("final snapshot wrong: %+v", last)
	}
	m.CloseSession("c1")
}
