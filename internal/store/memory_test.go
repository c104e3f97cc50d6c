package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zeynepyuksell/fleeky-chat/internal/models"
)

func newRoom(name string, visibility models.Visibility, code, owner string) *models.Room {
	return &models.Room{
		Name:         name,
		Visibility:   visibility,
		InviteCode:   code,
		CreatedBy:    owner,
		Participants: []string{owner},
	}
}

func mustCreate(t *testing.T, s DirectoryStore, room *models.Room) *models.Room {
	t.Helper()
	created, err := s.CreateRoom(context.Background(), room)
	if err != nil {
		t.Fatal(err)
	}
	return created
}

func TestMemoryDirectoryCreateAssignsIdentity(t *testing.T) {
	s := NewMemoryDirectory()
	defer s.Close()

	r := mustCreate(t, s, newRoom("general", models.VisibilityPublic, "", "alice"))
	if r.ID == uuid.Nil {
		t.Fatal("expected assigned room ID")
	}
	if r.Version != 1 {
		t.Fatalf("expected version 1, got %d", r.Version)
	}
	if r.CreatedAt.IsZero() {
		t.Fatal("expected assigned creation time")
	}
}

func TestMemoryDirectoryCodeConflict(t *testing.T) {
	s := NewMemoryDirectory()
	defer s.Close()

	mustCreate(t, s, newRoom("a", models.VisibilityPrivate, "AAA111", "alice"))
	_, err := s.CreateRoom(context.Background(), newRoom("b", models.VisibilityPrivate, "aaa111", "bob"))
	if !errors.Is(err, ErrCodeConflict) {
		t.Fatalf("expected ErrCodeConflict, got %v", err)
	}
}

func TestMemoryDirectoryGetByCodeCaseInsensitive(t *testing.T) {
	s := NewMemoryDirectory()
	defer s.Close()

	created := mustCreate(t, s, newRoom("a", models.VisibilityPrivate, "AB12CD", "alice"))
	got, err := s.GetRoomByCode(context.Background(), "ab12cd")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != created.ID {
		t.Fatalf("expected room %s, got %s", created.ID, got.ID)
	}

	if _, err := s.GetRoomByCode(context.Background(), "ZZZZZZ"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryDirectoryCAS(t *testing.T) {
	s := NewMemoryDirectory()
	defer s.Close()

	r := mustCreate(t, s, newRoom("a", models.VisibilityPublic, "", "alice"))

	if err := s.UpdateParticipants(context.Background(), r.ID, r.Version, []string{"alice", "bob"}); err != nil {
		t.Fatal(err)
	}
	// Stale version loses.
	err := s.UpdateParticipants(context.Background(), r.ID, r.Version, []string{"alice", "carol"})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	got, err := s.GetRoom(context.Background(), r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Participants) != 2 || got.Participants[1] != "bob" {
		t.Fatalf("unexpected participants %v", got.Participants)
	}
	if got.Version != 2 {
		t.Fatalf("expected version 2, got %d", got.Version)
	}
}

func TestMemoryDirectoryWatchDeliversSnapshots(t *testing.T) {
	s := NewMemoryDirectory()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, stop, err := s.Watch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	ev := recvDirectory(t, events)
	if len(ev.Rooms) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d rooms", len(ev.Rooms))
	}

	mustCreate(t, s, newRoom("a", models.VisibilityPublic, "", "alice"))
	ev = recvDirectory(t, events)
	if len(ev.Rooms) != 1 || ev.Rooms[0].Name != "a" {
		t.Fatalf("unexpected snapshot %+v", ev.Rooms)
	}
}

func TestMemoryDirectoryWatchCancelStopsDelivery(t *testing.T) {
	s := NewMemoryDirectory()
	defer s.Close()

	events, stop, err := s.Watch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	recvDirectory(t, events) // initial snapshot

	stop()
	mustCreate(t, s, newRoom("a", models.VisibilityPublic, "", "alice"))

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("received event after cancel")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("channel not closed after cancel")
	}
}

func TestMemoryDirectorySnapshotsNeverRegress(t *testing.T) {
	s := NewMemoryDirectory()
	defer s.Close()

	events, stop, err := s.Watch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	const writers = 8
	const perWriter = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				room := newRoom(fmt.Sprintf("r%d-%d", i, j), models.VisibilityPublic, "", "alice")
				if _, err := s.CreateRoom(context.Background(), room); err != nil {
					t.Error(err)
				}
			}
		}(i)
	}
	wg.Wait()

	// Concurrent writers broadcast under the store lock, so a watcher's
	// view only ever grows; a shrinking snapshot means a stale one
	// overtook a newer one.
	last := -1
	for {
		ev := recvDirectory(t, events)
		if len(ev.Rooms) < last {
			t.Fatalf("snapshot regressed from %d to %d rooms", last, len(ev.Rooms))
		}
		last = len(ev.Rooms)
		if last == writers*perWriter {
			return
		}
	}
}

func TestMemoryStreamAppendOrders(t *testing.T) {
	s := NewMemoryStream()
	defer s.Close()

	ctx := context.Background()
	first, err := s.Append(ctx, &models.Message{RoomID: "r1", SenderID: "alice", Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Append(ctx, &models.Message{RoomID: "r1", SenderID: "bob", Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}

	if first.ID == "" || second.ID == "" {
		t.Fatal("expected assigned message IDs")
	}
	if !first.Cursor().Before(second) {
		t.Fatalf("expected %v to order before %v", first, second)
	}

	msgs, err := s.List(ctx, "r1", models.Cursor{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Text != "hi" || msgs[1].Text != "hello" {
		t.Fatalf("unexpected log %+v", msgs)
	}
}

func TestMemoryStreamListAfterCursor(t *testing.T) {
	s := NewMemoryStream()
	defer s.Close()

	ctx := context.Background()
	first, _ := s.Append(ctx, &models.Message{RoomID: "r1", Text: "one"})
	s.Append(ctx, &models.Message{RoomID: "r1", Text: "two"})
	s.Append(ctx, &models.Message{RoomID: "r1", Text: "three"})

	msgs, err := s.List(ctx, "r1", first.Cursor(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Text != "two" {
		t.Fatalf("unexpected page %+v", msgs)
	}

	msgs, err = s.List(ctx, "r1", models.Cursor{}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(msgs))
	}
}

func TestMemoryStreamWatchBacklogThenLive(t *testing.T) {
	s := NewMemoryStream()
	defer s.Close()

	ctx := context.Background()
	s.Append(ctx, &models.Message{RoomID: "r1", Text: "hi"})
	s.Append(ctx, &models.Message{RoomID: "r1", Text: "hello"})

	events, stop, err := s.Watch(ctx, "r1", models.Cursor{})
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	if got := recvStream(t, events).Message.Text; got != "hi" {
		t.Fatalf("expected backlog 'hi', got %q", got)
	}
	if got := recvStream(t, events).Message.Text; got != "hello" {
		t.Fatalf("expected backlog 'hello', got %q", got)
	}

	s.Append(ctx, &models.Message{RoomID: "r1", Text: "live"})
	if got := recvStream(t, events).Message.Text; got != "live" {
		t.Fatalf("expected live 'live', got %q", got)
	}
}

func TestMemoryStreamTwoWatchersSameOrder(t *testing.T) {
	s := NewMemoryStream()
	defer s.Close()

	ctx := context.Background()
	a, stopA, err := s.Watch(ctx, "r1", models.Cursor{})
	if err != nil {
		t.Fatal(err)
	}
	defer stopA()
	b, stopB, err := s.Watch(ctx, "r1", models.Cursor{})
	if err != nil {
		t.Fatal(err)
	}
	defer stopB()

	texts := []string{"one", "two", "three", "four"}
	for _, text := range texts {
		if _, err := s.Append(ctx, &models.Message{RoomID: "r1", Text: text}); err != nil {
			t.Fatal(err)
		}
	}

	for i, want := range texts {
		gotA := recvStream(t, a).Message
		gotB := recvStream(t, b).Message
		if gotA.Text != want || gotB.Text != want {
			t.Fatalf("position %d: watcher A saw %q, B saw %q, want %q", i, gotA.Text, gotB.Text, want)
		}
		if gotA.ID != gotB.ID {
			t.Fatalf("position %d: watchers disagree on message identity", i)
		}
	}
}

func recvDirectory(t *testing.T, ch <-chan models.DirectoryEvent) models.DirectoryEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		if ev.Err != nil {
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for directory event")
		return models.DirectoryEvent{}
	}
}

func recvStream(t *testing.T, ch <-chan models.StreamEvent) models.StreamEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		if ev.Err != nil {
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream event")
		return models.StreamEvent{}
	}
}
