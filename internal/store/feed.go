package store

import (
	"sync"

	"github.com/zeynepyuksell/fleeky-chat/internal/models"
)

// feed is a single-consumer event queue. Producers never block and events
// are delivered in push order. close is synchronous: once it returns, no
// further event is accepted and the out channel drains to closed.
type feed[T any] struct {
	mu     sync.Mutex
	queue  []T
	closed bool

	wake chan struct{}
	done chan struct{}
	out  chan T
}

func newFeed[T any]() *feed[T] {
	f := &feed[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan T),
	}
	go f.run()
	return f
}

func (f *feed[T]) push(v T) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.queue = append(f.queue, v)
	f.mu.Unlock()
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *feed[T]) run() {
	defer close(f.out)
	for {
		f.mu.Lock()
		if len(f.queue) == 0 {
			f.mu.Unlock()
			select {
			case <-f.wake:
				continue
			case <-f.done:
				return
			}
		}
		v := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()

		select {
		case f.out <- v:
		case <-f.done:
			return
		}
	}
}

func (f *feed[T]) close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()
	close(f.done)
}

// dirHub fans directory snapshots out to any number of feeds. Shared by
// every DirectoryStore implementation; the store calls broadcast after
// each successful mutation.
type dirHub struct {
	mu    sync.Mutex
	feeds map[*feed[models.DirectoryEvent]]struct{}
}

func newDirHub() *dirHub {
	return &dirHub{feeds: make(map[*feed[models.DirectoryEvent]]struct{})}
}

func (h *dirHub) subscribe() *feed[models.DirectoryEvent] {
	f := newFeed[models.DirectoryEvent]()
	h.mu.Lock()
	h.feeds[f] = struct{}{}
	h.mu.Unlock()
	return f
}

func (h *dirHub) drop(f *feed[models.DirectoryEvent]) {
	h.mu.Lock()
	delete(h.feeds, f)
	h.mu.Unlock()
	f.close()
}

func (h *dirHub) broadcast(ev models.DirectoryEvent) {
	h.mu.Lock()
	for f := range h.feeds {
		f.push(ev)
	}
	h.mu.Unlock()
}

func (h *dirHub) closeAll() {
	h.mu.Lock()
	for f := range h.feeds {
		f.close()
		delete(h.feeds, f)
	}
	h.mu.Unlock()
}
