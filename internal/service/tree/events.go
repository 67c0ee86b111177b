package tree

import (
	"sync"
	"time"

	treeSvc "studydesk/internal/domain/services/tree"
)

// broadcaster fans change events out to subscribers without ever blocking
// the publisher; a full subscriber buffer drops the event
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan treeSvc.Event
	next   int
	buffer int
	closed bool
}

func newBroadcaster(buffer int) *broadcaster {
	return &broadcaster{subs: make(map[int]chan treeSvc.Event), buffer: buffer}
}

func (b *broadcaster) subscribe() (<-chan treeSvc.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan treeSvc.Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *broadcaster) publish(ev treeSvc.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
