package tree

import (
	"context"
	"sync"
)

// Pending is the confirmation half of an optimistic operation
type Pending struct {
	mu   sync.Mutex
	id   string
	err  error
	done chan struct{}
	once sync.Once
}

// NewPending creates an unresolved confirmation for item id
func NewPending(id string) *Pending {
	return &Pending{id: id, done: make(chan struct{})}
}

// Resolved returns an already-confirmed Pending, used for no-op intents
func Resolved(id string) *Pending {
	p := NewPending(id)
	p.Resolve(nil)
	return p
}

// Resolve settles the operation; only the first call has any effect
func (p *Pending) Resolve(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

// SetID records the id the gateway assigned to a created item
func (p *Pending) SetID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = id
}

// ID is the item the operation is about. For creates it becomes the
// gateway-assigned id once confirmed.
func (p *Pending) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// Done is closed when the operation is settled
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Err returns the settled error, or nil while still pending
func (p *Pending) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Wait blocks until the operation settles or ctx ends. Abandoning the wait
// does not cancel the operation.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
