package tree

import (
	"context"
	"sync"

	treeSvc "studydesk/internal/domain/services/tree"
)

// job is one queued gateway interaction
type job struct {
	ctx     context.Context
	op      string
	id      string
	change  *Change
	call    func(ctx context.Context) error
	pending *treeSvc.Pending
	refresh bool
	barrier bool
}

// dispatcher runs jobs one at a time, in the order they were issued, on its
// own goroutine. The queue is unbounded so issuing an intent never blocks.
type dispatcher struct {
	mu     sync.Mutex
	queue  []*job
	closed bool
	wake   chan struct{}
	done   chan struct{}
	exec   func(j *job, queued int)
}

func newDispatcher(exec func(j *job, queued int)) *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		exec: exec,
	}
	go d.run()
	return d
}

// enqueue appends j, or returns ErrClosed once the dispatcher is shutting down
func (d *dispatcher) enqueue(j *job) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.queue = append(d.queue, j)
	d.mu.Unlock()
	d.signal()
	return nil
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 {
			if d.closed {
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			<-d.wake
			d.mu.Lock()
		}
		j := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		queued := len(d.queue)
		d.mu.Unlock()

		d.exec(j, queued)
	}
}

func (d *dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// close stops accepting jobs and waits for the queued ones to run
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
	<-d.done
}
