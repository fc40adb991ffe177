// Package pipe holds the per-task delivery queues of the bus.
package pipe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/flightcore/softbus/internal/domain/buffer"
)

var (
	ErrQueueFull    = errors.New("queue full")
	ErrQueueEmpty   = errors.New("queue empty")
	ErrQueueTimeout = errors.New("queue receive timed out")
	ErrQueueClosed  = errors.New("queue closed")
)

// Wait modes for Queue.Get. Any positive duration is a bounded wait.
const (
	Poll    time.Duration = 0
	Forever time.Duration = -1
)

// Queue is a bounded FIFO of buffer references. Put never blocks; Get can
// poll, wait with a timeout, or wait until an item arrives or the queue is
// closed.
type Queue struct {
	items chan *buffer.Buffer
	done  chan struct{}
	once  sync.Once
}

// NewQueue creates a queue holding at most depth items.
func NewQueue(depth int) *Queue {
	return &Queue{
		items: make(chan *buffer.Buffer, depth),
		done:  make(chan struct{}),
	}
}

// TryPut enqueues b without blocking.
func (q *Queue) TryPut(b *buffer.Buffer) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.items <- b:
		return nil
	default:
		return ErrQueueFull
	}
}

// Get dequeues the oldest item according to wait.
func (q *Queue) Get(ctx context.Context, wait time.Duration) (*buffer.Buffer, error) {
	// Closed wins over queued items: a deleted pipe delivers nothing more.
	select {
	case <-q.done:
		return nil, ErrQueueClosed
	default:
	}

	switch {
	case wait == Poll:
		select {
		case b := <-q.items:
			return b, nil
		default:
			return nil, ErrQueueEmpty
		}

	case wait < 0:
		select {
		case b := <-q.items:
			return b, nil
		case <-q.done:
			return nil, ErrQueueClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}

	default:
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case b := <-q.items:
			return b, nil
		case <-q.done:
			return nil, ErrQueueClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrQueueTimeout
		}
	}
}

// Close wakes every waiting Get with ErrQueueClosed and refuses new items.
// Items already queued stay until Drain.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}

// Drain removes and returns every queued item without blocking.
func (q *Queue) Drain() []*buffer.Buffer {
	var out []*buffer.Buffer
	for {
		select {
		case b := <-q.items:
			out = append(out, b)
		default:
			return out
		}
	}
}

// Len is the number of queued items.
func (q *Queue) Len() int { return len(q.items) }

// Depth is the queue capacity.
func (q *Queue) Depth() int { return cap(q.items) }

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
