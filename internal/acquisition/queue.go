package acquisition

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue is a bounded FIFO of blocks. When full, Put discards the oldest block
// so that consumers always see the most recent signal.
type Queue struct {
	mu     sync.Mutex
	items  []Block
	size   int
	closed bool

	notify chan struct{}
	done   chan struct{}

	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most size blocks. Sizes below 1 are raised to 1.
func NewQueue(size int) *Queue {
	return &Queue{
		items:  make([]Block, 0, max(size, 1)),
		size:   max(size, 1),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Put appends a block without blocking.
func (q *Queue) Put(b Block) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if len(q.items) == q.size {
		q.items = append(q.items[:0], q.items[1:]...)
		q.dropped.Add(1)
	}
	q.items = append(q.items, b)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Get removes and returns the oldest block, waiting until one is available.
// Blocks queued before Close are still returned.
func (q *Queue) Get(ctx context.Context) (Block, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			b := q.items[0]
			q.items = append(q.items[:0], q.items[1:]...)
			q.mu.Unlock()
			return b, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return Block{}, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return Block{}, ctx.Err()
		case <-q.done:
		case <-q.notify:
		}
	}
}

// Drain removes and returns every queued block.
func (q *Queue) Drain() []Block {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := append([]Block(nil), q.items...)
	clear(q.items)
	q.items = q.items[:0]
	return out
}

// Len returns the number of queued blocks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many blocks were discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close stops accepting blocks and wakes every waiting reader.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
