package relay

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/roomrelay/internal/chat"
)

// Queue is a session's delivery queue: an unbounded FIFO written by the hub
// and drained by exactly one outbound loop. Close appends the end-of-stream
// sentinel; messages queued before it are still handed out.
//
// There is no backpressure. A stalled reader grows memory rather than
// failing the broadcaster.
type Queue struct {
	mu     sync.Mutex
	items  []chat.Message
	closed bool
	notify chan struct{}
}

// NewQueue returns an empty open queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Put appends msg. It fails with ErrQueueClosed once Close has been called.
func (q *Queue) Put(msg chat.Message) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	q.wake()
	return nil
}

// Close enqueues the sentinel. It returns false if the queue was already closed.
func (q *Queue) Close() bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.closed = true
	q.mu.Unlock()

	q.wake()
	return true
}

// isClosed reports whether the sentinel has been enqueued.
func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of undelivered messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Get waits at most wait for the next message. It returns ErrQueueEmpty when
// the wait elapses, ErrQueueClosed when the sentinel is reached, or the
// context error if ctx ends first.
func (q *Queue) Get(ctx context.Context, wait time.Duration) (chat.Message, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		if msg, ok, err := q.pop(); ok {
			return msg, err
		}

		select {
		case <-q.notify:
		case <-timer.C:
			// A put may have raced the timer.
			if msg, ok, err := q.pop(); ok {
				return msg, err
			}
			return chat.Message{}, ErrQueueEmpty
		case <-ctx.Done():
			return chat.Message{}, ctx.Err()
		}
	}
}

func (q *Queue) pop() (chat.Message, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) > 0 {
		msg := q.items[0]
		q.items[0] = chat.Message{}
		q.items = q.items[1:]
		if len(q.items) == 0 {
			q.items = nil
		}
		return msg, true, nil
	}
	if q.closed {
		return chat.Message{}, true, ErrQueueClosed
	}
	return chat.Message{}, false, nil
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
