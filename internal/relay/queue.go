package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
)

var (
	// ErrQueueClosed is returned once the queue has been closed.
	ErrQueueClosed = errors.New("queue closed")
	// ErrQueueFull is returned when a non-download message finds no free slot.
	ErrQueueFull = errors.New("queue full")
)

// Queue is a bounded in-process relay with context-aware operations.
type Queue struct {
	ch      chan gazette.Message
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan gazette.Message, capacity)}
}

// Dispatch enqueues msg. Download messages block while the queue is full or
// until ctx ends. Other stages are produced by the workers draining this same
// queue, so they are only enqueued when a slot is free.
func (q *Queue) Dispatch(ctx context.Context, msg gazette.Message) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	if msg.Stage != gazette.StageDownload {
		select {
		case q.ch <- msg:
			return nil
		default:
			return ErrQueueFull
		}
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- msg:
		return nil
	}
}

// Dequeue pops the next message, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (gazette.Message, error) {
	select {
	case <-ctx.Done():
		return gazette.Message{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case msg, ok := <-q.ch:
		if !ok {
			return gazette.Message{}, ErrQueueClosed
		}
		return msg, nil
	}
}

// Len reports the number of buffered messages.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting messages. Buffered messages can still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
