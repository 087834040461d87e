// Package memory provides the in-process wake-up queue used by claimers.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/repo-capture-engine/internal/capture"
)

// Queue is a bounded in-memory queue with context-aware operations. It only
// carries job IDs; the job record in the store stays authoritative, so a
// dropped wake-up is recovered by the retry poller rather than lost work.
//
// The item channel itself is never closed: producers may still be running
// when shutdown starts, and a send racing a close would panic. Close
// signals through a separate done channel instead, so late Enqueue calls
// fail with capture.ErrQueueClosed and consumers drain whatever is
// already buffered.
type Queue struct {
	ch        chan capture.QueueItem
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch:   make(chan capture.QueueItem, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a wake-up into the queue or returns if the context ends
// or the queue is closed.
func (q *Queue) Enqueue(ctx context.Context, item capture.QueueItem) error {
	select {
	case <-q.done:
		return capture.ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return capture.ErrQueueClosed
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next wake-up, respecting context cancellation.
// Buffered items are still delivered after Close; capture.ErrQueueClosed
// follows once drained.
func (q *Queue) Dequeue(ctx context.Context) (capture.QueueItem, error) {
	select {
	case <-ctx.Done():
		return capture.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item := <-q.ch:
		return item, nil
	case <-q.done:
		select {
		case item := <-q.ch:
			return item, nil
		default:
			return capture.QueueItem{}, capture.ErrQueueClosed
		}
	}
}

// TryEnqueue pushes a wake-up without blocking; reports whether it fit.
func (q *Queue) TryEnqueue(item capture.QueueItem) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.ch <- item:
		return true
	default:
		return false
	}
}

// Depth returns the number of queued wake-ups.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// Close stops the queue. Safe to call more than once and safe against
// concurrent Enqueue calls.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}
