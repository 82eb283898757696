package messaging

import (
	"context"
	"sync"
)

type InMemoryQueue struct {
	mu          sync.Mutex
	completions chan CompletionPayload
	closed      bool
}

var _ Publisher = (*InMemoryQueue)(nil)

func NewInMemoryQueue(size int) *InMemoryQueue {
	return &InMemoryQueue{
		completions: make(chan CompletionPayload, size),
	}
}

func (q *InMemoryQueue) PublishCompletion(ctx context.Context, payload CompletionPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.completions <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) Completions() <-chan CompletionPayload {
	return q.completions
}

func (q *InMemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.completions)
	}
}
