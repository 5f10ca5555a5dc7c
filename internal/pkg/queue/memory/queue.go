package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/imobcrm/wagate/internal/pkg/queue"
)

var ErrClosed = errors.New("fila encerrada")

// MemoryQueue é a fila padrão quando o Redis está desabilitado. Com o
// buffer cheio o enqueue falha em vez de bloquear o publicador.
type MemoryQueue struct {
	events chan queue.Event
	mu     sync.RWMutex
	closed bool
}

func NewQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &MemoryQueue{
		events: make(chan queue.Event, bufferSize),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, event queue.Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	select {
	case q.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("fila cheia")
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Event, error) {
	select {
	case event, ok := <-q.events:
		if !ok {
			return nil, ErrClosed
		}
		return &event, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) Size(ctx context.Context) (int64, error) {
	return int64(len(q.events)), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		close(q.events)
		q.closed = true
	}
	return nil
}
