package dispatch

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Publish after Close.
var ErrQueueClosed = errors.New("queue closed")

// DeadLetter is a task that exhausted its attempts, with the last error.
// Payload holds the raw bytes instead when the task could not be decoded.
type DeadLetter struct {
	Task    Task
	Payload []byte
	Err     error
}

// MemoryQueue is an unbounded in-process FIFO.
//
// The queue is unbounded so Publish never blocks the save path. A signal
// channel with a buffer of one lets consumers wait with context awareness.
// Retries are appended to the back of the queue.
//
// Thread-safety: all methods may be called from any goroutine.
type MemoryQueue struct {
	opts options

	mu     sync.Mutex
	tasks  []Task
	dead   []DeadLetter
	closed bool
	signal chan struct{}
	// inflight counts tasks taken but not yet finished, for Drain.
	inflight sync.WaitGroup
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue(opts ...Option) *MemoryQueue {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryQueue{
		opts:   o,
		tasks:  make([]Task, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Publish adds a task to the back of the queue.
func (q *MemoryQueue) Publish(_ context.Context, t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.push(t)
	return nil
}

// push appends and signals. Caller holds q.mu.
func (q *MemoryQueue) push(t Task) {
	q.tasks = append(q.tasks, t)
	q.inflight.Add(1)

	if q.closed {
		return // closed signal channel already wakes every waiter
	}
	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// tryTake removes the front task without blocking.
func (q *MemoryQueue) tryTake() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return Task{}, false
	}

	t := q.tasks[0]
	// Clear the slot so the backing array does not retain the task's maps
	q.tasks[0] = Task{}
	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}
	return t, true
}

// Consume delivers tasks to h until ctx is cancelled or the queue is closed and empty.
func (q *MemoryQueue) Consume(ctx context.Context, h Handler) error {
	for {
		if t, ok := q.tryTake(); ok {
			err := q.opts.deliver(ctx, h, t, q.requeue, q.deadLetter)
			q.inflight.Done()
			if err != nil {
				return err
			}
			continue
		}

		q.mu.Lock()
		done := q.closed && len(q.tasks) == 0
		q.mu.Unlock()
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-q.signal:
		}
	}
}

// requeue puts a failed task back even after Close, so in-flight retries finish.
func (q *MemoryQueue) requeue(t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.push(t)
	return nil
}

func (q *MemoryQueue) deadLetter(t Task, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, DeadLetter{Task: t, Err: err})
	return nil
}

// Drain blocks until every published task, retries included, has finished.
// Only meaningful while a consumer is running.
func (q *MemoryQueue) Drain() {
	q.inflight.Wait()
}

// Len returns the number of waiting tasks.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// DeadLetters returns the tasks that exhausted their attempts.
func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.dead))
	copy(out, q.dead)
	return out
}

// Close stops accepting tasks. Consumers exit once the queue is empty.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.signal) // Wakes all waiters
	return nil
}
