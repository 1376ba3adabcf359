// Package dispatch moves snapshot writes off the save path.
//
// In sync mode the engine writes inline. In async mode the engine freezes
// the decision at save time and publishes a Task; workers consume tasks and
// hand them back to the engine. Every Queue delivers at least once: a failing
// task is retried until MaxAttempts, then dead-lettered.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/versionable/internal/metrics"
	"github.com/roach88/versionable/internal/value"
)

// Mode selects how snapshot writes are executed.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// ParseMode parses a configured mode. Empty means sync.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSync:
		return ModeSync, nil
	case ModeAsync:
		return ModeAsync, nil
	default:
		return "", fmt.Errorf("unknown dispatch mode %q (want sync or async)", s)
	}
}

// DefaultMaxAttempts is used when no limit is configured.
const DefaultMaxAttempts = 3

// Task is a deferred snapshot write.
// Attributes are the record's values after the save; Original the values before.
type Task struct {
	ID         string    `json:"id"`
	OwnerType  string    `json:"owner_type"`
	OwnerID    string    `json:"owner_id"`
	Attributes value.Map `json:"attributes"`
	Original   value.Map `json:"original"`
	Reason     string    `json:"reason,omitempty"`
	ActorID    *string   `json:"actor_id,omitempty"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewTask creates a task with a fresh UUIDv7 ID.
func NewTask(ownerType, ownerID string, attrs, original value.Map, reason string, actorID *string, now time.Time) Task {
	return Task{
		ID:         uuid.Must(uuid.NewV7()).String(),
		OwnerType:  ownerType,
		OwnerID:    ownerID,
		Attributes: attrs,
		Original:   original,
		Reason:     reason,
		ActorID:    actorID,
		EnqueuedAt: now.UTC(),
	}
}

// Key is the partitioning key. Tasks of one owner share a key.
func (t Task) Key() string {
	return t.OwnerType + "#" + t.OwnerID
}

// Marshal encodes the task for the wire.
func (t Task) Marshal() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	return data, nil
}

// UnmarshalTask decodes a task produced by Marshal.
func UnmarshalTask(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("unmarshal task: %w", err)
	}
	if t.ID == "" || t.OwnerType == "" {
		return Task{}, fmt.Errorf("unmarshal task: missing id or owner type")
	}
	if t.Attributes == nil {
		t.Attributes = value.Map{}
	}
	if t.Original == nil {
		t.Original = value.Map{}
	}
	return t, nil
}

// deadLetterWire is the wire form of a DeadLetter.
type deadLetterWire struct {
	Task    *Task  `json:"task,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	Error   string `json:"error"`
}

// MarshalDeadLetter encodes d for a dead-letter list or topic. A letter with
// a Payload carries the raw bytes of a task that could not be decoded.
func MarshalDeadLetter(d DeadLetter) ([]byte, error) {
	w := deadLetterWire{Payload: d.Payload}
	if d.Payload == nil {
		w.Task = &d.Task
	}
	if d.Err != nil {
		w.Error = d.Err.Error()
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal dead letter %s: %w", d.Task.ID, err)
	}
	return data, nil
}

// UnmarshalDeadLetter decodes a letter produced by MarshalDeadLetter.
func UnmarshalDeadLetter(data []byte) (DeadLetter, error) {
	var w deadLetterWire
	if err := json.Unmarshal(data, &w); err != nil {
		return DeadLetter{}, fmt.Errorf("unmarshal dead letter: %w", err)
	}
	d := DeadLetter{Payload: w.Payload}
	if w.Task != nil {
		d.Task = *w.Task
	}
	if w.Error != "" {
		d.Err = errors.New(w.Error)
	}
	return d, nil
}

// Handler processes one task. A returned error triggers a retry.
type Handler func(ctx context.Context, t Task) error

// Queue carries tasks from the save path to workers.
type Queue interface {
	Publish(ctx context.Context, t Task) error

	// Consume delivers tasks to h until ctx is cancelled or the queue is closed.
	// Cancellation is a clean stop and returns nil.
	Consume(ctx context.Context, h Handler) error

	Close() error
}

// Option configures a queue.
type Option func(*options)

type options struct {
	maxAttempts int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

func defaultOptions() options {
	return options{
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
	}
}

// WithMaxAttempts bounds deliveries per task. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.maxAttempts = n
		}
	}
}

// WithLogger sets the logger for retry and dead-letter events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records task outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Task outcomes reported to metrics.
const (
	OutcomeDone       = "done"
	OutcomeRetry      = "retry"
	OutcomeDeadLetter = "dead_letter"
)

// deliver runs one attempt of t and routes a failure to requeue or deadLetter.
// The returned error is only non-nil when requeue or deadLetter fail.
func (o options) deliver(ctx context.Context, h Handler, t Task, requeue func(Task) error, deadLetter func(Task, error) error) error {
	t.Attempt++
	log := o.logger.With(
		"task_id", t.ID,
		"owner_type", t.OwnerType,
		"owner_id", t.OwnerID,
		"attempt", t.Attempt,
	)

	err := h(ctx, t)
	if err == nil {
		o.metrics.IncrementTaskOutcome(OutcomeDone)
		return nil
	}

	if t.Attempt < o.maxAttempts {
		log.Warn("snapshot task failed, retrying", "error", err)
		o.metrics.IncrementTaskOutcome(OutcomeRetry)
		if rerr := requeue(t); rerr != nil {
			return fmt.Errorf("requeue task %s: %w", t.ID, rerr)
		}
		return nil
	}

	log.Error("snapshot task failed, giving up", "error", err, "max_attempts", o.maxAttempts)
	o.metrics.IncrementTaskOutcome(OutcomeDeadLetter)
	if derr := deadLetter(t, err); derr != nil {
		return fmt.Errorf("dead-letter task %s: %w", t.ID, derr)
	}
	return nil
}
