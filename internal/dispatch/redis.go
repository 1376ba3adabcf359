package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default Redis list keys.
const (
	DefaultRedisKey  = "versionable:tasks"
	deadLetterSuffix = ":dead"
)

// RedisQueue is a Redis list used as a FIFO: LPUSH to publish, BRPOP to consume.
// Exhausted and undecodable tasks are pushed onto "<key>:dead" as
// MarshalDeadLetter envelopes carrying the last error.
type RedisQueue struct {
	client *redis.Client
	key    string
	poll   time.Duration
	opts   options
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue creates a queue on key. An empty key uses DefaultRedisKey.
func NewRedisQueue(client *redis.Client, key string, opts ...Option) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisQueue{client: client, key: key, poll: time.Second, opts: o}
}

// DeadLetterKey returns the list holding exhausted tasks.
func (q *RedisQueue) DeadLetterKey() string {
	return q.key + deadLetterSuffix
}

// Publish pushes t onto the list.
func (q *RedisQueue) Publish(ctx context.Context, t Task) error {
	data, err := t.Marshal()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("redis publish task %s: %w", t.ID, err)
	}
	return nil
}

// Consume pops tasks until ctx is cancelled. BRPOP blocks for at most the
// poll interval so cancellation is observed promptly.
func (q *RedisQueue) Consume(ctx context.Context, h Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := q.client.BRPop(ctx, q.poll, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, redis.ErrClosed) {
				return nil
			}
			return fmt.Errorf("redis consume: %w", err)
		}

		// res is [key, value]
		t, err := UnmarshalTask([]byte(res[1]))
		if err != nil {
			q.opts.logger.Error("dead-lettering undecodable task", "queue", q.key, "error", err)
			q.opts.metrics.IncrementTaskOutcome(OutcomeDeadLetter)
			if perr := q.deadLetter(ctx, DeadLetter{Payload: []byte(res[1]), Err: err}); perr != nil {
				return perr
			}
			continue
		}

		err = q.opts.deliver(ctx, h, t,
			func(t Task) error { return q.Publish(ctx, t) },
			func(t Task, cause error) error { return q.deadLetter(ctx, DeadLetter{Task: t, Err: cause}) },
		)
		if err != nil {
			return err
		}
	}
}

func (q *RedisQueue) deadLetter(ctx context.Context, d DeadLetter) error {
	data, err := MarshalDeadLetter(d)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.DeadLetterKey(), data).Err(); err != nil {
		return fmt.Errorf("redis dead-letter: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
