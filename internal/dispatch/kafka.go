package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaConfig configures a KafkaQueue.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Group   string
}

// Default Kafka names.
const (
	DefaultKafkaTopic = "versionable.tasks"
	DefaultKafkaGroup = "versionable-workers"
)

// KafkaQueue publishes tasks to a topic keyed by owner, so each owner's tasks
// land on one partition in order. Consumers join a group and commit offsets
// after each polled batch is handled. A failed task is re-produced with its
// attempt count; an exhausted or undecodable one goes to "<topic>.dead" as a
// MarshalDeadLetter envelope.
//
// Consume is serialized per queue: a second concurrent call blocks until the
// first returns, so a Pool of N workers over one KafkaQueue has a single
// active consumer. Scale out with more processes in the same group.
type KafkaQueue struct {
	client *kgo.Client
	topic  string
	opts   options

	consumeMu sync.Mutex
}

var _ Queue = (*KafkaQueue)(nil)

// NewKafkaQueue connects a producer/consumer client.
func NewKafkaQueue(cfg KafkaConfig, opts ...Option) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka queue: no brokers configured")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultKafkaTopic
	}
	if cfg.Group == "" {
		cfg.Group = DefaultKafkaGroup
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka queue: create client: %w", err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &KafkaQueue{client: client, topic: cfg.Topic, opts: o}, nil
}

// DeadLetterTopic returns the topic receiving exhausted tasks.
func (q *KafkaQueue) DeadLetterTopic() string {
	return q.topic + ".dead"
}

// EnsureTopics creates the task and dead-letter topics if they do not exist.
func (q *KafkaQueue) EnsureTopics(ctx context.Context, partitions int32, replicationFactor int16) error {
	admin := kadm.NewClient(q.client)
	resps, err := admin.CreateTopics(ctx, partitions, replicationFactor, nil, q.topic, q.DeadLetterTopic())
	if err != nil {
		return fmt.Errorf("kafka queue: create topics: %w", err)
	}
	for _, r := range resps {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("kafka queue: create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Publish produces t synchronously, keyed by owner.
func (q *KafkaQueue) Publish(ctx context.Context, t Task) error {
	return q.produce(ctx, q.topic, t)
}

func (q *KafkaQueue) produce(ctx context.Context, topic string, t Task) error {
	data, err := t.Marshal()
	if err != nil {
		return err
	}
	rec := &kgo.Record{Topic: topic, Key: []byte(t.Key()), Value: data}
	if err := q.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka publish task %s to %s: %w", t.ID, topic, err)
	}
	return nil
}

func (q *KafkaQueue) deadLetter(ctx context.Context, key []byte, d DeadLetter) error {
	data, err := MarshalDeadLetter(d)
	if err != nil {
		return err
	}
	rec := &kgo.Record{Topic: q.DeadLetterTopic(), Key: key, Value: data}
	if err := q.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka dead-letter to %s: %w", rec.Topic, err)
	}
	return nil
}

// Consume polls the group until ctx is cancelled or the client is closed.
func (q *KafkaQueue) Consume(ctx context.Context, h Handler) error {
	q.consumeMu.Lock()
	defer q.consumeMu.Unlock()

	for {
		fetches := q.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			q.opts.logger.Error("kafka fetch failed", "topic", topic, "partition", partition, "error", err)
		})

		var handleErr error
		fetches.EachRecord(func(r *kgo.Record) {
			if handleErr != nil {
				return
			}
			t, err := UnmarshalTask(r.Value)
			if err != nil {
				q.opts.logger.Error("dead-lettering undecodable task", "topic", r.Topic, "offset", r.Offset, "error", err)
				q.opts.metrics.IncrementTaskOutcome(OutcomeDeadLetter)
				handleErr = q.deadLetter(ctx, r.Key, DeadLetter{Payload: r.Value, Err: err})
				return
			}
			handleErr = q.opts.deliver(ctx, h, t,
				func(t Task) error { return q.produce(ctx, q.topic, t) },
				func(t Task, cause error) error {
					return q.deadLetter(ctx, []byte(t.Key()), DeadLetter{Task: t, Err: cause})
				},
			)
		})
		if handleErr != nil {
			return handleErr
		}

		if err := q.client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("kafka commit offsets: %w", err)
		}
	}
}

// Close leaves the group and closes the client.
func (q *KafkaQueue) Close() error {
	q.client.Close()
	return nil
}
