package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/versionable/internal/codec"
	"github.com/roach88/versionable/internal/dispatch"
	"github.com/roach88/versionable/internal/engine"
	"github.com/roach88/versionable/internal/metrics"
	"github.com/roach88/versionable/internal/pgstore"
	"github.com/roach88/versionable/internal/snapshot"
	"github.com/roach88/versionable/internal/store"
)

// Runtime holds the stores and queue built from a Config.
type Runtime struct {
	// Store is bound to the default versions table.
	Store snapshot.Store
	// Queue is nil unless dispatch.mode is async.
	Queue dispatch.Queue
	// Workers is the consumer count for Engine.Worker; zero in sync mode and
	// at most one for the kafka queue.
	Workers int
	// Options configure an engine to use the built resources.
	Options []engine.EngineOption

	closers []func() error
}

// Close releases the queue and the database, in that order.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// tableBinder is implemented by both SQL stores.
type tableBinder func(ctx context.Context, table string) (snapshot.Store, error)

// Build opens the configured store and queue and returns engine options
// wiring them together with the type policies. The caller closes the
// returned Runtime. m may be nil.
func Build(ctx context.Context, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}

	bind, err := rt.openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	rt.Options = append(rt.Options,
		engine.WithDefaultPolicy(cfg.Defaults.Policy()),
		engine.WithStrictWrites(cfg.StrictWrites),
		engine.WithLogger(logger),
		engine.WithMetrics(m),
	)

	for typ, tc := range cfg.Types {
		p := tc.Policy()
		enc, err := codec.Lookup(tc.Encoder)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("type %s: %w", typ, err)
		}

		target := rt.Store
		if tc.Table != "" && tc.Table != snapshot.DefaultTable {
			target, err = bind(ctx, tc.Table)
			if err != nil {
				rt.Close()
				return nil, fmt.Errorf("type %s: %w", typ, err)
			}
		}

		rt.Options = append(rt.Options, engine.WithType(typ, engine.TypeConfig{
			Policy:  &p,
			Encoder: enc,
			Store:   target,
		}))
	}

	mode, err := dispatch.ParseMode(cfg.Dispatch.Mode)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if mode == dispatch.ModeAsync {
		q, err := openQueue(cfg, logger, m)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Queue = q
		rt.Workers = cfg.Dispatch.Workers
		if _, ok := q.(*dispatch.KafkaQueue); ok && rt.Workers > 1 {
			logger.Warn("kafka queue has one consumer per process, running a single worker",
				"configured_workers", rt.Workers)
			rt.Workers = 1
		}
		rt.closers = append(rt.closers, q.Close)
		rt.Options = append(rt.Options, engine.WithDispatch(mode, q))
	}

	logger.Debug("runtime built",
		"driver", cfg.Store.Driver,
		"mode", string(mode),
		"types", len(cfg.Types),
	)
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context, sc StoreConfig) (tableBinder, error) {
	switch sc.Driver {
	case "", "sqlite":
		st, err := store.Open(sc.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		rt.Store = st
		rt.closers = append(rt.closers, st.Close)
		return func(ctx context.Context, table string) (snapshot.Store, error) {
			return st.WithTable(ctx, table)
		}, nil

	case "postgres":
		st, err := pgstore.Open(ctx, sc.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		rt.Store = st
		rt.closers = append(rt.closers, st.Close)
		return func(ctx context.Context, table string) (snapshot.Store, error) {
			return st.WithTable(ctx, table)
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
	}
}

func openQueue(cfg Config, logger *slog.Logger, m *metrics.Metrics) (dispatch.Queue, error) {
	opts := []dispatch.Option{
		dispatch.WithMaxAttempts(cfg.Dispatch.MaxAttempts),
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(m),
	}

	switch cfg.Dispatch.Queue {
	case "", "memory":
		return dispatch.NewMemoryQueue(opts...), nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return dispatch.NewRedisQueue(client, cfg.Redis.Key, opts...), nil

	case "kafka":
		q, err := dispatch.NewKafkaQueue(dispatch.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Group:   cfg.Kafka.Group,
		}, opts...)
		if err != nil {
			return nil, err
		}
		return q, nil

	default:
		return nil, fmt.Errorf("unknown queue %q", cfg.Dispatch.Queue)
	}
}
