package engine

import (
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/versionable/internal/actor"
	"github.com/roach88/versionable/internal/codec"
	"github.com/roach88/versionable/internal/dispatch"
	"github.com/roach88/versionable/internal/metrics"
	"github.com/roach88/versionable/internal/policy"
	"github.com/roach88/versionable/internal/record"
	"github.com/roach88/versionable/internal/snapshot"
)

const tracerName = "github.com/roach88/versionable/internal/engine"

// TypeConfig binds a record type to its policy, encoder and snapshot table.
// Nil fields fall back to the engine defaults.
type TypeConfig struct {
	Policy  *policy.Config
	Encoder codec.Encoder
	Store   snapshot.Store
}

// resolved is a TypeConfig with every default applied.
type resolved struct {
	policy  policy.Config
	encoder codec.Encoder
	store   snapshot.Store
}

// Engine records, reads and restores snapshots of records.
//
// Thread-safety: all methods are safe for concurrent use. Type configuration
// may be registered while the engine is serving.
type Engine struct {
	store    snapshot.Store
	registry *record.Registry
	saver    record.Saver
	finder   record.Finder

	mu       sync.RWMutex
	types    map[string]TypeConfig
	defaults policy.Config

	clock   *Clock
	actor   actor.Resolver
	mode    dispatch.Mode
	queue   dispatch.Queue
	strict  bool
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

var _ record.Hooks = (*Engine)(nil)

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithSaver sets the store used by Revert.
func WithSaver(s record.Saver) EngineOption {
	return func(e *Engine) {
		e.saver = s
	}
}

// WithFinder sets the store used by async workers to reload records.
func WithFinder(f record.Finder) EngineOption {
	return func(e *Engine) {
		e.finder = f
	}
}

// WithType registers a record type's configuration.
func WithType(typ string, cfg TypeConfig) EngineOption {
	return func(e *Engine) {
		e.types[typ] = cfg
	}
}

// WithDefaultPolicy sets the policy for types without their own.
//
// Default: policy.Default() (enabled, unbounded, no exclusions)
func WithDefaultPolicy(p policy.Config) EngineOption {
	return func(e *Engine) {
		e.defaults = p
	}
}

// WithClock sets the timestamp source.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithActorResolver sets how the acting identity is found.
//
// Default: actor.FromContextResolver
func WithActorResolver(r actor.Resolver) EngineOption {
	return func(e *Engine) {
		e.actor = r
	}
}

// WithDispatch selects sync or async writes. Async requires a queue.
func WithDispatch(mode dispatch.Mode, q dispatch.Queue) EngineOption {
	return func(e *Engine) {
		e.mode = mode
		e.queue = q
	}
}

// WithStrictWrites makes Saved return snapshot write errors to the record
// store instead of only logging them.
func WithStrictWrites(strict bool) EngineOption {
	return func(e *Engine) {
		e.strict = strict
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics enables Prometheus collectors.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer overrides the OpenTelemetry tracer.
//
// Default: the global provider's tracer, a no-op unless one is installed.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = t
	}
}

// New creates an Engine writing to store by default.
//
// registry resolves owner types back into records for Model, Revert and
// Diff. It may be nil for write-only use.
//
// Options can be passed to configure the engine (e.g., WithType, WithSaver).
func New(store snapshot.Store, registry *record.Registry, opts ...EngineOption) *Engine {
	if registry == nil {
		registry = record.NewRegistry()
	}

	e := &Engine{
		store:    store,
		registry: registry,
		types:    make(map[string]TypeConfig),
		defaults: policy.Default(),
		clock:    NewClock(),
		actor:    actor.FromContextResolver,
		mode:     dispatch.ModeSync,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Register adds or replaces a record type's configuration.
func (e *Engine) Register(typ string, cfg TypeConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types[typ] = cfg
}

// Registry returns the type registry used to rehydrate records.
func (e *Engine) Registry() *record.Registry {
	return e.registry
}

// Worker returns a pool consuming the engine's queue with HandleTask.
// Returns nil when the engine has no queue.
func (e *Engine) Worker(workers int) *dispatch.Pool {
	if e.queue == nil {
		return nil
	}
	return dispatch.NewPool(e.queue, e.HandleTask, workers, e.logger)
}

// now returns the next snapshot timestamp.
func (e *Engine) now() time.Time {
	return e.clock.Now()
}

// typeConfig returns the configuration for typ with defaults applied.
func (e *Engine) typeConfig(typ string) resolved {
	e.mu.RLock()
	cfg, ok := e.types[typ]
	defaults := e.defaults
	e.mu.RUnlock()

	r := resolved{policy: defaults, encoder: codec.Default(), store: e.store}
	if !ok {
		return r
	}
	if cfg.Policy != nil {
		r.policy = *cfg.Policy
	}
	if cfg.Encoder != nil {
		r.encoder = cfg.Encoder
	}
	if cfg.Store != nil {
		r.store = cfg.Store
	}
	return r
}

// columns returns the timestamp columns of an owner type, as declared by a
// record of that type. Unregistered types assume the default columns plus
// deleted_at, so diffs never report housekeeping fields.
func (e *Engine) columns(typ string) record.Columns {
	rec, err := e.registry.Resolve(typ)
	if err != nil {
		return record.SoftDeleteColumns()
	}
	return rec.Columns()
}
