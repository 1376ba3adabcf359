package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/versionable/internal/actor"
	"github.com/roach88/versionable/internal/codec"
	"github.com/roach88/versionable/internal/dispatch"
	"github.com/roach88/versionable/internal/engine"
	"github.com/roach88/versionable/internal/policy"
	"github.com/roach88/versionable/internal/record"
	"github.com/roach88/versionable/internal/store"
	"github.com/roach88/versionable/internal/testutil"
	"github.com/roach88/versionable/internal/value"
)

// Harness holds the wiring for one scenario run.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	repo    *record.MemoryRepository
	queue   *dispatch.MemoryQueue
	records map[string]*record.Model
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Create fresh in-memory database, repository and engine
// 2. Register the scenario's record types
// 3. Execute flow steps, tracing the version count after each
// 4. Drain the task queue (async scenarios)
// 5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(ctx, st, scenario)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("flow[%d] %s %s: %w", i, step.Op, step.Ref, err)
		}

		m := h.records[step.Ref]
		n, err := h.versions(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("flow[%d]: %w", i, err)
		}
		result.AddTrace(TraceEvent{Step: i + 1, Op: step.Op, Ref: step.Ref, Key: m.Key(), Versions: n})
	}

	if h.queue != nil {
		if err := h.drain(ctx); err != nil {
			return nil, fmt.Errorf("failed to drain queue: %w", err)
		}
	}

	actx := &AssertionContext{Engine: h.engine, Records: h.records, Ctx: ctx}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

func newHarness(ctx context.Context, st *store.Store, scenario *Scenario) (*Harness, error) {
	clock := testutil.NewDeterministicClock()
	keys := testutil.NewSequentialKeys("rec")
	reg := record.NewRegistry()

	repo := record.NewMemoryRepository(nil, reg,
		record.WithNow(clock.Now),
		record.WithKeyGenerator(keys.Next),
	)

	opts := []engine.EngineOption{
		engine.WithClock(engine.NewClockFrom(clock.Now)),
		engine.WithSaver(repo),
		engine.WithFinder(repo),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}

	h := &Harness{store: st, repo: repo, records: make(map[string]*record.Model)}
	if scenario.Async {
		h.queue = dispatch.NewMemoryQueue()
		opts = append(opts, engine.WithDispatch(dispatch.ModeAsync, h.queue))
	}

	for typ, ts := range scenario.Types {
		modelOpts := []record.ModelOption{record.WithHidden(ts.Hidden...)}
		if ts.SoftDeletes {
			modelOpts = append(modelOpts, record.WithSoftDeletes())
		}
		reg.Register(typ, record.ModelFactory(typ, modelOpts...))

		cfg, err := typeConfig(ctx, st, ts)
		if err != nil {
			return nil, fmt.Errorf("type %s: %w", typ, err)
		}
		opts = append(opts, engine.WithType(typ, cfg))
	}

	h.engine = engine.New(st, reg, opts...)
	repo.SetHooks(h.engine)
	return h, nil
}

func typeConfig(ctx context.Context, st *store.Store, ts TypeSpec) (engine.TypeConfig, error) {
	p := policy.Default()
	p.Enabled = !ts.Disabled
	p.ExcludedFields = ts.Exclude
	p.HiddenFields = ts.Reveal
	p.RetentionLimit = ts.Retention

	cfg := engine.TypeConfig{Policy: &p}

	enc, err := codec.Lookup(ts.Encoder)
	if err != nil {
		return engine.TypeConfig{}, err
	}
	cfg.Encoder = enc

	if ts.Table != "" {
		bound, err := st.WithTable(ctx, ts.Table)
		if err != nil {
			return engine.TypeConfig{}, err
		}
		cfg.Store = bound
	}
	return cfg, nil
}

// execute runs one flow step.
func (h *Harness) execute(ctx context.Context, step Step) error {
	if step.Actor != "" {
		ctx = actor.WithID(ctx, step.Actor)
	}

	var fields value.Map
	if len(step.Fields) > 0 {
		converted, err := value.FromMap(step.Fields)
		if err != nil {
			return fmt.Errorf("convert fields: %w", err)
		}
		fields = converted
	}

	if step.Op == OpCreate {
		rec, err := h.engine.Registry().Resolve(step.Type)
		if err != nil {
			return err
		}
		m, ok := rec.(*record.Model)
		if !ok {
			return fmt.Errorf("type %s is not a record.Model", step.Type)
		}
		h.records[step.Ref] = m
		m.Fill(fields)
		m.SetReason(step.Reason)
		return h.repo.Save(ctx, m)
	}

	m := h.records[step.Ref]
	switch step.Op {
	case OpUpdate:
		m.Fill(fields)
		m.SetReason(step.Reason)
		return h.repo.Save(ctx, m)
	case OpTouch:
		return h.repo.Touch(ctx, m)
	case OpDelete:
		return h.repo.Delete(ctx, m)
	case OpDisable:
		m.DisableVersioning()
		return nil
	case OpEnable:
		m.EnableVersioning()
		return nil
	case OpRevert:
		s, err := version(ctx, h.engine, m, step.Version)
		if err != nil {
			return err
		}
		reverted, err := h.engine.Revert(ctx, s)
		if err != nil {
			return err
		}
		// Later steps operate on the reverted instance
		if rm, ok := reverted.(*record.Model); ok {
			h.records[step.Ref] = rm
		}
		return nil
	case OpPurge:
		_, err := h.engine.Purge(ctx, m.Type(), m.Key(), step.Keep)
		return err
	}
	return fmt.Errorf("unknown op %q", step.Op)
}

func (h *Harness) versions(ctx context.Context, m *record.Model) (int, error) {
	list, err := h.engine.History(ctx, m.Type(), m.Key())
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// drain closes the queue and runs one worker until every task is handled.
func (h *Harness) drain(ctx context.Context) error {
	if err := h.queue.Close(); err != nil {
		return err
	}
	if err := h.engine.Worker(1).Run(ctx); err != nil {
		return err
	}
	if dead := h.queue.DeadLetters(); len(dead) > 0 {
		return fmt.Errorf("%d task(s) dead-lettered, first: %w", len(dead), dead[0].Err)
	}
	return nil
}
