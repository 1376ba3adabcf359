package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/versionable/internal/actor"
	"github.com/roach88/versionable/internal/dispatch"
	"github.com/roach88/versionable/internal/policy"
	"github.com/roach88/versionable/internal/record"
	"github.com/roach88/versionable/internal/snapshot"
)

// Saving captures the pre-save state of rec. The record store calls it
// before persisting and hands the result back to Saved.
func (e *Engine) Saving(_ context.Context, rec record.Versionable) record.Mutation {
	return record.Mutation{
		Insert:  !rec.Exists(),
		Dirty:   rec.Dirty(),
		Enabled: rec.VersioningEnabled(),
		Reason:  rec.Reason(),
	}
}

// Saved decides whether the save deserves a snapshot and, if so, writes it
// inline or enqueues it. The decision is final once Saved returns: async
// workers never re-evaluate the policy.
//
// Failures are logged and counted. They are only returned with
// WithStrictWrites(true) so a broken snapshot store never blocks saves.
func (e *Engine) Saved(ctx context.Context, rec record.Versionable, m record.Mutation) error {
	typ := rec.Type()
	cfg := e.typeConfig(typ)

	cols := rec.Columns()
	pol := cfg.policy.WithColumns(cols.UpdatedAt, cols.DeletedAt)
	if !m.Enabled {
		pol.Enabled = false
	}

	log := e.logger.With("owner_type", typ, "owner_id", rec.Key())

	decision := policy.Explain(m.Insert, m.Dirty, pol)
	if !decision.Snapshot {
		log.Debug("snapshot skipped", "reason", string(decision.Skip), "insert", m.Insert)
		e.metrics.IncrementSkipped(typ, string(decision.Skip))
		return nil
	}
	log.Debug("snapshot required", "insert", m.Insert, "fields", decision.Fields)

	actorID := actor.Resolve(ctx, e.actor)

	var err error
	if e.mode == dispatch.ModeAsync {
		err = e.enqueue(ctx, rec, m.Reason, actorID)
	} else {
		_, err = e.Write(ctx, rec, actorID, m.Reason)
	}
	if err == nil {
		return nil
	}

	// A purge failure leaves the snapshot written; everything else lost it.
	if IsPurgeError(err) {
		log.Warn("retention purge failed", "error", err)
	} else {
		log.Error("snapshot write failed", "error", err, "mode", string(e.mode))
	}
	if e.strict {
		return err
	}
	return nil
}

// enqueue publishes the captured state for an async worker.
func (e *Engine) enqueue(ctx context.Context, rec record.Versionable, reason string, actorID *string) error {
	typ := rec.Type()
	if e.queue == nil {
		e.metrics.IncrementFailure(typ, "enqueue")
		return ErrNoQueue
	}

	t := dispatch.NewTask(typ, rec.Key(), rec.Attributes(), rec.Original(), reason, actorID, e.now())
	if err := e.queue.Publish(ctx, t); err != nil {
		e.metrics.IncrementFailure(typ, "enqueue")
		return &snapshot.WriteError{Owner: snapshot.Owner{Type: typ, ID: rec.Key()}, Op: "enqueue", Err: err}
	}

	e.logger.Debug("snapshot task enqueued", "task_id", t.ID, "owner_type", typ, "owner_id", t.OwnerID)
	return nil
}

// Write captures rec's serializable fields and appends them as a new
// snapshot, then applies the type's retention limit.
//
// Hidden fields listed in the type's policy are revealed for the capture and
// concealed again before Write returns, whatever the outcome.
//
// When only the purge fails, the written snapshot is returned together with
// a *PurgeError.
func (e *Engine) Write(ctx context.Context, rec record.Versionable, actorID *string, reason string) (snapshot.Snapshot, error) {
	started := time.Now()
	typ := rec.Type()
	owner := snapshot.Owner{Type: typ, ID: rec.Key()}
	cfg := e.typeConfig(typ)

	ctx, span := e.tracer.Start(ctx, "versionable.write", trace.WithAttributes(
		attribute.String("owner.type", owner.Type),
		attribute.String("owner.id", owner.ID),
	))
	defer span.End()

	reveal := revealable(cfg.policy.HiddenFields, rec.Hidden())
	if len(reveal) > 0 {
		rec.MakeVisible(reveal...)
		defer rec.MakeHidden(reveal...)
	}

	payload, err := cfg.encoder.Encode(rec.Serializable())
	if err != nil {
		e.metrics.IncrementFailure(typ, "encode")
		return e.fail(span, &snapshot.WriteError{Owner: owner, Op: "encode", Err: err})
	}

	now := e.now()
	s, err := cfg.store.Append(ctx, snapshot.Snapshot{
		OwnerType: owner.Type,
		OwnerID:   owner.ID,
		ActorID:   actorID,
		Payload:   payload,
		Reason:    snapshot.Reason(reason),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		e.metrics.IncrementFailure(typ, "append")
		return e.fail(span, &snapshot.WriteError{Owner: owner, Op: "append", Err: err})
	}

	e.metrics.IncrementWritten(typ)
	span.SetAttributes(attribute.Int64("snapshot.id", s.ID))
	e.logger.Debug("snapshot written",
		"owner_type", owner.Type,
		"owner_id", owner.ID,
		"snapshot_id", s.ID,
		"encoder", cfg.encoder.Name(),
	)

	if limit := cfg.policy.RetentionLimit; limit > 0 {
		if _, err := e.purge(ctx, cfg.store, owner, limit); err != nil {
			span.RecordError(err)
			return s, &PurgeError{Owner: owner, Err: err}
		}
	}

	e.metrics.ObserveWriteLatency(typ, time.Since(started))
	return s, nil
}

func (e *Engine) fail(span trace.Span, err error) (snapshot.Snapshot, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return snapshot.Snapshot{}, err
}

// revealable returns the configured hidden fields the record currently hides.
func revealable(configured, hidden []string) []string {
	out := make([]string, 0, len(configured))
	for _, f := range configured {
		if slices.Contains(hidden, f) {
			out = append(out, f)
		}
	}
	return out
}

// Purge deletes all but the newest limit snapshots of one owner and returns
// how many were removed. A limit of zero or less keeps everything.
func (e *Engine) Purge(ctx context.Context, ownerType, ownerID string, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	owner := snapshot.Owner{Type: ownerType, ID: ownerID}
	n, err := e.purge(ctx, e.typeConfig(ownerType).store, owner, limit)
	if err != nil {
		return 0, &PurgeError{Owner: owner, Err: err}
	}
	return n, nil
}

func (e *Engine) purge(ctx context.Context, store snapshot.Store, owner snapshot.Owner, limit int) (int, error) {
	ctx, span := e.tracer.Start(ctx, "versionable.purge", trace.WithAttributes(
		attribute.String("owner.type", owner.Type),
		attribute.String("owner.id", owner.ID),
		attribute.Int("retention.limit", limit),
	))
	defer span.End()

	count, err := store.Count(ctx, owner)
	if err != nil {
		span.RecordError(err)
		e.metrics.IncrementFailure(owner.Type, "purge")
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	if count <= limit {
		return 0, nil
	}

	n, err := store.Trim(ctx, owner, limit)
	if err != nil {
		span.RecordError(err)
		e.metrics.IncrementFailure(owner.Type, "purge")
		return 0, fmt.Errorf("trim snapshots: %w", err)
	}

	e.metrics.AddPurged(owner.Type, n)
	e.logger.Debug("snapshots purged", "owner_type", owner.Type, "owner_id", owner.ID, "deleted", n, "limit", limit)
	return n, nil
}

// HandleTask writes the snapshot described by an async task. The record is
// reloaded, its captured previous values applied and synced, and the
// captured new values applied on top, so the snapshot reflects the state at
// enqueue time rather than whatever the record holds now.
func (e *Engine) HandleTask(ctx context.Context, t dispatch.Task) error {
	if e.finder == nil {
		return ErrNoFinder
	}

	rec, err := e.finder.Find(ctx, t.OwnerType, t.OwnerID)
	if err != nil {
		if errors.Is(err, record.ErrUnknownType) {
			return &snapshot.TypeResolutionError{Type: t.OwnerType, Err: err}
		}
		return fmt.Errorf("load %s#%s: %w", t.OwnerType, t.OwnerID, err)
	}

	rec.Fill(t.Original)
	rec.SyncOriginal()
	rec.Fill(t.Attributes)

	if _, err := e.Write(ctx, rec, t.ActorID, t.Reason); err != nil {
		if IsPurgeError(err) {
			e.logger.Warn("retention purge failed", "task_id", t.ID, "error", err)
			return nil
		}
		return err
	}
	return nil
}
