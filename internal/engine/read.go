package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/versionable/internal/diff"
	"github.com/roach88/versionable/internal/record"
	"github.com/roach88/versionable/internal/snapshot"
	"github.com/roach88/versionable/internal/value"
)

// History returns every snapshot of a record, newest first.
func (e *Engine) History(ctx context.Context, ownerType, ownerID string) ([]snapshot.Snapshot, error) {
	owner := snapshot.Owner{Type: ownerType, ID: ownerID}
	list, err := e.typeConfig(ownerType).store.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("history of %s: %w", owner, err)
	}
	return list, nil
}

// CurrentVersion returns the newest snapshot of a record, or
// snapshot.ErrNotFound when it has none.
func (e *Engine) CurrentVersion(ctx context.Context, ownerType, ownerID string) (snapshot.Snapshot, error) {
	return e.nth(ctx, ownerType, ownerID, 0)
}

// PreviousVersion returns the second newest snapshot of a record, or
// snapshot.ErrNotFound when it has fewer than two.
func (e *Engine) PreviousVersion(ctx context.Context, ownerType, ownerID string) (snapshot.Snapshot, error) {
	return e.nth(ctx, ownerType, ownerID, 1)
}

func (e *Engine) nth(ctx context.Context, ownerType, ownerID string, n int) (snapshot.Snapshot, error) {
	return e.typeConfig(ownerType).store.Nth(ctx, snapshot.Owner{Type: ownerType, ID: ownerID}, n)
}

// Snapshot fetches one snapshot by id from the table bound to ownerType.
func (e *Engine) Snapshot(ctx context.Context, ownerType string, id int64) (snapshot.Snapshot, error) {
	return e.typeConfig(ownerType).store.Get(ctx, id)
}

// Decode returns the fields stored in s, using the encoder configured for
// its owner type.
func (e *Engine) Decode(s snapshot.Snapshot) (value.Map, error) {
	enc := e.typeConfig(s.OwnerType).encoder
	fields, err := enc.Decode(s.Payload)
	if err != nil {
		return nil, &snapshot.DecodeError{SnapshotID: s.ID, Encoder: enc.Name(), Err: err}
	}
	return fields, nil
}

// Model rehydrates the record a snapshot captured. The record is marked as
// persisted but nothing is saved.
func (e *Engine) Model(_ context.Context, s snapshot.Snapshot) (record.Record, error) {
	fields, err := e.Decode(s)
	if err != nil {
		return nil, err
	}

	rec, err := e.registry.Resolve(s.OwnerType)
	if err != nil {
		return nil, &snapshot.TypeResolutionError{Type: s.OwnerType, Err: err}
	}

	rec.Fill(fields)
	rec.SetExists(true)
	return rec, nil
}

// VersionModel rehydrates the snapshot with the given id, provided it belongs
// to rec. Snapshots of other records are reported as snapshot.ErrNotFound.
func (e *Engine) VersionModel(ctx context.Context, rec record.Versionable, id int64) (record.Record, error) {
	s, err := e.Snapshot(ctx, rec.Type(), id)
	if err != nil {
		return nil, err
	}
	if s.OwnerType != rec.Type() || s.OwnerID != rec.Key() {
		return nil, fmt.Errorf("snapshot %d of %s#%s: %w", id, rec.Type(), rec.Key(), snapshot.ErrNotFound)
	}
	return e.Model(ctx, s)
}

// Diff returns the fields of the comparison target whose values differ from
// s. With a nil against, the owner's current version is the target; if the
// owner has no snapshots the error matches snapshot.ErrNoComparisonTarget.
//
// Timestamp columns and the soft-delete marker never appear in the result.
func (e *Engine) Diff(ctx context.Context, s snapshot.Snapshot, against *snapshot.Snapshot) (value.Map, error) {
	ctx, span := e.tracer.Start(ctx, "versionable.diff", trace.WithAttributes(
		attribute.Int64("snapshot.id", s.ID),
	))
	defer span.End()

	var target snapshot.Snapshot
	if against != nil {
		target = *against
	} else {
		current, err := e.CurrentVersion(ctx, s.OwnerType, s.OwnerID)
		if err != nil {
			if errors.Is(err, snapshot.ErrNotFound) {
				err = fmt.Errorf("diff snapshot %d: %w", s.ID, snapshot.ErrNoComparisonTarget)
			}
			span.RecordError(err)
			return nil, err
		}
		target = current
	}
	span.SetAttributes(attribute.Int64("against.id", target.ID))

	base, err := e.Decode(s)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	other, err := e.Decode(target)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return diff.Diff(other, base, e.columns(s.OwnerType).Timestamps()...), nil
}

// Revert restores the record to the state captured in s and saves it. The
// timestamp columns are cleared first so the store assigns fresh ones, and
// the save produces a new snapshot through the regular lifecycle.
// That snapshot lacks created_at, updated_at and deleted_at unless the saver
// fills them back in; MemoryRepository refills only updated_at.
func (e *Engine) Revert(ctx context.Context, s snapshot.Snapshot) (record.Record, error) {
	ctx, span := e.tracer.Start(ctx, "versionable.revert", trace.WithAttributes(
		attribute.String("owner.type", s.OwnerType),
		attribute.String("owner.id", s.OwnerID),
		attribute.Int64("snapshot.id", s.ID),
	))
	defer span.End()

	if e.saver == nil {
		span.SetStatus(codes.Error, ErrNoSaver.Error())
		return nil, ErrNoSaver
	}

	rec, err := e.Model(ctx, s)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rec.Unset(rec.Columns().Timestamps()...)
	if err := e.saver.Save(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("revert %s to snapshot %d: %w", s.Owner(), s.ID, err)
	}

	e.logger.Info("record reverted", "owner_type", s.OwnerType, "owner_id", s.OwnerID, "snapshot_id", s.ID)
	return rec, nil
}
