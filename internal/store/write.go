package store

import (
	"context"
	"fmt"

	"github.com/roach88/versionable/internal/snapshot"
)

// Append inserts a snapshot and returns it with the assigned ID.
// Any ID already set on s is ignored.
func (s *Store) Append(ctx context.Context, snap snapshot.Snapshot) (snapshot.Snapshot, error) {
	if snap.Reason != nil && len([]rune(*snap.Reason)) > snapshot.MaxReasonLength {
		return snapshot.Snapshot{}, fmt.Errorf("append snapshot: reason exceeds %d characters", snapshot.MaxReasonLength)
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s
		(owner_type, owner_id, actor_id, payload, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.table),
		snap.OwnerType,
		snap.OwnerID,
		snap.ActorID,
		snap.Payload,
		snap.Reason,
		snap.CreatedAt.UnixNano(),
		snap.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("append snapshot: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("append snapshot: last insert id: %w", err)
	}
	snap.ID = id
	return snap, nil
}

// Trim deletes all but the newest keep snapshots of owner in one statement.
// Two concurrent trims may both see the same newest set; neither can delete
// a row the other keeps, so retention never drops below keep.
func (s *Store) Trim(ctx context.Context, owner snapshot.Owner, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("trim snapshots: negative keep %d", keep)
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %[1]s
		WHERE owner_type = ? AND owner_id = ?
		  AND id NOT IN (
			SELECT id FROM %[1]s
			WHERE owner_type = ? AND owner_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		  )
	`, s.table), owner.Type, owner.ID, owner.Type, owner.ID, keep)
	if err != nil {
		return 0, fmt.Errorf("trim snapshots for %s: %w", owner, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("trim snapshots for %s: rows affected: %w", owner, err)
	}
	return int(n), nil
}
