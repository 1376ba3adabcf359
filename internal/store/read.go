package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/versionable/internal/snapshot"
)

const selectColumns = `id, owner_type, owner_id, actor_id, payload, reason, created_at, updated_at`

// Get returns the snapshot with the given ID.
// Returns snapshot.ErrNotFound if no row matches.
func (s *Store) Get(ctx context.Context, id int64) (snapshot.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE id = ?
	`, selectColumns, s.table), id)

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Snapshot{}, fmt.Errorf("snapshot %d: %w", id, snapshot.ErrNotFound)
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("get snapshot %d: %w", id, err)
	}
	return snap, nil
}

// List returns all snapshots of owner, newest first.
// Returns an empty slice (not nil) if the owner has none.
func (s *Store) List(ctx context.Context, owner snapshot.Owner) ([]snapshot.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE owner_type = ? AND owner_id = ?
		ORDER BY created_at DESC, id DESC
	`, selectColumns, s.table), owner.Type, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots for %s: %w", owner, err)
	}
	defer rows.Close()

	snaps := []snapshot.Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots for %s: %w", owner, err)
	}

	return snaps, nil
}

// Nth returns the owner's n-th newest snapshot, 0 being the current version.
func (s *Store) Nth(ctx context.Context, owner snapshot.Owner, n int) (snapshot.Snapshot, error) {
	if n < 0 {
		return snapshot.Snapshot{}, fmt.Errorf("nth snapshot: negative offset %d", n)
	}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE owner_type = ? AND owner_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1 OFFSET ?
	`, selectColumns, s.table), owner.Type, owner.ID, n)

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Snapshot{}, fmt.Errorf("snapshot %d of %s: %w", n, owner, snapshot.ErrNotFound)
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("nth snapshot of %s: %w", owner, err)
	}
	return snap, nil
}

// Count returns the number of snapshots stored for owner.
func (s *Store) Count(ctx context.Context, owner snapshot.Owner) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*) FROM %s WHERE owner_type = ? AND owner_id = ?
	`, s.table), owner.Type, owner.ID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count snapshots for %s: %w", owner, err)
	}
	return n, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(r rowScanner) (snapshot.Snapshot, error) {
	var (
		snap      snapshot.Snapshot
		actorID   sql.NullString
		reason    sql.NullString
		createdAt int64
		updatedAt int64
	)
	if err := r.Scan(
		&snap.ID,
		&snap.OwnerType,
		&snap.OwnerID,
		&actorID,
		&snap.Payload,
		&reason,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snapshot.Snapshot{}, err
		}
		return snapshot.Snapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}

	if actorID.Valid {
		snap.ActorID = &actorID.String
	}
	if reason.Valid {
		snap.Reason = &reason.String
	}
	snap.CreatedAt = time.Unix(0, createdAt).UTC()
	snap.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return snap, nil
}
