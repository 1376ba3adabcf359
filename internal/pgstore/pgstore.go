// Package pgstore provides a PostgreSQL snapshot store on a pgx connection pool.
//
// The default versions table is created by embedded golang-migrate
// migrations; additional per-type tables are created on first bind.
package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/versionable/internal/snapshot"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a snapshot.Store over one table of a PostgreSQL database.
type Store struct {
	pool  *pgxpool.Pool
	table string
	owned bool
}

var _ snapshot.Store = (*Store)(nil)

// Open migrates the database at dsn and connects a pool bound to the default table.
// dsn is a postgres:// URL.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, table: snapshot.DefaultTable, owned: true}, nil
}

// Migrate applies the embedded migrations. Already-current databases are not an error.
func Migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(dsn))
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// migrateURL swaps the postgres scheme for the one the pgx/v5 migrate driver registers.
func migrateURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

// WithTable returns a store bound to another table sharing the pool,
// creating the table if needed. Closing the returned store is a no-op.
func (s *Store) WithTable(ctx context.Context, table string) (*Store, error) {
	if err := snapshot.ValidateTable(table); err != nil {
		return nil, err
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id          BIGSERIAL    PRIMARY KEY,
			owner_type  TEXT         NOT NULL,
			owner_id    TEXT         NOT NULL,
			actor_id    TEXT,
			payload     BYTEA        NOT NULL,
			reason      VARCHAR(100),
			created_at  TIMESTAMPTZ  NOT NULL,
			updated_at  TIMESTAMPTZ  NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_owner
			ON %[1]s (owner_type, owner_id, created_at DESC, id DESC);
	`, table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}

	return &Store{pool: s.pool, table: table}, nil
}

// Table returns the bound table name.
func (s *Store) Table() string {
	return s.table
}

// Close closes the pool if this store opened it.
func (s *Store) Close() error {
	if s.pool != nil && s.owned {
		s.pool.Close()
	}
	return nil
}

const selectColumns = `id, owner_type, owner_id, actor_id, payload, reason, created_at, updated_at`

// Append inserts a snapshot and returns it with the assigned ID.
func (s *Store) Append(ctx context.Context, snap snapshot.Snapshot) (snapshot.Snapshot, error) {
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (owner_type, owner_id, actor_id, payload, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, s.table),
		snap.OwnerType, snap.OwnerID, snap.ActorID, snap.Payload, snap.Reason,
		snap.CreatedAt, snap.UpdatedAt,
	).Scan(&snap.ID)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("append snapshot: %w", err)
	}
	return snap, nil
}

// Get returns the snapshot with the given ID.
func (s *Store) Get(ctx context.Context, id int64) (snapshot.Snapshot, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectColumns, s.table), id)
	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return snapshot.Snapshot{}, fmt.Errorf("snapshot %d: %w", id, snapshot.ErrNotFound)
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("get snapshot %d: %w", id, err)
	}
	return snap, nil
}

// List returns all snapshots of owner, newest first. Never nil.
func (s *Store) List(ctx context.Context, owner snapshot.Owner) ([]snapshot.Snapshot, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE owner_type = $1 AND owner_id = $2
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
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE owner_type = $1 AND owner_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1 OFFSET $3
	`, selectColumns, s.table), owner.Type, owner.ID, n)

	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(*) FROM %s WHERE owner_type = $1 AND owner_id = $2
	`, s.table), owner.Type, owner.ID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count snapshots for %s: %w", owner, err)
	}
	return n, nil
}

// Trim deletes all but the newest keep snapshots of owner in one statement.
func (s *Store) Trim(ctx context.Context, owner snapshot.Owner, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("trim snapshots: negative keep %d", keep)
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %[1]s
		WHERE owner_type = $1 AND owner_id = $2
		  AND id NOT IN (
			SELECT id FROM %[1]s
			WHERE owner_type = $1 AND owner_id = $2
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		  )
	`, s.table), owner.Type, owner.ID, keep)
	if err != nil {
		return 0, fmt.Errorf("trim snapshots for %s: %w", owner, err)
	}
	return int(tag.RowsAffected()), nil
}

func scanSnapshot(row pgx.Row) (snapshot.Snapshot, error) {
	var snap snapshot.Snapshot
	err := row.Scan(
		&snap.ID,
		&snap.OwnerType,
		&snap.OwnerID,
		&snap.ActorID,
		&snap.Payload,
		&snap.Reason,
		&snap.CreatedAt,
		&snap.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return snapshot.Snapshot{}, err
		}
		return snapshot.Snapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.CreatedAt = snap.CreatedAt.UTC()
	snap.UpdatedAt = snap.UpdatedAt.UTC()
	return snap, nil
}
