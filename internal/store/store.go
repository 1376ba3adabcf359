package store

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"text/template"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/versionable/internal/snapshot"
)

//go:embed schema.sql
var schemaSQL string

var schemaTemplate = template.Must(template.New("schema").Parse(schemaSQL))

// Schema version tracking:
// 0 - Empty database
// 1 - Default versions table
const currentSchemaVersion = 1

// Store is a snapshot.Store over one table of a SQLite database.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db    *sql.DB
	table string
	owned bool // only the store returned by Open closes the database
}

var _ snapshot.Store = (*Store)(nil)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically and binds the
// default snapshot table.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, table: snapshot.DefaultTable, owned: true}, nil
}

// WithTable returns a store bound to another table in the same database,
// creating the table if needed. The returned store shares the connection;
// closing it is a no-op.
func (s *Store) WithTable(ctx context.Context, table string) (*Store, error) {
	if err := snapshot.ValidateTable(table); err != nil {
		return nil, err
	}
	if err := ensureTable(ctx, s.db, table); err != nil {
		return nil, err
	}
	return &Store{db: s.db, table: table}, nil
}

// Table returns the bound table name.
func (s *Store) Table() string {
	return s.table
}

// Close closes the database connection.
// Should be called when the store is no longer needed.
func (s *Store) Close() error {
	if s.db == nil || !s.owned {
		return nil
	}
	return s.db.Close()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := ensureTable(context.Background(), db, snapshot.DefaultTable); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// ensureTable renders the schema for table and executes it.
// The DDL is IF NOT EXISTS, so this is idempotent.
func ensureTable(ctx context.Context, db *sql.DB, table string) error {
	var ddl bytes.Buffer
	if err := schemaTemplate.Execute(&ddl, struct{ Table string }{table}); err != nil {
		return fmt.Errorf("render schema for %s: %w", table, err)
	}
	if _, err := db.ExecContext(ctx, ddl.String()); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
