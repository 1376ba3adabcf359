package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/versionable/internal/snapshot"
)

// createTestStore opens a fresh database in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var baseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// createTestSnapshot creates a snapshot with minimal required fields, created
// offset seconds after baseTime.
func createTestSnapshot(ownerType, ownerID string, offset int) snapshot.Snapshot {
	at := baseTime.Add(time.Duration(offset) * time.Second)
	return snapshot.Snapshot{
		OwnerType: ownerType,
		OwnerID:   ownerID,
		Payload:   []byte(`{"name":"test"}`),
		CreatedAt: at,
		UpdatedAt: at,
	}
}
