package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/versionable/internal/snapshot"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	assert.Equal(t, "versions", s.Table())
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	require.NoError(t, s.verifyPragma("journal_mode", "wal"))
	require.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	require.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestAppend_AssignsMonotonicIDs(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	first, err := s.Append(ctx, createTestSnapshot("user", "1", 0))
	require.NoError(t, err)
	second, err := s.Append(ctx, createTestSnapshot("user", "1", 0))
	require.NoError(t, err)

	assert.Greater(t, first.ID, int64(0))
	assert.Greater(t, second.ID, first.ID)
}

func TestAppend_RoundTripsAllColumns(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	snap := createTestSnapshot("user", "42", 5)
	actor := "admin-7"
	snap.ActorID = &actor
	snap.Reason = snapshot.Reason("Doing tests")

	written, err := s.Append(ctx, snap)
	require.NoError(t, err)

	got, err := s.Get(ctx, written.ID)
	require.NoError(t, err)
	assert.Equal(t, written.ID, got.ID)
	assert.Equal(t, "user", got.OwnerType)
	assert.Equal(t, "42", got.OwnerID)
	require.NotNil(t, got.ActorID)
	assert.Equal(t, "admin-7", *got.ActorID)
	require.NotNil(t, got.Reason)
	assert.Equal(t, "Doing tests", *got.Reason)
	assert.Equal(t, snap.Payload, got.Payload)
	assert.True(t, snap.CreatedAt.Equal(got.CreatedAt))
}

func TestAppend_RejectsLongReason(t *testing.T) {
	s := createTestStore(t)

	snap := createTestSnapshot("user", "1", 0)
	long := string(make([]rune, 101))
	snap.Reason = &long

	_, err := s.Append(context.Background(), snap)
	require.Error(t, err)
}

func TestGet_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Get(context.Background(), 999)
	require.ErrorIs(t, err, snapshot.ErrNotFound)
}

func TestList_NewestFirstWithIDTieBreak(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	// Same created_at for the last two: id decides.
	a, _ := s.Append(ctx, createTestSnapshot("user", "1", 0))
	b, _ := s.Append(ctx, createTestSnapshot("user", "1", 10))
	c, _ := s.Append(ctx, createTestSnapshot("user", "1", 10))
	_, _ = s.Append(ctx, createTestSnapshot("user", "2", 20))
	_, _ = s.Append(ctx, createTestSnapshot("post", "1", 30))

	snaps, err := s.List(ctx, snapshot.Owner{Type: "user", ID: "1"})
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.Equal(t, []int64{c.ID, b.ID, a.ID}, []int64{snaps[0].ID, snaps[1].ID, snaps[2].ID})
}

func TestList_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)

	snaps, err := s.List(context.Background(), snapshot.Owner{Type: "user", ID: "none"})
	require.NoError(t, err)
	assert.NotNil(t, snaps)
	assert.Empty(t, snaps)
}

func TestNth(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	owner := snapshot.Owner{Type: "user", ID: "1"}

	_, err := s.Nth(ctx, owner, 0)
	require.ErrorIs(t, err, snapshot.ErrNotFound)

	first, _ := s.Append(ctx, createTestSnapshot("user", "1", 0))
	second, _ := s.Append(ctx, createTestSnapshot("user", "1", 1))

	current, err := s.Nth(ctx, owner, 0)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)

	previous, err := s.Nth(ctx, owner, 1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, previous.ID)

	_, err = s.Nth(ctx, owner, 2)
	require.ErrorIs(t, err, snapshot.ErrNotFound)
}

func TestTrim_KeepsNewest(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	owner := snapshot.Owner{Type: "user", ID: "1"}

	var ids []int64
	for i := 0; i < 5; i++ {
		snap, err := s.Append(ctx, createTestSnapshot("user", "1", i))
		require.NoError(t, err)
		ids = append(ids, snap.ID)
	}
	_, _ = s.Append(ctx, createTestSnapshot("user", "2", 0))

	deleted, err := s.Trim(ctx, owner, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	snaps, err := s.List(ctx, owner)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, ids[4], snaps[0].ID)
	assert.Equal(t, ids[3], snaps[1].ID)

	other, err := s.Count(ctx, snapshot.Owner{Type: "user", ID: "2"})
	require.NoError(t, err)
	assert.Equal(t, 1, other, "trim is scoped to the owner")
}

func TestTrim_ConcurrentNeverUnderRetains(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	owner := snapshot.Owner{Type: "user", ID: "1"}

	for i := 0; i < 10; i++ {
		_, err := s.Append(ctx, createTestSnapshot("user", "1", i))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Trim(ctx, owner, 3)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := s.Count(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestWithTable_IsolatesTables(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	other, err := s.WithTable(ctx, "other_versions")
	require.NoError(t, err)
	assert.Equal(t, "other_versions", other.Table())

	_, err = other.Append(ctx, createTestSnapshot("user", "1", 0))
	require.NoError(t, err)

	n, err := s.Count(ctx, snapshot.Owner{Type: "user", ID: "1"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = other.Count(ctx, snapshot.Owner{Type: "user", ID: "1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Closing a bound table leaves the shared connection open.
	require.NoError(t, other.Close())
	_, err = s.Count(ctx, snapshot.Owner{Type: "user", ID: "1"})
	require.NoError(t, err)

	_, err = s.WithTable(ctx, "bad name")
	require.Error(t, err)
}
