package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/versionable/internal/policy"
	"github.com/roach88/versionable/internal/record"
	"github.com/roach88/versionable/internal/snapshot"
	"github.com/roach88/versionable/internal/store"
	"github.com/roach88/versionable/internal/testutil"
	"github.com/roach88/versionable/internal/value"
)

// fixture wires an engine to a SQLite snapshot store and an in-memory
// record repository whose saves fire the engine's hooks.
type fixture struct {
	eng   *Engine
	repo  *record.MemoryRepository
	store *store.Store
	reg   *record.Registry
	clock *testutil.DeterministicClock
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()

	st := setupTestStore(t)
	clock := testutil.NewDeterministicClock()
	keys := testutil.NewSequentialKeys("")

	reg := record.NewRegistry()
	reg.Register("post", record.ModelFactory("post", record.WithHidden("secret"), record.WithSoftDeletes()))
	reg.Register("user", record.ModelFactory("user"))

	repo := record.NewMemoryRepository(nil, reg,
		record.WithNow(clock.Now),
		record.WithKeyGenerator(keys.Next),
	)

	base := []EngineOption{
		WithClock(NewClockFrom(clock.Now)),
		WithSaver(repo),
		WithFinder(repo),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	eng := New(st, reg, append(base, opts...)...)
	repo.SetHooks(eng)

	return &fixture{eng: eng, repo: repo, store: st, reg: reg, clock: clock}
}

func (f *fixture) newRecord(t *testing.T, typ string) *record.Model {
	t.Helper()
	rec, err := f.reg.Resolve(typ)
	require.NoError(t, err)
	return rec.(*record.Model)
}

// create inserts a record of typ with fields and returns it.
func (f *fixture) create(t *testing.T, typ string, fields value.Map) *record.Model {
	t.Helper()
	m := f.newRecord(t, typ)
	m.Fill(fields)
	require.NoError(t, f.repo.Save(context.Background(), m))
	return m
}

func (f *fixture) history(t *testing.T, m record.Versionable) []snapshot.Snapshot {
	t.Helper()
	list, err := f.eng.History(context.Background(), m.Type(), m.Key())
	require.NoError(t, err)
	return list
}

func (f *fixture) decode(t *testing.T, s snapshot.Snapshot) value.Map {
	t.Helper()
	fields, err := f.eng.Decode(s)
	require.NoError(t, err)
	return fields
}

// brokenEncoder fails every call.
type brokenEncoder struct{}

func (brokenEncoder) Name() string                     { return "broken" }
func (brokenEncoder) Encode(value.Map) ([]byte, error) { return nil, errors.New("encoder down") }
func (brokenEncoder) Decode([]byte) (value.Map, error) { return nil, errors.New("encoder down") }

// failingStore rejects appends. Other methods are never reached.
type failingStore struct {
	snapshot.Store
}

func (failingStore) Append(context.Context, snapshot.Snapshot) (snapshot.Snapshot, error) {
	return snapshot.Snapshot{}, errors.New("disk full")
}

func TestEngine_New(t *testing.T) {
	st := setupTestStore(t)
	eng := New(st, nil)

	assert.NotNil(t, eng.clock)
	assert.NotNil(t, eng.registry)
	assert.NotNil(t, eng.tracer)
	assert.Equal(t, policy.Default(), eng.defaults)
	assert.Nil(t, eng.Worker(1), "no queue, no worker")
}

func TestEngine_TypeConfigDefaults(t *testing.T) {
	st := setupTestStore(t)
	limited := policy.Default()
	limited.RetentionLimit = 3

	eng := New(st, nil, WithType("post", TypeConfig{Policy: &limited}))

	post := eng.typeConfig("post")
	assert.Equal(t, 3, post.policy.RetentionLimit)
	assert.Equal(t, "json", post.encoder.Name())
	assert.Same(t, st, post.store)

	other := eng.typeConfig("comment")
	assert.Equal(t, 0, other.policy.RetentionLimit)

	eng.Register("comment", TypeConfig{Policy: &limited})
	assert.Equal(t, 3, eng.typeConfig("comment").policy.RetentionLimit)
}

func TestEngine_Columns(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "deleted_at", f.eng.columns("post").DeletedAt)
	assert.Empty(t, f.eng.columns("user").DeletedAt)
	assert.Equal(t, record.SoftDeleteColumns(), f.eng.columns("unregistered"))
}
