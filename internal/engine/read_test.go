package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/versionable/internal/record"
	"github.com/roach88/versionable/internal/snapshot"
	"github.com/roach88/versionable/internal/value"
)

// twoVersions creates a post and updates it once.
func twoVersions(t *testing.T, f *fixture) *record.Model {
	t.Helper()
	m := f.create(t, "post", value.Map{
		"title": value.String("Marcel"),
		"email": value.String("m@example.com"),
	})
	m.Set("title", value.String("John"))
	m.Set("age", value.Int(31))
	require.NoError(t, f.repo.Save(context.Background(), m))
	return m
}

func TestRead_CurrentAndPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := twoVersions(t, f)

	current, err := f.eng.CurrentVersion(ctx, "post", m.Key())
	require.NoError(t, err)
	assert.Equal(t, value.String("John"), f.decode(t, current)["title"])

	previous, err := f.eng.PreviousVersion(ctx, "post", m.Key())
	require.NoError(t, err)
	assert.Equal(t, value.String("Marcel"), f.decode(t, previous)["title"])
	assert.Less(t, previous.ID, current.ID)
}

func TestRead_PreviousVersionMissing(t *testing.T) {
	f := newFixture(t)
	m := f.create(t, "post", value.Map{"title": value.String("v1")})

	_, err := f.eng.PreviousVersion(context.Background(), "post", m.Key())
	assert.ErrorIs(t, err, snapshot.ErrNotFound)

	_, err = f.eng.CurrentVersion(context.Background(), "post", "missing")
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
}

func TestRead_HistoryOfUnknownOwnerIsEmpty(t *testing.T) {
	f := newFixture(t)

	list, err := f.eng.History(context.Background(), "post", "missing")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestRead_SnapshotByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.create(t, "post", value.Map{"title": value.String("v1")})
	want := f.history(t, m)[0]

	got, err := f.eng.Snapshot(ctx, "post", want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Payload, got.Payload)

	_, err = f.eng.Snapshot(ctx, "post", want.ID+100)
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
}

func TestDiff_AgainstCurrentVersion(t *testing.T) {
	f := newFixture(t)
	m := twoVersions(t, f)
	list := f.history(t, m)

	got, err := f.eng.Diff(context.Background(), list[1], nil)
	require.NoError(t, err)

	assert.Equal(t, value.Map{
		"title": value.String("John"),
		"age":   value.Int(31),
	}, got, "timestamps never appear")
}

func TestDiff_AgainstExplicitVersion(t *testing.T) {
	f := newFixture(t)
	m := twoVersions(t, f)
	list := f.history(t, m)

	got, err := f.eng.Diff(context.Background(), list[0], &list[1])
	require.NoError(t, err)

	assert.Equal(t, value.Map{"title": value.String("Marcel")}, got)
}

func TestDiff_SameVersionIsEmpty(t *testing.T) {
	f := newFixture(t)
	m := twoVersions(t, f)
	list := f.history(t, m)

	got, err := f.eng.Diff(context.Background(), list[0], nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDiff_NestedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.create(t, "user", value.Map{
		"meta": value.Map{"city": value.String("Berlin"), "zip": value.String("10115")},
	})
	m.Set("meta", value.Map{"city": value.String("Hamburg"), "zip": value.String("10115")})
	require.NoError(t, f.repo.Save(ctx, m))
	list := f.history(t, m)
	require.Len(t, list, 2)

	got, err := f.eng.Diff(ctx, list[1], nil)
	require.NoError(t, err)
	assert.Equal(t, value.Map{"meta": value.Map{"city": value.String("Hamburg")}}, got)
}

func TestDiff_NoComparisonTarget(t *testing.T) {
	f := newFixture(t)
	orphan := snapshot.Snapshot{ID: 42, OwnerType: "post", OwnerID: "ghost", Payload: []byte(`{}`)}

	_, err := f.eng.Diff(context.Background(), orphan, nil)
	assert.ErrorIs(t, err, snapshot.ErrNoComparisonTarget)
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
}

func TestModel_Rehydrates(t *testing.T) {
	f := newFixture(t)
	m := twoVersions(t, f)
	list := f.history(t, m)

	rec, err := f.eng.Model(context.Background(), list[1])
	require.NoError(t, err)

	assert.True(t, rec.Exists())
	assert.Equal(t, m.Key(), rec.Key())
	assert.Equal(t, value.String("Marcel"), rec.Attributes()["title"])
	assert.False(t, rec.Attributes().Has("age"))
	assert.Len(t, f.history(t, m), 2, "rehydrating saves nothing")
}

func TestModel_DecodeError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.store.Append(ctx, snapshot.Snapshot{
		OwnerType: "post", OwnerID: "rec-9", Payload: []byte("not json"),
		CreatedAt: f.clock.Now(), UpdatedAt: f.clock.Now(),
	})
	require.NoError(t, err)

	_, err = f.eng.Model(ctx, s)
	require.Error(t, err)
	assert.True(t, snapshot.IsDecodeError(err))
	assert.Contains(t, err.Error(), "json")
}

func TestModel_UnknownType(t *testing.T) {
	f := newFixture(t)
	s := snapshot.Snapshot{ID: 7, OwnerType: "invoice", OwnerID: "1", Payload: []byte(`{"total":10}`)}

	_, err := f.eng.Model(context.Background(), s)
	require.Error(t, err)
	assert.True(t, snapshot.IsTypeResolutionError(err))
	assert.ErrorIs(t, err, record.ErrUnknownType)
}

func TestVersionModel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := twoVersions(t, f)
	b := f.create(t, "post", value.Map{"title": value.String("other")})

	own := f.history(t, a)[1]
	rec, err := f.eng.VersionModel(ctx, a, own.ID)
	require.NoError(t, err)
	assert.Equal(t, value.String("Marcel"), rec.Attributes()["title"])

	foreign := f.history(t, b)[0]
	_, err = f.eng.VersionModel(ctx, a, foreign.ID)
	assert.ErrorIs(t, err, snapshot.ErrNotFound)

	_, err = f.eng.VersionModel(ctx, a, 9999)
	assert.ErrorIs(t, err, snapshot.ErrNotFound)
}

func TestRevert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := twoVersions(t, f)
	first := f.history(t, m)[1]

	rec, err := f.eng.Revert(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, value.String("Marcel"), rec.Attributes()["title"])

	list := f.history(t, m)
	require.Len(t, list, 3, "revert is recorded as a new version")
	reverted := f.decode(t, list[0])
	assert.Equal(t, value.String("Marcel"), reverted["title"])
	assert.False(t, reverted.Has("created_at"), "cleared timestamps are not carried into the revert snapshot")
	assert.True(t, f.decode(t, list[1]).Has("created_at"))

	stored, err := f.repo.Find(ctx, "post", m.Key())
	require.NoError(t, err)
	attrs := stored.Attributes()
	assert.Equal(t, value.String("Marcel"), attrs["title"])
	assert.True(t, attrs.Has("created_at"), "created_at kept by the store")
}

func TestRevert_WithoutSaver(t *testing.T) {
	st := setupTestStore(t)
	eng := New(st, nil)

	_, err := eng.Revert(context.Background(), snapshot.Snapshot{OwnerType: "post", Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, ErrNoSaver)
}
