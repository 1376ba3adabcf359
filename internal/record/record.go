package record

import (
	"context"
	"errors"

	"github.com/roach88/versionable/internal/value"
)

// ErrRecordNotFound is returned by a Finder when no record matches.
var ErrRecordNotFound = errors.New("record not found")

// Columns names the timestamp fields a record type maintains.
// An empty DeletedAt means the type does not soft-delete.
type Columns struct {
	CreatedAt string
	UpdatedAt string
	DeletedAt string
}

// DefaultColumns returns created_at/updated_at without soft deletes.
func DefaultColumns() Columns {
	return Columns{CreatedAt: "created_at", UpdatedAt: "updated_at"}
}

// SoftDeleteColumns returns DefaultColumns plus deleted_at.
func SoftDeleteColumns() Columns {
	c := DefaultColumns()
	c.DeletedAt = "deleted_at"
	return c
}

// Timestamps returns the configured column names, skipping empty ones.
func (c Columns) Timestamps() []string {
	out := make([]string, 0, 3)
	for _, name := range []string{c.CreatedAt, c.UpdatedAt, c.DeletedAt} {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Versionable is the read view of a record the engine needs while saving.
//
// MakeVisible and MakeHidden are the only mutations the engine performs on a
// Versionable; it always restores what it reveals.
type Versionable interface {
	// Type is the stable discriminator stored as a snapshot's owner type.
	Type() string
	// Key is the primary key rendered as a string.
	Key() string
	// Exists reports whether the record has been persisted.
	Exists() bool
	// Attributes returns every current field, hidden ones included.
	Attributes() value.Map
	// Original returns field values as of the last sync with the store.
	Original() value.Map
	// Serializable returns the current fields minus hidden ones.
	Serializable() value.Map
	// Dirty maps each changed field to its previous value (Null when new).
	Dirty() value.Map
	Columns() Columns
	Hidden() []string
	MakeVisible(fields ...string)
	MakeHidden(fields ...string)
	// VersioningEnabled is the per-instance switch.
	VersioningEnabled() bool
	// Reason is the pending reason for the next snapshot, if any.
	Reason() string
}

// Record is a Versionable the engine can populate.
type Record interface {
	Versionable
	Fill(fields value.Map)
	Unset(fields ...string)
	SetExists(exists bool)
	// SyncOriginal marks the current fields as persisted and clears the pending reason.
	SyncOriginal()
}

// Mutation is what the engine captures before a save so the decision made
// after the save sees the pre-save dirty set.
type Mutation struct {
	Insert  bool
	Dirty   value.Map
	Enabled bool
	Reason  string
}

// Hooks are invoked by a record store around every insert and update.
type Hooks interface {
	Saving(ctx context.Context, rec Versionable) Mutation
	Saved(ctx context.Context, rec Versionable, m Mutation) error
}

// Saver persists a record, firing Hooks.
type Saver interface {
	Save(ctx context.Context, rec Record) error
}

// Finder loads a persisted record by type and key.
type Finder interface {
	Find(ctx context.Context, typ, key string) (Record, error)
}
