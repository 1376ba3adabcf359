package record

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/versionable/internal/value"
)

// MemoryRepository is an in-process record store that fires Hooks around
// every save, the way an ORM would. Safe for concurrent use.
type MemoryRepository struct {
	mu       sync.Mutex
	hooks    Hooks
	registry *Registry
	now      func() time.Time
	newKey   func() string
	rows     map[string]map[string]value.Map // type -> key -> fields
}

// RepositoryOption configures a MemoryRepository.
type RepositoryOption func(*MemoryRepository)

// WithNow sets the clock used for timestamp columns.
func WithNow(now func() time.Time) RepositoryOption {
	return func(r *MemoryRepository) {
		r.now = now
	}
}

// WithKeyGenerator sets the key generator used on insert when no key is set.
// Default: UUIDv7 strings.
func WithKeyGenerator(gen func() string) RepositoryOption {
	return func(r *MemoryRepository) {
		r.newKey = gen
	}
}

// NewMemoryRepository creates a repository. hooks may be nil.
// registry is used by Find to construct records.
func NewMemoryRepository(hooks Hooks, registry *Registry, opts ...RepositoryOption) *MemoryRepository {
	r := &MemoryRepository{
		hooks:    hooks,
		registry: registry,
		now:      time.Now,
		newKey: func() string {
			return uuid.Must(uuid.NewV7()).String()
		},
		rows: make(map[string]map[string]value.Map),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetHooks replaces the hooks. Used to break the construction cycle between
// an engine (which needs a Saver) and the repository (which needs Hooks).
func (r *MemoryRepository) SetHooks(h Hooks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = h
}

// Save inserts or updates rec.
//
// Order matches an ORM save: Saving, timestamps, write, Saved, SyncOriginal.
// An update with no dirty fields writes nothing but still fires both hooks.
// A Saved error is returned after the row is written.
func (r *MemoryRepository) Save(ctx context.Context, rec Record) error {
	r.mu.Lock()
	hooks := r.hooks
	r.mu.Unlock()

	var m Mutation
	if hooks != nil {
		m = hooks.Saving(ctx, rec)
	}

	cols := rec.Columns()
	ts := value.Time(r.now())
	attrs := rec.Attributes()

	if !rec.Exists() {
		if rec.Key() == "" {
			km, ok := rec.(interface{ KeyField() string })
			if !ok {
				return fmt.Errorf("insert %s: record has no key and no key field", rec.Type())
			}
			rec.Fill(value.Map{km.KeyField(): value.String(r.newKey())})
		}
		if cols.CreatedAt != "" && !attrs.Has(cols.CreatedAt) {
			rec.Fill(value.Map{cols.CreatedAt: ts})
		}
		if cols.UpdatedAt != "" && !attrs.Has(cols.UpdatedAt) {
			rec.Fill(value.Map{cols.UpdatedAt: ts})
		}
		r.put(rec)
		rec.SetExists(true)
	} else if len(rec.Dirty()) > 0 {
		if cols.UpdatedAt != "" && !rec.Dirty().Has(cols.UpdatedAt) {
			rec.Fill(value.Map{cols.UpdatedAt: ts})
		}
		r.put(rec)
	}

	var err error
	if hooks != nil {
		err = hooks.Saved(ctx, rec, m)
	}
	rec.SyncOriginal()
	return err
}

// Touch bumps the updated-at column and saves.
func (r *MemoryRepository) Touch(ctx context.Context, rec Record) error {
	if col := rec.Columns().UpdatedAt; col != "" {
		rec.Fill(value.Map{col: value.Time(r.now())})
	}
	return r.Save(ctx, rec)
}

// Delete soft-deletes rec when its type has a deleted-at column, otherwise
// removes the row without firing hooks.
func (r *MemoryRepository) Delete(ctx context.Context, rec Record) error {
	if col := rec.Columns().DeletedAt; col != "" {
		rec.Fill(value.Map{col: value.Time(r.now())})
		return r.Save(ctx, rec)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rows, ok := r.rows[rec.Type()]; ok {
		delete(rows, rec.Key())
	}
	rec.SetExists(false)
	return nil
}

// Find loads a persisted record. Returns ErrRecordNotFound when absent.
func (r *MemoryRepository) Find(_ context.Context, typ, key string) (Record, error) {
	r.mu.Lock()
	fields, ok := r.rows[typ][key]
	if ok {
		fields = fields.Clone()
	}
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrRecordNotFound, typ, key)
	}

	rec, err := r.registry.Resolve(typ)
	if err != nil {
		return nil, err
	}
	rec.Fill(fields)
	rec.SetExists(true)
	rec.SyncOriginal()
	return rec, nil
}

// Len returns the number of stored rows of a type.
func (r *MemoryRepository) Len(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows[typ])
}

// put merges the record's current fields over the stored row. Fields the
// record no longer carries keep their stored value.
func (r *MemoryRepository) put(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, ok := r.rows[rec.Type()]
	if !ok {
		rows = make(map[string]value.Map)
		r.rows[rec.Type()] = rows
	}
	row, ok := rows[rec.Key()]
	if !ok {
		row = value.Map{}
	}
	for k, v := range rec.Attributes() {
		row[k] = v
	}
	rows[rec.Key()] = row
}
