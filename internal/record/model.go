package record

import (
	"slices"
	"strconv"

	"github.com/roach88/versionable/internal/value"
)

// Model is a map-backed Record.
type Model struct {
	typ        string
	keyField   string
	columns    Columns
	attrs      value.Map
	original   value.Map
	exists     bool
	hidden     []string
	versioning bool
	reason     string
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithKeyField sets the primary key field. Default "id".
func WithKeyField(field string) ModelOption {
	return func(m *Model) {
		m.keyField = field
	}
}

// WithColumns overrides the timestamp column names.
func WithColumns(c Columns) ModelOption {
	return func(m *Model) {
		m.columns = c
	}
}

// WithSoftDeletes enables the deleted_at column.
func WithSoftDeletes() ModelOption {
	return func(m *Model) {
		m.columns.DeletedAt = "deleted_at"
	}
}

// WithHidden marks fields as hidden from serialization.
func WithHidden(fields ...string) ModelOption {
	return func(m *Model) {
		m.MakeHidden(fields...)
	}
}

// NewModel creates a new, unsaved record of the given type.
func NewModel(typ string, opts ...ModelOption) *Model {
	m := &Model{
		typ:        typ,
		keyField:   "id",
		columns:    DefaultColumns(),
		attrs:      value.Map{},
		original:   value.Map{},
		versioning: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ModelFactory returns a Factory producing models configured with opts.
func ModelFactory(typ string, opts ...ModelOption) Factory {
	return func() Record {
		return NewModel(typ, opts...)
	}
}

func (m *Model) Type() string { return m.typ }

// KeyField returns the primary key field name.
func (m *Model) KeyField() string { return m.keyField }

// Key renders the primary key. Returns "" when unset.
func (m *Model) Key() string {
	switch k := m.attrs[m.keyField].(type) {
	case value.String:
		return string(k)
	case value.Int:
		return strconv.FormatInt(int64(k), 10)
	default:
		return ""
	}
}

func (m *Model) Exists() bool { return m.exists }

func (m *Model) SetExists(exists bool) { m.exists = exists }

func (m *Model) Columns() Columns { return m.columns }

// Get returns a field value, or nil when unset.
func (m *Model) Get(field string) value.Value {
	return m.attrs[field]
}

// Set assigns a single field.
func (m *Model) Set(field string, v value.Value) {
	m.attrs[field] = v
}

func (m *Model) Fill(fields value.Map) {
	for k, v := range fields {
		m.attrs[k] = value.Clone(v)
	}
}

func (m *Model) Unset(fields ...string) {
	for _, f := range fields {
		delete(m.attrs, f)
	}
}

func (m *Model) Attributes() value.Map { return m.attrs.Clone() }

func (m *Model) Original() value.Map { return m.original.Clone() }

func (m *Model) Serializable() value.Map {
	return m.attrs.Without(m.hidden...).Clone()
}

// Dirty compares current fields against the original. Removed fields are not dirty.
func (m *Model) Dirty() value.Map {
	dirty := value.Map{}
	for k, v := range m.attrs {
		prev, ok := m.original[k]
		if !ok {
			dirty[k] = value.Null{}
			continue
		}
		if !value.Equal(prev, v) {
			dirty[k] = prev
		}
	}
	return dirty
}

func (m *Model) SyncOriginal() {
	m.original = m.attrs.Clone()
	m.reason = ""
}

func (m *Model) Hidden() []string { return slices.Clone(m.hidden) }

func (m *Model) MakeVisible(fields ...string) {
	m.hidden = slices.DeleteFunc(m.hidden, func(h string) bool {
		return slices.Contains(fields, h)
	})
}

func (m *Model) MakeHidden(fields ...string) {
	for _, f := range fields {
		if !slices.Contains(m.hidden, f) {
			m.hidden = append(m.hidden, f)
		}
	}
}

func (m *Model) VersioningEnabled() bool { return m.versioning }

// EnableVersioning turns snapshotting back on for this instance.
func (m *Model) EnableVersioning() { m.versioning = true }

// DisableVersioning suppresses snapshots for this instance until re-enabled.
func (m *Model) DisableVersioning() { m.versioning = false }

func (m *Model) Reason() string { return m.reason }

// SetReason attaches a reason to the next snapshot taken of this instance.
func (m *Model) SetReason(reason string) { m.reason = reason }
