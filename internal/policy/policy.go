// Package policy decides whether a mutation deserves a snapshot.
package policy

import (
	"github.com/roach88/versionable/internal/value"
)

// Config is the per record type versioning policy.
type Config struct {
	// Enabled turns versioning on for the type. Default true.
	Enabled bool

	// ExcludedFields never trigger a snapshot on their own.
	ExcludedFields []string

	// HiddenFields lists hidden fields that are still captured in snapshots.
	HiddenFields []string

	// RetentionLimit bounds stored snapshots per record. 0 means unbounded.
	RetentionLimit int

	// UpdatedAtField and DeletedAtField are housekeeping columns ignored on
	// update. An empty DeletedAtField means the type does not soft-delete.
	UpdatedAtField string
	DeletedAtField string
}

// Default returns an enabled, unbounded policy with no exclusions.
func Default() Config {
	return Config{
		Enabled:        true,
		UpdatedAtField: "updated_at",
	}
}

// WithColumns returns a copy bound to a record's housekeeping columns.
func (c Config) WithColumns(updatedAt, deletedAt string) Config {
	c.UpdatedAtField = updatedAt
	c.DeletedAtField = deletedAt
	return c
}

// Skip says why a mutation was not snapshotted.
type Skip string

const (
	SkipNone             Skip = ""
	SkipDisabled         Skip = "disabled"
	SkipEmpty            Skip = "empty"
	SkipHousekeepingOnly Skip = "housekeeping_only"
)

// Decision is the outcome of evaluating a mutation.
type Decision struct {
	Snapshot bool
	Skip     Skip
	// Fields are the dirty fields that justified the snapshot, sorted.
	Fields []string
}

// ShouldSnapshot reports whether a mutation produces a snapshot.
//
// Inserts snapshot whenever any field was set. Updates snapshot only when a
// dirty field remains after dropping excluded fields and the housekeeping
// timestamp columns.
func ShouldSnapshot(isInsert bool, dirty value.Map, cfg Config) bool {
	return Explain(isInsert, dirty, cfg).Snapshot
}

// Explain is ShouldSnapshot with the reason for skipping.
func Explain(isInsert bool, dirty value.Map, cfg Config) Decision {
	if !cfg.Enabled {
		return Decision{Skip: SkipDisabled}
	}
	if len(dirty) == 0 {
		return Decision{Skip: SkipEmpty}
	}
	if isInsert {
		return Decision{Snapshot: true, Fields: dirty.SortedKeys()}
	}

	drop := make([]string, 0, len(cfg.ExcludedFields)+2)
	drop = append(drop, cfg.ExcludedFields...)
	if cfg.UpdatedAtField != "" {
		drop = append(drop, cfg.UpdatedAtField)
	}
	if cfg.DeletedAtField != "" {
		drop = append(drop, cfg.DeletedAtField)
	}

	effective := dirty.Without(drop...)
	if len(effective) == 0 {
		return Decision{Skip: SkipHousekeepingOnly}
	}
	return Decision{Snapshot: true, Fields: effective.SortedKeys()}
}
