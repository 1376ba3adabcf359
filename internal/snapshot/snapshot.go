// Package snapshot defines the immutable version row and the storage contract
// every snapshot backend implements.
//
// # Ordering
//
// Snapshots of one owner are ordered by (CreatedAt, ID). ID is assigned by the
// store, increases monotonically and breaks ties between snapshots written in
// the same clock tick. "Newest first" always means CreatedAt DESC, ID DESC.
//
// # Immutability
//
// A stored snapshot is never updated. The only permitted mutation is deleting
// whole rows, done by retention purge or by an operator.
package snapshot

import (
	"context"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxReasonLength is the maximum reason length in characters.
const MaxReasonLength = 100

// DefaultTable is the table used when a record type does not bind its own.
const DefaultTable = "versions"

// Snapshot is one stored version of a record.
type Snapshot struct {
	ID        int64
	OwnerType string
	OwnerID   string
	ActorID   *string
	Payload   []byte
	Reason    *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Owner returns the record the snapshot belongs to.
func (s Snapshot) Owner() Owner {
	return Owner{Type: s.OwnerType, ID: s.OwnerID}
}

// Owner identifies a record by type discriminator and key.
type Owner struct {
	Type string
	ID   string
}

func (o Owner) String() string {
	return o.Type + "#" + o.ID
}

// Store persists snapshots. Implementations must be safe for concurrent use.
type Store interface {
	// Append inserts s and returns it with ID populated.
	Append(ctx context.Context, s Snapshot) (Snapshot, error)

	// Get returns the snapshot with the given ID, or ErrNotFound.
	Get(ctx context.Context, id int64) (Snapshot, error)

	// List returns the owner's snapshots newest first. Never nil.
	List(ctx context.Context, owner Owner) ([]Snapshot, error)

	// Nth returns the owner's n-th newest snapshot (0 = current), or ErrNotFound.
	Nth(ctx context.Context, owner Owner, n int) (Snapshot, error)

	// Count returns the number of snapshots the owner has.
	Count(ctx context.Context, owner Owner) (int, error)

	// Trim deletes every snapshot of the owner except the newest keep, in a
	// single statement, and returns how many rows were removed.
	Trim(ctx context.Context, owner Owner, keep int) (int, error)
}

// Reason normalizes a caller-supplied reason: empty becomes nil and anything
// longer than MaxReasonLength characters is truncated. The cut backs up to the
// previous character boundary rather than split a base letter from its
// combining marks.
func Reason(reason string) *string {
	if reason == "" {
		return nil
	}
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		reason = truncateRunes(reason, MaxReasonLength)
	}
	return &reason
}

func truncateRunes(s string, n int) string {
	cut := len(s)
	for i := range s {
		if n == 0 {
			cut = i
			break
		}
		n--
	}
	head, rest := s[:cut], s[cut:]
	if norm.NFC.FirstBoundaryInString(rest) != 0 {
		if j := norm.NFC.LastBoundary([]byte(head)); j > 0 {
			head = head[:j]
		}
	}
	return head
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateTable rejects table names that cannot be interpolated into SQL safely.
func ValidateTable(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("invalid snapshot table name %q", name)
	}
	return nil
}
