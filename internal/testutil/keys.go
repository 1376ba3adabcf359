package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequentialKeys generates record keys "<prefix>-1", "<prefix>-2", ...
//
// Used in place of the UUIDv7 default so fixtures and golden output are stable.
//
// Thread-safety: safe for concurrent use.
type SequentialKeys struct {
	prefix string
	n      atomic.Int64
}

// NewSequentialKeys creates a generator. If prefix is empty, "rec" is used.
func NewSequentialKeys(prefix string) *SequentialKeys {
	if prefix == "" {
		prefix = "rec"
	}
	return &SequentialKeys{prefix: prefix}
}

// Next returns the next key.
func (g *SequentialKeys) Next() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.n.Add(1))
}
