package testutil

import (
	"fmt"
	"sync/atomic"
)

// RunIDs hands out predictable run IDs so command output can be compared
// byte for byte. The first ID is "<prefix>-1".
//
// RunIDs is safe for concurrent use.
type RunIDs struct {
	prefix string
	n      atomic.Int64
}

// NewRunIDs returns a source whose IDs start with prefix, or "test-run"
// when prefix is empty.
func NewRunIDs(prefix string) *RunIDs {
	if prefix == "" {
		prefix = "test-run"
	}
	return &RunIDs{prefix: prefix}
}

// Next returns the next ID.
func (r *RunIDs) Next() string {
	return fmt.Sprintf("%s-%d", r.prefix, r.n.Add(1))
}
