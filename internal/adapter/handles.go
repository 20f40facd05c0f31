package adapter

import (
	"sync"

	"github.com/dshills/luadap/internal/debugger"
)

// Reserved variable references for the two fixed pseudo-scopes. They sit
// above any reachable dynamic reference so the ranges never collide.
const (
	// RefLocals resolves to the live local-variable watch list.
	RefLocals = 65536
	// RefSelf resolves to the expanded implicit receiver.
	RefSelf = 65537
)

// RefTable assigns small-integer references to values produced during
// the current stack inspection turn. References are indices into an
// append-only arena; the arena is reset wholesale whenever the call
// stack changes, so a reference is only valid until the next stop.
//
// Dynamic references start at 1 because reference 0 means "no children"
// on the wire.
type RefTable struct {
	mu     sync.Mutex
	values []debugger.Value
}

// NewRefTable creates an empty reference table.
func NewRefTable() *RefTable {
	return &RefTable{}
}

// Add stores a value and returns its reference. A nil value is a valid
// entry (the evaluation produced nil).
func (t *RefTable) Add(v debugger.Value) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.values = append(t.values, v)
	return len(t.values)
}

// Resolve returns the value for a reference. The second result is false
// for references that were never allocated or were invalidated by a
// stack change.
func (t *RefTable) Resolve(ref int) (debugger.Value, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ref < 1 || ref > len(t.values) {
		return nil, false
	}
	return t.values[ref-1], true
}

// Clear invalidates every dynamic reference. Reserved references are
// unaffected; they are not stored here.
func (t *RefTable) Clear() {
	t.mu.Lock()
	t.values = t.values[:0]
	t.mu.Unlock()
}

// Len returns the number of live dynamic references.
func (t *RefTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.values)
}
