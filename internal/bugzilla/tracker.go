package bugzilla

import (
	"maps"
	"reflect"
	"slices"
)

// Change is an (original, current) pair for one dirty attribute.
type Change struct {
	Old any
	New any
}

// ChangeTracker records the value each scalar attribute had before it was
// first modified. Writing the original value back does not clean an
// attribute; only Forget, Clear or a new tracker does.
type ChangeTracker struct {
	original map[string]any
}

// NewChangeTracker creates an empty tracker.
func NewChangeTracker() *ChangeTracker {
	return &ChangeTracker{original: make(map[string]any)}
}

// Write records a write of next over current for name. It returns true when
// the write changes the value. Only the first dirtying write captures the
// original.
func (t *ChangeTracker) Write(name string, current, next any) bool {
	if valuesEqual(current, next) {
		return false
	}
	if _, dirty := t.original[name]; !dirty {
		t.original[name] = current
	}
	return true
}

// Changed reports whether any attribute is dirty.
func (t *ChangeTracker) Changed() bool {
	return len(t.original) > 0
}

// IsChanged reports whether name is dirty.
func (t *ChangeTracker) IsChanged(name string) bool {
	_, ok := t.original[name]
	return ok
}

// Names returns the dirty attribute names, sorted.
func (t *ChangeTracker) Names() []string {
	return slices.Sorted(maps.Keys(t.original))
}

// ChangedAttributes maps each dirty attribute to its original value.
func (t *ChangeTracker) ChangedAttributes() map[string]any {
	return maps.Clone(t.original)
}

// Changes pairs each dirty attribute's original with its current value as
// reported by current.
func (t *ChangeTracker) Changes(current func(name string) any) map[string]Change {
	out := make(map[string]Change, len(t.original))
	for name, old := range t.original {
		out[name] = Change{Old: old, New: current(name)}
	}
	return out
}

// Forget cleans a single attribute.
func (t *ChangeTracker) Forget(name string) {
	delete(t.original, name)
}

// Clear cleans every attribute.
func (t *ChangeTracker) Clear() {
	clear(t.original)
}

func (t *ChangeTracker) clone() *ChangeTracker {
	return &ChangeTracker{original: maps.Clone(t.original)}
}

// valuesEqual compares attribute values, which may be slices or maps.
func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
