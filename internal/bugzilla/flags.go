package bugzilla

import (
	"maps"
	"slices"
)

// FlagRemoved is the status sent to the service to clear a flag.
const FlagRemoved = "X"

// FlagUpdate is one entry of the per-flag update list sent on save.
type FlagUpdate struct {
	Name   string `json:"name" xmlrpc:"name"`
	Status string `json:"status" xmlrpc:"status"`
}

// FlagChange is the (original, current) pair for one dirty flag. Absent
// values are empty strings.
type FlagChange struct {
	Old string
	New string
}

type flagOriginal struct {
	status  string
	present bool
}

// FlagSet is the editable name->status projection of a bug's flags. Each
// flag name is change-tracked independently, with the same rules as
// ChangeTracker.
type FlagSet struct {
	values   map[string]string
	original map[string]flagOriginal
}

// NewFlagSet returns a clean set holding values.
func NewFlagSet(values map[string]string) *FlagSet {
	fs := &FlagSet{
		values:   make(map[string]string, len(values)),
		original: make(map[string]flagOriginal),
	}
	for name, status := range values {
		fs.values[name] = status
	}
	return fs
}

// Get returns the status of a flag.
func (fs *FlagSet) Get(name string) (string, bool) {
	status, ok := fs.values[name]
	return status, ok
}

// Names returns the current flag names, sorted.
func (fs *FlagSet) Names() []string {
	return slices.Sorted(maps.Keys(fs.values))
}

// Map returns a copy of the current name->status mapping.
func (fs *FlagSet) Map() map[string]string {
	return maps.Clone(fs.values)
}

// Set changes the status of a flag. An empty status clears the flag.
func (fs *FlagSet) Set(name, status string) {
	if status == "" {
		fs.Delete(name)
		return
	}
	current, ok := fs.values[name]
	if ok && current == status {
		return
	}
	fs.remember(name, current, ok)
	fs.values[name] = status
}

// Delete clears a flag.
func (fs *FlagSet) Delete(name string) {
	current, ok := fs.values[name]
	if !ok {
		return
	}
	fs.remember(name, current, ok)
	delete(fs.values, name)
}

// Replace makes the set equal to values, recording a change for every flag
// that differs.
func (fs *FlagSet) Replace(values map[string]string) {
	for _, name := range fs.Names() {
		if _, keep := values[name]; !keep {
			fs.Delete(name)
		}
	}
	for name, status := range values {
		fs.Set(name, status)
	}
}

func (fs *FlagSet) remember(name, status string, present bool) {
	if _, dirty := fs.original[name]; dirty {
		return
	}
	fs.original[name] = flagOriginal{status: status, present: present}
}

// Changed reports whether any flag is dirty.
func (fs *FlagSet) Changed() bool {
	return len(fs.original) > 0
}

// Changes returns one entry per dirty flag.
func (fs *FlagSet) Changes() map[string]FlagChange {
	out := make(map[string]FlagChange, len(fs.original))
	for name, orig := range fs.original {
		out[name] = FlagChange{Old: orig.status, New: fs.values[name]}
	}
	return out
}

// Previous returns the mapping as it was before any dirty flag changed.
func (fs *FlagSet) Previous() map[string]string {
	prev := maps.Clone(fs.values)
	for name, orig := range fs.original {
		if orig.present {
			prev[name] = orig.status
		} else {
			delete(prev, name)
		}
	}
	return prev
}

// RawUpdates lists the final status of every dirty flag, sorted by name.
// Cleared flags are reported with FlagRemoved.
func (fs *FlagSet) RawUpdates() []FlagUpdate {
	names := slices.Sorted(maps.Keys(fs.original))
	updates := make([]FlagUpdate, 0, len(names))
	for _, name := range names {
		status, ok := fs.values[name]
		if !ok || status == "" {
			status = FlagRemoved
		}
		updates = append(updates, FlagUpdate{Name: name, Status: status})
	}
	return updates
}

// Clean forgets all pending flag changes, keeping current values.
func (fs *FlagSet) Clean() {
	clear(fs.original)
}

// Discard restores every dirty flag to its original status.
func (fs *FlagSet) Discard() {
	fs.values = fs.Previous()
	clear(fs.original)
}

func (fs *FlagSet) clone() *FlagSet {
	return &FlagSet{values: maps.Clone(fs.values), original: maps.Clone(fs.original)}
}

// newFlagUpdates lists the set flags of a fresh mapping, sorted by name.
func newFlagUpdates(flags map[string]string) []FlagUpdate {
	updates := make([]FlagUpdate, 0, len(flags))
	for _, name := range slices.Sorted(maps.Keys(flags)) {
		if flags[name] == "" {
			continue
		}
		updates = append(updates, FlagUpdate{Name: name, Status: flags[name]})
	}
	return updates
}
