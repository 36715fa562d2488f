package bugzilla

import (
	"slices"
	"strings"
)

// attributeRenames are the local->remote pairs that cannot be derived from
// the field catalog, either because the names differ or because the field
// is missing from what the service reports.
var attributeRenames = map[string]string{
	"created_by":   "creator",
	"created_on":   "creation_time",
	"duplicate_id": "dupe_of",
	"updated_on":   "last_change_time",

	"actual_time": "actual_time",
	"flags":       "flags",
	"id":          "id",
}

const customFieldPrefix = "cf_"

// AttributeMap translates between local attribute names and remote field
// names. It is immutable once built.
type AttributeMap struct {
	toRemote   map[string]string
	toLocal    map[string]string
	names      []string
	timestamps map[string]bool
}

// NewAttributeMap builds the map from the rename table plus every catalog
// field, stripping the custom-field prefix to form the local name.
// timestamps is the set of remote names whose values are date/times.
func NewAttributeMap(fields []Field, timestamps map[string]bool) *AttributeMap {
	m := &AttributeMap{
		toRemote:   make(map[string]string, len(attributeRenames)+len(fields)),
		toLocal:    make(map[string]string, len(attributeRenames)+len(fields)),
		timestamps: make(map[string]bool, len(timestamps)),
	}
	for local, remote := range attributeRenames {
		m.toRemote[local] = remote
		m.toLocal[remote] = local
	}
	for _, f := range fields {
		if _, taken := m.toLocal[f.Name]; taken {
			continue
		}
		if strings.Contains(f.Name, ".") {
			continue
		}
		local := strings.TrimPrefix(f.Name, customFieldPrefix)
		if _, taken := m.toRemote[local]; taken {
			continue
		}
		m.toRemote[local] = f.Name
		m.toLocal[f.Name] = local
	}
	for name, ok := range timestamps {
		if ok {
			m.timestamps[name] = true
		}
	}

	m.names = make([]string, 0, len(m.toRemote))
	for local := range m.toRemote {
		m.names = append(m.names, local)
	}
	slices.Sort(m.names)
	return m
}

// Names returns the local attribute names in lexicographic order.
func (m *AttributeMap) Names() []string {
	return slices.Clone(m.names)
}

// Has reports whether local is a known attribute name.
func (m *AttributeMap) Has(local string) bool {
	_, ok := m.toRemote[local]
	return ok
}

// Remote returns the remote field name for a local attribute.
func (m *AttributeMap) Remote(local string) (string, bool) {
	remote, ok := m.toRemote[local]
	return remote, ok
}

// Local returns the local attribute name for a remote field.
func (m *AttributeMap) Local(remote string) (string, bool) {
	local, ok := m.toLocal[remote]
	return local, ok
}

// IsTimestamp reports whether the remote field holds date/times.
func (m *AttributeMap) IsTimestamp(remote string) bool {
	return m.timestamps[remote]
}

// Pairs returns a copy of the local->remote mapping.
func (m *AttributeMap) Pairs() map[string]string {
	out := make(map[string]string, len(m.toRemote))
	for k, v := range m.toRemote {
		out[k] = v
	}
	return out
}

// DefaultServiceFields is every mapped remote field except comments, which
// are fetched on their own.
func (m *AttributeMap) DefaultServiceFields() []string {
	out := make([]string, 0, len(m.toLocal))
	for remote := range m.toLocal {
		if remote == "comments" {
			continue
		}
		out = append(out, remote)
	}
	slices.Sort(out)
	return out
}

// IncludeFields translates local names to remote names, dropping unknown
// names and duplicates while keeping order.
func (m *AttributeMap) IncludeFields(locals []string) []string {
	out := make([]string, 0, len(locals))
	for _, local := range locals {
		remote, ok := m.toRemote[local]
		if !ok || slices.Contains(out, remote) {
			continue
		}
		out = append(out, remote)
	}
	return out
}

// ToService renames local keys to remote names, translates include_fields
// member-wise and drops nil values. The input is not modified.
func (m *AttributeMap) ToService(h map[string]any) map[string]any {
	out := make(map[string]any, len(h))
	for key, value := range h {
		if value == nil {
			continue
		}
		if key == "include_fields" {
			out[key] = m.IncludeFields(asStrings(value))
			continue
		}
		if remote, ok := m.toRemote[key]; ok {
			key = remote
		}
		out[key] = value
	}
	return out
}

// FromService renames remote keys to local names, coercing timestamp fields.
// Keys absent from h stay absent; unmapped keys pass through. The input is
// not modified.
func (m *AttributeMap) FromService(h map[string]any) map[string]any {
	out := make(map[string]any, len(h))
	for key, value := range h {
		if _, mapped := m.toLocal[key]; mapped {
			continue
		}
		out[key] = value
	}
	for local, remote := range m.toRemote {
		value, ok := h[remote]
		if !ok {
			continue
		}
		if m.timestamps[remote] {
			value = timestampValue(value)
		}
		out[local] = value
	}
	return out
}
