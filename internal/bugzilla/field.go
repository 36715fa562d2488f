package bugzilla

import "strings"

// FieldType is the remote field type code.
type FieldType int

// FieldTypeTimestamp is the type code the service uses for date/time fields.
const FieldTypeTimestamp FieldType = 5

// knownTimestamps covers synthetic fields some servers report without a type.
var knownTimestamps = map[string]bool{
	"creation_time":    true,
	"last_change_time": true,
}

// fieldAliases maps legacy field names to their current names.
var fieldAliases = map[string]string{
	"short_desc":        "summary",
	"comment":           "description",
	"rep_platform":      "platform",
	"bug_severity":      "severity",
	"bug_status":        "status",
	"bug_id":            "id",
	"blockedby":         "blocks",
	"blocked":           "blocks",
	"dependson":         "depends_on",
	"reporter":          "creator",
	"bug_file_loc":      "url",
	"dupe_id":           "dupe_of",
	"dup_id":            "dupe_of",
	"longdescs":         "comments",
	"opendate":          "creation_time",
	"creation_ts":       "creation_time",
	"status_whiteboard": "whiteboard",
	"delta_ts":          "last_change_time",
}

// FieldAlias returns the current name for a legacy field name.
func FieldAlias(name string) string {
	if alias, ok := fieldAliases[name]; ok {
		return alias
	}
	return name
}

// Field is remote field metadata.
type Field struct {
	ID               int
	Name             string
	OriginalName     string
	DisplayName      string
	Type             FieldType
	Values           []string
	VisibilityField  string
	VisibilityValues []string
	IsCustom         bool
	IsMandatory      bool
	IsOnBugEntry     bool
}

// NewField builds a Field from a raw field record.
func NewField(raw map[string]any) Field {
	original := asString(raw["name"])
	f := Field{
		Name:             FieldAlias(original),
		OriginalName:     original,
		DisplayName:      asString(raw["display_name"]),
		VisibilityField:  asString(raw["visibility_field"]),
		VisibilityValues: asStrings(raw["visibility_values"]),
		IsCustom:         asBool(raw["is_custom"]),
		IsMandatory:      asBool(raw["is_mandatory"]),
		IsOnBugEntry:     asBool(raw["is_on_bug_entry"]),
	}
	f.ID, _ = asInt(raw["id"])
	if t, ok := asInt(raw["type"]); ok {
		f.Type = FieldType(t)
	}
	if values, ok := raw["values"].([]any); ok {
		for _, v := range values {
			if m, ok := v.(map[string]any); ok {
				v = m["name"]
			}
			f.Values = append(f.Values, asString(v))
		}
	}
	return f
}

// IsTimestamp reports whether values of this field are date/times.
func (f Field) IsTimestamp() bool {
	return f.Type == FieldTypeTimestamp || knownTimestamps[f.Name]
}

// FieldsFromRaw builds the usable catalog from raw field records. Sub-field
// paths ("longdescs.count") and "longdesc" are not addressable and are left out.
func FieldsFromRaw(raw []map[string]any) []Field {
	fields := make([]Field, 0, len(raw))
	for _, r := range raw {
		name := asString(r["name"])
		if name == "longdesc" || strings.Contains(name, ".") {
			continue
		}
		fields = append(fields, NewField(r))
	}
	return fields
}
