package bugzilla

import "time"

// Flag is a named status marker on a bug as reported by the service.
type Flag struct {
	ID        int
	BugID     int
	TypeID    int
	Name      string
	Status    string
	Setter    string
	CreatedOn time.Time
	UpdatedOn time.Time
	Active    bool
}

// NewFlag builds a Flag from a raw flag record, tagging it with bugID.
func NewFlag(raw map[string]any, bugID int) Flag {
	f := Flag{
		BugID:  bugID,
		Name:   asString(raw["name"]),
		Status: asString(raw["status"]),
		Setter: asString(raw["setter"]),
		Active: asBool(raw["is_active"]),
	}
	f.ID, _ = asInt(raw["id"])
	f.TypeID, _ = asInt(raw["type_id"])
	f.CreatedOn, _ = NormalizeTimestamp(raw["creation_date"])
	f.UpdatedOn, _ = NormalizeTimestamp(raw["modification_date"])
	return f
}

// FlagsFromRaw builds Flags from a decoded flag list.
func FlagsFromRaw(raw any, bugID int) []Flag {
	records := asRecords(raw)
	flags := make([]Flag, 0, len(records))
	for _, r := range records {
		flags = append(flags, NewFlag(r, bugID))
	}
	return flags
}

// FlagMap projects flags to the editable name->status mapping.
func FlagMap(flags []Flag) map[string]string {
	out := make(map[string]string, len(flags))
	for _, f := range flags {
		out[f.Name] = f.Status
	}
	return out
}
