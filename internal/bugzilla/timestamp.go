package bugzilla

import "time"

// timeConverter is implemented by wire date/time values that know how to
// become a time.Time.
type timeConverter interface {
	Time() time.Time
}

var timestampLayouts = []string{
	time.RFC3339,
	"20060102T15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// NormalizeTimestamp converts a wire date/time value to a time.Time. The
// second result is false when the value carries no time.
func NormalizeTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case timeConverter:
		return t.Time(), true
	case string:
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// timestampValue is NormalizeTimestamp shaped for attribute maps: nil when
// there is no time.
func timestampValue(v any) any {
	if t, ok := NormalizeTimestamp(v); ok {
		return t
	}
	return nil
}
