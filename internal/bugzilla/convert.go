package bugzilla

import (
	"fmt"
	"strconv"
)

// Values decoded from the wire arrive as whatever the transport produced;
// these helpers coerce them without failing.

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprint(v)
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int:
		return b != 0
	case int64:
		return b != 0
	case string:
		return b == "1" || b == "true"
	}
	return false
}

func asStrings(v any) []string {
	switch s := v.(type) {
	case nil:
		return nil
	case []string:
		return s
	case string:
		return []string{s}
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			out = append(out, asString(item))
		}
		return out
	}
	return nil
}

// asRecords accepts the shapes a list of structs takes after decoding.
func asRecords(v any) []map[string]any {
	switch list := v.(type) {
	case []map[string]any:
		return list
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}
