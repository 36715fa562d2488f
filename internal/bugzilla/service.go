package bugzilla

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
)

// Service is the remote bug service the core talks to. Records use remote
// field names. Implementations surface transport errors unmodified.
type Service interface {
	Fields(ctx context.Context) ([]map[string]any, error)
	Get(ctx context.Context, ids []int, includeFields []string) ([]map[string]any, error)
	Search(ctx context.Context, criteria map[string]any) ([]map[string]any, error)
	// Update returns the record echoed for id; it must carry at least "id".
	Update(ctx context.Context, id int, attrs map[string]any) (map[string]any, error)
	Create(ctx context.Context, attrs map[string]any) (int, error)
	// Comments returns the nested {"bugs": {"<id>": {"comments": [...]}}} record.
	Comments(ctx context.Context, ids []int) (map[string]any, error)
	AddComment(ctx context.Context, id int, text string, private bool) (int, error)
}

// DefaultFieldsToInclude is the remote field list requested when a caller
// does not name one.
var DefaultFieldsToInclude = []string{
	"actual_time",
	"alias",
	"assigned_to",
	"blocks",
	"cc",
	"classification",
	"comments",
	"component",
	"creator",
	"depends_on",
	"description",
	"dupe_of",
	"estimated_time",
	"flags",
	"keywords",
	"last_change_time",
	"platform",
	"priority",
	"product",
	"qa_contact",
	"remaining_time",
	"resolution",
	"severity",
	"status",
	"summary",
	"target_release",
	"url",
	"version",
}

var numericID = regexp.MustCompile(`^\d+$`)

// ValidateIDs checks that at least one id was given and all are non-negative.
func ValidateIDs(ids []int) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no bug ids given", ErrInvalidArgument)
	}
	for _, id := range ids {
		if id < 0 {
			return fmt.Errorf("%w: bug id must be a non-negative integer, got %d", ErrInvalidArgument, id)
		}
	}
	return nil
}

// ParseID parses a textual bug id such as a CLI argument.
func ParseID(s string) (int, error) {
	if !numericID.MatchString(s) {
		return 0, fmt.Errorf("%w: bug id must be numeric, got %q", ErrInvalidArgument, s)
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: bug id %q: %v", ErrInvalidArgument, s, err)
	}
	return id, nil
}
