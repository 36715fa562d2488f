package bugzilla

import (
	"cmp"
	"slices"
	"time"
)

// Comment is a single bug comment. Count orders comments within a bug.
type Comment struct {
	ID        int
	BugID     int
	Count     int
	CreatedBy string
	CreatorID int
	CreatedOn time.Time
	UpdatedOn time.Time
	Text      string
	Private   bool
}

// NewComment builds a Comment from a raw comment record.
func NewComment(raw map[string]any) Comment {
	c := Comment{
		CreatedBy: asString(raw["author"]),
		Text:      asString(raw["text"]),
		Private:   asBool(raw["is_private"]),
	}
	if c.CreatedBy == "" {
		c.CreatedBy = asString(raw["creator"])
	}
	c.ID, _ = asInt(raw["id"])
	c.BugID, _ = asInt(raw["bug_id"])
	c.Count, _ = asInt(raw["count"])
	c.CreatorID, _ = asInt(raw["creator_id"])
	c.CreatedOn, _ = NormalizeTimestamp(raw["creation_time"])
	c.UpdatedOn, _ = NormalizeTimestamp(raw["time"])
	return c
}

// CommentsFromRaw builds Comments ordered by Count, whatever order the
// service returned them in.
func CommentsFromRaw(raw any) []Comment {
	records := asRecords(raw)
	comments := make([]Comment, 0, len(records))
	for _, r := range records {
		comments = append(comments, NewComment(r))
	}
	slices.SortStableFunc(comments, func(a, b Comment) int {
		return cmp.Compare(a.Count, b.Count)
	})
	return comments
}
