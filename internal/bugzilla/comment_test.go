package bugzilla

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewComment(t *testing.T) {
	c := NewComment(map[string]any{
		"id":            int64(77),
		"bug_id":        int64(123),
		"count":         int64(4),
		"creator":       "hobbes@example.com",
		"creator_id":    int64(9),
		"creation_time": testCreated,
		"time":          "2013-05-06T08:30:00Z",
		"text":          "Still broken",
		"is_private":    true,
	})

	assert.Equal(t, Comment{
		ID:        77,
		BugID:     123,
		Count:     4,
		CreatedBy: "hobbes@example.com",
		CreatorID: 9,
		CreatedOn: testCreated,
		UpdatedOn: testChanged,
		Text:      "Still broken",
		Private:   true,
	}, c)
}

func TestNewComment_AuthorPreferred(t *testing.T) {
	c := NewComment(map[string]any{"author": "calvin@example.com", "creator": "hobbes@example.com"})
	assert.Equal(t, "calvin@example.com", c.CreatedBy)
}

func TestCommentsFromRaw_StableOrder(t *testing.T) {
	comments := CommentsFromRaw([]map[string]any{
		{"count": int64(1), "text": "b"},
		{"count": int64(0), "text": "a"},
		{"count": int64(1), "text": "c"},
	})

	texts := make([]string, 0, len(comments))
	for _, c := range comments {
		texts = append(texts, c.Text)
	}
	assert.Equal(t, []string{"a", "b", "c"}, texts)
}

func TestCommentsFromRaw_Nil(t *testing.T) {
	assert.Empty(t, CommentsFromRaw(nil))
}
