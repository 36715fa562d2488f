package bugzilla

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_Clone(t *testing.T) {
	s, svc := newTestSchema(t)
	svc.bugs[200] = map[string]any{
		"id":          int64(200),
		"summary":     "Original",
		"product":     "Widgets",
		"component":   "core",
		"qa_contact":  nil,
		"description": "Steps to reproduce",
		"comments": []any{
			map[string]any{"count": int64(1), "author": "hobbes@example.com", "creation_time": testChanged, "text": "me too", "is_private": true},
			map[string]any{"count": int64(0), "author": "calvin@example.com", "creation_time": testCreated, "text": "Steps to reproduce"},
		},
	}

	newID, err := s.Clone(context.Background(), 200, map[string]any{"fixed_in": "2.0", "summary": "Clone"})
	require.NoError(t, err)
	assert.Equal(t, 1001, newID)

	require.Len(t, svc.getCalls, 1)
	assert.Equal(t, CloneFields, svc.getCalls[0].include)

	require.Len(t, svc.createCalls, 1)
	params := svc.createCalls[0]
	assert.Equal(t, "Clone", params["summary"])
	assert.Equal(t, "Widgets", params["product"])
	assert.Equal(t, "core", params["component"])
	assert.Equal(t, "2.0", params["cf_fixed_in"])
	assert.Equal(t, 200, params["cf_clone_of"])
	assert.Equal(t, true, params["comment_is_private"])
	assert.NotContains(t, params, "qa_contact")
	assert.NotContains(t, params, "comments")

	description, _ := params["description"].(string)
	assert.True(t, strings.HasPrefix(description, " +++ This bug was initially created as a clone of Bug #200 +++ \nSteps to reproduce"))
	assert.Contains(t, description, "Following comment by calvin@example.com on 2013-04-05 12:00:00 +0000")
	assert.Less(t, strings.Index(description, "calvin@"), strings.Index(description, "hobbes@"))
	assert.True(t, strings.HasSuffix(description, "\n\nme too"))
}

func TestSchema_CloneNotFound(t *testing.T) {
	s, svc := newTestSchema(t)

	_, err := s.Clone(context.Background(), 404, nil)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "no bug with id 404 found")
	assert.Empty(t, svc.createCalls)
}

func TestCloneDescription_NoComments(t *testing.T) {
	got, private := cloneDescription(7, map[string]any{"description": "text"})
	assert.Equal(t, " +++ This bug was initially created as a clone of Bug #7 +++ \ntext", got)
	assert.False(t, private)
}

func TestCloneDescription_CommentLayout(t *testing.T) {
	got, _ := cloneDescription(7, map[string]any{
		"comments": []any{map[string]any{"count": int64(0), "author": "a@b", "creation_time": testCreated, "text": "hi"}},
	})
	want := " +++ This bug was initially created as a clone of Bug #7 +++ \n" +
		"\n\n" + strings.Repeat("*", 70) +
		"\nFollowing comment by a@b on 2013-04-05 12:00:00 +0000\n\n" +
		"\n\nhi"
	assert.Equal(t, want, got)
}
