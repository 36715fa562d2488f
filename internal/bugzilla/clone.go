package bugzilla

import (
	"context"
	"fmt"
	"strings"
)

// CloneFields are the remote fields copied from a source bug into its clone.
var CloneFields = []string{
	"assigned_to",
	"cc",
	"cf_devel_whiteboard",
	"cf_internal_whiteboard",
	"comments",
	"component",
	"description",
	"groups",
	"keywords",
	"op_sys",
	"platform",
	"priority",
	"product",
	"qa_contact",
	"severity",
	"summary",
	"target_release",
	"url",
	"version",
	"whiteboard",
}

const cloneTimeLayout = "2006-01-02 15:04:05 -0700"

// Clone files a copy of bug id and returns the new bug's id. The source's
// comments are folded into the new description. overrides use local
// attribute names; names outside the attribute map pass through as-is.
func (s *Schema) Clone(ctx context.Context, id int, overrides map[string]any) (int, error) {
	if err := ValidateIDs([]int{id}); err != nil {
		return 0, err
	}
	rows, err := s.svc.Get(ctx, []int{id}, CloneFields)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("%w: no bug with id %d found", ErrNotFound, id)
	}
	source := rows[0]

	params := make(map[string]any, len(CloneFields)+3)
	for _, field := range CloneFields {
		if field == "comments" {
			continue
		}
		if v, ok := source[field]; ok && v != nil {
			params[field] = v
		}
	}

	if len(overrides) > 0 {
		m, err := s.AttributeMap(ctx)
		if err != nil {
			return 0, err
		}
		for k, v := range m.ToService(overrides) {
			params[k] = v
		}
	}

	description, private := cloneDescription(id, source)
	params["cf_clone_of"] = id
	params["description"] = description
	params["comment_is_private"] = private

	newID, err := s.svc.Create(ctx, params)
	if err != nil {
		return 0, err
	}
	s.logger.Info("bug cloned", "source_id", id, "bug_id", newID)
	return newID, nil
}

// cloneDescription folds the source description and every comment into the
// clone's description. The result is private when any comment was.
func cloneDescription(id int, source map[string]any) (string, bool) {
	var sb strings.Builder
	fmt.Fprintf(&sb, " +++ This bug was initially created as a clone of Bug #%d +++ \n", id)
	sb.WriteString(asString(source["description"]))

	private := false
	for _, c := range CommentsFromRaw(source["comments"]) {
		sb.WriteString("\n\n")
		sb.WriteString(strings.Repeat("*", 70))
		fmt.Fprintf(&sb, "\nFollowing comment by %s on %s\n\n", c.CreatedBy, c.CreatedOn.Format(cloneTimeLayout))
		sb.WriteString("\n\n")
		sb.WriteString(c.Text)
		if c.Private {
			private = true
		}
	}
	return sb.String(), private
}
