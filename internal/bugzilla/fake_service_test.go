package bugzilla

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Fake service
// ---------------------------------------------------------------------------

type getCall struct {
	ids     []int
	include []string
}

type updateCall struct {
	id    int
	attrs map[string]any
}

type addedComment struct {
	id      int
	text    string
	private bool
}

// fakeService implements Service in memory and records every call.
type fakeService struct {
	fields     []map[string]any
	bugs       map[int]map[string]any
	comments   map[int][]any
	searchRows []map[string]any

	// echoID overrides the id echoed by Update when non-zero.
	echoID int
	nextID int

	fieldsCalls   int
	getCalls      []getCall
	searchCalls   []map[string]any
	updateCalls   []updateCall
	createCalls   []map[string]any
	commentsCalls int
	addedComments []addedComment

	getErr    error
	updateErr error
}

func (f *fakeService) Fields(_ context.Context) ([]map[string]any, error) {
	f.fieldsCalls++
	return f.fields, nil
}

func (f *fakeService) Get(_ context.Context, ids []int, include []string) ([]map[string]any, error) {
	f.getCalls = append(f.getCalls, getCall{ids: ids, include: include})
	if f.getErr != nil {
		return nil, f.getErr
	}
	var rows []map[string]any
	for _, id := range ids {
		rec, ok := f.bugs[id]
		if !ok {
			continue
		}
		if include == nil {
			rows = append(rows, maps.Clone(rec))
			continue
		}
		row := map[string]any{"id": id}
		for _, field := range include {
			if v, ok := rec[field]; ok {
				row[field] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (f *fakeService) Search(_ context.Context, criteria map[string]any) ([]map[string]any, error) {
	f.searchCalls = append(f.searchCalls, criteria)
	rows := make([]map[string]any, 0, len(f.searchRows))
	for _, r := range f.searchRows {
		rows = append(rows, maps.Clone(r))
	}
	return rows, nil
}

func (f *fakeService) Update(_ context.Context, id int, attrs map[string]any) (map[string]any, error) {
	f.updateCalls = append(f.updateCalls, updateCall{id: id, attrs: attrs})
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	echo := id
	if f.echoID != 0 {
		echo = f.echoID
	}
	return map[string]any{"id": int64(echo), "changes": map[string]any{}}, nil
}

func (f *fakeService) Create(_ context.Context, attrs map[string]any) (int, error) {
	f.createCalls = append(f.createCalls, attrs)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeService) Comments(_ context.Context, ids []int) (map[string]any, error) {
	f.commentsCalls++
	bugs := make(map[string]any)
	for _, id := range ids {
		bugs[strconv.Itoa(id)] = map[string]any{"comments": f.comments[id]}
	}
	return map[string]any{"bugs": bugs, "comments": map[string]any{}}, nil
}

func (f *fakeService) AddComment(_ context.Context, id int, text string, private bool) (int, error) {
	f.addedComments = append(f.addedComments, addedComment{id: id, text: text, private: private})
	return 9000 + len(f.addedComments), nil
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

var (
	testCreated = time.Date(2013, 4, 5, 12, 0, 0, 0, time.UTC)
	testChanged = time.Date(2013, 5, 6, 8, 30, 0, 0, time.UTC)
)

func testFields() []map[string]any {
	return []map[string]any{
		{"id": int64(1), "name": "bug_id", "display_name": "Bug ID", "type": int64(0)},
		{"id": int64(2), "name": "short_desc", "display_name": "Summary", "type": int64(1)},
		{"id": int64(3), "name": "bug_severity", "display_name": "Severity", "type": int64(2)},
		{"id": int64(4), "name": "priority", "display_name": "Priority", "type": int64(2)},
		{"id": int64(5), "name": "creation_ts", "display_name": "Opened", "type": int64(0)},
		{"id": int64(6), "name": "delta_ts", "display_name": "Changed", "type": int64(0)},
		{"id": int64(7), "name": "cf_fixed_in", "display_name": "Fixed In", "type": int64(1), "is_custom": true},
		{"id": int64(8), "name": "cf_verified_on", "display_name": "Verified On", "type": int64(5), "is_custom": true},
		{"id": int64(9), "name": "longdesc", "display_name": "Comment"},
		{"id": int64(10), "name": "longdescs.count", "display_name": "Number of Comments"},
		{"id": int64(11), "name": "reporter", "display_name": "Reporter", "type": int64(0)},
		{"id": int64(12), "name": "assigned_to", "display_name": "Assignee", "type": int64(0)},
		{"id": int64(13), "name": "keywords", "display_name": "Keywords", "type": int64(8)},
		{"id": int64(14), "name": "component", "display_name": "Component", "type": int64(2)},
		{"id": int64(15), "name": "product", "display_name": "Product", "type": int64(2)},
		{"id": int64(16), "name": "flagtypes.name", "display_name": "Flags"},
	}
}

var testAttributeNames = []string{
	"actual_time", "assigned_to", "component", "created_by", "created_on",
	"duplicate_id", "fixed_in", "flags", "id", "keywords", "priority",
	"product", "severity", "summary", "updated_on", "verified_on",
}

func testBugRecord() map[string]any {
	return map[string]any{
		"id":               int64(123),
		"summary":          "It's broken",
		"severity":         "high",
		"priority":         "low",
		"creator":          "calvin@example.com",
		"creation_time":    testCreated,
		"last_change_time": testChanged,
		"cf_fixed_in":      "1.2",
		"keywords":         []any{"ZStream"},
		"flags": []any{
			map[string]any{"id": int64(1), "type_id": int64(10), "name": "needinfo", "status": "?", "setter": "calvin@example.com", "is_active": true},
			map[string]any{"id": int64(2), "type_id": int64(11), "name": "qa_ack", "status": "+", "setter": "hobbes@example.com", "is_active": true},
		},
	}
}

func newTestSchema(t *testing.T) (*Schema, *fakeService) {
	t.Helper()
	svc := &fakeService{
		fields: testFields(),
		bugs:   map[int]map[string]any{123: testBugRecord()},
		comments: map[int][]any{
			123: {
				map[string]any{"id": int64(12), "bug_id": int64(123), "count": int64(2), "text": "third", "author": "hobbes@example.com"},
				map[string]any{"id": int64(10), "bug_id": int64(123), "count": int64(0), "text": "first", "author": "calvin@example.com", "creation_time": testCreated},
				map[string]any{"id": int64(11), "bug_id": int64(123), "count": int64(1), "text": "second", "author": "hobbes@example.com", "is_private": true},
			},
		},
		nextID: 1000,
	}
	return NewSchema(svc), svc
}

func newTestBug(t *testing.T, attrs map[string]any) (*Bug, *fakeService) {
	t.Helper()
	s, svc := newTestSchema(t)
	if attrs == nil {
		attrs = map[string]any{}
	}
	if _, ok := attrs["id"]; !ok {
		attrs["id"] = 123
	}
	bug, err := s.NewBug(context.Background(), attrs)
	require.NoError(t, err)
	return bug, svc
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
