package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"maps"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bz/internal/bugzilla"
	"github.com/joescharf/bz/internal/store"
)

const testServiceURL = "https://bugzilla.example.com/xmlrpc.cgi"

// fakeService implements bugzilla.Service in memory.
type fakeService struct {
	bugs     map[int]map[string]any
	comments map[int][]any
	hits     []map[string]any

	fieldsCalls int
	searches    []map[string]any
	updates     []map[string]any
	creates     []map[string]any
	added       []string
}

func (f *fakeService) Fields(_ context.Context) ([]map[string]any, error) {
	f.fieldsCalls++
	return []map[string]any{
		{"name": "bug_id", "type": int64(6)},
		{"name": "short_desc", "display_name": "Summary", "type": int64(1)},
		{"name": "bug_status", "display_name": "Status", "type": int64(2)},
		{"name": "bug_severity", "display_name": "Severity", "type": int64(2)},
		{"name": "priority", "display_name": "Priority", "type": int64(2)},
		{"name": "product", "display_name": "Product", "type": int64(2)},
		{"name": "component", "display_name": "Component", "type": int64(2)},
		{"name": "assigned_to", "display_name": "Assignee", "type": int64(1)},
		{"name": "cf_fixed_in", "display_name": "Fixed In", "type": int64(1), "is_custom": true},
		{"name": "cf_verified_on", "display_name": "Verified On", "type": int64(5), "is_custom": true},
		{"name": "delta_ts", "display_name": "Changed", "type": int64(5)},
	}, nil
}

func (f *fakeService) Get(_ context.Context, ids []int, _ []string) ([]map[string]any, error) {
	var rows []map[string]any
	for _, id := range ids {
		if rec, ok := f.bugs[id]; ok {
			rows = append(rows, maps.Clone(rec))
		}
	}
	return rows, nil
}

func (f *fakeService) Search(_ context.Context, criteria map[string]any) ([]map[string]any, error) {
	f.searches = append(f.searches, criteria)
	return f.hits, nil
}

func (f *fakeService) Update(_ context.Context, id int, attrs map[string]any) (map[string]any, error) {
	f.updates = append(f.updates, attrs)
	return map[string]any{"id": int64(id)}, nil
}

func (f *fakeService) Create(_ context.Context, attrs map[string]any) (int, error) {
	f.creates = append(f.creates, attrs)
	return 1000 + len(f.creates), nil
}

func (f *fakeService) Comments(_ context.Context, ids []int) (map[string]any, error) {
	bugs := map[string]any{}
	for _, id := range ids {
		bugs[strconv.Itoa(id)] = map[string]any{"comments": f.comments[id]}
	}
	return map[string]any{"bugs": bugs}, nil
}

func (f *fakeService) AddComment(_ context.Context, _ int, text string, _ bool) (int, error) {
	f.added = append(f.added, text)
	return 700 + len(f.added), nil
}

// bugTestEnv wires a fake service into an isolated test environment.
func bugTestEnv(t *testing.T) (*fakeService, *bytes.Buffer) {
	t.Helper()
	testEnv(t)

	comments := []any{
		map[string]any{"count": int64(1), "text": "Still happens on 2.0", "author": "hobbes@example.com", "creation_time": time.Date(2013, 5, 7, 9, 0, 0, 0, time.UTC)},
		map[string]any{"count": int64(0), "text": "Crashes on start", "author": "calvin@example.com", "creation_time": time.Date(2013, 5, 6, 8, 0, 0, 0, time.UTC)},
	}
	fake := &fakeService{
		bugs: map[int]map[string]any{
			123: {
				"id":               int64(123),
				"summary":          "It's broken",
				"status":           "NEW",
				"severity":         "high",
				"priority":         "low",
				"product":          "Widgets",
				"component":        "Core",
				"assigned_to":      "calvin@example.com",
				"cf_fixed_in":      "1.0",
				"last_change_time": time.Date(2013, 5, 7, 9, 0, 0, 0, time.UTC),
				"description":      "Crashes on start",
				"comments":         comments,
				"flags": []any{
					map[string]any{"name": "needinfo", "status": "?"},
					map[string]any{"name": "qa_ack", "status": "+"},
				},
			},
		},
		comments: map[int][]any{123: comments},
	}

	orig := newServiceFunc
	newServiceFunc = func() (bugzilla.Service, string, error) { return fake, testServiceURL, nil }
	t.Cleanup(func() { newServiceFunc = orig })

	// Reset flag-bound state shared between commands.
	bugOutput, bugComments = "table", true
	bugSets, bugFlags, bugCriteria = nil, nil, nil
	bugText, bugPrivate = "", false
	bugProduct, bugComponent, bugStatus, bugAssignee, bugSummary = "", "", "", "", ""
	bugLimit = 50
	dryRun = false
	ui.DryRun = false
	t.Cleanup(func() { dryRun = false })

	return fake, ui.Out.(*bytes.Buffer)
}

func loggedUpdates(t *testing.T, bugID int) []*store.UpdateRecord {
	t.Helper()
	st, err := getStore()
	require.NoError(t, err)
	records, err := st.ListUpdates(context.Background(), bugID, 0)
	require.NoError(t, err)
	return records
}

// ---------------------------------------------------------------------------
// Argument parsing
// ---------------------------------------------------------------------------

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"summary=Crash on start", "fixed_in=", "whiteboard=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"summary":    "Crash on start",
		"fixed_in":   "",
		"whiteboard": "a=b",
	}, got)
}

func TestParseAssignments_Invalid(t *testing.T) {
	_, err := parseAssignments([]string{"summary"})
	assert.ErrorContains(t, err, "name=value")

	_, err = parseAssignments([]string{"=x"})
	assert.Error(t, err)
}

func TestParseFlags(t *testing.T) {
	got, err := parseFlags([]string{"qa_ack=+", "needinfo=X", "devel_ack?", "pm_ack-", "doc_ack="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"qa_ack":    "+",
		"needinfo":  "",
		"devel_ack": "?",
		"pm_ack":    "-",
		"doc_ack":   "",
	}, got)
}

func TestParseFlags_Invalid(t *testing.T) {
	_, err := parseFlags([]string{"qa_ack=yes"})
	assert.ErrorContains(t, err, "invalid flag status")

	_, err = parseFlags([]string{"qa_ack"})
	assert.ErrorContains(t, err, "name=status")
}

// ---------------------------------------------------------------------------
// bug show
// ---------------------------------------------------------------------------

func TestBugShow_JSON(t *testing.T) {
	_, out := bugTestEnv(t)
	bugOutput = "json"

	require.NoError(t, bugShowRun(context.Background(), "123"))

	var view struct {
		ID         int               `json:"id"`
		Attributes map[string]any    `json:"attributes"`
		Flags      map[string]string `json:"flags"`
		Comments   []struct {
			Count  int    `json:"count"`
			Author string `json:"author"`
			Text   string `json:"text"`
		} `json:"comments"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &view))
	assert.Equal(t, 123, view.ID)
	assert.Equal(t, "It's broken", view.Attributes["summary"])
	assert.Equal(t, "1.0", view.Attributes["fixed_in"])
	assert.NotContains(t, view.Attributes, "verified_on", "unset attributes are left out")
	assert.Equal(t, map[string]string{"needinfo": "?", "qa_ack": "+"}, view.Flags)
	require.Len(t, view.Comments, 2)
	assert.Equal(t, 0, view.Comments[0].Count)
	assert.Equal(t, "Crashes on start", view.Comments[0].Text)
}

func TestBugShow_YAML(t *testing.T) {
	_, out := bugTestEnv(t)
	bugOutput = "yaml"
	bugComments = false

	require.NoError(t, bugShowRun(context.Background(), "123"))
	assert.Contains(t, out.String(), "id: 123")
	assert.Contains(t, out.String(), "summary:")
	assert.Contains(t, out.String(), "needinfo:")
	assert.NotContains(t, out.String(), "comments:")
}

func TestBugShow_Table(t *testing.T) {
	_, out := bugTestEnv(t)

	require.NoError(t, bugShowRun(context.Background(), "123"))
	text := out.String()
	assert.Contains(t, text, "Bug 123:")
	assert.Contains(t, text, "It's broken")
	assert.Contains(t, text, "calvin@example.com")
	assert.Contains(t, text, "needinfo?")
	assert.Contains(t, text, "Comment 1 by hobbes@example.com")
}

func TestBugShow_BadFormat(t *testing.T) {
	bugTestEnv(t)
	bugOutput = "xml"

	err := bugShowRun(context.Background(), "123")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestBugShow_InvalidID(t *testing.T) {
	bugTestEnv(t)

	err := bugShowRun(context.Background(), "12a")
	assert.ErrorIs(t, err, bugzilla.ErrInvalidArgument)
}

func TestBugShow_NotFound(t *testing.T) {
	bugTestEnv(t)

	err := bugShowRun(context.Background(), "999")
	assert.ErrorIs(t, err, bugzilla.ErrNotFound)
}

// ---------------------------------------------------------------------------
// bug search
// ---------------------------------------------------------------------------

func TestBugSearch(t *testing.T) {
	fake, out := bugTestEnv(t)
	fake.hits = []map[string]any{
		{"id": int64(1), "summary": "First widget bug", "status": "NEW", "severity": "high"},
		{"id": int64(2), "summary": "Second widget bug", "status": "ASSIGNED"},
	}
	bugProduct = "Widgets"
	bugCriteria = []string{"fixed_in=1.0"}
	bugLimit = 10

	require.NoError(t, bugSearchRun(context.Background()))
	assert.Contains(t, out.String(), "First widget bug")
	assert.Contains(t, out.String(), "ASSIGNED")

	require.Len(t, fake.searches, 1)
	criteria := fake.searches[0]
	assert.Equal(t, "Widgets", criteria["product"])
	assert.Equal(t, "1.0", criteria["cf_fixed_in"])
	assert.Equal(t, 10, criteria["limit"])
	assert.Equal(t, []string{"id", "status", "severity", "priority", "assigned_to", "summary"}, criteria["include_fields"])
	assert.NotContains(t, criteria, "component")
}

func TestBugSearch_NoResults(t *testing.T) {
	_, out := bugTestEnv(t)

	require.NoError(t, bugSearchRun(context.Background()))
	assert.Contains(t, out.String(), "No bugs found")
}

// ---------------------------------------------------------------------------
// bug update
// ---------------------------------------------------------------------------

func TestBugUpdate_Saves(t *testing.T) {
	fake, out := bugTestEnv(t)
	bugSets = []string{"summary=Still broken", "priority=low"}
	bugFlags = []string{"needinfo=X"}

	require.NoError(t, bugUpdateRun(context.Background(), "123"))
	assert.Contains(t, out.String(), "Updated bug 123")
	assert.Contains(t, out.String(), "summary: It's broken -> Still broken")

	require.Len(t, fake.updates, 1)
	sent := fake.updates[0]
	assert.Equal(t, "Still broken", sent["summary"])
	assert.NotContains(t, sent, "priority", "unchanged values are not sent")
	assert.Equal(t, []bugzilla.FlagUpdate{{Name: "needinfo", Status: bugzilla.FlagRemoved}}, sent["flags"])

	records := loggedUpdates(t, 123)
	require.Len(t, records, 1)
	assert.Equal(t, store.KindUpdate, records[0].Kind)
	assert.Equal(t, testServiceURL, records[0].ServiceURL)
	assert.Equal(t, "Still broken", records[0].Payload["summary"])
}

func TestBugUpdate_DryRun(t *testing.T) {
	fake, out := bugTestEnv(t)
	dryRun = true
	ui.DryRun = true
	bugSets = []string{"fixed_in=2.0"}

	require.NoError(t, bugUpdateRun(context.Background(), "123"))
	assert.Contains(t, out.String(), "fixed_in: 1.0 -> 2.0")
	assert.Contains(t, ui.ErrOut.(*bytes.Buffer).String(), "Would update bug 123")
	assert.Empty(t, fake.updates)
	assert.Empty(t, loggedUpdates(t, 123))
}

func TestBugUpdate_NoChange(t *testing.T) {
	fake, out := bugTestEnv(t)
	bugSets = []string{"status=NEW"}
	bugFlags = []string{"qa_ack+"}

	require.NoError(t, bugUpdateRun(context.Background(), "123"))
	assert.Contains(t, out.String(), "already has these values")
	assert.Empty(t, fake.updates)
}

func TestBugUpdate_UnknownAttribute(t *testing.T) {
	fake, _ := bugTestEnv(t)
	bugSets = []string{"bogus=1"}

	err := bugUpdateRun(context.Background(), "123")
	assert.ErrorIs(t, err, bugzilla.ErrUnknownAttribute)
	assert.Empty(t, fake.updates)
}

func TestBugUpdate_NothingGiven(t *testing.T) {
	bugTestEnv(t)

	err := bugUpdateRun(context.Background(), "123")
	assert.ErrorContains(t, err, "nothing to update")
}

// ---------------------------------------------------------------------------
// bug comment / clone / create
// ---------------------------------------------------------------------------

func TestBugComment(t *testing.T) {
	fake, out := bugTestEnv(t)
	bugText = "Fixed in 2.0"
	bugPrivate = true

	require.NoError(t, bugCommentRun(context.Background(), "123"))
	assert.Contains(t, out.String(), "Added comment 701 to bug 123")
	assert.Equal(t, []string{"Fixed in 2.0"}, fake.added)

	records := loggedUpdates(t, 123)
	require.Len(t, records, 1)
	assert.Equal(t, store.KindComment, records[0].Kind)
	assert.Equal(t, true, records[0].Payload["private"])
}

func TestBugComment_Empty(t *testing.T) {
	fake, _ := bugTestEnv(t)
	bugText = "   "

	err := bugCommentRun(context.Background(), "123")
	assert.ErrorContains(t, err, "empty")
	assert.Empty(t, fake.added)
}

func TestBugClone(t *testing.T) {
	fake, out := bugTestEnv(t)
	bugSets = []string{"fixed_in=2.0"}

	require.NoError(t, bugCloneRun(context.Background(), "123"))
	assert.Contains(t, out.String(), "Cloned bug 123 as bug 1001")

	require.Len(t, fake.creates, 1)
	params := fake.creates[0]
	assert.Equal(t, 123, params["cf_clone_of"])
	assert.Equal(t, "2.0", params["cf_fixed_in"])
	assert.Equal(t, "Widgets", params["product"])
	desc, _ := params["description"].(string)
	assert.True(t, strings.HasPrefix(desc, " +++ This bug was initially created as a clone of Bug #123 +++ \n"), desc)
	assert.Contains(t, desc, "Following comment by hobbes@example.com")

	records := loggedUpdates(t, 1001)
	require.Len(t, records, 1)
	assert.Equal(t, store.KindClone, records[0].Kind)
}

func TestBugCreate(t *testing.T) {
	fake, out := bugTestEnv(t)
	bugSets = []string{"summary=New crash", "product=Widgets", "component=Core"}
	bugFlags = []string{"needinfo?"}

	require.NoError(t, bugCreateRun(context.Background()))
	assert.Contains(t, out.String(), "Created bug 1001")

	require.Len(t, fake.creates, 1)
	params := fake.creates[0]
	assert.Equal(t, "New crash", params["summary"])
	assert.Equal(t, []bugzilla.FlagUpdate{{Name: "needinfo", Status: "?"}}, params["flags"])
}

func TestBugCreate_DryRun(t *testing.T) {
	fake, _ := bugTestEnv(t)
	dryRun = true
	ui.DryRun = true
	bugSets = []string{"summary=New crash"}

	require.NoError(t, bugCreateRun(context.Background()))
	assert.Empty(t, fake.creates)
}

// ---------------------------------------------------------------------------
// fields / log / wiring
// ---------------------------------------------------------------------------

func TestFields_UsesCache(t *testing.T) {
	fake, out := bugTestEnv(t)

	require.NoError(t, fieldsRun(context.Background()))
	assert.Contains(t, out.String(), "fixed_in")
	assert.Contains(t, out.String(), "Verified On")
	assert.Equal(t, 1, fake.fieldsCalls)

	// A new session reads the catalog from disk.
	session = nil
	require.NoError(t, fieldsRun(context.Background()))
	assert.Equal(t, 1, fake.fieldsCalls)

	session = nil
	fieldsRefresh = true
	t.Cleanup(func() { fieldsRefresh = false })
	require.NoError(t, fieldsRun(context.Background()))
	assert.Equal(t, 2, fake.fieldsCalls)
}

func TestFields_CacheDisabled(t *testing.T) {
	fake, _ := bugTestEnv(t)
	viper.Set("cache.fields", false)

	require.NoError(t, fieldsRun(context.Background()))
	session = nil
	require.NoError(t, fieldsRun(context.Background()))
	assert.Equal(t, 2, fake.fieldsCalls)
	assert.Nil(t, fieldSource)
}

func TestLog(t *testing.T) {
	_, out := bugTestEnv(t)

	require.NoError(t, logRun(context.Background(), ""))
	assert.Contains(t, out.String(), "No updates logged")

	bugText = "noted"
	require.NoError(t, bugCommentRun(context.Background(), "123"))

	out.Reset()
	require.NoError(t, logRun(context.Background(), "123"))
	assert.Contains(t, out.String(), "comment")
	assert.Contains(t, out.String(), "noted")
}

func TestGetSchema_NoURL(t *testing.T) {
	testEnv(t)

	_, err := getSchema()
	assert.ErrorContains(t, err, "bugzilla.url is not set")
}

func TestGetSchema_InvalidURL(t *testing.T) {
	testEnv(t)
	viper.Set("bugzilla.url", "bugzilla.example.com")

	_, err := getSchema()
	assert.ErrorIs(t, err, bugzilla.ErrInvalidArgument)
}
