package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/bz/internal/bugzilla"
	"github.com/joescharf/bz/internal/store"
)

// searchFields are the attributes returned for each search hit.
var searchFields = []string{"id", "summary", "status", "resolution", "severity", "priority", "assigned_to", "product", "component"}

// Server exposes a Bugzilla session as MCP tools.
type Server struct {
	schema     *bugzilla.Schema
	store      store.Store
	serviceURL string
	version    string
	logger     *slog.Logger
}

// NewServer creates the MCP server wrapper. st may be nil, in which case
// updates are not recorded.
func NewServer(schema *bugzilla.Schema, st store.Store, serviceURL, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}
	return &Server{
		schema:     schema,
		store:      st,
		serviceURL: serviceURL,
		version:    version,
		logger:     logger,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("bz", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.getBugTool())
	srv.AddTool(s.searchBugsTool())
	srv.AddTool(s.updateBugTool())
	srv.AddTool(s.addCommentTool())
	srv.AddTool(s.listFieldsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// bz_get_bug
func (s *Server) getBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bz_get_bug",
		mcp.WithDescription("Get a bug by id. Returns a JSON object of attributes (local names), the flags mapping, and optionally comments."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Bug id")),
		mcp.WithArray("fields", mcp.Items(map[string]any{"type": "string"}),
			mcp.Description("Attribute names to return; all default attributes when omitted")),
		mcp.WithBoolean("comments", mcp.Description("Include comments")),
	)
	return tool, s.handleGetBug
}

func (s *Server) handleGetBug(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bug, errResult := s.requireBug(ctx, request)
	if errResult != nil {
		return errResult, nil
	}

	fields := request.GetStringSlice("fields", nil)
	if len(fields) == 0 {
		if err := bug.Fetch(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to load bug %d: %v", bug.ID(), err)), nil
		}
		fields = bug.AttributeNames()
	}

	out := make(map[string]any, len(fields)+2)
	for _, name := range fields {
		v, err := bug.Attribute(ctx, name)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read %s: %v", name, err)), nil
		}
		out[name] = v
	}
	out["id"] = bug.ID()

	if request.GetBool("comments", false) {
		comments, err := bug.Comments(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to load comments: %v", err)), nil
		}
		type commentOut struct {
			Count     int    `json:"count"`
			Author    string `json:"author"`
			CreatedOn string `json:"created_on"`
			Private   bool   `json:"private"`
			Text      string `json:"text"`
		}
		list := make([]commentOut, 0, len(comments))
		for _, c := range comments {
			list = append(list, commentOut{
				Count:     c.Count,
				Author:    c.CreatedBy,
				CreatedOn: c.CreatedOn.UTC().Format("2006-01-02T15:04:05Z"),
				Private:   c.Private,
				Text:      c.Text,
			})
		}
		out["comments"] = list
	}

	return jsonResult(out)
}

// bz_search_bugs
func (s *Server) searchBugsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bz_search_bugs",
		mcp.WithDescription("Search bugs. Returns a JSON array with id, summary, status, resolution, severity, priority, assignee, product, and component."),
		mcp.WithString("product", mcp.Description("Product name")),
		mcp.WithString("component", mcp.Description("Component name")),
		mcp.WithString("status", mcp.Description("Bug status, e.g. NEW or ASSIGNED")),
		mcp.WithString("assigned_to", mcp.Description("Assignee login")),
		mcp.WithString("summary", mcp.Description("Text the summary must contain")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 50)")),
	)
	return tool, s.handleSearchBugs
}

func (s *Server) handleSearchBugs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	criteria := map[string]any{
		"include_fields": searchFields,
		"limit":          request.GetInt("limit", 50),
	}
	for _, key := range []string{"product", "component", "status", "assigned_to", "summary"} {
		if v := request.GetString(key, ""); v != "" {
			criteria[key] = v
		}
	}

	rows, err := s.schema.Search(ctx, criteria)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		hit := make(map[string]any, len(searchFields))
		for _, name := range searchFields {
			if v, ok := row[name]; ok {
				hit[name] = v
			}
		}
		out = append(out, hit)
	}
	return jsonResult(out)
}

// bz_update_bug
func (s *Server) updateBugTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bz_update_bug",
		mcp.WithDescription("Update a bug. Attribute changes use local names (summary, priority, fixed_in, ...). Only attributes that actually change are sent."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Bug id")),
		mcp.WithObject("changes", mcp.Description("Attribute name to new value")),
		mcp.WithObject("flags", mcp.Description("Flag name to status (+, -, ?); an empty status or X clears the flag")),
		mcp.WithBoolean("dry_run", mcp.Description("Report the pending changes without saving")),
	)
	return tool, s.handleUpdateBug
}

func (s *Server) handleUpdateBug(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bug, errResult := s.requireBug(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	if err := bug.Fetch(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load bug %d: %v", bug.ID(), err)), nil
	}
	args := request.GetArguments()

	changes, _ := args["changes"].(map[string]any)
	for _, name := range slices.Sorted(maps.Keys(changes)) {
		if err := bug.Set(ctx, name, changes[name]); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("cannot set %s: %v", name, err)), nil
		}
	}

	flags, _ := args["flags"].(map[string]any)
	for _, name := range slices.Sorted(maps.Keys(flags)) {
		status, _ := flags[name].(string)
		if status == bugzilla.FlagRemoved {
			status = ""
		}
		if err := bug.SetFlag(ctx, name, status); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("cannot set flag %s: %v", name, err)), nil
		}
	}

	pending := bug.Changes()
	payload := make(map[string]any, len(pending))
	for name, change := range pending {
		payload[name] = change.New
	}
	changed := slices.Sorted(maps.Keys(payload))

	if len(changed) == 0 {
		return jsonResult(map[string]any{"id": bug.ID(), "changed": changed, "saved": false})
	}
	if request.GetBool("dry_run", false) {
		return jsonResult(map[string]any{"id": bug.ID(), "changed": changed, "changes": pending, "saved": false})
	}

	if err := bug.Save(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save bug %d: %v", bug.ID(), err)), nil
	}
	s.record(ctx, bug.ID(), store.KindUpdate, payload)

	return jsonResult(map[string]any{"id": bug.ID(), "changed": changed, "saved": true})
}

// bz_add_comment
func (s *Server) addCommentTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bz_add_comment",
		mcp.WithDescription("Add a comment to a bug. Returns the new comment id."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Bug id")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Comment text")),
		mcp.WithBoolean("private", mcp.Description("Mark the comment private")),
	)
	return tool, s.handleAddComment
}

func (s *Server) handleAddComment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil || text == "" {
		return mcp.NewToolResultError("missing required parameter: text"), nil
	}
	bug, errResult := s.requireBug(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	private := request.GetBool("private", false)

	commentID, err := bug.AddComment(ctx, text, private)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to comment on bug %d: %v", bug.ID(), err)), nil
	}
	s.record(ctx, bug.ID(), store.KindComment, map[string]any{"text": text, "private": private})

	return jsonResult(map[string]any{"id": bug.ID(), "comment_id": commentID})
}

// bz_list_fields
func (s *Server) listFieldsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bz_list_fields",
		mcp.WithDescription("List the attribute names usable with the other tools, with their remote field names."),
	)
	return tool, s.handleListFields
}

func (s *Server) handleListFields(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := s.schema.AttributeMap(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load fields: %v", err)), nil
	}
	fields, err := s.schema.Fields(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load fields: %v", err)), nil
	}
	display := make(map[string]string, len(fields))
	for _, f := range fields {
		display[f.Name] = f.DisplayName
	}

	type fieldOut struct {
		Name        string `json:"name"`
		Remote      string `json:"remote"`
		DisplayName string `json:"display_name,omitempty"`
		Timestamp   bool   `json:"timestamp"`
	}
	out := make([]fieldOut, 0, len(m.Names()))
	for _, name := range m.Names() {
		remote, _ := m.Remote(name)
		out = append(out, fieldOut{
			Name:        name,
			Remote:      remote,
			DisplayName: display[remote],
			Timestamp:   m.IsTimestamp(remote),
		})
	}
	return jsonResult(out)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// requireBug resolves the "id" argument to an un-hydrated Bug.
func (s *Server) requireBug(ctx context.Context, request mcp.CallToolRequest) (*bugzilla.Bug, *mcp.CallToolResult) {
	id, err := request.RequireInt("id")
	if err != nil {
		return nil, mcp.NewToolResultError("missing required parameter: id")
	}
	bug, err := s.schema.Bug(ctx, id)
	if err != nil {
		if errors.Is(err, bugzilla.ErrInvalidArgument) {
			return nil, mcp.NewToolResultError(fmt.Sprintf("invalid bug id: %d", id))
		}
		return nil, mcp.NewToolResultError(fmt.Sprintf("failed to load bug %d: %v", id, err))
	}
	return bug, nil
}

// record writes to the update log. Failures are logged, never returned.
func (s *Server) record(ctx context.Context, bugID int, kind string, payload map[string]any) {
	if s.store == nil {
		return
	}
	rec := &store.UpdateRecord{BugID: bugID, ServiceURL: s.serviceURL, Kind: kind, Payload: payload}
	if err := s.store.LogUpdate(ctx, rec); err != nil {
		s.logger.Warn("update not logged", "bug_id", bugID, "error", err)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
