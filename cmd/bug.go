package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/bz/internal/bugzilla"
	"github.com/joescharf/bz/internal/output"
	"github.com/joescharf/bz/internal/store"
)

var (
	bugOutput    string
	bugComments  bool
	bugSets      []string
	bugFlags     []string
	bugText      string
	bugPrivate   bool
	bugProduct   string
	bugComponent string
	bugStatus    string
	bugAssignee  string
	bugSummary   string
	bugCriteria  []string
	bugLimit     int
)

// searchColumns are the attributes requested for search results.
var searchColumns = []string{"id", "status", "severity", "priority", "assigned_to", "summary"}

var bugCmd = &cobra.Command{
	Use:   "bug",
	Short: "Show, search, and edit bugs",
}

var bugShowCmd = &cobra.Command{
	Use:   "show <bug-id>",
	Short: "Show a bug's attributes, flags, and comments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugShowRun(cmd.Context(), args[0])
	},
}

var bugSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search bugs",
	Long: `Search bugs. Criteria use attribute names; --field adds any other
criterion (e.g. --field keywords=Triaged).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugSearchRun(cmd.Context())
	},
}

var bugUpdateCmd = &cobra.Command{
	Use:   "update <bug-id>",
	Short: "Change attributes and flags",
	Long: `Change attributes with --set name=value and flags with --flag name=status
(status is +, -, or ?; X or an empty status clears the flag). Only values
that differ from the bug's current ones are sent.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugUpdateRun(cmd.Context(), args[0])
	},
}

var bugCommentCmd = &cobra.Command{
	Use:   "comment <bug-id>",
	Short: "Add a comment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugCommentRun(cmd.Context(), args[0])
	},
}

var bugCloneCmd = &cobra.Command{
	Use:   "clone <bug-id>",
	Short: "Clone a bug, folding its comments into the new description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugCloneRun(cmd.Context(), args[0])
	},
}

var bugCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "File a new bug",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugCreateRun(cmd.Context())
	},
}

func init() {
	bugShowCmd.Flags().StringVarP(&bugOutput, "output", "o", "table", "Output format: table, yaml, json")
	bugShowCmd.Flags().BoolVar(&bugComments, "comments", true, "Include comments")

	bugSearchCmd.Flags().StringVar(&bugProduct, "product", "", "Product")
	bugSearchCmd.Flags().StringVar(&bugComponent, "component", "", "Component")
	bugSearchCmd.Flags().StringVar(&bugStatus, "status", "", "Status, e.g. NEW")
	bugSearchCmd.Flags().StringVar(&bugAssignee, "assignee", "", "Assignee login")
	bugSearchCmd.Flags().StringVar(&bugSummary, "summary", "", "Text the summary must contain")
	bugSearchCmd.Flags().StringArrayVar(&bugCriteria, "field", nil, "Extra criterion name=value (repeatable)")
	bugSearchCmd.Flags().IntVar(&bugLimit, "limit", 50, "Maximum number of results (0 for no limit)")

	bugUpdateCmd.Flags().StringArrayVar(&bugSets, "set", nil, "Attribute change name=value (repeatable)")
	bugUpdateCmd.Flags().StringArrayVar(&bugFlags, "flag", nil, "Flag change name=status (repeatable)")

	bugCommentCmd.Flags().StringVar(&bugText, "text", "", "Comment text (required)")
	bugCommentCmd.Flags().BoolVar(&bugPrivate, "private", false, "Mark the comment private")
	_ = bugCommentCmd.MarkFlagRequired("text")

	bugCloneCmd.Flags().StringArrayVar(&bugSets, "set", nil, "Override name=value on the clone (repeatable)")

	bugCreateCmd.Flags().StringArrayVar(&bugSets, "set", nil, "Attribute name=value (repeatable)")
	bugCreateCmd.Flags().StringArrayVar(&bugFlags, "flag", nil, "Flag name=status (repeatable)")

	bugCmd.AddCommand(bugShowCmd)
	bugCmd.AddCommand(bugSearchCmd)
	bugCmd.AddCommand(bugUpdateCmd)
	bugCmd.AddCommand(bugCommentCmd)
	bugCmd.AddCommand(bugCloneCmd)
	bugCmd.AddCommand(bugCreateCmd)
	rootCmd.AddCommand(bugCmd)
}

// --- show ---

type commentView struct {
	Count     int       `json:"count" yaml:"count"`
	Author    string    `json:"author" yaml:"author"`
	CreatedOn time.Time `json:"created_on" yaml:"created_on"`
	Private   bool      `json:"private,omitempty" yaml:"private,omitempty"`
	Text      string    `json:"text" yaml:"text"`
}

type bugView struct {
	ID         int               `json:"id" yaml:"id"`
	Attributes map[string]any    `json:"attributes" yaml:"attributes"`
	Flags      map[string]string `json:"flags" yaml:"flags"`
	Comments   []commentView     `json:"comments,omitempty" yaml:"comments,omitempty"`
}

func bugShowRun(ctx context.Context, ref string) error {
	bug, err := loadBug(ctx, ref)
	if err != nil {
		return err
	}
	if err := bug.Fetch(ctx); err != nil {
		return fmt.Errorf("load bug %d: %w", bug.ID(), err)
	}

	view := bugView{ID: bug.ID(), Attributes: make(map[string]any)}
	for _, name := range bug.AttributeNames() {
		if name == "id" || name == "flags" {
			continue
		}
		v, err := bug.Attribute(ctx, name)
		if err != nil {
			return err
		}
		if v != nil {
			view.Attributes[name] = v
		}
	}
	if view.Flags, err = bug.Flags(ctx); err != nil {
		return err
	}
	if bugComments {
		comments, err := bug.Comments(ctx)
		if err != nil {
			return fmt.Errorf("load comments: %w", err)
		}
		for _, c := range comments {
			view.Comments = append(view.Comments, commentView{
				Count:     c.Count,
				Author:    c.CreatedBy,
				CreatedOn: c.CreatedOn,
				Private:   c.Private,
				Text:      c.Text,
			})
		}
	}

	switch bugOutput {
	case "json":
		data, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(ui.Out, string(data))
		return nil
	case "yaml":
		data, err := yaml.Marshal(view)
		if err != nil {
			return err
		}
		fmt.Fprint(ui.Out, string(data))
		return nil
	case "table", "":
	default:
		return fmt.Errorf("unknown output format %q (use table, yaml, or json)", bugOutput)
	}

	summary, _ := view.Attributes["summary"].(string)
	fmt.Fprintf(ui.Out, "%s %s\n", output.Cyan(fmt.Sprintf("Bug %d:", view.ID)), summary)
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"Attribute", "Value"})
	for _, name := range slices.Sorted(maps.Keys(view.Attributes)) {
		if name == "summary" {
			continue
		}
		_ = table.Append([]string{name, attributeCell(name, view.Attributes[name])})
	}
	_ = table.Render()

	if len(view.Flags) > 0 {
		parts := make([]string, 0, len(view.Flags))
		for _, name := range slices.Sorted(maps.Keys(view.Flags)) {
			parts = append(parts, output.FlagColor(name, view.Flags[name]))
		}
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "Flags: %s\n", strings.Join(parts, ", "))
	}

	for _, c := range view.Comments {
		fmt.Fprintln(ui.Out)
		header := fmt.Sprintf("Comment %d by %s on %s", c.Count, c.Author, c.CreatedOn.Format(time.DateTime))
		if c.Private {
			header += " " + output.Red("(private)")
		}
		fmt.Fprintln(ui.Out, output.Cyan(header))
		fmt.Fprintln(ui.Out, c.Text)
	}
	return nil
}

func attributeCell(name string, v any) string {
	switch x := v.(type) {
	case string:
		switch name {
		case "status":
			return output.StatusColor(x)
		case "severity", "priority":
			return output.SeverityColor(x)
		}
		return x
	case time.Time:
		return x.Format(time.DateTime)
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}

// --- search ---

func bugSearchRun(ctx context.Context) error {
	schema, err := getSchema()
	if err != nil {
		return err
	}

	criteria, err := parseAssignments(bugCriteria)
	if err != nil {
		return err
	}
	for key, value := range map[string]string{
		"product":     bugProduct,
		"component":   bugComponent,
		"status":      bugStatus,
		"assigned_to": bugAssignee,
		"summary":     bugSummary,
	} {
		if value != "" {
			criteria[key] = value
		}
	}
	if bugLimit > 0 {
		criteria["limit"] = bugLimit
	}
	criteria["include_fields"] = searchColumns

	rows, err := schema.Search(ctx, criteria)
	if err != nil {
		return fmt.Errorf("search bugs: %w", err)
	}
	if len(rows) == 0 {
		ui.Info("No bugs found")
		return nil
	}

	table := ui.Table([]string{"ID", "Status", "Severity", "Priority", "Assignee", "Summary"})
	for _, row := range rows {
		_ = table.Append([]string{
			fmt.Sprint(row["id"]),
			output.StatusColor(stringCell(row["status"])),
			output.SeverityColor(stringCell(row["severity"])),
			output.SeverityColor(stringCell(row["priority"])),
			stringCell(row["assigned_to"]),
			stringCell(row["summary"]),
		})
	}
	_ = table.Render()
	ui.VerboseLog("%d bugs", len(rows))
	return nil
}

func stringCell(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// --- update ---

func bugUpdateRun(ctx context.Context, ref string) error {
	sets, err := parseAssignments(bugSets)
	if err != nil {
		return err
	}
	flags, err := parseFlags(bugFlags)
	if err != nil {
		return err
	}
	if len(sets) == 0 && len(flags) == 0 {
		return fmt.Errorf("nothing to update: use --set name=value or --flag name=status")
	}

	bug, err := loadBug(ctx, ref)
	if err != nil {
		return err
	}
	// Current values make the change list exact.
	if err := bug.Fetch(ctx); err != nil {
		return fmt.Errorf("load bug %d: %w", bug.ID(), err)
	}

	for _, name := range slices.Sorted(maps.Keys(sets)) {
		if err := bug.Set(ctx, name, sets[name]); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(flags)) {
		if err := bug.SetFlag(ctx, name, flags[name]); err != nil {
			return fmt.Errorf("set flag %s: %w", name, err)
		}
	}

	changes := bug.Changes()
	if len(changes) == 0 {
		ui.Info("Bug %d already has these values", bug.ID())
		return nil
	}

	payload := make(map[string]any, len(changes))
	for _, name := range slices.Sorted(maps.Keys(changes)) {
		change := changes[name]
		fmt.Fprintf(ui.Out, "  %s\n", output.ChangeLine(name, change.Old, change.New))
		payload[name] = change.New
	}

	if dryRun {
		ui.DryRunMsg("Would update bug %d", bug.ID())
		return nil
	}

	if err := bug.Save(ctx); err != nil {
		return fmt.Errorf("update bug %d: %w", bug.ID(), err)
	}
	recordUpdate(ctx, bug.ID(), store.KindUpdate, payload)
	ui.Success("Updated bug %d", bug.ID())
	return nil
}

// --- comment ---

func bugCommentRun(ctx context.Context, ref string) error {
	if strings.TrimSpace(bugText) == "" {
		return fmt.Errorf("comment text is empty")
	}
	bug, err := loadBug(ctx, ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would comment on bug %d (private: %t)", bug.ID(), bugPrivate)
		return nil
	}

	commentID, err := bug.AddComment(ctx, bugText, bugPrivate)
	if err != nil {
		return fmt.Errorf("comment on bug %d: %w", bug.ID(), err)
	}
	recordUpdate(ctx, bug.ID(), store.KindComment, map[string]any{"comment_id": commentID, "private": bugPrivate, "text": bugText})
	ui.Success("Added comment %d to bug %d", commentID, bug.ID())
	return nil
}

// --- clone ---

func bugCloneRun(ctx context.Context, ref string) error {
	id, err := bugzilla.ParseID(ref)
	if err != nil {
		return err
	}
	overrides, err := parseAssignments(bugSets)
	if err != nil {
		return err
	}
	schema, err := getSchema()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would clone bug %d", id)
		return nil
	}

	newID, err := schema.Clone(ctx, id, overrides)
	if err != nil {
		return fmt.Errorf("clone bug %d: %w", id, err)
	}
	payload := maps.Clone(overrides)
	payload["clone_of"] = id
	recordUpdate(ctx, newID, store.KindClone, payload)
	ui.Success("Cloned bug %d as bug %d", id, newID)
	return nil
}

// --- create ---

func bugCreateRun(ctx context.Context) error {
	attrs, err := parseAssignments(bugSets)
	if err != nil {
		return err
	}
	if len(attrs) == 0 {
		return fmt.Errorf("nothing to create: use --set name=value")
	}
	flags, err := parseFlags(bugFlags)
	if err != nil {
		return err
	}
	if len(flags) > 0 {
		attrs["flags"] = flags
	}

	schema, err := getSchema()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create a bug with %s", strings.Join(slices.Sorted(maps.Keys(attrs)), ", "))
		return nil
	}

	bug, err := schema.Create(ctx, attrs)
	if err != nil {
		return fmt.Errorf("create bug: %w", err)
	}
	recordUpdate(ctx, bug.ID(), store.KindCreate, attrs)
	ui.Success("Created bug %d", bug.ID())
	return nil
}

// --- helpers ---

func loadBug(ctx context.Context, ref string) (*bugzilla.Bug, error) {
	id, err := bugzilla.ParseID(ref)
	if err != nil {
		return nil, err
	}
	schema, err := getSchema()
	if err != nil {
		return nil, err
	}
	return schema.Bug(ctx, id)
}

// parseAssignments turns name=value pairs into a map. Values stay strings.
func parseAssignments(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q: want name=value", pair)
		}
		out[name] = value
	}
	return out, nil
}

// parseFlags accepts name=status as well as the name+, name-, name? shorthand.
// X or an empty status clears the flag.
func parseFlags(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, status, ok := strings.Cut(pair, "=")
		if !ok && pair != "" && strings.ContainsAny(pair[len(pair)-1:], "+-?") {
			name, status, ok = pair[:len(pair)-1], pair[len(pair)-1:], true
		}
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid flag %q: want name=status", pair)
		}
		switch status {
		case "+", "-", "?":
		case "", bugzilla.FlagRemoved:
			status = ""
		default:
			return nil, fmt.Errorf("invalid flag status %q for %s: want +, -, ?, or X", status, name)
		}
		out[name] = status
	}
	return out, nil
}
