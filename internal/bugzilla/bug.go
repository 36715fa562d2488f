package bugzilla

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"
)

// Bug is a single remote bug. Attributes load lazily, one field per fetch,
// and edits are change-tracked so Save sends only what changed. A Bug is not
// safe for concurrent use.
type Bug struct {
	id     int
	schema *Schema
	attrs  *AttributeMap

	values  map[string]any
	tracker *ChangeTracker

	// raw is the local-named default payload loaded by Fetch.
	raw map[string]any

	flagObjects       []Flag
	flagObjectsLoaded bool
	flags             *FlagSet

	comments       []Comment
	commentsLoaded bool
}

func newBug(s *Schema, m *AttributeMap, attrs map[string]any) (*Bug, error) {
	id, ok := asInt(attrs["id"])
	if !ok || id < 0 {
		return nil, fmt.Errorf("%w: bug id must be a non-negative integer, got %v", ErrInvalidArgument, attrs["id"])
	}
	b := &Bug{
		id:      id,
		schema:  s,
		attrs:   m,
		values:  make(map[string]any),
		tracker: NewChangeTracker(),
	}
	for key, value := range attrs {
		if key == "id" || !m.Has(key) {
			continue
		}
		if key == "flags" {
			b.flags = NewFlagSet(flagMapValue(value, id))
			continue
		}
		b.values[key] = value
	}
	return b, nil
}

// ID returns the bug id.
func (b *Bug) ID() int {
	return b.id
}

// AttributeNames returns the local attribute names, sorted.
func (b *Bug) AttributeNames() []string {
	return b.attrs.Names()
}

func (b *Bug) service() Service {
	return b.schema.svc
}

// Attribute returns the value of a local attribute, fetching that single
// field on first access.
func (b *Bug) Attribute(ctx context.Context, name string) (any, error) {
	if name == "id" {
		return b.id, nil
	}
	if !b.attrs.Has(name) {
		return nil, &UnknownAttributeError{Name: name}
	}
	if name == "flags" {
		return b.Flags(ctx)
	}
	if v, ok := b.values[name]; ok {
		return v, nil
	}
	v, err := b.fetchAttribute(ctx, name)
	if err != nil {
		return nil, err
	}
	b.values[name] = v
	return v, nil
}

// Hydrated reports whether name already has a local value.
func (b *Bug) Hydrated(name string) bool {
	_, ok := b.values[name]
	return ok
}

func (b *Bug) fetchAttribute(ctx context.Context, name string) (any, error) {
	if v, ok := b.raw[name]; ok {
		return v, nil
	}
	remote, _ := b.attrs.Remote(name)
	row, err := b.getOne(ctx, []string{remote})
	if err != nil {
		return nil, err
	}
	return b.attrs.FromService(row)[name], nil
}

func (b *Bug) getOne(ctx context.Context, include []string) (map[string]any, error) {
	rows, err := b.service().Get(ctx, []int{b.id}, include)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, b.id)
	}
	return rows[0], nil
}

// Fetch loads every default attribute in one round trip. Attributes already
// hydrated locally keep their values.
func (b *Bug) Fetch(ctx context.Context) error {
	row, err := b.getOne(ctx, b.attrs.DefaultServiceFields())
	if err != nil {
		return err
	}
	raw := b.attrs.FromService(row)
	b.raw = raw
	// Requested fields the server left out are hydrated as nil.
	for _, name := range b.attrs.Names() {
		if name == "id" || name == "flags" {
			continue
		}
		if remote, _ := b.attrs.Remote(name); remote == "comments" {
			continue
		}
		if _, ok := b.values[name]; !ok {
			b.values[name] = raw[name]
		}
	}
	if rawFlags, ok := raw["flags"]; ok {
		if !b.flagObjectsLoaded {
			b.flagObjects = FlagsFromRaw(rawFlags, b.id)
			b.flagObjectsLoaded = true
		}
		if b.flags == nil {
			b.flags = NewFlagSet(FlagMap(b.flagObjects))
		}
	}
	return nil
}

// Set writes a local attribute. The first write that differs from the
// current value marks it changed. An attribute that is not loaded yet is
// read from the service first, so the recorded original is the server's.
func (b *Bug) Set(ctx context.Context, name string, value any) error {
	if name == "id" {
		return fmt.Errorf("%w: id is immutable", ErrInvalidArgument)
	}
	if !b.attrs.Has(name) {
		return &UnknownAttributeError{Name: name}
	}
	if name == "flags" {
		flags, err := flagMapArg(value)
		if err != nil {
			return err
		}
		fs, err := b.flagSet(ctx)
		if err != nil {
			return err
		}
		fs.Replace(flags)
		return nil
	}
	current, err := b.Attribute(ctx, name)
	if err != nil {
		return err
	}
	b.tracker.Write(name, current, value)
	b.values[name] = value
	return nil
}

// --- typed accessors ---

// StringValue returns an attribute as a string.
func (b *Bug) StringValue(ctx context.Context, name string) (string, error) {
	v, err := b.Attribute(ctx, name)
	if err != nil {
		return "", err
	}
	return asString(v), nil
}

// StringsValue returns a list-valued attribute.
func (b *Bug) StringsValue(ctx context.Context, name string) ([]string, error) {
	v, err := b.Attribute(ctx, name)
	if err != nil {
		return nil, err
	}
	return asStrings(v), nil
}

// IntValue returns an integer attribute; zero when unset.
func (b *Bug) IntValue(ctx context.Context, name string) (int, error) {
	v, err := b.Attribute(ctx, name)
	if err != nil {
		return 0, err
	}
	n, _ := asInt(v)
	return n, nil
}

// IntsValue returns a list of integers, such as bug ids.
func (b *Bug) IntsValue(ctx context.Context, name string) ([]int, error) {
	v, err := b.Attribute(ctx, name)
	if err != nil {
		return nil, err
	}
	var out []int
	if list, ok := v.([]any); ok {
		for _, item := range list {
			if n, ok := asInt(item); ok {
				out = append(out, n)
			}
		}
	} else if list, ok := v.([]int); ok {
		out = slices.Clone(list)
	}
	return out, nil
}

// TimeValue returns a timestamp attribute; zero when unset.
func (b *Bug) TimeValue(ctx context.Context, name string) (time.Time, error) {
	v, err := b.Attribute(ctx, name)
	if err != nil {
		return time.Time{}, err
	}
	t, _ := NormalizeTimestamp(v)
	return t, nil
}

// Summary returns the one-line description.
func (b *Bug) Summary(ctx context.Context) (string, error) {
	return b.StringValue(ctx, "summary")
}

// Status returns the workflow state, such as NEW or CLOSED.
func (b *Bug) Status(ctx context.Context) (string, error) {
	return b.StringValue(ctx, "status")
}

// Resolution is empty while the bug is open.
func (b *Bug) Resolution(ctx context.Context) (string, error) {
	return b.StringValue(ctx, "resolution")
}

// Severity returns the bug severity.
func (b *Bug) Severity(ctx context.Context) (string, error) {
	return b.StringValue(ctx, "severity")
}

// Priority returns the bug priority.
func (b *Bug) Priority(ctx context.Context) (string, error) {
	return b.StringValue(ctx, "priority")
}

// Product returns the product the bug is filed against.
func (b *Bug) Product(ctx context.Context) (string, error) {
	return b.StringValue(ctx, "product")
}

// Component returns the product component.
func (b *Bug) Component(ctx context.Context) (string, error) {
	return b.StringValue(ctx, "component")
}

// AssignedTo returns the assignee's login.
func (b *Bug) AssignedTo(ctx context.Context) (string, error) {
	return b.StringValue(ctx, "assigned_to")
}

// CreatedBy returns the reporter's login.
func (b *Bug) CreatedBy(ctx context.Context) (string, error) {
	return b.StringValue(ctx, "created_by")
}

// Keywords returns the bug's keywords.
func (b *Bug) Keywords(ctx context.Context) ([]string, error) {
	return b.StringsValue(ctx, "keywords")
}

// DependsOn returns the ids this bug depends on.
func (b *Bug) DependsOn(ctx context.Context) ([]int, error) {
	return b.IntsValue(ctx, "depends_on")
}

// Blocks returns the ids this bug blocks.
func (b *Bug) Blocks(ctx context.Context) ([]int, error) {
	return b.IntsValue(ctx, "blocks")
}

// DuplicateID is zero unless the bug was closed as a duplicate.
func (b *Bug) DuplicateID(ctx context.Context) (int, error) {
	return b.IntValue(ctx, "duplicate_id")
}

// CreatedOn returns when the bug was filed.
func (b *Bug) CreatedOn(ctx context.Context) (time.Time, error) {
	return b.TimeValue(ctx, "created_on")
}

// UpdatedOn returns the last change time.
func (b *Bug) UpdatedOn(ctx context.Context) (time.Time, error) {
	return b.TimeValue(ctx, "updated_on")
}

// --- flags ---

// FlagObjects returns the bug's flags as reported by the service, loading
// them on first access.
func (b *Bug) FlagObjects(ctx context.Context) ([]Flag, error) {
	if !b.flagObjectsLoaded {
		raw, ok := b.raw["flags"]
		if !ok {
			row, err := b.getOne(ctx, []string{"flags"})
			if err != nil {
				return nil, err
			}
			raw = row["flags"]
		}
		b.flagObjects = FlagsFromRaw(raw, b.id)
		b.flagObjectsLoaded = true
	}
	return slices.Clone(b.flagObjects), nil
}

func (b *Bug) flagSet(ctx context.Context) (*FlagSet, error) {
	if b.flags != nil {
		return b.flags, nil
	}
	objects, err := b.FlagObjects(ctx)
	if err != nil {
		return nil, err
	}
	b.flags = NewFlagSet(FlagMap(objects))
	return b.flags, nil
}

// Flags returns a copy of the editable name->status mapping.
func (b *Bug) Flags(ctx context.Context) (map[string]string, error) {
	fs, err := b.flagSet(ctx)
	if err != nil {
		return nil, err
	}
	return fs.Map(), nil
}

// SetFlag sets one flag's status. An empty status clears the flag.
func (b *Bug) SetFlag(ctx context.Context, name, status string) error {
	if name == "" {
		return fmt.Errorf("%w: flag name is empty", ErrInvalidArgument)
	}
	fs, err := b.flagSet(ctx)
	if err != nil {
		return err
	}
	fs.Set(name, status)
	return nil
}

// ClearFlag removes a flag.
func (b *Bug) ClearFlag(ctx context.Context, name string) error {
	return b.SetFlag(ctx, name, "")
}

// FlagsRawUpdates lists the final status of every changed flag, with
// cleared flags reported as FlagRemoved.
func (b *Bug) FlagsRawUpdates() []FlagUpdate {
	if b.flags == nil {
		return nil
	}
	return b.flags.RawUpdates()
}

// FlagChanges returns the per-flag change view.
func (b *Bug) FlagChanges() map[string]FlagChange {
	if b.flags == nil {
		return map[string]FlagChange{}
	}
	return b.flags.Changes()
}

// ResetFlags drops cached flags; they are derived again on next access.
func (b *Bug) ResetFlags() {
	b.flagObjects = nil
	b.flagObjectsLoaded = false
	b.flags = nil
}

// --- comments ---

// Comments returns the bug's comments ordered by Count, loading them once.
func (b *Bug) Comments(ctx context.Context) ([]Comment, error) {
	if !b.commentsLoaded {
		raw, ok := b.raw["comments"]
		if !ok || raw == nil {
			var err error
			raw, err = b.fetchComments(ctx)
			if err != nil {
				return nil, err
			}
		}
		b.comments = CommentsFromRaw(raw)
		b.commentsLoaded = true
	}
	return slices.Clone(b.comments), nil
}

func (b *Bug) fetchComments(ctx context.Context) (any, error) {
	rec, err := b.service().Comments(ctx, []int{b.id})
	if err != nil {
		return nil, err
	}
	bugs, _ := rec["bugs"].(map[string]any)
	entry, _ := bugs[strconv.Itoa(b.id)].(map[string]any)
	return entry["comments"], nil
}

// AddComment posts a comment and reloads the bug. It returns the new
// comment's id.
func (b *Bug) AddComment(ctx context.Context, text string, private bool) (int, error) {
	if text == "" {
		return 0, fmt.Errorf("%w: comment text is empty", ErrInvalidArgument)
	}
	commentID, err := b.service().AddComment(ctx, b.id, text, private)
	if err != nil {
		return 0, err
	}
	b.schema.logger.Info("comment added", "bug_id", b.id, "comment_id", commentID, "private", private)
	b.Reload()
	return commentID, nil
}

// --- change tracking ---

// Changed reports whether any scalar attribute or flag has unsaved changes.
func (b *Bug) Changed() bool {
	return b.tracker.Changed() || (b.flags != nil && b.flags.Changed())
}

// Changes returns (original, current) for every changed attribute. Changed
// flags appear as a single "flags" entry holding whole mappings.
func (b *Bug) Changes() map[string]Change {
	out := b.tracker.Changes(func(name string) any { return b.values[name] })
	if b.flags != nil && b.flags.Changed() {
		out["flags"] = Change{Old: b.flags.Previous(), New: b.flags.Map()}
	}
	return out
}

// ChangedAttributes maps every changed attribute to its original value.
func (b *Bug) ChangedAttributes() map[string]any {
	out := b.tracker.ChangedAttributes()
	if b.flags != nil && b.flags.Changed() {
		out["flags"] = b.flags.Previous()
	}
	return out
}

// DiscardChanges restores every changed attribute and flag to its original
// value and clears the change state.
func (b *Bug) DiscardChanges() {
	for name, original := range b.tracker.ChangedAttributes() {
		if original == nil {
			delete(b.values, name)
			continue
		}
		b.values[name] = original
	}
	b.tracker.Clear()
	if b.flags != nil {
		b.flags.Discard()
	}
}

// UpdateAttribute is UpdateAttributes for a single attribute.
func (b *Bug) UpdateAttribute(ctx context.Context, name string, value any) error {
	return b.UpdateAttributes(ctx, map[string]any{name: value})
}

// UpdateAttributes applies attrs through the setters and submits them to the
// service right away. "id" is ignored. Unknown names fail before anything
// is touched; any failure leaves the bug as it was before the call.
func (b *Bug) UpdateAttributes(ctx context.Context, attrs map[string]any) error {
	names := make([]string, 0, len(attrs))
	for _, name := range slices.Sorted(maps.Keys(attrs)) {
		if name == "id" {
			continue
		}
		if !b.attrs.Has(name) {
			return &UnknownAttributeError{Name: name}
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}

	snap := b.snapshot()
	payload := make(map[string]any, len(names))
	for _, name := range names {
		if err := b.Set(ctx, name, attrs[name]); err != nil {
			b.restore(snap)
			return err
		}
		if name == "flags" {
			if updates := b.FlagsRawUpdates(); len(updates) > 0 {
				payload[name] = updates
			}
			continue
		}
		b.tracker.Forget(name)
		payload[name] = attrs[name]
	}
	if len(payload) == 0 {
		return nil
	}

	if err := b.submit(ctx, payload); err != nil {
		b.restore(snap)
		return err
	}
	return nil
}

func (b *Bug) submit(ctx context.Context, payload map[string]any) error {
	params := b.attrs.ToService(payload)
	b.schema.logger.Debug("updating bug", "bug_id", b.id, "fields", slices.Sorted(maps.Keys(params)))

	echoed, err := b.service().Update(ctx, b.id, params)
	if err != nil {
		return err
	}
	if id, ok := asInt(echoed["id"]); !ok || id != b.id {
		return fmt.Errorf("%w: expected to update id <%d>, but updated <%v>", ErrUpdateMismatch, b.id, echoed["id"])
	}
	return nil
}

// Save submits the changed attributes, if any, then reloads the bug so its
// state reflects the server.
func (b *Bug) Save(ctx context.Context) error {
	if !b.Changed() {
		return nil
	}
	payload := make(map[string]any)
	for name, change := range b.Changes() {
		payload[name] = change.New
	}
	if err := b.UpdateAttributes(ctx, payload); err != nil {
		return err
	}
	b.schema.logger.Info("bug saved", "bug_id", b.id, "attributes", slices.Sorted(maps.Keys(payload)))
	b.Reload()
	return nil
}

// Reload discards every cached value except the id, along with any pending
// changes. Attributes load again on next access.
func (b *Bug) Reload() {
	b.values = make(map[string]any)
	b.raw = nil
	b.comments = nil
	b.commentsLoaded = false
	b.tracker.Clear()
	b.ResetFlags()
}

type bugSnapshot struct {
	values            map[string]any
	tracker           *ChangeTracker
	flags             *FlagSet
	flagObjects       []Flag
	flagObjectsLoaded bool
}

func (b *Bug) snapshot() bugSnapshot {
	snap := bugSnapshot{
		values:            maps.Clone(b.values),
		tracker:           b.tracker.clone(),
		flagObjects:       b.flagObjects,
		flagObjectsLoaded: b.flagObjectsLoaded,
	}
	if b.flags != nil {
		snap.flags = b.flags.clone()
	}
	return snap
}

func (b *Bug) restore(snap bugSnapshot) {
	b.values = snap.values
	b.tracker = snap.tracker
	b.flags = snap.flags
	b.flagObjects = snap.flagObjects
	b.flagObjectsLoaded = snap.flagObjectsLoaded
}

// flagMapValue reads a flags value from a hydration hash, which may already
// be a projection or still be the raw flag list.
func flagMapValue(v any, bugID int) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for name, status := range m {
			out[name] = asString(status)
		}
		return out
	case nil:
		return map[string]string{}
	}
	return FlagMap(FlagsFromRaw(v, bugID))
}

// flagMapArg validates a flags value given to a setter.
func flagMapArg(v any) (map[string]string, error) {
	switch m := v.(type) {
	case map[string]string:
		return m, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for name, status := range m {
			out[name] = asString(status)
		}
		return out, nil
	case []FlagUpdate:
		out := make(map[string]string, len(m))
		for _, u := range m {
			out[u.Name] = u.Status
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: flags must be a name->status mapping, got %T", ErrInvalidArgument, v)
}
