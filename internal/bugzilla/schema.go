package bugzilla

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// Schema is the session for one remote service. It owns the field catalog
// and attribute map, which are fetched once and shared by every Bug it
// creates.
type Schema struct {
	svc     Service
	logger  *slog.Logger
	catalog *Catalog

	mu    sync.Mutex
	attrs *AttributeMap
}

// Option configures a Schema.
type Option func(*Schema)

// WithLogger sets the logger used by the schema and its bugs.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Schema) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSchema creates a Schema backed by svc.
func NewSchema(svc Service, opts ...Option) *Schema {
	s := &Schema{svc: svc, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.catalog = NewCatalog(svc, s.logger)
	return s
}

// Service returns the remote service.
func (s *Schema) Service() Service {
	return s.svc
}

// Catalog returns the field catalog.
func (s *Schema) Catalog() *Catalog {
	return s.catalog
}

// Fields returns the usable remote fields.
func (s *Schema) Fields(ctx context.Context) ([]Field, error) {
	return s.catalog.Fields(ctx)
}

// AttributeMap returns the attribute map, building it on first use.
func (s *Schema) AttributeMap(ctx context.Context) (*AttributeMap, error) {
	s.mu.Lock()
	m := s.attrs
	s.mu.Unlock()
	if m != nil {
		return m, nil
	}

	fields, err := s.catalog.Fields(ctx)
	if err != nil {
		return nil, fmt.Errorf("load fields: %w", err)
	}
	timestamps, err := s.catalog.Timestamps(ctx)
	if err != nil {
		return nil, fmt.Errorf("load fields: %w", err)
	}
	m = NewAttributeMap(fields, timestamps)

	s.mu.Lock()
	s.attrs = m
	s.mu.Unlock()
	return m, nil
}

// AttributeNames returns the local attribute names, sorted.
func (s *Schema) AttributeNames(ctx context.Context) ([]string, error) {
	m, err := s.AttributeMap(ctx)
	if err != nil {
		return nil, err
	}
	return m.Names(), nil
}

// NormalizeToService translates a local-named hash for the service.
func (s *Schema) NormalizeToService(ctx context.Context, h map[string]any) (map[string]any, error) {
	m, err := s.AttributeMap(ctx)
	if err != nil {
		return nil, err
	}
	return m.ToService(h), nil
}

// NormalizeFromService translates a service record to local names.
func (s *Schema) NormalizeFromService(ctx context.Context, h map[string]any) (map[string]any, error) {
	m, err := s.AttributeMap(ctx)
	if err != nil {
		return nil, err
	}
	return m.FromService(h), nil
}

// Search runs a search with local-named options and returns local-named rows.
func (s *Schema) Search(ctx context.Context, options map[string]any) ([]map[string]any, error) {
	m, err := s.AttributeMap(ctx)
	if err != nil {
		return nil, err
	}
	criteria := m.ToService(options)
	s.logger.Debug("searching bugs", "criteria", criteria)

	rows, err := s.svc.Search(ctx, criteria)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, m.FromService(row))
	}
	return out, nil
}

// Find searches and builds a Bug per result. The id is always requested,
// and every requested field the server left out of a row is hydrated as nil.
func (s *Schema) Find(ctx context.Context, options map[string]any) ([]*Bug, error) {
	opts := maps.Clone(options)
	if opts == nil {
		opts = make(map[string]any)
	}
	include := slices.Clone(asStrings(opts["include_fields"]))
	if !slices.Contains(include, "id") {
		include = append(include, "id")
	}
	opts["include_fields"] = include

	rows, err := s.Search(ctx, opts)
	if err != nil {
		return nil, err
	}
	m, err := s.AttributeMap(ctx)
	if err != nil {
		return nil, err
	}

	bugs := make([]*Bug, 0, len(rows))
	for _, row := range rows {
		for _, field := range include {
			if _, ok := row[field]; !ok {
				row[field] = nil
			}
		}
		bug, err := newBug(s, m, row)
		if err != nil {
			return nil, err
		}
		bugs = append(bugs, bug)
	}
	return bugs, nil
}

// NewBug builds a Bug hydrated from a local-named hash. The hash must carry
// the bug id; keys that are not attribute names are ignored.
func (s *Schema) NewBug(ctx context.Context, attrs map[string]any) (*Bug, error) {
	m, err := s.AttributeMap(ctx)
	if err != nil {
		return nil, err
	}
	return newBug(s, m, attrs)
}

// Bug returns an un-hydrated Bug for id. Attributes load on first access.
func (s *Schema) Bug(ctx context.Context, id int) (*Bug, error) {
	if err := ValidateIDs([]int{id}); err != nil {
		return nil, err
	}
	return s.NewBug(ctx, map[string]any{"id": id})
}

// Create files a new bug from local-named attributes and returns it
// un-hydrated.
func (s *Schema) Create(ctx context.Context, attrs map[string]any) (*Bug, error) {
	if len(attrs) == 0 {
		return nil, fmt.Errorf("%w: no attributes given", ErrInvalidArgument)
	}
	m, err := s.AttributeMap(ctx)
	if err != nil {
		return nil, err
	}

	payload := make(map[string]any, len(attrs))
	for _, name := range slices.Sorted(maps.Keys(attrs)) {
		if name == "id" {
			continue
		}
		if !m.Has(name) {
			return nil, &UnknownAttributeError{Name: name}
		}
		value := attrs[name]
		if name == "flags" {
			flags, err := flagMapArg(value)
			if err != nil {
				return nil, err
			}
			value = newFlagUpdates(flags)
		}
		payload[name] = value
	}

	id, err := s.svc.Create(ctx, m.ToService(payload))
	if err != nil {
		return nil, err
	}
	s.logger.Info("bug created", "bug_id", id)
	return newBug(s, m, map[string]any{"id": id})
}
