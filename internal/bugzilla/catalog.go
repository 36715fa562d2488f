package bugzilla

import (
	"context"
	"log/slog"
	"sync"
)

// Catalog fetches the remote field list once and keeps it for the lifetime
// of the connection. Concurrent first calls may both fetch; the results are
// equivalent and the last one wins.
type Catalog struct {
	svc    Service
	logger *slog.Logger

	mu     sync.Mutex
	fields []Field
}

// NewCatalog creates a Catalog backed by svc.
func NewCatalog(svc Service, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{svc: svc, logger: logger}
}

// Fields returns the usable fields in service order.
func (c *Catalog) Fields(ctx context.Context) ([]Field, error) {
	c.mu.Lock()
	fields := c.fields
	c.mu.Unlock()
	if fields != nil {
		return fields, nil
	}

	raw, err := c.svc.Fields(ctx)
	if err != nil {
		return nil, err
	}
	fields = FieldsFromRaw(raw)
	c.logger.Debug("field catalog loaded", "raw", len(raw), "usable", len(fields))

	c.mu.Lock()
	c.fields = fields
	c.mu.Unlock()
	return fields, nil
}

// Field looks up a field by its (aliased) remote name.
func (c *Catalog) Field(ctx context.Context, name string) (Field, bool, error) {
	fields, err := c.Fields(ctx)
	if err != nil {
		return Field{}, false, err
	}
	name = FieldAlias(name)
	for _, f := range fields {
		if f.Name == name {
			return f, true, nil
		}
	}
	return Field{}, false, nil
}

// Timestamps returns the set of remote field names holding date/times.
func (c *Catalog) Timestamps(ctx context.Context) (map[string]bool, error) {
	fields, err := c.Fields(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for name := range knownTimestamps {
		out[name] = true
	}
	for _, f := range fields {
		if f.IsTimestamp() {
			out[f.Name] = true
		}
	}
	return out, nil
}
