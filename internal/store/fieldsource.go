package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joescharf/bz/internal/bugzilla"
)

// CachedFieldSource wraps a bugzilla.Service so the field catalog is read
// from the on-disk cache when present. Every other call goes straight to
// the wrapped service.
type CachedFieldSource struct {
	bugzilla.Service

	cache      FieldCache
	serviceURL string
	maxAge     time.Duration
	logger     *slog.Logger
}

// NewCachedFieldSource caches svc's field catalog under serviceURL. A
// positive maxAge refetches entries older than that.
func NewCachedFieldSource(svc bugzilla.Service, cache FieldCache, serviceURL string, maxAge time.Duration, logger *slog.Logger) *CachedFieldSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedFieldSource{
		Service:    svc,
		cache:      cache,
		serviceURL: serviceURL,
		maxAge:     maxAge,
		logger:     logger,
	}
}

// Fields returns the cached catalog, fetching and persisting it on a miss.
// A cache that cannot be read or written is logged and bypassed.
func (c *CachedFieldSource) Fields(ctx context.Context) ([]map[string]any, error) {
	fields, fetchedAt, err := c.cache.LoadFields(ctx, c.serviceURL)
	switch {
	case err == nil && (c.maxAge <= 0 || time.Since(fetchedAt) < c.maxAge):
		c.logger.Debug("field catalog from cache", "url", c.serviceURL, "fields", len(fields), "fetched_at", fetchedAt)
		return fields, nil
	case err == nil:
		c.logger.Debug("field cache expired", "url", c.serviceURL, "fetched_at", fetchedAt)
	case !errors.Is(err, ErrNotFound):
		c.logger.Warn("field cache unreadable", "url", c.serviceURL, "error", err)
	}
	return c.Refresh(ctx)
}

// Refresh fetches the catalog from the service and replaces the cache entry.
func (c *CachedFieldSource) Refresh(ctx context.Context) ([]map[string]any, error) {
	fields, err := c.Service.Fields(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch fields: %w", err)
	}
	if err := c.cache.SaveFields(ctx, c.serviceURL, fields); err != nil {
		c.logger.Warn("field cache not saved", "url", c.serviceURL, "error", err)
	}
	return fields, nil
}
