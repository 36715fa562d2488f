package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a cache entry or record does not exist.
var ErrNotFound = errors.New("not found")

// Update kinds recorded in the update log.
const (
	KindUpdate  = "update"
	KindComment = "comment"
	KindCreate  = "create"
	KindClone   = "clone"
)

// UpdateRecord is one write submitted to a Bugzilla instance.
type UpdateRecord struct {
	ID         string
	BugID      int
	ServiceURL string
	Kind       string
	// Payload holds the local-named attributes that were sent.
	Payload   map[string]any
	CreatedAt time.Time
}

// FieldCache persists raw field catalogs per service URL.
type FieldCache interface {
	SaveFields(ctx context.Context, serviceURL string, fields []map[string]any) error
	LoadFields(ctx context.Context, serviceURL string) ([]map[string]any, time.Time, error)
	ClearFields(ctx context.Context, serviceURL string) error
}

// Store defines the persistence interface for bz.
type Store interface {
	FieldCache

	// Update log
	LogUpdate(ctx context.Context, rec *UpdateRecord) error
	ListUpdates(ctx context.Context, bugID int, limit int) ([]*UpdateRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
