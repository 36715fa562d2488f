package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer; a single connection keeps
	// separate bz processes from tripping over "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Field cache ---

func (s *SQLiteStore) SaveFields(ctx context.Context, serviceURL string, fields []map[string]any) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO field_cache (service_url, fields_json, field_count, fetched_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(service_url) DO UPDATE SET fields_json=excluded.fields_json, field_count=excluded.field_count, fetched_at=excluded.fetched_at`,
		serviceURL, string(data), len(fields), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save fields: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadFields(ctx context.Context, serviceURL string) ([]map[string]any, time.Time, error) {
	var data string
	var fetchedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT fields_json, fetched_at FROM field_cache WHERE service_url = ?`, serviceURL,
	).Scan(&data, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, fmt.Errorf("fields for %s: %w", serviceURL, ErrNotFound)
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load fields: %w", err)
	}

	var fields []map[string]any
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode fields: %w", err)
	}
	return fields, fetchedAt, nil
}

func (s *SQLiteStore) ClearFields(ctx context.Context, serviceURL string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM field_cache WHERE service_url = ?", serviceURL); err != nil {
		return fmt.Errorf("clear fields: %w", err)
	}
	return nil
}

// --- Update log ---

func (s *SQLiteStore) LogUpdate(ctx context.Context, rec *UpdateRecord) error {
	if rec.ID == "" {
		rec.ID = newULID()
	}
	if rec.Kind == "" {
		rec.Kind = KindUpdate
	}
	rec.CreatedAt = time.Now().UTC()

	payload := rec.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO update_log (id, bug_id, service_url, kind, payload_json, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.BugID, rec.ServiceURL, rec.Kind, string(data), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("log update: %w", err)
	}
	return nil
}

// ListUpdates returns logged updates newest first. A zero bugID lists every
// bug; a non-positive limit means no limit.
func (s *SQLiteStore) ListUpdates(ctx context.Context, bugID int, limit int) ([]*UpdateRecord, error) {
	query := `SELECT id, bug_id, service_url, kind, payload_json, created_at FROM update_log`
	var args []any
	if bugID > 0 {
		query += ` WHERE bug_id = ?`
		args = append(args, bugID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list updates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*UpdateRecord
	for rows.Next() {
		r := &UpdateRecord{}
		var payload string
		if err := rows.Scan(&r.ID, &r.BugID, &r.ServiceURL, &r.Kind, &payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		_ = json.Unmarshal([]byte(payload), &r.Payload)
		records = append(records, r)
	}
	return records, rows.Err()
}
