// Package sqlstore is a backfill.Store over PostgreSQL or SQLite.
//
// Each collection is a table of (id TEXT PRIMARY KEY, doc TEXT) where doc is a
// JSON object. Run locks live in the backfill_locks table.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/memehubx/memedb/pkg/backfill"
	"github.com/memehubx/memedb/pkg/domain"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"

	DefaultMaxBatchSize = 500
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type dialect struct {
	// placeholder returns the marker for the n-th (1-based) bind argument
	placeholder func(n int) string
	// forUpdate is appended to row reads inside a commit
	forUpdate string
}

var dialects = map[string]dialect{
	DriverPostgres: {
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		forUpdate:   " FOR UPDATE",
	},
	DriverSQLite: {
		placeholder: func(int) string { return "?" },
	},
}

// Store reads and writes collections stored as JSON rows
type Store struct {
	db       *sql.DB
	dialect  dialect
	maxBatch int
	now      func() time.Time
	logger   zerolog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithMaxBatchSize sets the writes-per-commit ceiling
func WithMaxBatchSize(n int) Option {
	return func(s *Store) { s.maxBatch = n }
}

// WithClock replaces time.Now for lock expiry
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open connects with the named driver ("pgx" or "sqlite"), pings the
// database and creates the lock table.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	if _, ok := dialects[driver]; !ok {
		return nil, fmt.Errorf("unsupported sql driver %q: %w", driver, domain.ErrInvalidArgument)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if driver == DriverSQLite {
		// an in-memory database exists per connection
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s, err := New(ctx, db, driver, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. The Store closes db on Close.
func New(ctx context.Context, db *sql.DB, driver string, opts ...Option) (*Store, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver %q: %w", driver, domain.ErrInvalidArgument)
	}
	s := &Store{
		db:       db,
		dialect:  d,
		maxBatch: DefaultMaxBatchSize,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS backfill_locks (
		name TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		acquired_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("failed to create lock table: %w", err)
	}
	return s, nil
}

func table(collection string) (string, error) {
	if !identifier.MatchString(collection) {
		return "", fmt.Errorf("collection name %q is not a valid table name: %w", collection, domain.ErrInvalidArgument)
	}
	return `"` + collection + `"`, nil
}

func (s *Store) placeholders(from, n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = s.dialect.placeholder(from + i)
	}
	return strings.Join(marks, ", ")
}

// CreateCollection creates the collection's table if it does not exist
func (s *Store) CreateCollection(ctx context.Context, collection string) error {
	t, err := table(collection)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+t+" (id TEXT PRIMARY KEY, doc TEXT NOT NULL)")
	return err
}

// InsertDocuments adds documents in one transaction. Every document needs a string _id.
func (s *Store) InsertDocuments(ctx context.Context, collection string, docs []domain.Document) error {
	t, err := table(collection)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := "INSERT INTO " + t + " (id, doc) VALUES (" + s.placeholders(1, 2) + ")"
	for _, doc := range docs {
		id := doc.ID()
		if id == "" {
			return fmt.Errorf("document without a string _id: %w", domain.ErrInvalidArgument)
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode document %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, query, id, string(data)); err != nil {
			return fmt.Errorf("failed to insert document %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func scanRecords(rows *sql.Rows) ([]backfill.Record, error) {
	defer rows.Close()
	var records []backfill.Record
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		doc, err := decodeDoc(id, raw)
		if err != nil {
			return nil, err
		}
		records = append(records, backfill.Record{ID: id, Fields: doc})
	}
	return records, rows.Err()
}

func decodeDoc(id, raw string) (domain.Document, error) {
	var doc domain.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("document %s is not valid JSON: %w", id, err)
	}
	if doc == nil {
		doc = domain.Document{}
	}
	doc["_id"] = id
	return doc, nil
}

// ListPage returns records after cursor; the cursor is the last id of the previous page
func (s *Store) ListPage(ctx context.Context, collection, cursor string, limit int) (backfill.Page, error) {
	t, err := table(collection)
	if err != nil {
		return backfill.Page{}, err
	}
	query := "SELECT id, doc FROM " + t + " WHERE id > " + s.dialect.placeholder(1) +
		" ORDER BY id LIMIT " + s.dialect.placeholder(2)
	rows, err := s.db.QueryContext(ctx, query, cursor, limit+1)
	if err != nil {
		return backfill.Page{}, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return backfill.Page{}, err
	}

	page := backfill.Page{Records: records}
	if len(records) > limit {
		page.Records = records[:limit]
		page.NextCursor = records[limit-1].ID
	}
	return page, nil
}

func (s *Store) Fetch(ctx context.Context, collection string, ids []string) ([]backfill.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	t, err := table(collection)
	if err != nil {
		return nil, err
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := "SELECT id, doc FROM " + t + " WHERE id IN (" + s.placeholders(1, len(ids)) + ") ORDER BY id"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch from %s: %w", collection, err)
	}
	return scanRecords(rows)
}

// Commit applies all writes in one transaction; a missing id rolls back the batch
func (s *Store) Commit(ctx context.Context, collection string, writes []backfill.PendingWrite) error {
	if s.maxBatch > 0 && len(writes) > s.maxBatch {
		return fmt.Errorf("%d operations, limit %d: %w", len(writes), s.maxBatch, domain.ErrBatchTooLarge)
	}
	t, err := table(collection)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	selectQuery := "SELECT doc FROM " + t + " WHERE id = " + s.dialect.placeholder(1) + s.dialect.forUpdate
	updateQuery := "UPDATE " + t + " SET doc = " + s.dialect.placeholder(1) + " WHERE id = " + s.dialect.placeholder(2)

	for _, w := range writes {
		var raw string
		err := tx.QueryRowContext(ctx, selectQuery, w.RecordID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("document %s: %w", w.RecordID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read document %s: %w", w.RecordID, err)
		}

		doc, err := decodeDoc(w.RecordID, raw)
		if err != nil {
			return err
		}
		doc[w.Field] = w.Value
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to encode document %s: %w", w.RecordID, err)
		}
		if _, err := tx.ExecContext(ctx, updateQuery, string(data), w.RecordID); err != nil {
			return fmt.Errorf("failed to update document %s: %w", w.RecordID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug().Str("collection", collection).Int("writes", len(writes)).Msg("batch committed")
	return nil
}

func (s *Store) MaxBatchSize() int { return s.maxBatch }

func (s *Store) Close() error { return s.db.Close() }
