// Package engine adapts the in-process storage engine to backfill.Store.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/memehubx/memedb/pkg/backfill"
	"github.com/memehubx/memedb/pkg/domain"
	"github.com/memehubx/memedb/pkg/storage"
)

// Store runs a backfill directly against a storage engine
type Store struct {
	db    domain.StorageEngine
	owned *storage.StorageEngine
}

// New wraps an engine the caller keeps ownership of; Close is a no-op
func New(db domain.StorageEngine) *Store {
	return &Store{db: db}
}

// Open opens a storage engine and closes it with the Store
func Open(options ...storage.StorageOption) (*Store, error) {
	se, err := storage.NewStorageEngine(options...)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage engine: %w", err)
	}
	return &Store{db: se, owned: se}, nil
}

func toRecords(docs []domain.Document) []backfill.Record {
	records := make([]backfill.Record, len(docs))
	for i, doc := range docs {
		records[i] = backfill.Record{ID: doc.ID(), Fields: doc}
	}
	return records
}

func (s *Store) ListPage(ctx context.Context, collection, cursor string, limit int) (backfill.Page, error) {
	if err := ctx.Err(); err != nil {
		return backfill.Page{}, err
	}
	page, err := s.db.ListPage(collection, cursor, limit)
	if err != nil {
		return backfill.Page{}, err
	}
	return backfill.Page{Records: toRecords(page.Documents), NextCursor: page.NextCursor}, nil
}

func (s *Store) Fetch(ctx context.Context, collection string, ids []string) ([]backfill.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docs, err := s.db.GetByIds(collection, ids)
	if err != nil {
		return nil, err
	}
	return toRecords(docs), nil
}

// Commit applies writes as one atomic batch update
func (s *Store) Commit(ctx context.Context, collection string, writes []backfill.PendingWrite) error {
	ops := make([]domain.BatchUpdateOperation, len(writes))
	for i, w := range writes {
		ops[i] = domain.BatchUpdateOperation{ID: w.RecordID, Updates: domain.Document{w.Field: w.Value}}
	}
	_, err := s.db.BatchUpdate(collection, ops)
	return err
}

func (s *Store) MaxBatchSize() int { return s.db.MaxBatchOps() }

func (s *Store) AcquireRunLock(ctx context.Context, collection, owner string, ttl time.Duration) error {
	_, err := s.db.AcquireLock(backfill.LockName(collection), owner, ttl)
	return err
}

func (s *Store) ReleaseRunLock(ctx context.Context, collection, owner string) error {
	return s.db.ReleaseLock(backfill.LockName(collection), owner)
}

func (s *Store) ForceReleaseRunLock(ctx context.Context, collection string) error {
	return s.db.ReleaseLock(backfill.LockName(collection), "")
}

func (s *Store) Close() error {
	if s.owned == nil {
		return nil
	}
	return s.owned.Close()
}
