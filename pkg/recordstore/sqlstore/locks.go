package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/memehubx/memedb/pkg/backfill"
	"github.com/memehubx/memedb/pkg/domain"
)

// AcquireRunLock takes or refreshes the collection's run lock. Expiry is
// stored as unix nanoseconds, zero meaning never.
func (s *Store) AcquireRunLock(ctx context.Context, collection, owner string, ttl time.Duration) error {
	name := backfill.LockName(collection)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.now()
	var current string
	var expiresAt int64
	err = tx.QueryRowContext(ctx,
		"SELECT owner, expires_at FROM backfill_locks WHERE name = "+s.dialect.placeholder(1)+s.dialect.forUpdate,
		name).Scan(&current, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to read lock %s: %w", name, err)
	case current != owner && (expiresAt == 0 || now.UnixNano() < expiresAt):
		return fmt.Errorf("lock %s held by %s: %w", name, current, domain.ErrLockHeld)
	}

	var expires int64
	if ttl > 0 {
		expires = now.Add(ttl).UnixNano()
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO backfill_locks (name, owner, acquired_at, expires_at) VALUES ("+s.placeholders(1, 4)+") "+
			"ON CONFLICT (name) DO UPDATE SET owner = excluded.owner, acquired_at = excluded.acquired_at, expires_at = excluded.expires_at",
		name, owner, now.UnixNano(), expires)
	if err != nil {
		return fmt.Errorf("failed to write lock %s: %w", name, err)
	}
	return tx.Commit()
}

// ReleaseRunLock drops the lock if owner still holds it
func (s *Store) ReleaseRunLock(ctx context.Context, collection, owner string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM backfill_locks WHERE name = "+s.dialect.placeholder(1)+" AND owner = "+s.dialect.placeholder(2),
		backfill.LockName(collection), owner)
	return err
}

// ForceReleaseRunLock drops the lock whoever holds it
func (s *Store) ForceReleaseRunLock(ctx context.Context, collection string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM backfill_locks WHERE name = "+s.dialect.placeholder(1),
		backfill.LockName(collection))
	return err
}
