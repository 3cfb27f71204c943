package backfill

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Store is the record store a backfill runs against
type Store interface {
	// ListPage returns up to limit records after cursor in ascending id order
	ListPage(ctx context.Context, collection, cursor string, limit int) (Page, error)
	// Fetch loads the given ids; ids that do not exist are left out
	Fetch(ctx context.Context, collection string, ids []string) ([]Record, error)
	// Commit applies all writes atomically or none of them
	Commit(ctx context.Context, collection string, writes []PendingWrite) error
	// MaxBatchSize is the store's hard ceiling on writes per commit
	MaxBatchSize() int
	Close() error
}

// Committer is the part of Store the Accumulator needs
type Committer interface {
	Commit(ctx context.Context, collection string, writes []PendingWrite) error
}

// RunLocker is implemented by stores that can keep two runs off the same collection
type RunLocker interface {
	AcquireRunLock(ctx context.Context, collection, owner string, ttl time.Duration) error
	ReleaseRunLock(ctx context.Context, collection, owner string) error
}

// leaseCommitter renews the run lock before every commit, so the lease
// outlives runs longer than its ttl and no batch lands once another owner
// holds the lock.
type leaseCommitter struct {
	store  Committer
	locker RunLocker
	owner  string
	ttl    time.Duration
}

func (c *leaseCommitter) Commit(ctx context.Context, collection string, writes []PendingWrite) error {
	if err := c.locker.AcquireRunLock(ctx, collection, c.owner, c.ttl); err != nil {
		return fmt.Errorf("failed to renew run lock: %w", err)
	}
	return c.store.Commit(ctx, collection, writes)
}

// LockName is the lock record name guarding a collection
func LockName(collection string) string {
	return "backfill:" + collection
}

// DefaultLockOwner identifies this process as "<hostname>/<uuid>"
func DefaultLockOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s/%s", host, uuid.NewString())
}

// LockBreaker is implemented by stores that can force-release a stale run lock
type LockBreaker interface {
	ForceReleaseRunLock(ctx context.Context, collection string) error
}
