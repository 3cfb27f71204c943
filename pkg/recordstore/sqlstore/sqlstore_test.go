package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memehubx/memedb/pkg/backfill"
	"github.com/memehubx/memedb/pkg/domain"
)

func openMemory(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := Open(context.Background(), DriverSQLite, ":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store *Store, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateCollection(ctx, "memes"))
	docs := make([]domain.Document, n)
	for i := range docs {
		docs[i] = domain.Document{"_id": fmt.Sprintf("m%04d", i), "title": fmt.Sprintf("Sad DOG %d", i), "likes": i}
	}
	require.NoError(t, store.InsertDocuments(ctx, "memes", docs))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestStore_ListPage(t *testing.T) {
	store := openMemory(t)
	seed(t, store, 5)
	ctx := context.Background()

	page, err := store.ListPage(ctx, "memes", "", 2)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "m0001", page.NextCursor)
	assert.Equal(t, "m0000", page.Records[0].Fields["_id"])
	assert.EqualValues(t, 0, page.Records[0].Fields["likes"])

	page, err = store.ListPage(ctx, "memes", "m0003", 2)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Empty(t, page.NextCursor)

	_, err = store.ListPage(ctx, "memes; DROP TABLE x", "", 2)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestStore_BackfillWithFailureAndRetry(t *testing.T) {
	store := openMemory(t, WithMaxBatchSize(400))
	seed(t, store, 1000)
	ctx := context.Background()

	deriver, err := backfill.NewDeriver("lowercase", "", "")
	require.NoError(t, err)

	flaky := &failOnce{Store: store, failOn: 2}
	summary, err := backfill.NewRunner(flaky, backfill.NewStoreSource(flaky, "memes", 250), deriver, backfill.Config{Collection: "memes"}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, backfill.StatusPartialFailure, summary.Status)
	assert.Equal(t, 600, summary.Committed)
	assert.Equal(t, 400, summary.FailedRecords)

	recs, err := store.Fetch(ctx, "memes", []string{"m0400"})
	require.NoError(t, err)
	assert.NotContains(t, recs[0].Fields, "title_lowercase")

	retry, err := backfill.NewRunner(store, backfill.NewIDSource(store, "memes", summary.RetryIDs(), 0), deriver, backfill.Config{Collection: "memes"}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, backfill.StatusSuccess, retry.Status)
	assert.Equal(t, 400, retry.Committed)

	again, err := backfill.NewRunner(store, backfill.NewStoreSource(store, "memes", 0), deriver, backfill.Config{Collection: "memes"}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1000, again.SkippedCurrent)
}

func TestStore_CommitRollsBackOnMissingID(t *testing.T) {
	store := openMemory(t, WithMaxBatchSize(3))
	seed(t, store, 2)
	ctx := context.Background()

	err := store.Commit(ctx, "memes", []backfill.PendingWrite{
		{RecordID: "m0000", Field: "x", Value: "y"},
		{RecordID: "ghost", Field: "x", Value: "y"},
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	recs, err := store.Fetch(ctx, "memes", []string{"m0000", "m0001"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.NotContains(t, recs[0].Fields, "x")

	err = store.Commit(ctx, "memes", make([]backfill.PendingWrite, 4))
	assert.ErrorIs(t, err, domain.ErrBatchTooLarge)
}

func TestStore_RunLock(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := openMemory(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, store.AcquireRunLock(ctx, "memes", "a/1", time.Minute))
	require.NoError(t, store.AcquireRunLock(ctx, "memes", "a/1", time.Minute), "owner may refresh")

	err := store.AcquireRunLock(ctx, "memes", "b/2", time.Minute)
	assert.ErrorIs(t, err, backfill.ErrLockHeld)

	require.NoError(t, store.ReleaseRunLock(ctx, "memes", "b/2"))
	assert.ErrorIs(t, store.AcquireRunLock(ctx, "memes", "b/2", time.Minute), backfill.ErrLockHeld, "release by a non-owner does nothing")

	now = now.Add(2 * time.Minute)
	require.NoError(t, store.AcquireRunLock(ctx, "memes", "b/2", 0), "expired lock can be taken over")

	now = now.Add(time.Hour)
	assert.ErrorIs(t, store.AcquireRunLock(ctx, "memes", "a/1", time.Minute), backfill.ErrLockHeld, "zero ttl never expires")

	require.NoError(t, store.ForceReleaseRunLock(ctx, "memes"))
	require.NoError(t, store.AcquireRunLock(ctx, "memes", "a/1", time.Minute))
}

func TestStore_RunnerRefusesHeldLock(t *testing.T) {
	store := openMemory(t)
	seed(t, store, 3)
	ctx := context.Background()
	require.NoError(t, store.AcquireRunLock(ctx, "memes", "other/1", time.Hour))

	deriver, err := backfill.NewDeriver("lowercase", "", "")
	require.NoError(t, err)
	summary, err := backfill.NewRunner(store, backfill.NewStoreSource(store, "memes", 0), deriver, backfill.Config{Collection: "memes", LockOwner: "me/1"}).Run(ctx)
	assert.ErrorIs(t, err, backfill.ErrLockHeld)
	assert.Equal(t, backfill.ExitLockHeld, backfill.ExitCodeFor(summary, err))
}

// failOnce fails the n-th commit
type failOnce struct {
	*Store
	calls  int
	failOn int
}

func (f *failOnce) Commit(ctx context.Context, collection string, writes []backfill.PendingWrite) error {
	f.calls++
	if f.calls == f.failOn {
		return errors.New("deadlock detected")
	}
	return f.Store.Commit(ctx, collection, writes)
}
