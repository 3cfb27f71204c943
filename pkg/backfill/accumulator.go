package backfill

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Accumulator buffers pending writes and commits them in batches of at most
// maxBatchSize. With concurrency above one, batches are committed by up to
// that many goroutines; Add blocks while all of them are busy.
//
// Add and Flush are called from one goroutine. The report callback is never
// invoked concurrently with itself.
type Accumulator struct {
	committer    Committer
	collection   string
	maxBatchSize int
	report       func(CommitResult)

	pending []PendingWrite
	batches int
	group   *errgroup.Group

	reportMu sync.Mutex
}

// NewAccumulator creates an accumulator that commits to collection
func NewAccumulator(committer Committer, collection string, maxBatchSize, concurrency int, report func(CommitResult)) *Accumulator {
	if maxBatchSize < 1 {
		maxBatchSize = 1
	}
	a := &Accumulator{
		committer:    committer,
		collection:   collection,
		maxBatchSize: maxBatchSize,
		report:       report,
		pending:      make([]PendingWrite, 0, maxBatchSize),
	}
	if concurrency > 1 {
		a.group = &errgroup.Group{}
		a.group.SetLimit(concurrency)
	}
	return a
}

// Add buffers a write and commits the buffer once it reaches the batch size
func (a *Accumulator) Add(ctx context.Context, w PendingWrite) {
	a.pending = append(a.pending, w)
	if len(a.pending) >= a.maxBatchSize {
		a.Flush(ctx)
	}
}

// Flush commits whatever is buffered, even a partial batch
func (a *Accumulator) Flush(ctx context.Context) {
	if len(a.pending) == 0 {
		return
	}
	batch := a.pending
	a.pending = make([]PendingWrite, 0, a.maxBatchSize)
	a.batches++
	seq := a.batches

	if a.group == nil {
		a.commit(ctx, seq, batch)
		return
	}
	// commit failures go to report, so the closure always returns nil and
	// the group is only used for its concurrency limit
	a.group.Go(func() error {
		a.commit(ctx, seq, batch)
		return nil
	})
}

// Wait blocks until every submitted batch has reported
func (a *Accumulator) Wait() {
	if a.group != nil {
		_ = a.group.Wait() // always nil, see Flush
	}
}

// Pending is the number of buffered writes not yet submitted
func (a *Accumulator) Pending() int { return len(a.pending) }

// Batches is the number of batches submitted so far
func (a *Accumulator) Batches() int { return a.batches }

func (a *Accumulator) commit(ctx context.Context, seq int, batch []PendingWrite) {
	result := CommitResult{Batch: seq, Count: len(batch), Writes: batch}
	if err := a.committer.Commit(ctx, a.collection, batch); err != nil {
		ids := make([]string, len(batch))
		for i, w := range batch {
			ids[i] = w.RecordID
		}
		result.Err = &CommitError{Batch: seq, RecordIDs: ids, Err: err}
	}

	if a.report == nil {
		return
	}
	a.reportMu.Lock()
	defer a.reportMu.Unlock()
	a.report(result)
}
