package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const (
	DefaultProgressEvery = 1000
	DefaultLockTTL       = 10 * time.Minute
)

// Config controls one run
type Config struct {
	Collection string
	// BatchSize is the number of writes per commit. Zero means the store's ceiling.
	BatchSize int
	// Concurrency is the number of batches committed in parallel. Zero means one.
	Concurrency   int
	DryRun        bool
	ProgressEvery int
	LockTTL       time.Duration
	LockOwner     string
}

// Runner drives a source through a deriver into batched commits. Each call
// to Run is an independent run with its own summary.
type Runner struct {
	store   Store
	source  RecordSource
	deriver Deriver
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time
}

// run is the state of one Run call. Commit reports may arrive from several
// goroutines, so everything in it is guarded by mu.
type run struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	summary  *RunSummary
	lockLost bool
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithLogger sets the run logger
func WithLogger(logger zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// WithClock replaces time.Now for timestamps in the summary
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a runner. Nothing touches the store until Run.
func NewRunner(store Store, source RecordSource, deriver Deriver, cfg Config, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:   store,
		source:  source,
		deriver: deriver,
		cfg:     cfg,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// validate resolves defaults against the store's batch ceiling
func (r *Runner) validate() (Config, error) {
	cfg := r.cfg
	if cfg.Collection == "" {
		return cfg, &ConfigurationError{Field: "collection", Reason: "must not be empty"}
	}
	ceiling := r.store.MaxBatchSize()
	switch {
	case cfg.BatchSize < 0:
		return cfg, &ConfigurationError{Field: "batch_size", Reason: "must not be negative"}
	case cfg.BatchSize == 0 && ceiling > 0:
		cfg.BatchSize = ceiling
	case cfg.BatchSize == 0:
		cfg.BatchSize = DefaultPageSize
	case ceiling > 0 && cfg.BatchSize > ceiling:
		return cfg, &ConfigurationError{
			Field:  "batch_size",
			Reason: fmt.Sprintf("%d exceeds the store's limit of %d writes per commit", cfg.BatchSize, ceiling),
		}
	}
	if cfg.Concurrency < 0 {
		return cfg, &ConfigurationError{Field: "concurrency", Reason: "must not be negative"}
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	if cfg.LockTTL < 0 {
		return cfg, &ConfigurationError{Field: "lock_ttl", Reason: "must not be negative"}
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.LockOwner == "" {
		cfg.LockOwner = DefaultLockOwner()
	}
	return cfg, nil
}

// Run executes the backfill. The summary is always returned. The error is
// non-nil only when the run could not start or was aborted; batch failures
// and cancellation are reported through the summary status.
func (r *Runner) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:      ulid.Make().String(),
		Collection: r.cfg.Collection,
		Field:      r.deriver.TargetField(),
		DryRun:     r.cfg.DryRun,
		StartedAt:  r.now(),
	}
	rn := &run{cfg: r.cfg, now: r.now, summary: summary}
	rn.logger = r.logger.With().
		Str("run_id", summary.RunID).
		Str("collection", r.cfg.Collection).
		Str("field", summary.Field).
		Logger()
	logger := rn.logger

	cfg, err := r.validate()
	if err != nil {
		return rn.abort(err), err
	}
	rn.cfg = cfg

	var committer Committer = r.store
	if locker, ok := r.store.(RunLocker); ok && !cfg.DryRun {
		if err := locker.AcquireRunLock(ctx, cfg.Collection, cfg.LockOwner, cfg.LockTTL); err != nil {
			if errors.Is(err, ErrLockHeld) {
				logger.Error().Str("lock", LockName(cfg.Collection)).Msg("another run holds the collection lock")
			}
			return rn.abort(err), err
		}
		defer func() {
			if rn.lost() {
				return
			}
			if err := locker.ReleaseRunLock(context.WithoutCancel(ctx), cfg.Collection, cfg.LockOwner); err != nil {
				logger.Warn().Err(err).Msg("failed to release run lock")
			}
		}()
		committer = &leaseCommitter{store: r.store, locker: locker, owner: cfg.LockOwner, ttl: cfg.LockTTL}
	}

	records, err := r.source.Stream(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("record source unavailable")
		return rn.abort(err), err
	}

	logger.Info().
		Int("batch_size", cfg.BatchSize).
		Int("concurrency", cfg.Concurrency).
		Bool("dry_run", cfg.DryRun).
		Msg("backfill started")

	// commits outlive cancellation so an in-flight batch is never abandoned
	commitCtx := context.WithoutCancel(ctx)
	acc := NewAccumulator(committer, cfg.Collection, cfg.BatchSize, cfg.Concurrency, rn.recordCommit)

	seen := make(map[string]struct{})
	var streamErr error
	canceled := false

	for rec, err := range records {
		if err != nil {
			if ctx.Err() != nil {
				canceled = true
			} else {
				streamErr = err
			}
			break
		}

		rn.mu.Lock()
		rn.summary.Scanned++
		scanned := rn.summary.Scanned
		rn.mu.Unlock()

		rn.process(commitCtx, acc, seen, rec, r.deriver)

		if scanned%cfg.ProgressEvery == 0 {
			rn.logProgress()
		}
		if rn.lost() {
			break
		}
		if ctx.Err() != nil {
			canceled = true
			break
		}
	}

	// once the lease is gone the buffered writes fail their renewal and
	// are reported as retry candidates
	acc.Flush(commitCtx)
	acc.Wait()

	if streamErr == nil && rn.lost() {
		streamErr = fmt.Errorf("%w: %s was taken over by another run", ErrLockLost, LockName(cfg.Collection))
	}

	summary = rn.finish(streamErr, canceled)
	event := logger.Info()
	switch summary.Status {
	case StatusPartialFailure, StatusCanceled:
		event = logger.Warn()
	case StatusRunAborted:
		event = logger.Error().Err(streamErr)
	}
	event.
		Str("status", string(summary.Status)).
		Int("scanned", summary.Scanned).
		Int("derived", summary.Derived).
		Int("committed", summary.Committed).
		Int("skipped", summary.Skipped).
		Int("failed_records", summary.FailedRecords).
		Int("failed_batches", summary.FailedBatches).
		Dur("took", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("backfill finished")

	if streamErr != nil {
		return summary, streamErr
	}
	return summary, nil
}

func (rn *run) process(ctx context.Context, acc *Accumulator, seen map[string]struct{}, rec Record, deriver Deriver) {
	if _, dup := seen[rec.ID]; dup {
		rn.skip(SkipIneligible)
		rn.logger.Warn().Str("id", rec.ID).Msg("record seen twice in one run; skipping")
		return
	}
	seen[rec.ID] = struct{}{}

	d := deriver.Derive(rec)
	if d.Skip != SkipNone {
		rn.skip(d.Skip)
		return
	}

	rn.mu.Lock()
	rn.summary.Derived++
	rn.mu.Unlock()

	if rn.cfg.DryRun {
		rn.logger.Debug().Str("id", rec.ID).Interface("value", d.Value).Msg("would write")
		return
	}
	acc.Add(ctx, PendingWrite{RecordID: rec.ID, Field: d.Field, Value: d.Value})
}

func (rn *run) skip(reason SkipReason) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	rn.summary.Skipped++
	if reason == SkipCurrent {
		rn.summary.SkippedCurrent++
	} else {
		rn.summary.SkippedIneligible++
	}
}

func (rn *run) lost() bool {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.lockLost
}

func (rn *run) recordCommit(res CommitResult) {
	rn.mu.Lock()
	defer rn.mu.Unlock()

	if res.OK() {
		rn.summary.Committed += res.Count
		rn.summary.CommittedBatches++
		rn.logger.Debug().Int("batch", res.Batch).Int("count", res.Count).Msg("batch committed")
		return
	}

	var ce *CommitError
	ids := make([]string, len(res.Writes))
	for i, w := range res.Writes {
		ids[i] = w.RecordID
	}
	reason := res.Err.Error()
	if errors.As(res.Err, &ce) && ce.Err != nil {
		reason = ce.Err.Error()
	}
	if errors.Is(res.Err, ErrLockHeld) {
		rn.lockLost = true
	}

	rn.summary.FailedBatches++
	rn.summary.FailedRecords += res.Count
	rn.summary.Failures = append(rn.summary.Failures, BatchFailure{Batch: res.Batch, Reason: reason, RecordIDs: ids})
	rn.summary.RetryCandidates = append(rn.summary.RetryCandidates, res.Writes...)
	rn.logger.Error().Err(res.Err).Int("batch", res.Batch).Strs("record_ids", ids).Msg("batch failed to commit")
}

func (rn *run) logProgress() {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	rn.logger.Info().
		Int("scanned", rn.summary.Scanned).
		Int("committed", rn.summary.Committed).
		Int("skipped", rn.summary.Skipped).
		Int("failed_records", rn.summary.FailedRecords).
		Msg("progress")
}

// finish settles the terminal status once every batch has reported
func (rn *run) finish(streamErr error, canceled bool) *RunSummary {
	rn.mu.Lock()
	defer rn.mu.Unlock()

	s := rn.summary
	s.FinishedAt = rn.now()
	switch {
	case streamErr != nil:
		s.Status = StatusRunAborted
		s.Error = streamErr.Error()
	case canceled:
		s.Status = StatusCanceled
	case s.FailedBatches > 0:
		s.Status = StatusPartialFailure
	default:
		s.Status = StatusSuccess
	}
	return s
}

func (rn *run) abort(err error) *RunSummary {
	rn.summary.Status = StatusRunAborted
	rn.summary.Error = err.Error()
	rn.summary.FinishedAt = rn.now()
	return rn.summary
}

// ExitCodeFor maps a run's outcome to a process exit code
func ExitCodeFor(summary *RunSummary, err error) int {
	var cfgErr *ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		return ExitConfigError
	case errors.Is(err, ErrLockHeld):
		return ExitLockHeld
	case err != nil && summary == nil:
		return ExitError
	case summary != nil:
		return summary.Status.ExitCode()
	}
	return ExitSuccess
}
