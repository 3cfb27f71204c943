package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/memehubx/memedb/pkg/backfill"
	"github.com/memehubx/memedb/pkg/config"
	"github.com/memehubx/memedb/pkg/logging"
	"github.com/memehubx/memedb/pkg/reportsink"
	"github.com/memehubx/memedb/pkg/retryfile"
)

const backfillLong = `Scan every record of a collection, compute a derived field and write it
back in batches no larger than the store's per-commit limit.

Each batch commits atomically on its own; there is no atomicity across
batches. If the process dies mid-run, earlier batches stay committed and the
rest are never attempted. Re-running is safe: records whose derived field is
already current are skipped.

Batches that fail to commit are listed in the summary and written to the
retry file; "memedb backfill retry" re-derives and re-commits exactly those
records.

Exit codes: 0 success, 2 partial failure, 3 aborted, 4 configuration error,
5 run lock held, 130 canceled.`

// backfillFlags mirror config.BackfillConfig and config.StoreConfig; only
// flags set on the command line override the loaded configuration.
type backfillFlags struct {
	dryRun        bool
	batchSize     int
	collection    string
	deriver       string
	sourceField   string
	targetField   string
	store         string
	storeURL      string
	sqlDriver     string
	sqlDSN        string
	dataDir       string
	pageSize      int
	concurrency   int
	retryFile     string
	lockTTL       time.Duration
	progressEvery int
}

func (f *backfillFlags) bind(cmd *cobra.Command) {
	def := config.Default()
	fs := cmd.PersistentFlags()
	fs.BoolVar(&f.dryRun, "dry-run", false, "derive and report values without writing")
	fs.IntVar(&f.batchSize, "batch-size", 0, "writes per commit (default: the store's limit)")
	fs.StringVar(&f.collection, "collection", def.Backfill.Collection, "collection to backfill")
	fs.StringVar(&f.deriver, "deriver", def.Backfill.Deriver, "derivation to apply (lowercase, tags)")
	fs.StringVar(&f.sourceField, "source-field", "", "field to derive from (default: the deriver's)")
	fs.StringVar(&f.targetField, "target-field", "", "field to write (default: the deriver's)")
	fs.StringVar(&f.store, "store", def.Store.Kind, "record store: engine, http or sql")
	fs.StringVar(&f.storeURL, "store-url", "", "base URL of a memedb server for --store http")
	fs.StringVar(&f.sqlDriver, "sql-driver", def.Store.SQLDriver, "database/sql driver for --store sql (pgx, sqlite)")
	fs.StringVar(&f.sqlDSN, "sql-dsn", "", "data source name for --store sql")
	fs.StringVar(&f.dataDir, "data-dir", def.Store.DataDir, "data directory for --store engine")
	fs.IntVar(&f.pageSize, "page-size", def.Backfill.PageSize, "records read per page")
	fs.IntVar(&f.concurrency, "commit-concurrency", def.Backfill.Concurrency, "batches committed in parallel")
	fs.StringVar(&f.retryFile, "retry-file", def.Backfill.RetryFile, "where failed batches are recorded")
	fs.DurationVar(&f.lockTTL, "lock-ttl", def.Backfill.LockTTL, "run lock lease")
	fs.IntVar(&f.progressEvery, "progress-every", def.Backfill.ProgressEvery, "log progress every N scanned records")
}

func (f *backfillFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	b, s := &cfg.Backfill, &cfg.Store
	if changed("dry-run") {
		b.DryRun = f.dryRun
	}
	if changed("batch-size") {
		b.BatchSize = f.batchSize
	}
	if changed("collection") {
		b.Collection = f.collection
	}
	if changed("deriver") {
		b.Deriver = f.deriver
	}
	if changed("source-field") {
		b.SourceField = f.sourceField
	}
	if changed("target-field") {
		b.TargetField = f.targetField
	}
	if changed("page-size") {
		b.PageSize = f.pageSize
	}
	if changed("commit-concurrency") {
		b.Concurrency = f.concurrency
	}
	if changed("retry-file") {
		b.RetryFile = f.retryFile
	}
	if changed("lock-ttl") {
		b.LockTTL = f.lockTTL
	}
	if changed("progress-every") {
		b.ProgressEvery = f.progressEvery
	}
	if changed("store") {
		s.Kind = f.store
	}
	if changed("store-url") {
		s.URL = f.storeURL
	}
	if changed("sql-driver") {
		s.SQLDriver = f.sqlDriver
	}
	if changed("sql-dsn") {
		s.SQLDSN = f.sqlDSN
	}
	if changed("data-dir") {
		s.DataDir = f.dataDir
	}
}

func newBackfillCmd(a *app) *cobra.Command {
	f := &backfillFlags{}
	runE := func(cmd *cobra.Command, _ []string) error {
		return a.runBackfill(cmd, f, nil)
	}

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Compute a derived field for every record of a collection",
		Long:  backfillLong,
		Example: `  memedb backfill --dry-run
  memedb backfill --batch-size 400 --data-dir /var/lib/memedb
  memedb backfill --store http --store-url http://localhost:8080 --deriver tags
  memedb backfill --store sql --sql-driver pgx --sql-dsn postgres://localhost/memes`,
		Args: cobra.NoArgs,
		RunE: runE,
	}
	f.bind(cmd)

	cmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Same as memedb backfill",
			Long:  backfillLong,
			Args:  cobra.NoArgs,
			RunE:  runE,
		},
		newRetryCmd(a, f),
		newUnlockCmd(a, f),
	)
	return cmd
}

func newRetryCmd(a *app, f *backfillFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Re-derive and re-commit the records listed in a retry file",
		Long: `Load the retry file written by a run with failed batches and backfill exactly
those records again. Values are re-derived from current data, so records
changed or deleted since the failed run are handled like in a normal run.
The file is removed once every listed record has been committed or skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			f.apply(cmd, &cfg)
			file, err := retryfile.Read(cfg.Backfill.RetryFile)
			if err != nil {
				return &ExitError{Code: backfill.ExitConfigError, Err: err}
			}
			return a.runBackfill(cmd, f, file)
		},
	}
}

func newUnlockCmd(a *app, f *backfillFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Force-release a collection's run lock left behind by a dead run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			f.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return &ExitError{Code: backfill.ExitConfigError, Err: err}
			}

			store, err := openStore(cmd.Context(), cfg, a.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			breaker, ok := store.(backfill.LockBreaker)
			if !ok {
				return fmt.Errorf("store %s does not support run locks", cfg.Store.Kind)
			}
			if err := breaker.ForceReleaseRunLock(cmd.Context(), cfg.Backfill.Collection); err != nil {
				return fmt.Errorf("failed to release run lock: %w", err)
			}

			name := backfill.LockName(cfg.Backfill.Collection)
			a.logger.Warn().Str("lock", name).Msg("run lock force-released")
			fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", name)
			return nil
		},
	}
}

// runBackfill runs a full scan, or a retry pass over retry's candidates when
// retry is non-nil, then records retries, publishes and prints the summary.
func (a *app) runBackfill(cmd *cobra.Command, f *backfillFlags, retry *retryfile.File) error {
	ctx := cmd.Context()
	cfg := a.cfg
	f.apply(cmd, &cfg)
	if retry != nil {
		cfg.Backfill.Collection = retry.Collection
		cfg.Backfill.Deriver = retry.Deriver
		cfg.Backfill.SourceField = retry.SourceField
		cfg.Backfill.TargetField = retry.Field
	}
	if err := cfg.Validate(); err != nil {
		return &ExitError{Code: backfill.ExitConfigError, Err: err}
	}

	b := cfg.Backfill
	logger := logging.Component(a.logger, "backfill")
	deriver, err := backfill.NewDeriver(b.Deriver, b.SourceField, b.TargetField)
	if err != nil {
		return &ExitError{Code: backfill.ExitConfigError, Err: err}
	}

	store, err := openStore(ctx, cfg, a.logger)
	if err != nil {
		srcErr := &backfill.SourceUnavailableError{Collection: b.Collection, Err: err}
		summary := abortedSummary(cfg, deriver.TargetField(), srcErr)
		logger.Error().Err(err).Str("store", cfg.Store.Kind).Msg("failed to open record store")
		a.printSummary(cmd, summary)
		return &ExitError{Code: backfill.ExitCodeFor(summary, srcErr), Err: srcErr}
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close record store")
		}
	}()

	var source backfill.RecordSource = backfill.NewStoreSource(store, b.Collection, b.PageSize)
	if retry != nil {
		logger.Info().Str("retry_file", b.RetryFile).Str("failed_run", retry.RunID).Int("records", len(retry.IDs())).Msg("retrying failed batches")
		source = backfill.NewIDSource(store, b.Collection, retry.IDs(), b.PageSize)
	}

	runner := backfill.NewRunner(store, source, deriver, backfill.Config{
		Collection:    b.Collection,
		BatchSize:     b.BatchSize,
		Concurrency:   b.Concurrency,
		DryRun:        b.DryRun,
		ProgressEvery: b.ProgressEvery,
		LockTTL:       b.LockTTL,
	}, backfill.WithLogger(logger))
	summary, runErr := runner.Run(ctx)

	retryPath := a.recordRetries(logger, cfg, summary, retry != nil)
	a.publish(cmd, cfg, summary, retryPath)
	a.printSummary(cmd, summary)

	if code := backfill.ExitCodeFor(summary, runErr); code != backfill.ExitSuccess {
		return &ExitError{Code: code, Err: runErr}
	}
	return nil
}

// recordRetries writes the retry file when batches failed. A retry pass that
// left nothing to retry removes the file it consumed.
func (a *app) recordRetries(logger zerolog.Logger, cfg config.Config, summary *backfill.RunSummary, retrying bool) string {
	path := cfg.Backfill.RetryFile
	if summary.DryRun || path == "" {
		return ""
	}

	if len(summary.RetryCandidates) == 0 {
		if retrying && summary.Status == backfill.StatusSuccess {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warn().Err(err).Str("retry_file", path).Msg("failed to remove retry file")
			} else {
				logger.Info().Str("retry_file", path).Msg("all retried records landed; retry file removed")
			}
		}
		return ""
	}

	file := retryfile.FromSummary(summary, cfg.Backfill.Deriver, cfg.Backfill.SourceField)
	if err := retryfile.Write(path, file); err != nil {
		logger.Error().Err(err).Str("retry_file", path).Msg("failed to write retry file; retry candidates are only in the summary")
		return ""
	}
	logger.Warn().Str("retry_file", path).Int("records", len(file.Candidates)).
		Msg("failed batches recorded; run `memedb backfill retry` to re-commit them")
	return path
}

// publish uploads the run report when a bucket is configured. Failures only warn.
func (a *app) publish(cmd *cobra.Command, cfg config.Config, summary *backfill.RunSummary, retryPath string) {
	if !cfg.Report.Enabled() {
		return
	}
	logger := logging.Component(a.logger, "reportsink")
	sink, err := reportsink.New(cfg.Report, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("report sink unavailable")
		return
	}
	if _, err := sink.Publish(cmd.Context(), summary, retryPath); err != nil {
		logger.Warn().Err(err).Msg("failed to publish run report")
	}
}

func (a *app) printSummary(cmd *cobra.Command, summary *backfill.RunSummary) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		a.logger.Error().Err(err).Msg("failed to print run summary")
	}
}

func abortedSummary(cfg config.Config, field string, err error) *backfill.RunSummary {
	now := time.Now()
	return &backfill.RunSummary{
		RunID:      ulid.Make().String(),
		Collection: cfg.Backfill.Collection,
		Field:      field,
		DryRun:     cfg.Backfill.DryRun,
		Status:     backfill.StatusRunAborted,
		StartedAt:  now,
		FinishedAt: now,
		Error:      err.Error(),
	}
}
