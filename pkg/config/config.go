// Package config loads memedb settings from a YAML file, then MEMEDB_*
// environment variables. Command-line flags are applied on top by the CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/memehubx/memedb/pkg/backfill"
	"github.com/memehubx/memedb/pkg/logging"
	"github.com/memehubx/memedb/pkg/recordstore/sqlstore"
	"github.com/memehubx/memedb/pkg/reportsink"
	"github.com/memehubx/memedb/pkg/storage"
)

// DefaultFile is read when --config is not given and the file exists
const DefaultFile = "memedb.yaml"

// Store kinds
const (
	StoreEngine = "engine"
	StoreHTTP   = "http"
	StoreSQL    = "sql"
)

// Config is the full memedb configuration
type Config struct {
	Log      logging.Config    `yaml:"log"`
	Store    StoreConfig       `yaml:"store"`
	Backfill BackfillConfig    `yaml:"backfill"`
	Server   ServerConfig      `yaml:"server"`
	Report   reportsink.Config `yaml:"report"`
}

// StoreConfig selects and configures the record store
type StoreConfig struct {
	Kind               string        `yaml:"kind"`
	URL                string        `yaml:"url"`
	SQLDriver          string        `yaml:"sql_driver"`
	SQLDSN             string        `yaml:"sql_dsn"`
	DataDir            string        `yaml:"data_dir"`
	MaxBatchOps        int           `yaml:"max_batch_ops"`
	Durability         string        `yaml:"durability"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// BackfillConfig controls a backfill run
type BackfillConfig struct {
	Collection    string        `yaml:"collection"`
	Deriver       string        `yaml:"deriver"`
	SourceField   string        `yaml:"source_field"`
	TargetField   string        `yaml:"target_field"`
	BatchSize     int           `yaml:"batch_size"`
	PageSize      int           `yaml:"page_size"`
	Concurrency   int           `yaml:"commit_concurrency"`
	ProgressEvery int           `yaml:"progress_every"`
	DryRun        bool          `yaml:"dry_run"`
	RetryFile     string        `yaml:"retry_file"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
}

// ServerConfig configures `memedb serve`
type ServerConfig struct {
	Port string `yaml:"port"`
}

// Default returns the built-in settings
func Default() Config {
	return Config{
		Store: StoreConfig{
			Kind:               StoreEngine,
			SQLDriver:          sqlstore.DriverSQLite,
			DataDir:            "./data",
			MaxBatchOps:        storage.DefaultMaxBatchOps,
			Durability:         "os",
			CheckpointInterval: 30 * time.Second,
		},
		Backfill: BackfillConfig{
			Collection:    "memes",
			Deriver:       "lowercase",
			PageSize:      backfill.DefaultPageSize,
			Concurrency:   1,
			ProgressEvery: backfill.DefaultProgressEvery,
			RetryFile:     "memedb-retry.godb",
			LockTTL:       backfill.DefaultLockTTL,
		},
		Server: ServerConfig{Port: "8080"},
	}
}

// Load reads path (or DefaultFile when path is empty and that file exists)
// over the defaults, then applies the environment.
func Load(path string, lookup LookupFunc) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(bytes.NewReader(data), &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := ApplyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides cfg with MEMEDB_* variables
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	var err error
	cfg.Log.Level = envString(lookup, "MEMEDB_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envString(lookup, "MEMEDB_LOG_FORMAT", cfg.Log.Format)
	cfg.Log.File = envString(lookup, "MEMEDB_LOG_FILE", cfg.Log.File)

	cfg.Store.Kind = envString(lookup, "MEMEDB_STORE", cfg.Store.Kind)
	cfg.Store.URL = envString(lookup, "MEMEDB_STORE_URL", cfg.Store.URL)
	cfg.Store.SQLDriver = envString(lookup, "MEMEDB_SQL_DRIVER", cfg.Store.SQLDriver)
	cfg.Store.SQLDSN = envString(lookup, "MEMEDB_SQL_DSN", cfg.Store.SQLDSN)
	cfg.Store.DataDir = envString(lookup, "MEMEDB_DATA_DIR", cfg.Store.DataDir)
	cfg.Store.Durability = envString(lookup, "MEMEDB_DURABILITY", cfg.Store.Durability)
	if cfg.Store.MaxBatchOps, err = envInt(lookup, "MEMEDB_MAX_BATCH_OPS", cfg.Store.MaxBatchOps); err != nil {
		return err
	}
	if cfg.Store.CheckpointInterval, err = envDuration(lookup, "MEMEDB_CHECKPOINT_INTERVAL", cfg.Store.CheckpointInterval); err != nil {
		return err
	}

	b := &cfg.Backfill
	b.Collection = envString(lookup, "MEMEDB_COLLECTION", b.Collection)
	b.Deriver = envString(lookup, "MEMEDB_DERIVER", b.Deriver)
	b.SourceField = envString(lookup, "MEMEDB_SOURCE_FIELD", b.SourceField)
	b.TargetField = envString(lookup, "MEMEDB_TARGET_FIELD", b.TargetField)
	b.RetryFile = envString(lookup, "MEMEDB_RETRY_FILE", b.RetryFile)
	if b.BatchSize, err = envInt(lookup, "MEMEDB_BATCH_SIZE", b.BatchSize); err != nil {
		return err
	}
	if b.PageSize, err = envInt(lookup, "MEMEDB_PAGE_SIZE", b.PageSize); err != nil {
		return err
	}
	if b.Concurrency, err = envInt(lookup, "MEMEDB_COMMIT_CONCURRENCY", b.Concurrency); err != nil {
		return err
	}
	if b.ProgressEvery, err = envInt(lookup, "MEMEDB_PROGRESS_EVERY", b.ProgressEvery); err != nil {
		return err
	}
	if b.DryRun, err = envBool(lookup, "MEMEDB_DRY_RUN", b.DryRun); err != nil {
		return err
	}
	if b.LockTTL, err = envDuration(lookup, "MEMEDB_LOCK_TTL", b.LockTTL); err != nil {
		return err
	}

	cfg.Server.Port = envString(lookup, "MEMEDB_PORT", cfg.Server.Port)

	r := &cfg.Report
	r.Endpoint = envString(lookup, "MEMEDB_REPORT_ENDPOINT", r.Endpoint)
	r.AccessKey = envString(lookup, "MEMEDB_REPORT_ACCESS_KEY", r.AccessKey)
	r.SecretKey = envString(lookup, "MEMEDB_REPORT_SECRET_KEY", r.SecretKey)
	r.Region = envString(lookup, "MEMEDB_REPORT_REGION", r.Region)
	r.Bucket = envString(lookup, "MEMEDB_REPORT_BUCKET", r.Bucket)
	r.Prefix = envString(lookup, "MEMEDB_REPORT_PREFIX", r.Prefix)
	if r.UseSSL, err = envBool(lookup, "MEMEDB_REPORT_USE_SSL", r.UseSSL); err != nil {
		return err
	}
	return nil
}

var durabilityLevels = map[string]storage.DurabilityLevel{
	"none":   storage.DurabilityNone,
	"memory": storage.DurabilityMemory,
	"os":     storage.DurabilityOS,
	"full":   storage.DurabilityFull,
}

// DurabilityLevel parses Store.Durability
func (s StoreConfig) DurabilityLevel() (storage.DurabilityLevel, error) {
	level, ok := durabilityLevels[s.Durability]
	if !ok {
		return 0, &backfill.ConfigurationError{Field: "store.durability", Reason: fmt.Sprintf("unknown level %q (want none, memory, os or full)", s.Durability)}
	}
	return level, nil
}

// Validate reports every invalid field. Each error is a *backfill.ConfigurationError.
func (c Config) Validate() error {
	var errs []error
	invalid := func(field, reason string) {
		errs = append(errs, &backfill.ConfigurationError{Field: field, Reason: reason})
	}

	switch c.Store.Kind {
	case StoreEngine:
		if c.Store.DataDir == "" {
			invalid("store.data_dir", "is required for the engine store")
		}
	case StoreHTTP:
		if c.Store.URL == "" {
			invalid("store.url", "is required for the http store")
		}
	case StoreSQL:
		if c.Store.SQLDriver != sqlstore.DriverPostgres && c.Store.SQLDriver != sqlstore.DriverSQLite {
			invalid("store.sql_driver", fmt.Sprintf("%q is not supported (want pgx or sqlite)", c.Store.SQLDriver))
		}
		if c.Store.SQLDSN == "" {
			invalid("store.sql_dsn", "is required for the sql store")
		}
	default:
		invalid("store.kind", fmt.Sprintf("%q is not one of engine, http, sql", c.Store.Kind))
	}
	if c.Store.MaxBatchOps < 0 {
		invalid("store.max_batch_ops", "must not be negative")
	}
	if _, err := c.Store.DurabilityLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Store.CheckpointInterval < 0 {
		invalid("store.checkpoint_interval", "must not be negative")
	}

	b := c.Backfill
	if b.Collection == "" {
		invalid("backfill.collection", "must not be empty")
	}
	if !slices.Contains(backfill.DeriverNames(), b.Deriver) {
		invalid("backfill.deriver", fmt.Sprintf("%q is not one of %v", b.Deriver, backfill.DeriverNames()))
	}
	if b.BatchSize < 0 {
		invalid("backfill.batch_size", "must not be negative")
	}
	if b.PageSize < 0 {
		invalid("backfill.page_size", "must not be negative")
	}
	if b.Concurrency < 0 {
		invalid("backfill.commit_concurrency", "must not be negative")
	}
	if b.LockTTL < 0 {
		invalid("backfill.lock_ttl", "must not be negative")
	}

	if err := c.Report.Validate(); err != nil {
		invalid("report", err.Error())
	}
	return errors.Join(errs...)
}
