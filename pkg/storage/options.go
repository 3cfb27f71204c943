package storage

import (
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// StorageOption configures the storage engine
type StorageOption func(*StorageEngine)

// WithDataDir places the WAL and checkpoint directories under dir
func WithDataDir(dir string) StorageOption {
	return func(engine *StorageEngine) {
		engine.walDir = filepath.Join(dir, "wal")
		engine.checkpointDir = filepath.Join(dir, "checkpoints")
	}
}

// WithWALDir sets the directory for WAL files
func WithWALDir(dir string) StorageOption {
	return func(engine *StorageEngine) {
		engine.walDir = dir
	}
}

// WithCheckpointDir sets the directory for checkpoint files
func WithCheckpointDir(dir string) StorageOption {
	return func(engine *StorageEngine) {
		engine.checkpointDir = dir
	}
}

// WithCheckpointInterval sets how often the background worker checkpoints
func WithCheckpointInterval(interval time.Duration) StorageOption {
	return func(engine *StorageEngine) {
		engine.checkpointInterval = interval
	}
}

// WithCheckpointRetention sets how many checkpoint files are kept on disk
func WithCheckpointRetention(count int) StorageOption {
	return func(engine *StorageEngine) {
		engine.checkpointRetention = count
	}
}

// WithDurabilityLevel sets the durability guarantee level
func WithDurabilityLevel(level DurabilityLevel) StorageOption {
	return func(engine *StorageEngine) {
		engine.durabilityLevel = level
	}
}

// WithMaxWALSize sets the maximum WAL size before a checkpoint is forced
func WithMaxWALSize(size int64) StorageOption {
	return func(engine *StorageEngine) {
		engine.maxWALSize = size
	}
}

// WithMaxBatchOps sets the hard ceiling on operations per atomic batch
func WithMaxBatchOps(n int) StorageOption {
	return func(engine *StorageEngine) {
		engine.maxBatchOps = n
	}
}

// WithLogger sets the engine logger
func WithLogger(logger zerolog.Logger) StorageOption {
	return func(engine *StorageEngine) {
		engine.logger = logger
	}
}

// WithClock overrides the engine clock (lock expiry, timestamps)
func WithClock(now func() time.Time) StorageOption {
	return func(engine *StorageEngine) {
		engine.now = now
	}
}
