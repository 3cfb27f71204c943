package storage

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/memehubx/memedb/pkg/domain"
	"github.com/memehubx/memedb/pkg/indexing"
)

// DurabilityLevel represents the level of durability guarantee
type DurabilityLevel int

const (
	DurabilityNone   DurabilityLevel = iota // No durability guarantees
	DurabilityMemory                        // Durability to memory only
	DurabilityOS                            // Durability to OS page cache (default)
	DurabilityFull                          // Full durability with fsync
)

// DefaultMaxBatchOps is the default ceiling on operations per atomic batch
const DefaultMaxBatchOps = 500

// WALEntryType represents the type of WAL entry
type WALEntryType uint8

const (
	WALEntryInsert WALEntryType = iota + 1
	WALEntryUpdate
	WALEntryDelete
	WALEntryBatchInsert
	WALEntryBatchUpdate
	WALEntryCreateCollection
	WALEntryCreateIndex
	WALEntryLock
	WALEntryUnlock
)

// WALEntry represents a single entry in the write-ahead log
type WALEntry struct {
	Type       WALEntryType                  `json:"type"`
	Timestamp  int64                         `json:"timestamp"`
	Collection string                        `json:"collection,omitempty"`
	DocumentID string                        `json:"document_id,omitempty"`
	Documents  []domain.Document             `json:"documents,omitempty"`
	Updates    domain.Document               `json:"updates,omitempty"`
	BatchOps   []domain.BatchUpdateOperation `json:"batch_ops,omitempty"`
	Field      string                        `json:"field,omitempty"`
	Lock       *domain.Lock                  `json:"lock,omitempty"`
	LSN        int64                         `json:"lsn"` // Log Sequence Number
	Checksum   uint32                        `json:"checksum"`
}

// CollectionInfo holds metadata about a collection
type CollectionInfo struct {
	Name          string    `json:"name"`
	DocumentCount int64     `json:"document_count"`
	CreatedAt     time.Time `json:"created_at"`
	LastModified  time.Time `json:"last_modified"`
	Indexes       []string  `json:"indexes"`
}

// StorageEngine is a WAL-backed in-memory document store
type StorageEngine struct {
	// Core components
	walEngine     *WALEngine
	checkpointMgr *CheckpointManager
	recoveryMgr   *RecoveryManager
	memoryMgr     *MemoryManager
	indexEngine   *indexing.IndexEngine
	logger        zerolog.Logger

	// Configuration
	walDir              string
	checkpointDir       string
	checkpointInterval  time.Duration
	checkpointRetention int
	durabilityLevel     DurabilityLevel
	maxWALSize          int64
	maxBatchOps         int
	now                 func() time.Time

	// writeMu serializes WAL append + in-memory apply so replay order matches apply order
	writeMu sync.Mutex

	// Background workers
	backgroundWg sync.WaitGroup
	stopChan     chan struct{}
	startOnce    sync.Once
	stopOnce     sync.Once
	closed       bool

	// Statistics
	stats   *StorageStats
	statsMu sync.RWMutex
}

// StorageStats holds performance and health statistics
type StorageStats struct {
	WALEntriesWritten    int64
	WALBytesWritten      int64
	CheckpointsPerformed int64
	RecoveryTime         time.Duration
	EntriesReplayed      int64
	LastCheckpoint       time.Time
	BatchesRejected      int64
}

// WALEngine manages the write-ahead log
type WALEngine struct {
	walDir          string
	durabilityLevel DurabilityLevel
	currentLSN      int64
	walFile         *WALFile
	mu              sync.Mutex
}

// WALFile represents an open WAL file
type WALFile struct {
	Path     string
	File     *os.File
	Position int64
	Entries  int64
}

// CheckpointManager handles periodic checkpointing
type CheckpointManager struct {
	engine            *StorageEngine
	interval          time.Duration
	maxWALSize        int64
	retention         int
	lastCheckpoint    time.Time
	lastCheckpointLSN int64
	hasCheckpoint     bool
	trigger           chan struct{}
	mu                sync.Mutex
}

// RecoveryManager handles startup recovery
type RecoveryManager struct {
	engine *StorageEngine
}

// MemoryManager holds the in-memory collections and locks
type MemoryManager struct {
	collections map[string]*Collection
	locks       map[string]domain.Lock
	mu          sync.RWMutex
}

// Collection represents an in-memory collection
type Collection struct {
	Name         string
	Documents    map[string]domain.Document
	Indexes      []string
	CreatedAt    time.Time
	LastModified time.Time

	// sortedIDs caches the id order used by ListPage; nil when stale
	sortedIDs []string
}
