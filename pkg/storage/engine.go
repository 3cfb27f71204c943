package storage

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/memehubx/memedb/pkg/domain"
	"github.com/memehubx/memedb/pkg/indexing"
)

// ErrClosed is returned by operations on a closed engine
var ErrClosed = errors.New("storage engine is closed")

// NewStorageEngine creates a WAL-backed storage engine and recovers any
// state found in its directories
func NewStorageEngine(options ...StorageOption) (*StorageEngine, error) {
	engine := &StorageEngine{
		indexEngine:         indexing.NewIndexEngine(),
		logger:              zerolog.Nop(),
		walDir:              "./data/wal",
		checkpointDir:       "./data/checkpoints",
		checkpointInterval:  30 * time.Second,
		checkpointRetention: 2,
		durabilityLevel:     DurabilityOS,
		maxWALSize:          100 * 1024 * 1024, // 100MB
		maxBatchOps:         DefaultMaxBatchOps,
		now:                 time.Now,
		stopChan:            make(chan struct{}),
		stats:               &StorageStats{},
	}

	for _, option := range options {
		option(engine)
	}

	engine.walEngine = NewWALEngine(engine.walDir, engine.durabilityLevel)
	engine.checkpointMgr = NewCheckpointManager(engine)
	engine.recoveryMgr = NewRecoveryManager(engine)
	engine.memoryMgr = NewMemoryManager()

	if err := os.MkdirAll(engine.walDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}
	if err := os.MkdirAll(engine.checkpointDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	if err := engine.recoveryMgr.Recover(); err != nil {
		return nil, fmt.Errorf("recovery failed: %w", err)
	}

	return engine, nil
}

// Insert implements domain.StorageEngine
func (se *StorageEngine) Insert(collName string, doc domain.Document) (domain.Document, error) {
	docs, err := se.BatchInsert(collName, []domain.Document{doc})
	if err != nil {
		return nil, err
	}
	return docs[0], nil
}

// BatchInsert implements domain.StorageEngine. The batch is all-or-nothing.
func (se *StorageEngine) BatchInsert(collName string, docs []domain.Document) ([]domain.Document, error) {
	if collName == "" {
		return nil, fmt.Errorf("collection name cannot be empty: %w", domain.ErrInvalidArgument)
	}
	if err := se.checkBatchSize(len(docs)); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return []domain.Document{}, nil
	}

	prepared := make([]domain.Document, len(docs))
	for i, doc := range docs {
		prepared[i] = normalizeID(doc.Clone())
	}

	se.writeMu.Lock()
	defer se.writeMu.Unlock()
	if se.closed {
		return nil, ErrClosed
	}

	if err := se.memoryMgr.ValidateInserts(collName, prepared); err != nil {
		return nil, err
	}

	entryType := WALEntryBatchInsert
	if len(prepared) == 1 {
		entryType = WALEntryInsert
	}
	entry := &WALEntry{
		Type:       entryType,
		Collection: collName,
		Documents:  prepared,
	}
	if err := se.commit(entry); err != nil {
		return nil, err
	}

	out := make([]domain.Document, len(prepared))
	for i, doc := range prepared {
		out[i] = doc.Clone()
	}
	return out, nil
}

// GetById implements domain.StorageEngine
func (se *StorageEngine) GetById(collName, docId string) (domain.Document, error) {
	return se.memoryMgr.GetById(collName, docId)
}

// GetByIds implements domain.StorageEngine. Unknown ids are omitted from the result.
func (se *StorageEngine) GetByIds(collName string, docIds []string) ([]domain.Document, error) {
	return se.memoryMgr.GetByIds(collName, docIds), nil
}

// UpdateById implements domain.StorageEngine
func (se *StorageEngine) UpdateById(collName, docId string, updates domain.Document) (domain.Document, error) {
	se.writeMu.Lock()
	defer se.writeMu.Unlock()
	if se.closed {
		return nil, ErrClosed
	}

	ops := []domain.BatchUpdateOperation{{ID: docId, Updates: updates}}
	if err := se.memoryMgr.ValidateUpdates(collName, ops); err != nil {
		return nil, err
	}

	entry := &WALEntry{
		Type:       WALEntryUpdate,
		Collection: collName,
		DocumentID: docId,
		Updates:    updates,
	}
	if err := se.commit(entry); err != nil {
		return nil, err
	}
	return se.memoryMgr.GetById(collName, docId)
}

// BatchUpdate implements domain.StorageEngine. Either every operation is
// applied or none is; batches over MaxBatchOps are rejected whole.
func (se *StorageEngine) BatchUpdate(collName string, updates []domain.BatchUpdateOperation) ([]domain.Document, error) {
	if err := se.checkBatchSize(len(updates)); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return []domain.Document{}, nil
	}

	se.writeMu.Lock()
	defer se.writeMu.Unlock()
	if se.closed {
		return nil, ErrClosed
	}

	if err := se.memoryMgr.ValidateUpdates(collName, updates); err != nil {
		return nil, err
	}

	entry := &WALEntry{
		Type:       WALEntryBatchUpdate,
		Collection: collName,
		BatchOps:   updates,
	}
	if err := se.commit(entry); err != nil {
		return nil, err
	}

	ids := make([]string, len(updates))
	for i, op := range updates {
		ids[i] = op.ID
	}
	return se.memoryMgr.GetByIds(collName, ids), nil
}

// DeleteById implements domain.StorageEngine
func (se *StorageEngine) DeleteById(collName, docId string) error {
	se.writeMu.Lock()
	defer se.writeMu.Unlock()
	if se.closed {
		return ErrClosed
	}

	if _, err := se.memoryMgr.GetById(collName, docId); err != nil {
		return err
	}

	return se.commit(&WALEntry{
		Type:       WALEntryDelete,
		Collection: collName,
		DocumentID: docId,
	})
}

// FindAll implements domain.StorageEngine. A filter on an indexed field
// narrows the scan through the index before the remaining fields are matched.
func (se *StorageEngine) FindAll(collName string, filter map[string]interface{}, options *domain.PaginationOptions) (*domain.PaginationResult, error) {
	if options != nil {
		if err := options.Validate(); err != nil {
			return nil, err
		}
	}

	var candidates []string
	fields := make([]string, 0, len(filter))
	for field := range filter {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if ids, ok := se.indexEngine.Lookup(collName, field, filter[field]); ok {
			candidates = ids
			if candidates == nil {
				candidates = []string{}
			}
			break
		}
	}

	return se.memoryMgr.FindAll(collName, filter, candidates, options)
}

// ListPage implements domain.StorageEngine
func (se *StorageEngine) ListPage(collName, cursor string, limit int) (*domain.DocumentPage, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive: %w", domain.ErrInvalidArgument)
	}
	after, err := domain.DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrInvalidArgument)
	}

	docs, hasNext, err := se.memoryMgr.ListPage(collName, after.ID, limit)
	if err != nil {
		return nil, err
	}

	page := &domain.DocumentPage{Documents: docs, HasNext: hasNext}
	if hasNext && len(docs) > 0 {
		next, err := domain.EncodeCursor(&domain.Cursor{ID: docs[len(docs)-1].ID()})
		if err != nil {
			return nil, err
		}
		page.NextCursor = next
	}
	return page, nil
}

// CreateCollection implements domain.StorageEngine
func (se *StorageEngine) CreateCollection(collName string) error {
	if collName == "" {
		return fmt.Errorf("collection name cannot be empty: %w", domain.ErrInvalidArgument)
	}

	se.writeMu.Lock()
	defer se.writeMu.Unlock()
	if se.closed {
		return ErrClosed
	}

	if se.memoryMgr.HasCollection(collName) {
		return nil
	}
	return se.commit(&WALEntry{Type: WALEntryCreateCollection, Collection: collName})
}

// MaxBatchOps implements domain.StorageEngine
func (se *StorageEngine) MaxBatchOps() int {
	return se.maxBatchOps
}

// AcquireLock implements domain.StorageEngine. Re-acquiring a lock already
// held by owner extends it; a lock held by someone else is only taken over
// once it has expired. A ttl of zero never expires.
func (se *StorageEngine) AcquireLock(name, owner string, ttl time.Duration) (*domain.Lock, error) {
	if name == "" || owner == "" {
		return nil, fmt.Errorf("lock name and owner are required: %w", domain.ErrInvalidArgument)
	}

	se.writeMu.Lock()
	defer se.writeMu.Unlock()
	if se.closed {
		return nil, ErrClosed
	}

	now := se.now()
	lock := domain.Lock{Name: name, Owner: owner, AcquiredAt: now}
	if current, held := se.memoryMgr.GetLock(name); held && !current.Expired(now) {
		if current.Owner != owner {
			return nil, fmt.Errorf("lock %s held by %s until %s: %w",
				name, current.Owner, current.ExpiresAt.Format(time.RFC3339), domain.ErrLockHeld)
		}
		lock.AcquiredAt = current.AcquiredAt
	}
	if ttl > 0 {
		lock.ExpiresAt = now.Add(ttl)
	}

	if err := se.commit(&WALEntry{Type: WALEntryLock, Lock: &lock}); err != nil {
		return nil, err
	}

	se.logger.Debug().Str("lock", name).Str("owner", owner).Time("expires_at", lock.ExpiresAt).Msg("lock acquired")
	return &lock, nil
}

// ReleaseLock implements domain.StorageEngine. An empty owner force-releases
// the lock whoever holds it; releasing a free lock is a no-op.
func (se *StorageEngine) ReleaseLock(name, owner string) error {
	se.writeMu.Lock()
	defer se.writeMu.Unlock()
	if se.closed {
		return ErrClosed
	}

	current, held := se.memoryMgr.GetLock(name)
	if !held {
		return nil
	}
	if owner != "" && current.Owner != owner && !current.Expired(se.now()) {
		return fmt.Errorf("lock %s held by %s: %w", name, current.Owner, domain.ErrLockHeld)
	}

	if err := se.commit(&WALEntry{Type: WALEntryUnlock, Lock: &domain.Lock{Name: name, Owner: current.Owner}}); err != nil {
		return err
	}

	se.logger.Debug().Str("lock", name).Str("owner", current.Owner).Bool("forced", owner == "").Msg("lock released")
	return nil
}

// GetLock returns the current holder of a lock
func (se *StorageEngine) GetLock(name string) (domain.Lock, bool) {
	return se.memoryMgr.GetLock(name)
}

// CreateIndex implements domain.IndexEngine
func (se *StorageEngine) CreateIndex(collName, fieldName string) error {
	if fieldName == "" {
		return fmt.Errorf("field name cannot be empty: %w", domain.ErrInvalidArgument)
	}

	se.writeMu.Lock()
	defer se.writeMu.Unlock()
	if se.closed {
		return ErrClosed
	}

	if !se.memoryMgr.HasCollection(collName) {
		return fmt.Errorf("collection %s: %w", collName, domain.ErrNotFound)
	}
	existing, _ := se.indexEngine.GetIndexes(collName)
	for _, name := range existing {
		if name == fieldName {
			return fmt.Errorf("index on field %s in collection %s: %w", fieldName, collName, domain.ErrAlreadyExists)
		}
	}

	return se.commit(&WALEntry{Type: WALEntryCreateIndex, Collection: collName, Field: fieldName})
}

// GetIndexes implements domain.IndexEngine
func (se *StorageEngine) GetIndexes(collName string) ([]string, error) {
	if !se.memoryMgr.HasCollection(collName) {
		return nil, fmt.Errorf("collection %s: %w", collName, domain.ErrNotFound)
	}
	return se.indexEngine.GetIndexes(collName)
}

// GetMemoryStats implements domain.StorageEngine
func (se *StorageEngine) GetMemoryStats() map[string]interface{} {
	stats := se.memoryMgr.GetMemoryStats()

	se.statsMu.RLock()
	defer se.statsMu.RUnlock()

	stats["wal_entries_written"] = se.stats.WALEntriesWritten
	stats["wal_bytes_written"] = se.stats.WALBytesWritten
	stats["checkpoints_performed"] = se.stats.CheckpointsPerformed
	stats["recovery_time_ms"] = se.stats.RecoveryTime.Milliseconds()
	stats["entries_replayed"] = se.stats.EntriesReplayed
	stats["batches_rejected"] = se.stats.BatchesRejected
	stats["last_checkpoint"] = se.stats.LastCheckpoint
	stats["max_batch_ops"] = se.maxBatchOps
	return stats
}

// GetStats returns a copy of the engine statistics
func (se *StorageEngine) GetStats() StorageStats {
	se.statsMu.RLock()
	defer se.statsMu.RUnlock()
	return *se.stats
}

// Checkpoint writes a full snapshot and truncates the WAL it covers
func (se *StorageEngine) Checkpoint() error {
	return se.checkpointMgr.Checkpoint()
}

// StartBackgroundWorkers starts the periodic checkpoint worker
func (se *StorageEngine) StartBackgroundWorkers() {
	se.startOnce.Do(func() {
		se.backgroundWg.Add(1)
		go se.checkpointMgr.Run()
	})
}

// StopBackgroundWorkers stops the checkpoint worker and waits for it to exit
func (se *StorageEngine) StopBackgroundWorkers() {
	se.stopOnce.Do(func() {
		close(se.stopChan)
		se.backgroundWg.Wait()
	})
}

// Close stops background work, writes a final checkpoint and closes the WAL
func (se *StorageEngine) Close() error {
	se.StopBackgroundWorkers()

	ckptErr := se.checkpointMgr.Checkpoint()

	se.writeMu.Lock()
	defer se.writeMu.Unlock()
	if se.closed {
		return nil
	}
	se.closed = true

	if err := se.walEngine.Close(); err != nil {
		return fmt.Errorf("failed to close WAL: %w", err)
	}
	if ckptErr != nil {
		return fmt.Errorf("final checkpoint failed: %w", ckptErr)
	}
	return nil
}

// Helper methods

// commit appends entry to the WAL and applies it. Caller holds writeMu.
func (se *StorageEngine) commit(entry *WALEntry) error {
	entry.Timestamp = se.now().UnixNano()

	n, err := se.walEngine.WriteEntry(entry)
	if err != nil {
		return fmt.Errorf("failed to write WAL entry: %w", err)
	}

	if err := se.applyEntry(entry); err != nil {
		return fmt.Errorf("failed to apply WAL entry %d: %w", entry.LSN, err)
	}

	se.updateStats(func(s *StorageStats) {
		s.WALEntriesWritten++
		s.WALBytesWritten += int64(n)
	})

	if se.maxWALSize > 0 && se.walEngine.CurrentSize() >= se.maxWALSize {
		se.checkpointMgr.Trigger()
	}
	return nil
}

// applyEntry mutates in-memory state for one logged entry. It is shared by
// the live write path and WAL replay, so both produce identical state.
func (se *StorageEngine) applyEntry(entry *WALEntry) error {
	at := time.Unix(0, entry.Timestamp)

	switch entry.Type {
	case WALEntryCreateCollection:
		se.memoryMgr.CreateCollection(entry.Collection, at)

	case WALEntryInsert, WALEntryBatchInsert:
		se.memoryMgr.InsertDocuments(entry.Collection, entry.Documents, at)
		for _, doc := range entry.Documents {
			se.indexEngine.UpdateIndexForDocument(entry.Collection, doc.ID(), nil, doc)
		}

	case WALEntryUpdate:
		se.applyUpdates(entry.Collection, []domain.BatchUpdateOperation{{ID: entry.DocumentID, Updates: entry.Updates}}, at)

	case WALEntryBatchUpdate:
		se.applyUpdates(entry.Collection, entry.BatchOps, at)

	case WALEntryDelete:
		old, err := se.memoryMgr.DeleteDocument(entry.Collection, entry.DocumentID, at)
		if err != nil {
			return err
		}
		se.indexEngine.UpdateIndexForDocument(entry.Collection, entry.DocumentID, old, nil)

	case WALEntryCreateIndex:
		se.memoryMgr.AddIndexName(entry.Collection, entry.Field, at)
		se.indexEngine.BuildIndexForCollection(entry.Collection, entry.Field, se.memoryMgr.GetAllDocuments(entry.Collection))

	case WALEntryLock:
		if entry.Lock == nil {
			return fmt.Errorf("lock entry without lock")
		}
		se.memoryMgr.PutLock(*entry.Lock)

	case WALEntryUnlock:
		if entry.Lock == nil {
			return fmt.Errorf("unlock entry without lock")
		}
		se.memoryMgr.DeleteLock(entry.Lock.Name)

	default:
		return fmt.Errorf("unknown WAL entry type: %d", entry.Type)
	}
	return nil
}

func (se *StorageEngine) applyUpdates(collName string, ops []domain.BatchUpdateOperation, at time.Time) {
	before, after := se.memoryMgr.ApplyUpdates(collName, ops, at)
	for i := range after {
		se.indexEngine.UpdateIndexForDocument(collName, after[i].ID(), before[i], after[i])
	}
}

func (se *StorageEngine) checkBatchSize(n int) error {
	if se.maxBatchOps > 0 && n > se.maxBatchOps {
		se.updateStats(func(s *StorageStats) { s.BatchesRejected++ })
		return fmt.Errorf("%d operations, limit %d: %w", n, se.maxBatchOps, domain.ErrBatchTooLarge)
	}
	return nil
}

func (se *StorageEngine) updateStats(updater func(*StorageStats)) {
	se.statsMu.Lock()
	defer se.statsMu.Unlock()
	updater(se.stats)
}

// normalizeID assigns a ULID to documents without "_id" and stringifies
// non-string ids, so the id ordering used by ListPage is well defined
func normalizeID(doc domain.Document) domain.Document {
	switch id := doc["_id"].(type) {
	case nil:
		doc["_id"] = ulid.Make().String()
	case string:
		if id == "" {
			doc["_id"] = ulid.Make().String()
		}
	case float64:
		doc["_id"] = strconv.FormatFloat(id, 'f', -1, 64)
	default:
		doc["_id"] = fmt.Sprint(id)
	}
	return doc
}
