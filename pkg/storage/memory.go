package storage

import (
	"fmt"
	"sort"
	"time"

	"github.com/memehubx/memedb/pkg/domain"
)

// NewMemoryManager creates a new memory manager
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		collections: make(map[string]*Collection),
		locks:       make(map[string]domain.Lock),
	}
}

// CreateCollection creates an empty collection; it is a no-op if one exists
func (mm *MemoryManager) CreateCollection(collName string, now time.Time) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.getOrCreateCollection(collName, now)
}

// HasCollection reports whether a collection exists
func (mm *MemoryManager) HasCollection(collName string) bool {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	_, ok := mm.collections[collName]
	return ok
}

// ValidateInserts checks that every document has an id not yet in the collection
func (mm *MemoryManager) ValidateInserts(collName string, docs []domain.Document) error {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	coll := mm.collections[collName]
	seen := make(map[string]struct{}, len(docs))
	for i, doc := range docs {
		docID := doc.ID()
		if docID == "" {
			return fmt.Errorf("document %d: missing _id: %w", i, domain.ErrInvalidArgument)
		}
		if _, dup := seen[docID]; dup {
			return fmt.Errorf("document %d: duplicate id %s in batch: %w", i, docID, domain.ErrAlreadyExists)
		}
		seen[docID] = struct{}{}
		if coll != nil {
			if _, exists := coll.Documents[docID]; exists {
				return fmt.Errorf("document with id %s: %w", docID, domain.ErrAlreadyExists)
			}
		}
	}
	return nil
}

// InsertDocuments stores documents, creating the collection if needed.
// Callers validate first; existing ids are overwritten here.
func (mm *MemoryManager) InsertDocuments(collName string, docs []domain.Document, now time.Time) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	coll := mm.getOrCreateCollection(collName, now)
	for _, doc := range docs {
		coll.Documents[doc.ID()] = doc
	}
	coll.LastModified = now
	coll.sortedIDs = nil
}

// GetById retrieves a document by ID
func (mm *MemoryManager) GetById(collName, docID string) (domain.Document, error) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	coll, exists := mm.collections[collName]
	if !exists {
		return nil, fmt.Errorf("collection %s: %w", collName, domain.ErrNotFound)
	}

	doc, exists := coll.Documents[docID]
	if !exists {
		return nil, fmt.Errorf("document %s in collection %s: %w", docID, collName, domain.ErrNotFound)
	}

	return doc.Clone(), nil
}

// GetByIds returns the documents that exist, in request order; missing ids are skipped
func (mm *MemoryManager) GetByIds(collName string, docIDs []string) []domain.Document {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	coll, exists := mm.collections[collName]
	if !exists {
		return []domain.Document{}
	}

	docs := make([]domain.Document, 0, len(docIDs))
	for _, id := range docIDs {
		if doc, ok := coll.Documents[id]; ok {
			docs = append(docs, doc.Clone())
		}
	}
	return docs
}

// ValidateUpdates checks the whole batch before anything is written
func (mm *MemoryManager) ValidateUpdates(collName string, updates []domain.BatchUpdateOperation) error {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	coll, exists := mm.collections[collName]
	if !exists {
		return fmt.Errorf("collection %s: %w", collName, domain.ErrNotFound)
	}

	for i, update := range updates {
		if update.ID == "" {
			return fmt.Errorf("operation %d: document ID cannot be empty: %w", i, domain.ErrInvalidArgument)
		}
		if _, exists := coll.Documents[update.ID]; !exists {
			return fmt.Errorf("operation %d: document with id %s: %w", i, update.ID, domain.ErrNotFound)
		}
	}
	return nil
}

// ApplyUpdates merges each update into its document. It returns the
// pre-images and the merged documents in operation order.
func (mm *MemoryManager) ApplyUpdates(collName string, updates []domain.BatchUpdateOperation, now time.Time) (before, after []domain.Document) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	coll, exists := mm.collections[collName]
	if !exists {
		return nil, nil
	}

	before = make([]domain.Document, 0, len(updates))
	after = make([]domain.Document, 0, len(updates))
	for _, update := range updates {
		existing, ok := coll.Documents[update.ID]
		if !ok {
			continue
		}
		updated := mergeDocuments(existing, update.Updates)
		coll.Documents[update.ID] = updated
		before = append(before, existing)
		after = append(after, updated.Clone())
	}
	coll.LastModified = now
	return before, after
}

// DeleteDocument removes a document and returns its last version
func (mm *MemoryManager) DeleteDocument(collName, docID string, now time.Time) (domain.Document, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	coll, exists := mm.collections[collName]
	if !exists {
		return nil, fmt.Errorf("collection %s: %w", collName, domain.ErrNotFound)
	}
	doc, exists := coll.Documents[docID]
	if !exists {
		return nil, fmt.Errorf("document %s in collection %s: %w", docID, collName, domain.ErrNotFound)
	}

	delete(coll.Documents, docID)
	coll.LastModified = now
	coll.sortedIDs = nil
	return doc, nil
}

// ListPage returns up to limit documents with ids strictly greater than afterID, in id order
func (mm *MemoryManager) ListPage(collName, afterID string, limit int) ([]domain.Document, bool, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	coll, exists := mm.collections[collName]
	if !exists {
		return nil, false, fmt.Errorf("collection %s: %w", collName, domain.ErrNotFound)
	}

	ids := coll.orderedIDs()
	start := sort.SearchStrings(ids, afterID)
	if start < len(ids) && ids[start] == afterID {
		start++
	}

	end := start + limit
	if end > len(ids) {
		end = len(ids)
	}

	docs := make([]domain.Document, 0, end-start)
	for _, id := range ids[start:end] {
		docs = append(docs, coll.Documents[id].Clone())
	}
	return docs, end < len(ids), nil
}

// FindAll finds documents matching every filter field. candidates, when
// non-nil, restricts the scan to those ids (from an index lookup).
func (mm *MemoryManager) FindAll(collName string, filter map[string]interface{}, candidates []string, options *domain.PaginationOptions) (*domain.PaginationResult, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	coll, exists := mm.collections[collName]
	if !exists {
		return nil, fmt.Errorf("collection %s: %w", collName, domain.ErrNotFound)
	}

	ids := candidates
	if ids == nil {
		ids = coll.orderedIDs()
	} else {
		ids = append([]string(nil), ids...)
		sort.Strings(ids)
	}

	var matched []domain.Document
	for _, id := range ids {
		doc, ok := coll.Documents[id]
		if ok && matchesFilter(doc, filter) {
			matched = append(matched, doc)
		}
	}

	limit := 50
	offset := 0
	if options != nil {
		if options.Limit > 0 {
			limit = options.Limit
		}
		offset = options.Offset
	}

	total := len(matched)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	page := make([]domain.Document, 0, end-start)
	for _, doc := range matched[start:end] {
		page = append(page, doc.Clone())
	}

	return &domain.PaginationResult{
		Documents: page,
		Total:     int64(total),
		HasNext:   end < total,
		HasPrev:   start > 0,
	}, nil
}

// GetAllDocuments returns the live document map of a collection.
// Callers must hold the engine write lock while using it.
func (mm *MemoryManager) GetAllDocuments(collName string) map[string]domain.Document {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	if coll, exists := mm.collections[collName]; exists {
		return coll.Documents
	}
	return map[string]domain.Document{}
}

// AddIndexName records an indexed field on a collection
func (mm *MemoryManager) AddIndexName(collName, field string, now time.Time) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	coll := mm.getOrCreateCollection(collName, now)
	for _, existing := range coll.Indexes {
		if existing == field {
			return
		}
	}
	coll.Indexes = append(coll.Indexes, field)
}

// GetLock returns the current holder of a lock, if any
func (mm *MemoryManager) GetLock(name string) (domain.Lock, bool) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	lock, ok := mm.locks[name]
	return lock, ok
}

// PutLock records a lock holder
func (mm *MemoryManager) PutLock(lock domain.Lock) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.locks[lock.Name] = lock
}

// DeleteLock clears a lock
func (mm *MemoryManager) DeleteLock(name string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	delete(mm.locks, name)
}

// GetMemoryStats returns memory usage statistics
func (mm *MemoryManager) GetMemoryStats() map[string]interface{} {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	totalDocs := 0
	for _, coll := range mm.collections {
		totalDocs += len(coll.Documents)
	}

	return map[string]interface{}{
		"collections":     len(mm.collections),
		"total_documents": totalDocs,
		"locks":           len(mm.locks),
	}
}

// Snapshot copies every collection and lock into checkpoint form
func (mm *MemoryManager) Snapshot() ([]collectionSnapshot, []domain.Lock) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	names := make([]string, 0, len(mm.collections))
	for name := range mm.collections {
		names = append(names, name)
	}
	sort.Strings(names)

	colls := make([]collectionSnapshot, 0, len(names))
	for _, name := range names {
		coll := mm.collections[name]
		docs := make([]domain.Document, 0, len(coll.Documents))
		for _, id := range coll.orderedIDsLocked() {
			docs = append(docs, coll.Documents[id])
		}
		colls = append(colls, collectionSnapshot{
			Name:         coll.Name,
			CreatedAt:    coll.CreatedAt,
			LastModified: coll.LastModified,
			Indexes:      append([]string(nil), coll.Indexes...),
			Documents:    docs,
		})
	}

	locks := make([]domain.Lock, 0, len(mm.locks))
	for _, lock := range mm.locks {
		locks = append(locks, lock)
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].Name < locks[j].Name })

	return colls, locks
}

// Restore replaces all in-memory state with a checkpoint
func (mm *MemoryManager) Restore(colls []collectionSnapshot, locks []domain.Lock) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	mm.collections = make(map[string]*Collection, len(colls))
	for _, snap := range colls {
		coll := &Collection{
			Name:         snap.Name,
			Documents:    make(map[string]domain.Document, len(snap.Documents)),
			Indexes:      snap.Indexes,
			CreatedAt:    snap.CreatedAt,
			LastModified: snap.LastModified,
		}
		for _, doc := range snap.Documents {
			coll.Documents[doc.ID()] = doc
		}
		mm.collections[snap.Name] = coll
	}

	mm.locks = make(map[string]domain.Lock, len(locks))
	for _, lock := range locks {
		mm.locks[lock.Name] = lock
	}
}

// Private methods

func (mm *MemoryManager) getOrCreateCollection(collName string, now time.Time) *Collection {
	if coll, exists := mm.collections[collName]; exists {
		return coll
	}

	coll := &Collection{
		Name:         collName,
		Documents:    make(map[string]domain.Document),
		CreatedAt:    now,
		LastModified: now,
	}
	mm.collections[collName] = coll
	return coll
}

// orderedIDs returns the cached sorted id list, rebuilding it if stale.
// Caller must hold mm.mu for writing.
func (c *Collection) orderedIDs() []string {
	if c.sortedIDs == nil {
		c.sortedIDs = c.orderedIDsLocked()
	}
	return c.sortedIDs
}

func (c *Collection) orderedIDsLocked() []string {
	if c.sortedIDs != nil {
		return c.sortedIDs
	}
	ids := make([]string, 0, len(c.Documents))
	for id := range c.Documents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func matchesFilter(doc domain.Document, filter map[string]interface{}) bool {
	for key, expected := range filter {
		actual, exists := doc[key]
		if !exists || !valuesEqual(actual, expected) {
			return false
		}
	}
	return true
}

// valuesEqual compares scalar field values, treating all numeric types alike
func valuesEqual(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string, bool, nil:
		return av == b
	default:
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// mergeDocuments applies a partial update; "_id" cannot be changed
func mergeDocuments(existing, updates domain.Document) domain.Document {
	merged := existing.Clone()
	for k, v := range updates {
		if k == "_id" {
			continue
		}
		merged[k] = v
	}
	return merged
}
