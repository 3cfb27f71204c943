package indexing

import (
	"fmt"
	"sort"
	"sync"

	"github.com/memehubx/memedb/pkg/domain"
)

// IndexEngine implements domain.IndexEngine interface
type IndexEngine struct {
	mu      sync.RWMutex
	indexes map[string]map[string]*Index // Collection name -> field name -> index
}

// NewIndexEngine creates a new index engine
func NewIndexEngine() *IndexEngine {
	return &IndexEngine{
		indexes: make(map[string]map[string]*Index),
	}
}

// Index stores a mapping from a field's value to document IDs.
type Index struct {
	Field    string
	Inverted map[interface{}][]string
}

// NewIndex creates an index on a specific field.
func NewIndex(field string) *Index {
	return &Index{
		Field:    field,
		Inverted: make(map[interface{}][]string),
	}
}

// Key normalizes a field value into a comparable index key.
// Numbers collapse to float64 so that 25 and 25.0 hit the same bucket.
// Values that cannot be used as map keys (slices, maps) are not indexed.
func Key(value interface{}) (interface{}, bool) {
	switch v := value.(type) {
	case string, bool:
		return v, true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return nil, false
	}
}

// BuildIndex indexes all documents by the specified field.
func (idx *Index) BuildIndex(documents map[string]domain.Document) {
	idx.Inverted = make(map[interface{}][]string)
	for docID, doc := range documents {
		if key, ok := Key(doc[idx.Field]); ok {
			idx.Inverted[key] = append(idx.Inverted[key], docID)
		}
	}
	for key := range idx.Inverted {
		sort.Strings(idx.Inverted[key])
	}
}

// Query returns document IDs that match a given value in the indexed field.
func (idx *Index) Query(value interface{}) []string {
	key, ok := Key(value)
	if !ok {
		return nil
	}
	return append([]string(nil), idx.Inverted[key]...)
}

// UpdateIndex updates index after an insert/update/delete operation.
func (idx *Index) UpdateIndex(docID string, oldDoc, newDoc domain.Document) {
	if key, ok := Key(oldDoc[idx.Field]); ok {
		docList := idx.Inverted[key]
		for i, id := range docList {
			if id == docID {
				idx.Inverted[key] = append(docList[:i], docList[i+1:]...)
				break
			}
		}
		if len(idx.Inverted[key]) == 0 {
			delete(idx.Inverted, key)
		}
	}
	if key, ok := Key(newDoc[idx.Field]); ok {
		idx.Inverted[key] = append(idx.Inverted[key], docID)
	}
}

// CreateIndex creates an empty index on a specific field in a collection
func (ie *IndexEngine) CreateIndex(collectionName, fieldName string) error {
	ie.mu.Lock()
	defer ie.mu.Unlock()

	if ie.indexes[collectionName] == nil {
		ie.indexes[collectionName] = make(map[string]*Index)
	}

	if _, exists := ie.indexes[collectionName][fieldName]; exists {
		return fmt.Errorf("index on field %s already exists in collection %s", fieldName, collectionName)
	}

	ie.indexes[collectionName][fieldName] = NewIndex(fieldName)
	return nil
}

// DropIndex removes an index from a collection
func (ie *IndexEngine) DropIndex(collectionName, fieldName string) error {
	ie.mu.Lock()
	defer ie.mu.Unlock()

	if _, exists := ie.indexes[collectionName][fieldName]; !exists {
		return fmt.Errorf("index on field %s does not exist in collection %s: %w", fieldName, collectionName, domain.ErrNotFound)
	}

	delete(ie.indexes[collectionName], fieldName)
	return nil
}

// GetIndexes returns all indexed field names for a collection, sorted
func (ie *IndexEngine) GetIndexes(collectionName string) ([]string, error) {
	ie.mu.RLock()
	defer ie.mu.RUnlock()

	indexNames := make([]string, 0, len(ie.indexes[collectionName]))
	for fieldName := range ie.indexes[collectionName] {
		indexNames = append(indexNames, fieldName)
	}
	sort.Strings(indexNames)

	return indexNames, nil
}

// Lookup returns the IDs matching value on an indexed field. The second
// result is false when the field has no index.
func (ie *IndexEngine) Lookup(collectionName, fieldName string, value interface{}) ([]string, bool) {
	ie.mu.RLock()
	defer ie.mu.RUnlock()

	index, exists := ie.indexes[collectionName][fieldName]
	if !exists {
		return nil, false
	}
	return index.Query(value), true
}

// BuildIndexForCollection (re)builds the index for a field from the given documents
func (ie *IndexEngine) BuildIndexForCollection(collectionName, fieldName string, documents map[string]domain.Document) {
	ie.mu.Lock()
	defer ie.mu.Unlock()

	if ie.indexes[collectionName] == nil {
		ie.indexes[collectionName] = make(map[string]*Index)
	}

	index, exists := ie.indexes[collectionName][fieldName]
	if !exists {
		index = NewIndex(fieldName)
		ie.indexes[collectionName][fieldName] = index
	}

	index.BuildIndex(documents)
}

// UpdateIndexForDocument updates every index of a collection when a document changes
func (ie *IndexEngine) UpdateIndexForDocument(collectionName, docID string, oldDoc, newDoc domain.Document) {
	ie.mu.Lock()
	defer ie.mu.Unlock()

	for _, index := range ie.indexes[collectionName] {
		index.UpdateIndex(docID, oldDoc, newDoc)
	}
}
