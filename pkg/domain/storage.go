package domain

import "time"

// StorageEngine defines the interface for storage operations
// This is the core business interface that implementations must conform to
type StorageEngine interface {
	Insert(collName string, doc Document) (Document, error)
	BatchInsert(collName string, docs []Document) ([]Document, error)
	GetById(collName, docId string) (Document, error)
	GetByIds(collName string, docIds []string) ([]Document, error)
	UpdateById(collName, docId string, updates Document) (Document, error)
	BatchUpdate(collName string, updates []BatchUpdateOperation) ([]Document, error)
	DeleteById(collName, docId string) error
	FindAll(collName string, filter map[string]interface{}, options *PaginationOptions) (*PaginationResult, error)
	ListPage(collName, cursor string, limit int) (*DocumentPage, error)
	CreateCollection(collName string) error
	MaxBatchOps() int
	AcquireLock(name, owner string, ttl time.Duration) (*Lock, error)
	ReleaseLock(name, owner string) error
	GetMemoryStats() map[string]interface{}
}

// DatabaseEngine combines StorageEngine and IndexEngine interfaces
type DatabaseEngine interface {
	StorageEngine
	IndexEngine
}
