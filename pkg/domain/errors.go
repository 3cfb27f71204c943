package domain

import "errors"

var (
	// ErrNotFound is returned when a collection or document does not exist
	ErrNotFound = errors.New("not found")

	// ErrBatchTooLarge is returned when a batch exceeds the store's per-commit operation ceiling
	ErrBatchTooLarge = errors.New("batch exceeds maximum operations per commit")

	// ErrLockHeld is returned when a lock is held by a different, unexpired owner
	ErrLockHeld = errors.New("lock is held by another owner")

	// ErrInvalidArgument is returned for malformed requests (empty ids, bad names)
	ErrInvalidArgument = errors.New("invalid argument")
)

// ErrAlreadyExists is returned when inserting a document whose id is taken
var ErrAlreadyExists = errors.New("already exists")
