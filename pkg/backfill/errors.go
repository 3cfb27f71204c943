package backfill

import (
	"errors"
	"fmt"

	"github.com/memehubx/memedb/pkg/domain"
)

var (
	// ErrSourceUnavailable matches any SourceUnavailableError
	ErrSourceUnavailable = errors.New("record source unavailable")

	// ErrLockHeld is returned when another run holds the collection's run lock
	ErrLockHeld = domain.ErrLockHeld

	// ErrLockLost ends a run whose lease was taken over by another owner
	ErrLockLost = errors.New("run lock lost")
)

// SourceUnavailableError means the collection could not be enumerated
type SourceUnavailableError struct {
	Collection string
	Err        error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("cannot list collection %s: %v", e.Collection, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrSourceUnavailable) match
func (e *SourceUnavailableError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

// CommitError is a batch that failed to commit. The run continues.
type CommitError struct {
	Batch     int
	RecordIDs []string
	Err       error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("batch %d (%d records) failed to commit: %v", e.Batch, len(e.RecordIDs), e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// ConfigurationError is an invalid run setting, reported before scanning starts
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
