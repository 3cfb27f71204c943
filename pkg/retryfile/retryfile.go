// Package retryfile persists the writes of failed batches so a later
// `memedb backfill retry` can re-derive and re-commit exactly those records.
package retryfile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/memehubx/memedb/pkg/backfill"
	"github.com/memehubx/memedb/pkg/storage"
)

// Version of the retry file layout inside the GODB container
const Version = 1

// File is the content of a retry file
type File struct {
	Version     int                     `json:"version"`
	RunID       string                  `json:"run_id"`
	Collection  string                  `json:"collection"`
	Deriver     string                  `json:"deriver"`
	SourceField string                  `json:"source_field,omitempty"`
	Field       string                  `json:"field"`
	CreatedAt   time.Time               `json:"created_at"`
	Failures    []backfill.BatchFailure `json:"failures"`
	Candidates  []backfill.PendingWrite `json:"candidates"`
}

// FromSummary collects the retry candidates of a finished run
func FromSummary(summary *backfill.RunSummary, deriver, sourceField string) *File {
	return &File{
		Version:     Version,
		RunID:       summary.RunID,
		Collection:  summary.Collection,
		Deriver:     deriver,
		SourceField: sourceField,
		Field:       summary.Field,
		CreatedAt:   summary.FinishedAt,
		Failures:    summary.Failures,
		Candidates:  summary.RetryCandidates,
	}
}

// IDs returns the candidate record ids without duplicates, in file order
func (f *File) IDs() []string {
	seen := make(map[string]struct{}, len(f.Candidates))
	ids := make([]string, 0, len(f.Candidates))
	for _, w := range f.Candidates {
		if _, dup := seen[w.RecordID]; dup {
			continue
		}
		seen[w.RecordID] = struct{}{}
		ids = append(ids, w.RecordID)
	}
	return ids
}

// Write stores f at path, replacing any previous file atomically
func Write(path string, f *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create retry file directory: %w", err)
	}
	return storage.WriteFileAtomic(path, func(out *os.File) error {
		w := bufio.NewWriter(out)
		if err := storage.EncodeFile(w, f); err != nil {
			return fmt.Errorf("failed to encode retry file: %w", err)
		}
		return w.Flush()
	})
}

// Read loads a retry file written by Write
func Read(path string) (*File, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open retry file: %w", err)
	}
	defer in.Close()

	var f File
	if err := storage.DecodeFile(bufio.NewReader(in), &f); err != nil {
		return nil, fmt.Errorf("failed to decode retry file %s: %w", path, err)
	}
	if f.Version != Version {
		return nil, fmt.Errorf("retry file %s has version %d, expected %d", path, f.Version, Version)
	}
	return &f, nil
}
