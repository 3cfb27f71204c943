package retryfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memehubx/memedb/pkg/backfill"
	"github.com/memehubx/memedb/pkg/storage"
)

func TestWriteAndRead(t *testing.T) {
	summary := &backfill.RunSummary{
		RunID:      "01JABCDEF",
		Collection: "memes",
		Field:      "title_lowercase",
		FinishedAt: time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC),
		Failures:   []backfill.BatchFailure{{Batch: 2, Reason: "timeout", RecordIDs: []string{"m2", "m3"}}},
		RetryCandidates: []backfill.PendingWrite{
			{RecordID: "m2", Field: "title_lowercase", Value: "funny"},
			{RecordID: "m3", Field: "title_lowercase", Value: "cat"},
		},
	}

	path := filepath.Join(t.TempDir(), "runs", "retry.godb")
	require.NoError(t, Write(path, FromSummary(summary, "lowercase", "title")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, storage.MagicBytes, string(raw[:4]))

	f, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "01JABCDEF", f.RunID)
	assert.Equal(t, "lowercase", f.Deriver)
	assert.Equal(t, "title", f.SourceField)
	assert.True(t, summary.FinishedAt.Equal(f.CreatedAt))
	assert.Equal(t, []string{"m2", "m3"}, f.IDs())
	require.Len(t, f.Failures, 1)
	assert.Equal(t, "timeout", f.Failures[0].Reason)
	assert.Equal(t, "funny", f.Candidates[0].Value)
}

func TestIDs_Dedupes(t *testing.T) {
	f := &File{Candidates: []backfill.PendingWrite{{RecordID: "b"}, {RecordID: "a"}, {RecordID: "b"}}}
	assert.Equal(t, []string{"b", "a"}, f.IDs())
}

func TestRead_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Read(filepath.Join(dir, "missing.godb"))
	assert.ErrorContains(t, err, "failed to open retry file")

	garbage := filepath.Join(dir, "garbage.godb")
	require.NoError(t, os.WriteFile(garbage, []byte("not a retry file"), 0644))
	_, err = Read(garbage)
	assert.ErrorContains(t, err, "failed to decode retry file")

	old := filepath.Join(dir, "old.godb")
	require.NoError(t, Write(old, &File{Version: 99}))
	_, err = Read(old)
	assert.ErrorContains(t, err, "expected 1")
}
