package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memehubx/memedb/pkg/backfill"
	"github.com/memehubx/memedb/pkg/domain"
	"github.com/memehubx/memedb/pkg/retryfile"
	"github.com/memehubx/memedb/pkg/storage"
)

type result struct {
	code    int
	stdout  string
	stderr  string
	summary *backfill.RunSummary
}

func run(t *testing.T, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	env := func(string) (string, bool) { return "", false }
	args = append(args, "--log-level", "error")
	code := execute(context.Background(), newApp(env), args, &stdout, &stderr)

	res := result{code: code, stdout: stdout.String(), stderr: stderr.String()}
	var summary backfill.RunSummary
	if json.Unmarshal(stdout.Bytes(), &summary) == nil && summary.RunID != "" {
		res.summary = &summary
	}
	return res
}

func seed(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	se, err := storage.NewStorageEngine(storage.WithDataDir(dir))
	require.NoError(t, err)
	docs := make([]domain.Document, n)
	for i := range docs {
		docs[i] = domain.Document{"_id": fmt.Sprintf("m%03d", i), "title": fmt.Sprintf("Funny CAT %d", i)}
	}
	_, err = se.BatchInsert("memes", docs)
	require.NoError(t, err)
	require.NoError(t, se.Close())
	return dir
}

func read(t *testing.T, dir, id string) domain.Document {
	t.Helper()
	se, err := storage.NewStorageEngine(storage.WithDataDir(dir))
	require.NoError(t, err)
	defer se.Close()
	doc, err := se.GetById("memes", id)
	require.NoError(t, err)
	return doc
}

func TestBackfill_Success(t *testing.T) {
	dir := seed(t, 5)
	retryPath := filepath.Join(t.TempDir(), "retry.godb")

	res := run(t, "backfill", "--data-dir", dir, "--batch-size", "2", "--retry-file", retryPath)
	require.Equal(t, backfill.ExitSuccess, res.code, res.stderr)
	require.NotNil(t, res.summary, res.stdout)

	assert.Equal(t, backfill.StatusSuccess, res.summary.Status)
	assert.Equal(t, "title_lowercase", res.summary.Field)
	assert.Equal(t, 5, res.summary.Scanned)
	assert.Equal(t, 5, res.summary.Committed)
	assert.Equal(t, 3, res.summary.CommittedBatches)
	assert.Equal(t, "funny cat 3", read(t, dir, "m003")["title_lowercase"])
	assert.NoFileExists(t, retryPath)

	t.Run("second run skips current records", func(t *testing.T) {
		res := run(t, "backfill", "run", "--data-dir", dir, "--retry-file", retryPath)
		require.Equal(t, backfill.ExitSuccess, res.code, res.stderr)
		assert.Equal(t, 5, res.summary.SkippedCurrent)
		assert.Zero(t, res.summary.Committed)
	})
}

func TestBackfill_TagsDeriver(t *testing.T) {
	dir := seed(t, 1)

	res := run(t, "backfill", "--data-dir", dir, "--deriver", "tags", "--target-field", "keywords")
	require.Equal(t, backfill.ExitSuccess, res.code, res.stderr)

	assert.Equal(t, []interface{}{"funny", "cat", "0"}, read(t, dir, "m000")["keywords"])
}

func TestBackfill_DryRunWritesNothing(t *testing.T) {
	dir := seed(t, 3)

	res := run(t, "backfill", "--data-dir", dir, "--dry-run")
	require.Equal(t, backfill.ExitSuccess, res.code, res.stderr)
	assert.True(t, res.summary.DryRun)
	assert.Equal(t, 3, res.summary.Derived)

	assert.NotContains(t, read(t, dir, "m000"), "title_lowercase")
}

func TestBackfill_ConfigErrors(t *testing.T) {
	dir := seed(t, 1)

	tests := []struct {
		name string
		args []string
	}{
		{"negative batch size", []string{"--batch-size", "-1"}},
		{"batch above store limit", []string{"--batch-size", "100000"}},
		{"unknown deriver", []string{"--deriver", "shout"}},
		{"unknown store", []string{"--store", "redis"}},
		{"unknown flag", []string{"--bogus"}},
		{"same source and target", []string{"--target-field", "title"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"backfill", "--data-dir", dir}, tt.args...)
			res := run(t, args...)
			assert.Equal(t, backfill.ExitConfigError, res.code, res.stderr)
			assert.Contains(t, res.stderr, "Error:")
		})
	}

	assert.NotContains(t, read(t, dir, "m000"), "title_lowercase")
}

func TestBackfill_LockHeldThenUnlock(t *testing.T) {
	dir := seed(t, 2)
	se, err := storage.NewStorageEngine(storage.WithDataDir(dir))
	require.NoError(t, err)
	_, err = se.AcquireLock(backfill.LockName("memes"), "crashed-host/1", 0)
	require.NoError(t, err)
	require.NoError(t, se.Close())

	res := run(t, "backfill", "--data-dir", dir)
	assert.Equal(t, backfill.ExitLockHeld, res.code)
	assert.Contains(t, res.stderr, "Error:")

	res = run(t, "backfill", "unlock", "--data-dir", dir)
	require.Equal(t, backfill.ExitSuccess, res.code, res.stderr)
	assert.Equal(t, "released backfill:memes\n", res.stdout)

	res = run(t, "backfill", "--data-dir", dir)
	assert.Equal(t, backfill.ExitSuccess, res.code, res.stderr)
	assert.Equal(t, 2, res.summary.Committed)
}

func TestBackfill_StoreUnavailableAborts(t *testing.T) {
	res := run(t, "backfill", "--store", "http", "--store-url", "http://127.0.0.1:1")

	assert.Equal(t, backfill.ExitRunAborted, res.code)
	require.NotNil(t, res.summary, res.stdout)
	assert.Equal(t, backfill.StatusRunAborted, res.summary.Status)
	assert.NotEmpty(t, res.summary.Error)
}

func TestBackfill_Retry(t *testing.T) {
	dir := seed(t, 4)
	retryPath := filepath.Join(t.TempDir(), "retry.godb")
	require.NoError(t, retryfile.Write(retryPath, &retryfile.File{
		Version:    retryfile.Version,
		RunID:      "01JAAAAAAAAAAAAAAAAAAAAAAA",
		Collection: "memes",
		Deriver:    "lowercase",
		Field:      "title_lowercase",
		Candidates: []backfill.PendingWrite{
			{RecordID: "m001", Field: "title_lowercase", Value: "stale"},
			{RecordID: "m003", Field: "title_lowercase", Value: "stale"},
			{RecordID: "gone", Field: "title_lowercase", Value: "stale"},
		},
	}))

	res := run(t, "backfill", "retry", "--data-dir", dir, "--retry-file", retryPath)
	require.Equal(t, backfill.ExitSuccess, res.code, res.stderr)

	assert.Equal(t, 3, res.summary.Scanned)
	assert.Equal(t, 2, res.summary.Committed)
	assert.Equal(t, 1, res.summary.SkippedIneligible)
	assert.Equal(t, "funny cat 3", read(t, dir, "m003")["title_lowercase"])
	assert.NotContains(t, read(t, dir, "m000"), "title_lowercase")
	assert.NoFileExists(t, retryPath)
}

func TestBackfill_RetryMissingFile(t *testing.T) {
	res := run(t, "backfill", "retry", "--data-dir", t.TempDir(), "--retry-file", filepath.Join(t.TempDir(), "none.godb"))
	assert.Equal(t, backfill.ExitConfigError, res.code)
}

func TestConfigFileAndEnv(t *testing.T) {
	dir := seed(t, 1)
	cfgPath := filepath.Join(t.TempDir(), "memedb.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("backfill:\n  deriver: tags\n"), 0644))

	var stdout, stderr bytes.Buffer
	env := func(key string) (string, bool) {
		if key == "MEMEDB_DATA_DIR" {
			return dir, true
		}
		return "", false
	}
	code := execute(context.Background(), newApp(env), []string{"backfill", "--config", cfgPath, "--log-level", "error"}, &stdout, &stderr)
	require.Equal(t, backfill.ExitSuccess, code, stderr.String())

	assert.Contains(t, read(t, dir, "m000"), "tags")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain error", errors.New("boom"), 1},
		{"exit error", &ExitError{Code: 2}, 2},
		{"wrapped exit error", fmt.Errorf("run: %w", &ExitError{Code: 130, Err: context.Canceled}), 130},
		{"configuration error", &backfill.ConfigurationError{Field: "batch_size", Reason: "too big"}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
	assert.Equal(t, "exit status 2", (&ExitError{Code: 2}).Error())
}
