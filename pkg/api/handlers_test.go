package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memehubx/memedb/pkg/domain"
	"github.com/memehubx/memedb/pkg/storage"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("document x: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("600 operations: %w", domain.ErrBatchTooLarge), http.StatusBadRequest},
		{domain.ErrInvalidArgument, http.StatusBadRequest},
		{domain.ErrLockHeld, http.StatusConflict},
		{domain.ErrAlreadyExists, http.StatusConflict},
		{errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusForError(tt.err))
		})
	}
}

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	engine, err := storage.NewStorageEngine(storage.WithDataDir(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	router := mux.NewRouter()
	NewHandler(engine, engine, zerolog.Nop()).RegisterRoutes(router)
	return router
}

func TestHandler_BadRequests(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		expectedStatus int
	}{
		{"insert invalid json", http.MethodPost, "/collections/memes", "{", http.StatusBadRequest},
		{"insert null body", http.MethodPost, "/collections/memes", "null", http.StatusBadRequest},
		{"batch insert empty", http.MethodPost, "/collections/memes/batch", `{"documents":[]}`, http.StatusBadRequest},
		{"batch update empty", http.MethodPatch, "/collections/memes/batch", `{"operations":[]}`, http.StatusBadRequest},
		{"batch update invalid json", http.MethodPatch, "/collections/memes/batch", "nope", http.StatusBadRequest},
		{"index on _id", http.MethodPost, "/collections/memes/indexes/_id", "", http.StatusBadRequest},
		{"index unknown collection", http.MethodPost, "/collections/ghost/indexes/title", "", http.StatusNotFound},
		{"lock negative ttl", http.MethodPut, "/locks/x", `{"owner":"a","ttl_seconds":-1}`, http.StatusBadRequest},
		{"lock without owner", http.MethodPut, "/locks/x", `{"ttl_seconds":5}`, http.StatusBadRequest},
		{"find bad limit", http.MethodGet, "/collections/memes/find?limit=abc", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestHandler_HandleHealth(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","message":"memedb is running"}`, w.Body.String())
}
