package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
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

// TestServer represents a test HTTP server for integration testing
type TestServer struct {
	Server  *httptest.Server
	Storage *storage.StorageEngine
	Handler *Handler
	BaseURL string
}

// NewTestServer creates a new test server with temporary storage
func NewTestServer(t *testing.T, storageOptions ...storage.StorageOption) *TestServer {
	t.Helper()

	allOptions := append([]storage.StorageOption{storage.WithDataDir(t.TempDir())}, storageOptions...)
	storageEngine, err := storage.NewStorageEngine(allOptions...)
	require.NoError(t, err)

	handler := NewHandler(storageEngine, storageEngine, zerolog.Nop())

	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	server := httptest.NewServer(router)
	ts := &TestServer{
		Server:  server,
		Storage: storageEngine,
		Handler: handler,
		BaseURL: server.URL,
	}
	t.Cleanup(func() {
		server.Close()
		_ = storageEngine.Close()
	})
	return ts
}

// Helper methods for making HTTP requests

func (ts *TestServer) do(method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, ts.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return http.DefaultClient.Do(req)
}

func (ts *TestServer) POST(path string, body interface{}) (*http.Response, error) {
	return ts.do(http.MethodPost, path, body)
}

func (ts *TestServer) PATCH(path string, body interface{}) (*http.Response, error) {
	return ts.do(http.MethodPatch, path, body)
}

func (ts *TestServer) PUT(path string, body interface{}) (*http.Response, error) {
	return ts.do(http.MethodPut, path, body)
}

func (ts *TestServer) GET(path string) (*http.Response, error) {
	return ts.do(http.MethodGet, path, nil)
}

func (ts *TestServer) DELETE(path string) (*http.Response, error) {
	return ts.do(http.MethodDelete, path, nil)
}

// decodeBody decodes a JSON response body and closes it
func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func seedMemes(t *testing.T, ts *TestServer, n int) {
	t.Helper()
	docs := make([]map[string]interface{}, n)
	for i := range docs {
		docs[i] = map[string]interface{}{"_id": fmt.Sprintf("m%03d", i), "title": fmt.Sprintf("Meme Number %d", i)}
	}
	resp, err := ts.POST("/collections/memes/batch", map[string]interface{}{"documents": docs})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// Integration Tests

func TestAPI_Integration_BasicCRUD(t *testing.T) {
	ts := NewTestServer(t)

	t.Run("Insert Document", func(t *testing.T) {
		resp, err := ts.POST("/collections/memes", map[string]interface{}{"_id": "1", "title": "Funny CAT", "likes": 30})
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var doc domain.Document
		decodeBody(t, resp, &doc)
		assert.Equal(t, "1", doc["_id"])
	})

	t.Run("Insert Duplicate", func(t *testing.T) {
		resp, err := ts.POST("/collections/memes", map[string]interface{}{"_id": "1"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("Get Document by ID", func(t *testing.T) {
		resp, err := ts.GET("/collections/memes/documents/1")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result map[string]interface{}
		decodeBody(t, resp, &result)
		assert.Equal(t, "Funny CAT", result["title"])
		assert.Equal(t, float64(30), result["likes"]) // JSON numbers are float64
	})

	t.Run("Update Document", func(t *testing.T) {
		resp, err := ts.PATCH("/collections/memes/documents/1", map[string]interface{}{"likes": 31})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result map[string]interface{}
		decodeBody(t, resp, &result)
		assert.Equal(t, float64(31), result["likes"])
		assert.Equal(t, "Funny CAT", result["title"]) // Original fields preserved
	})

	t.Run("Delete Document", func(t *testing.T) {
		resp, err := ts.DELETE("/collections/memes/documents/1")
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp.Body.Close()

		resp, err = ts.GET("/collections/memes/documents/1")
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		var errResp ErrorResponse
		decodeBody(t, resp, &errResp)
		assert.Equal(t, http.StatusNotFound, errResp.Code)
		assert.Equal(t, "Not Found", errResp.Error)
	})
}

func TestAPI_Integration_ListDocumentsPaging(t *testing.T) {
	ts := NewTestServer(t)
	seedMemes(t, ts, 25)

	var ids []string
	after := ""
	for {
		resp, err := ts.GET("/collections/memes/documents?limit=10&after=" + after)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var page domain.DocumentPage
		decodeBody(t, resp, &page)
		for _, doc := range page.Documents {
			ids = append(ids, doc.ID())
		}
		if !page.HasNext {
			break
		}
		after = page.NextCursor
	}

	assert.Len(t, ids, 25)
	assert.IsIncreasing(t, ids)

	t.Run("bad limit", func(t *testing.T) {
		resp, err := ts.GET("/collections/memes/documents?limit=zero")
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("unknown collection", func(t *testing.T) {
		resp, err := ts.GET("/collections/nope/documents")
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()
	})
}

func TestAPI_Integration_BatchUpdate(t *testing.T) {
	ts := NewTestServer(t, storage.WithMaxBatchOps(5))
	seedMemes(t, ts, 5)

	t.Run("atomic success", func(t *testing.T) {
		resp, err := ts.PATCH("/collections/memes/batch?quiet=true", BatchUpdateRequest{
			Operations: []domain.BatchUpdateOperation{
				{ID: "m000", Updates: domain.Document{"title_lowercase": "meme number 0"}},
				{ID: "m001", Updates: domain.Document{"title_lowercase": "meme number 1"}},
			},
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result BatchUpdateResponse
		decodeBody(t, resp, &result)
		assert.True(t, result.Success)
		assert.Equal(t, 2, result.UpdatedCount)
		assert.Empty(t, result.Documents)
	})

	t.Run("unknown id fails whole batch", func(t *testing.T) {
		resp, err := ts.PATCH("/collections/memes/batch", BatchUpdateRequest{
			Operations: []domain.BatchUpdateOperation{
				{ID: "m002", Updates: domain.Document{"title_lowercase": "x"}},
				{ID: "ghost", Updates: domain.Document{"title_lowercase": "x"}},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp.Body.Close()

		doc, err := ts.Storage.GetById("memes", "m002")
		require.NoError(t, err)
		assert.NotContains(t, doc, "title_lowercase")
	})

	t.Run("over ceiling", func(t *testing.T) {
		ops := make([]domain.BatchUpdateOperation, 6)
		for i := range ops {
			ops[i] = domain.BatchUpdateOperation{ID: "m000", Updates: domain.Document{"n": i}}
		}
		resp, err := ts.PATCH("/collections/memes/batch", BatchUpdateRequest{Operations: ops})
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var errResp ErrorResponse
		decodeBody(t, resp, &errResp)
		assert.Contains(t, errResp.Message, domain.ErrBatchTooLarge.Error())
	})

	t.Run("limits endpoint", func(t *testing.T) {
		resp, err := ts.GET("/limits")
		require.NoError(t, err)
		var limits LimitsResponse
		decodeBody(t, resp, &limits)
		assert.Equal(t, 5, limits.MaxBatchOps)
	})
}

func TestAPI_Integration_FetchAndFind(t *testing.T) {
	ts := NewTestServer(t)
	seedMemes(t, ts, 3)

	resp, err := ts.POST("/collections/memes/fetch", FetchRequest{IDs: []string{"m002", "ghost", "m000"}})
	require.NoError(t, err)
	var fetched FetchResponse
	decodeBody(t, resp, &fetched)
	require.Len(t, fetched.Documents, 2)
	assert.Equal(t, "m002", fetched.Documents[0].ID())

	resp, err = ts.POST("/collections/memes/indexes/title", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err = ts.POST("/collections/memes/indexes/title", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp, err = ts.GET("/collections/memes/indexes")
	require.NoError(t, err)
	var indexes map[string]interface{}
	decodeBody(t, resp, &indexes)
	assert.Equal(t, []interface{}{"title"}, indexes["indexes"])

	resp, err = ts.GET("/collections/memes/find?title=Meme+Number+1")
	require.NoError(t, err)
	var found domain.PaginationResult
	decodeBody(t, resp, &found)
	require.Len(t, found.Documents, 1)
	assert.Equal(t, "m001", found.Documents[0].ID())
}

func TestAPI_Integration_Locks(t *testing.T) {
	ts := NewTestServer(t)

	resp, err := ts.PUT("/locks/backfill:memes", AcquireLockRequest{Owner: "host-a/1", TTLSeconds: 60})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var lock domain.Lock
	decodeBody(t, resp, &lock)
	assert.Equal(t, "host-a/1", lock.Owner)
	assert.False(t, lock.ExpiresAt.IsZero())

	resp, err = ts.PUT("/locks/backfill:memes", AcquireLockRequest{Owner: "host-b/2", TTLSeconds: 60})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp, err = ts.DELETE("/locks/backfill:memes?owner=host-b/2")
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp, err = ts.DELETE("/locks/backfill:memes?owner=host-a/1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp, err = ts.PUT("/locks/backfill:memes", AcquireLockRequest{Owner: "host-b/2"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// force release
	resp, err = ts.DELETE("/locks/backfill:memes")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
}
