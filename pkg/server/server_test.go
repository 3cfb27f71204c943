package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memehubx/memedb/pkg/storage"
)

func newTestServer(t *testing.T, logs *bytes.Buffer) *Server {
	t.Helper()
	engine, err := storage.NewStorageEngine(storage.WithDataDir(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return NewServer(engine, zerolog.New(logs).Level(zerolog.InfoLevel))
}

func TestServer_RoutesAndRequestLogging(t *testing.T) {
	var logs bytes.Buffer
	srv := newTestServer(t, &logs)

	req := httptest.NewRequest(http.MethodPost, "/collections/memes", bytes.NewBufferString(`{"_id":"m1","title":"Funny Cat"}`))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(logs.Bytes()), &line))
	assert.Equal(t, "POST", line["method"])
	assert.Equal(t, "/collections/memes", line["path"])
	assert.EqualValues(t, http.StatusCreated, line["status"])
}

func TestServer_NotFound(t *testing.T) {
	var logs bytes.Buffer
	srv := newTestServer(t, &logs)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"code":404`)
	assert.Contains(t, logs.String(), "no route found")
}

func TestServer_ListenAndServeStopsOnCancel(t *testing.T) {
	srv := newTestServer(t, &bytes.Buffer{})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
