package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/strata"
	"github.com/poiesic/strata/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type testEnv struct {
	sys *strata.System
	srv *Server
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.Storage = config.StorageConfig{InMemory: true}
	cfg.Blob.Dir = filepath.Join(dir, "blobs")
	cfg.AI = config.AIConfig{Provider: "mock", Dimension: 16}
	cfg.Analytics.DSN = "file:" + filepath.Join(dir, "analytics.db")

	sys, err := strata.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { sys.Close() })

	opts = append([]Option{WithSearcher(sys.Searcher()), WithTargets(sys.Targets)}, opts...)
	srv, err := New(sys.Pipeline(), sys.Repository(), opts...)
	require.NoError(t, err)
	return &testEnv{sys: sys, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == nil {
		r = httptest.NewRequest(method, path, nil)
	} else {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(data))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, r)
	return w
}

func (e *testEnv) upload(t *testing.T, name, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, r)
	return w
}

// ingest uploads a document and runs it through every stage.
func (e *testEnv) ingest(t *testing.T, content string) string {
	t.Helper()
	w := e.upload(t, "memo.txt", content, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Data documentResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	_, err := e.sys.Pipeline().Drain(context.Background())
	require.NoError(t, err)
	return resp.Data.ID
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Data
}

func TestNew_Validation(t *testing.T) {
	env := newTestEnv(t)
	_, err := New(nil, env.sys.Repository())
	assert.ErrorIs(t, err, ErrPipelineRequired)
	_, err = New(env.sys.Pipeline(), nil)
	assert.ErrorIs(t, err, ErrRepositoryRequired)
	_, err = New(env.sys.Pipeline(), env.sys.Repository(), WithMaxUploadBytes(0))
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status  string          `json:"status"`
		Targets map[string]bool `json:"targets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Targets["vector"])
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestRequestIDIsPropagated(t *testing.T) {
	env := newTestEnv(t)
	r := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	r.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, r)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestUploadAndProcess(t *testing.T) {
	env := newTestEnv(t)
	id := env.ingest(t, "Field Report\n\nThe holder CPF 123.456.789-01 renewed the contract.")

	w := env.do(t, http.MethodGet, "/api/v1/documents/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode[documentResponse](t, w)
	assert.Equal(t, "memo.txt", doc.Name)
	assert.Equal(t, "text/plain", doc.MimeType)
	assert.Equal(t, "COMPLETED", string(doc.Bronze.Status))
	assert.Equal(t, "COMPLETED", string(doc.Silver.Status))
	assert.Equal(t, "COMPLETED", string(doc.GoldStatus))
	assert.Len(t, doc.GoldDistributedAt, 3)

	w = env.do(t, http.MethodGet, "/api/v1/documents/"+id+"/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode[summaryResponse](t, w)
	assert.Equal(t, 1, summary.Chunks)
	for _, target := range []string{"analytics", "graph", "vector"} {
		assert.Equal(t, 1, summary.Targets[target].Completed, target)
	}

	w = env.do(t, http.MethodGet, "/api/v1/documents/"+id+"/chunks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	chunks := decode[[]chunkResponse](t, w)
	require.Len(t, chunks, 1)
	require.Len(t, chunks[0].Entities, 1)
	assert.Equal(t, "CPF", chunks[0].Entities[0].Type)

	w = env.do(t, http.MethodGet, "/api/v1/documents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]documentResponse](t, w), 1)
}

func TestUpload_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.upload(t, "", "", map[string]string{"category_id": "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown category", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.upload(t, "a.txt", "text", map[string]string{"category_id": "missing"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("too large", func(t *testing.T) {
		env := newTestEnv(t, WithMaxUploadBytes(8))
		w := env.upload(t, "a.txt", "more than eight bytes", nil)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestDocumentNotFound(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/v1/documents/nope", "/api/v1/documents/nope/summary", "/api/v1/documents/nope/chunks"} {
		w := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestEnqueueStage(t *testing.T) {
	env := newTestEnv(t)
	id := env.ingest(t, "Some text to process again later.")

	w := env.do(t, http.MethodPost, "/api/v1/documents/"+id+"/stages/gold", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	msg := decode[messageResponse](t, w)
	assert.Equal(t, "gold", msg.Queue)
	assert.Equal(t, id, msg.DocumentID)

	w = env.do(t, http.MethodPost, "/api/v1/documents/"+id+"/stages/platinum", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/queues", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[[]queueResponse](t, w)
	require.Len(t, stats, 4)
	pending := 0
	for _, s := range stats {
		pending += s.Pending
	}
	assert.Equal(t, 1, pending)
}

func TestRetry(t *testing.T) {
	env := newTestEnv(t)
	id := env.ingest(t, "Nothing will fail here.")

	w := env.do(t, http.MethodPost, "/api/v1/documents/"+id+"/retry", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"reset":0}}`, w.Body.String())
}

func TestDeleteDocument(t *testing.T) {
	env := newTestEnv(t)
	id := env.ingest(t, "Short lived document.")

	w := env.do(t, http.MethodDelete, "/api/v1/documents/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/documents/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodDelete, "/api/v1/documents/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	content := "Quarterly revenue grew in the northern region."
	id := env.ingest(t, content)

	chunks, err := env.sys.Repository().GetChunks(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	w := env.do(t, http.MethodPost, "/api/v1/search", gin.H{"query": chunks[0].Content, "limit": 5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	hits := decode[[]hitResponse](t, w)
	require.NotEmpty(t, hits)
	assert.Equal(t, id, hits[0].DocumentID)

	w = env.do(t, http.MethodPost, "/api/v1/search", gin.H{"query": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/search", gin.H{"query": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearch_Disabled(t *testing.T) {
	env := newTestEnv(t)
	srv, err := New(env.sys.Pipeline(), env.sys.Repository())
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(`{"query":"x"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCategories(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPut, "/api/v1/categories/contracts", gin.H{
		"name":          "Contracts",
		"chunk_size":    200,
		"chunk_overlap": 20,
		"targets":       []string{"vector", "A"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cat := decode[categoryResponse](t, w)
	assert.Equal(t, "contracts", cat.ID)
	assert.Equal(t, "paragraph", cat.Strategy)
	assert.Equal(t, 200, cat.ChunkSize)
	assert.Equal(t, []string{"vector", "analytics"}, cat.Targets)
	assert.True(t, cat.Active)

	w = env.do(t, http.MethodPut, "/api/v1/categories/defaults", gin.H{"name": "Defaults"})
	require.Equal(t, http.StatusOK, w.Code)
	cat = decode[categoryResponse](t, w)
	assert.Equal(t, 512, cat.ChunkSize)
	assert.Equal(t, 50, cat.ChunkOverlap)
	assert.Len(t, cat.Targets, 3)

	w = env.do(t, http.MethodGet, "/api/v1/categories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]categoryResponse](t, w), 2)

	tests := []struct {
		name string
		body gin.H
	}{
		{"missing name", gin.H{"chunk_size": 100}},
		{"unknown target", gin.H{"name": "x", "targets": []string{"blockchain"}}},
		{"overlap not below size", gin.H{"name": "x", "chunk_size": 10, "chunk_overlap": 10}},
		{"unknown strategy", gin.H{"name": "x", "strategy": "sentences"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPut, "/api/v1/categories/bad", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}
