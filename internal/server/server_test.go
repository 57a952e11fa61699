package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvlens/kvlens/internal/config"
	"github.com/kvlens/kvlens/internal/processor"
	"github.com/kvlens/kvlens/internal/store"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func seedStore(t *testing.T) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "kvlens-server-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	// 16 samples of silence at 8kHz, CBOR-encoded under a "wav" field.
	audioValue, err := cbor.Marshal(map[string]any{"wav": make([]byte, 32)})
	require.NoError(t, err)

	entries := map[string][]byte{
		"message:000": []byte(`{"text":"hello world"}`),
		"audio:000":   audioValue,
	}
	for i := 0; i < 10; i++ {
		entries[fmt.Sprintf("entry:%03d", i)] = []byte(fmt.Sprintf(`{"n":%d}`, i))
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	require.NoError(t, err)
	for k, v := range entries {
		require.NoError(t, db.Set([]byte(k), v, pebble.Sync))
	}
	require.NoError(t, db.Close())
	return dir
}

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()

	cfg := &config.Config{
		Listen: ":0",
		Store: config.StoreConfig{
			Path:    seedStore(t),
			Backend: store.BackendPebble,
		},
		Schema: config.SchemaConfig{
			EnableCBOR: true,
			EnableJSON: true,
		},
		Processors: config.ProcessorsConfig{
			Bindings: []processor.Binding{
				{
					SchemaType:   "cbor",
					FieldPattern: "wav",
					ProcessorID:  processor.ProcessorPCMAudio,
					Config:       map[string]any{"sample_rate": 8000},
				},
			},
		},
		Artifacts: config.ArtifactsConfig{TTLSeconds: 300},
		Search:    config.SearchConfig{MaxLimit: 1000, TextPreviewBytes: 200, ValueHexBytes: 512},
		Metrics:   config.MetricsConfig{Enable: true, Path: "/metrics", Namespace: "test"},
	}

	s, err := New(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(s.close)

	return s, s.setupRoutes()
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, path, reader))

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestInfoEndpoint(t *testing.T) {
	_, handler := newTestServer(t)

	rec, resp := doJSON(t, handler, "GET", "/api/v1/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	stats := data["stats"].(map[string]any)
	assert.Equal(t, float64(12), stats["entries"])
	assert.Equal(t, store.BackendPebble, stats["backend"])
	assert.Contains(t, data["candidate_types"], "cbor")
	assert.Contains(t, data["processors"], "pcm_audio")
}

func TestSearchEndpoint(t *testing.T) {
	_, handler := newTestServer(t)

	rec, resp := doJSON(t, handler, "POST", "/api/v1/search", map[string]any{
		"mode": "exact_key",
		"key":  "message:000",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(1), data["count"])

	results := data["results"].([]any)
	result := results[0].(map[string]any)
	assert.Equal(t, "message:000", result["key"])

	decoded := result["decoded"].(map[string]any)
	assert.Equal(t, "json", decoded["type_name"])
}

func TestSearchValidationError(t *testing.T) {
	_, handler := newTestServer(t)

	rec, resp := doJSON(t, handler, "POST", "/api/v1/search", map[string]any{
		"mode": "exact_key",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "requires a key")
}

func TestSearchRejectsMalformedBody(t *testing.T) {
	_, handler := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/search", bytes.NewReader([]byte("{broken")))
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArtifactLifecycle(t *testing.T) {
	s, handler := newTestServer(t)

	rec, resp := doJSON(t, handler, "POST", "/api/v1/search", map[string]any{
		"mode": "exact_key",
		"key":  "audio:000",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	results := data["results"].([]any)
	result := results[0].(map[string]any)

	fieldResults := result["field_results"].([]any)
	require.Len(t, fieldResults, 1)
	field := fieldResults[0].(map[string]any)
	require.Equal(t, "audio", field["kind"])

	audio := field["audio"].(map[string]any)
	artifactID := audio["artifact_id"].(string)
	require.NotEmpty(t, artifactID)
	assert.Equal(t, 1, s.artifacts.Count())

	// The rendered WAV must be fetchable after the search response.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/artifacts/"+artifactID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "RIFF", rec.Body.String()[:4])
}

func TestArtifactNotFound(t *testing.T) {
	_, handler := newTestServer(t)

	rec, resp := doJSON(t, handler, "GET", "/api/v1/artifacts/00000000-0000-0000-0000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
}

func TestHealthz(t *testing.T) {
	_, handler := newTestServer(t)

	rec, resp := doJSON(t, handler, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}

func TestMetricsEndpoint(t *testing.T) {
	_, handler := newTestServer(t)

	// Generate at least one observation first.
	doJSON(t, handler, "POST", "/api/v1/search", map[string]any{
		"mode": "exact_key",
		"key":  "message:000",
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_search_requests_total")
}

func TestIndexServed(t *testing.T) {
	_, handler := newTestServer(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "kvlens")
}
