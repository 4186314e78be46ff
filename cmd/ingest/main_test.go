package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biochat/internal/domain"
	"biochat/internal/vectorstore/local"
)

var envKeys = []string{
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "EMBEDDING_MODEL", "EMBEDDING_DIM", "EMBEDDING_BATCH_SIZE",
	"PINECONE_API_KEY", "PINECONE_INDEX_NAME", "PINECONE_INDEX_HOST", "PINECONE_REGION", "PINECONE_CLOUD",
	"PINECONE_NAMESPACE", "VECTOR_STORE", "LOCAL_INDEX_DIR", "CHUNK_SIZE", "CHUNK_OVERLAP",
	"LOG_LEVEL", "LOG_FILE",
}

// embeddingServer answers every embeddings request with 4-dim vectors and
// counts the requests it receives.
func embeddingServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		data := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			data[i] = map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{1, float32(len(text) % 7), 0.5, float32(i)},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "test"})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setEnv(t *testing.T, baseURL, indexDir string) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", baseURL+"/v1")
	t.Setenv("EMBEDDING_DIM", "4")
	t.Setenv("PINECONE_INDEX_NAME", "paul-allen")
	t.Setenv("VECTOR_STORE", "local")
	t.Setenv("LOCAL_INDEX_DIR", indexDir)
	t.Setenv("CHUNK_SIZE", "16")
	t.Setenv("CHUNK_OVERLAP", "4")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngest_BuildsLocalIndex(t *testing.T) {
	var calls atomic.Int32
	srv := embeddingServer(t, &calls)
	dir := t.TempDir()
	indexDir := filepath.Join(dir, "index")
	setEnv(t, srv.URL, indexDir)

	input := filepath.Join(dir, "bio.txt")
	require.NoError(t, os.WriteFile(input, []byte(
		"Paul Allen was born in Seattle in 1953. He met Bill Gates at Lakeside School. "+
			"Together they founded Microsoft in 1975. He later bought the Seattle Seahawks and the Portland Trail Blazers. "+
			"He founded the Allen Institute for Brain Science in 2003."), 0o644))

	out, err := execute(t, "--input-file", input, "--log-file", filepath.Join(dir, "ingest.log"))
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed ")
	assert.Positive(t, calls.Load())

	store, err := local.NewStorage(indexDir, "paul-allen", nil)
	require.NoError(t, err)
	assert.Positive(t, store.Count())

	_, err = store.Search(context.Background(), []float32{1, 0, 0}, 1)
	assert.True(t, errors.Is(err, domain.ErrDimensionMismatch))
}

func TestIngest_MissingInputFails(t *testing.T) {
	var calls atomic.Int32
	srv := embeddingServer(t, &calls)
	dir := t.TempDir()
	setEnv(t, srv.URL, filepath.Join(dir, "index"))

	_, err := execute(t, "--input-file", filepath.Join(dir, "nope.txt"), "--log-file", filepath.Join(dir, "ingest.log"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInputNotFound))
	assert.Zero(t, calls.Load())
}

func TestIngest_MissingConfigFailsBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := embeddingServer(t, &calls)
	dir := t.TempDir()
	setEnv(t, srv.URL, filepath.Join(dir, "index"))
	t.Setenv("OPENAI_API_KEY", "")

	input := filepath.Join(dir, "bio.txt")
	require.NoError(t, os.WriteFile(input, []byte("Paul Allen co-founded Microsoft."), 0o644))

	_, err := execute(t, "--input-file", input, "--log-file", filepath.Join(dir, "ingest.log"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfig))
	assert.Zero(t, calls.Load())
}
