package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateEmbeddingCachesInLRU(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		_ = json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{{0.1, 0.2, 0.3}},
			Dimensions: 3,
		})
	}))
	defer srv.Close()

	svc := NewService(Config{BaseURL: srv.URL}, nil)

	v1, err := svc.GenerateEmbedding(context.Background(), "condos in Bangsar South")
	require.NoError(t, err)
	v2, err := svc.GenerateEmbedding(context.Background(), "condos in Bangsar South")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "second call should hit the LRU")
}

func TestGenerateEmbeddingEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{})
	}))
	defer srv.Close()

	svc := NewService(Config{BaseURL: srv.URL}, nil)
	_, err := svc.GenerateEmbedding(context.Background(), "x")
	require.Error(t, err)
}

func TestLocalLRUEvictsOldest(t *testing.T) {
	lru := NewLocalLRU(2)
	ctx := context.Background()

	lru.Set(ctx, "a", []float32{1}, time.Minute)
	lru.Set(ctx, "b", []float32{2}, time.Minute)
	lru.Set(ctx, "c", []float32{3}, time.Minute)

	_, ok := lru.Get(ctx, "a")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = lru.Get(ctx, "c")
	assert.True(t, ok)
}

func TestLocalLRUExpiry(t *testing.T) {
	lru := NewLocalLRU(4)
	ctx := context.Background()

	lru.Set(ctx, "a", []float32{1}, -time.Second)
	_, ok := lru.Get(ctx, "a")
	assert.False(t, ok, "expired entry must not be returned")
}
