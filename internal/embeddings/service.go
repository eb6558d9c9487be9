package embeddings

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kediaman/orchestrator/internal/metrics"
	"github.com/kediaman/orchestrator/internal/tracing"
)

// Service generates query embeddings via the LLM service, with caching.
type Service struct {
	cfg   Config
	http  *http.Client
	cache Cache
	lru   *LocalLRU
}

// Config controls the embedding client.
type Config struct {
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	CacheTTL     time.Duration
	MaxLRU       int
}

// NewService builds an embedding service client. cache may be nil.
func NewService(cfg Config, cache Cache) *Service {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "text-embedding-3-small"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MaxLRU == 0 {
		cfg.MaxLRU = 2048
	}
	return &Service{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		cache: cache,
		lru:   NewLocalLRU(cfg.MaxLRU),
	}
}

// MakeKey builds a cache key from model and text.
func MakeKey(model, text string) string {
	h := md5.Sum([]byte(model + "\x00" + text))
	return "emb:" + hex.EncodeToString(h[:])
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

// GenerateEmbedding returns the vector for a single text.
func (s *Service) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := MakeKey(s.cfg.DefaultModel, text)

	if v, ok := s.lru.Get(ctx, key); ok {
		metrics.EmbeddingRequests.WithLabelValues("lru_hit").Inc()
		return v, nil
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, key); ok {
			s.lru.Set(ctx, key, v, 30*time.Minute)
			metrics.EmbeddingRequests.WithLabelValues("cache_hit").Inc()
			return v, nil
		}
	}

	url := fmt.Sprintf("%s/embeddings/", s.cfg.BaseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	payload := embedRequest{Texts: []string{text}, Model: s.cfg.DefaultModel}
	buf, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := s.http.Do(req)
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embedding http status %d", resp.StatusCode)
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(er.Embeddings) == 0 {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embedding response contained no vectors")
	}

	vec := er.Embeddings[0]
	s.lru.Set(ctx, key, vec, s.cfg.CacheTTL)
	if s.cache != nil {
		s.cache.Set(ctx, key, vec, s.cfg.CacheTTL)
	}
	metrics.EmbeddingRequests.WithLabelValues("ok").Inc()
	return vec, nil
}
