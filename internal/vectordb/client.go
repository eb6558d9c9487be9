// Package vectordb is a minimal Qdrant HTTP client for the property corpus.
// The corpus is read-only here; index construction and refresh belong to the
// ingestion tooling.
package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kediaman/orchestrator/internal/models"
	"github.com/kediaman/orchestrator/internal/tracing"
)

// Client is a minimal Qdrant HTTP client.
type Client struct {
	cfg  Config
	http *http.Client
	base string
	log  *zap.Logger
}

// NewClient builds a Qdrant client from config.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Collection == "" {
		cfg.Collection = "properties"
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		base: fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		log:  logger,
	}
}

// qdrant search request/response (simplified)
type qdrantQueryRequest struct {
	Query       []float32              `json:"query"`
	Limit       int                    `json:"limit"`
	WithPayload bool                   `json:"with_payload"`
	Filter      map[string]interface{} `json:"filter,omitempty"`
}

type qdrantPoint struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

type qdrantSearchResponse struct {
	Result []qdrantPoint `json:"result"`
	Status string        `json:"status"`
}

// qdrantQueryResponse for the /points/query endpoint which nests the points
type qdrantQueryResponse struct {
	Result struct {
		Points []qdrantPoint `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

// SearchProperties runs a vector search with structured must-clauses and maps
// points back to property records. Scores are returned as-is; normalization
// and the hit threshold are the retriever's concern.
func (c *Client) SearchProperties(ctx context.Context, vec []float32, filters models.SearchFilters, limit int) ([]models.ScoredProperty, error) {
	points, err := c.search(ctx, vec, limit, buildFilter(filters))
	if err != nil {
		return nil, err
	}

	out := make([]models.ScoredProperty, 0, len(points))
	for _, p := range points {
		rec, ok := decodeRecord(p)
		if !ok {
			c.log.Warn("Skipping point with undecodable payload", zap.Any("point_id", p.ID))
			continue
		}
		out = append(out, models.ScoredProperty{Record: rec, Score: p.Score})
	}
	return out, nil
}

func (c *Client) search(ctx context.Context, vec []float32, limit int, filter map[string]interface{}) ([]qdrantPoint, error) {
	// Prefer modern /points/query; fall back to /points/search for older servers
	reqBody := qdrantQueryRequest{Query: vec, Limit: limit, WithPayload: true, Filter: filter}
	buf, _ := json.Marshal(reqBody)

	call := func(url string, body []byte) (*http.Response, error) {
		ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
		defer span.End()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		tracing.InjectTraceparent(ctx, req)
		return c.http.Do(req)
	}

	urlQuery := fmt.Sprintf("%s/collections/%s/points/query", c.base, c.cfg.Collection)
	resp, err := call(urlQuery, buf)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		urlSearch := fmt.Sprintf("%s/collections/%s/points/search", c.base, c.cfg.Collection)
		legacy := map[string]interface{}{"vector": vec, "limit": limit, "with_payload": true}
		if filter != nil {
			legacy["filter"] = filter
		}
		buf2, _ := json.Marshal(legacy)
		resp2, err2 := call(urlSearch, buf2)
		if err2 != nil {
			return nil, fmt.Errorf("qdrant query/search failed: %w", err2)
		}
		defer resp2.Body.Close()
		if resp2.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("qdrant status %d", resp2.StatusCode)
		}
		var sr qdrantSearchResponse
		if err := json.NewDecoder(resp2.Body).Decode(&sr); err != nil {
			return nil, err
		}
		return sr.Result, nil
	}

	var qr qdrantQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, err
	}
	return qr.Result.Points, nil
}

// buildFilter translates structured constraints into Qdrant must-clauses.
// Price bounds use a range clause; everything else is an exact match.
func buildFilter(f models.SearchFilters) map[string]interface{} {
	var must []map[string]interface{}

	if f.PropertyID != "" {
		must = append(must, map[string]interface{}{
			"key": "id", "match": map[string]interface{}{"value": f.PropertyID},
		})
	}
	if f.PropertyType != "" {
		must = append(must, map[string]interface{}{
			"key": "property_type", "match": map[string]interface{}{"value": f.PropertyType},
		})
	}
	if f.Location != "" {
		must = append(must, map[string]interface{}{
			"key": "location", "match": map[string]interface{}{"text": f.Location},
		})
	}
	if f.Bedrooms > 0 {
		must = append(must, map[string]interface{}{
			"key": "bedrooms", "match": map[string]interface{}{"value": f.Bedrooms},
		})
	}
	if f.PriceMin > 0 || f.PriceMax > 0 {
		rng := map[string]interface{}{}
		if f.PriceMin > 0 {
			rng["gte"] = f.PriceMin
		}
		if f.PriceMax > 0 {
			rng["lte"] = f.PriceMax
		}
		must = append(must, map[string]interface{}{"key": "price", "range": rng})
	}

	if len(must) == 0 {
		return nil
	}
	return map[string]interface{}{"must": must}
}

func decodeRecord(p qdrantPoint) (models.PropertyRecord, bool) {
	if p.Payload == nil {
		return models.PropertyRecord{}, false
	}
	// Round-trip through JSON keeps the payload mapping in one place.
	raw, err := json.Marshal(p.Payload)
	if err != nil {
		return models.PropertyRecord{}, false
	}
	var rec models.PropertyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.PropertyRecord{}, false
	}
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("%v", p.ID)
	}
	return rec, rec.ID != ""
}
