// Package retrieval implements the similarity retriever: it encodes a query
// intent, searches the property corpus, applies structured filters, and ranks
// candidates deterministically against the relevance threshold.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kediaman/orchestrator/internal/metrics"
	"github.com/kediaman/orchestrator/internal/models"
)

// ErrCorpusUnavailable signals that the corpus capability is down. The caller
// must answer that data is temporarily unavailable, never invent facts.
var ErrCorpusUnavailable = errors.New("property corpus unavailable")

// lowConfidenceBroaden is the confidence below which structured filters are
// relaxed in favor of a wider semantic search.
const lowConfidenceBroaden = 0.4

// Embedder turns query text into a vector comparable against the corpus.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the corpus capability: ranked candidates for a vector plus
// structured filters.
type Searcher interface {
	SearchProperties(ctx context.Context, vec []float32, filters models.SearchFilters, limit int) ([]models.ScoredProperty, error)
}

// Config carries the retrieval tunables.
type Config struct {
	TopK               int
	RecommendationTopK int
	Threshold          float64
}

// Retriever ranks corpus candidates for an intent.
type Retriever struct {
	embed  Embedder
	corpus Searcher
	cfg    Config
	log    *zap.Logger
}

func NewRetriever(embed Embedder, corpus Searcher, cfg Config, logger *zap.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.RecommendationTopK <= 0 {
		cfg.RecommendationTopK = cfg.TopK * 2
	}
	return &Retriever{embed: embed, corpus: corpus, cfg: cfg, log: logger}
}

// Retrieve runs the similarity search for an intent. k <= 0 selects the
// configured default (wider for recommendation turns).
func (r *Retriever) Retrieve(ctx context.Context, intent models.QueryIntent, k int) (models.RetrievalResult, error) {
	if k <= 0 {
		k = r.cfg.TopK
		if intent.Recommendation {
			k = r.cfg.RecommendationTopK
		}
	}

	start := time.Now()
	vec, err := r.embed.GenerateEmbedding(ctx, queryText(intent))
	if err != nil {
		metrics.RetrievalRequests.WithLabelValues("error").Inc()
		return models.RetrievalResult{}, fmt.Errorf("%w: %v", ErrCorpusUnavailable, err)
	}

	filters := filtersFor(intent)
	// Low-confidence intents prefer a broader semantic search over strict
	// structured narrowing; a resolved reference always stays pinned.
	broadened := intent.Confidence < lowConfidenceBroaden && filters.PropertyID == ""
	searchFilters := filters
	if broadened {
		searchFilters = models.SearchFilters{}
	}

	// Fetch a wider pool than k so post-filtering does not starve the result.
	pool := k * 2
	candidates, err := r.corpus.SearchProperties(ctx, vec, searchFilters, pool)
	if err != nil {
		metrics.RetrievalRequests.WithLabelValues("error").Inc()
		return models.RetrievalResult{}, fmt.Errorf("%w: %v", ErrCorpusUnavailable, err)
	}

	matches := make([]models.ScoredProperty, 0, len(candidates))
	for _, c := range candidates {
		c.Score = clamp01(c.Score)
		if !broadened && !matchesFilters(c.Record, filters) {
			continue
		}
		matches = append(matches, c)
	}

	// Score descending; equal scores break by corpus insertion id so repeated
	// calls are reproducible.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Record.InsertionID < matches[j].Record.InsertionID
	})
	if len(matches) > k {
		matches = matches[:k]
	}

	result := models.RetrievalResult{
		Matches: matches,
		Hit:     len(matches) > 0 && matches[0].Score >= r.cfg.Threshold,
	}

	metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
	if result.Hit {
		metrics.RetrievalRequests.WithLabelValues("hit").Inc()
	} else {
		metrics.RetrievalRequests.WithLabelValues("miss").Inc()
	}
	r.log.Debug("Similarity search complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("matches", len(matches)),
		zap.Bool("hit", result.Hit),
		zap.Bool("broadened", broadened),
	)
	return result, nil
}

// queryText builds the text to embed: the raw query, enriched with the
// resolved target property name when one is pinned.
func queryText(intent models.QueryIntent) string {
	if intent.TargetPropertyName != "" && !strings.Contains(strings.ToLower(intent.RawText), strings.ToLower(intent.TargetPropertyName)) {
		return intent.TargetPropertyName + " " + intent.RawText
	}
	return intent.RawText
}

func filtersFor(intent models.QueryIntent) models.SearchFilters {
	return models.SearchFilters{
		PropertyType: intent.PropertyType,
		Location:     intent.Location,
		PriceMin:     intent.PriceMin,
		PriceMax:     intent.PriceMax,
		Bedrooms:     intent.Bedrooms,
		PropertyID:   intent.ReferencePropertyID,
	}
}

// matchesFilters re-checks structured constraints on each candidate.
// Backends may pre-filter; the in-memory searcher does not, and filtered-out
// candidates must never count toward a hit.
func matchesFilters(rec models.PropertyRecord, f models.SearchFilters) bool {
	if f.PropertyID != "" && rec.ID != f.PropertyID {
		return false
	}
	if f.PropertyType != "" && !strings.EqualFold(rec.PropertyType, f.PropertyType) {
		return false
	}
	if f.Location != "" && !strings.Contains(strings.ToLower(rec.Location), strings.ToLower(f.Location)) {
		return false
	}
	if f.Bedrooms > 0 && rec.Bedrooms != f.Bedrooms {
		return false
	}
	if f.PriceMin > 0 && rec.Price < f.PriceMin {
		return false
	}
	if f.PriceMax > 0 && rec.Price > f.PriceMax {
		return false
	}
	return true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
