// Package research escalates to external web search when the property corpus
// cannot answer a query, either because retrieval missed or because the
// intent asks about fields the corpus schema never held.
package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kediaman/orchestrator/internal/metrics"
	"github.com/kediaman/orchestrator/internal/models"
)

// ErrResearchUnavailable signals that every attempted source failed.
// Recoverable: the caller proceeds with retrieval-only evidence and states
// the limitation in the response.
var ErrResearchUnavailable = errors.New("web research unavailable")

const maxSnippetLength = 500

// SearchHit is one raw result from a search provider, before credibility
// scoring and deduplication.
type SearchHit struct {
	URL        string            `json:"url"`
	Title      string            `json:"title"`
	Snippet    string            `json:"snippet"`
	Facts      map[string]string `json:"facts,omitempty"`
	Confidence string            `json:"confidence,omitempty"`
}

// SearchProvider issues one search query against an external engine.
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]SearchHit, error)
}

// Config bounds a research pass.
type Config struct {
	MaxQueries    int
	Timeout       time.Duration
	QueriesPerSec float64
}

// Agent runs bounded, rate-limited web research for one turn.
type Agent struct {
	provider SearchProvider
	cred     *CredibilityConfig
	limiter  *rate.Limiter
	cfg      Config
	log      *zap.Logger
}

func NewAgent(provider SearchProvider, cred *CredibilityConfig, cfg Config, logger *zap.Logger) *Agent {
	if cfg.MaxQueries <= 0 {
		cfg.MaxQueries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.QueriesPerSec <= 0 {
		cfg.QueriesPerSec = 2.0
	}
	if cred == nil {
		cred = defaultCredibilityConfig()
	}
	return &Agent{
		provider: provider,
		cred:     cred,
		limiter:  rate.NewLimiter(rate.Limit(cfg.QueriesPerSec), 1),
		cfg:      cfg,
		log:      logger,
	}
}

// Research issues up to MaxQueries searches within the wall-clock budget and
// returns whatever evidence was gathered, deduplicated by URL. Individual
// source failures are swallowed and logged; the call fails only when every
// attempted query failed and nothing was collected. Hitting the deadline
// mid-pass returns the partial evidence, never an error.
func (a *Agent) Research(ctx context.Context, intent models.QueryIntent, retrieval models.RetrievalResult) ([]models.WebEvidence, error) {
	queries := a.buildQueries(intent, retrieval)
	if len(queries) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	metrics.WebSearchesConducted.Inc()

	var evidence []models.WebEvidence
	seen := map[string]bool{}
	attempted, failed := 0, 0

	for _, sq := range queries {
		if err := a.limiter.Wait(ctx); err != nil {
			// Deadline hit; report what we have.
			break
		}
		attempted++
		hits, err := a.provider.Search(ctx, sq.text)
		if err != nil {
			failed++
			metrics.WebSourceFailures.Inc()
			a.log.Warn("Web search query failed",
				zap.String("query", sq.text),
				zap.Error(err),
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		for _, hit := range hits {
			key := normalizeURL(hit.URL)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			evidence = append(evidence, a.toEvidence(hit, sq.field))
		}
	}

	// A pass cut short by the wall-clock deadline is partial success, even
	// when nothing was collected; only genuine all-sources failure is an
	// unavailability.
	if ctx.Err() != nil {
		return evidence, nil
	}
	if attempted > 0 && failed == attempted && len(evidence) == 0 {
		return nil, fmt.Errorf("%w: all %d queries failed", ErrResearchUnavailable, attempted)
	}
	return evidence, nil
}

// searchQuery pairs query text with the corpus field it targets, if any.
type searchQuery struct {
	text  string
	field string
}

// buildQueries derives a deterministic query plan: one query per
// out-of-schema field, then a general fallback when retrieval missed.
// Capped at MaxQueries.
func (a *Agent) buildQueries(intent models.QueryIntent, retrieval models.RetrievalResult) []searchQuery {
	subject := intent.TargetPropertyName
	if subject == "" && len(retrieval.Matches) > 0 {
		subject = retrieval.Matches[0].Record.Name
	}
	if subject == "" {
		subject = strings.TrimSpace(strings.Join([]string{intent.PropertyType, intent.Location}, " "))
	}

	var queries []searchQuery
	for _, field := range intent.OutOfSchemaFields {
		topic := strings.ReplaceAll(field, "_", " ")
		queries = append(queries, searchQuery{
			text:  strings.TrimSpace(fmt.Sprintf("%s %s Malaysia", subject, topic)),
			field: field,
		})
	}

	if !retrieval.Hit {
		text := strings.TrimSpace(intent.RawText)
		if intent.Location != "" && !strings.Contains(strings.ToLower(text), strings.ToLower(intent.Location)) {
			text = text + " " + intent.Location
		}
		queries = append(queries, searchQuery{text: text + " Malaysia property"})
	}

	if len(queries) > a.cfg.MaxQueries {
		queries = queries[:a.cfg.MaxQueries]
	}
	return queries
}

// toEvidence converts a raw hit into scored evidence. Facts the provider did
// not structure are attributed to the targeted field as a best-effort
// summary; they are reported, never asserted.
func (a *Agent) toEvidence(hit SearchHit, field string) models.WebEvidence {
	snippet := hit.Snippet
	if len(snippet) > maxSnippetLength {
		snippet = snippet[:maxSnippetLength]
	}
	facts := hit.Facts
	if len(facts) == 0 && field != "" && snippet != "" {
		facts = map[string]string{field: snippet}
	}
	confidence := hit.Confidence
	if confidence == "" {
		confidence = "low"
	}
	return models.WebEvidence{
		SourceURL:      hit.URL,
		Snippet:        snippet,
		ExtractedFacts: facts,
		Confidence:     confidence,
		Credibility:    a.cred.Score(hit.URL),
		FetchedAt:      time.Now().UTC(),
	}
}

// HTTPProvider calls a search sidecar over HTTP.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type searchRequest struct {
	Query string `json:"query"`
}

type searchResponse struct {
	Results []SearchHit `json:"results"`
}

func (p *HTTPProvider) Search(ctx context.Context, query string) ([]SearchHit, error) {
	body, err := json.Marshal(searchRequest{Query: query})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/search/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search service returned %d: %s", resp.StatusCode, string(data))
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return sr.Results, nil
}
