package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kediaman/orchestrator/internal/models"
)

type stubEmbedder struct{ vec []float32 }

func (s stubEmbedder) GenerateEmbedding(context.Context, string) ([]float32, error) {
	return s.vec, nil
}

type failingEmbedder struct{}

func (failingEmbedder) GenerateEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("llm service down")
}

type stubSearcher struct {
	results []models.ScoredProperty
	err     error
	gotF    models.SearchFilters
	gotK    int
}

func (s *stubSearcher) SearchProperties(_ context.Context, _ []float32, f models.SearchFilters, k int) ([]models.ScoredProperty, error) {
	s.gotF = f
	s.gotK = k
	return s.results, s.err
}

func rec(id string, price float64, bedrooms int, insertion int64) models.PropertyRecord {
	return models.PropertyRecord{
		ID: id, Name: id, Price: price, Bedrooms: bedrooms,
		Location: "Bangsar South", PropertyType: "condo", InsertionID: insertion,
	}
}

func newRetriever(s Searcher, threshold float64) *Retriever {
	return NewRetriever(stubEmbedder{vec: []float32{1, 0}}, s,
		Config{TopK: 3, Threshold: threshold}, zap.NewNop())
}

func TestRetrieveThresholdBoundary(t *testing.T) {
	// Exactly at the threshold is a hit; just below is a miss.
	cases := []struct {
		name  string
		score float64
		hit   bool
	}{
		{"at threshold", 0.75, true},
		{"just below", 0.7499, false},
		{"above", 0.9, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &stubSearcher{results: []models.ScoredProperty{{Record: rec("a", 700000, 2, 1), Score: tc.score}}}
			got, err := newRetriever(s, 0.75).Retrieve(context.Background(), models.QueryIntent{
				RawText: "condos", PropertyQuery: true, Confidence: 0.9,
			}, 0)
			require.NoError(t, err)
			assert.Equal(t, tc.hit, got.Hit)
		})
	}
}

func TestRetrieveDeterministicTieBreak(t *testing.T) {
	s := &stubSearcher{results: []models.ScoredProperty{
		{Record: rec("later", 700000, 2, 9), Score: 0.8},
		{Record: rec("earlier", 700000, 2, 3), Score: 0.8},
		{Record: rec("top", 700000, 2, 5), Score: 0.95},
	}}
	r := newRetriever(s, 0.75)
	intent := models.QueryIntent{RawText: "condos in Bangsar South", Confidence: 0.9}

	first, err := r.Retrieve(context.Background(), intent, 0)
	require.NoError(t, err)
	second, err := r.Retrieve(context.Background(), intent, 0)
	require.NoError(t, err)

	ids := func(res models.RetrievalResult) []string {
		out := make([]string, 0, len(res.Matches))
		for _, m := range res.Matches {
			out = append(out, m.Record.ID)
		}
		return out
	}
	assert.Equal(t, []string{"top", "earlier", "later"}, ids(first))
	assert.Equal(t, ids(first), ids(second), "repeated calls must return the same order")
}

func TestRetrieveFilteredOutNeverCountsTowardHit(t *testing.T) {
	// The only high-scoring candidate violates the price cap, so the turn is a miss.
	s := &stubSearcher{results: []models.ScoredProperty{
		{Record: rec("too-expensive", 1200000, 2, 1), Score: 0.95},
		{Record: rec("cheap-but-weak", 600000, 2, 2), Score: 0.4},
	}}
	got, err := newRetriever(s, 0.75).Retrieve(context.Background(), models.QueryIntent{
		RawText: "condos under 800k", PriceMax: 800000, Confidence: 0.9,
	}, 0)
	require.NoError(t, err)

	require.Len(t, got.Matches, 1)
	assert.Equal(t, "cheap-but-weak", got.Matches[0].Record.ID)
	assert.False(t, got.Hit)
}

func TestRetrieveReferenceNarrowsToOneRecord(t *testing.T) {
	s := &stubSearcher{results: []models.ScoredProperty{
		{Record: rec("p-1", 700000, 2, 1), Score: 0.9},
		{Record: rec("p-2", 700000, 2, 2), Score: 0.88},
	}}
	got, err := newRetriever(s, 0.75).Retrieve(context.Background(), models.QueryIntent{
		RawText: "what amenities does it have?", ReferencePropertyID: "p-2", Confidence: 0.5,
	}, 0)
	require.NoError(t, err)

	require.Len(t, got.Matches, 1)
	assert.Equal(t, "p-2", got.Matches[0].Record.ID)
	assert.Equal(t, "p-2", s.gotF.PropertyID)
}

func TestRetrieveLowConfidenceBroadensFilters(t *testing.T) {
	s := &stubSearcher{results: []models.ScoredProperty{
		{Record: rec("a", 700000, 2, 1), Score: 0.8},
	}}
	_, err := newRetriever(s, 0.75).Retrieve(context.Background(), models.QueryIntent{
		RawText: "something nice", PriceMax: 500000, Confidence: 0.2,
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.SearchFilters{}, s.gotF, "low confidence should drop structured narrowing")
}

func TestRetrieveCorpusDown(t *testing.T) {
	s := &stubSearcher{err: errors.New("connection refused")}
	_, err := newRetriever(s, 0.75).Retrieve(context.Background(), models.QueryIntent{RawText: "x", Confidence: 0.9}, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorpusUnavailable)
}

func TestRetrieveEmbedderDown(t *testing.T) {
	r := NewRetriever(failingEmbedder{}, &stubSearcher{}, Config{TopK: 3, Threshold: 0.75}, zap.NewNop())
	_, err := r.Retrieve(context.Background(), models.QueryIntent{RawText: "x", Confidence: 0.9}, 0)
	assert.ErrorIs(t, err, ErrCorpusUnavailable)
}

func TestMemorySearcherRanksByCosine(t *testing.T) {
	m := NewMemorySearcher()
	m.Add(models.PropertyRecord{ID: "exact"}, []float32{1, 0})
	m.Add(models.PropertyRecord{ID: "orthogonal"}, []float32{0, 1})

	got, err := m.SearchProperties(context.Background(), []float32{1, 0}, models.SearchFilters{}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "exact", got[0].Record.ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.InDelta(t, 0.5, got[1].Score, 1e-6)
}
