package retrieval

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/kediaman/orchestrator/internal/models"
)

// MemorySearcher is a brute-force in-memory corpus used for local development
// and tests. Cosine similarity is normalized into [0,1] so the hit threshold
// behaves the same as against the real backend.
type MemorySearcher struct {
	mu      sync.RWMutex
	records []models.PropertyRecord
	vectors [][]float32
	nextID  int64
}

func NewMemorySearcher() *MemorySearcher { return &MemorySearcher{} }

// Add inserts a record with its vector, assigning the corpus insertion id.
func (m *MemorySearcher) Add(rec models.PropertyRecord, vec []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.InsertionID = m.nextID
	m.records = append(m.records, rec)
	m.vectors = append(m.vectors, vec)
}

func (m *MemorySearcher) SearchProperties(_ context.Context, vec []float32, _ models.SearchFilters, limit int) ([]models.ScoredProperty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 5
	}

	out := make([]models.ScoredProperty, 0, len(m.records))
	for i, rec := range m.records {
		out = append(out, models.ScoredProperty{
			Record: rec,
			Score:  (cosine(vec, m.vectors[i]) + 1) / 2,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Record.InsertionID < out[j].Record.InsertionID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
