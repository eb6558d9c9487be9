package activities

import "github.com/kediaman/orchestrator/internal/models"

// LoadThreadInput identifies the thread a turn runs against.
type LoadThreadInput struct {
	ThreadID string `json:"thread_id"`
}

// LoadThreadResult is the snapshot of conversation state a turn classifies
// against. It is a projection, not the live thread: the workflow never
// mutates conversation state directly.
type LoadThreadResult struct {
	ThreadID        string              `json:"thread_id"`
	Seq             int64               `json:"seq"`
	RecentHistory   []string            `json:"recent_history,omitempty"`
	LastIntent      *models.QueryIntent `json:"last_intent,omitempty"`
	LastFocusID     string              `json:"last_focus_id,omitempty"`
	HasPriorHistory bool                `json:"has_prior_history"`
}

type ClassifyInput struct {
	Query  string           `json:"query"`
	Thread LoadThreadResult `json:"thread"`
}

// ClassifyResult carries either an intent or the unparseable flag. An
// unparseable query is a recoverable outcome, not an activity failure; the
// workflow answers with a clarification request.
type ClassifyResult struct {
	Intent      models.QueryIntent `json:"intent"`
	Unparseable bool               `json:"unparseable"`
}

type RetrieveInput struct {
	Intent models.QueryIntent `json:"intent"`
}

type RetrieveResult struct {
	Retrieval         models.RetrievalResult `json:"retrieval"`
	CorpusUnavailable bool                   `json:"corpus_unavailable"`
}

type ResearchInput struct {
	Intent    models.QueryIntent     `json:"intent"`
	Retrieval models.RetrievalResult `json:"retrieval"`
}

type ResearchResult struct {
	Evidence    []models.WebEvidence `json:"evidence,omitempty"`
	Unavailable bool                 `json:"unavailable"`
}

type SynthesizeInput struct {
	Intent        models.QueryIntent     `json:"intent"`
	Retrieval     models.RetrievalResult `json:"retrieval"`
	Evidence      []models.WebEvidence   `json:"evidence,omitempty"`
	RecentHistory []string               `json:"recent_history,omitempty"`
	// CorpusUnavailable distinguishes a listings outage from a genuine
	// miss; the synthesizer must say data is temporarily unavailable
	// rather than claim no properties matched.
	CorpusUnavailable bool `json:"corpus_unavailable,omitempty"`
}

type SynthesizeResult struct {
	Response models.AgentResponse `json:"response"`
	// UsedFallback marks a deterministic fallback answer produced because
	// the model was unavailable.
	UsedFallback bool `json:"used_fallback"`
}

type PersistTurnInput struct {
	ThreadID        string               `json:"thread_id"`
	Query           string               `json:"query"`
	Response        models.AgentResponse `json:"response"`
	Intent          *models.QueryIntent  `json:"intent,omitempty"`
	FocusPropertyID string               `json:"focus_property_id,omitempty"`
}

type PersistTurnResult struct {
	Seq int64 `json:"seq"`
}
