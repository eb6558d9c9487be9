package models

import "time"

// QueryIntent is the structured interpretation of one user query. A fresh
// intent is produced per turn; unset slots may be inherited from the prior
// turn's intent on the same thread.
type QueryIntent struct {
	RawText             string   `json:"raw_text"`
	PropertyQuery       bool     `json:"property_query"`
	Recommendation      bool     `json:"recommendation"`
	PropertyType        string   `json:"property_type,omitempty"`
	Location            string   `json:"location,omitempty"`
	PriceMin            float64  `json:"price_min,omitempty"`
	PriceMax            float64  `json:"price_max,omitempty"`
	Bedrooms            int      `json:"bedrooms,omitempty"`
	Bathrooms           int      `json:"bathrooms,omitempty"`
	SizeMin             float64  `json:"size_min,omitempty"`
	SizeMax             float64  `json:"size_max,omitempty"`
	PSFMin              float64  `json:"psf_min,omitempty"`
	PSFMax              float64  `json:"psf_max,omitempty"`
	Amenities           []string `json:"amenities,omitempty"`
	TargetPropertyName  string   `json:"target_property_name,omitempty"`
	ReferencePropertyID string   `json:"reference_property_id,omitempty"`
	// Fields the corpus schema cannot answer (developer, year built, safety...).
	// A non-empty list forces web-research escalation regardless of hit/miss.
	OutOfSchemaFields []string `json:"out_of_schema_fields,omitempty"`
	// Confidence reflects slot completeness, not factual correctness.
	Confidence float64 `json:"confidence"`
}

// HasPriceBand reports whether the intent pins any price constraint.
func (qi *QueryIntent) HasPriceBand() bool {
	return qi.PriceMin > 0 || qi.PriceMax > 0
}

// PropertyRecord is one listing from the retrieval corpus. Read-only to the
// orchestration core; corpus mutation belongs to the ingestion tooling.
type PropertyRecord struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Price        float64  `json:"price"`
	Location     string   `json:"location"`
	PropertyType string   `json:"property_type"`
	Bedrooms     int      `json:"bedrooms"`
	Bathrooms    int      `json:"bathrooms"`
	SizeSqft     float64  `json:"size_sqft"`
	Amenities    []string `json:"amenities"`
	Description  string   `json:"description"`
	AgentName    string   `json:"agent_name,omitempty"`
	ListingURL   string   `json:"listing_url,omitempty"`
	// InsertionID orders records by corpus insertion for deterministic
	// tie-breaking on equal similarity scores.
	InsertionID int64 `json:"insertion_id"`
}

// ScoredProperty pairs a record with its normalized similarity score.
type ScoredProperty struct {
	Record PropertyRecord `json:"record"`
	Score  float64        `json:"score"`
}

// RetrievalResult is the ranked outcome of a similarity search.
// Hit is true iff the top filtered match clears the relevance threshold.
type RetrievalResult struct {
	Matches []ScoredProperty `json:"matches"`
	Hit     bool             `json:"hit"`
}

// TopScore returns the best match score, or 0 when there are no matches.
func (r *RetrievalResult) TopScore() float64 {
	if len(r.Matches) == 0 {
		return 0
	}
	return r.Matches[0].Score
}

// SearchFilters are the structured constraints applied around the vector
// search. Zero values mean "unconstrained".
type SearchFilters struct {
	PropertyType string  `json:"property_type,omitempty"`
	Location     string  `json:"location,omitempty"`
	PriceMin     float64 `json:"price_min,omitempty"`
	PriceMax     float64 `json:"price_max,omitempty"`
	Bedrooms     int     `json:"bedrooms,omitempty"`
	PropertyID   string  `json:"property_id,omitempty"`
}

// WebEvidence is one distilled external source. Ephemeral: it lives for the
// turn that produced it and only its summary survives into the response.
type WebEvidence struct {
	SourceURL      string            `json:"source_url"`
	Snippet        string            `json:"snippet"`
	ExtractedFacts map[string]string `json:"extracted_facts,omitempty"`
	Confidence     string            `json:"confidence,omitempty"` // high|medium|low
	Credibility    float64           `json:"credibility,omitempty"`
	FetchedAt      time.Time         `json:"fetched_at"`
}

// EvidenceUsed records which sources actually informed the answer.
type EvidenceUsed struct {
	Retrieval bool `json:"retrieval"`
	WebSearch bool `json:"web_search"`
}

// AgentResponse is the immutable contract returned to the caller.
type AgentResponse struct {
	Text             string       `json:"text"`
	CitedProperties  []string     `json:"cited_properties"`
	EvidenceUsed     EvidenceUsed `json:"evidence_used"`
	Clarification    bool         `json:"clarification,omitempty"`
	LimitationStated bool         `json:"limitation_stated,omitempty"`
}
