package workflows

import "github.com/kediaman/orchestrator/internal/models"

// TurnInput starts one inquiry turn on a thread.
type TurnInput struct {
	ThreadID string `json:"thread_id"`
	Query    string `json:"query"`
}

// TurnResult is the turn's outcome returned to the API layer.
type TurnResult struct {
	ThreadID string               `json:"thread_id"`
	Seq      int64                `json:"seq"`
	Response models.AgentResponse `json:"response"`
	// RelevantProperties are the matched records, in ranked order, for the
	// caller to render alongside the answer.
	RelevantProperties []models.PropertyRecord `json:"relevant_properties,omitempty"`
	WebSearchConducted bool                    `json:"web_search_conducted"`
	// PersistFailed marks a turn whose answer was produced but whose state
	// update could not be saved; the caller still gets the answer.
	PersistFailed bool `json:"persist_failed"`
}
