// Package workflows contains the Temporal workflow driving one inquiry
// turn. The turn is an explicit state machine: load thread, classify,
// retrieve, conditionally research the web, synthesize, persist. Each branch
// predicate is deterministic so every path is independently testable.
package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/kediaman/orchestrator/internal/activities"
	"github.com/kediaman/orchestrator/internal/models"
	"github.com/kediaman/orchestrator/internal/synthesis"
)

// TurnWorkflow runs one inquiry turn end to end.
func TurnWorkflow(ctx workflow.Context, input TurnInput) (TurnResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting inquiry turn",
		"thread_id", input.ThreadID,
		"query", input.Query,
	)

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var a *activities.Activities

	var thread activities.LoadThreadResult
	if err := workflow.ExecuteActivity(ctx, a.LoadThread, activities.LoadThreadInput{
		ThreadID: input.ThreadID,
	}).Get(ctx, &thread); err != nil {
		logger.Error("Thread load failed", "error", err)
		return TurnResult{}, err
	}

	result := TurnResult{ThreadID: thread.ThreadID}

	var classified activities.ClassifyResult
	if err := workflow.ExecuteActivity(ctx, a.ClassifyQuery, activities.ClassifyInput{
		Query:  input.Query,
		Thread: thread,
	}).Get(ctx, &classified); err != nil {
		logger.Error("Classification failed", "error", err)
		return TurnResult{}, err
	}

	// An unparseable query short-circuits to a clarification request; the
	// turn still persists so the thread records the exchange.
	if classified.Unparseable {
		result.Response = synthesis.ClarificationResponse()
		persistTurn(ctx, a, input, &result, nil, "")
		return result, nil
	}

	intent := classified.Intent

	var retrieved activities.RetrieveResult
	var evidence []models.WebEvidence
	researchUnavailable := false

	if intent.PropertyQuery {
		if err := workflow.ExecuteActivity(ctx, a.RetrieveProperties, activities.RetrieveInput{
			Intent: intent,
		}).Get(ctx, &retrieved); err != nil {
			logger.Error("Retrieval failed", "error", err)
			return TurnResult{}, err
		}

		// Escalate to web research on a retrieval miss or when the intent
		// asks about fields the corpus never held.
		if !retrieved.Retrieval.Hit || len(intent.OutOfSchemaFields) > 0 {
			researchOptions := workflow.ActivityOptions{
				StartToCloseTimeout: 30 * time.Second,
				RetryPolicy: &temporal.RetryPolicy{
					MaximumAttempts: 2,
				},
			}
			rctx := workflow.WithActivityOptions(ctx, researchOptions)

			var researched activities.ResearchResult
			if err := workflow.ExecuteActivity(rctx, a.ConductWebResearch, activities.ResearchInput{
				Intent:    intent,
				Retrieval: retrieved.Retrieval,
			}).Get(rctx, &researched); err != nil {
				logger.Warn("Web research failed, continuing with retrieval evidence", "error", err)
				researchUnavailable = true
			} else {
				evidence = researched.Evidence
				researchUnavailable = researched.Unavailable
			}
			result.WebSearchConducted = !researchUnavailable
		}
	}

	var synthesized activities.SynthesizeResult
	if err := workflow.ExecuteActivity(ctx, a.SynthesizeResponse, activities.SynthesizeInput{
		Intent:            intent,
		Retrieval:         retrieved.Retrieval,
		Evidence:          evidence,
		RecentHistory:     thread.RecentHistory,
		CorpusUnavailable: retrieved.CorpusUnavailable,
	}).Get(ctx, &synthesized); err != nil {
		logger.Error("Synthesis failed", "error", err)
		return TurnResult{}, err
	}

	result.Response = synthesized.Response
	for _, m := range retrieved.Retrieval.Matches {
		result.RelevantProperties = append(result.RelevantProperties, m.Record)
	}

	focus := activities.FocusProperty(intent, result.Response)
	persistTurn(ctx, a, input, &result, &intent, focus)

	logger.Info("Inquiry turn complete",
		"thread_id", result.ThreadID,
		"seq", result.Seq,
		"cited", len(result.Response.CitedProperties),
		"web_search", result.WebSearchConducted,
	)
	return result, nil
}

// persistTurn saves the exchange. A persist failure is recorded on the
// result rather than failing the turn; the caller still gets the answer.
func persistTurn(ctx workflow.Context, a *activities.Activities, input TurnInput, result *TurnResult, intent *models.QueryIntent, focus string) {
	logger := workflow.GetLogger(ctx)

	var persisted activities.PersistTurnResult
	err := workflow.ExecuteActivity(ctx, a.PersistTurn, activities.PersistTurnInput{
		ThreadID:        result.ThreadID,
		Query:           input.Query,
		Response:        result.Response,
		Intent:          intent,
		FocusPropertyID: focus,
	}).Get(ctx, &persisted)
	if err != nil {
		logger.Error("Turn persistence failed", "thread_id", result.ThreadID, "error", err)
		result.PersistFailed = true
		return
	}
	result.Seq = persisted.Seq
}
