// Package activities holds the Temporal activity implementations for one
// inquiry turn. Each activity is a thin wrapper over an internal package;
// recoverable domain outcomes travel in the result struct so the workflow
// can branch on them, while activity errors are reserved for failures worth
// retrying.
package activities

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kediaman/orchestrator/internal/classifier"
	"github.com/kediaman/orchestrator/internal/conversation"
	"github.com/kediaman/orchestrator/internal/db"
	"github.com/kediaman/orchestrator/internal/models"
	"github.com/kediaman/orchestrator/internal/research"
	"github.com/kediaman/orchestrator/internal/retrieval"
	"github.com/kediaman/orchestrator/internal/synthesis"
)

// historyWindow bounds how many prior turns feed the prompts.
const historyWindow = 10

// Activities bundles the turn pipeline's dependencies.
type Activities struct {
	classifier  *classifier.Classifier
	retriever   *retrieval.Retriever
	researcher  *research.Agent
	synthesizer *synthesis.Synthesizer
	threads     *conversation.Store
	archive     *db.Archive // nil when the durable archive is disabled
	logger      *zap.Logger
}

func NewActivities(
	cls *classifier.Classifier,
	ret *retrieval.Retriever,
	res *research.Agent,
	syn *synthesis.Synthesizer,
	threads *conversation.Store,
	archive *db.Archive,
	logger *zap.Logger,
) *Activities {
	return &Activities{
		classifier:  cls,
		retriever:   ret,
		researcher:  res,
		synthesizer: syn,
		threads:     threads,
		archive:     archive,
		logger:      logger,
	}
}

// LoadThread snapshots the thread state, creating the thread transparently
// when the id is unknown.
func (a *Activities) LoadThread(ctx context.Context, in LoadThreadInput) (LoadThreadResult, error) {
	thread, err := a.threads.GetOrCreate(ctx, in.ThreadID)
	if err != nil {
		return LoadThreadResult{}, err
	}
	return LoadThreadResult{
		ThreadID:        thread.ID,
		Seq:             thread.Seq,
		RecentHistory:   thread.RecentHistory(historyWindow),
		LastIntent:      thread.LastIntent,
		LastFocusID:     thread.LastFocusPropertyID,
		HasPriorHistory: len(thread.Turns) > 0,
	}, nil
}

// ClassifyQuery extracts the structured intent for the turn.
func (a *Activities) ClassifyQuery(ctx context.Context, in ClassifyInput) (ClassifyResult, error) {
	intent, err := a.classifier.Classify(ctx, in.Query, classifier.Context{
		PriorIntent:     in.Thread.LastIntent,
		LastFocusID:     in.Thread.LastFocusID,
		RecentHistory:   in.Thread.RecentHistory,
		HasPriorHistory: in.Thread.HasPriorHistory,
	})
	if errors.Is(err, classifier.ErrUnparseable) {
		return ClassifyResult{Unparseable: true}, nil
	}
	if err != nil {
		return ClassifyResult{}, err
	}
	return ClassifyResult{Intent: intent}, nil
}

// RetrieveProperties runs the similarity search. A down corpus is reported
// in the result so the turn can degrade to web research.
func (a *Activities) RetrieveProperties(ctx context.Context, in RetrieveInput) (RetrieveResult, error) {
	result, err := a.retriever.Retrieve(ctx, in.Intent, 0)
	if errors.Is(err, retrieval.ErrCorpusUnavailable) {
		a.logger.Warn("Corpus unavailable, continuing without retrieval",
			zap.String("query", in.Intent.RawText),
		)
		return RetrieveResult{CorpusUnavailable: true}, nil
	}
	if err != nil {
		return RetrieveResult{}, err
	}
	return RetrieveResult{Retrieval: result}, nil
}

// ConductWebResearch gathers external evidence. Partial evidence is success;
// total unavailability is reported, never raised.
func (a *Activities) ConductWebResearch(ctx context.Context, in ResearchInput) (ResearchResult, error) {
	evidence, err := a.researcher.Research(ctx, in.Intent, in.Retrieval)
	if errors.Is(err, research.ErrResearchUnavailable) {
		return ResearchResult{Unavailable: true}, nil
	}
	if err != nil {
		return ResearchResult{}, err
	}
	return ResearchResult{Evidence: evidence}, nil
}

// SynthesizeResponse phrases the final answer. When the model is down the
// turn still answers with the deterministic fallback.
func (a *Activities) SynthesizeResponse(ctx context.Context, in SynthesizeInput) (SynthesizeResult, error) {
	resp, err := a.synthesizer.Synthesize(ctx, in.Intent, in.Retrieval, in.Evidence, synthesis.Context{
		RecentHistory:     in.RecentHistory,
		CorpusUnavailable: in.CorpusUnavailable,
	})
	if errors.Is(err, synthesis.ErrModelUnavailable) {
		return SynthesizeResult{
			Response:     synthesis.FallbackResponse(in.Intent, in.Retrieval, in.CorpusUnavailable),
			UsedFallback: true,
		}, nil
	}
	if err != nil {
		return SynthesizeResult{}, err
	}
	return SynthesizeResult{Response: resp}, nil
}

// PersistTurn atomically appends the completed exchange to the thread and
// archives it. The archive write is best-effort; conversation state is the
// source of truth.
func (a *Activities) PersistTurn(ctx context.Context, in PersistTurnInput) (PersistTurnResult, error) {
	thread, err := a.threads.AppendExchange(ctx, in.ThreadID, in.Query, in.Response.Text, in.Intent, in.FocusPropertyID)
	if err != nil {
		return PersistTurnResult{}, err
	}

	if a.archive != nil {
		rec := db.TurnRecord{
			ThreadID: in.ThreadID,
			Seq:      thread.Seq,
			Query:    in.Query,
			Response: in.Response,
		}
		if err := a.archive.ArchiveTurn(ctx, rec); err != nil {
			a.logger.Warn("Turn archive write failed",
				zap.String("thread_id", in.ThreadID),
				zap.Int64("seq", thread.Seq),
				zap.Error(err),
			)
		}
	}
	return PersistTurnResult{Seq: thread.Seq}, nil
}

// FocusProperty picks the property a completed turn leaves in focus: the
// explicit reference if one was resolved, otherwise the top cited match.
func FocusProperty(intent models.QueryIntent, resp models.AgentResponse) string {
	if intent.ReferencePropertyID != "" {
		return intent.ReferencePropertyID
	}
	if len(resp.CitedProperties) > 0 {
		return resp.CitedProperties[0]
	}
	return ""
}
