// Package synthesis merges retrieval matches and web evidence into one
// grounded answer. The cited property set and evidence flags are computed
// deterministically before the model is asked to phrase anything; the model
// varies wording, never grounding.
package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kediaman/orchestrator/internal/llm"
	"github.com/kediaman/orchestrator/internal/models"
)

// ErrModelUnavailable is returned when the language model cannot produce a
// response. Recoverable: callers fall back to FallbackResponse.
var ErrModelUnavailable = errors.New("synthesis model unavailable")

// Context carries the conversational surroundings of the turn.
type Context struct {
	RecentHistory []string
	// CorpusUnavailable marks a listings outage. The answer must state the
	// data is temporarily unavailable; it must not claim no matches exist.
	CorpusUnavailable bool
}

// Config controls the synthesizer.
type Config struct {
	MaxAttempts int
}

// Synthesizer phrases grounded answers.
type Synthesizer struct {
	llm llm.Client
	cfg Config
	log *zap.Logger
}

func New(client llm.Client, cfg Config, logger *zap.Logger) *Synthesizer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	return &Synthesizer{llm: client, cfg: cfg, log: logger}
}

// Synthesize produces the final answer for a turn. Corpus matches are
// authoritative for fields the corpus owns (price, bedrooms, amenities); web
// evidence supplements what the corpus lacks and is attributed, not
// asserted. The same (intent, retrieval, evidence) triple always yields the
// same cited properties and evidence flags.
func (s *Synthesizer) Synthesize(ctx context.Context, intent models.QueryIntent, retrieval models.RetrievalResult, evidence []models.WebEvidence, cc Context) (models.AgentResponse, error) {
	resp := models.AgentResponse{
		CitedProperties: citedProperties(retrieval),
		EvidenceUsed: models.EvidenceUsed{
			Retrieval: len(retrieval.Matches) > 0,
			WebSearch: len(evidence) > 0,
		},
	}
	limitation := intent.PropertyQuery && !retrieval.Hit && len(evidence) == 0 && !cc.CorpusUnavailable

	prompt := s.buildPrompt(intent, retrieval, evidence, cc, limitation)

	var text string
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		out, err := s.llm.Complete(ctx, llm.CompletionRequest{Prompt: prompt, Temperature: 0.3})
		if err != nil {
			lastErr = err
			continue
		}
		text = strings.TrimSpace(out.Text)
		if text != "" {
			lastErr = nil
			break
		}
		lastErr = fmt.Errorf("empty completion")
	}
	if lastErr != nil {
		s.log.Warn("Synthesis failed after retries", zap.Error(lastErr))
		return models.AgentResponse{}, fmt.Errorf("%w: %v", ErrModelUnavailable, lastErr)
	}

	resp.Text = text
	if limitation {
		resp.LimitationStated = true
		if !mentionsLimitation(text) {
			resp.Text = text + " I couldn't find a property matching your criteria in my current sources."
		}
	}
	if cc.CorpusUnavailable && intent.PropertyQuery {
		resp.LimitationStated = true
		if !mentionsUnavailability(resp.Text) {
			resp.Text = resp.Text + " Please note our property listings data is temporarily unavailable, so I couldn't check current listings."
		}
	}
	return resp, nil
}

// citedProperties is the deterministic citation set: every retrieval match,
// in ranked order. Never a fabricated id.
func citedProperties(retrieval models.RetrievalResult) []string {
	ids := make([]string, 0, len(retrieval.Matches))
	for _, m := range retrieval.Matches {
		ids = append(ids, m.Record.ID)
	}
	return ids
}

func mentionsUnavailability(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range []string{"temporarily unavailable", "currently unavailable", "unavailable right now"} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func mentionsLimitation(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range []string{"couldn't find", "could not find", "no properties", "unable to find", "don't have"} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func (s *Synthesizer) buildPrompt(intent models.QueryIntent, retrieval models.RetrievalResult, evidence []models.WebEvidence, cc Context, limitation bool) string {
	var b strings.Builder

	b.WriteString("You are a helpful property assistant for the Malaysian market.\n\n")

	if len(cc.RecentHistory) > 0 {
		b.WriteString("Previous conversation:\n")
		b.WriteString(strings.Join(cc.RecentHistory, "\n"))
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Current user input: %s\n\n", intent.RawText)

	if !intent.PropertyQuery {
		b.WriteString("This is general conversation, not a property question. Reply in a friendly, conversational manner. You may mention you are a property assistant, but do not analyze properties.\n")
		return b.String()
	}

	if len(retrieval.Matches) > 0 {
		b.WriteString("Matching properties from the listings database (authoritative for price, bedrooms, size, and amenities):\n")
		for _, m := range retrieval.Matches {
			if data, err := json.Marshal(m.Record); err == nil {
				b.Write(data)
				b.WriteByte('\n')
			}
		}
		b.WriteString("\n")
	} else if cc.CorpusUnavailable {
		b.WriteString("The listings database is temporarily unavailable; no listings could be checked for this question.\n\n")
	} else {
		b.WriteString("No matching properties were found in the listings database.\n\n")
	}

	if len(evidence) > 0 {
		b.WriteString("Web search findings (attribute these to their source, e.g. \"according to ...\"; never present them as verified):\n")
		for _, ev := range evidence {
			fmt.Fprintf(&b, "- [%s, confidence %s] %s", ev.SourceURL, ev.Confidence, ev.Snippet)
			for field, fact := range ev.ExtractedFacts {
				fmt.Fprintf(&b, " (%s: %s)", field, fact)
			}
			b.WriteByte('\n')
		}
		b.WriteString("\n")
	}

	b.WriteString("Instructions:\n")
	b.WriteString("- Database fields take precedence over web findings when both cover the same fact.\n")
	b.WriteString("- If a requested detail appears in none of the sources, say you could not find it. Never invent or infer facts.\n")
	if intent.Recommendation {
		b.WriteString("- Format the answer as a short list of recommendations: property name, price, bedrooms, size, and key features per entry, then offer further help.\n")
	}
	if limitation {
		b.WriteString("- No source answered this query. State clearly that you couldn't find a matching property, and suggest loosening the criteria.\n")
	}
	if cc.CorpusUnavailable {
		b.WriteString("- State clearly that listings data is temporarily unavailable. Do not claim that no matching properties exist, and do not invent property facts.\n")
	}
	b.WriteString("- Keep a professional, helpful tone.\n\nResponse:")

	return b.String()
}

// FallbackResponse is the deterministic answer used when the model is down.
// It lists any retrieval matches verbatim so the turn still returns grounded
// results.
func FallbackResponse(intent models.QueryIntent, retrieval models.RetrievalResult, corpusUnavailable bool) models.AgentResponse {
	resp := models.AgentResponse{
		CitedProperties: citedProperties(retrieval),
		EvidenceUsed:    models.EvidenceUsed{Retrieval: len(retrieval.Matches) > 0},
	}
	if corpusUnavailable {
		resp.Text = "I'm having trouble generating a full answer right now, and our property listings data is temporarily unavailable. Please try again shortly."
		resp.LimitationStated = true
		return resp
	}
	if len(retrieval.Matches) == 0 {
		resp.Text = "I'm having trouble generating a full answer right now, and I couldn't find a property matching your criteria. Please try again shortly."
		resp.LimitationStated = true
		return resp
	}

	var b strings.Builder
	b.WriteString("I'm having trouble generating a full answer right now, but here are the closest matches I found:\n")
	for _, m := range retrieval.Matches {
		fmt.Fprintf(&b, "- %s, %s, RM %.0f, %d bedrooms\n", m.Record.Name, m.Record.Location, m.Record.Price, m.Record.Bedrooms)
	}
	resp.Text = b.String()
	return resp
}

// ClarificationResponse asks the user to rephrase an unparseable query.
func ClarificationResponse() models.AgentResponse {
	return models.AgentResponse{
		Text:          "I'm sorry, I couldn't understand that. Could you rephrase your question? For example: \"3-bedroom condos in Mont Kiara under RM 900,000\".",
		Clarification: true,
	}
}
