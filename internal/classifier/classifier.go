// Package classifier turns raw query text plus conversation context into a
// structured intent. Extraction uses the language-model capability; merging,
// reference resolution, and confidence scoring are deterministic.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/kediaman/orchestrator/internal/llm"
	"github.com/kediaman/orchestrator/internal/metrics"
	"github.com/kediaman/orchestrator/internal/models"
)

// ErrUnparseable is returned when the input is empty or still unparseable
// after retries. Recoverable: the caller asks the user to rephrase.
var ErrUnparseable = errors.New("query unparseable")

// followUpMaxWords bounds follow-up detection to short queries; long queries
// are self-contained often enough that inherited slots would mislead.
const followUpMaxWords = 15

var jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)

// referencePattern catches pronouns and demonstratives pointing at the
// thread's focus property ("what about its amenities?").
var referencePattern = regexp.MustCompile(`(?i)\b(it|its|this one|that one|this property|that property|the property|there)\b`)

// Config controls the classifier.
type Config struct {
	MaxAttempts int
}

// Context is the prior-thread state the classifier resolves against.
type Context struct {
	PriorIntent     *models.QueryIntent
	LastFocusID     string
	RecentHistory   []string
	HasPriorHistory bool
}

// Classifier extracts structured intents from natural language.
type Classifier struct {
	llm llm.Client
	cfg Config
	log *zap.Logger
}

func New(client llm.Client, cfg Config, logger *zap.Logger) *Classifier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	return &Classifier{llm: client, cfg: cfg, log: logger}
}

// extraction mirrors the JSON object the model is asked to return.
type extraction struct {
	PropertyQuery  bool     `json:"property_query"`
	Recommendation bool     `json:"recommendation"`
	PropertyType   string   `json:"property_type"`
	Location       string   `json:"location"`
	PriceMin       float64  `json:"price_min"`
	PriceMax       float64  `json:"price_max"`
	Bedrooms       int      `json:"bedrooms"`
	Bathrooms      int      `json:"bathrooms"`
	SizeMin        float64  `json:"size_min"`
	SizeMax        float64  `json:"size_max"`
	PSFMin         float64  `json:"psf_min"`
	PSFMax         float64  `json:"psf_max"`
	Amenities      []string `json:"amenities"`
	TargetProperty string   `json:"target_property"`
	IsFollowUp     bool     `json:"is_follow_up"`
}

// Classify produces a fresh intent for the turn, inheriting unset slots from
// the prior intent on the same thread.
func (c *Classifier) Classify(ctx context.Context, rawText string, cc Context) (models.QueryIntent, error) {
	rawText = strings.TrimSpace(rawText)
	if rawText == "" {
		metrics.ClassificationFailures.Inc()
		return models.QueryIntent{}, fmt.Errorf("%w: empty query", ErrUnparseable)
	}

	history := strings.Join(cc.RecentHistory, "\n")
	prompt := fmt.Sprintf(extractionPrompt, history, rawText)

	var ext extraction
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		resp, err := c.llm.Complete(ctx, llm.CompletionRequest{Prompt: prompt, Temperature: 0})
		if err != nil {
			lastErr = err
			continue
		}
		ext, err = parseExtraction(resp.Text)
		if err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		metrics.ClassificationFailures.Inc()
		c.log.Warn("Classification failed after retries", zap.Error(lastErr))
		return models.QueryIntent{}, fmt.Errorf("%w: %v", ErrUnparseable, lastErr)
	}

	fresh := models.QueryIntent{
		RawText:            rawText,
		PropertyQuery:      ext.PropertyQuery,
		Recommendation:     ext.Recommendation,
		PropertyType:       strings.TrimSpace(ext.PropertyType),
		Location:           strings.TrimSpace(ext.Location),
		PriceMin:           ext.PriceMin,
		PriceMax:           ext.PriceMax,
		Bedrooms:           ext.Bedrooms,
		Bathrooms:          ext.Bathrooms,
		SizeMin:            ext.SizeMin,
		SizeMax:            ext.SizeMax,
		PSFMin:             ext.PSFMin,
		PSFMax:             ext.PSFMax,
		Amenities:          ext.Amenities,
		TargetPropertyName: strings.TrimSpace(ext.TargetProperty),
	}
	fresh.OutOfSchemaFields = DetectOutOfSchema(rawText)

	merged := MergeIntents(fresh, cc.PriorIntent)

	// Resolve pronoun/demonstrative references against the thread focus.
	followUp := ext.IsFollowUp && cc.HasPriorHistory
	if cc.LastFocusID != "" && (followUp || IsReferenceQuery(rawText)) && merged.TargetPropertyName == "" {
		merged.ReferencePropertyID = cc.LastFocusID
	}

	merged.Confidence = ComputeConfidence(merged)
	return merged, nil
}

// parseExtraction tolerates markdown fences and prose around the JSON object.
func parseExtraction(text string) (extraction, error) {
	raw := jsonObjectPattern.FindString(text)
	if raw == "" {
		return extraction{}, fmt.Errorf("no JSON object in model output")
	}
	var ext extraction
	if err := json.Unmarshal([]byte(raw), &ext); err != nil {
		return extraction{}, fmt.Errorf("decode extraction: %w", err)
	}
	return ext, nil
}

// IsReferenceQuery reports whether a short query points back at the focus
// property instead of naming one.
func IsReferenceQuery(rawText string) bool {
	if len(strings.Fields(rawText)) >= followUpMaxWords {
		return false
	}
	return referencePattern.MatchString(rawText)
}
