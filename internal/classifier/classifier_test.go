package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kediaman/orchestrator/internal/llm"
	"github.com/kediaman/orchestrator/internal/models"
)

// stubLLM replays canned completions, one per call.
type stubLLM struct {
	responses []string
	errs      []error
	calls     int
}

func (s *stubLLM) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return llm.CompletionResponse{}, s.errs[i]
	}
	if i >= len(s.responses) {
		return llm.CompletionResponse{}, errors.New("no more canned responses")
	}
	return llm.CompletionResponse{Text: s.responses[i]}, nil
}

func TestClassifyExtractsSlots(t *testing.T) {
	stub := &stubLLM{responses: []string{
		"```json\n{\"property_query\": true, \"property_type\": \"condo\", \"location\": \"Mont Kiara\", \"price_max\": 800000}\n```",
	}}
	c := New(stub, Config{}, zap.NewNop())

	intent, err := c.Classify(context.Background(), "condos in Mont Kiara under 800k", Context{})
	require.NoError(t, err)

	assert.True(t, intent.PropertyQuery)
	assert.Equal(t, "condo", intent.PropertyType)
	assert.Equal(t, "Mont Kiara", intent.Location)
	assert.Equal(t, 800000.0, intent.PriceMax)
	// base + location + price band + type
	assert.InDelta(t, 0.90, intent.Confidence, 0.001)
}

func TestClassifyEmptyQuery(t *testing.T) {
	c := New(&stubLLM{}, Config{}, zap.NewNop())

	_, err := c.Classify(context.Background(), "   ", Context{})
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestClassifyRetriesThenSucceeds(t *testing.T) {
	stub := &stubLLM{
		responses: []string{"sorry, no JSON here", "{\"property_query\": true, \"location\": \"Bangsar\"}"},
	}
	c := New(stub, Config{MaxAttempts: 2}, zap.NewNop())

	intent, err := c.Classify(context.Background(), "anything in Bangsar?", Context{})
	require.NoError(t, err)
	assert.Equal(t, "Bangsar", intent.Location)
	assert.Equal(t, 2, stub.calls)
}

func TestClassifyUnparseableAfterRetries(t *testing.T) {
	stub := &stubLLM{errs: []error{errors.New("boom"), errors.New("boom")}}
	c := New(stub, Config{MaxAttempts: 2}, zap.NewNop())

	_, err := c.Classify(context.Background(), "condos please", Context{})
	assert.ErrorIs(t, err, ErrUnparseable)
	assert.Equal(t, 2, stub.calls)
}

func TestClassifyInheritsPriorSlots(t *testing.T) {
	stub := &stubLLM{responses: []string{
		"{\"property_query\": true, \"bedrooms\": 2}",
	}}
	c := New(stub, Config{}, zap.NewNop())

	prior := &models.QueryIntent{
		PropertyQuery: true,
		PropertyType:  "condo",
		Location:      "Mont Kiara",
		PriceMax:      800000,
	}
	intent, err := c.Classify(context.Background(), "what about 2 bedrooms instead?", Context{
		PriorIntent:     prior,
		HasPriorHistory: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, intent.Bedrooms)
	assert.Equal(t, "condo", intent.PropertyType)
	assert.Equal(t, "Mont Kiara", intent.Location)
	assert.Equal(t, 800000.0, intent.PriceMax)
}

func TestClassifyResolvesReference(t *testing.T) {
	stub := &stubLLM{responses: []string{
		"{\"property_query\": true, \"is_follow_up\": true}",
	}}
	c := New(stub, Config{}, zap.NewNop())

	intent, err := c.Classify(context.Background(), "does it have a pool?", Context{
		LastFocusID:     "prop-42",
		HasPriorHistory: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "prop-42", intent.ReferencePropertyID)
}

func TestClassifyNamedTargetBeatsReference(t *testing.T) {
	stub := &stubLLM{responses: []string{
		"{\"property_query\": true, \"target_property\": \"Pavilion Residences\", \"is_follow_up\": true}",
	}}
	c := New(stub, Config{}, zap.NewNop())

	intent, err := c.Classify(context.Background(), "how about Pavilion Residences?", Context{
		LastFocusID:     "prop-42",
		HasPriorHistory: true,
	})
	require.NoError(t, err)
	assert.Empty(t, intent.ReferencePropertyID)
	assert.Equal(t, "Pavilion Residences", intent.TargetPropertyName)
}

func TestMergeIntentsIdempotent(t *testing.T) {
	prior := &models.QueryIntent{
		PropertyQuery: true,
		PropertyType:  "condo",
		Location:      "KLCC",
		PriceMin:      500000,
		PriceMax:      900000,
		Amenities:     []string{"pool"},
	}
	fresh := models.QueryIntent{PropertyQuery: true, Bedrooms: 3}

	once := MergeIntents(fresh, prior)
	twice := MergeIntents(once, prior)
	assert.Equal(t, once, twice)
}

func TestMergeIntentsChitchatDoesNotInherit(t *testing.T) {
	prior := &models.QueryIntent{PropertyQuery: true, Location: "KLCC"}
	fresh := models.QueryIntent{PropertyQuery: false, RawText: "thanks!"}

	out := MergeIntents(fresh, prior)
	assert.Empty(t, out.Location)
}

func TestMergeNormalizesInvertedPriceBand(t *testing.T) {
	out := MergeIntents(models.QueryIntent{PropertyQuery: true, PriceMin: 900000, PriceMax: 500000}, nil)
	assert.Equal(t, 500000.0, out.PriceMin)
	assert.Equal(t, 900000.0, out.PriceMax)
}

func TestComputeConfidenceReferenceBonus(t *testing.T) {
	bare := ComputeConfidence(models.QueryIntent{PropertyQuery: true})
	pinned := ComputeConfidence(models.QueryIntent{PropertyQuery: true, ReferencePropertyID: "prop-1"})
	assert.Greater(t, pinned, bare)
	assert.LessOrEqual(t, pinned, 1.0)
}

func TestDetectOutOfSchema(t *testing.T) {
	fields := DetectOutOfSchema("Who is the developer, and is the area safe at night?")
	assert.Equal(t, []string{"developer", "neighborhood_safety"}, fields)

	assert.Empty(t, DetectOutOfSchema("3 bedroom condos in Bangsar under 1M"))
}

func TestIsReferenceQuery(t *testing.T) {
	assert.True(t, IsReferenceQuery("what about its amenities?"))
	assert.True(t, IsReferenceQuery("is that one freehold?"))
	assert.False(t, IsReferenceQuery("condos in Mont Kiara"))
	// long self-contained queries never count as references
	assert.False(t, IsReferenceQuery("I am looking for a property and it should have three bedrooms two bathrooms a pool a gym and covered parking near the city"))
}
