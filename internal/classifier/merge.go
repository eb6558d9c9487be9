package classifier

import (
	"strings"

	"github.com/kediaman/orchestrator/internal/models"
)

// Confidence weights: a query pinning type, location, and a price band scores
// 0.90. Missing both location and price band lands well below 0.5.
const (
	confidenceBase     = 0.25
	confidenceLocation = 0.25
	confidencePrice    = 0.25
	confidenceType     = 0.15
	confidenceBedrooms = 0.10
)

// outOfSchemaVocabulary maps query keywords to the corpus fields they miss.
// Matching any of these forces web-research escalation.
var outOfSchemaVocabulary = map[string]string{
	"developer":     "developer",
	"year built":    "year_built",
	"completion":    "year_built",
	"architect":     "architect",
	"safe":          "neighborhood_safety",
	"safety":        "neighborhood_safety",
	"crime":         "neighborhood_safety",
	"school":        "nearby_schools",
	"transit":       "transit_access",
	"lrt":           "transit_access",
	"mrt":           "transit_access",
	"launched":      "recent_launches",
	"latest price":  "recent_pricing",
	"price changes": "recent_pricing",
}

// MergeIntents fills slots the fresh intent leaves unset from the prior
// turn's intent, resolving elliptical follow-ups ("what about 2 bedrooms
// instead?"). The merge is stable: merging an already-merged intent with the
// same prior is a no-op. Only property-query turns inherit; chitchat does not
// drag property slots along.
func MergeIntents(fresh models.QueryIntent, prior *models.QueryIntent) models.QueryIntent {
	out := fresh
	if prior == nil || !fresh.PropertyQuery {
		normalizePrices(&out)
		return out
	}

	if out.PropertyType == "" {
		out.PropertyType = prior.PropertyType
	}
	if out.Location == "" {
		out.Location = prior.Location
	}
	if out.PriceMin == 0 && out.PriceMax == 0 {
		out.PriceMin = prior.PriceMin
		out.PriceMax = prior.PriceMax
	}
	if out.Bedrooms == 0 {
		out.Bedrooms = prior.Bedrooms
	}
	if out.Bathrooms == 0 {
		out.Bathrooms = prior.Bathrooms
	}
	if out.SizeMin == 0 && out.SizeMax == 0 {
		out.SizeMin = prior.SizeMin
		out.SizeMax = prior.SizeMax
	}
	if out.PSFMin == 0 && out.PSFMax == 0 {
		out.PSFMin = prior.PSFMin
		out.PSFMax = prior.PSFMax
	}
	if len(out.Amenities) == 0 {
		out.Amenities = prior.Amenities
	}
	if out.TargetPropertyName == "" {
		out.TargetPropertyName = prior.TargetPropertyName
	}
	normalizePrices(&out)
	return out
}

// normalizePrices swaps an inverted price band so PriceMin <= PriceMax
// always holds on a merged intent.
func normalizePrices(qi *models.QueryIntent) {
	if qi.PriceMin > 0 && qi.PriceMax > 0 && qi.PriceMin > qi.PriceMax {
		qi.PriceMin, qi.PriceMax = qi.PriceMax, qi.PriceMin
	}
}

// ComputeConfidence scores slot completeness. It says nothing about factual
// correctness, and low confidence never blocks the pipeline.
func ComputeConfidence(intent models.QueryIntent) float64 {
	score := confidenceBase
	if intent.Location != "" {
		score += confidenceLocation
	}
	if intent.HasPriceBand() {
		score += confidencePrice
	}
	if intent.PropertyType != "" {
		score += confidenceType
	}
	if intent.Bedrooms > 0 {
		score += confidenceBedrooms
	}
	// A resolved reference pins the turn to one known record; slots are moot.
	if intent.ReferencePropertyID != "" || intent.TargetPropertyName != "" {
		score += confidenceLocation
	}
	if score > 1 {
		score = 1
	}
	return score
}

// DetectOutOfSchema scans the query for details the corpus cannot answer.
func DetectOutOfSchema(rawText string) []string {
	lower := strings.ToLower(rawText)
	seen := map[string]bool{}
	var fields []string
	for keyword, field := range outOfSchemaVocabulary {
		if strings.Contains(lower, keyword) && !seen[field] {
			seen[field] = true
			fields = append(fields, field)
		}
	}
	if len(fields) > 1 {
		sortStrings(fields)
	}
	return fields
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
