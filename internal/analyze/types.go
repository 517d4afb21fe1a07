// Package analyze enriches scraped articles with AI-derived trading signals.
// A local model endpoint is preferred; the cloud endpoint is the transparent
// fallback. Malformed model output gets one stricter retry before the
// article degrades to an unenriched record.
package analyze

import "fmt"

// Sentiment is the closed sentiment enumeration.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Recommendation is the closed trading-action enumeration.
type Recommendation string

const (
	RecommendationBuy  Recommendation = "buy"
	RecommendationSell Recommendation = "sell"
	RecommendationHold Recommendation = "hold"
)

// Result is the enrichment produced for one unique content fingerprint.
// Never mutated after creation; cache entries are replaced, not patched.
type Result struct {
	Summary        string         `json:"summary"`
	ImpactScore    int            `json:"impact_score"`
	Sentiment      Sentiment      `json:"sentiment"`
	Instruments    []string       `json:"instruments"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"`
	Provider       string         `json:"-"` // which endpoint produced it, internal only
}

// Kind classifies an analysis failure.
type Kind string

const (
	// KindMalformed: the model responded but its output could not be
	// parsed or validated, even after the stricter retry.
	KindMalformed Kind = "malformed"

	// KindUnavailable: no endpoint could be reached, local and cloud both.
	KindUnavailable Kind = "unavailable"
)

// AnalysisError is the typed failure returned by the analyzer. Callers
// persist the article without enrichment rather than dropping it.
type AnalysisError struct {
	Kind Kind
	Err  error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis %s: %v", e.Kind, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }
