package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/dmarin/newswatch/internal/logging"
)

const (
	maxInputChars = 6000 // articles beyond this are truncated, not rejected
	minInputChars = 80
	maxTokens     = 500
	temperature   = 0.1
)

// ErrTextTooShort means the scraped text is below the minimum worth
// analyzing. The article is persisted unenriched.
var ErrTextTooShort = errors.New("article text too short for analysis")

const systemPrompt = `You are a financial news analyst covering the Romanian market.
Analyze the article and respond with a single JSON object containing exactly these fields:
"summary": two or three sentences covering the market-relevant content,
"impact_score": integer 0-10 rating expected market impact (10 = market-moving),
"sentiment": one of "positive", "negative", "neutral",
"instruments": array of ticker symbols the article affects (may be empty),
"recommendation": one of "buy", "sell", "hold",
"confidence": number 0.0-1.0 rating your confidence.
Respond with the JSON object only, no other text.`

const strictSystemPrompt = systemPrompt + `
Your previous response could not be parsed. Output ONLY a valid JSON object with the exact fields listed above. No markdown fences, no commentary, no trailing text.`

// Analyzer turns article text into a validated Result using the first
// available provider, falling back through the manager's preference order on
// transport failures.
type Analyzer struct {
	manager     *Manager
	strictScore bool // reject out-of-range impact scores instead of clamping
}

func NewAnalyzer(manager *Manager, strictScore bool) *Analyzer {
	return &Analyzer{manager: manager, strictScore: strictScore}
}

// Analyze enriches one article. Failures come back as *AnalysisError
// (malformed or unavailable) or ErrTextTooShort; in all three cases the
// caller persists a degraded record rather than dropping the article.
func (a *Analyzer) Analyze(ctx context.Context, title, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if len(text) < minInputChars {
		return Result{}, ErrTextTooShort
	}
	if len(text) > maxInputChars {
		// Back up to a rune boundary so the cut never splits a multi-byte
		// character (Romanian diacritics).
		cut := maxInputChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	providers := a.manager.Ordered()
	if len(providers) == 0 {
		return Result{}, &AnalysisError{Kind: KindUnavailable, Err: errors.New("no model endpoint available")}
	}

	var lastErr error
	for _, p := range providers {
		result, err := a.analyzeWith(ctx, p, title, text)
		if err == nil {
			return result, nil
		}

		var ae *AnalysisError
		if errors.As(err, &ae) && ae.Kind == KindMalformed {
			// The model answered but kept producing garbage; a different
			// endpoint won't fix the article.
			return Result{}, err
		}

		logging.Warn("Model endpoint failed, trying next", "provider", p.Name(), "error", err)
		lastErr = err
	}

	return Result{}, &AnalysisError{Kind: KindUnavailable, Err: lastErr}
}

// analyzeWith runs one provider: generate, parse, and on malformed output a
// single retry with the stricter prompt.
func (a *Analyzer) analyzeWith(ctx context.Context, p Provider, title, text string) (Result, error) {
	userPrompt := buildUserPrompt(title, text)

	resp, err := p.Generate(ctx, Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    maxTokens,
		Temperature:  temperature,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", p.Name(), err)
	}

	result, parseErr := a.parse(resp.Content)
	if parseErr == nil {
		result.Provider = p.Name()
		return result, nil
	}

	logging.Debug("Model output malformed, retrying with strict prompt", "provider", p.Name(), "error", parseErr)

	resp, err = p.Generate(ctx, Request{
		SystemPrompt: strictSystemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    maxTokens,
		Temperature:  temperature,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", p.Name(), err)
	}

	result, parseErr = a.parse(resp.Content)
	if parseErr != nil {
		return Result{}, &AnalysisError{Kind: KindMalformed, Err: parseErr}
	}
	result.Provider = p.Name()
	return result, nil
}

func buildUserPrompt(title, text string) string {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "Title: %s\n\n", title)
	}
	if detected := DetectInstruments(text); len(detected) > 0 {
		fmt.Fprintf(&b, "Tickers mentioned in the text: %s\n\n", strings.Join(detected, ", "))
	}
	b.WriteString("Article:\n")
	b.WriteString(text)
	return b.String()
}

// modelOutput is the raw JSON shape the model is asked to produce.
type modelOutput struct {
	Summary        string      `json:"summary"`
	ImpactScore    json.Number `json:"impact_score"`
	Sentiment      string      `json:"sentiment"`
	Instruments    []string    `json:"instruments"`
	Recommendation string      `json:"recommendation"`
	Confidence     float64     `json:"confidence"`
}

// parse extracts and validates the enrichment JSON from raw model output.
// Tolerates prose around the object by slicing from the first '{' to the
// last '}'.
func (a *Analyzer) parse(content string) (Result, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Result{}, fmt.Errorf("no JSON object in model output")
	}

	var out modelOutput
	if err := json.Unmarshal([]byte(content[start:end+1]), &out); err != nil {
		return Result{}, fmt.Errorf("unmarshal model output: %w", err)
	}

	return a.validate(out)
}

func (a *Analyzer) validate(out modelOutput) (Result, error) {
	summary := strings.TrimSpace(out.Summary)
	if summary == "" {
		return Result{}, fmt.Errorf("empty summary")
	}

	scoreF, err := out.ImpactScore.Float64()
	if err != nil {
		return Result{}, fmt.Errorf("non-numeric impact_score %q", out.ImpactScore)
	}
	score := int(math.Round(scoreF))
	if score < 0 || score > 10 {
		if a.strictScore {
			return Result{}, fmt.Errorf("impact_score %d out of range", score)
		}
		logging.Warn("Clamping out-of-range impact score", "score", score)
		score = min(max(score, 0), 10)
	}

	sentiment := Sentiment(strings.ToLower(strings.TrimSpace(out.Sentiment)))
	switch sentiment {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
	default:
		return Result{}, fmt.Errorf("invalid sentiment %q", out.Sentiment)
	}

	recommendation := Recommendation(strings.ToLower(strings.TrimSpace(out.Recommendation)))
	switch recommendation {
	case RecommendationBuy, RecommendationSell, RecommendationHold:
	default:
		return Result{}, fmt.Errorf("invalid recommendation %q", out.Recommendation)
	}

	confidence := out.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Result{
		Summary:        summary,
		ImpactScore:    score,
		Sentiment:      sentiment,
		Instruments:    NormalizeInstruments(out.Instruments),
		Recommendation: recommendation,
		Confidence:     confidence,
	}, nil
}
