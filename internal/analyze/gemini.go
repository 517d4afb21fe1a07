package analyze

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/dmarin/newswatch/internal/config"
	"github.com/dmarin/newswatch/internal/logging"
)

// GeminiProvider is the cloud model endpoint. The response schema constrains
// output to the enrichment JSON shape so parsing rarely needs the stricter
// retry.
type GeminiProvider struct {
	apiKey string
	model  string

	once    sync.Once
	client  *genai.Client
	initErr error
}

func NewGeminiProvider(settings config.ModelSettings) *GeminiProvider {
	model := settings.Model
	if model == "" {
		model = "gemini-3-flash-preview"
	}
	return &GeminiProvider{apiKey: settings.APIKey, model: model}
}

func (g *GeminiProvider) Name() string { return "gemini" }

func (g *GeminiProvider) Available() bool { return g.apiKey != "" }

// init creates the API client on first use. The client is safe for
// concurrent use and reused across calls.
func (g *GeminiProvider) init(ctx context.Context) error {
	g.once.Do(func() {
		g.client, g.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return g.initErr
}

func (g *GeminiProvider) Generate(ctx context.Context, req Request) (Response, error) {
	if err := g.init(ctx); err != nil {
		return Response{}, fmt.Errorf("create gemini client: %w", err)
	}

	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: req.UserPrompt}}},
	}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	temp := float32(req.Temperature)
	cfg.Temperature = &temp

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return Response{}, fmt.Errorf("gemini API call failed: %w", err)
	}

	text := resp.Text()
	logging.Debug("Gemini response", "model", g.model, "content_length", len(text))

	return Response{Content: text, Model: g.model}, nil
}

func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary": {
				Type:        genai.TypeString,
				Description: "Two or three sentence summary of the article's market-relevant content.",
			},
			"impact_score": {
				Type:        genai.TypeInteger,
				Description: "Expected market impact from 0 (none) to 10 (market-moving).",
			},
			"sentiment": {
				Type: genai.TypeString,
				Enum: []string{"positive", "negative", "neutral"},
			},
			"instruments": {
				Type:        genai.TypeArray,
				Items:       &genai.Schema{Type: genai.TypeString},
				Description: "Ticker symbols of instruments the article affects.",
			},
			"recommendation": {
				Type: genai.TypeString,
				Enum: []string{"buy", "sell", "hold"},
			},
			"confidence": {
				Type:        genai.TypeNumber,
				Description: "Confidence in this assessment from 0.0 to 1.0.",
			},
		},
		Required: []string{"summary", "impact_score", "sentiment", "instruments", "recommendation", "confidence"},
	}
}
