package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmarin/newswatch/internal/config"
	"github.com/dmarin/newswatch/internal/logging"
)

// OllamaProvider is the local model endpoint, talking to Ollama's chat API.
type OllamaProvider struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
}

// NewOllamaProvider creates the provider. If settings.Model is empty the
// first model Ollama reports is used.
func NewOllamaProvider(settings config.ModelSettings) *OllamaProvider {
	endpoint := settings.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	return &OllamaProvider{
		endpoint: endpoint,
		model:    settings.Model,
		apiKey:   settings.APIKey,
		client: &http.Client{
			Timeout: 120 * time.Second, // local inference is slow
		},
	}
}

func (o *OllamaProvider) Name() string { return "ollama" }

// Available checks that Ollama is running and has at least one model.
func (o *OllamaProvider) Available() bool {
	if o.getModel() == "" {
		logging.Debug("Ollama not available", "endpoint", o.endpoint)
		return false
	}
	return true
}

// getModel returns the configured model or auto-detects one via /api/tags.
func (o *OllamaProvider) getModel() string {
	if o.model != "" {
		return o.model
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+"/api/tags", nil)
	if err != nil {
		return ""
	}
	o.auth(req)

	resp, err := o.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ""
	}

	if len(result.Models) > 0 {
		o.model = result.Models[0].Name
		logging.Info("Ollama auto-detected model", "model", o.model)
		return o.model
	}
	return ""
}

func (o *OllamaProvider) auth(req *http.Request) {
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
}

func (o *OllamaProvider) Generate(ctx context.Context, req Request) (Response, error) {
	model := o.getModel()
	if model == "" {
		return Response{}, fmt.Errorf("ollama not available at %s (no models)", o.endpoint)
	}

	// The chat API takes the system prompt as a leading message, not a
	// top-level field.
	messages := make([]map[string]string, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.UserPrompt})

	body := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   false,
		"format":   "json",
	}

	options := map[string]any{
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	body["options"] = options

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	o.auth(httpReq)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logging.Error("Ollama API error", "status", resp.StatusCode, "body", string(respBody))
		return Response{}, fmt.Errorf("API error (status %d)", resp.StatusCode)
	}

	var result struct {
		Model   string `json:"model"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Response{}, fmt.Errorf("parse response: %w", err)
	}

	logging.Debug("Ollama response", "model", result.Model, "content_length", len(result.Message.Content))

	return Response{Content: result.Message.Content, Model: result.Model}, nil
}
