package analyze

import "context"

// Provider is one model endpoint.
type Provider interface {
	// Name returns the provider name (e.g. "ollama", "gemini").
	Name() string

	// Available returns true if the provider is configured and reachable.
	Available() bool

	// Generate sends a prompt and returns the raw model response.
	Generate(ctx context.Context, req Request) (Response, error)
}

// Request is a prompt request to a provider.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

// Response is a provider's raw response.
type Response struct {
	Content string
	Model   string
}

// Manager holds the configured providers in preference order and hands out
// the first available one, with the rest as fallbacks.
type Manager struct {
	providers []Provider
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// Add appends a provider. Order of addition is preference order.
func (m *Manager) Add(p Provider) {
	if p != nil {
		m.providers = append(m.providers, p)
	}
}

// Ordered returns available providers in preference order.
func (m *Manager) Ordered() []Provider {
	var out []Provider
	for _, p := range m.providers {
		if p.Available() {
			out = append(out, p)
		}
	}
	return out
}

// ListAvailable returns names of all available providers.
func (m *Manager) ListAvailable() []string {
	var names []string
	for _, p := range m.providers {
		if p.Available() {
			names = append(names, p.Name())
		}
	}
	return names
}
