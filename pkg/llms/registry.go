package llms

import (
	"context"
	"fmt"

	"github.com/kadirpekel/agenthub/pkg/config"
	"github.com/kadirpekel/agenthub/pkg/registry"
)

// Provider is a chat completion backend.
type Provider interface {
	// Generate performs a non-streaming completion over the transcript.
	Generate(ctx context.Context, messages []Message) (*Result, error)

	// GenerateStructured constrains the completion to the given shape.
	GenerateStructured(ctx context.Context, messages []Message, config *StructuredOutputConfig) (*Result, error)

	GetModelName() string

	GetMaxTokens() int

	GetTemperature() float64

	Close() error
}

type Registry struct {
	*registry.BaseRegistry[Provider]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

func (r *Registry) RegisterProvider(name string, provider Provider) error {
	if name == "" {
		return fmt.Errorf("LLM name cannot be empty")
	}
	if provider == nil {
		return fmt.Errorf("LLM provider cannot be nil")
	}
	return r.Register(name, provider)
}

// CreateFromConfig builds a provider from its config and registers it
// under the given name.
func (r *Registry) CreateFromConfig(name string, cfg *config.LLMProviderConfig) (Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("LLM name cannot be empty")
	}
	if cfg == nil {
		return nil, fmt.Errorf("LLM config cannot be nil")
	}

	var provider Provider
	var err error

	switch cfg.Type {
	case "openai":
		provider, err = NewOpenAIProviderFromConfig(cfg)
	case "anthropic":
		provider, err = NewAnthropicProviderFromConfig(cfg)
	case "gemini":
		provider, err = NewGeminiProviderFromConfig(cfg)
	case "ollama":
		provider, err = NewOllamaProviderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM type: %s (supported: openai, anthropic, gemini, ollama)", cfg.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}

	if err := r.RegisterProvider(name, provider); err != nil {
		return nil, fmt.Errorf("failed to register LLM: %w", err)
	}

	return provider, nil
}

func (r *Registry) GetProvider(name string) (Provider, error) {
	provider, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("LLM provider '%s' not found", name)
	}
	return provider, nil
}

// Close closes all registered providers; the first error wins.
func (r *Registry) Close() error {
	var firstErr error
	for _, provider := range r.List() {
		if err := provider.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
