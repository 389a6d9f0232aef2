package embedders

import (
	"context"
	"fmt"

	"github.com/kadirpekel/agenthub/pkg/config"
	"github.com/kadirpekel/agenthub/pkg/registry"
)

// Provider turns text into vectors for retrieval.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	GetDimension() int

	GetModelName() string

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

func (r *Registry) RegisterEmbedder(name string, provider Provider) error {
	if name == "" {
		return fmt.Errorf("embedder name cannot be empty")
	}
	if provider == nil {
		return fmt.Errorf("embedder provider cannot be nil")
	}
	return r.Register(name, provider)
}

func (r *Registry) CreateFromConfig(name string, cfg *config.EmbedderProviderConfig) (Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("embedder name cannot be empty")
	}
	if cfg == nil {
		return nil, fmt.Errorf("embedder config cannot be nil")
	}

	var provider Provider
	var err error

	switch cfg.Type {
	case "openai":
		provider, err = NewOpenAIEmbedderFromConfig(cfg)
	case "ollama":
		provider, err = NewOllamaEmbedderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder type: %s", cfg.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create embedder provider: %w", err)
	}

	if err := r.RegisterEmbedder(name, provider); err != nil {
		return nil, fmt.Errorf("failed to register embedder: %w", err)
	}

	return provider, nil
}

func (r *Registry) GetEmbedder(name string) (Provider, error) {
	provider, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("embedder provider '%s' not found", name)
	}
	return provider, nil
}
