// Copyright 2025 Kadir Pekel
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// PineconeConfig configures the Pinecone vector provider.
type PineconeConfig struct {
	// APIKey is the Pinecone API key.
	APIKey string `yaml:"api_key"`

	// IndexHost is the host URL of the target index.
	IndexHost string `yaml:"index_host"`

	// Namespace scopes all operations within the index (optional).
	Namespace string `yaml:"namespace,omitempty"`
}

// PineconeProvider implements Provider using the Pinecone managed
// vector database. Pinecone namespaces map to collections loosely: the
// provider operates against a single index and uses the configured
// namespace, so collection names are informational only.
type PineconeProvider struct {
	client *pinecone.Client
	config PineconeConfig

	mu  sync.Mutex
	idx *pinecone.IndexConnection
}

// NewPineconeProvider creates a new Pinecone provider.
func NewPineconeProvider(cfg PineconeConfig) (*PineconeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pinecone api_key is required")
	}
	if cfg.IndexHost == "" {
		return nil, fmt.Errorf("pinecone index_host is required")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	return &PineconeProvider{
		client: client,
		config: cfg,
	}, nil
}

// Name returns the provider name.
func (p *PineconeProvider) Name() string {
	return "pinecone"
}

func (p *PineconeProvider) connection() (*pinecone.IndexConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.idx != nil {
		return p.idx, nil
	}

	idx, err := p.client.Index(pinecone.NewIndexConnParams{
		Host:      p.config.IndexHost,
		Namespace: p.config.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Pinecone index: %w", err)
	}
	p.idx = idx
	return idx, nil
}

// Upsert adds or updates a document with its vector.
func (p *PineconeProvider) Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error {
	idx, err := p.connection()
	if err != nil {
		return err
	}

	meta, err := structpb.NewStruct(metadata)
	if err != nil {
		return fmt.Errorf("failed to convert metadata: %w", err)
	}

	_, err = idx.UpsertVectors(ctx, []*pinecone.Vector{
		{
			Id:       id,
			Values:   vector,
			Metadata: meta,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert vector %s: %w", id, err)
	}
	return nil
}

// Search finds the most similar vectors.
func (p *PineconeProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	return p.SearchWithFilter(ctx, collection, vector, topK, nil)
}

// SearchWithFilter combines vector similarity with metadata filtering.
func (p *PineconeProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	idx, err := p.connection()
	if err != nil {
		return nil, err
	}

	req := &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		IncludeMetadata: true,
	}

	if len(filter) > 0 {
		metaFilter, err := structpb.NewStruct(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to convert filter: %w", err)
		}
		req.MetadataFilter = metaFilter
	}

	resp, err := idx.QueryByVectorValues(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to query Pinecone: %w", err)
	}

	results := make([]Result, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		if match.Vector == nil {
			continue
		}

		metadata := make(map[string]any)
		if match.Vector.Metadata != nil {
			metadata = match.Vector.Metadata.AsMap()
		}

		content := ""
		if contentValue, exists := metadata["content"]; exists {
			if contentStr, ok := contentValue.(string); ok {
				content = contentStr
			}
		}

		results = append(results, Result{
			ID:       match.Vector.Id,
			Content:  content,
			Metadata: metadata,
			Score:    match.Score,
		})
	}

	return results, nil
}

// Delete removes a document by ID.
func (p *PineconeProvider) Delete(ctx context.Context, collection string, id string) error {
	idx, err := p.connection()
	if err != nil {
		return err
	}
	if err := idx.DeleteVectorsById(ctx, []string{id}); err != nil {
		return fmt.Errorf("failed to delete vector %s: %w", id, err)
	}
	return nil
}

// DeleteByFilter removes all documents matching the filter.
func (p *PineconeProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	idx, err := p.connection()
	if err != nil {
		return err
	}

	metaFilter, err := structpb.NewStruct(filter)
	if err != nil {
		return fmt.Errorf("failed to convert filter: %w", err)
	}

	if err := idx.DeleteVectorsByFilter(ctx, metaFilter); err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}
	return nil
}

// CreateCollection is a no-op for Pinecone. Indexes are provisioned
// out of band and addressed via index_host.
func (p *PineconeProvider) CreateCollection(ctx context.Context, collection string, vectorDimension int) error {
	return nil
}

// DeleteCollection removes all vectors in the configured namespace.
func (p *PineconeProvider) DeleteCollection(ctx context.Context, collection string) error {
	idx, err := p.connection()
	if err != nil {
		return err
	}
	if err := idx.DeleteAllVectorsInNamespace(ctx); err != nil {
		return fmt.Errorf("failed to clear namespace: %w", err)
	}
	return nil
}

// Close releases the index connection.
func (p *PineconeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idx != nil {
		err := p.idx.Close()
		p.idx = nil
		return err
	}
	return nil
}

var _ Provider = (*PineconeProvider)(nil)
