// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vector abstracts similarity search over knowledge chunk
// embeddings. All implementations support metadata filtering, which the
// retrieval layer relies on for tenant scoping.
package vector

import (
	"context"
	"fmt"
)

// Provider is a vector store backend.
type Provider interface {
	// Upsert adds or updates a document with its vector embedding.
	Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error

	// Search finds the topK most similar vectors.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	// SearchWithFilter combines vector similarity with metadata
	// filtering. Every filter entry must match.
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)

	// Delete removes a document by ID.
	Delete(ctx context.Context, collection string, id string) error

	// DeleteByFilter removes all documents matching the filter.
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error

	// CreateCollection ensures a collection exists with the given dimension.
	CreateCollection(ctx context.Context, collection string, vectorDimension int) error

	// DeleteCollection removes a collection and all its documents.
	DeleteCollection(ctx context.Context, collection string) error

	Name() string

	Close() error
}

// Result is a single similarity search hit.
type Result struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Vector   []float32      `json:"vector,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float32        `json:"score"`
}

// NilProvider rejects all operations. Used when no vector store is
// configured so retrieval tools fail with a clear error instead of a
// nil dereference.
type NilProvider struct{}

// NewNilProvider returns a provider that rejects all operations.
func NewNilProvider() NilProvider { return NilProvider{} }

func (NilProvider) Upsert(context.Context, string, string, []float32, map[string]any) error {
	return fmt.Errorf("no vector store configured")
}

func (NilProvider) Search(context.Context, string, []float32, int) ([]Result, error) {
	return nil, fmt.Errorf("no vector store configured")
}

func (NilProvider) SearchWithFilter(context.Context, string, []float32, int, map[string]any) ([]Result, error) {
	return nil, fmt.Errorf("no vector store configured")
}

func (NilProvider) Delete(context.Context, string, string) error {
	return fmt.Errorf("no vector store configured")
}

func (NilProvider) DeleteByFilter(context.Context, string, map[string]any) error {
	return fmt.Errorf("no vector store configured")
}

func (NilProvider) CreateCollection(context.Context, string, int) error {
	return fmt.Errorf("no vector store configured")
}

func (NilProvider) DeleteCollection(context.Context, string) error {
	return fmt.Errorf("no vector store configured")
}

func (NilProvider) Name() string { return "nil" }

func (NilProvider) Close() error { return nil }

var _ Provider = NilProvider{}
