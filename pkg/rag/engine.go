// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rag implements the retrieval engine: tenant-scoped similarity
// search over shared knowledge chunk storage, with post-query isolation
// validation and source-attributed context formatting.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/agenthub/pkg/embedders"
	"github.com/kadirpekel/agenthub/pkg/observability"
	"github.com/kadirpekel/agenthub/pkg/vector"
)

const (
	// DefaultTopK is used when the caller passes a non-positive top-k.
	DefaultTopK = 5

	// MaxTopK caps result counts regardless of caller input.
	MaxTopK = 50

	// MaxQueryLength bounds accepted query sizes.
	MaxQueryLength = 10000

	// DefaultSearchTimeout bounds one embed+search round trip.
	DefaultSearchTimeout = 30 * time.Second

	// EmptyContextMarker is the context block used when no chunk survives
	// the similarity threshold. Generation still runs with this marker so
	// the model knows retrieval happened and found nothing.
	EmptyContextMarker = "No supporting context was found for this query."
)

// Metadata keys stored alongside each chunk vector.
const (
	metaContent      = "content"
	metaTenantID     = "tenant_id"
	metaSource       = "source"
	metaFileType     = "file_type"
	metaSectionIndex = "section_index"
	metaSectionTitle = "section_title"
	metaIngestedAt   = "ingested_at"
)

// Chunk is one unit of indexed knowledge content. Produced by an
// external ingestion collaborator; this engine only stores and queries.
type Chunk struct {
	ID           string
	Content      string
	Embedding    []float32
	TenantID     string
	Source       string
	FileType     string
	SectionIndex int
	SectionTitle string
}

// RetrievedChunk is a chunk returned by Search with its similarity.
type RetrievedChunk struct {
	ID            string
	Content       string
	TenantID      string
	Source        string
	SourceDisplay string
	SectionIndex  int
	SectionTitle  string
	Similarity    float32
}

// Citation attributes one retrieved chunk for the chat response.
type Citation struct {
	Source     string  `json:"source"`
	Display    string  `json:"display"`
	Similarity float32 `json:"similarity"`
}

// Result is the outcome of one Search call. Empty is true when no chunk
// survived the threshold; Context then holds the empty-context marker.
type Result struct {
	Chunks    []RetrievedChunk
	Context   string
	Citations []Citation
	Empty     bool
}

// Engine embeds queries and ranks tenant-scoped chunks by cosine
// similarity. Isolation is enforced twice: by query scoping on
// tenant_id and by post-query validation of every returned chunk.
type Engine struct {
	db         vector.Provider
	embedder   embedders.Provider
	collection string
	logger     *slog.Logger
}

// NewEngine creates a retrieval engine over the given store and embedder.
func NewEngine(db vector.Provider, embedder embedders.Provider, collection string) (*Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("vector provider is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder provider is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	return &Engine{
		db:         db,
		embedder:   embedder,
		collection: collection,
		logger:     slog.Default().With("component", "rag"),
	}, nil
}

// Search embeds the query and returns the tenant's chunks ranked by
// similarity, descending, thresholded at minSimilarity and truncated to
// topK. An empty result is success, not an error. A cross-tenant chunk
// in the raw result set is fatal: no data is returned and the leak
// counter is incremented.
func (e *Engine) Search(ctx context.Context, query, tenantID string, topK int, minSimilarity float32) (Result, error) {
	if strings.TrimSpace(query) == "" {
		return Result{}, newSearchError("Search", query, fmt.Errorf("query cannot be empty"))
	}
	if len(query) > MaxQueryLength {
		return Result{}, newSearchError("Search", query[:64], fmt.Errorf("query too long (%d > %d)", len(query), MaxQueryLength))
	}
	if tenantID == "" {
		return Result{}, newSearchError("Search", query, fmt.Errorf("tenant id is required"))
	}

	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	tracer := observability.GetTracer("agenthub.rag")
	ctx, span := tracer.Start(ctx, observability.SpanRetrieval,
		trace.WithAttributes(
			attribute.String(observability.AttrTenantID, tenantID),
			attribute.Int("rag.top_k", topK),
		))
	defer span.End()

	observability.GetGlobalMetrics().RecordRAGSearch(ctx, tenantID)

	searchCtx, cancel := context.WithTimeout(ctx, DefaultSearchTimeout)
	defer cancel()

	queryVector, err := e.embedder.Embed(searchCtx, normalizeQuery(query))
	if err != nil {
		return Result{}, newSearchError("Embed", query, err)
	}
	if dim := e.embedder.GetDimension(); dim > 0 && len(queryVector) != dim {
		return Result{}, newSearchError("Embed", query,
			fmt.Errorf("embedding dimension mismatch: got %d, expected %d", len(queryVector), dim))
	}

	filter := map[string]any{metaTenantID: tenantID}
	raw, err := e.db.SearchWithFilter(searchCtx, e.collection, queryVector, topK, filter)
	if err != nil {
		return Result{}, newSearchError("Search", query, err)
	}

	if err := e.enforceIsolation(ctx, tenantID, raw); err != nil {
		return Result{}, err
	}

	chunks := convertResults(raw)

	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Similarity > chunks[j].Similarity
	})

	filtered := chunks[:0]
	for _, chunk := range chunks {
		if chunk.Similarity >= minSimilarity {
			filtered = append(filtered, chunk)
		}
	}
	chunks = filtered
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}

	if len(chunks) == 0 {
		return Result{Context: EmptyContextMarker, Empty: true}, nil
	}

	return Result{
		Chunks:    chunks,
		Context:   formatContext(chunks),
		Citations: buildCitations(chunks),
	}, nil
}

// enforceIsolation validates that every raw result belongs to the
// requesting tenant. Query scoping should make this impossible; this is
// the defense-in-depth check behind it.
func (e *Engine) enforceIsolation(ctx context.Context, tenantID string, raw []vector.Result) error {
	var leaked []string
	for _, result := range raw {
		chunkTenant, _ := result.Metadata[metaTenantID].(string)
		if chunkTenant != tenantID {
			leaked = append(leaked, chunkTenant)
		}
	}
	if len(leaked) == 0 {
		return nil
	}

	observability.GetGlobalMetrics().RecordCrossTenantLeak(ctx, tenantID, len(leaked))
	e.logger.Error("cross-tenant chunks in scoped query result",
		"tenant_id", tenantID,
		"leaked_tenants", leaked,
		"count", len(leaked))

	return &IsolationError{
		TenantID:      tenantID,
		LeakedTenants: leaked,
		Count:         len(leaked),
	}
}

// Ingest stores chunks with their embeddings. Chunks without an
// embedding are embedded here. This is the support surface for the
// external ingestion collaborator and for tests.
func (e *Engine) Ingest(ctx context.Context, chunks []Chunk) error {
	for i, chunk := range chunks {
		if chunk.TenantID == "" {
			return fmt.Errorf("chunk %d: tenant id is required", i)
		}
		if chunk.Content == "" {
			return fmt.Errorf("chunk %d: content is required", i)
		}

		embedding := chunk.Embedding
		if len(embedding) == 0 {
			var err error
			embedding, err = e.embedder.Embed(ctx, chunk.Content)
			if err != nil {
				return fmt.Errorf("chunk %d: failed to embed: %w", i, err)
			}
		}

		id := chunk.ID
		if id == "" {
			id = uuid.NewString()
		}

		metadata := map[string]any{
			metaContent:    chunk.Content,
			metaTenantID:   chunk.TenantID,
			metaSource:     chunk.Source,
			metaFileType:   chunk.FileType,
			metaIngestedAt: time.Now().Unix(),
		}
		if chunk.SectionTitle != "" {
			metadata[metaSectionIndex] = chunk.SectionIndex
			metadata[metaSectionTitle] = chunk.SectionTitle
		}

		if err := e.db.Upsert(ctx, e.collection, id, embedding, metadata); err != nil {
			return fmt.Errorf("chunk %d: failed to upsert: %w", i, err)
		}
	}
	return nil
}

// DeleteTenant removes all of one tenant's chunks.
func (e *Engine) DeleteTenant(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	return e.db.DeleteByFilter(ctx, e.collection, map[string]any{metaTenantID: tenantID})
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

func convertResults(raw []vector.Result) []RetrievedChunk {
	chunks := make([]RetrievedChunk, 0, len(raw))
	for _, result := range raw {
		chunk := RetrievedChunk{
			ID:         result.ID,
			Content:    result.Content,
			Similarity: result.Score,
		}
		chunk.TenantID, _ = result.Metadata[metaTenantID].(string)
		chunk.Source, _ = result.Metadata[metaSource].(string)
		fileType, _ := result.Metadata[metaFileType].(string)
		chunk.SourceDisplay = sourceDisplay(chunk.Source, fileType)
		chunk.SectionTitle, _ = result.Metadata[metaSectionTitle].(string)
		chunk.SectionIndex = intFromMetadata(result.Metadata[metaSectionIndex])
		chunks = append(chunks, chunk)
	}
	return chunks
}

// sourceDisplay renders "filename (file_type)", degrading to whichever
// part is present.
func sourceDisplay(source, fileType string) string {
	switch {
	case source != "" && fileType != "":
		return fmt.Sprintf("%s (%s)", source, fileType)
	case source != "":
		return source
	default:
		return "unknown source"
	}
}

// formatContext renders one attributed block per chunk, suitable for
// direct inclusion in a generation prompt.
func formatContext(chunks []RetrievedChunk) string {
	var sb strings.Builder
	for i, chunk := range chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[Source: %s, similarity: %.2f]\n", chunk.SourceDisplay, chunk.Similarity)
		if chunk.SectionTitle != "" {
			fmt.Fprintf(&sb, "[Section %d: %s]\n", chunk.SectionIndex, chunk.SectionTitle)
		}
		sb.WriteString(chunk.Content)
	}
	return sb.String()
}

func buildCitations(chunks []RetrievedChunk) []Citation {
	citations := make([]Citation, 0, len(chunks))
	for _, chunk := range chunks {
		citations = append(citations, Citation{
			Source:     chunk.Source,
			Display:    chunk.SourceDisplay,
			Similarity: chunk.Similarity,
		})
	}
	return citations
}

func intFromMetadata(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	default:
		return 0
	}
}
