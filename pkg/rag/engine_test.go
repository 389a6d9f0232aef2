package rag

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agenthub/pkg/vector"
)

// fakeEmbedder returns a fixed vector regardless of input.
type fakeEmbedder struct {
	dimension int
	err       error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, f.dimension), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) GetDimension() int    { return f.dimension }
func (f *fakeEmbedder) GetModelName() string { return "fake" }
func (f *fakeEmbedder) Close() error         { return nil }

// fakeStore holds scored documents and applies metadata filters the way
// a real provider does: only matching documents are returned.
type fakeStore struct {
	vector.NilProvider

	docs         []vector.Result
	ignoreFilter bool
	upserted     []upsertCall
}

type upsertCall struct {
	collection string
	id         string
	metadata   map[string]any
}

func (f *fakeStore) Upsert(ctx context.Context, collection, id string, vec []float32, metadata map[string]any) error {
	f.upserted = append(f.upserted, upsertCall{collection: collection, id: id, metadata: metadata})
	return nil
}

func (f *fakeStore) SearchWithFilter(ctx context.Context, collection string, vec []float32, topK int, filter map[string]any) ([]vector.Result, error) {
	var out []vector.Result
	for _, doc := range f.docs {
		if !f.ignoreFilter && !matches(doc.Metadata, filter) {
			continue
		}
		out = append(out, doc)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func matches(metadata, filter map[string]any) bool {
	for key, want := range filter {
		if metadata[key] != want {
			return false
		}
	}
	return true
}

func doc(id, tenant, content, source string, score float32) vector.Result {
	return vector.Result{
		ID:      id,
		Content: content,
		Score:   score,
		Metadata: map[string]any{
			"content":   content,
			"tenant_id": tenant,
			"source":    source,
			"file_type": "pdf",
		},
	}
}

func newTestEngine(t *testing.T, store vector.Provider) *Engine {
	t.Helper()
	engine, err := NewEngine(store, &fakeEmbedder{dimension: 4}, "knowledge_chunks")
	require.NoError(t, err)
	return engine
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	_, err := NewEngine(nil, &fakeEmbedder{dimension: 4}, "c")
	assert.Error(t, err)

	_, err = NewEngine(&fakeStore{}, nil, "c")
	assert.Error(t, err)

	_, err = NewEngine(&fakeStore{}, &fakeEmbedder{dimension: 4}, "")
	assert.Error(t, err)
}

func TestSearchRejectsEmptyQueryAndTenant(t *testing.T) {
	engine := newTestEngine(t, &fakeStore{})

	_, err := engine.Search(context.Background(), "   ", "acme", 5, 0)
	assert.Error(t, err)

	_, err = engine.Search(context.Background(), "refund policy", "", 5, 0)
	assert.Error(t, err)
}

func TestSearchRanksAndThresholds(t *testing.T) {
	store := &fakeStore{docs: []vector.Result{
		doc("c1", "acme", "low relevance", "a.pdf", 0.42),
		doc("c2", "acme", "high relevance", "b.pdf", 0.91),
		doc("c3", "acme", "medium relevance", "c.pdf", 0.73),
	}}
	engine := newTestEngine(t, store)

	result, err := engine.Search(context.Background(), "refund policy", "acme", 5, 0.7)
	require.NoError(t, err)
	require.Len(t, result.Chunks, 2)

	assert.Equal(t, "c2", result.Chunks[0].ID)
	assert.Equal(t, "c3", result.Chunks[1].ID)
	for _, chunk := range result.Chunks {
		assert.GreaterOrEqual(t, chunk.Similarity, float32(0.7))
	}
	assert.False(t, result.Empty)
}

func TestSearchTruncatesToTopK(t *testing.T) {
	store := &fakeStore{}
	for i := 0; i < 10; i++ {
		store.docs = append(store.docs, doc(fmt.Sprintf("c%d", i), "acme", "content", "a.pdf", 0.9))
	}
	engine := newTestEngine(t, store)

	result, err := engine.Search(context.Background(), "query", "acme", 3, 0)
	require.NoError(t, err)
	assert.Len(t, result.Chunks, 3)
}

func TestSearchIsIdempotent(t *testing.T) {
	store := &fakeStore{docs: []vector.Result{
		doc("c1", "acme", "alpha", "a.pdf", 0.8),
		doc("c2", "acme", "beta", "b.pdf", 0.9),
	}}
	engine := newTestEngine(t, store)

	first, err := engine.Search(context.Background(), "query", "acme", 5, 0.5)
	require.NoError(t, err)
	second, err := engine.Search(context.Background(), "query", "acme", 5, 0.5)
	require.NoError(t, err)

	assert.Equal(t, first.Chunks, second.Chunks)
	assert.Equal(t, first.Context, second.Context)
}

func TestSearchNeverReturnsOtherTenantsChunks(t *testing.T) {
	// Tenant B's chunks outscore everything tenant A owns.
	store := &fakeStore{docs: []vector.Result{
		doc("b1", "globex", "globex secret", "g.pdf", 0.99),
		doc("b2", "globex", "globex secret 2", "g.pdf", 0.98),
		doc("a1", "acme", "acme content", "a.pdf", 0.75),
	}}
	engine := newTestEngine(t, store)

	result, err := engine.Search(context.Background(), "secret", "acme", 5, 0.5)
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "a1", result.Chunks[0].ID)
	for _, chunk := range result.Chunks {
		assert.Equal(t, "acme", chunk.TenantID)
	}
}

func TestSearchDetectsCrossTenantLeak(t *testing.T) {
	// A store that ignores the scoping filter simulates a broken or
	// misconfigured backend.
	store := &fakeStore{
		ignoreFilter: true,
		docs: []vector.Result{
			doc("a1", "acme", "acme content", "a.pdf", 0.9),
			doc("b1", "globex", "globex secret", "g.pdf", 0.95),
		},
	}
	engine := newTestEngine(t, store)

	result, err := engine.Search(context.Background(), "secret", "acme", 5, 0)
	require.Error(t, err)
	assert.True(t, IsIsolationError(err))
	assert.Empty(t, result.Chunks)
	assert.Empty(t, result.Context)

	var isolationErr *IsolationError
	require.ErrorAs(t, err, &isolationErr)
	assert.Equal(t, "acme", isolationErr.TenantID)
	assert.Equal(t, 1, isolationErr.Count)
	assert.Contains(t, isolationErr.LeakedTenants, "globex")
}

func TestSearchEmptyResultIsSuccess(t *testing.T) {
	store := &fakeStore{docs: []vector.Result{
		doc("c1", "acme", "barely related", "a.pdf", 0.2),
	}}
	engine := newTestEngine(t, store)

	result, err := engine.Search(context.Background(), "unrelated question", "acme", 5, 0.7)
	require.NoError(t, err)
	assert.True(t, result.Empty)
	assert.Empty(t, result.Chunks)
	assert.Equal(t, EmptyContextMarker, result.Context)
	assert.Empty(t, result.Citations)
}

func TestSearchFormatsContextWithAttribution(t *testing.T) {
	chunk := doc("c1", "acme", "Refunds are processed within 5 days.", "policies.pdf", 0.88)
	chunk.Metadata["section_index"] = 2
	chunk.Metadata["section_title"] = "Refunds"
	store := &fakeStore{docs: []vector.Result{chunk}}
	engine := newTestEngine(t, store)

	result, err := engine.Search(context.Background(), "refund timing", "acme", 5, 0.5)
	require.NoError(t, err)

	assert.Contains(t, result.Context, "policies.pdf (pdf)")
	assert.Contains(t, result.Context, "[Section 2: Refunds]")
	assert.Contains(t, result.Context, "Refunds are processed within 5 days.")
	assert.Contains(t, result.Context, "0.88")

	require.Len(t, result.Citations, 1)
	assert.Equal(t, "policies.pdf", result.Citations[0].Source)
	assert.Equal(t, "policies.pdf (pdf)", result.Citations[0].Display)
}

func TestSearchEmbedFailure(t *testing.T) {
	engine, err := NewEngine(&fakeStore{}, &fakeEmbedder{dimension: 4, err: fmt.Errorf("embedder down")}, "knowledge_chunks")
	require.NoError(t, err)

	_, err = engine.Search(context.Background(), "query", "acme", 5, 0)
	require.Error(t, err)

	var searchErr *SearchError
	assert.ErrorAs(t, err, &searchErr)
}

func TestIngestStoresTenantMetadata(t *testing.T) {
	store := &fakeStore{}
	engine := newTestEngine(t, store)

	err := engine.Ingest(context.Background(), []Chunk{
		{
			Content:      "Refunds are processed within 5 days.",
			TenantID:     "acme",
			Source:       "policies.pdf",
			FileType:     "pdf",
			SectionIndex: 2,
			SectionTitle: "Refunds",
		},
	})
	require.NoError(t, err)
	require.Len(t, store.upserted, 1)

	call := store.upserted[0]
	assert.Equal(t, "knowledge_chunks", call.collection)
	assert.NotEmpty(t, call.id)
	assert.Equal(t, "acme", call.metadata["tenant_id"])
	assert.Equal(t, "policies.pdf", call.metadata["source"])
	assert.Equal(t, "Refunds", call.metadata["section_title"])
}

func TestIngestRejectsMissingTenant(t *testing.T) {
	engine := newTestEngine(t, &fakeStore{})

	err := engine.Ingest(context.Background(), []Chunk{{Content: "orphan chunk"}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "tenant id"))
}
