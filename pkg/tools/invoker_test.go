package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agenthub/pkg/config"
	"github.com/kadirpekel/agenthub/pkg/rag"
)

type fakeSearcher struct {
	result rag.Result
	err    error
	calls  int

	lastQuery  string
	lastTenant string
	lastTopK   int
	lastMinSim float32
}

func (f *fakeSearcher) Search(ctx context.Context, query, tenantID string, topK int, minSimilarity float32) (rag.Result, error) {
	f.calls++
	f.lastQuery = query
	f.lastTenant = tenantID
	f.lastTopK = topK
	f.lastMinSim = minSimilarity
	return f.result, f.err
}

type allowAll struct{}

func (allowAll) ToolEnabled(tenantID, toolID string) bool { return true }

type denyAll struct{}

func (denyAll) ToolEnabled(tenantID, toolID string) bool { return false }

func retrievalDef() *config.ToolConfig {
	def := &config.ToolConfig{
		Kind: config.ToolKindRetrieval,
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"query"},
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
		},
	}
	def.SetDefaults()
	return def
}

func TestExecuteValidationErrorSkipsDispatch(t *testing.T) {
	searcher := &fakeSearcher{}
	inv := NewInvoker(searcher, NewHandlerRegistry())

	result := inv.Execute(context.Background(), Request{
		TenantID:    "acme",
		ToolID:      "kb_search",
		Definition:  retrievalDef(),
		Input:       map[string]any{"query": 42},
		Permissions: allowAll{},
	})

	assert.Equal(t, StatusValidationError, result.Status)
	assert.Zero(t, searcher.calls, "underlying mechanism must not be called")
	assert.Equal(t, "kb_search", result.ToolID)
}

func TestExecutePermissionRecheck(t *testing.T) {
	searcher := &fakeSearcher{}
	inv := NewInvoker(searcher, NewHandlerRegistry())

	result := inv.Execute(context.Background(), Request{
		TenantID:    "acme",
		ToolID:      "kb_search",
		Definition:  retrievalDef(),
		Input:       map[string]any{"query": "refund policy"},
		Permissions: denyAll{},
	})

	assert.Equal(t, StatusExecutionError, result.Status)
	assert.Contains(t, result.Error, "not permitted")
	assert.Zero(t, searcher.calls)
}

func TestExecuteRetrieval(t *testing.T) {
	searcher := &fakeSearcher{
		result: rag.Result{
			Context: "[Source: policies.pdf (pdf), similarity: 0.88]\nRefunds take 5 days.",
			Citations: []rag.Citation{
				{Source: "policies.pdf", Display: "policies.pdf (pdf)", Similarity: 0.88},
			},
		},
	}
	inv := NewInvoker(searcher, NewHandlerRegistry())

	result := inv.Execute(context.Background(), Request{
		TenantID:    "acme",
		ToolID:      "kb_search",
		Definition:  retrievalDef(),
		Input:       map[string]any{"query": "refund policy"},
		Permissions: allowAll{},
	})

	require.Equal(t, StatusOK, result.Status)
	assert.Contains(t, result.Payload, "Refunds take 5 days.")
	require.Len(t, result.Citations, 1)
	assert.False(t, result.EmptyContext)

	assert.Equal(t, "refund policy", searcher.lastQuery)
	assert.Equal(t, "acme", searcher.lastTenant)
	assert.Equal(t, 5, searcher.lastTopK)
	assert.InDelta(t, 0.7, searcher.lastMinSim, 0.001)
}

func TestExecuteRetrievalEmptyContext(t *testing.T) {
	searcher := &fakeSearcher{
		result: rag.Result{Context: rag.EmptyContextMarker, Empty: true},
	}
	inv := NewInvoker(searcher, NewHandlerRegistry())

	result := inv.Execute(context.Background(), Request{
		TenantID:    "acme",
		ToolID:      "kb_search",
		Definition:  retrievalDef(),
		Input:       map[string]any{"query": "unknown topic"},
		Permissions: allowAll{},
	})

	require.Equal(t, StatusOK, result.Status)
	assert.True(t, result.EmptyContext)
	assert.Equal(t, rag.EmptyContextMarker, result.Payload)
}

func TestExecuteRetrievalIsolationViolationSurfacesCause(t *testing.T) {
	isolationErr := &rag.IsolationError{TenantID: "acme", Count: 1, LeakedTenants: []string{"globex"}}
	searcher := &fakeSearcher{err: isolationErr}
	inv := NewInvoker(searcher, NewHandlerRegistry())

	result := inv.Execute(context.Background(), Request{
		TenantID:    "acme",
		ToolID:      "kb_search",
		Definition:  retrievalDef(),
		Input:       map[string]any{"query": "secrets"},
		Permissions: allowAll{},
	})

	assert.Equal(t, StatusExecutionError, result.Status)
	assert.True(t, rag.IsIsolationError(result.Cause))
	assert.Empty(t, result.Payload)
}

func TestExecuteHTTPTool(t *testing.T) {
	var gotPath, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		fmt.Fprint(w, `{"status":"shipped"}`)
	}))
	defer server.Close()

	def := &config.ToolConfig{
		Kind: config.ToolKindHTTP,
		HTTP: &config.HTTPToolConfig{
			URL:          server.URL + "/orders?id={order_id}",
			BodyTemplate: `{"customer":"{customer}"}`,
		},
	}
	def.SetDefaults()

	inv := NewInvoker(nil, NewHandlerRegistry())
	result := inv.Execute(context.Background(), Request{
		TenantID:   "acme",
		ToolID:     "order_status",
		Definition: def,
		Input:      map[string]any{"order_id": "A 42", "customer": "Jane"},
	})

	require.Equal(t, StatusOK, result.Status)
	assert.Equal(t, `{"status":"shipped"}`, result.Payload)
	assert.Equal(t, "/orders?id=A+42", gotPath)
	assert.Equal(t, `{"customer":"Jane"}`, gotBody)
}

func TestExecuteHTTPToolRemoteFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	def := &config.ToolConfig{
		Kind: config.ToolKindHTTP,
		HTTP: &config.HTTPToolConfig{URL: server.URL},
	}
	def.SetDefaults()

	inv := NewInvoker(nil, NewHandlerRegistry())
	result := inv.Execute(context.Background(), Request{
		ToolID:     "flaky",
		Definition: def,
	})

	assert.Equal(t, StatusExecutionError, result.Status)
	assert.Contains(t, result.Error, "502")
}

func TestExecuteHTTPToolTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	def := &config.ToolConfig{
		Kind:    config.ToolKindHTTP,
		Timeout: 1,
		HTTP:    &config.HTTPToolConfig{URL: server.URL},
	}
	// Force a sub-second timeout through the context instead.
	def.SetDefaults()

	inv := NewInvoker(nil, NewHandlerRegistry())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := inv.Execute(ctx, Request{
		ToolID:     "slow",
		Definition: def,
	})

	assert.Equal(t, StatusExecutionError, result.Status)
}

func TestExecuteHTTPToolCircuitOpens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	def := &config.ToolConfig{
		Kind: config.ToolKindHTTP,
		HTTP: &config.HTTPToolConfig{
			URL:                server.URL,
			BreakerMaxFailures: 2,
		},
	}
	def.SetDefaults()

	inv := NewInvoker(nil, NewHandlerRegistry())
	req := Request{ToolID: "broken", Definition: def}

	for i := 0; i < 2; i++ {
		result := inv.Execute(context.Background(), req)
		assert.Equal(t, StatusExecutionError, result.Status)
	}

	result := inv.Execute(context.Background(), req)
	assert.Equal(t, StatusExecutionError, result.Status)
	assert.Contains(t, result.Error, "circuit open")
}

func TestExecuteCustomTool(t *testing.T) {
	handlers := NewHandlerRegistry()
	require.NoError(t, handlers.RegisterHandler("echo", func(ctx context.Context, tenantID string, input map[string]any) (string, error) {
		return fmt.Sprintf("tenant=%s message=%v", tenantID, input["message"]), nil
	}))

	def := &config.ToolConfig{
		Kind:   config.ToolKindCustom,
		Custom: &config.CustomToolConfig{Handler: "echo"},
	}
	def.SetDefaults()

	inv := NewInvoker(nil, handlers)
	result := inv.Execute(context.Background(), Request{
		TenantID:   "acme",
		ToolID:     "echo_tool",
		Definition: def,
		Input:      map[string]any{"message": "hello"},
	})

	require.Equal(t, StatusOK, result.Status)
	assert.Equal(t, "tenant=acme message=hello", result.Payload)
}

func TestExecuteCustomToolMissingHandler(t *testing.T) {
	def := &config.ToolConfig{
		Kind:   config.ToolKindCustom,
		Custom: &config.CustomToolConfig{Handler: "ghost"},
	}
	def.SetDefaults()

	inv := NewInvoker(nil, NewHandlerRegistry())
	result := inv.Execute(context.Background(), Request{ToolID: "ghost_tool", Definition: def})

	assert.Equal(t, StatusExecutionError, result.Status)
	assert.Contains(t, result.Error, "ghost")
}

func TestExecuteRecoversFromPanic(t *testing.T) {
	handlers := NewHandlerRegistry()
	require.NoError(t, handlers.RegisterHandler("boom", func(ctx context.Context, tenantID string, input map[string]any) (string, error) {
		panic("tool exploded")
	}))

	def := &config.ToolConfig{
		Kind:   config.ToolKindCustom,
		Custom: &config.CustomToolConfig{Handler: "boom"},
	}
	def.SetDefaults()

	inv := NewInvoker(nil, handlers)
	result := inv.Execute(context.Background(), Request{ToolID: "boom_tool", Definition: def})

	assert.Equal(t, StatusExecutionError, result.Status)
	assert.Contains(t, result.Error, "panicked")
}

func TestExecuteMissingDefinition(t *testing.T) {
	inv := NewInvoker(nil, NewHandlerRegistry())
	result := inv.Execute(context.Background(), Request{ToolID: "nothing"})
	assert.Equal(t, StatusExecutionError, result.Status)
}
