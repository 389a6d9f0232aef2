package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agenthub/pkg/config"
	"github.com/kadirpekel/agenthub/pkg/llms"
	"github.com/kadirpekel/agenthub/pkg/rag"
	"github.com/kadirpekel/agenthub/pkg/session"
	"github.com/kadirpekel/agenthub/pkg/tenant"
	"github.com/kadirpekel/agenthub/pkg/tools"
)

// scriptedProvider returns canned outputs in order and records every
// transcript it was called with.
type scriptedProvider struct {
	outputs     []string
	calls       int
	transcripts [][]llms.Message
}

func (p *scriptedProvider) Generate(ctx context.Context, messages []llms.Message) (*llms.Result, error) {
	return p.next(messages)
}

func (p *scriptedProvider) GenerateStructured(ctx context.Context, messages []llms.Message, cfg *llms.StructuredOutputConfig) (*llms.Result, error) {
	return p.next(messages)
}

func (p *scriptedProvider) next(messages []llms.Message) (*llms.Result, error) {
	p.transcripts = append(p.transcripts, messages)
	if p.calls >= len(p.outputs) {
		p.calls++
		return &llms.Result{Text: ""}, nil
	}
	out := p.outputs[p.calls]
	p.calls++
	return &llms.Result{Text: out, Model: "scripted"}, nil
}

func (p *scriptedProvider) GetModelName() string    { return "scripted" }
func (p *scriptedProvider) GetMaxTokens() int       { return 1024 }
func (p *scriptedProvider) GetTemperature() float64 { return 0.0 }
func (p *scriptedProvider) Close() error            { return nil }

// fakeSearcher records queries and returns a canned retrieval result.
type fakeSearcher struct {
	result    rag.Result
	err       error
	lastQuery string
	lastTopK  int
	calls     int
}

func (s *fakeSearcher) Search(ctx context.Context, query, tenantID string, topK int, minSimilarity float32) (rag.Result, error) {
	s.calls++
	s.lastQuery = query
	s.lastTopK = topK
	if s.err != nil {
		return rag.Result{}, s.err
	}
	return s.result, nil
}

func executorConfig() *config.Config {
	cfg := &config.Config{
		Global: config.GlobalSettings{DefaultLLM: "stub"},
		LLMs: map[string]*config.LLMProviderConfig{
			"stub": {Type: "ollama"},
		},
		Agents: map[string]*config.AgentConfig{
			"support": {
				Name:           "SupportAgent",
				PromptTemplate: "Tenant {tenant}.\nEntities: {entities}\nContext:\n{context}",
				Tools: []config.AgentToolRef{
					{ID: "lookup", Priority: 1},
					{ID: "kb_search", Priority: 2},
					{ID: "restricted", Priority: 3},
				},
			},
			"structured": {
				Name:   "StructuredAgent",
				Output: config.OutputFormatJSON,
			},
			"bare": {
				Name: "BareAgent",
			},
			"extractor": {
				Name:            "ExtractorAgent",
				ExtractEntities: true,
				Tools:           []config.AgentToolRef{{ID: "lookup", Priority: 1}},
			},
		},
		Tools: map[string]*config.ToolConfig{
			"kb_search": {
				Kind:      config.ToolKindRetrieval,
				Retrieval: &config.RetrievalToolConfig{TopK: 3, MinSimilarity: 0.7},
			},
			"lookup": {
				Kind:   config.ToolKindCustom,
				Custom: &config.CustomToolConfig{Handler: "lookup"},
			},
			"restricted": {
				Kind:   config.ToolKindCustom,
				Custom: &config.CustomToolConfig{Handler: "lookup"},
			},
		},
		Tenants: map[string]*config.TenantConfig{
			"acme": {
				Name: "Acme",
				Agents: map[string]bool{
					"support": true, "structured": true, "bare": true, "extractor": true,
				},
				Tools: map[string]bool{"kb_search": true, "lookup": true},
			},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func newTestExecutor(t *testing.T, provider llms.Provider, searcher tools.Searcher, handler tools.HandlerFunc) *Executor {
	t.Helper()

	reg := llms.NewRegistry()
	require.NoError(t, reg.RegisterProvider("stub", provider))
	gw := llms.NewGateway(reg, "stub", nil)

	handlers := tools.NewHandlerRegistry()
	if handler != nil {
		require.NoError(t, handlers.RegisterHandler("lookup", handler))
	}
	invoker := tools.NewInvoker(searcher, handlers)

	exec, err := New(gw, invoker, nil)
	require.NoError(t, err)
	return exec
}

func TestRun_ToolPriorityOrderAndContext(t *testing.T) {
	searcher := &fakeSearcher{result: rag.Result{
		Context: "[Source: handbook.pdf (pdf), similarity: 0.91]\nPasswords reset via the portal.",
		Citations: []rag.Citation{
			{Source: "handbook.pdf", Display: "handbook.pdf (pdf)", Similarity: 0.91},
		},
	}}
	var handlerCalls int
	handler := func(ctx context.Context, tenantID string, input map[string]any) (string, error) {
		handlerCalls++
		return "lookup says hello", nil
	}
	provider := &scriptedProvider{outputs: []string{"Here is your answer."}}

	exec := newTestExecutor(t, provider, searcher, handler)
	snap := tenant.NewSnapshot(executorConfig())

	out, err := exec.Run(context.Background(), RunInput{
		TenantID: "acme",
		AgentID:  "support",
		Message:  "how do I reset my password",
		Intent:   "SINGLE",
		Snapshot: snap,
	})
	require.NoError(t, err)

	// restricted is not tenant-enabled and must not run at all.
	require.Len(t, out.ToolCalls, 2)
	assert.Equal(t, "kb_search", out.ToolCalls[0].ToolID)
	assert.Equal(t, "lookup", out.ToolCalls[1].ToolID)
	assert.True(t, out.ToolCalls[0].OK())
	assert.True(t, out.ToolCalls[1].OK())
	assert.Equal(t, 1, handlerCalls)
	assert.Equal(t, 3, searcher.lastTopK)
	assert.Equal(t, "how do I reset my password", searcher.lastQuery)

	assert.Equal(t, "Here is your answer.", out.Answer)
	assert.Equal(t, "SupportAgent", out.AgentName)
	assert.Equal(t, "SINGLE", out.Intent)
	require.Len(t, out.Citations, 1)
	assert.Equal(t, "handbook.pdf", out.Citations[0].Source)

	// The system prompt carries both tool payloads.
	require.NotEmpty(t, provider.transcripts)
	prompt := provider.transcripts[len(provider.transcripts)-1][0].Content
	assert.Contains(t, prompt, "Tenant acme.")
	assert.Contains(t, prompt, "Passwords reset via the portal.")
	assert.Contains(t, prompt, "lookup says hello")
}

func TestRun_FailedToolDoesNotHaltAndIsMarkedUnavailable(t *testing.T) {
	searcher := &fakeSearcher{result: rag.Result{Context: "context ok"}}
	handler := func(ctx context.Context, tenantID string, input map[string]any) (string, error) {
		return "", fmt.Errorf("backend down")
	}
	provider := &scriptedProvider{outputs: []string{"answer"}}

	exec := newTestExecutor(t, provider, searcher, handler)
	snap := tenant.NewSnapshot(executorConfig())

	out, err := exec.Run(context.Background(), RunInput{
		TenantID: "acme",
		AgentID:  "support",
		Message:  "question",
		Snapshot: snap,
	})
	require.NoError(t, err)

	require.Len(t, out.ToolCalls, 2)
	assert.True(t, out.ToolCalls[0].OK())
	assert.Equal(t, tools.StatusExecutionError, out.ToolCalls[1].Status)

	prompt := provider.transcripts[len(provider.transcripts)-1][0].Content
	assert.Contains(t, prompt, "[source unavailable:")
	assert.Contains(t, prompt, "context ok")
}

func TestRun_NoToolsUsesEmptyContextMarker(t *testing.T) {
	provider := &scriptedProvider{outputs: []string{"answer"}}
	exec := newTestExecutor(t, provider, nil, nil)
	snap := tenant.NewSnapshot(executorConfig())

	out, err := exec.Run(context.Background(), RunInput{
		TenantID: "acme",
		AgentID:  "bare",
		Message:  "hello",
		Snapshot: snap,
	})
	require.NoError(t, err)
	assert.Empty(t, out.ToolCalls)

	prompt := provider.transcripts[0][0].Content
	assert.Contains(t, prompt, rag.EmptyContextMarker)
}

func TestRun_IsolationViolationAbortsRun(t *testing.T) {
	searcher := &fakeSearcher{err: &rag.IsolationError{
		TenantID: "acme", LeakedTenants: []string{"globex"}, Count: 1,
	}}
	provider := &scriptedProvider{outputs: []string{"never used"}}

	exec := newTestExecutor(t, provider, searcher, func(ctx context.Context, tenantID string, input map[string]any) (string, error) {
		return "ok", nil
	})
	snap := tenant.NewSnapshot(executorConfig())

	_, err := exec.Run(context.Background(), RunInput{
		TenantID: "acme",
		AgentID:  "support",
		Message:  "question",
		Snapshot: snap,
	})
	require.Error(t, err)
	assert.True(t, rag.IsIsolationError(err))

	// Generation never ran.
	assert.Zero(t, provider.calls)
}

func TestRun_JSONOutputCanonicalized(t *testing.T) {
	provider := &scriptedProvider{outputs: []string{
		"```json\n{\n  \"status\": \"ok\",\n  \"value\": 42\n}\n```",
	}}
	exec := newTestExecutor(t, provider, nil, nil)
	snap := tenant.NewSnapshot(executorConfig())

	out, err := exec.Run(context.Background(), RunInput{
		TenantID: "acme",
		AgentID:  "structured",
		Message:  "give me status",
		Snapshot: snap,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","value":42}`, out.Answer)
}

func TestRun_InvalidJSONOutputFails(t *testing.T) {
	provider := &scriptedProvider{outputs: []string{"this is not json"}}
	exec := newTestExecutor(t, provider, nil, nil)
	snap := tenant.NewSnapshot(executorConfig())

	_, err := exec.Run(context.Background(), RunInput{
		TenantID: "acme",
		AgentID:  "structured",
		Message:  "give me status",
		Snapshot: snap,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestRun_EntityExtractionFeedsToolInput(t *testing.T) {
	var seenInput map[string]any
	handler := func(ctx context.Context, tenantID string, input map[string]any) (string, error) {
		seenInput = input
		return "found order", nil
	}
	provider := &scriptedProvider{outputs: []string{
		`{"order_id": "42"}`,
		"your order ships tomorrow",
	}}

	exec := newTestExecutor(t, provider, nil, handler)
	snap := tenant.NewSnapshot(executorConfig())

	out, err := exec.Run(context.Background(), RunInput{
		TenantID: "acme",
		AgentID:  "extractor",
		Message:  "where is order 42",
		Snapshot: snap,
	})
	require.NoError(t, err)

	assert.Equal(t, "your order ships tomorrow", out.Answer)
	assert.Equal(t, map[string]any{"order_id": "42"}, out.Entities)
	require.NotNil(t, seenInput)
	assert.Equal(t, "42", seenInput["order_id"])
	assert.Equal(t, "where is order 42", seenInput["query"])
}

func TestRun_EntityExtractionFailureIsNonFatal(t *testing.T) {
	provider := &scriptedProvider{outputs: []string{
		"not a json object",
		"answer anyway",
	}}
	exec := newTestExecutor(t, provider, nil, func(ctx context.Context, tenantID string, input map[string]any) (string, error) {
		return "ok", nil
	})
	snap := tenant.NewSnapshot(executorConfig())

	out, err := exec.Run(context.Background(), RunInput{
		TenantID: "acme",
		AgentID:  "extractor",
		Message:  "hello",
		Snapshot: snap,
	})
	require.NoError(t, err)
	assert.Equal(t, "answer anyway", out.Answer)
	assert.Nil(t, out.Entities)
}

func TestRun_SubQueryOverridesMessage(t *testing.T) {
	searcher := &fakeSearcher{result: rag.Result{Context: "ctx"}}
	provider := &scriptedProvider{outputs: []string{"answer"}}
	exec := newTestExecutor(t, provider, searcher, func(ctx context.Context, tenantID string, input map[string]any) (string, error) {
		return "ok", nil
	})
	snap := tenant.NewSnapshot(executorConfig())

	_, err := exec.Run(context.Background(), RunInput{
		TenantID: "acme",
		AgentID:  "support",
		Message:  "two questions combined",
		Query:    "just the billing part",
		Snapshot: snap,
	})
	require.NoError(t, err)
	assert.Equal(t, "just the billing part", searcher.lastQuery)
}

func TestRun_WindowIncludedInTranscript(t *testing.T) {
	provider := &scriptedProvider{outputs: []string{"answer"}}
	exec := newTestExecutor(t, provider, nil, nil)
	snap := tenant.NewSnapshot(executorConfig())

	window := []session.Turn{
		{Role: session.RoleUser, Content: "earlier question"},
		{Role: session.RoleAssistant, Content: "earlier answer"},
	}

	_, err := exec.Run(context.Background(), RunInput{
		TenantID: "acme",
		AgentID:  "bare",
		Message:  "followup",
		Window:   window,
		Snapshot: snap,
	})
	require.NoError(t, err)

	transcript := provider.transcripts[0]
	require.Len(t, transcript, 4)
	assert.Equal(t, llms.RoleSystem, transcript[0].Role)
	assert.Equal(t, "earlier question", transcript[1].Content)
	assert.Equal(t, "earlier answer", transcript[2].Content)
	assert.Equal(t, "followup", transcript[3].Content)
}

func TestRun_AgentNotEnabled(t *testing.T) {
	provider := &scriptedProvider{}
	exec := newTestExecutor(t, provider, nil, nil)
	snap := tenant.NewSnapshot(executorConfig())

	_, err := exec.Run(context.Background(), RunInput{
		TenantID: "acme",
		AgentID:  "missing",
		Message:  "hello",
		Snapshot: snap,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown agent")
}
