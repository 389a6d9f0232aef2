package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agenthub/pkg/config"
	"github.com/kadirpekel/agenthub/pkg/executor"
	"github.com/kadirpekel/agenthub/pkg/llms"
	"github.com/kadirpekel/agenthub/pkg/router"
	"github.com/kadirpekel/agenthub/pkg/session"
	"github.com/kadirpekel/agenthub/pkg/tenant"
	"github.com/kadirpekel/agenthub/pkg/tools"
)

// scriptedProvider returns canned outputs in call order. Used for the
// router, which makes at most two sequential calls per turn.
type scriptedProvider struct {
	mu      sync.Mutex
	outputs []string
	calls   int
	err     error
}

func (p *scriptedProvider) Generate(ctx context.Context, messages []llms.Message) (*llms.Result, error) {
	return p.next()
}

func (p *scriptedProvider) GenerateStructured(ctx context.Context, messages []llms.Message, cfg *llms.StructuredOutputConfig) (*llms.Result, error) {
	return p.next()
}

func (p *scriptedProvider) next() (*llms.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if p.calls >= len(p.outputs) {
		p.calls++
		return &llms.Result{Text: ""}, nil
	}
	out := p.outputs[p.calls]
	p.calls++
	return &llms.Result{Text: out, Model: "scripted"}, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) GetModelName() string    { return "scripted" }
func (p *scriptedProvider) GetMaxTokens() int       { return 1024 }
func (p *scriptedProvider) GetTemperature() float64 { return 0.0 }
func (p *scriptedProvider) Close() error            { return nil }

// echoProvider answers deterministically from the last user message,
// which keeps concurrent sub-pipelines order-independent. delays lets
// a test stall specific queries to scramble completion order.
type echoProvider struct {
	mu          sync.Mutex
	delays      map[string]time.Duration
	err         error
	transcripts [][]llms.Message
}

func (p *echoProvider) Generate(ctx context.Context, messages []llms.Message) (*llms.Result, error) {
	return p.answer(ctx, messages)
}

func (p *echoProvider) GenerateStructured(ctx context.Context, messages []llms.Message, cfg *llms.StructuredOutputConfig) (*llms.Result, error) {
	return p.answer(ctx, messages)
}

func (p *echoProvider) answer(ctx context.Context, messages []llms.Message) (*llms.Result, error) {
	p.mu.Lock()
	p.transcripts = append(p.transcripts, messages)
	err := p.err
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	query := messages[len(messages)-1].Content
	if delay, ok := p.delays[query]; ok {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &llms.Result{Text: "answer to: " + query, Model: "echo"}, nil
}

func (p *echoProvider) lastTranscript() []llms.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.transcripts) == 0 {
		return nil
	}
	return p.transcripts[len(p.transcripts)-1]
}

func (p *echoProvider) GetModelName() string    { return "echo" }
func (p *echoProvider) GetMaxTokens() int       { return 1024 }
func (p *echoProvider) GetTemperature() float64 { return 0.0 }
func (p *echoProvider) Close() error            { return nil }

func pipelineConfig() *config.Config {
	cfg := &config.Config{
		Global: config.GlobalSettings{DefaultLLM: "agent-llm"},
		LLMs: map[string]*config.LLMProviderConfig{
			"agent-llm":  {Type: "ollama"},
			"router-llm": {Type: "ollama"},
		},
		Router: config.RouterConfig{LLM: "router-llm"},
		Agents: map[string]*config.AgentConfig{
			"billing":  {Name: "BillingAgent", Description: "Handles billing"},
			"shipping": {Name: "ShippingAgent", Description: "Handles shipping"},
			"hidden":   {Name: "HiddenAgent"},
		},
		Tenants: map[string]*config.TenantConfig{
			"acme": {
				Name:         "Acme",
				DefaultAgent: "billing",
				Agents:       map[string]bool{"billing": true, "shipping": true},
			},
		},
	}
	cfg.SetDefaults()
	return cfg
}

type testEnv struct {
	pipeline *Pipeline
	store    *session.MemoryStore
	routerP  *scriptedProvider
	agentP   *echoProvider
}

func newTestEnv(t *testing.T, routerOutputs []string) *testEnv {
	t.Helper()
	return newTestEnvWith(t, &scriptedProvider{outputs: routerOutputs}, &echoProvider{})
}

func newTestEnvWith(t *testing.T, routerP *scriptedProvider, agentP *echoProvider) *testEnv {
	t.Helper()

	reg := llms.NewRegistry()
	require.NoError(t, reg.RegisterProvider("router-llm", routerP))
	require.NoError(t, reg.RegisterProvider("agent-llm", agentP))
	gw := llms.NewGateway(reg, "agent-llm", nil)

	cfg := pipelineConfig()
	registry := tenant.NewRegistry(cfg)

	rt, err := router.New(gw, cfg.Router, nil)
	require.NoError(t, err)

	invoker := tools.NewInvoker(nil, tools.NewHandlerRegistry())
	exec, err := executor.New(gw, invoker, nil)
	require.NoError(t, err)

	store := session.NewMemoryStore()
	p, err := New(registry, rt, exec, store, 0, nil)
	require.NoError(t, err)

	return &testEnv{pipeline: p, store: store, routerP: routerP, agentP: agentP}
}

func TestHandle_SingleIntent(t *testing.T) {
	env := newTestEnv(t, []string{
		`{"intent": "SINGLE", "sub_intents": [{"agent": "billing", "query": "why two charges"}]}`,
	})

	resp, err := env.pipeline.Handle(context.Background(), ChatRequest{
		TenantID:  "acme",
		SessionID: "s1",
		Message:   "why two charges",
	})
	require.NoError(t, err)

	assert.Equal(t, router.IntentSingle, resp.Intent)
	assert.Equal(t, "answer to: why two charges", resp.Response)
	assert.Equal(t, []string{"billing"}, resp.Agents)
	assert.False(t, resp.Clarification)

	// User and assistant turns persisted as a pair.
	assert.Equal(t, 2, env.store.Count("s1"))
	window, err := env.store.Window(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, session.RoleUser, window[0].Role)
	assert.Equal(t, "why two charges", window[0].Content)
	assert.Equal(t, session.RoleAssistant, window[1].Role)
}

func TestHandle_UnclearShortCircuits(t *testing.T) {
	env := newTestEnv(t, []string{`{"intent": "UNCLEAR"}`})

	resp, err := env.pipeline.Handle(context.Background(), ChatRequest{
		TenantID:  "acme",
		SessionID: "s1",
		Message:   "gibberish",
	})
	require.NoError(t, err)

	assert.True(t, resp.Clarification)
	assert.Equal(t, router.IntentUnclear, resp.Intent)
	assert.NotEmpty(t, resp.Response)
	assert.Empty(t, resp.Agents)

	// No agent ran.
	assert.Empty(t, env.agentP.transcripts)

	// The clarification exchange is still recorded.
	assert.Equal(t, 2, env.store.Count("s1"))
}

func TestHandle_MultiMergesInRouterOrder(t *testing.T) {
	routerP := &scriptedProvider{outputs: []string{
		`{"intent": "MULTI", "sub_intents": [
			{"agent": "shipping", "query": "where is order 42"},
			{"agent": "billing", "query": "why two charges"}
		]}`,
	}}
	// The first sub-intent finishes last; merge order must not change.
	agentP := &echoProvider{delays: map[string]time.Duration{
		"where is order 42": 80 * time.Millisecond,
	}}
	env := newTestEnvWith(t, routerP, agentP)

	resp, err := env.pipeline.Handle(context.Background(), ChatRequest{
		TenantID:  "acme",
		SessionID: "s1",
		Message:   "where is order 42 and why two charges",
	})
	require.NoError(t, err)

	assert.Equal(t, router.IntentMulti, resp.Intent)
	require.Len(t, resp.Sections, 2)
	assert.Equal(t, "shipping", resp.Sections[0].AgentID)
	assert.Equal(t, "billing", resp.Sections[1].AgentID)

	shippingIdx := strings.Index(resp.Response, "## ShippingAgent")
	billingIdx := strings.Index(resp.Response, "## BillingAgent")
	require.GreaterOrEqual(t, shippingIdx, 0)
	require.GreaterOrEqual(t, billingIdx, 0)
	assert.Less(t, shippingIdx, billingIdx)

	assert.Contains(t, resp.Response, "answer to: where is order 42")
	assert.Contains(t, resp.Response, "answer to: why two charges")
	assert.Equal(t, []string{"shipping", "billing"}, resp.Agents)
}

func TestHandle_DirectAgentOverrideSkipsRouting(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := env.pipeline.Handle(context.Background(), ChatRequest{
		TenantID:  "acme",
		SessionID: "s1",
		Message:   "track my order",
		Agent:     "shipping",
	})
	require.NoError(t, err)

	assert.Equal(t, router.IntentSingle, resp.Intent)
	assert.Equal(t, []string{"shipping"}, resp.Agents)
	assert.Zero(t, env.routerP.callCount())
}

func TestHandle_DirectAgentOverrideNotEnabled(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.pipeline.Handle(context.Background(), ChatRequest{
		TenantID:  "acme",
		SessionID: "s1",
		Message:   "hello",
		Agent:     "hidden",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgentNotAvailable)
	assert.Zero(t, env.store.Count("s1"))
}

func TestHandle_UnknownTenant(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.pipeline.Handle(context.Background(), ChatRequest{
		TenantID: "nope",
		Message:  "hello",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTenant)
}

func TestHandle_EmptyMessage(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.pipeline.Handle(context.Background(), ChatRequest{
		TenantID: "acme",
		Message:  "   ",
	})
	require.Error(t, err)
}

func TestHandle_GenerationExhaustionPersistsNothing(t *testing.T) {
	routerP := &scriptedProvider{outputs: []string{
		`{"intent": "SINGLE", "sub_intents": [{"agent": "billing", "query": "q"}]}`,
	}}
	agentP := &echoProvider{err: &llms.GenerationError{
		Provider: "echo", Model: "echo", StatusCode: 500, Retryable: true,
		Err: errors.New("upstream down"),
	}}
	env := newTestEnvWith(t, routerP, agentP)

	_, err := env.pipeline.Handle(context.Background(), ChatRequest{
		TenantID:  "acme",
		SessionID: "s1",
		Message:   "q",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, llms.ErrGenerationExhausted)

	// Failed turns leave no trace in the conversation.
	assert.Zero(t, env.store.Count("s1"))
}

func TestHandle_HistoryFlowsIntoNextTurn(t *testing.T) {
	env := newTestEnv(t, []string{
		`{"intent": "SINGLE", "sub_intents": [{"agent": "billing", "query": "first question"}]}`,
		`{"intent": "SINGLE", "sub_intents": [{"agent": "billing", "query": "second question"}]}`,
	})

	_, err := env.pipeline.Handle(context.Background(), ChatRequest{
		TenantID: "acme", SessionID: "s1", Message: "first question",
	})
	require.NoError(t, err)

	_, err = env.pipeline.Handle(context.Background(), ChatRequest{
		TenantID: "acme", SessionID: "s1", Message: "second question",
	})
	require.NoError(t, err)

	transcript := env.agentP.lastTranscript()
	require.NotNil(t, transcript)

	var contents []string
	for _, m := range transcript {
		contents = append(contents, m.Content)
	}
	joined := strings.Join(contents, "\n")
	assert.Contains(t, joined, "first question")
	assert.Contains(t, joined, "answer to: first question")
	assert.Contains(t, joined, "second question")
}

func TestHandle_SessionIDGeneratedWhenMissing(t *testing.T) {
	env := newTestEnv(t, []string{`{"intent": "UNCLEAR"}`})

	resp, err := env.pipeline.Handle(context.Background(), ChatRequest{
		TenantID: "acme",
		Message:  "hello",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, 2, env.store.Count(resp.SessionID))
}
