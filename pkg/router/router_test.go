package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agenthub/pkg/config"
	"github.com/kadirpekel/agenthub/pkg/llms"
	"github.com/kadirpekel/agenthub/pkg/tenant"
)

// scriptedProvider returns canned outputs in order and records the
// prompts it was called with.
type scriptedProvider struct {
	outputs []string
	err     error
	calls   int
	prompts []string
}

func (p *scriptedProvider) Generate(ctx context.Context, messages []llms.Message) (*llms.Result, error) {
	return p.next(messages)
}

func (p *scriptedProvider) GenerateStructured(ctx context.Context, messages []llms.Message, cfg *llms.StructuredOutputConfig) (*llms.Result, error) {
	return p.next(messages)
}

func (p *scriptedProvider) next(messages []llms.Message) (*llms.Result, error) {
	if len(messages) > 0 {
		p.prompts = append(p.prompts, messages[0].Content)
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.calls >= len(p.outputs) {
		p.calls++
		return &llms.Result{Text: ""}, nil
	}
	out := p.outputs[p.calls]
	p.calls++
	return &llms.Result{Text: out}, nil
}

func (p *scriptedProvider) GetModelName() string    { return "scripted" }
func (p *scriptedProvider) GetMaxTokens() int       { return 1024 }
func (p *scriptedProvider) GetTemperature() float64 { return 0.0 }
func (p *scriptedProvider) Close() error            { return nil }

func routerConfig() *config.Config {
	cfg := &config.Config{
		Global: config.GlobalSettings{DefaultLLM: "stub"},
		LLMs: map[string]*config.LLMProviderConfig{
			"stub": {Type: "ollama"},
		},
		Agents: map[string]*config.AgentConfig{
			"billing":  {Name: "BillingAgent", Description: "Answers invoice and payment questions"},
			"shipping": {Name: "ShippingAgent", Description: "Tracks orders and deliveries"},
		},
		Tenants: map[string]*config.TenantConfig{
			"acme": {
				Name:         "Acme",
				DefaultAgent: "billing",
				Agents:       map[string]bool{"billing": true, "shipping": true},
			},
			"globex": {
				Name:   "Globex",
				Agents: map[string]bool{"billing": true, "shipping": true},
			},
			"empty": {
				Name: "Empty",
			},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func newTestRouter(t *testing.T, provider llms.Provider, routerCfg config.RouterConfig) *Router {
	t.Helper()
	reg := llms.NewRegistry()
	require.NoError(t, reg.RegisterProvider("stub", provider))
	gw := llms.NewGateway(reg, "stub", nil)
	r, err := New(gw, routerCfg, nil)
	require.NoError(t, err)
	return r
}

func TestRoute_Single(t *testing.T) {
	provider := &scriptedProvider{outputs: []string{
		`{"intent": "SINGLE", "sub_intents": [{"agent": "billing", "query": "why was I charged twice"}], "confidence": 0.92}`,
	}}
	r := newTestRouter(t, provider, config.RouterConfig{})
	snap := tenant.NewSnapshot(routerConfig())

	decision, err := r.Route(context.Background(), "acme", snap, "why was I charged twice", "")
	require.NoError(t, err)

	assert.Equal(t, IntentSingle, decision.Intent)
	require.Len(t, decision.SubIntents, 1)
	assert.Equal(t, "billing", decision.SubIntents[0].Agent)
	assert.Equal(t, "why was I charged twice", decision.SubIntents[0].Query)
	assert.InDelta(t, 0.92, decision.Confidence, 0.001)
	assert.False(t, decision.Fallback)
	assert.Equal(t, 1, provider.calls)
}

func TestRoute_SingleEmptyQueryFallsBackToMessage(t *testing.T) {
	provider := &scriptedProvider{outputs: []string{
		`{"intent": "SINGLE", "sub_intents": [{"agent": "shipping", "query": ""}]}`,
	}}
	r := newTestRouter(t, provider, config.RouterConfig{})
	snap := tenant.NewSnapshot(routerConfig())

	decision, err := r.Route(context.Background(), "acme", snap, "where is my order", "")
	require.NoError(t, err)
	require.Len(t, decision.SubIntents, 1)
	assert.Equal(t, "where is my order", decision.SubIntents[0].Query)
}

func TestRoute_MultiPreservesOrderAndCapsSubIntents(t *testing.T) {
	provider := &scriptedProvider{outputs: []string{
		`{"intent": "MULTI", "sub_intents": [
			{"agent": "shipping", "query": "where is order 42"},
			{"agent": "billing", "query": "why was I charged twice"},
			{"agent": "shipping", "query": "when does order 43 arrive"}
		]}`,
	}}
	r := newTestRouter(t, provider, config.RouterConfig{MaxSubIntents: 2})
	snap := tenant.NewSnapshot(routerConfig())

	decision, err := r.Route(context.Background(), "acme", snap, "combined question", "")
	require.NoError(t, err)

	assert.Equal(t, IntentMulti, decision.Intent)
	require.Len(t, decision.SubIntents, 2)
	assert.Equal(t, "shipping", decision.SubIntents[0].Agent)
	assert.Equal(t, "billing", decision.SubIntents[1].Agent)
}

func TestRoute_Unclear(t *testing.T) {
	provider := &scriptedProvider{outputs: []string{
		`{"intent": "UNCLEAR"}`,
	}}
	r := newTestRouter(t, provider, config.RouterConfig{})
	snap := tenant.NewSnapshot(routerConfig())

	decision, err := r.Route(context.Background(), "acme", snap, "asdf qwerty", "")
	require.NoError(t, err)
	assert.Equal(t, IntentUnclear, decision.Intent)
	assert.Empty(t, decision.SubIntents)
}

func TestRoute_MalformedRetriesWithStrictInstruction(t *testing.T) {
	provider := &scriptedProvider{outputs: []string{
		`{"intent": "SINGLE", "sub_intents": [{"agent": "nonexistent", "query": "x"}]}`,
		`{"intent": "SINGLE", "sub_intents": [{"agent": "billing", "query": "refund status"}]}`,
	}}
	r := newTestRouter(t, provider, config.RouterConfig{})
	snap := tenant.NewSnapshot(routerConfig())

	decision, err := r.Route(context.Background(), "acme", snap, "refund status", "")
	require.NoError(t, err)

	assert.Equal(t, IntentSingle, decision.Intent)
	assert.Equal(t, "billing", decision.SubIntents[0].Agent)
	assert.Equal(t, 2, provider.calls)

	require.Len(t, provider.prompts, 2)
	assert.NotContains(t, provider.prompts[0], "previous response was invalid")
	assert.Contains(t, provider.prompts[1], "previous response was invalid")
}

func TestRoute_SecondFailureFallsBackToDefaultAgent(t *testing.T) {
	provider := &scriptedProvider{outputs: []string{
		`not json at all`,
		`still not json`,
	}}
	r := newTestRouter(t, provider, config.RouterConfig{})
	snap := tenant.NewSnapshot(routerConfig())

	decision, err := r.Route(context.Background(), "acme", snap, "help me", "")
	require.NoError(t, err)

	assert.Equal(t, IntentSingle, decision.Intent)
	assert.True(t, decision.Fallback)
	require.Len(t, decision.SubIntents, 1)
	assert.Equal(t, "billing", decision.SubIntents[0].Agent)
	assert.Equal(t, "help me", decision.SubIntents[0].Query)
}

func TestRoute_SecondFailureWithoutDefaultAgentIsUnclear(t *testing.T) {
	provider := &scriptedProvider{outputs: []string{
		`{"intent": "MAYBE"}`,
		`{"intent": "SINGLE", "sub_intents": []}`,
	}}
	r := newTestRouter(t, provider, config.RouterConfig{})
	snap := tenant.NewSnapshot(routerConfig())

	decision, err := r.Route(context.Background(), "globex", snap, "help me", "")
	require.NoError(t, err)

	assert.Equal(t, IntentUnclear, decision.Intent)
	assert.True(t, decision.Fallback)
}

func TestRoute_NoEnabledAgentsShortCircuits(t *testing.T) {
	provider := &scriptedProvider{}
	r := newTestRouter(t, provider, config.RouterConfig{})
	snap := tenant.NewSnapshot(routerConfig())

	decision, err := r.Route(context.Background(), "empty", snap, "anything", "")
	require.NoError(t, err)

	assert.Equal(t, IntentUnclear, decision.Intent)
	assert.Zero(t, provider.calls)
}

func TestRoute_GenerationFailurePropagates(t *testing.T) {
	provider := &scriptedProvider{err: &llms.GenerationError{
		Provider: "stub", Model: "scripted", StatusCode: 401, Retryable: false,
	}}
	r := newTestRouter(t, provider, config.RouterConfig{})
	snap := tenant.NewSnapshot(routerConfig())

	_, err := r.Route(context.Background(), "acme", snap, "help", "")
	require.Error(t, err)

	var ce *ClassificationError
	assert.False(t, errors.As(err, &ce))

	var genErr *llms.GenerationError
	assert.True(t, errors.As(err, &genErr))
}

func TestRoute_FencedJSONAccepted(t *testing.T) {
	provider := &scriptedProvider{outputs: []string{
		"```json\n{\"intent\": \"SINGLE\", \"sub_intents\": [{\"agent\": \"billing\", \"query\": \"invoice copy\"}]}\n```",
	}}
	r := newTestRouter(t, provider, config.RouterConfig{})
	snap := tenant.NewSnapshot(routerConfig())

	decision, err := r.Route(context.Background(), "acme", snap, "invoice copy", "")
	require.NoError(t, err)
	assert.Equal(t, IntentSingle, decision.Intent)
	assert.Equal(t, "billing", decision.SubIntents[0].Agent)
}

func TestRoute_SummaryAppendedToPrompt(t *testing.T) {
	provider := &scriptedProvider{outputs: []string{
		`{"intent": "UNCLEAR"}`,
	}}
	r := newTestRouter(t, provider, config.RouterConfig{})
	snap := tenant.NewSnapshot(routerConfig())

	_, err := r.Route(context.Background(), "acme", snap, "and the other thing?", "User asked about order 42 earlier.")
	require.NoError(t, err)

	require.Len(t, provider.prompts, 1)
	assert.Contains(t, provider.prompts[0], "order 42")
	assert.Contains(t, provider.prompts[0], "billing: Answers invoice and payment questions")
}

func TestRoute_CustomPromptTemplate(t *testing.T) {
	provider := &scriptedProvider{outputs: []string{
		`{"intent": "UNCLEAR"}`,
	}}
	r := newTestRouter(t, provider, config.RouterConfig{
		PromptTemplate: "Agents:\n{agents_list}\nPick one of {agent_names}.",
	})
	snap := tenant.NewSnapshot(routerConfig())

	_, err := r.Route(context.Background(), "acme", snap, "hello", "")
	require.NoError(t, err)

	require.Len(t, provider.prompts, 1)
	assert.Contains(t, provider.prompts[0], `"billing", "shipping"`)
}
