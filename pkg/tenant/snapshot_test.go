package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agenthub/pkg/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		Global: config.GlobalSettings{DefaultLLM: "system-llm"},
		LLMs: map[string]*config.LLMProviderConfig{
			"system-llm": {Type: "ollama"},
			"tenant-llm": {Type: "ollama"},
			"agent-llm":  {Type: "ollama"},
		},
		Agents: map[string]*config.AgentConfig{
			"billing": {Name: "BillingAgent", LLM: "agent-llm"},
			"support": {Name: "SupportAgent"},
			"legacy":  {Name: "LegacyAgent", Active: config.BoolPtr(false)},
		},
		Tools: map[string]*config.ToolConfig{
			"kb_search": {Kind: config.ToolKindRetrieval},
			"crm":       {Kind: config.ToolKindHTTP, HTTP: &config.HTTPToolConfig{URL: "https://crm.example.com"}},
			"disabled":  {Kind: config.ToolKindRetrieval, Active: config.BoolPtr(false)},
		},
		Tenants: map[string]*config.TenantConfig{
			"acme": {
				Name:         "Acme",
				DefaultAgent: "support",
				Agents:       map[string]bool{"billing": true, "support": true, "legacy": true},
				Tools:        map[string]bool{"kb_search": true, "disabled": true},
			},
			"globex": {
				Name:   "Globex",
				LLM:    "tenant-llm",
				Agents: map[string]bool{"billing": true, "support": false},
				Tools:  map[string]bool{"crm": true},
			},
			"dormant": {
				Name:   "Dormant",
				Active: config.BoolPtr(false),
				Agents: map[string]bool{"billing": true},
				Tools:  map[string]bool{"kb_search": true},
			},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func TestAgentEnabled(t *testing.T) {
	s := NewSnapshot(testConfig())

	assert.True(t, s.AgentEnabled("acme", "billing"))
	assert.True(t, s.AgentEnabled("acme", "support"))

	// Granted but globally inactive.
	assert.False(t, s.AgentEnabled("acme", "legacy"))

	// Explicitly disabled grant.
	assert.False(t, s.AgentEnabled("globex", "support"))

	// No grant at all.
	assert.False(t, s.AgentEnabled("globex", "legacy"))

	// Inactive tenant denies everything.
	assert.False(t, s.AgentEnabled("dormant", "billing"))

	// Unknown tenant or agent.
	assert.False(t, s.AgentEnabled("nobody", "billing"))
	assert.False(t, s.AgentEnabled("acme", "ghost"))
}

func TestToolEnabled(t *testing.T) {
	s := NewSnapshot(testConfig())

	assert.True(t, s.ToolEnabled("acme", "kb_search"))
	assert.False(t, s.ToolEnabled("acme", "disabled"))
	assert.False(t, s.ToolEnabled("acme", "crm"))
	assert.True(t, s.ToolEnabled("globex", "crm"))
	assert.False(t, s.ToolEnabled("dormant", "kb_search"))
}

func TestAgentsForIsSortedAndFiltered(t *testing.T) {
	s := NewSnapshot(testConfig())

	agents := s.AgentsFor("acme")
	require.Len(t, agents, 2)
	assert.Equal(t, "billing", agents[0].ID)
	assert.Equal(t, "support", agents[1].ID)

	assert.Nil(t, s.AgentsFor("dormant"))
	assert.Nil(t, s.AgentsFor("nobody"))
}

func TestDefaultAgent(t *testing.T) {
	s := NewSnapshot(testConfig())

	assert.Equal(t, "support", s.DefaultAgent("acme"))
	assert.Empty(t, s.DefaultAgent("globex"))
	assert.Empty(t, s.DefaultAgent("dormant"))
}

func TestModelForPrecedence(t *testing.T) {
	s := NewSnapshot(testConfig())

	// Tenant override wins.
	assert.Equal(t, "tenant-llm", s.ModelFor("globex", "billing"))

	// Agent default next.
	assert.Equal(t, "agent-llm", s.ModelFor("acme", "billing"))

	// System default last.
	assert.Equal(t, "system-llm", s.ModelFor("acme", "support"))
}

func TestRegistrySwapIsAtomic(t *testing.T) {
	cfg := testConfig()
	reg := NewRegistry(cfg)

	before := reg.Current()
	require.True(t, before.AgentEnabled("acme", "billing"))

	// A request holding the old snapshot is unaffected by the swap.
	updated := testConfig()
	updated.Tenants["acme"].Agents["billing"] = false
	require.NoError(t, reg.Swap(updated))

	assert.True(t, before.AgentEnabled("acme", "billing"))
	assert.False(t, reg.Current().AgentEnabled("acme", "billing"))
}

func TestRegistrySwapRejectsInvalidConfig(t *testing.T) {
	reg := NewRegistry(testConfig())
	before := reg.Current()

	bad := testConfig()
	bad.Tenants["acme"].Agents["ghost"] = true
	require.Error(t, reg.Swap(bad))

	// Failed swap leaves the current snapshot untouched.
	assert.Same(t, before, reg.Current())
}
