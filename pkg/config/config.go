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

// Package config defines the declarative configuration model for AgentHub:
// LLM providers, embedders, vector stores, agents, tools, and per-tenant
// permissions. A loaded Config is treated as immutable; reloads produce a
// fresh Config that is swapped in atomically by the tenant snapshot registry.
package config

import (
	"fmt"
)

// Config is the root configuration.
type Config struct {
	Version     string            `yaml:"version,omitempty"`
	Name        string            `yaml:"name,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty"`

	Global GlobalSettings `yaml:"global,omitempty"`

	LLMs      map[string]*LLMProviderConfig      `yaml:"llms,omitempty"`
	Embedders map[string]*EmbedderProviderConfig `yaml:"embedders,omitempty"`

	Vector *VectorConfig `yaml:"vector,omitempty"`

	Agents map[string]*AgentConfig `yaml:"agents,omitempty"`

	Tools map[string]*ToolConfig `yaml:"tools,omitempty"`

	Tenants map[string]*TenantConfig `yaml:"tenants,omitempty"`

	Router RouterConfig `yaml:"router,omitempty"`

	Session SessionConfig `yaml:"session,omitempty"`
}

// GlobalSettings holds process-wide settings.
type GlobalSettings struct {
	Server  ServerConfig  `yaml:"server,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`

	// DefaultLLM names the system-wide default LLM provider. Used when
	// neither the tenant nor the agent names one.
	DefaultLLM string `yaml:"default_llm,omitempty"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
	File   string `yaml:"file,omitempty"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port,omitempty"`
}

// ServerConfig configures the HTTP chat endpoint.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// ReadTimeout/WriteTimeout in seconds.
	ReadTimeout  int `yaml:"read_timeout,omitempty"`
	WriteTimeout int `yaml:"write_timeout,omitempty"`
}

// RouterConfig configures the intent router.
type RouterConfig struct {
	// PromptTemplate overrides the built-in supervisor prompt. It may use
	// {agents_list} and {agent_names} placeholders.
	PromptTemplate string `yaml:"prompt_template,omitempty"`

	// MaxSubIntents caps how many (agent, sub-query) pairs a MULTI decision
	// may carry.
	MaxSubIntents int `yaml:"max_sub_intents,omitempty"`

	// LLM names the provider used for classification. Falls back to the
	// global default when empty.
	LLM string `yaml:"llm,omitempty"`
}

// SessionConfig configures conversation history storage.
type SessionConfig struct {
	// Backend is "memory" or "sql".
	Backend string `yaml:"backend,omitempty"`

	// Dialect for the sql backend: sqlite, postgres, mysql.
	Dialect string `yaml:"dialect,omitempty"`

	// DSN is the database connection string for the sql backend.
	DSN string `yaml:"dsn,omitempty"`

	// WindowSize is the fixed number of recent turns supplied to prompt
	// assembly. The window is a hard bound, not adaptive.
	WindowSize int `yaml:"window_size,omitempty"`
}

// SetDefaults applies default values throughout the tree.
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}

	if c.Global.Server.Host == "" {
		c.Global.Server.Host = "0.0.0.0"
	}
	if c.Global.Server.Port == 0 {
		c.Global.Server.Port = 8080
	}
	if c.Global.Server.ReadTimeout == 0 {
		c.Global.Server.ReadTimeout = 30
	}
	if c.Global.Server.WriteTimeout == 0 {
		c.Global.Server.WriteTimeout = 120
	}
	if c.Global.Logging.Level == "" {
		c.Global.Logging.Level = "info"
	}
	if c.Global.Metrics.Port == 0 {
		c.Global.Metrics.Port = 9090
	}

	if c.Router.MaxSubIntents == 0 {
		c.Router.MaxSubIntents = 4
	}

	if c.Session.Backend == "" {
		c.Session.Backend = "memory"
	}
	if c.Session.WindowSize == 0 {
		c.Session.WindowSize = 20
	}

	for _, llm := range c.LLMs {
		llm.SetDefaults()
	}
	for _, emb := range c.Embedders {
		emb.SetDefaults()
	}
	if c.Vector == nil {
		c.Vector = &VectorConfig{}
	}
	c.Vector.SetDefaults()
	for _, agent := range c.Agents {
		agent.SetDefaults()
	}
	for _, tool := range c.Tools {
		tool.SetDefaults()
	}
	for _, tenant := range c.Tenants {
		tenant.SetDefaults()
	}
}

// Validate checks the whole configuration for consistency.
func (c *Config) Validate() error {
	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llm %q: %w", name, err)
		}
	}
	for name, emb := range c.Embedders {
		if err := emb.Validate(); err != nil {
			return fmt.Errorf("embedder %q: %w", name, err)
		}
	}
	if c.Vector != nil {
		if err := c.Vector.Validate(); err != nil {
			return fmt.Errorf("vector: %w", err)
		}
		if c.Vector.Embedder != "" {
			if _, ok := c.Embedders[c.Vector.Embedder]; !ok {
				return fmt.Errorf("vector references unknown embedder %q", c.Vector.Embedder)
			}
		}
	}
	for name, tool := range c.Tools {
		if err := tool.Validate(); err != nil {
			return fmt.Errorf("tool %q: %w", name, err)
		}
	}
	for name, agent := range c.Agents {
		if err := agent.Validate(); err != nil {
			return fmt.Errorf("agent %q: %w", name, err)
		}
		if agent.LLM != "" {
			if _, ok := c.LLMs[agent.LLM]; !ok {
				return fmt.Errorf("agent %q references unknown llm %q", name, agent.LLM)
			}
		}
		for _, ref := range agent.Tools {
			if _, ok := c.Tools[ref.ID]; !ok {
				return fmt.Errorf("agent %q references unknown tool %q", name, ref.ID)
			}
		}
	}
	for name, tenant := range c.Tenants {
		if err := tenant.Validate(); err != nil {
			return fmt.Errorf("tenant %q: %w", name, err)
		}
		if tenant.DefaultAgent != "" {
			if _, ok := c.Agents[tenant.DefaultAgent]; !ok {
				return fmt.Errorf("tenant %q default_agent references unknown agent %q", name, tenant.DefaultAgent)
			}
		}
		if tenant.LLM != "" {
			if _, ok := c.LLMs[tenant.LLM]; !ok {
				return fmt.Errorf("tenant %q references unknown llm %q", name, tenant.LLM)
			}
		}
		for agentID := range tenant.Agents {
			if _, ok := c.Agents[agentID]; !ok {
				return fmt.Errorf("tenant %q grants unknown agent %q", name, agentID)
			}
		}
		for toolID := range tenant.Tools {
			if _, ok := c.Tools[toolID]; !ok {
				return fmt.Errorf("tenant %q grants unknown tool %q", name, toolID)
			}
		}
	}
	if c.Global.DefaultLLM != "" {
		if _, ok := c.LLMs[c.Global.DefaultLLM]; !ok {
			return fmt.Errorf("global default_llm references unknown llm %q", c.Global.DefaultLLM)
		}
	}
	if c.Router.LLM != "" {
		if _, ok := c.LLMs[c.Router.LLM]; !ok {
			return fmt.Errorf("router references unknown llm %q", c.Router.LLM)
		}
	}
	switch c.Session.Backend {
	case "memory":
	case "sql":
		if c.Session.DSN == "" {
			return fmt.Errorf("session backend %q requires dsn", c.Session.Backend)
		}
		switch c.Session.Dialect {
		case "sqlite", "postgres", "mysql":
		default:
			return fmt.Errorf("unsupported session dialect %q (supported: sqlite, postgres, mysql)", c.Session.Dialect)
		}
	default:
		return fmt.Errorf("unsupported session backend %q (supported: memory, sql)", c.Session.Backend)
	}
	return nil
}

// BoolPtr returns a pointer to the given bool.
func BoolPtr(b bool) *bool { return &b }

// Float64Ptr returns a pointer to the given float64.
func Float64Ptr(f float64) *float64 { return &f }
