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

// Package tenant holds the immutable permission snapshot the pipeline
// consults on every agent selection and tool execution. A snapshot is
// built once from a loaded configuration and never mutated; reloads
// swap in a fresh snapshot atomically while in-flight requests keep the
// one they started with.
package tenant

import (
	"sort"

	"github.com/kadirpekel/agenthub/pkg/config"
)

// Agent pairs an agent id with its definition.
type Agent struct {
	ID     string
	Config *config.AgentConfig
}

// Snapshot is a read-only view of agents, tools, and tenant grants.
type Snapshot struct {
	agents     map[string]*config.AgentConfig
	tools      map[string]*config.ToolConfig
	tenants    map[string]*config.TenantConfig
	defaultLLM string
}

// NewSnapshot builds a snapshot from a loaded configuration. The config
// is treated as frozen from this point on.
func NewSnapshot(cfg *config.Config) *Snapshot {
	s := &Snapshot{
		agents:  make(map[string]*config.AgentConfig, len(cfg.Agents)),
		tools:   make(map[string]*config.ToolConfig, len(cfg.Tools)),
		tenants: make(map[string]*config.TenantConfig, len(cfg.Tenants)),
	}
	for id, agent := range cfg.Agents {
		s.agents[id] = agent
	}
	for id, tool := range cfg.Tools {
		s.tools[id] = tool
	}
	for id, tenant := range cfg.Tenants {
		s.tenants[id] = tenant
	}
	s.defaultLLM = cfg.Global.DefaultLLM
	return s
}

// TenantActive reports whether the tenant exists and is active.
func (s *Snapshot) TenantActive(tenantID string) bool {
	t, ok := s.tenants[tenantID]
	return ok && t.IsActive()
}

// Agent returns an agent definition by id.
func (s *Snapshot) Agent(agentID string) (*config.AgentConfig, bool) {
	agent, ok := s.agents[agentID]
	return agent, ok
}

// Tool returns a tool definition by id.
func (s *Snapshot) Tool(toolID string) (*config.ToolConfig, bool) {
	tool, ok := s.tools[toolID]
	return tool, ok
}

// AgentEnabled reports whether the agent may be invoked for the tenant:
// the tenant is active, the agent is globally active, and the tenant
// grants it.
func (s *Snapshot) AgentEnabled(tenantID, agentID string) bool {
	t, ok := s.tenants[tenantID]
	if !ok || !t.IsActive() {
		return false
	}
	agent, ok := s.agents[agentID]
	if !ok || !agent.IsActive() {
		return false
	}
	return t.Agents[agentID]
}

// ToolEnabled reports whether the tool may be executed for the tenant.
// Same gate as AgentEnabled: tenant active, tool active, tenant grant.
func (s *Snapshot) ToolEnabled(tenantID, toolID string) bool {
	t, ok := s.tenants[tenantID]
	if !ok || !t.IsActive() {
		return false
	}
	tool, ok := s.tools[toolID]
	if !ok || !tool.IsActive() {
		return false
	}
	return t.Tools[toolID]
}

// AgentsFor returns the tenant's enabled agents sorted by id, for a
// deterministic candidate order in the routing prompt.
func (s *Snapshot) AgentsFor(tenantID string) []Agent {
	t, ok := s.tenants[tenantID]
	if !ok || !t.IsActive() {
		return nil
	}

	agents := make([]Agent, 0, len(t.Agents))
	for agentID, enabled := range t.Agents {
		if !enabled {
			continue
		}
		agent, ok := s.agents[agentID]
		if !ok || !agent.IsActive() {
			continue
		}
		agents = append(agents, Agent{ID: agentID, Config: agent})
	}

	sort.Slice(agents, func(i, j int) bool {
		return agents[i].ID < agents[j].ID
	})
	return agents
}

// DefaultAgent returns the tenant's fallback agent id, or "" when the
// tenant has none (or the agent is no longer enabled).
func (s *Snapshot) DefaultAgent(tenantID string) string {
	t, ok := s.tenants[tenantID]
	if !ok || !t.IsActive() {
		return ""
	}
	if t.DefaultAgent == "" || !s.AgentEnabled(tenantID, t.DefaultAgent) {
		return ""
	}
	return t.DefaultAgent
}

// ModelFor resolves the LLM provider name for one generation call.
// Precedence: tenant override, then agent default, then system default.
// Returns "" when nothing is configured.
func (s *Snapshot) ModelFor(tenantID, agentID string) string {
	if t, ok := s.tenants[tenantID]; ok && t.LLM != "" {
		return t.LLM
	}
	if agent, ok := s.agents[agentID]; ok && agent.LLM != "" {
		return agent.LLM
	}
	return s.defaultLLM
}

// TenantOverride returns the tenant's LLM override, or "".
func (s *Snapshot) TenantOverride(tenantID string) string {
	if t, ok := s.tenants[tenantID]; ok {
		return t.LLM
	}
	return ""
}
