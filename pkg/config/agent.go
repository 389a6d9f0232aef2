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

package config

import "fmt"

// OutputFormat identifies how an agent's answer is post-processed.
type OutputFormat string

const (
	// OutputFormatText returns the generation output as-is.
	OutputFormatText OutputFormat = "text"

	// OutputFormatJSON requires the generation output to be a JSON object
	// and re-serializes it canonically.
	OutputFormatJSON OutputFormat = "json"
)

// AgentToolRef binds a tool to an agent with an execution priority.
// Higher priority tools run first.
type AgentToolRef struct {
	ID       string `yaml:"id"`
	Priority int    `yaml:"priority,omitempty"`
}

// AgentConfig defines one domain agent. Read-only at runtime; the tenant
// snapshot decides which tenants may invoke it.
type AgentConfig struct {
	// Name is the display name presented to the router (e.g. "BillingAgent").
	Name string `yaml:"name,omitempty"`

	// Description tells the router what class of questions this agent handles.
	Description string `yaml:"description,omitempty"`

	// Active gates the agent globally, independent of tenant permissions.
	Active *bool `yaml:"active,omitempty"`

	// LLM names the provider used for this agent's generation step.
	// Resolution precedence is tenant override > this field > global default.
	LLM string `yaml:"llm,omitempty"`

	// PromptTemplate is the system prompt. It may use {tenant}, {context},
	// and {entities} placeholders.
	PromptTemplate string `yaml:"prompt_template,omitempty"`

	// Tools this agent may execute, with priorities.
	Tools []AgentToolRef `yaml:"tools,omitempty"`

	// ExtractEntities enables the optional entity-extraction call before
	// tool execution.
	ExtractEntities bool `yaml:"extract_entities,omitempty"`

	// Output selects the answer post-processing.
	Output OutputFormat `yaml:"output,omitempty"`
}

// SetDefaults applies default values.
func (c *AgentConfig) SetDefaults() {
	if c.Active == nil {
		c.Active = BoolPtr(true)
	}
	if c.Output == "" {
		c.Output = OutputFormatText
	}
	for i := range c.Tools {
		if c.Tools[i].Priority == 0 {
			c.Tools[i].Priority = 1
		}
	}
}

// Validate checks the agent configuration.
func (c *AgentConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch c.Output {
	case OutputFormatText, OutputFormatJSON:
	default:
		return fmt.Errorf("invalid output %q (valid: text, json)", c.Output)
	}
	seen := make(map[string]bool, len(c.Tools))
	for _, ref := range c.Tools {
		if ref.ID == "" {
			return fmt.Errorf("tool ref requires id")
		}
		if seen[ref.ID] {
			return fmt.Errorf("duplicate tool ref %q", ref.ID)
		}
		seen[ref.ID] = true
	}
	return nil
}

// IsActive reports whether the agent is globally active.
func (c *AgentConfig) IsActive() bool {
	return c.Active == nil || *c.Active
}
