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

// TenantConfig defines one tenant and its permission grants. Anything not
// explicitly enabled here is denied: an agent or tool is invocable for a
// tenant only when it is globally active AND enabled below.
type TenantConfig struct {
	// Name is the tenant's display name.
	Name string `yaml:"name,omitempty"`

	// Active gates the whole tenant.
	Active *bool `yaml:"active,omitempty"`

	// LLM overrides the model used for this tenant's generation calls.
	// Highest precedence in model resolution.
	LLM string `yaml:"llm,omitempty"`

	// DefaultAgent receives the request when routing fails twice.
	DefaultAgent string `yaml:"default_agent,omitempty"`

	// Agents maps agent id -> enabled.
	Agents map[string]bool `yaml:"agents,omitempty"`

	// Tools maps tool id -> enabled.
	Tools map[string]bool `yaml:"tools,omitempty"`
}

// SetDefaults applies default values.
func (c *TenantConfig) SetDefaults() {
	if c.Active == nil {
		c.Active = BoolPtr(true)
	}
}

// Validate checks the tenant configuration.
func (c *TenantConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.DefaultAgent != "" && !c.Agents[c.DefaultAgent] {
		return fmt.Errorf("default_agent %q is not enabled for this tenant", c.DefaultAgent)
	}
	return nil
}

// IsActive reports whether the tenant is active.
func (c *TenantConfig) IsActive() bool {
	return c.Active == nil || *c.Active
}
