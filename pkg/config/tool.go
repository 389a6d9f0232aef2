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

// ToolKind identifies the tool kind.
type ToolKind string

const (
	// ToolKindRetrieval searches the tenant's knowledge base.
	ToolKindRetrieval ToolKind = "retrieval"

	// ToolKindHTTP calls an external endpoint built from a templated
	// configuration ("remote-call").
	ToolKindHTTP ToolKind = "http"

	// ToolKindCustom invokes a pre-registered local capability by handler id.
	ToolKindCustom ToolKind = "custom"
)

// ToolConfig configures a tool.
type ToolConfig struct {
	// Kind of tool (retrieval, http, custom).
	Kind ToolKind `yaml:"kind,omitempty" jsonschema:"enum=retrieval,enum=http,enum=custom"`

	// Description of the tool.
	Description string `yaml:"description,omitempty"`

	// Active gates the tool globally, independent of tenant permissions.
	Active *bool `yaml:"active,omitempty"`

	// InputSchema is a JSON Schema the raw input is validated against
	// before dispatch. Empty means any input is accepted.
	InputSchema map[string]any `yaml:"input_schema,omitempty"`

	// Timeout for one execution, in seconds.
	Timeout int `yaml:"timeout,omitempty"`

	// Retrieval configuration (kind: retrieval).
	Retrieval *RetrievalToolConfig `yaml:"retrieval,omitempty"`

	// HTTP configuration (kind: http).
	HTTP *HTTPToolConfig `yaml:"http,omitempty"`

	// Custom configuration (kind: custom).
	Custom *CustomToolConfig `yaml:"custom,omitempty"`
}

// RetrievalToolConfig configures a retrieval tool.
type RetrievalToolConfig struct {
	// TopK is the result-count bound.
	TopK int `yaml:"top_k,omitempty"`

	// MinSimilarity is the similarity cutoff in [0, 1].
	MinSimilarity float32 `yaml:"min_similarity,omitempty"`
}

// HTTPToolConfig configures a remote-call tool.
type HTTPToolConfig struct {
	// URL of the endpoint. May use {param} placeholders filled from input
	// and extracted entities.
	URL string `yaml:"url"`

	// Method defaults to GET, or POST when a body template is set.
	Method string `yaml:"method,omitempty"`

	// Headers sent with the request. Values support {param} placeholders.
	Headers map[string]string `yaml:"headers,omitempty"`

	// BodyTemplate is a JSON body with {param} placeholders.
	BodyTemplate string `yaml:"body_template,omitempty"`

	// BreakerMaxFailures is the consecutive-failure count that opens the
	// circuit. Zero keeps the default.
	BreakerMaxFailures uint32 `yaml:"breaker_max_failures,omitempty"`

	// BreakerTimeout is how long the circuit stays open, in seconds.
	BreakerTimeout int `yaml:"breaker_timeout,omitempty"`
}

// CustomToolConfig configures a custom tool.
type CustomToolConfig struct {
	// Handler is the identifier of a pre-registered local capability.
	Handler string `yaml:"handler"`
}

// SetDefaults applies default values.
func (c *ToolConfig) SetDefaults() {
	if c.Kind == "" {
		c.Kind = ToolKindRetrieval
	}
	if c.Active == nil {
		c.Active = BoolPtr(true)
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.Kind == ToolKindRetrieval {
		if c.Retrieval == nil {
			c.Retrieval = &RetrievalToolConfig{}
		}
		if c.Retrieval.TopK == 0 {
			c.Retrieval.TopK = 5
		}
		if c.Retrieval.MinSimilarity == 0 {
			c.Retrieval.MinSimilarity = 0.7
		}
	}
	if c.Kind == ToolKindHTTP && c.HTTP != nil && c.HTTP.Method == "" {
		if c.HTTP.BodyTemplate != "" {
			c.HTTP.Method = "POST"
		} else {
			c.HTTP.Method = "GET"
		}
	}
}

// Validate checks the tool configuration.
func (c *ToolConfig) Validate() error {
	switch c.Kind {
	case ToolKindRetrieval:
		if c.Retrieval == nil {
			return fmt.Errorf("retrieval configuration is required")
		}
		if c.Retrieval.TopK < 1 {
			return fmt.Errorf("top_k must be at least 1")
		}
		if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
			return fmt.Errorf("min_similarity must be in [0, 1]")
		}
	case ToolKindHTTP:
		if c.HTTP == nil || c.HTTP.URL == "" {
			return fmt.Errorf("http url is required")
		}
	case ToolKindCustom:
		if c.Custom == nil || c.Custom.Handler == "" {
			return fmt.Errorf("custom handler is required")
		}
	default:
		return fmt.Errorf("invalid kind %q (valid: retrieval, http, custom)", c.Kind)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	return nil
}

// IsActive reports whether the tool is globally active.
func (c *ToolConfig) IsActive() bool {
	return c.Active == nil || *c.Active
}
