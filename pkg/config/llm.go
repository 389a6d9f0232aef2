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

import (
	"fmt"
	"os"
)

// LLMProviderConfig configures one LLM provider instance.
type LLMProviderConfig struct {
	// Type of provider (openai, anthropic, gemini, ollama).
	Type string `yaml:"type,omitempty" jsonschema:"enum=openai,enum=anthropic,enum=gemini,enum=ollama"`

	// Model name (e.g., "gpt-4o-mini", "claude-sonnet-4-20250514").
	Model string `yaml:"model,omitempty"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty"`

	// Host overrides the default API endpoint.
	Host string `yaml:"host,omitempty"`

	// Temperature for generation.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// Timeout for one generation call, in seconds.
	Timeout int `yaml:"timeout,omitempty"`

	// MaxRetries bounds transient-failure retries. The pipeline requires
	// exactly one bounded retry; values above 1 are clamped.
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// SetDefaults applies default values.
func (c *LLMProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		switch c.Type {
		case "openai":
			c.Model = "gpt-4o-mini"
		case "anthropic":
			c.Model = "claude-sonnet-4-20250514"
		case "gemini":
			c.Model = "gemini-2.0-flash"
		case "ollama":
			c.Model = "llama3.2"
		}
	}
	if c.APIKey == "" {
		c.APIKey = apiKeyFromEnv(c.Type)
	}
	if c.Temperature == nil {
		c.Temperature = Float64Ptr(0.0)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 1
	}
	if c.MaxRetries > 1 {
		c.MaxRetries = 1
	}
}

// Validate checks the LLM configuration.
func (c *LLMProviderConfig) Validate() error {
	switch c.Type {
	case "openai", "anthropic", "gemini", "ollama":
	default:
		return fmt.Errorf("invalid type %q (valid: openai, anthropic, gemini, ollama)", c.Type)
	}

	// Ollama doesn't require an API key
	if c.Type != "ollama" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for type %q", c.Type)
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	return nil
}

func apiKeyFromEnv(providerType string) string {
	switch providerType {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini":
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}

// EmbedderProviderConfig configures one embedding provider instance.
type EmbedderProviderConfig struct {
	// Type of provider (openai, ollama).
	Type string `yaml:"type,omitempty" jsonschema:"enum=openai,enum=ollama"`

	// Model name (e.g., "text-embedding-3-small").
	Model string `yaml:"model,omitempty"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty"`

	// Host overrides the default API endpoint.
	Host string `yaml:"host,omitempty"`

	// Dimension of produced vectors. Must match the dimension of stored
	// knowledge chunks; retrieval rejects mismatches.
	Dimension int `yaml:"dimension,omitempty"`

	// Timeout for one embedding call, in seconds.
	Timeout int `yaml:"timeout,omitempty"`
}

// SetDefaults applies default values.
func (c *EmbedderProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		switch c.Type {
		case "openai":
			c.Model = "text-embedding-3-small"
		case "ollama":
			c.Model = "nomic-embed-text"
		}
	}
	if c.APIKey == "" && c.Type == "openai" {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Dimension == 0 {
		switch c.Model {
		case "text-embedding-3-large":
			c.Dimension = 3072
		case "nomic-embed-text":
			c.Dimension = 768
		default:
			c.Dimension = 1536
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
}

// Validate checks the embedder configuration.
func (c *EmbedderProviderConfig) Validate() error {
	switch c.Type {
	case "openai", "ollama":
	default:
		return fmt.Errorf("invalid type %q (valid: openai, ollama)", c.Type)
	}
	if c.Type == "openai" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for type %q", c.Type)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive")
	}
	return nil
}

// VectorConfig configures the knowledge chunk store.
type VectorConfig struct {
	// Type of provider (chromem, qdrant, pinecone).
	Type string `yaml:"type,omitempty" jsonschema:"enum=chromem,enum=qdrant,enum=pinecone"`

	// Collection holds all tenants' chunks; isolation is by tenant_id
	// query scoping, never by collection-per-tenant.
	Collection string `yaml:"collection,omitempty"`

	// Embedder names the embedding provider used for retrieval queries.
	// Falls back to the only configured embedder when empty.
	Embedder string `yaml:"embedder,omitempty"`

	// Chromem settings.
	PersistPath string `yaml:"persist_path,omitempty"`
	Compress    bool   `yaml:"compress,omitempty"`

	// Qdrant settings.
	Host   string `yaml:"host,omitempty"`
	Port   int    `yaml:"port,omitempty"`
	UseTLS bool   `yaml:"use_tls,omitempty"`

	// Pinecone settings.
	APIKey    string `yaml:"api_key,omitempty"`
	IndexHost string `yaml:"index_host,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// SetDefaults applies default values.
func (c *VectorConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Collection == "" {
		c.Collection = "knowledge_chunks"
	}
	if c.Type == "qdrant" {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 6334
		}
	}
}

// Validate checks the vector store configuration.
func (c *VectorConfig) Validate() error {
	switch c.Type {
	case "chromem":
		return nil
	case "qdrant":
		if c.Host == "" {
			return fmt.Errorf("qdrant host is required")
		}
		return nil
	case "pinecone":
		if c.APIKey == "" {
			return fmt.Errorf("pinecone api_key is required")
		}
		if c.IndexHost == "" {
			return fmt.Errorf("pinecone index_host is required")
		}
		return nil
	case "":
		return fmt.Errorf("provider type is required")
	default:
		return fmt.Errorf("unknown provider type: %q", c.Type)
	}
}
