// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llms

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/kadirpekel/agenthub/pkg/config"
	"github.com/kadirpekel/agenthub/pkg/observability"
)

// GeminiProvider uses the official google.golang.org/genai SDK.
type GeminiProvider struct {
	client *genai.Client
	config *config.LLMProviderConfig
}

func NewGeminiProviderFromConfig(cfg *config.LLMProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Gemini")
	}

	// Constructors shouldn't require context
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		client: client,
		config: cfg,
	}, nil
}

func (p *GeminiProvider) Generate(ctx context.Context, messages []Message) (*Result, error) {
	return p.generate(ctx, messages, nil)
}

func (p *GeminiProvider) GenerateStructured(ctx context.Context, messages []Message, structConfig *StructuredOutputConfig) (*Result, error) {
	return p.generate(ctx, messages, structConfig)
}

func (p *GeminiProvider) generate(ctx context.Context, messages []Message, structConfig *StructuredOutputConfig) (*Result, error) {
	startTime := time.Now()

	contents, systemInstruction := buildGeminiContents(messages)
	genConfig := p.buildConfig(systemInstruction, structConfig)

	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.config.Timeout)*time.Second)
		defer cancel()
	}

	genResp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, genConfig)
	duration := time.Since(startTime)

	metrics := observability.GetGlobalMetrics()

	if err != nil {
		genErr := &GenerationError{
			Provider:  "gemini",
			Model:     p.config.Model,
			Retryable: IsRetryable(err),
			Err:       err,
		}
		if metrics != nil {
			metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, genErr)
		}
		return nil, genErr
	}

	if len(genResp.Candidates) == 0 {
		emptyErr := &GenerationError{
			Provider:  "gemini",
			Model:     p.config.Model,
			Retryable: true,
			Err:       fmt.Errorf("empty response"),
		}
		if metrics != nil {
			metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, emptyErr)
		}
		return nil, emptyErr
	}

	var text strings.Builder
	candidate := genResp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
		}
	}

	usage := Usage{}
	if genResp.UsageMetadata != nil {
		usage = Usage{
			PromptTokens:     int(genResp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(genResp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(genResp.UsageMetadata.TotalTokenCount),
		}
	}

	if metrics != nil {
		metrics.RecordLLMCall(ctx, p.config.Model, duration, usage.PromptTokens, usage.CompletionTokens, nil)
	}

	return &Result{
		Text:  text.String(),
		Model: p.config.Model,
		Usage: usage,
	}, nil
}

func (p *GeminiProvider) GetModelName() string {
	return p.config.Model
}

func (p *GeminiProvider) GetMaxTokens() int {
	return p.config.MaxTokens
}

func (p *GeminiProvider) GetTemperature() float64 {
	if p.config.Temperature == nil {
		return 0.0
	}
	return *p.config.Temperature
}

func (p *GeminiProvider) Close() error {
	return nil
}

func buildGeminiContents(messages []Message) ([]*genai.Content, *genai.Content) {
	var systemParts []string
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == RoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}

		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	var systemInstruction *genai.Content
	if len(systemParts) > 0 {
		systemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(systemParts, "\n\n")}},
		}
	}

	return contents, systemInstruction
}

func (p *GeminiProvider) buildConfig(systemInstruction *genai.Content, structConfig *StructuredOutputConfig) *genai.GenerateContentConfig {
	genConfig := &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
	}

	if p.config.Temperature != nil {
		genConfig.Temperature = genai.Ptr(float32(*p.config.Temperature))
	}
	if p.config.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(p.config.MaxTokens)
	}

	if structConfig != nil && structConfig.Format == "json" {
		schema := structConfig.Schema
		if schema == nil && len(structConfig.Enum) > 0 {
			schema = enumSchema(structConfig.Enum)
		}
		genConfig.ResponseMIMEType = "application/json"
		if schema != nil {
			genConfig.ResponseSchema = toGenaiSchema(schema)
		}
	}

	return genConfig
}

// toGenaiSchema converts a JSON schema map to the SDK's schema type.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	s := &genai.Schema{}

	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}

	return s
}
