package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/agenthub/pkg/config"
	"github.com/kadirpekel/agenthub/pkg/httpclient"
	"github.com/kadirpekel/agenthub/pkg/observability"
)

const (
	defaultAnthropicHost    = "https://api.anthropic.com"
	anthropicAPIVersion     = "2023-06-01"
	defaultAnthropicTimeout = 120
)

type AnthropicProvider struct {
	config     *config.LLMProviderConfig
	httpClient *httpclient.Client
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewAnthropicProviderFromConfig(cfg *config.LLMProviderConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Anthropic")
	}
	if cfg.Host == "" {
		cfg.Host = defaultAnthropicHost
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultAnthropicTimeout
	}

	return &AnthropicProvider{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
	}, nil
}

func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message) (*Result, error) {
	return p.generate(ctx, messages, nil)
}

// GenerateStructured constrains output via prompt instruction plus an
// assistant prefill. Anthropic has no native response_format; prefilling
// "{" forces JSON continuation, and the brace is re-attached to the
// returned text.
func (p *AnthropicProvider) GenerateStructured(ctx context.Context, messages []Message, structConfig *StructuredOutputConfig) (*Result, error) {
	return p.generate(ctx, messages, structConfig)
}

func (p *AnthropicProvider) generate(ctx context.Context, messages []Message, structConfig *StructuredOutputConfig) (*Result, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("agenthub.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, p.config.Model),
			attribute.String("provider", "anthropic"),
			attribute.Bool("structured", structConfig != nil),
		),
	)
	defer span.End()

	request, prefilled := p.buildRequest(messages, structConfig)

	response, err := p.makeRequest(ctx, request)
	duration := time.Since(startTime)

	metrics := observability.GetGlobalMetrics()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if metrics != nil {
			metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, err)
		}
		return nil, err
	}

	if response.Error != nil {
		apiErr := &GenerationError{
			Provider:  "anthropic",
			Model:     p.config.Model,
			Retryable: response.Error.Type == "overloaded_error",
			Err:       fmt.Errorf("API error: %s", response.Error.Message),
		}
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, response.Error.Message)
		if metrics != nil {
			metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, apiErr)
		}
		return nil, apiErr
	}

	var text strings.Builder
	if prefilled {
		text.WriteString("{")
	}
	for _, content := range response.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}

	span.SetAttributes(
		attribute.Int(observability.AttrLLMTokensInput, response.Usage.InputTokens),
		attribute.Int(observability.AttrLLMTokensOutput, response.Usage.OutputTokens),
	)
	span.SetStatus(codes.Ok, "success")
	if metrics != nil {
		metrics.RecordLLMCall(ctx, p.config.Model, duration, response.Usage.InputTokens, response.Usage.OutputTokens, nil)
	}

	return &Result{
		Text:  text.String(),
		Model: p.config.Model,
		Usage: Usage{
			PromptTokens:     response.Usage.InputTokens,
			CompletionTokens: response.Usage.OutputTokens,
			TotalTokens:      response.Usage.InputTokens + response.Usage.OutputTokens,
		},
	}, nil
}

func (p *AnthropicProvider) GetModelName() string {
	return p.config.Model
}

func (p *AnthropicProvider) GetMaxTokens() int {
	return p.config.MaxTokens
}

func (p *AnthropicProvider) GetTemperature() float64 {
	if p.config.Temperature == nil {
		return 0.0
	}
	return *p.config.Temperature
}

func (p *AnthropicProvider) Close() error {
	return nil
}

func (p *AnthropicProvider) buildRequest(messages []Message, structConfig *StructuredOutputConfig) (anthropicRequest, bool) {
	var systemParts []string
	anthropicMessages := make([]anthropicMessage, 0, len(messages))

	for _, msg := range messages {
		// Anthropic takes system content as a top-level field
		if msg.Role == RoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}

		role := "user"
		if msg.Role == RoleAssistant {
			role = "assistant"
		}
		anthropicMessages = append(anthropicMessages, anthropicMessage{
			Role:    role,
			Content: msg.Content,
		})
	}

	prefilled := false
	if structConfig != nil && structConfig.Format == "json" {
		instruction := "Respond with a single JSON object and nothing else."
		if structConfig.Schema != nil {
			if schemaJSON, err := json.Marshal(structConfig.Schema); err == nil {
				instruction = fmt.Sprintf("Respond with a single JSON object conforming to this JSON Schema and nothing else:\n%s", schemaJSON)
			}
		} else if len(structConfig.Enum) > 0 {
			instruction = fmt.Sprintf("Respond with a single JSON object of the form {\"value\": <choice>} where <choice> is one of: %s. Nothing else.",
				strings.Join(structConfig.Enum, ", "))
		}
		systemParts = append(systemParts, instruction)

		anthropicMessages = append(anthropicMessages, anthropicMessage{
			Role:    "assistant",
			Content: "{",
		})
		prefilled = true
	}

	return anthropicRequest{
		Model:       p.config.Model,
		Messages:    anthropicMessages,
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.GetTemperature(),
		System:      strings.Join(systemParts, "\n\n"),
	}, prefilled
}

func (p *AnthropicProvider) makeRequest(ctx context.Context, request anthropicRequest) (*anthropicResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.config.Host+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.httpClient.Do(req)
	if resp != nil {
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return nil, &GenerationError{
				Provider:   "anthropic",
				Model:      p.config.Model,
				StatusCode: resp.StatusCode,
				Retryable:  retryableStatus(resp.StatusCode),
				Err:        fmt.Errorf("API request failed: %s", string(body)),
			}
		}
	}

	if err != nil {
		return nil, &GenerationError{
			Provider:  "anthropic",
			Model:     p.config.Model,
			Retryable: IsRetryable(err),
			Err:       err,
		}
	}

	if resp == nil {
		return nil, fmt.Errorf("HTTP request failed: no response received")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &response, nil
}
