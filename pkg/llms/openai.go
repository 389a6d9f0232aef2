package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/agenthub/pkg/config"
	"github.com/kadirpekel/agenthub/pkg/httpclient"
	"github.com/kadirpekel/agenthub/pkg/observability"
)

const defaultOpenAIHost = "https://api.openai.com/v1"

type OpenAIProvider struct {
	config     *config.LLMProviderConfig
	httpClient *httpclient.Client
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	MaxTokens      *int                  `json:"max_tokens,omitempty"`
	Temperature    float64               `json:"temperature"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openAIJSONSchema `json:"json_schema,omitempty"`
}

type openAIJSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict,omitempty"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func NewOpenAIProviderFromConfig(cfg *config.LLMProviderConfig) (*OpenAIProvider, error) {
	if cfg.Host == "" {
		cfg.Host = defaultOpenAIHost
	}

	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	)

	return &OpenAIProvider{
		config:     cfg,
		httpClient: httpClient,
	}, nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message) (*Result, error) {
	return p.generate(ctx, messages, nil)
}

func (p *OpenAIProvider) GenerateStructured(ctx context.Context, messages []Message, structConfig *StructuredOutputConfig) (*Result, error) {
	return p.generate(ctx, messages, structConfig)
}

func (p *OpenAIProvider) generate(ctx context.Context, messages []Message, structConfig *StructuredOutputConfig) (*Result, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("agenthub.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, p.config.Model),
			attribute.String("provider", "openai"),
			attribute.Bool("structured", structConfig != nil),
		),
	)
	defer span.End()

	request := p.buildRequest(messages, structConfig)

	response, err := p.makeRequest(ctx, request)
	duration := time.Since(startTime)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.recordMetrics(ctx, duration, openAIUsage{}, err)
		return nil, err
	}

	if response.Error != nil {
		apiErr := &GenerationError{
			Provider:  "openai",
			Model:     p.config.Model,
			Retryable: false,
			Err:       fmt.Errorf("API error: %s", response.Error.Message),
		}
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, response.Error.Message)
		p.recordMetrics(ctx, duration, openAIUsage{}, apiErr)
		return nil, apiErr
	}

	if len(response.Choices) == 0 {
		noChoiceErr := &GenerationError{
			Provider:  "openai",
			Model:     p.config.Model,
			Retryable: true,
			Err:       fmt.Errorf("no response choices returned"),
		}
		span.RecordError(noChoiceErr)
		span.SetStatus(codes.Error, "no choices")
		p.recordMetrics(ctx, duration, openAIUsage{}, noChoiceErr)
		return nil, noChoiceErr
	}

	choice := response.Choices[0]

	span.SetAttributes(
		attribute.Int(observability.AttrLLMTokensInput, response.Usage.PromptTokens),
		attribute.Int(observability.AttrLLMTokensOutput, response.Usage.CompletionTokens),
	)
	span.SetStatus(codes.Ok, "success")
	p.recordMetrics(ctx, duration, response.Usage, nil)

	return &Result{
		Text:  choice.Message.Content,
		Model: p.config.Model,
		Usage: Usage{
			PromptTokens:     response.Usage.PromptTokens,
			CompletionTokens: response.Usage.CompletionTokens,
			TotalTokens:      response.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenAIProvider) recordMetrics(ctx context.Context, duration time.Duration, usage openAIUsage, err error) {
	metrics := observability.GetGlobalMetrics()
	if metrics != nil {
		metrics.RecordLLMCall(ctx, p.config.Model, duration, usage.PromptTokens, usage.CompletionTokens, err)
	}
}

func (p *OpenAIProvider) GetModelName() string {
	return p.config.Model
}

func (p *OpenAIProvider) GetMaxTokens() int {
	return p.config.MaxTokens
}

func (p *OpenAIProvider) GetTemperature() float64 {
	if p.config.Temperature == nil {
		return 0.0
	}
	return *p.config.Temperature
}

func (p *OpenAIProvider) Close() error {
	return nil
}

func (p *OpenAIProvider) buildRequest(messages []Message, structConfig *StructuredOutputConfig) openAIRequest {
	openaiMessages := make([]openAIMessage, 0, len(messages))
	for _, msg := range messages {
		openaiMessages = append(openaiMessages, openAIMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	request := openAIRequest{
		Model:       p.config.Model,
		Messages:    openaiMessages,
		Temperature: p.GetTemperature(),
	}

	if p.config.MaxTokens > 0 {
		maxTokens := p.config.MaxTokens
		request.MaxTokens = &maxTokens
	}

	if structConfig != nil && structConfig.Format == "json" {
		schema := structConfig.Schema
		if schema == nil && len(structConfig.Enum) > 0 {
			schema = enumSchema(structConfig.Enum)
		}

		if schema != nil {
			request.ResponseFormat = &openAIResponseFormat{
				Type: "json_schema",
				JSONSchema: &openAIJSONSchema{
					Name:   "response",
					Schema: schema,
					Strict: true,
				},
			}
		} else {
			request.ResponseFormat = &openAIResponseFormat{
				Type: "json_object",
			}
		}
	}

	return request
}

func (p *OpenAIProvider) makeRequest(ctx context.Context, request openAIRequest) (*openAIResponse, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.config.Host+"/chat/completions", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if resp != nil {
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return nil, &GenerationError{
				Provider:   "openai",
				Model:      p.config.Model,
				StatusCode: resp.StatusCode,
				Retryable:  retryableStatus(resp.StatusCode),
				Err:        fmt.Errorf("API request failed: %s", string(body)),
			}
		}
	}

	if err != nil {
		return nil, &GenerationError{
			Provider:  "openai",
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

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &response, nil
}

// enumSchema builds a minimal object schema constraining a single
// "value" property to the given choices. Used by providers without a
// native enum output mode.
func enumSchema(values []string) map[string]any {
	enumVals := make([]any, len(values))
	for i, v := range values {
		enumVals[i] = v
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value": map[string]any{
				"type": "string",
				"enum": enumVals,
			},
		},
		"required":             []any{"value"},
		"additionalProperties": false,
	}
}
