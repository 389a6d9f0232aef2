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

	"github.com/kadirpekel/agenthub/pkg/config"
	"github.com/kadirpekel/agenthub/pkg/httpclient"
	"github.com/kadirpekel/agenthub/pkg/observability"
)

const defaultOllamaHost = "http://localhost:11434"

type OllamaProvider struct {
	config     *config.LLMProviderConfig
	baseURL    string
	httpClient *httpclient.Client
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   interface{}     `json:"format,omitempty"` // "json" string or schema object
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

func NewOllamaProviderFromConfig(cfg *config.LLMProviderConfig) (*OllamaProvider, error) {
	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = defaultOllamaHost
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &OllamaProvider{
		config:  cfg,
		baseURL: baseURL,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
		),
	}, nil
}

func (p *OllamaProvider) Generate(ctx context.Context, messages []Message) (*Result, error) {
	return p.generate(ctx, messages, nil)
}

func (p *OllamaProvider) GenerateStructured(ctx context.Context, messages []Message, structConfig *StructuredOutputConfig) (*Result, error) {
	return p.generate(ctx, messages, structConfig)
}

func (p *OllamaProvider) generate(ctx context.Context, messages []Message, structConfig *StructuredOutputConfig) (*Result, error) {
	startTime := time.Now()

	request := p.buildRequest(messages, structConfig)

	response, err := p.makeRequest(ctx, request)
	duration := time.Since(startTime)

	metrics := observability.GetGlobalMetrics()

	if err != nil {
		if metrics != nil {
			metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, err)
		}
		return nil, err
	}

	if response.Error != "" {
		apiErr := &GenerationError{
			Provider:  "ollama",
			Model:     p.config.Model,
			Retryable: false,
			Err:       fmt.Errorf("API error: %s", response.Error),
		}
		if metrics != nil {
			metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, apiErr)
		}
		return nil, apiErr
	}

	if metrics != nil {
		metrics.RecordLLMCall(ctx, p.config.Model, duration, response.PromptEvalCount, response.EvalCount, nil)
	}

	return &Result{
		Text:  response.Message.Content,
		Model: p.config.Model,
		Usage: Usage{
			PromptTokens:     response.PromptEvalCount,
			CompletionTokens: response.EvalCount,
			TotalTokens:      response.PromptEvalCount + response.EvalCount,
		},
	}, nil
}

func (p *OllamaProvider) GetModelName() string {
	return p.config.Model
}

func (p *OllamaProvider) GetMaxTokens() int {
	return p.config.MaxTokens
}

func (p *OllamaProvider) GetTemperature() float64 {
	if p.config.Temperature == nil {
		return 0.0
	}
	return *p.config.Temperature
}

func (p *OllamaProvider) Close() error {
	return nil
}

func (p *OllamaProvider) buildRequest(messages []Message, structConfig *StructuredOutputConfig) ollamaRequest {
	ollamaMessages := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		ollamaMessages = append(ollamaMessages, ollamaMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	request := ollamaRequest{
		Model:    p.config.Model,
		Messages: ollamaMessages,
		Stream:   false,
		Options: &ollamaOptions{
			Temperature: p.GetTemperature(),
			NumPredict:  p.config.MaxTokens,
		},
	}

	if structConfig != nil && structConfig.Format == "json" {
		schema := structConfig.Schema
		if schema == nil && len(structConfig.Enum) > 0 {
			schema = enumSchema(structConfig.Enum)
		}
		if schema != nil {
			// Ollama accepts a JSON schema object as format
			request.Format = schema
		} else {
			request.Format = "json"
		}
	}

	return request
}

func (p *OllamaProvider) makeRequest(ctx context.Context, request ollamaRequest) (*ollamaResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if resp != nil {
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return nil, &GenerationError{
				Provider:   "ollama",
				Model:      p.config.Model,
				StatusCode: resp.StatusCode,
				Retryable:  retryableStatus(resp.StatusCode),
				Err:        fmt.Errorf("API request failed: %s", string(body)),
			}
		}
	}

	if err != nil {
		return nil, &GenerationError{
			Provider:  "ollama",
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

	var response ollamaResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &response, nil
}
