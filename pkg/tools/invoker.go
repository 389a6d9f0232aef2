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

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/agenthub/pkg/config"
	"github.com/kadirpekel/agenthub/pkg/observability"
	"github.com/kadirpekel/agenthub/pkg/rag"
)

const (
	defaultToolTimeout = 30 * time.Second

	maxResponseBody = 1 << 20

	defaultBreakerMaxFailures uint32 = 5

	defaultBreakerTimeout = 30 * time.Second
)

// Searcher is the retrieval capability the invoker delegates to.
// Satisfied by rag.Engine.
type Searcher interface {
	Search(ctx context.Context, query, tenantID string, topK int, minSimilarity float32) (rag.Result, error)
}

// PermissionChecker answers the call-time permission recheck.
// Satisfied by tenant.Snapshot.
type PermissionChecker interface {
	ToolEnabled(tenantID, toolID string) bool
}

// Request describes one tool call.
type Request struct {
	TenantID   string
	ToolID     string
	Definition *config.ToolConfig
	Input      map[string]any

	// Permissions is rechecked at call time, independent of any
	// filtering the executor already did.
	Permissions PermissionChecker
}

// Invoker validates and executes single tool calls.
type Invoker struct {
	searcher   Searcher
	handlers   *HandlerRegistry
	httpClient *http.Client
	logger     *slog.Logger

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema

	breakerMu sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker[string]
}

// InvokerOption configures the invoker.
type InvokerOption func(*Invoker)

// WithHTTPClient sets the client used by remote-call tools.
func WithHTTPClient(client *http.Client) InvokerOption {
	return func(inv *Invoker) {
		inv.httpClient = client
	}
}

// NewInvoker creates a tool invoker.
func NewInvoker(searcher Searcher, handlers *HandlerRegistry, opts ...InvokerOption) *Invoker {
	inv := &Invoker{
		searcher:   searcher,
		handlers:   handlers,
		httpClient: &http.Client{},
		logger:     slog.Default().With("component", "tools"),
		schemas:    make(map[string]*jsonschema.Schema),
		breakers:   make(map[string]*gobreaker.CircuitBreaker[string]),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Execute runs one tool call end to end. It always returns exactly one
// result; panics, timeouts, and remote failures all map to statuses.
func (inv *Invoker) Execute(ctx context.Context, req Request) ExecutionResult {
	start := time.Now()

	tracer := observability.GetTracer("agenthub.tools")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrToolName, req.ToolID),
			attribute.String(observability.AttrTenantID, req.TenantID),
		))
	defer span.End()

	result := inv.execute(ctx, req)
	result.ToolID = req.ToolID
	result.Latency = time.Since(start)

	observability.GetGlobalMetrics().RecordToolExecution(ctx, req.ToolID, string(result.Status), result.Latency)

	if result.Status != StatusOK {
		inv.logger.Warn("tool execution did not succeed",
			"tool", req.ToolID,
			"tenant_id", req.TenantID,
			"status", result.Status,
			"error", result.Error)
	}
	return result
}

func (inv *Invoker) execute(ctx context.Context, req Request) (result ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = ExecutionResult{
				Status: StatusExecutionError,
				Error:  fmt.Sprintf("tool panicked: %v", r),
			}
		}
	}()

	if req.Definition == nil {
		return ExecutionResult{
			Status: StatusExecutionError,
			Error:  "tool definition is missing",
		}
	}

	if err := inv.validateInput(req.ToolID, req.Definition, req.Input); err != nil {
		return ExecutionResult{
			Status: StatusValidationError,
			Error:  err.Error(),
		}
	}

	if req.Permissions != nil && !req.Permissions.ToolEnabled(req.TenantID, req.ToolID) {
		return ExecutionResult{
			Status: StatusExecutionError,
			Error:  fmt.Sprintf("tool %q is not permitted for tenant %q", req.ToolID, req.TenantID),
		}
	}

	timeout := defaultToolTimeout
	if req.Definition.Timeout > 0 {
		timeout = time.Duration(req.Definition.Timeout) * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch req.Definition.Kind {
	case config.ToolKindRetrieval:
		result = inv.executeRetrieval(callCtx, req)
	case config.ToolKindHTTP:
		result = inv.executeHTTP(callCtx, req)
	case config.ToolKindCustom:
		result = inv.executeCustom(callCtx, req)
	default:
		result = ExecutionResult{
			Status: StatusExecutionError,
			Error:  fmt.Sprintf("unknown tool kind %q", req.Definition.Kind),
		}
	}

	if result.Status == StatusExecutionError && errors.Is(result.Cause, context.DeadlineExceeded) {
		result.Error = fmt.Sprintf("tool timed out after %s", timeout)
	}
	return result
}

// validateInput checks the raw input against the tool's JSON schema.
// Compiled schemas are cached per tool id.
func (inv *Invoker) validateInput(toolID string, def *config.ToolConfig, input map[string]any) error {
	if len(def.InputSchema) == 0 {
		return nil
	}

	schema, err := inv.compiledSchema(toolID, def.InputSchema)
	if err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}

	if input == nil {
		input = map[string]any{}
	}

	// Round-trip so the validator sees plain JSON types.
	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("input is not serializable: %w", err)
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("input is not valid JSON: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("input validation failed: %w", err)
	}
	return nil
}

func (inv *Invoker) compiledSchema(toolID string, rawSchema map[string]any) (*jsonschema.Schema, error) {
	inv.schemaMu.Lock()
	defer inv.schemaMu.Unlock()

	if schema, ok := inv.schemas[toolID]; ok {
		return schema, nil
	}

	raw, err := json.Marshal(rawSchema)
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	resource := fmt.Sprintf("tool://%s/input.json", toolID)
	if err := compiler.AddResource(resource, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, err
	}

	inv.schemas[toolID] = schema
	return schema, nil
}

func (inv *Invoker) executeRetrieval(ctx context.Context, req Request) ExecutionResult {
	if inv.searcher == nil {
		return ExecutionResult{
			Status: StatusExecutionError,
			Error:  "no retrieval engine configured",
		}
	}

	query := stringInput(req.Input, "query")
	if query == "" {
		return ExecutionResult{
			Status: StatusValidationError,
			Error:  "retrieval requires a non-empty query",
		}
	}

	retrievalCfg := req.Definition.Retrieval
	if retrievalCfg == nil {
		retrievalCfg = &config.RetrievalToolConfig{}
	}
	topK := retrievalCfg.TopK
	if override := intInput(req.Input, "top_k"); override > 0 {
		topK = override
	}

	result, err := inv.searcher.Search(ctx, query, req.TenantID, topK, retrievalCfg.MinSimilarity)
	if err != nil {
		return ExecutionResult{
			Status: StatusExecutionError,
			Error:  fmt.Sprintf("retrieval failed: %v", err),
			Cause:  err,
		}
	}

	return ExecutionResult{
		Status:       StatusOK,
		Payload:      result.Context,
		Citations:    result.Citations,
		EmptyContext: result.Empty,
	}
}

func (inv *Invoker) executeHTTP(ctx context.Context, req Request) ExecutionResult {
	cfg := req.Definition.HTTP
	if cfg == nil || cfg.URL == "" {
		return ExecutionResult{
			Status: StatusExecutionError,
			Error:  "http tool has no endpoint configured",
		}
	}

	breaker := inv.breakerFor(req.ToolID, cfg)
	payload, err := breaker.Execute(func() (string, error) {
		return inv.callEndpoint(ctx, cfg, req.Input)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ExecutionResult{
				Status: StatusExecutionError,
				Error:  fmt.Sprintf("endpoint circuit open for tool %q", req.ToolID),
				Cause:  err,
			}
		}
		return ExecutionResult{
			Status: StatusExecutionError,
			Error:  fmt.Sprintf("remote call failed: %v", err),
			Cause:  err,
		}
	}

	return ExecutionResult{
		Status:  StatusOK,
		Payload: payload,
	}
}

func (inv *Invoker) callEndpoint(ctx context.Context, cfg *config.HTTPToolConfig, input map[string]any) (string, error) {
	endpoint := renderTemplate(cfg.URL, input, url.QueryEscape)

	var body io.Reader
	if cfg.BodyTemplate != "" {
		body = strings.NewReader(renderTemplate(cfg.BodyTemplate, input, jsonEscape))
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	for key, value := range cfg.Headers {
		httpReq.Header.Set(key, renderTemplate(value, input, nil))
	}
	if cfg.BodyTemplate != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := inv.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return string(payload), nil
}

func (inv *Invoker) breakerFor(toolID string, cfg *config.HTTPToolConfig) *gobreaker.CircuitBreaker[string] {
	inv.breakerMu.Lock()
	defer inv.breakerMu.Unlock()

	if breaker, ok := inv.breakers[toolID]; ok {
		return breaker
	}

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := defaultBreakerTimeout
	if cfg.BreakerTimeout > 0 {
		timeout = time.Duration(cfg.BreakerTimeout) * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "tool:" + toolID,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			inv.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	})
	inv.breakers[toolID] = breaker
	return breaker
}

func (inv *Invoker) executeCustom(ctx context.Context, req Request) ExecutionResult {
	cfg := req.Definition.Custom
	if cfg == nil || cfg.Handler == "" {
		return ExecutionResult{
			Status: StatusExecutionError,
			Error:  "custom tool has no handler configured",
		}
	}
	if inv.handlers == nil {
		return ExecutionResult{
			Status: StatusExecutionError,
			Error:  "no handler registry configured",
		}
	}

	handler, err := inv.handlers.GetHandler(cfg.Handler)
	if err != nil {
		return ExecutionResult{
			Status: StatusExecutionError,
			Error:  err.Error(),
		}
	}

	payload, err := handler(ctx, req.TenantID, req.Input)
	if err != nil {
		return ExecutionResult{
			Status: StatusExecutionError,
			Error:  fmt.Sprintf("handler %q failed: %v", cfg.Handler, err),
			Cause:  err,
		}
	}

	return ExecutionResult{
		Status:  StatusOK,
		Payload: payload,
	}
}

// renderTemplate replaces {key} placeholders with values from params.
// Unknown placeholders are left as-is so failures are visible.
func renderTemplate(template string, params map[string]any, escape func(string) string) string {
	out := template
	for key, value := range params {
		rendered := fmt.Sprint(value)
		if escape != nil {
			rendered = escape(rendered)
		}
		out = strings.ReplaceAll(out, "{"+key+"}", rendered)
	}
	return out
}

// jsonEscape renders a value safe for splicing into a JSON template.
func jsonEscape(value string) string {
	raw, err := json.Marshal(value)
	if err != nil {
		return value
	}
	// Strip the surrounding quotes; templates carry their own.
	return string(raw[1 : len(raw)-1])
}

func stringInput(input map[string]any, key string) string {
	if input == nil {
		return ""
	}
	value, _ := input[key].(string)
	return strings.TrimSpace(value)
}

func intInput(input map[string]any, key string) int {
	if input == nil {
		return 0
	}
	switch v := input[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
