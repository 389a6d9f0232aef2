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

// Package executor runs one domain agent end to end: optional entity
// extraction, tool execution in priority order, prompt assembly, and
// the final generation call.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/agenthub/pkg/config"
	"github.com/kadirpekel/agenthub/pkg/llms"
	"github.com/kadirpekel/agenthub/pkg/observability"
	"github.com/kadirpekel/agenthub/pkg/rag"
	"github.com/kadirpekel/agenthub/pkg/session"
	"github.com/kadirpekel/agenthub/pkg/tenant"
	"github.com/kadirpekel/agenthub/pkg/tools"
	"github.com/kadirpekel/agenthub/pkg/utils"
)

// defaultPromptTemplate is the agent system prompt when the agent
// config does not supply one.
const defaultPromptTemplate = `You are a helpful assistant for tenant {tenant}.

Answer the user's question using the supporting context below. When the
context marks a source as unavailable, say so instead of guessing. Cite
sources where the context names them.

Extracted parameters:
{entities}

Supporting context:
{context}`

// entityExtractionPrompt asks for a flat parameter object. The
// extraction is best effort; a failed call never blocks the run.
const entityExtractionPrompt = `Extract structured parameters from the user's message as a flat JSON object. Include identifiers, dates, names, quantities, and any other concrete values. Use snake_case keys. If the message contains no extractable parameters, return an empty object. Respond with JSON only.`

// sourceUnavailable marks a failed tool in the assembled context so
// the model never treats a missing source as silence.
const sourceUnavailable = "[source unavailable: %s]"

// RunInput describes one agent run. Query carries the sub-query for
// MULTI decisions and the original message otherwise.
type RunInput struct {
	TenantID string
	AgentID  string
	Message  string
	Query    string
	Intent   string
	Window   []session.Turn

	// Snapshot is the config view this run executes against. In-flight
	// runs keep their snapshot across reloads.
	Snapshot *tenant.Snapshot
}

// RunOutput is the agent's answer plus run metadata.
type RunOutput struct {
	Answer    string                  `json:"answer"`
	AgentID   string                  `json:"agent_id"`
	AgentName string                  `json:"agent_name"`
	Intent    string                  `json:"intent"`
	Model     string                  `json:"model"`
	Usage     llms.Usage              `json:"usage"`
	ToolCalls []tools.ExecutionResult `json:"tool_calls,omitempty"`
	Citations []rag.Citation          `json:"citations,omitempty"`
	Entities  map[string]any          `json:"entities,omitempty"`
	Latency   time.Duration           `json:"latency"`
}

// Executor runs domain agents. It holds no per-tenant state.
type Executor struct {
	gateway *llms.Gateway
	invoker *tools.Invoker
	counter *utils.TokenCounter
	logger  *slog.Logger
}

func New(gateway *llms.Gateway, invoker *tools.Invoker, logger *slog.Logger) (*Executor, error) {
	if gateway == nil {
		return nil, fmt.Errorf("executor requires a gateway")
	}
	if invoker == nil {
		return nil, fmt.Errorf("executor requires a tool invoker")
	}
	if logger == nil {
		logger = slog.Default()
	}
	counter, err := utils.NewTokenCounter("gpt-4o")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token counter: %w", err)
	}
	return &Executor{
		gateway: gateway,
		invoker: invoker,
		counter: counter,
		logger:  logger,
	}, nil
}

// Run executes the agent named by in.AgentID. Tool failures are
// reported in the output, never silently dropped; a cross-tenant
// retrieval violation or generation exhaustion aborts the run.
func (e *Executor) Run(ctx context.Context, in RunInput) (RunOutput, error) {
	start := time.Now()

	tracer := observability.GetTracer("agenthub.executor")
	ctx, span := tracer.Start(ctx, observability.SpanAgentCall,
		trace.WithAttributes(
			attribute.String(observability.AttrTenantID, in.TenantID),
			attribute.String(observability.AttrAgentName, in.AgentID),
		))
	defer span.End()

	snap := in.Snapshot
	if snap == nil {
		return RunOutput{}, fmt.Errorf("agent run requires a config snapshot")
	}
	agentCfg, ok := snap.Agent(in.AgentID)
	if !ok {
		return RunOutput{}, fmt.Errorf("unknown agent %q", in.AgentID)
	}
	if !snap.AgentEnabled(in.TenantID, in.AgentID) {
		return RunOutput{}, fmt.Errorf("agent %q is not enabled for tenant %q", in.AgentID, in.TenantID)
	}

	query := in.Query
	if query == "" {
		query = in.Message
	}

	provider, err := e.gateway.Resolve(snap.TenantOverride(in.TenantID), agentCfg.LLM)
	if err != nil {
		return RunOutput{}, fmt.Errorf("failed to resolve LLM for agent %q: %w", in.AgentID, err)
	}

	var entities map[string]any
	if agentCfg.ExtractEntities {
		entities = e.extractEntities(ctx, provider, query)
	}

	results, err := e.runTools(ctx, snap, agentCfg, in.TenantID, query, entities)
	if err != nil {
		return RunOutput{}, err
	}

	prompt := e.buildPrompt(agentCfg, in.TenantID, entities, results)
	messages := make([]llms.Message, 0, len(in.Window)+2)
	messages = append(messages, llms.System(prompt))
	messages = append(messages, session.AsMessages(in.Window)...)
	messages = append(messages, llms.User(query))

	genStart := time.Now()
	result, err := e.generate(ctx, provider, agentCfg, messages)
	observability.GetGlobalMetrics().RecordLLMCall(ctx, provider.GetModelName(),
		time.Since(genStart), usageIn(result), usageOut(result), err)
	if err != nil {
		return RunOutput{}, fmt.Errorf("agent %q generation failed: %w", in.AgentID, err)
	}

	answer, err := transformOutput(agentCfg.Output, result.Text)
	if err != nil {
		return RunOutput{}, fmt.Errorf("agent %q output transform failed: %w", in.AgentID, err)
	}

	usage := result.Usage
	if usage.TotalTokens == 0 {
		usage.CompletionTokens = e.counter.Count(answer)
		usage.TotalTokens = usage.CompletionTokens
	}

	out := RunOutput{
		Answer:    answer,
		AgentID:   in.AgentID,
		AgentName: agentCfg.Name,
		Intent:    in.Intent,
		Model:     result.Model,
		Usage:     usage,
		ToolCalls: results,
		Citations: collectCitations(results),
		Entities:  entities,
		Latency:   time.Since(start),
	}

	e.logger.Info("agent run complete",
		"tenant", in.TenantID,
		"agent", in.AgentID,
		"tools", len(results),
		"latency", out.Latency)

	return out, nil
}

// extractEntities is best effort. Malformed output logs a warning and
// yields nil; only context cancellation aborts.
func (e *Executor) extractEntities(ctx context.Context, provider llms.Provider, query string) map[string]any {
	messages := []llms.Message{
		llms.System(entityExtractionPrompt),
		llms.User(query),
	}
	structCfg := &llms.StructuredOutputConfig{
		Format: "json",
		Schema: map[string]any{"type": "object"},
	}

	result, err := e.gateway.GenerateStructured(ctx, provider, messages, structCfg)
	if err != nil {
		e.logger.Warn("entity extraction failed, continuing without entities", "error", err)
		return nil
	}

	var entities map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(result.Text)), &entities); err != nil {
		e.logger.Warn("entity extraction returned invalid JSON, continuing without entities", "error", err)
		return nil
	}
	if len(entities) == 0 {
		return nil
	}
	return entities
}

// runTools executes the agent's tenant-enabled tools in descending
// priority order. Every attempted call produces exactly one result;
// only an isolation violation halts the sequence.
func (e *Executor) runTools(ctx context.Context, snap *tenant.Snapshot, agentCfg *config.AgentConfig, tenantID, query string, entities map[string]any) ([]tools.ExecutionResult, error) {
	refs := make([]config.AgentToolRef, 0, len(agentCfg.Tools))
	for _, ref := range agentCfg.Tools {
		if snap.ToolEnabled(tenantID, ref.ID) {
			refs = append(refs, ref)
		}
	}
	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].Priority > refs[j].Priority
	})

	results := make([]tools.ExecutionResult, 0, len(refs))
	for _, ref := range refs {
		def, _ := snap.Tool(ref.ID)

		input := map[string]any{"query": query}
		for key, value := range entities {
			input[key] = value
		}

		result := e.invoker.Execute(ctx, tools.Request{
			TenantID:    tenantID,
			ToolID:      ref.ID,
			Definition:  def,
			Input:       input,
			Permissions: snap,
		})

		if rag.IsIsolationError(result.Cause) {
			return nil, fmt.Errorf("tool %q aborted the run: %w", ref.ID, result.Cause)
		}

		results = append(results, result)
	}
	return results, nil
}

// buildPrompt expands the agent template. Tool failures appear as
// explicit unavailable markers, and an empty tool set still yields the
// empty-context marker so generation never sees a blank context.
func (e *Executor) buildPrompt(agentCfg *config.AgentConfig, tenantID string, entities map[string]any, results []tools.ExecutionResult) string {
	template := agentCfg.PromptTemplate
	if template == "" {
		template = defaultPromptTemplate
	}

	prompt := strings.ReplaceAll(template, "{tenant}", tenantID)
	prompt = strings.ReplaceAll(prompt, "{context}", formatToolContext(results))
	prompt = strings.ReplaceAll(prompt, "{entities}", formatEntities(entities))
	return prompt
}

func (e *Executor) generate(ctx context.Context, provider llms.Provider, agentCfg *config.AgentConfig, messages []llms.Message) (*llms.Result, error) {
	if agentCfg.Output == config.OutputFormatJSON {
		return e.gateway.GenerateStructured(ctx, provider, messages,
			&llms.StructuredOutputConfig{Format: "json"})
	}
	return e.gateway.Generate(ctx, provider, messages)
}

func formatToolContext(results []tools.ExecutionResult) string {
	if len(results) == 0 {
		return rag.EmptyContextMarker
	}

	blocks := make([]string, 0, len(results))
	for _, result := range results {
		header := fmt.Sprintf("### %s", result.ToolID)
		if result.OK() {
			blocks = append(blocks, header+"\n"+result.Payload)
			continue
		}
		reason := result.Error
		if reason == "" {
			reason = string(result.Status)
		}
		blocks = append(blocks, header+"\n"+fmt.Sprintf(sourceUnavailable, reason))
	}
	return strings.Join(blocks, "\n\n")
}

func formatEntities(entities map[string]any) string {
	if len(entities) == 0 {
		return "(none)"
	}
	encoded, err := json.Marshal(entities)
	if err != nil {
		return "(none)"
	}
	return string(encoded)
}

// transformOutput applies the agent's configured output format. JSON
// agents must produce a valid object; it is re-serialized in canonical
// form.
func transformOutput(format config.OutputFormat, text string) (string, error) {
	if format != config.OutputFormatJSON {
		return strings.TrimSpace(text), nil
	}

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(trimmed), "```"))
	}

	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		return "", fmt.Errorf("output is not valid JSON: %w", err)
	}
	canonical, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(canonical), nil
}

func collectCitations(results []tools.ExecutionResult) []rag.Citation {
	var citations []rag.Citation
	for _, result := range results {
		citations = append(citations, result.Citations...)
	}
	return citations
}

func usageIn(result *llms.Result) int {
	if result == nil {
		return 0
	}
	return result.Usage.PromptTokens
}

func usageOut(result *llms.Result) int {
	if result == nil {
		return 0
	}
	return result.Usage.CompletionTokens
}
