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

// Package router classifies inbound messages against a tenant's enabled
// agents. A single structured generation call yields a SINGLE, MULTI, or
// UNCLEAR decision; malformed output gets one stricter retry before the
// router falls back to the tenant's default agent.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/agenthub/pkg/config"
	"github.com/kadirpekel/agenthub/pkg/llms"
	"github.com/kadirpekel/agenthub/pkg/observability"
	"github.com/kadirpekel/agenthub/pkg/tenant"
	"github.com/kadirpekel/agenthub/pkg/utils"
)

// Intent kinds a routing decision may carry.
const (
	IntentSingle  = "SINGLE"
	IntentMulti   = "MULTI"
	IntentUnclear = "UNCLEAR"
)

// defaultPromptTemplate is used when the router config does not supply
// its own. {agents_list} expands to one line per enabled agent,
// {agent_names} to the quoted agent ids.
const defaultPromptTemplate = `You are a supervisor that routes user queries to specialized domain agents.

Available agents:
{agents_list}

Your task:
1. Analyze the user's message carefully.
2. Detect whether it contains ONE question, MULTIPLE distinct questions, or is unclear.
3. Respond with a JSON object matching the provided schema.

Detection rules:
- SINGLE: the message asks ONE clear question matching ONE agent. Emit intent "SINGLE" with exactly one sub_intents entry naming that agent ({agent_names}).
- MULTI: the message asks 2 or more DIFFERENT questions. Emit intent "MULTI" with one sub_intents entry per question, each naming the best agent and rephrasing that question as a standalone sub-query.
- UNCLEAR: the message is ambiguous or unrelated to every agent. Emit intent "UNCLEAR" with no sub_intents.

Never invent agent ids. Respond with JSON only, no explanations.`

// strictRetryInstruction is appended to the system prompt on the second
// attempt after a malformed first response.
const strictRetryInstruction = `

Your previous response was invalid. Respond with ONLY a JSON object conforming to the schema. The "agent" field of every sub_intents entry must be one of the listed agent ids, verbatim. Do not add any text outside the JSON object.`

// SubIntent pairs a target agent with the question it should answer.
// For SINGLE decisions Query carries the original message.
type SubIntent struct {
	Agent string `json:"agent" jsonschema:"required"`
	Query string `json:"query" jsonschema:"required"`
}

// Decision is the routing outcome for one inbound message. SubIntents
// preserves the order the classifier chose; MULTI answers are merged in
// this order downstream.
type Decision struct {
	Intent     string      `json:"intent"`
	SubIntents []SubIntent `json:"sub_intents,omitempty"`
	Confidence float64     `json:"confidence"`

	// Fallback is set when the decision came from the default-agent
	// fallback path rather than the classifier.
	Fallback bool `json:"fallback,omitempty"`
}

// Primary returns the first sub-intent, the only one for SINGLE.
func (d Decision) Primary() (SubIntent, bool) {
	if len(d.SubIntents) == 0 {
		return SubIntent{}, false
	}
	return d.SubIntents[0], true
}

// ClassificationError reports classifier output that could not be
// turned into a valid decision.
type ClassificationError struct {
	Raw    string
	Reason string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("routing classification failed: %s", e.Reason)
}

// routingOutput is the structured-output contract sent to the LLM.
type routingOutput struct {
	Intent     string      `json:"intent" jsonschema:"required,enum=SINGLE,enum=MULTI,enum=UNCLEAR,description=Classification of the user message"`
	SubIntents []SubIntent `json:"sub_intents,omitempty" jsonschema:"description=One entry per detected question in order"`
	Confidence float64     `json:"confidence,omitempty" jsonschema:"description=Classifier confidence between 0 and 1"`
}

// Router performs intent classification. It holds no tenant state; the
// snapshot passed to Route carries the agent catalog.
type Router struct {
	gateway *llms.Gateway
	cfg     config.RouterConfig
	schema  map[string]any
	logger  *slog.Logger
}

func New(gateway *llms.Gateway, cfg config.RouterConfig, logger *slog.Logger) (*Router, error) {
	if gateway == nil {
		return nil, fmt.Errorf("router requires a gateway")
	}
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := utils.GenerateSchema[routingOutput]()
	if err != nil {
		return nil, fmt.Errorf("failed to build routing schema: %w", err)
	}
	if cfg.MaxSubIntents <= 0 {
		cfg.MaxSubIntents = 4
	}
	return &Router{
		gateway: gateway,
		cfg:     cfg,
		schema:  schema,
		logger:  logger,
	}, nil
}

// Route classifies message for tenantID using the agents enabled in
// snap. The optional summary gives the classifier conversational
// context without feeding it history. Generation exhaustion propagates
// as an error; everything else degrades to a fallback or UNCLEAR
// decision.
func (r *Router) Route(ctx context.Context, tenantID string, snap *tenant.Snapshot, message, summary string) (Decision, error) {
	tracer := observability.GetTracer("agenthub.router")
	ctx, span := tracer.Start(ctx, observability.SpanRouting,
		trace.WithAttributes(
			attribute.String(observability.AttrTenantID, tenantID),
		))
	defer span.End()

	agents := snap.AgentsFor(tenantID)
	if len(agents) == 0 {
		r.logger.Warn("no agents enabled for tenant, routing unclear", "tenant", tenantID)
		return r.record(ctx, tenantID, Decision{Intent: IntentUnclear}), nil
	}

	provider, err := r.gateway.Resolve(snap.TenantOverride(tenantID), r.cfg.LLM)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to resolve routing LLM: %w", err)
	}

	prompt := r.buildPrompt(agents, summary)
	structCfg := &llms.StructuredOutputConfig{Format: "json", Schema: r.schema}

	decision, classifyErr := r.classify(ctx, provider, prompt, message, agents, structCfg)
	if classifyErr == nil {
		return r.record(ctx, tenantID, decision), nil
	}

	var ce *ClassificationError
	if !errors.As(classifyErr, &ce) {
		return Decision{}, classifyErr
	}

	r.logger.Warn("routing output malformed, retrying with strict instruction",
		"tenant", tenantID, "reason", ce.Reason)

	decision, classifyErr = r.classify(ctx, provider, prompt+strictRetryInstruction, message, agents, structCfg)
	if classifyErr == nil {
		return r.record(ctx, tenantID, decision), nil
	}
	if !errors.As(classifyErr, &ce) {
		return Decision{}, classifyErr
	}

	if fallback := snap.DefaultAgent(tenantID); fallback != "" {
		r.logger.Warn("routing failed twice, falling back to default agent",
			"tenant", tenantID, "agent", fallback, "reason", ce.Reason)
		decision := Decision{
			Intent:     IntentSingle,
			SubIntents: []SubIntent{{Agent: fallback, Query: message}},
			Fallback:   true,
		}
		observability.GetGlobalMetrics().RecordRoutingDecision(ctx, tenantID, "fallback")
		return decision, nil
	}

	r.logger.Warn("routing failed twice and no default agent configured",
		"tenant", tenantID, "reason", ce.Reason)
	return r.record(ctx, tenantID, Decision{Intent: IntentUnclear, Fallback: true}), nil
}

func (r *Router) classify(ctx context.Context, provider llms.Provider, prompt, message string, agents []tenant.Agent, structCfg *llms.StructuredOutputConfig) (Decision, error) {
	messages := []llms.Message{
		llms.System(prompt),
		llms.User(message),
	}

	result, err := r.gateway.GenerateStructured(ctx, provider, messages, structCfg)
	if err != nil {
		return Decision{}, fmt.Errorf("routing generation failed: %w", err)
	}

	return r.parse(result.Text, message, agents)
}

// parse validates the raw classifier output against the tenant's agent
// catalog. Unknown agents, wrong cardinality, and empty MULTI
// sub-queries are all malformed.
func (r *Router) parse(raw, message string, agents []tenant.Agent) (Decision, error) {
	var out routingOutput
	if err := json.Unmarshal([]byte(extractJSON(raw)), &out); err != nil {
		return Decision{}, &ClassificationError{Raw: raw, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	known := make(map[string]bool, len(agents))
	for _, agent := range agents {
		known[agent.ID] = true
	}

	intent := strings.ToUpper(strings.TrimSpace(out.Intent))
	confidence := out.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	switch intent {
	case IntentUnclear:
		return Decision{Intent: IntentUnclear, Confidence: confidence}, nil

	case IntentSingle:
		if len(out.SubIntents) != 1 {
			return Decision{}, &ClassificationError{Raw: raw,
				Reason: fmt.Sprintf("SINGLE decision carries %d sub-intents", len(out.SubIntents))}
		}
		sub := out.SubIntents[0]
		sub.Agent = strings.TrimSpace(sub.Agent)
		if !known[sub.Agent] {
			return Decision{}, &ClassificationError{Raw: raw,
				Reason: fmt.Sprintf("unknown agent %q", sub.Agent)}
		}
		if strings.TrimSpace(sub.Query) == "" {
			sub.Query = message
		}
		return Decision{Intent: IntentSingle, SubIntents: []SubIntent{sub}, Confidence: confidence}, nil

	case IntentMulti:
		if len(out.SubIntents) < 2 {
			return Decision{}, &ClassificationError{Raw: raw,
				Reason: fmt.Sprintf("MULTI decision carries %d sub-intents", len(out.SubIntents))}
		}
		subs := out.SubIntents
		if len(subs) > r.cfg.MaxSubIntents {
			subs = subs[:r.cfg.MaxSubIntents]
		}
		validated := make([]SubIntent, 0, len(subs))
		for _, sub := range subs {
			sub.Agent = strings.TrimSpace(sub.Agent)
			if !known[sub.Agent] {
				return Decision{}, &ClassificationError{Raw: raw,
					Reason: fmt.Sprintf("unknown agent %q", sub.Agent)}
			}
			if strings.TrimSpace(sub.Query) == "" {
				return Decision{}, &ClassificationError{Raw: raw,
					Reason: fmt.Sprintf("empty sub-query for agent %q", sub.Agent)}
			}
			validated = append(validated, sub)
		}
		return Decision{Intent: IntentMulti, SubIntents: validated, Confidence: confidence}, nil

	default:
		return Decision{}, &ClassificationError{Raw: raw,
			Reason: fmt.Sprintf("unknown intent %q", out.Intent)}
	}
}

// buildPrompt expands the prompt template with the tenant's agent
// catalog and appends the optional conversation summary.
func (r *Router) buildPrompt(agents []tenant.Agent, summary string) string {
	template := r.cfg.PromptTemplate
	if template == "" {
		template = defaultPromptTemplate
	}

	lines := make([]string, 0, len(agents))
	names := make([]string, 0, len(agents))
	for _, agent := range agents {
		description := agent.Config.Description
		if description == "" {
			description = fmt.Sprintf("Handles %s queries", agent.ID)
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", agent.ID, description))
		names = append(names, fmt.Sprintf("%q", agent.ID))
	}

	prompt := strings.ReplaceAll(template, "{agents_list}", strings.Join(lines, "\n"))
	prompt = strings.ReplaceAll(prompt, "{agent_names}", strings.Join(names, ", "))

	if summary != "" {
		prompt += "\n\nConversation summary (context only, never route on it alone):\n" + summary
	}
	return prompt
}

func (r *Router) record(ctx context.Context, tenantID string, decision Decision) Decision {
	observability.GetGlobalMetrics().RecordRoutingDecision(ctx, tenantID, strings.ToLower(decision.Intent))
	r.logger.Info("routing decision",
		"tenant", tenantID,
		"intent", decision.Intent,
		"sub_intents", len(decision.SubIntents),
		"confidence", decision.Confidence)
	return decision
}

// extractJSON trims markdown fences some models wrap around JSON
// output despite the structured-output request.
func extractJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	if start := strings.Index(trimmed, "{"); start > 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	return trimmed
}
