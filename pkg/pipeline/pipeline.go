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

// Package pipeline orchestrates one chat turn: routing, agent
// execution, and conversation persistence. MULTI decisions fan out
// into concurrent sub-pipelines whose answers are merged in the order
// the router decided.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/agenthub/pkg/executor"
	"github.com/kadirpekel/agenthub/pkg/llms"
	"github.com/kadirpekel/agenthub/pkg/observability"
	"github.com/kadirpekel/agenthub/pkg/rag"
	"github.com/kadirpekel/agenthub/pkg/router"
	"github.com/kadirpekel/agenthub/pkg/session"
	"github.com/kadirpekel/agenthub/pkg/tenant"
	"github.com/kadirpekel/agenthub/pkg/tools"
)

// clarificationMessage is returned for UNCLEAR decisions. No agent or
// tool runs in that case.
const clarificationMessage = "I'm not sure which topic your question belongs to. Could you rephrase it, or ask about one thing at a time?"

// Typed errors the HTTP layer maps to status codes.
var (
	ErrUnknownTenant     = errors.New("unknown or inactive tenant")
	ErrAgentNotAvailable = errors.New("agent not available for tenant")
)

// ChatRequest is one inbound chat turn.
type ChatRequest struct {
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`

	// Agent optionally names a specific agent, skipping routing.
	Agent string `json:"agent,omitempty"`
}

// Section is one agent's contribution to a MULTI answer.
type Section struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Query     string `json:"query"`
	Answer    string `json:"answer"`
}

// ChatResponse is the formatted answer returned to the chat endpoint.
type ChatResponse struct {
	Response      string                  `json:"response"`
	Intent        string                  `json:"intent"`
	SessionID     string                  `json:"session_id"`
	Clarification bool                    `json:"clarification,omitempty"`
	Agents        []string                `json:"agents,omitempty"`
	Sections      []Section               `json:"sections,omitempty"`
	ToolCalls     []tools.ExecutionResult `json:"tool_calls,omitempty"`
	Sources       []rag.Citation          `json:"sources,omitempty"`
	Usage         llms.Usage              `json:"usage"`
	Latency       time.Duration           `json:"latency"`
}

// Pipeline wires the router, executor, and conversation store. The
// tenant registry supplies the config snapshot; each turn runs against
// the snapshot current at its start.
type Pipeline struct {
	registry   *tenant.Registry
	router     *router.Router
	executor   *executor.Executor
	store      session.Store
	windowSize int
	logger     *slog.Logger
}

func New(registry *tenant.Registry, rt *router.Router, exec *executor.Executor, store session.Store, windowSize int, logger *slog.Logger) (*Pipeline, error) {
	if registry == nil || rt == nil || exec == nil || store == nil {
		return nil, fmt.Errorf("pipeline requires registry, router, executor, and store")
	}
	if windowSize <= 0 {
		windowSize = session.DefaultWindowSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		registry:   registry,
		router:     rt,
		executor:   exec,
		store:      store,
		windowSize: windowSize,
		logger:     logger,
	}, nil
}

// Handle runs one chat turn end to end. The user and assistant turns
// are persisted as a pair only when the turn reaches a terminal
// response; failures and cancellations persist nothing.
func (p *Pipeline) Handle(ctx context.Context, req ChatRequest) (resp ChatResponse, err error) {
	start := time.Now()

	tracer := observability.GetTracer("agenthub.pipeline")
	ctx, span := tracer.Start(ctx, observability.SpanPipelineTurn,
		trace.WithAttributes(
			attribute.String(observability.AttrTenantID, req.TenantID),
		))
	defer span.End()
	defer func() {
		observability.GetGlobalMetrics().RecordPipelineRequest(ctx, req.TenantID, time.Since(start), err)
	}()

	if strings.TrimSpace(req.Message) == "" {
		return ChatResponse{}, fmt.Errorf("message cannot be empty")
	}

	snap := p.registry.Current()
	if snap == nil || !snap.TenantActive(req.TenantID) {
		return ChatResponse{}, fmt.Errorf("%w: %q", ErrUnknownTenant, req.TenantID)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	window, werr := p.store.Window(ctx, sessionID, p.windowSize)
	if werr != nil {
		p.logger.Warn("failed to load conversation window, continuing without history",
			"tenant", req.TenantID, "session", sessionID, "error", werr)
		window = nil
	}

	decision, err := p.decide(ctx, snap, req)
	if err != nil {
		return ChatResponse{}, err
	}

	resp = ChatResponse{
		Intent:    decision.Intent,
		SessionID: sessionID,
	}

	switch decision.Intent {
	case router.IntentUnclear:
		resp.Response = clarificationMessage
		resp.Clarification = true

	case router.IntentSingle:
		sub, _ := decision.Primary()
		out, runErr := p.runAgent(ctx, snap, req, sub, window)
		if runErr != nil {
			return ChatResponse{}, runErr
		}
		p.fold(&resp, out)
		resp.Response = out.Answer

	case router.IntentMulti:
		outputs, runErr := p.fanOut(ctx, snap, req, decision.SubIntents, window)
		if runErr != nil {
			return ChatResponse{}, runErr
		}
		p.merge(&resp, decision.SubIntents, outputs)

	default:
		return ChatResponse{}, fmt.Errorf("unexpected routing intent %q", decision.Intent)
	}

	resp.Latency = time.Since(start)

	if err := p.persist(ctx, sessionID, req, resp.Response); err != nil {
		p.logger.Error("failed to persist conversation turns",
			"tenant", req.TenantID, "session", sessionID, "error", err)
	}

	p.logger.Info("chat turn complete",
		"tenant", req.TenantID,
		"session", sessionID,
		"intent", resp.Intent,
		"agents", len(resp.Agents),
		"latency", resp.Latency)

	return resp, nil
}

// decide resolves the routing decision. A direct agent override skips
// the router entirely.
func (p *Pipeline) decide(ctx context.Context, snap *tenant.Snapshot, req ChatRequest) (router.Decision, error) {
	if req.Agent != "" {
		if !snap.AgentEnabled(req.TenantID, req.Agent) {
			return router.Decision{}, fmt.Errorf("%w: %q", ErrAgentNotAvailable, req.Agent)
		}
		return router.Decision{
			Intent:     router.IntentSingle,
			SubIntents: []router.SubIntent{{Agent: req.Agent, Query: req.Message}},
		}, nil
	}
	return p.router.Route(ctx, req.TenantID, snap, req.Message, "")
}

func (p *Pipeline) runAgent(ctx context.Context, snap *tenant.Snapshot, req ChatRequest, sub router.SubIntent, window []session.Turn) (executor.RunOutput, error) {
	return p.executor.Run(ctx, executor.RunInput{
		TenantID: req.TenantID,
		AgentID:  sub.Agent,
		Message:  req.Message,
		Query:    sub.Query,
		Intent:   router.IntentSingle,
		Window:   window,
		Snapshot: snap,
	})
}

// fanOut runs each sub-intent concurrently. Outputs land at the index
// of their sub-intent, preserving router order regardless of
// completion timing; the first failure cancels the rest.
func (p *Pipeline) fanOut(ctx context.Context, snap *tenant.Snapshot, req ChatRequest, subs []router.SubIntent, window []session.Turn) ([]executor.RunOutput, error) {
	outputs := make([]executor.RunOutput, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	for i, sub := range subs {
		g.Go(func() error {
			out, err := p.executor.Run(gctx, executor.RunInput{
				TenantID: req.TenantID,
				AgentID:  sub.Agent,
				Message:  req.Message,
				Query:    sub.Query,
				Intent:   router.IntentMulti,
				Window:   window,
				Snapshot: snap,
			})
			if err != nil {
				return fmt.Errorf("sub-pipeline for agent %q failed: %w", sub.Agent, err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// merge assembles the MULTI answer in router order with per-section
// attribution.
func (p *Pipeline) merge(resp *ChatResponse, subs []router.SubIntent, outputs []executor.RunOutput) {
	blocks := make([]string, 0, len(outputs))
	for i, out := range outputs {
		p.fold(resp, out)

		name := out.AgentName
		if name == "" {
			name = out.AgentID
		}
		resp.Sections = append(resp.Sections, Section{
			AgentID:   out.AgentID,
			AgentName: name,
			Query:     subs[i].Query,
			Answer:    out.Answer,
		})
		blocks = append(blocks, fmt.Sprintf("## %s\n\n%s", name, out.Answer))
	}
	resp.Response = strings.Join(blocks, "\n\n")
}

// fold accumulates one agent run's metadata into the response.
func (p *Pipeline) fold(resp *ChatResponse, out executor.RunOutput) {
	resp.Agents = append(resp.Agents, out.AgentID)
	resp.ToolCalls = append(resp.ToolCalls, out.ToolCalls...)
	resp.Sources = append(resp.Sources, out.Citations...)
	resp.Usage.PromptTokens += out.Usage.PromptTokens
	resp.Usage.CompletionTokens += out.Usage.CompletionTokens
	resp.Usage.TotalTokens += out.Usage.TotalTokens
}

// persist writes the user and assistant turns as one atomic pair.
func (p *Pipeline) persist(ctx context.Context, sessionID string, req ChatRequest, answer string) error {
	return p.store.Append(ctx,
		session.NewTurn(sessionID, req.TenantID, session.RoleUser, req.Message),
		session.NewTurn(sessionID, req.TenantID, session.RoleAssistant, answer),
	)
}
