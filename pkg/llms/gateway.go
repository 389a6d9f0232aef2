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

package llms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrGenerationExhausted marks a call that failed after its single
// bounded retry. Callers treat it as fatal for the current turn.
var ErrGenerationExhausted = errors.New("generation failed after retry")

// Gateway resolves which provider serves a call and applies the retry
// policy. Model resolution precedence is tenant override, then agent
// default, then the system default.
type Gateway struct {
	registry      *Registry
	systemDefault string
	logger        *slog.Logger
}

func NewGateway(registry *Registry, systemDefault string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		registry:      registry,
		systemDefault: systemDefault,
		logger:        logger,
	}
}

// Resolve picks the provider for a call. Empty strings fall through to
// the next precedence level.
func (g *Gateway) Resolve(tenantOverride, agentDefault string) (Provider, error) {
	name := g.systemDefault
	if agentDefault != "" {
		name = agentDefault
	}
	if tenantOverride != "" {
		name = tenantOverride
	}
	if name == "" {
		return nil, fmt.Errorf("no LLM configured: set global default_llm")
	}
	return g.registry.GetProvider(name)
}

// Generate runs a completion with at most one retry on transient
// failure. Non-transient failures return immediately.
func (g *Gateway) Generate(ctx context.Context, provider Provider, messages []Message) (*Result, error) {
	return g.call(ctx, provider, func(ctx context.Context) (*Result, error) {
		return provider.Generate(ctx, messages)
	})
}

// GenerateStructured is Generate with a structured output constraint.
func (g *Gateway) GenerateStructured(ctx context.Context, provider Provider, messages []Message, structConfig *StructuredOutputConfig) (*Result, error) {
	return g.call(ctx, provider, func(ctx context.Context) (*Result, error) {
		return provider.GenerateStructured(ctx, messages, structConfig)
	})
}

func (g *Gateway) call(ctx context.Context, provider Provider, fn func(context.Context) (*Result, error)) (*Result, error) {
	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}

	if !IsRetryable(err) {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	g.logger.Warn("LLM call failed, retrying once",
		"model", provider.GetModelName(), "error", err)

	result, retryErr := fn(ctx)
	if retryErr == nil {
		return result, nil
	}

	return nil, fmt.Errorf("%w: model %s: %w", ErrGenerationExhausted, provider.GetModelName(), retryErr)
}
