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

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// InitMetrics sets up the Prometheus exporter and registers all pipeline
// instruments. Returns an empty recorder when metrics are disabled.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("agenthub")

	pipelineDuration, err := meter.Float64Histogram(
		"agenthub_pipeline_duration_seconds",
		metric.WithDescription("End-to-end chat pipeline duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline duration histogram: %w", err)
	}

	pipelineRequests, err := meter.Int64Counter(
		"agenthub_pipeline_requests_total",
		metric.WithDescription("Total chat pipeline requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline requests counter: %w", err)
	}

	pipelineErrors, err := meter.Int64Counter(
		"agenthub_pipeline_errors_total",
		metric.WithDescription("Total chat pipeline failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline errors counter: %w", err)
	}

	routingDecisions, err := meter.Int64Counter(
		"agenthub_routing_decisions_total",
		metric.WithDescription("Routing decisions by kind (single, multi, unclear, fallback)"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create routing decisions counter: %w", err)
	}

	toolDuration, err := meter.Float64Histogram(
		"agenthub_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	toolCalls, err := meter.Int64Counter(
		"agenthub_tool_calls_total",
		metric.WithDescription("Total tool invocations by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	llmDuration, err := meter.Float64Histogram(
		"agenthub_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	llmInputTokens, err := meter.Int64Counter(
		"agenthub_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	llmOutputTokens, err := meter.Int64Counter(
		"agenthub_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from LLM"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	llmErrors, err := meter.Int64Counter(
		"agenthub_llm_errors_total",
		metric.WithDescription("Total LLM errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	ragSearches, err := meter.Int64Counter(
		"agenthub_rag_searches_total",
		metric.WithDescription("Total retrieval searches"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rag searches counter: %w", err)
	}

	// Any increment here is an isolation failure and should page.
	crossTenantLeaks, err := meter.Int64Counter(
		"agenthub_rag_cross_tenant_leaks_total",
		metric.WithDescription("Retrieval results rejected for belonging to another tenant"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cross tenant leaks counter: %w", err)
	}

	return NewPrometheusMetrics(
		pipelineDuration,
		pipelineRequests,
		pipelineErrors,
		routingDecisions,
		toolDuration,
		toolCalls,
		llmDuration,
		llmInputTokens,
		llmOutputTokens,
		llmErrors,
		ragSearches,
		crossTenantLeaks,
	), nil
}
