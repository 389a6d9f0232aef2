package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics Metrics = NoopMetrics{}
	metricsMu     sync.RWMutex
)

type Metrics interface {
	RecordPipelineRequest(ctx context.Context, tenant string, duration time.Duration, err error)
	RecordRoutingDecision(ctx context.Context, tenant, kind string)
	RecordToolExecution(ctx context.Context, tool, status string, duration time.Duration)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordRAGSearch(ctx context.Context, tenant string)
	RecordCrossTenantLeak(ctx context.Context, tenant string, count int)
}

type PrometheusMetrics struct {
	pipelineDuration metric.Float64Histogram
	pipelineRequests metric.Int64Counter
	pipelineErrors   metric.Int64Counter

	routingDecisions metric.Int64Counter

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrorsTotal  metric.Int64Counter

	ragSearches      metric.Int64Counter
	crossTenantLeaks metric.Int64Counter
}

func NewPrometheusMetrics(
	pipelineDuration metric.Float64Histogram,
	pipelineRequests metric.Int64Counter,
	pipelineErrors metric.Int64Counter,
	routingDecisions metric.Int64Counter,
	toolDuration metric.Float64Histogram,
	toolCalls metric.Int64Counter,
	llmDuration metric.Float64Histogram,
	llmInputTokens metric.Int64Counter,
	llmOutputTokens metric.Int64Counter,
	llmErrorsTotal metric.Int64Counter,
	ragSearches metric.Int64Counter,
	crossTenantLeaks metric.Int64Counter,
) *PrometheusMetrics {
	return &PrometheusMetrics{
		pipelineDuration: pipelineDuration,
		pipelineRequests: pipelineRequests,
		pipelineErrors:   pipelineErrors,
		routingDecisions: routingDecisions,
		toolDuration:     toolDuration,
		toolCalls:        toolCalls,
		llmDuration:      llmDuration,
		llmInputTokens:   llmInputTokens,
		llmOutputTokens:  llmOutputTokens,
		llmErrorsTotal:   llmErrorsTotal,
		ragSearches:      ragSearches,
		crossTenantLeaks: crossTenantLeaks,
	}
}

func (m *PrometheusMetrics) RecordPipelineRequest(ctx context.Context, tenant string, duration time.Duration, err error) {
	if m == nil || m.pipelineDuration == nil || m.pipelineRequests == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tenant", tenant),
	}

	m.pipelineDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.pipelineRequests.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil && m.pipelineErrors != nil {
		m.pipelineErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordRoutingDecision(ctx context.Context, tenant, kind string) {
	if m == nil || m.routingDecisions == nil {
		return
	}

	m.routingDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("kind", kind),
	))
}

func (m *PrometheusMetrics) RecordToolExecution(ctx context.Context, tool, status string, duration time.Duration) {
	if m == nil || m.toolDuration == nil || m.toolCalls == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool", tool),
		attribute.String("status", status),
	}

	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil || m.llmInputTokens == nil || m.llmOutputTokens == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
	}

	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.llmInputTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attrs...))
	m.llmOutputTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attrs...))

	if err != nil && m.llmErrorsTotal != nil {
		m.llmErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordRAGSearch(ctx context.Context, tenant string) {
	if m == nil || m.ragSearches == nil {
		return
	}

	m.ragSearches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenant),
	))
}

func (m *PrometheusMetrics) RecordCrossTenantLeak(ctx context.Context, tenant string, count int) {
	if m == nil || m.crossTenantLeaks == nil {
		return
	}

	m.crossTenantLeaks.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("tenant", tenant),
	))
}

func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
