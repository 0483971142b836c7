package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics is the recording surface used by the agent components.
type Metrics interface {
	RecordTurn(ctx context.Context, outcome string, iterations int, duration time.Duration)
	RecordLLMCall(ctx context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordProviderSwitch(ctx context.Context, from, to string)
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	RecordRetrieval(ctx context.Context, duration time.Duration, results int)
	RecordIngest(ctx context.Context, chunks int, duration time.Duration, err error)
	RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration)
}

type PrometheusMetrics struct {
	turnDuration metric.Float64Histogram
	turnsTotal   metric.Int64Counter
	turnSteps    metric.Int64Histogram

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrorsTotal  metric.Int64Counter
	providerSwitch  metric.Int64Counter

	toolDuration    metric.Float64Histogram
	toolCallsTotal  metric.Int64Counter
	toolErrorsTotal metric.Int64Counter

	retrievalDuration metric.Float64Histogram
	retrievalResults  metric.Int64Histogram

	ingestChunks metric.Int64Counter
	ingestErrors metric.Int64Counter

	httpDuration metric.Float64Histogram
	httpRequests metric.Int64Counter
}

func (m *PrometheusMetrics) RecordTurn(ctx context.Context, outcome string, iterations int, duration time.Duration) {
	if m == nil || m.turnDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.turnDuration.Record(ctx, duration.Seconds(), attrs)
	m.turnsTotal.Add(ctx, 1, attrs)
	m.turnSteps.Record(ctx, int64(iterations))
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
	)
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.llmErrorsTotal.Add(ctx, 1, attrs)
		return
	}
	m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
}

func (m *PrometheusMetrics) RecordProviderSwitch(ctx context.Context, from, to string) {
	if m == nil || m.providerSwitch == nil {
		return
	}
	m.providerSwitch.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *PrometheusMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCallsTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrorsTotal.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordRetrieval(ctx context.Context, duration time.Duration, results int) {
	if m == nil || m.retrievalDuration == nil {
		return
	}
	m.retrievalDuration.Record(ctx, duration.Seconds())
	m.retrievalResults.Record(ctx, int64(results))
}

func (m *PrometheusMetrics) RecordIngest(ctx context.Context, chunks int, _ time.Duration, err error) {
	if m == nil || m.ingestChunks == nil {
		return
	}
	if err != nil {
		m.ingestErrors.Add(ctx, 1)
		return
	}
	m.ingestChunks.Add(ctx, int64(chunks))
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil || m.httpDuration == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
	m.httpRequests.Add(ctx, 1, attrs)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordTurn(context.Context, string, int, time.Duration)                       {}
func (NoopMetrics) RecordLLMCall(context.Context, string, string, time.Duration, int, int, error) {}
func (NoopMetrics) RecordProviderSwitch(context.Context, string, string)                         {}
func (NoopMetrics) RecordToolExecution(context.Context, string, time.Duration, error)              {}
func (NoopMetrics) RecordRetrieval(context.Context, time.Duration, int)                          {}
func (NoopMetrics) RecordIngest(context.Context, int, time.Duration, error)                       {}
func (NoopMetrics) RecordHTTPRequest(context.Context, string, string, int, time.Duration)         {}

var (
	metricsMu     sync.RWMutex
	globalMetrics Metrics = NoopMetrics{}
)

func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if m == nil {
		m = NoopMetrics{}
	}
	globalMetrics = m
}

// GetGlobalMetrics never returns nil.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
