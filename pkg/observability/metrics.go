package observability

import (
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics builds the otel instruments on a prometheus exporter backed
// by its own registry and returns the scrape handler for that registry.
func InitMetrics() (*PrometheusMetrics, http.Handler, error) {
	reg := promclient.NewRegistry()

	promExporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)
	meter := meterProvider.Meter("reagent")

	b := &builder{meter: meter}
	m := &PrometheusMetrics{
		turnDuration: b.histogram("reagent_turn_duration_seconds", "Chat turn duration in seconds"),
		turnsTotal:   b.counter("reagent_turns_total", "Chat turns by outcome"),
		turnSteps:    b.intHistogram("reagent_turn_iterations", "Reasoning iterations per turn"),

		llmDuration:     b.histogram("reagent_llm_request_duration_seconds", "LLM request duration in seconds"),
		llmInputTokens:  b.counter("reagent_llm_tokens_input_total", "Total input tokens sent to LLM"),
		llmOutputTokens: b.counter("reagent_llm_tokens_output_total", "Total output tokens from LLM"),
		llmErrorsTotal:  b.counter("reagent_llm_errors_total", "Total failed LLM attempts"),
		providerSwitch:  b.counter("reagent_provider_switches_total", "Provider failovers"),

		toolDuration:    b.histogram("reagent_tool_execution_duration_seconds", "Tool execution duration in seconds"),
		toolCallsTotal:  b.counter("reagent_tool_calls_total", "Total tool calls"),
		toolErrorsTotal: b.counter("reagent_tool_errors_total", "Total failed tool calls"),

		retrievalDuration: b.histogram("reagent_retrieval_duration_seconds", "Document search duration in seconds"),
		retrievalResults:  b.intHistogram("reagent_retrieval_results", "Results returned per document search"),

		ingestChunks: b.counter("reagent_ingest_chunks_total", "Chunks indexed"),
		ingestErrors: b.counter("reagent_ingest_errors_total", "Failed ingestions"),

		httpDuration: b.histogram("reagent_http_request_duration_seconds", "HTTP request duration in seconds"),
		httpRequests: b.counter("reagent_http_requests_total", "HTTP requests"),
	}
	if b.err != nil {
		return nil, nil, b.err
	}

	return m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

// builder keeps the first instrument creation error.
type builder struct {
	meter metric.Meter
	err   error
}

func (b *builder) histogram(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name, metric.WithDescription(desc))
	b.keep(name, err)
	return h
}

func (b *builder) intHistogram(name, desc string) metric.Int64Histogram {
	h, err := b.meter.Int64Histogram(name, metric.WithDescription(desc))
	b.keep(name, err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.keep(name, err)
	return c
}

func (b *builder) keep(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("failed to create %s: %w", name, err)
	}
}
