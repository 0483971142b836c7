package observability

import (
	"context"
	"net/http"
	"sync"

	"github.com/kadirpekel/reagent/pkg/config"
	"go.opentelemetry.io/otel/trace"
)

// Manager owns the tracer provider and the metrics registry.
type Manager struct {
	tracerProvider trace.TracerProvider
	metrics        Metrics
	handler        http.Handler
	config         config.ObservabilityConfig
	mu             sync.RWMutex
}

func NewManager(cfg config.ObservabilityConfig) *Manager {
	return &Manager{
		config:  cfg,
		metrics: NoopMetrics{},
	}
}

// Initialize installs the global tracer and metrics.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, err := InitGlobalTracer(ctx, m.config.Tracing)
	if err != nil {
		return err
	}
	m.tracerProvider = tp

	if m.config.Metrics.Enabled {
		metrics, handler, err := InitMetrics()
		if err != nil {
			return err
		}
		m.metrics = metrics
		m.handler = handler
	}

	SetGlobalMetrics(m.metrics)
	return nil
}

func (m *Manager) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// MetricsHandler is nil when metrics are disabled.
func (m *Manager) MetricsHandler() http.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handler
}

func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if spt, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		return spt.Shutdown(ctx)
	}
	return nil
}
