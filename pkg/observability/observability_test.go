package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kadirpekel/reagent/pkg/config"
)

func TestInitMetrics_ExposesInstruments(t *testing.T) {
	m, handler, err := InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics() error = %v", err)
	}

	ctx := context.Background()
	m.RecordTurn(ctx, "answered", 2, 150*time.Millisecond)
	m.RecordLLMCall(ctx, "ollama", "phi3:mini", time.Second, 10, 20, nil)
	m.RecordLLMCall(ctx, "openai", "gpt-3.5-turbo", time.Second, 0, 0, errors.New("boom"))
	m.RecordProviderSwitch(ctx, "openai", "ollama")
	m.RecordToolExecution(ctx, "calculator", time.Millisecond, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		"reagent_turns_total",
		"reagent_llm_errors_total",
		"reagent_provider_switches_total",
		"reagent_tool_calls_total",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestGlobalMetrics_NeverNil(t *testing.T) {
	SetGlobalMetrics(nil)
	if GetGlobalMetrics() == nil {
		t.Fatal("GetGlobalMetrics() returned nil")
	}
	GetGlobalMetrics().RecordTurn(context.Background(), "answered", 1, time.Second)
}

func TestManager_DisabledIsNoop(t *testing.T) {
	m := NewManager(config.ObservabilityConfig{})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if m.MetricsHandler() != nil {
		t.Error("expected no metrics handler when disabled")
	}
	if _, ok := m.GetMetrics().(NoopMetrics); !ok {
		t.Errorf("GetMetrics() = %T, want NoopMetrics", m.GetMetrics())
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

type recordingMetrics struct {
	NoopMetrics
	route  string
	status int
}

func (r *recordingMetrics) RecordHTTPRequest(_ context.Context, _, route string, status int, _ time.Duration) {
	r.route = route
	r.status = status
}

func TestHTTPMiddleware_UsesRoutePattern(t *testing.T) {
	rec := &recordingMetrics{}
	router := chi.NewRouter()
	router.Use(HTTPMiddleware(rec))
	router.Get("/threads/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/threads/thread_abc", nil))

	if rec.route != "/threads/{id}" {
		t.Errorf("route = %q", rec.route)
	}
	if rec.status != http.StatusNotFound {
		t.Errorf("status = %d", rec.status)
	}
}
