package embedders

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kadirpekel/reagent/pkg/config"
)

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(100)
	ctx := context.Background()

	a, err := e.Embed(ctx, "hello world")
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 100 || e.Dimension() != 100 {
		t.Fatalf("len = %d, dim = %d", len(a), e.Dimension())
	}
	b, _ := e.Embed(ctx, "hello world")
	c, _ := e.Embed(ctx, "hello there")

	var norm float64
	same := true
	for i := range a {
		norm += float64(a[i]) * float64(a[i])
		if a[i] != b[i] {
			same = false
		}
		if a[i] < -1 || a[i] > 1 {
			t.Fatalf("component %d = %v out of range", i, a[i])
		}
	}
	if !same {
		t.Error("hash embedding is not deterministic")
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("norm = %v, want 1", norm)
	}
	if a[0] == c[0] && a[1] == c[1] && a[2] == c[2] {
		t.Error("different texts produced the same prefix")
	}

	if got := NewHashEmbedder(0).Dimension(); got != 1536 {
		t.Errorf("default dimension = %d", got)
	}
}

func TestOpenAIEmbedder_BatchesAndOrders(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/embeddings" || r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected request %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		var req openAIEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		// Answer in reverse order; the index field decides placement.
		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		var data []item
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{Index: i, Embedding: []float32{float32(len(req.Input[i])), 1}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(&config.EmbedderConfig{
		APIKey: "sk-test", BaseURL: srv.URL, Model: "m", Dimension: 2, BatchSize: 2, Timeout: time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 batches", calls.Load())
	}
	for i, want := range []float32{1, 2, 3} {
		if vecs[i][0] != want {
			t.Errorf("vecs[%d] = %v, want first component %v", i, vecs[i], want)
		}
	}
}

func TestOpenAIEmbedder_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5,0.5]}]}`))
	}))
	defer srv.Close()

	e, _ := NewOpenAIEmbedder(&config.EmbedderConfig{APIKey: "k", BaseURL: srv.URL, Timeout: time.Second})
	v, err := e.Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(v) != 2 || calls.Load() != 2 {
		t.Errorf("v = %v, calls = %d", v, calls.Load())
	}
}

func TestOpenAIEmbedder_NoRetryOnAuthError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	e, _ := NewOpenAIEmbedder(&config.EmbedderConfig{APIKey: "k", BaseURL: srv.URL, Timeout: time.Second})
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"model":"nomic-embed-text","embeddings":[[0.1,0.2,0.3],[0.4,0.5,0.6]]}`))
	}))
	defer srv.Close()

	e, _ := NewOllamaEmbedder(&config.EmbedderConfig{BaseURL: srv.URL, Model: "nomic-embed-text", Dimension: 3})
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || len(vecs[1]) != 3 || vecs[1][0] != float32(0.4) {
		t.Errorf("vecs = %v", vecs)
	}
	if e.Model() != "nomic-embed-text" {
		t.Errorf("Model() = %q", e.Model())
	}
}

func TestNew_Selects(t *testing.T) {
	e, err := New(&config.EmbedderConfig{Provider: config.EmbedderHash, Dimension: 64})
	if err != nil || e.Dimension() != 64 {
		t.Fatalf("New(hash) = %v, %v", e, err)
	}
	if _, err := New(&config.EmbedderConfig{Provider: config.EmbedderOpenAI}); err == nil {
		t.Error("openai without key should fail")
	}
	if _, err := New(&config.EmbedderConfig{Provider: "cohere"}); err == nil {
		t.Error("unknown provider should fail")
	}
}
