package llms

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kadirpekel/reagent/pkg/config"
	"github.com/kadirpekel/reagent/pkg/httpclient"
)

type stubProvider struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, call int) (*Response, error)
}

func (s *stubProvider) Name() string  { return s.name }
func (s *stubProvider) Type() string  { return "stub" }
func (s *stubProvider) Model() string { return s.name + "-model" }

func (s *stubProvider) Generate(ctx context.Context, _ *Request) (*Response, error) {
	return s.fn(ctx, int(s.calls.Add(1)))
}

func timeoutErr() error {
	return &httpclient.TransportError{Err: errors.New("deadline"), Timeout: true}
}

func okResponse(text string) func(context.Context, int) (*Response, error) {
	return func(context.Context, int) (*Response, error) {
		return &Response{Text: text}, nil
	}
}

func newTestManager(t *testing.T, stubs ...*stubProvider) *Manager {
	t.Helper()
	descs := make([]Descriptor, len(stubs))
	byName := make(map[string]*stubProvider)
	for i, s := range stubs {
		descs[i] = Descriptor{Name: s.name, Model: s.Model(), Priority: i + 1, HasCredential: true, Retries: 1, Backoff: time.Millisecond}
		byName[s.name] = s
	}
	m, err := NewManager(context.Background(), descs, func(_ context.Context, d Descriptor) (Provider, error) {
		return byName[d.Name], nil
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestManager_FailoverAfterTimeouts(t *testing.T) {
	a := &stubProvider{name: "a", fn: func(context.Context, int) (*Response, error) { return nil, timeoutErr() }}
	b := &stubProvider{name: "b", fn: okResponse("from b")}
	m := newTestManager(t, a, b)

	var switches []SwitchEvent
	res, err := m.Generate(context.Background(), &Request{}, OnSwitch(func(e SwitchEvent) {
		switches = append(switches, e)
	}))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Text != "from b" || res.Provider != "b" || res.Model != "b-model" {
		t.Errorf("unexpected response %+v", res.Response)
	}
	if got := a.calls.Load(); got != 2 {
		t.Errorf("provider a called %d times, want 2 (1 retry)", got)
	}
	if len(res.Attempts) != 3 {
		t.Fatalf("attempts = %+v", res.Attempts)
	}
	if res.Attempts[0].Provider != "a" || res.Attempts[0].Error == "" {
		t.Errorf("first attempt should record a's failure: %+v", res.Attempts[0])
	}
	if len(switches) != 1 || switches[0].From != "a" || switches[0].To != "b" {
		t.Errorf("switch events = %+v", switches)
	}
}

func TestManager_TerminalErrorSkipsRetries(t *testing.T) {
	a := &stubProvider{name: "a", fn: func(context.Context, int) (*Response, error) {
		return nil, &httpclient.StatusError{StatusCode: http.StatusUnauthorized, Strategy: httpclient.NoRetry}
	}}
	b := &stubProvider{name: "b", fn: okResponse("ok")}
	m := newTestManager(t, a, b)

	if _, err := m.Generate(context.Background(), &Request{}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got := a.calls.Load(); got != 1 {
		t.Errorf("401 must not be retried, got %d calls", got)
	}
}

func TestManager_RetrySucceedsOnSameProvider(t *testing.T) {
	a := &stubProvider{name: "a", fn: func(_ context.Context, call int) (*Response, error) {
		if call == 1 {
			return nil, &httpclient.StatusError{StatusCode: http.StatusBadGateway, Strategy: httpclient.ConservativeRetry}
		}
		return &Response{Text: "second try"}, nil
	}}
	b := &stubProvider{name: "b", fn: okResponse("unused")}
	m := newTestManager(t, a, b)

	res, err := m.Generate(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Provider != "a" || b.calls.Load() != 0 {
		t.Errorf("expected a to serve after retry, got %s (b calls %d)", res.Provider, b.calls.Load())
	}
}

func TestManager_AllExhausted(t *testing.T) {
	fail := func(context.Context, int) (*Response, error) { return nil, timeoutErr() }
	m := newTestManager(t, &stubProvider{name: "a", fn: fail}, &stubProvider{name: "b", fn: fail})

	_, err := m.Generate(context.Background(), &Request{})
	if !errors.Is(err, ErrAllProvidersExhausted) {
		t.Fatalf("expected ErrAllProvidersExhausted, got %v", err)
	}
	if !errors.Is(err, ErrProviderCallFailed) {
		t.Error("exhausted error should expose per-provider call failures")
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) || len(ex.Failures) != 2 {
		t.Fatalf("failures = %+v", ex)
	}
	if ex.Failures[0].Provider != "a" || ex.Failures[0].Attempts != 2 {
		t.Errorf("first failure = %+v", ex.Failures[0])
	}
}

func TestManager_CancelStopsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &stubProvider{name: "a", fn: func(ctx context.Context, _ int) (*Response, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	b := &stubProvider{name: "b", fn: okResponse("must not run")}
	m := newTestManager(t, a, b)

	_, err := m.Generate(ctx, &Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if a.calls.Load() != 1 || b.calls.Load() != 0 {
		t.Errorf("calls a=%d b=%d; cancellation must not retry or fail over", a.calls.Load(), b.calls.Load())
	}
}

func TestNewManager_FailsClosed(t *testing.T) {
	descs := []Descriptor{{Name: "openai", Priority: 1, HasCredential: false}}
	_, err := NewManager(context.Background(), descs, func(context.Context, Descriptor) (Provider, error) {
		t.Fatal("factory must not be called for providers without credentials")
		return nil, nil
	})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestManager_SelectSkipsUncredentialed(t *testing.T) {
	cfg := &config.Config{
		ProviderPriority: []string{"openai", "ollama"},
		Providers: map[string]*config.ProviderConfig{
			"openai": {},
			"ollama": {},
		},
	}
	cfg.SetDefaults()

	m, err := NewManagerFromConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewManagerFromConfig() error = %v", err)
	}
	sel, err := m.Select()
	if err != nil || sel.Name != "ollama" || sel.Model != "phi3:mini" {
		t.Errorf("Select() = %+v, %v", sel, err)
	}
	all := m.Providers()
	if len(all) != 2 || all[0].Available || !all[1].Available {
		t.Errorf("Providers() = %+v", all)
	}
}

// Failover over real adapters: the first endpoint hangs past its request
// timeout, the second answers.
func TestManager_HTTPFailover(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"message":{"role":"assistant","content":"Thought: done"},"prompt_eval_count":3,"eval_count":4}`))
	}))
	defer fast.Close()

	cfg := &config.Config{
		ProviderPriority: []string{"openai", "ollama"},
		Providers: map[string]*config.ProviderConfig{
			"openai": {APIKey: "sk", BaseURL: slow.URL, RequestTimeout: 50 * time.Millisecond, Retries: config.IntPtr(0)},
			"ollama": {BaseURL: fast.URL, Model: "llama3"},
		},
	}
	cfg.SetDefaults()

	m, err := NewManagerFromConfig(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	res, err := m.Generate(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Provider != "ollama" || res.Model != "llama3" || !strings.Contains(res.Text, "done") {
		t.Errorf("unexpected result %+v", res.Response)
	}
	if res.Usage.InputTokens != 3 || res.Usage.OutputTokens != 4 {
		t.Errorf("usage = %+v", res.Usage)
	}
	if res.Attempts[0].Provider != "openai" || res.Attempts[0].Error == "" {
		t.Errorf("openai attempt not recorded as failed: %+v", res.Attempts)
	}
}
