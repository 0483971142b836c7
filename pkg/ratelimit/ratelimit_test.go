package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestLimiter(rps float64, burst int) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiter(rps, burst)
	l.now = clock.now
	l.lastGC = clock.t
	return l, clock
}

func TestLimiter_BurstThenRefill(t *testing.T) {
	l, clock := newTestLimiter(1, 2)

	for i := range 2 {
		if res := l.Allow("a"); !res.Allowed {
			t.Fatalf("request %d rejected", i)
		}
	}
	res := l.Allow("a")
	if res.Allowed {
		t.Fatal("third request allowed")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Second {
		t.Errorf("RetryAfter = %v", res.RetryAfter)
	}

	// A rejected request must not consume a future token.
	clock.t = clock.t.Add(time.Second)
	if res := l.Allow("a"); !res.Allowed {
		t.Fatal("request after refill rejected")
	}
}

func TestLimiter_IndependentClients(t *testing.T) {
	l, _ := newTestLimiter(1, 1)
	if !l.Allow("a").Allowed {
		t.Fatal("a rejected")
	}
	if !l.Allow("b").Allowed {
		t.Fatal("b rejected")
	}
	if l.Allow("a").Allowed {
		t.Fatal("a allowed twice")
	}
}

func TestLimiter_SweepsIdleClients(t *testing.T) {
	l, clock := newTestLimiter(1, 1)
	l.Allow("a")
	clock.t = clock.t.Add(11 * time.Minute)
	l.Allow("b")
	if got := l.Clients(); got != 1 {
		t.Errorf("Clients() = %d, want 1", got)
	}
}

func TestMiddleware(t *testing.T) {
	l, _ := newTestLimiter(1, 1)
	h := Middleware(MiddlewareConfig{Limiter: l})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("first status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	var body struct {
		Error struct{ Code string } `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != "rate_limit_exceeded" {
		t.Errorf("code = %q", body.Error.Code)
	}
}

func TestDefaultIdentifierFunc(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"remote host", nil, "192.168.1.2:1234", "192.168.1.2"},
		{"forwarded", map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2"}, "10.0.0.1:1", "1.1.1.1"},
		{"client id", map[string]string{"X-Client-ID": "cli-7", "X-Forwarded-For": "1.1.1.1"}, "10.0.0.1:1", "cli-7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			if got := DefaultIdentifierFunc(r); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
