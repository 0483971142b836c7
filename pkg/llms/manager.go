package llms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/kadirpekel/reagent/pkg/config"
	"github.com/kadirpekel/reagent/pkg/httpclient"
	"github.com/kadirpekel/reagent/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Descriptor is the immutable view of one configured provider.
type Descriptor struct {
	Name           string        `json:"name"`
	Type           string        `json:"type"`
	Priority       int           `json:"priority"`
	Model          string        `json:"model"`
	BaseURL        string        `json:"base_url,omitempty"`
	HasCredential  bool          `json:"has_credential"`
	Available      bool          `json:"available"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	RequestTimeout time.Duration `json:"request_timeout"`
	Retries        int           `json:"retries"`
	Backoff        time.Duration `json:"backoff"`
}

// Descriptors lists the providers named in the priority list, in order.
func Descriptors(cfg *config.Config) []Descriptor {
	names := cfg.OrderedProviders()
	out := make([]Descriptor, 0, len(names))
	for i, name := range names {
		p := cfg.Providers[name]
		retries := 0
		if p.Retries != nil {
			retries = *p.Retries
		}
		out = append(out, Descriptor{
			Name:           name,
			Type:           p.Type,
			Priority:       i + 1,
			Model:          p.Model,
			BaseURL:        p.BaseURL,
			HasCredential:  p.HasCredential(),
			ConnectTimeout: p.ConnectTimeout,
			RequestTimeout: p.RequestTimeout,
			Retries:        retries,
			Backoff:        p.Backoff,
		})
	}
	return out
}

// Factory builds the adapter for a descriptor.
type Factory func(ctx context.Context, d Descriptor) (Provider, error)

// ConfigFactory builds adapters from the provider section of cfg.
func ConfigFactory(cfg *config.Config) Factory {
	return func(ctx context.Context, d Descriptor) (Provider, error) {
		return New(ctx, d.Name, cfg.Providers[d.Name])
	}
}

// Attempt records one call to one provider.
type Attempt struct {
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Try      int           `json:"try"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// SwitchEvent is emitted when the manager moves to the next provider.
type SwitchEvent struct {
	From      string
	FromModel string
	To        string
	ToModel   string
	Err       error
}

// Result is a successful generation plus the attempts that led to it.
type Result struct {
	*Response
	Attempts []Attempt
}

type entry struct {
	desc     Descriptor
	provider Provider
}

// Manager selects providers by priority and fails over between them.
// Calls are sequential; providers are never raced.
type Manager struct {
	all        []Descriptor
	entries    []entry
	logger     *slog.Logger
	metrics    observability.Metrics
	tracer     trace.Tracer
	maxBackoff time.Duration
}

type ManagerOption func(*Manager)

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

func WithMetrics(metrics observability.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithMaxBackoff caps a single retry wait, including provider Retry-After hints.
func WithMaxBackoff(d time.Duration) ManagerOption {
	return func(m *Manager) { m.maxBackoff = d }
}

// NewManager builds adapters for every credentialed descriptor. Descriptors
// without a credential, or whose adapter cannot be built, are skipped and
// never called. It fails closed with ErrProviderUnavailable.
func NewManager(ctx context.Context, descs []Descriptor, factory Factory, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		logger:     slog.Default().With("component", "llms"),
		metrics:    observability.GetGlobalMetrics(),
		tracer:     observability.GetTracer("reagent.llm"),
		maxBackoff: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}

	sorted := append([]Descriptor(nil), descs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	for _, d := range sorted {
		if !d.HasCredential {
			m.logger.Warn("Skipping provider without credential", "provider", d.Name)
			m.all = append(m.all, d)
			continue
		}
		p, err := factory(ctx, d)
		if err != nil {
			m.logger.Warn("Skipping provider", "provider", d.Name, "error", err)
			m.all = append(m.all, d)
			continue
		}
		d.Available = true
		m.all = append(m.all, d)
		m.entries = append(m.entries, entry{desc: d, provider: p})
	}

	if len(m.entries) == 0 {
		return nil, fmt.Errorf("%w: none of %d configured provider(s) is usable", ErrProviderUnavailable, len(descs))
	}
	return m, nil
}

// NewManagerFromConfig is NewManager over the config's priority list.
func NewManagerFromConfig(ctx context.Context, cfg *config.Config, opts ...ManagerOption) (*Manager, error) {
	return NewManager(ctx, Descriptors(cfg), ConfigFactory(cfg), opts...)
}

// Select returns the highest-priority usable provider.
func (m *Manager) Select() (Descriptor, error) {
	if len(m.entries) == 0 {
		return Descriptor{}, ErrProviderUnavailable
	}
	return m.entries[0].desc, nil
}

// Providers returns every configured descriptor in priority order.
func (m *Manager) Providers() []Descriptor {
	return append([]Descriptor(nil), m.all...)
}

type callOptions struct {
	onSwitch func(SwitchEvent)
}

type CallOption func(*callOptions)

// OnSwitch registers a callback for provider switches during one call.
func OnSwitch(fn func(SwitchEvent)) CallOption {
	return func(o *callOptions) { o.onSwitch = fn }
}

// Generate tries each provider in priority order, retrying retryable
// failures with exponential backoff before moving on. A cancelled context
// returns ctx.Err() at once.
func (m *Manager) Generate(ctx context.Context, req *Request, opts ...CallOption) (*Result, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	var attempts []Attempt
	var failures []*CallError

	for i, e := range m.entries {
		resp, tries, err := m.tryProvider(ctx, e, req, &attempts)
		if err == nil {
			if i > 0 {
				m.logger.Info("Response served by fallback provider", "provider", e.desc.Name, "model", e.desc.Model, "attempts", len(attempts))
			}
			return &Result{Response: resp, Attempts: attempts}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		failures = append(failures, newCallError(e.provider, tries, err))

		if i+1 < len(m.entries) {
			next := m.entries[i+1].desc
			m.logger.Warn("Provider failed, switching",
				"from", e.desc.Name, "from_model", e.desc.Model,
				"to", next.Name, "to_model", next.Model,
				"error", err)
			m.metrics.RecordProviderSwitch(ctx, e.desc.Name, next.Name)
			if co.onSwitch != nil {
				co.onSwitch(SwitchEvent{
					From: e.desc.Name, FromModel: e.desc.Model,
					To: next.Name, ToModel: next.Model,
					Err: err,
				})
			}
		}
	}

	exhausted := &ExhaustedError{Failures: failures}
	m.logger.Error("All providers exhausted", "providers", len(failures), "error", exhausted)
	return nil, exhausted
}

func (m *Manager) tryProvider(ctx context.Context, e entry, req *Request, attempts *[]Attempt) (*Response, int, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.desc.Backoff
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = time.Second
	}
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.1
	exp.MaxInterval = m.maxBackoff

	tries := 0
	var lastErr error

	op := func() (*Response, error) {
		tries++
		resp, err := m.attempt(ctx, e, req, tries)
		rec := Attempt{Provider: e.desc.Name, Model: e.desc.Model, Try: tries}
		if resp != nil {
			rec.Duration = resp.Duration
		}
		if err != nil {
			rec.Error = err.Error()
		}
		*attempts = append(*attempts, rec)

		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || !httpclient.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		if ra := httpclient.RetryAfter(err); ra > 0 {
			if ra > m.maxBackoff {
				// Waiting that long would stall the turn; let the next provider answer.
				return nil, backoff.Permanent(err)
			}
			return nil, backoff.RetryAfter(int(math.Ceil(ra.Seconds())))
		}
		return nil, err
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(e.desc.Retries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			m.logger.Info("Retrying provider", "provider", e.desc.Name, "attempt", tries, "max_attempts", e.desc.Retries+1, "wait", wait, "error", err)
		}),
	)
	if err != nil {
		if ctx.Err() == nil && lastErr != nil && !errors.Is(err, lastErr) {
			err = lastErr
		}
		return nil, tries, err
	}
	return resp, tries, nil
}

func (m *Manager) attempt(ctx context.Context, e entry, req *Request, try int) (*Response, error) {
	ctx, span := m.tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMProvider, e.desc.Name),
			attribute.String(observability.AttrLLMModel, e.desc.Model),
			attribute.Int(observability.AttrLLMAttempt, try),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := e.provider.Generate(ctx, req)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.metrics.RecordLLMCall(ctx, e.desc.Name, e.desc.Model, duration, 0, 0, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int(observability.AttrLLMTokensInput, resp.Usage.InputTokens),
		attribute.Int(observability.AttrLLMTokensOutput, resp.Usage.OutputTokens),
	)
	span.SetStatus(codes.Ok, "success")
	m.metrics.RecordLLMCall(ctx, e.desc.Name, e.desc.Model, duration, resp.Usage.InputTokens, resp.Usage.OutputTokens, nil)

	if resp.Provider == "" {
		resp.Provider = e.desc.Name
	}
	if resp.Model == "" {
		resp.Model = e.desc.Model
	}
	if resp.Duration == 0 {
		resp.Duration = duration
	}
	return resp, nil
}
