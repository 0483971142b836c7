// Package server exposes the turn service, the document index and the
// provider catalog over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/reagent/pkg/agent"
	"github.com/kadirpekel/reagent/pkg/config"
	"github.com/kadirpekel/reagent/pkg/llms"
	"github.com/kadirpekel/reagent/pkg/observability"
	"github.com/kadirpekel/reagent/pkg/rag"
	"github.com/kadirpekel/reagent/pkg/ratelimit"
	"github.com/kadirpekel/reagent/pkg/reasoning"
	"github.com/kadirpekel/reagent/pkg/session"
	"github.com/kadirpekel/reagent/pkg/tools"
	"github.com/kadirpekel/reagent/pkg/vector"
)

// TurnService runs chat turns and proxies thread storage.
type TurnService interface {
	Chat(ctx context.Context, req agent.ChatRequest, observe reasoning.Observer) (*agent.ChatResponse, error)
	History(ctx context.Context, threadID string) (*session.Thread, error)
	Threads(ctx context.Context) ([]session.ThreadSummary, error)
	DeleteThread(ctx context.Context, threadID string) error
}

// ModelCatalog reports configured providers.
type ModelCatalog interface {
	Select() (llms.Descriptor, error)
	Providers() []llms.Descriptor
}

type DocumentIngester interface {
	Ingest(ctx context.Context, doc rag.Document) (rag.IngestResult, error)
}

type ToolCatalog interface {
	ListTools() []tools.ToolInfo
}

// Options wires the server to its collaborators. Service is required; the
// document routes are only mounted when both Ingester and Index are set.
type Options struct {
	Config   *config.ServerConfig
	Version  string
	Service  TurnService
	Models   ModelCatalog
	Ingester DocumentIngester
	Index    vector.Store
	Tools    ToolCatalog

	Metrics        observability.Metrics
	MetricsHandler http.Handler
}

type Server struct {
	cfg     *config.ServerConfig
	opts    Options
	limiter *ratelimit.Limiter
	handler http.Handler
	server  *http.Server
	logger  *slog.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("turn service is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.ServerConfig{}
	}
	cfg.SetDefaults()
	if opts.Metrics == nil {
		opts.Metrics = observability.GetGlobalMetrics()
	}

	s := &Server{
		cfg:    cfg,
		opts:   opts,
		logger: slog.Default().With("component", "server"),
	}
	if config.BoolValue(cfg.RateLimit.Enabled, true) {
		s.limiter = ratelimit.NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(s.opts.Metrics))
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/models", s.handleModels)
	r.Get("/tools", s.handleTools)

	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(ratelimit.MiddlewareConfig{Limiter: s.limiter}))
		r.Post("/chat", s.handleChat)
		r.Post("/invoke", s.handleInvoke)
		r.Post("/stream", s.handleStream)
	})

	r.Route("/threads", func(r chi.Router) {
		r.Get("/", s.handleListThreads)
		r.Get("/{threadID}", s.handleGetThread)
		r.Get("/{threadID}/messages", s.handleThreadMessages)
		r.Delete("/{threadID}", s.handleDeleteThread)
	})

	if s.opts.Ingester != nil && s.opts.Index != nil {
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", s.handleUpload)
			r.Get("/", s.handleListDocuments)
			r.Delete("/{documentID}", s.handleDeleteDocument)
		})
	}

	if s.opts.MetricsHandler != nil {
		r.Handle("/metrics", s.opts.MetricsHandler)
	}
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		// Streams stay open for a whole turn.
		WriteTimeout: s.cfg.TurnTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("HTTP server starting", "address", s.cfg.Address)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown waits for in-flight requests up to the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("HTTP server shutting down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	origins := s.cfg.CORSOrigins
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(origins) == 0 {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin := r.Header.Get("Origin"); origin != "" {
			for _, allowed := range origins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Filename, X-Client-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware does not wrap the ResponseWriter so SSE flushing keeps working.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}
