package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kadirpekel/reagent/pkg/agent"
	"github.com/kadirpekel/reagent/pkg/config"
	"github.com/kadirpekel/reagent/pkg/embedders"
	"github.com/kadirpekel/reagent/pkg/llms"
	"github.com/kadirpekel/reagent/pkg/observability"
	"github.com/kadirpekel/reagent/pkg/rag"
	"github.com/kadirpekel/reagent/pkg/reasoning"
	"github.com/kadirpekel/reagent/pkg/session"
	"github.com/kadirpekel/reagent/pkg/tools"
	"github.com/kadirpekel/reagent/pkg/utils"
	"github.com/kadirpekel/reagent/pkg/vector"
)

// app holds every long-lived component built from one Config.
type app struct {
	cfg      *config.Config
	obs      *observability.Manager
	llm      *llms.Manager
	embedder embedders.Embedder
	index    vector.Store
	ingester *rag.Ingester
	tools    *tools.ToolRegistry
	store    session.Store
	engine   *reasoning.Engine
	service  *agent.Service
}

// appOverrides replaces components in tests.
type appOverrides struct {
	factory llms.Factory
}

func buildApp(ctx context.Context, cfg *config.Config, ov appOverrides) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.obs = observability.NewManager(cfg.Observability)
	if err := a.obs.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}
	metrics := a.obs.GetMetrics()

	mgrOpts := []llms.ManagerOption{llms.WithMetrics(metrics)}
	if ov.factory != nil {
		a.llm, err = llms.NewManager(ctx, llms.Descriptors(cfg), ov.factory, mgrOpts...)
	} else {
		a.llm, err = llms.NewManagerFromConfig(ctx, cfg, mgrOpts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create provider manager: %w", err)
	}

	if a.embedder, err = embedders.New(&cfg.Embedder); err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	if a.index, err = vector.New(ctx, &cfg.Vector, a.embedder.Dimension()); err != nil {
		return nil, fmt.Errorf("failed to open embedding index: %w", err)
	}
	a.ingester, err = rag.NewIngester(&cfg.RAG, a.index, a.embedder,
		rag.WithTokenCounter(utils.NewTokenCounter(a.embedder.Model())))
	if err != nil {
		return nil, err
	}

	if a.tools, err = tools.NewBuiltinRegistry(&cfg.Tools, a.index, a.embedder); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	if a.store, err = session.New(ctx, &cfg.Session); err != nil {
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}

	a.engine = reasoning.NewEngine(a.llm, a.tools, cfg.Agent, cfg.Generation,
		reasoning.WithMetrics(metrics),
		reasoning.WithTokenCounter(utils.NewTokenCounter(cfg.Agent.TokenizerModel)),
	)
	a.service = agent.NewService(a.engine, a.store)

	slog.Info("Components ready",
		"providers", len(a.llm.Providers()),
		"tools", a.tools.Names(),
		"index", a.index.Name(),
		"session", cfg.Session.Driver,
	)
	return a, nil
}

func (a *app) metricsHandler() http.Handler {
	if a.obs == nil {
		return nil
	}
	return a.obs.MetricsHandler()
}

// Close releases stores and flushes telemetry.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("conversation store: %w", err))
		}
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("embedding index: %w", err))
		}
	}
	if a.obs != nil {
		if err := a.obs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("observability: %w", err))
		}
	}
	return errors.Join(errs...)
}
