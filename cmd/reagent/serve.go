package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/reagent/pkg/rag"
	"github.com/kadirpekel/reagent/pkg/server"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Address  string `help:"Listen address (overrides server.address)." placeholder:"HOST:PORT"`
	WatchDir string `name:"watch-dir" help:"Directory to ingest and watch (overrides rag.watch_dir)." type:"path"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := cli.load()
	if err != nil {
		return err
	}
	if c.Address != "" {
		cfg.Server.Address = c.Address
	}
	if c.WatchDir != "" {
		cfg.RAG.WatchDir = c.WatchDir
	}

	a, err := buildApp(ctx, cfg, appOverrides{})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			slog.Warn("Shutdown error", "error", err)
		}
	}()

	if dir := cfg.RAG.WatchDir; dir != "" {
		watcher := rag.NewDirectoryWatcher(dir, a.ingester, 0)
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Directory watcher stopped", "dir", dir, "error", err)
			}
		}()
	}

	srv, err := server.New(server.Options{
		Config:         &cfg.Server,
		Version:        version(),
		Service:        a.service,
		Models:         a.llm,
		Ingester:       a.ingester,
		Index:          a.index,
		Tools:          a.tools,
		Metrics:        a.obs.GetMetrics(),
		MetricsHandler: a.metricsHandler(),
	})
	if err != nil {
		return err
	}

	fmt.Printf("\nreagent server ready\n")
	fmt.Printf("   Chat:    POST http://%s/chat\n", displayAddress(cfg.Server.Address))
	fmt.Printf("   Stream:  POST http://%s/stream\n", displayAddress(cfg.Server.Address))
	fmt.Printf("   Health:  GET  http://%s/health\n\n", displayAddress(cfg.Server.Address))

	return srv.Start(ctx)
}

func displayAddress(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
