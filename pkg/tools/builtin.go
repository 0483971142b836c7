package tools

import (
	"fmt"
	"log/slog"

	"github.com/kadirpekel/reagent/pkg/config"
	"github.com/kadirpekel/reagent/pkg/vector"
)

// NewBuiltinRegistry registers the enabled built-in tools. Document tools are
// skipped with a warning when no store is available.
func NewBuiltinRegistry(cfg *config.ToolsConfig, store vector.Store, embedder QueryEmbedder) (*ToolRegistry, error) {
	if cfg == nil {
		cfg = &config.ToolsConfig{}
		cfg.SetDefaults()
	}
	reg := NewToolRegistry()

	for _, name := range config.AllTools {
		if !cfg.IsEnabled(name) {
			continue
		}

		var (
			tool Tool
			err  error
		)
		switch name {
		case config.ToolWebSearch:
			tool, err = NewWebSearchTool(cfg.WebSearch)
		case config.ToolCalculator:
			tool, err = NewCalculatorTool()
		case config.ToolCodeExecution:
			tool, err = NewCodeExecutionTool(cfg.CodeExecution)
		case config.ToolDocumentSearch:
			if store == nil || embedder == nil {
				slog.Warn("Skipping tool without a document index", "tool", name)
				continue
			}
			tool, err = NewDocumentSearchTool(cfg.DocumentSearch, store, embedder)
		case config.ToolListDocuments:
			if store == nil {
				slog.Warn("Skipping tool without a document index", "tool", name)
				continue
			}
			tool, err = NewListDocumentsTool(cfg.ListDocuments, store)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create tool %s: %w", name, err)
		}
		if err := reg.Register(tool); err != nil {
			return nil, err
		}
	}

	slog.Info("Tools registered", "tools", reg.Names())
	return reg, nil
}
