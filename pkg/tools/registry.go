package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/reagent/pkg/observability"
	"github.com/kadirpekel/reagent/pkg/registry"
)

// ToolRegistry maps action names to tools. It is populated at startup and
// read concurrently by turns afterwards.
type ToolRegistry struct {
	*registry.BaseRegistry[Tool]
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{BaseRegistry: registry.NewBaseRegistry[Tool]()}
}

// Register adds a tool under its own name.
func (r *ToolRegistry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	name := tool.GetName()
	if err := r.BaseRegistry.Register(name, tool); err != nil {
		if errors.Is(err, registry.ErrAlreadyExists) {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
		}
		return err
	}
	slog.Debug("Registered tool", "tool", name)
	return nil
}

// Names returns the registered tool names in lexical order.
func (r *ToolRegistry) Names() []string {
	names := r.BaseRegistry.Names()
	sort.Strings(names)
	return names
}

// ListTools returns tool metadata sorted by name.
func (r *ToolRegistry) ListTools() []ToolInfo {
	names := r.Names()
	infos := make([]ToolInfo, 0, len(names))
	for _, name := range names {
		if t, ok := r.Get(name); ok {
			infos = append(infos, t.GetInfo())
		}
	}
	return infos
}

// Describe renders every tool as a "**name**\ndescription" block for prompts.
func (r *ToolRegistry) Describe() string {
	names := r.Names()
	if len(names) == 0 {
		return "No tools available."
	}
	blocks := make([]string, 0, len(names))
	for _, name := range names {
		t, _ := r.Get(name)
		blocks = append(blocks, fmt.Sprintf("**%s**\n%s", name, t.GetDescription()))
	}
	return strings.Join(blocks, "\n\n")
}

// Dispatch runs the named tool. It never fails: unknown tools, argument
// errors, execution errors and panics all come back as failed results.
func (r *ToolRegistry) Dispatch(ctx context.Context, name string, args map[string]any) (result ToolResult) {
	start := time.Now()
	if args == nil {
		args = map[string]any{}
	}

	tracer := observability.GetTracer("reagent.tools")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(attribute.String(observability.AttrToolName, name)),
	)
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			slog.Error("Tool panicked", "tool", name, "panic", p)
			result = failure(name, fmt.Sprintf("Tool execution failed: panic: %v", p))
		}

		result.ToolName = name
		result.Params = args
		result.ExecutionTime = time.Since(start)

		if result.Success {
			span.SetStatus(codes.Ok, "success")
		} else {
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, result.Error)
		}
		span.SetAttributes(
			attribute.Bool(observability.AttrToolSuccess, result.Success),
			attribute.Int64("tool.duration_ms", result.ExecutionTime.Milliseconds()),
		)
		observability.GetGlobalMetrics().RecordToolExecution(ctx, name, result.ExecutionTime, result.Err)
	}()

	tool, ok := r.Get(name)
	if !ok {
		msg := fmt.Sprintf("Tool '%s' not found. Available tools: %v", name, r.Names())
		slog.Warn("Unknown tool requested", "tool", name)
		return ToolResult{
			Success: false,
			Error:   msg,
			Err:     fmt.Errorf("%w: %s", ErrUnknownTool, name),
		}
	}

	slog.Info("Executing tool", "tool", name, "params", args)
	res, err := tool.Execute(ctx, args)
	if err != nil {
		slog.Error("Tool execution failed", "tool", name, "error", err)
		res = failure(name, "Tool execution failed: "+err.Error())
		res.Err = fmt.Errorf("%w: %w", ErrToolExecution, err)
		return res
	}
	if !res.Success && res.Err == nil {
		res.Err = fmt.Errorf("%w: %s", ErrToolExecution, res.Error)
	}
	return res
}
