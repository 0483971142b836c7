// Package tools holds the tool registry the reasoning engine dispatches
// actions to, and the built-in tools.
package tools

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownTool is wrapped by results for actions naming no registered tool.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrDuplicateTool is returned when a tool name is registered twice.
	ErrDuplicateTool = errors.New("duplicate tool")

	// ErrToolExecution is wrapped by results of tools that failed or panicked.
	ErrToolExecution = errors.New("tool execution failed")

	// ErrInvalidArgs is returned when arguments do not decode into the tool's parameters.
	ErrInvalidArgs = errors.New("invalid tool arguments")
)

type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Schema      map[string]any  `json:"schema,omitempty"`
}

type ToolParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// ToolResult is the observation produced by one dispatch. Step ties it to the
// reasoning step that requested it.
type ToolResult struct {
	Success       bool           `json:"success"`
	Content       string         `json:"content,omitempty"`
	Error         string         `json:"error,omitempty"`
	ToolName      string         `json:"tool_name"`
	Step          int            `json:"step"`
	Params        map[string]any `json:"params,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`

	// Err carries the wrapped cause of a failed result for errors.Is checks.
	Err error `json:"-"`
}

// Observation renders the result the way it is fed back to the model.
func (r ToolResult) Observation() string {
	if r.Success {
		return r.Content
	}
	return "Error: " + r.Error
}

type Tool interface {
	GetInfo() ToolInfo

	// Execute runs the tool. A returned error is converted into a failed
	// result by the registry; tools may also return a failed result directly.
	Execute(ctx context.Context, args map[string]any) (ToolResult, error)

	GetName() string

	GetDescription() string
}

// failure builds a failed result whose Err wraps ErrToolExecution.
func failure(name, msg string) ToolResult {
	return ToolResult{
		Success:  false,
		ToolName: name,
		Error:    msg,
		Err:      fmt.Errorf("%w: %s", ErrToolExecution, msg),
	}
}
