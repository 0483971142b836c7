package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type echoArgs struct {
	Text  string `json:"text" jsonschema:"required,description=Text to echo"`
	Times int    `json:"times,omitempty" jsonschema:"description=Repetitions,default=1"`
}

func newEchoTool(t *testing.T, name string) Tool {
	t.Helper()
	tool, err := NewFunctionTool(FunctionConfig{Name: name, Description: "Echo text back."},
		func(_ context.Context, args echoArgs) (ToolResult, error) {
			n := max(args.Times, 1)
			return ToolResult{Success: true, Content: strings.Repeat(args.Text, n)}, nil
		})
	if err != nil {
		t.Fatalf("NewFunctionTool() error = %v", err)
	}
	return tool
}

func TestToolRegistry_RegisterDuplicate(t *testing.T) {
	reg := NewToolRegistry()
	if err := reg.Register(newEchoTool(t, "echo")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	err := reg.Register(newEchoTool(t, "echo"))
	if !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("Register() duplicate error = %v, want ErrDuplicateTool", err)
	}
}

func TestToolRegistry_DispatchUnknown(t *testing.T) {
	reg := NewToolRegistry()
	_ = reg.Register(newEchoTool(t, "echo"))
	_ = reg.Register(newEchoTool(t, "alpha"))

	res := reg.Dispatch(context.Background(), "teleport", nil)
	if res.Success {
		t.Fatal("expected failed result")
	}
	if res.ToolName != "teleport" {
		t.Errorf("ToolName = %q", res.ToolName)
	}
	want := "Tool 'teleport' not found. Available tools: [alpha echo]"
	if res.Error != want {
		t.Errorf("Error = %q, want %q", res.Error, want)
	}
	if !errors.Is(res.Err, ErrUnknownTool) {
		t.Errorf("Err = %v, want ErrUnknownTool", res.Err)
	}
}

func TestToolRegistry_DispatchWeakTyping(t *testing.T) {
	reg := NewToolRegistry()
	_ = reg.Register(newEchoTool(t, "echo"))

	res := reg.Dispatch(context.Background(), "echo", map[string]any{"text": "ab", "times": "3"})
	if !res.Success {
		t.Fatalf("Dispatch() failed: %s", res.Error)
	}
	if res.Content != "ababab" {
		t.Errorf("Content = %q", res.Content)
	}
	if res.Params["times"] != "3" {
		t.Errorf("Params = %v", res.Params)
	}
}

func TestToolRegistry_DispatchMissingRequired(t *testing.T) {
	reg := NewToolRegistry()
	_ = reg.Register(newEchoTool(t, "echo"))

	res := reg.Dispatch(context.Background(), "echo", map[string]any{})
	if res.Success {
		t.Fatal("expected failed result")
	}
	if !errors.Is(res.Err, ErrToolExecution) || !errors.Is(res.Err, ErrInvalidArgs) {
		t.Errorf("Err = %v", res.Err)
	}
	if !strings.Contains(res.Error, "text parameter is required") {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestNewFunctionTool_UnnamedArgs(t *testing.T) {
	empty, err := NewFunctionTool(FunctionConfig{Name: "noop"}, func(context.Context, struct{}) (ToolResult, error) {
		return ToolResult{Success: true}, nil
	})
	if err != nil {
		t.Fatalf("NewFunctionTool(struct{}) error = %v", err)
	}
	if info := empty.GetInfo(); len(info.Parameters) != 0 {
		t.Errorf("Parameters = %+v, want none", info.Parameters)
	}

	inline, err := NewFunctionTool(FunctionConfig{Name: "inline"}, func(context.Context, struct {
		Query string `json:"query" jsonschema:"required"`
	}) (ToolResult, error) {
		return ToolResult{Success: true}, nil
	})
	if err != nil {
		t.Fatalf("NewFunctionTool(inline struct) error = %v", err)
	}
	params := inline.GetInfo().Parameters
	if len(params) != 1 || params[0].Name != "query" || !params[0].Required {
		t.Errorf("Parameters = %+v", params)
	}
}

func TestToolRegistry_DispatchRecoversPanic(t *testing.T) {
	tool, err := NewFunctionTool(FunctionConfig{Name: "boom"}, func(context.Context, struct{}) (ToolResult, error) {
		panic("kaboom")
	})
	if err != nil {
		t.Fatal(err)
	}
	reg := NewToolRegistry()
	_ = reg.Register(tool)

	res := reg.Dispatch(context.Background(), "boom", nil)
	if res.Success || !errors.Is(res.Err, ErrToolExecution) {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Error, "kaboom") {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestToolRegistry_DispatchExecutionError(t *testing.T) {
	cause := errors.New("backend down")
	tool, _ := NewFunctionTool(FunctionConfig{Name: "flaky"}, func(context.Context, struct{}) (ToolResult, error) {
		return ToolResult{}, cause
	})
	reg := NewToolRegistry()
	_ = reg.Register(tool)

	res := reg.Dispatch(context.Background(), "flaky", nil)
	if res.Success {
		t.Fatal("expected failed result")
	}
	if !errors.Is(res.Err, ErrToolExecution) || !errors.Is(res.Err, cause) {
		t.Errorf("Err = %v", res.Err)
	}
	if res.Observation() != "Error: Tool execution failed: backend down" {
		t.Errorf("Observation() = %q", res.Observation())
	}
}

func TestToolRegistry_ListAndDescribe(t *testing.T) {
	reg := NewToolRegistry()
	_ = reg.Register(newEchoTool(t, "zeta"))
	_ = reg.Register(newEchoTool(t, "beta"))

	infos := reg.ListTools()
	if len(infos) != 2 || infos[0].Name != "beta" || infos[1].Name != "zeta" {
		t.Fatalf("ListTools() = %+v", infos)
	}
	if len(infos[0].Parameters) != 2 || infos[0].Parameters[0].Name != "text" || !infos[0].Parameters[0].Required {
		t.Errorf("Parameters = %+v", infos[0].Parameters)
	}
	if infos[0].Schema["type"] != "object" {
		t.Errorf("Schema = %v", infos[0].Schema)
	}

	desc := reg.Describe()
	if !strings.HasPrefix(desc, "**beta**\nEcho text back.") {
		t.Errorf("Describe() = %q", desc)
	}
	if !strings.Contains(desc, "\n\n**zeta**\n") {
		t.Errorf("Describe() missing zeta block: %q", desc)
	}
	if !strings.Contains(desc, "- times (integer, optional): Repetitions (default: 1)") {
		t.Errorf("Describe() parameters: %q", desc)
	}

	if got := NewToolRegistry().Describe(); got != "No tools available." {
		t.Errorf("empty Describe() = %q", got)
	}
}
