package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/reagent/pkg/config"
)

type codeExecutionArgs struct {
	Code    string  `json:"code" jsonschema:"required,description=Python code to execute"`
	Timeout float64 `json:"timeout,omitempty" jsonschema:"description=Execution timeout in seconds,default=10"`
}

// CodeExecutor runs untrusted snippets in a child interpreter process with an
// empty environment and a throwaway working directory. The child leads its own
// process group, which is killed when the run ends. Python interpreters get
// rlimits for memory, CPU time, file size and process count.
type CodeExecutor struct {
	cfg config.CodeExecutionConfig
}

func NewCodeExecutor(cfg config.CodeExecutionConfig) *CodeExecutor {
	if cfg.Interpreter == "" {
		cfg.Interpreter = "python3"
		cfg.Args = []string{"-I", "-c"}
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 30 * time.Second
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 64 << 10
	}
	if cfg.MaxMemoryBytes == 0 {
		cfg.MaxMemoryBytes = 256 << 20
	}
	if cfg.MaxCPUTime == 0 {
		cfg.MaxCPUTime = 10 * time.Second
	}
	if cfg.MaxFileBytes == 0 {
		cfg.MaxFileBytes = 16 << 20
	}
	return &CodeExecutor{cfg: cfg}
}

// limitPreamble returns python source that lowers the interpreter's own
// rlimits before the snippet runs, or "" for other interpreters.
func (e *CodeExecutor) limitPreamble() string {
	if !strings.HasPrefix(filepath.Base(e.cfg.Interpreter), "python") {
		return ""
	}
	var limits []string
	add := func(name string, soft, hard int64) {
		if soft > 0 {
			limits = append(limits, fmt.Sprintf("(%q, %d, %d)", name, soft, hard))
		}
	}
	add("RLIMIT_AS", e.cfg.MaxMemoryBytes, e.cfg.MaxMemoryBytes)
	if cpu := int64(e.cfg.MaxCPUTime.Seconds()); e.cfg.MaxCPUTime > 0 {
		cpu = max(cpu, 1)
		// SIGXCPU at the soft limit, SIGKILL one second later.
		add("RLIMIT_CPU", cpu, cpu+1)
	}
	add("RLIMIT_FSIZE", e.cfg.MaxFileBytes, e.cfg.MaxFileBytes)
	add("RLIMIT_NPROC", int64(e.cfg.MaxProcesses), int64(e.cfg.MaxProcesses))
	if len(limits) == 0 {
		return ""
	}
	return "import resource as _r\n" +
		"for _n, _s, _h in (" + strings.Join(limits, ", ") + ",):\n" +
		"    try: _r.setrlimit(getattr(_r, _n), (_s, _h))\n" +
		"    except (AttributeError, ValueError, OSError): pass\n" +
		"del _r, _n, _s, _h\n"
}

// NewCodeExecutionTool exposes the executor as the code_execution tool.
func NewCodeExecutionTool(cfg config.CodeExecutionConfig) (Tool, error) {
	e := NewCodeExecutor(cfg)
	return NewFunctionTool(FunctionConfig{
		Name: config.ToolCodeExecution,
		Description: "Execute Python code in an isolated child process. Use for data processing, " +
			"analysis or complex calculations. Network and file system access are not guaranteed.",
		Example: `code_execution(code="data = [1,2,3,4,5]\nprint(sum(data)/len(data))")`,
	}, func(ctx context.Context, args codeExecutionArgs) (ToolResult, error) {
		timeout := e.cfg.DefaultTimeout
		if args.Timeout > 0 {
			timeout = time.Duration(args.Timeout * float64(time.Second))
		}
		return e.Run(ctx, args.Code, timeout)
	})
}

// Run executes code with a hard wall-clock limit capped by MaxTimeout.
// A cancelled parent context is returned as an error; everything else is a result.
func (e *CodeExecutor) Run(ctx context.Context, code string, timeout time.Duration) (ToolResult, error) {
	if timeout <= 0 || timeout > e.cfg.MaxTimeout {
		timeout = min(max(timeout, e.cfg.DefaultTimeout), e.cfg.MaxTimeout)
	}

	workDir, err := os.MkdirTemp("", "reagent-exec-*")
	if err != nil {
		return ToolResult{}, fmt.Errorf("failed to create working directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string(nil), e.cfg.Args...), e.limitPreamble()+code)
	cmd := exec.CommandContext(runCtx, e.cfg.Interpreter, args...)
	cmd.Dir = workDir
	cmd.Env = []string{}
	cmd.WaitDelay = time.Second
	isolateProcess(cmd)

	stdout := &cappedBuffer{limit: e.cfg.MaxOutputBytes}
	stderr := &cappedBuffer{limit: e.cfg.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)
	killGroup(cmd)

	if ctx.Err() != nil {
		return ToolResult{}, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return failure(config.ToolCodeExecution,
			fmt.Sprintf("Code execution timed out after %s seconds", strconv.FormatFloat(timeout.Seconds(), 'f', -1, 64))), nil
	}

	meta := map[string]any{
		"code":        code,
		"duration_ms": elapsed.Milliseconds(),
		"truncated":   stdout.truncated || stderr.truncated,
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(runErr, &exitErr):
		if reason := limitExceeded(exitErr, stderr.String()); reason != "" {
			res := failure(config.ToolCodeExecution, "Code execution exceeded resource limits: "+reason)
			meta["returncode"] = exitErr.ExitCode()
			res.Metadata = meta
			return res, nil
		}
		res := failure(config.ToolCodeExecution, "Code execution failed:\n"+strings.TrimSpace(stderr.String()))
		meta["returncode"] = exitErr.ExitCode()
		res.Metadata = meta
		return res, nil
	case runErr != nil:
		return failure(config.ToolCodeExecution, "Code execution failed: "+runErr.Error()), nil
	}

	output := strings.TrimSpace(stdout.String())
	meta["output"] = output
	meta["returncode"] = 0
	return ToolResult{
		Success:  true,
		Content:  fmt.Sprintf("Code executed successfully:\n\n```python\n%s\n```\n\nOutput:\n```\n%s\n```", code, output),
		Metadata: meta,
	}, nil
}

// limitExceeded names the limit that ended the child, or returns "".
func limitExceeded(exitErr *exec.ExitError, stderr string) string {
	if sig, ok := limitSignal(exitErr); ok {
		return "terminated by " + sig
	}
	switch {
	case strings.Contains(stderr, "MemoryError"):
		return "memory"
	case strings.Contains(stderr, "File too large"):
		return "file size"
	case strings.Contains(stderr, "Resource temporarily unavailable") && strings.Contains(stderr, "fork"):
		return "processes"
	}
	return ""
}

// cappedBuffer keeps the first limit bytes written and discards the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room < len(p) {
		b.truncated = true
		if room > 0 {
			b.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
