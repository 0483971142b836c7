package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"golang.org/x/term"

	"github.com/kadirpekel/reagent/pkg/agent"
	"github.com/kadirpekel/reagent/pkg/reasoning"
)

// ChatCmd runs the turn service in a terminal loop.
type ChatCmd struct {
	Thread  string `help:"Continue an existing thread."`
	Message string `short:"m" help:"Send one message and exit."`
	Trace   bool   `help:"Print reasoning steps and tool calls as they happen."`
}

type chatter interface {
	Chat(ctx context.Context, req agent.ChatRequest, observe reasoning.Observer) (*agent.ChatResponse, error)
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx := context.Background()
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, appOverrides{})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	r := &repl{
		svc:         a.service,
		in:          os.Stdin,
		out:         os.Stdout,
		threadID:    c.Thread,
		trace:       c.Trace,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
	if c.Message != "" {
		return r.turn(ctx, c.Message)
	}
	return r.run(ctx)
}

type repl struct {
	svc         chatter
	in          io.Reader
	out         io.Writer
	threadID    string
	trace       bool
	interactive bool
}

func (r *repl) run(ctx context.Context) error {
	if r.interactive {
		fmt.Fprintln(r.out, "Type a message. Commands: /new starts a new thread, /quit exits.")
	}
	sc := bufio.NewScanner(r.in)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for {
		if r.interactive {
			fmt.Fprint(r.out, "\nYou: ")
		}
		if !sc.Scan() {
			return sc.Err()
		}
		input := strings.TrimSpace(sc.Text())
		switch input {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			r.threadID = ""
			fmt.Fprintln(r.out, "Started a new thread.")
			continue
		}
		if err := r.turn(ctx, input); err != nil {
			var turnErr *agent.TurnError
			if !errors.As(err, &turnErr) {
				return err
			}
			fmt.Fprintf(r.out, "Error: %v\n", err)
		}
	}
}

// turn runs one message. Ctrl-C stops the turn, not the program.
func (r *repl) turn(ctx context.Context, message string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	var observe reasoning.Observer
	if r.trace {
		observe = r.printEvent
	}
	resp, err := r.svc.Chat(ctx, agent.ChatRequest{Message: message, ThreadID: r.threadID}, observe)
	if resp != nil {
		r.threadID = resp.ThreadID
	}
	if errors.Is(err, reasoning.ErrStopped) {
		fmt.Fprintln(r.out, "(stopped)")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(r.out, "\nAgent: %s\n", resp.Response)
	if resp.Outcome == reasoning.OutcomeIterationCapped {
		fmt.Fprintln(r.out, "(step limit reached)")
	}
	if resp.PersistError != nil {
		fmt.Fprintf(r.out, "(not saved: %v)\n", resp.PersistError)
	}
	if r.interactive {
		fmt.Fprintf(r.out, "[%s via %s/%s]\n", r.threadID, resp.Provider, resp.Model)
	}
	return nil
}

func (r *repl) printEvent(ev reasoning.Event) {
	switch ev.Type {
	case reasoning.EventReasoning:
		fmt.Fprintf(r.out, "  [%d] thought: %s\n", ev.Step, ev.Message)
	case reasoning.EventToolCall:
		fmt.Fprintf(r.out, "  [%d] tool: %s\n", ev.Step, ev.Message)
	case reasoning.EventToolResult:
		fmt.Fprintf(r.out, "  [%d] observation: %s\n", ev.Step, truncate(ev.Message, 200))
	case reasoning.EventProviderSwitch, reasoning.EventParseFallback:
		fmt.Fprintf(r.out, "  (%s)\n", ev.Message)
	}
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}

var _ chatter = (*agent.Service)(nil)
