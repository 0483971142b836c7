package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/reagent/pkg/config"
	"github.com/kadirpekel/reagent/pkg/llms"
	"github.com/kadirpekel/reagent/pkg/tools"
)

// scriptedLLM answers reasoning, synthesis and best-effort prompts from
// separate scripts. An exhausted script repeats its last entry.
type scriptedLLM struct {
	mu         sync.Mutex
	reasoning  []string
	synthesis  []string
	bestEffort func() (string, error)
	requests   []*llms.Request
	err        error
}

func (s *scriptedLLM) Generate(_ context.Context, req *llms.Request, _ ...llms.CallOption) (*llms.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}

	prompt := req.Messages[len(req.Messages)-1].Content
	var text string
	switch {
	case req.System == synthesisSystem:
		text = pop(&s.synthesis)
	case strings.Contains(prompt, "maximum number of reasoning steps"):
		if s.bestEffort == nil {
			text = "best effort answer"
			break
		}
		var err error
		if text, err = s.bestEffort(); err != nil {
			return nil, err
		}
	default:
		text = pop(&s.reasoning)
	}
	return &llms.Result{Response: &llms.Response{Text: text, Provider: "stub", Model: "stub-1"}}, nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func pop(script *[]string) string {
	if len(*script) == 0 {
		return ""
	}
	text := (*script)[0]
	if len(*script) > 1 {
		*script = (*script)[1:]
	}
	return text
}

func calcStep(expr string) string {
	return fmt.Sprintf("Thought: compute\nAction: calculator\nAction Input: {\"expression\": %q}", expr)
}

func newRegistry(t *testing.T, extra ...tools.Tool) *tools.ToolRegistry {
	t.Helper()
	reg := tools.NewToolRegistry()
	calc, err := tools.NewCalculatorTool()
	require.NoError(t, err)
	require.NoError(t, reg.Register(calc))
	for _, tool := range extra {
		require.NoError(t, reg.Register(tool))
	}
	return reg
}

func newEngine(t *testing.T, llm Generator, reg ToolDispatcher, agentCfg config.AgentConfig) *Engine {
	t.Helper()
	return NewEngine(llm, reg, agentCfg, config.GenerationConfig{})
}

type recorder struct {
	events []Event
}

func (r *recorder) observe(e Event) { r.events = append(r.events, e) }

func (r *recorder) types() []EventType {
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func TestEngine_ToolThenAnswer(t *testing.T) {
	llm := &scriptedLLM{
		reasoning: []string{
			calcStep("(150000+120000+30000)/3"),
			"Thought: I now know the answer\nFinal Answer: The average is 100000.",
		},
		synthesis: []string{"Verdict: SUFFICIENT\nAnswer: The average salary is 100000."},
	}
	rec := &recorder{}
	st, err := newEngine(t, llm, newRegistry(t), config.AgentConfig{}).Run(context.Background(), "average salary?", nil, rec.observe)
	require.NoError(t, err)

	assert.Equal(t, OutcomeAnswered, st.Outcome)
	assert.Equal(t, PhaseFinalAnswer, st.Phase)
	assert.True(t, st.Done)
	assert.Equal(t, "The average salary is 100000.", st.FinalAnswer)
	assert.Equal(t, 2, st.CurrentStep)
	require.Len(t, st.Steps, 2)
	require.Len(t, st.Results, 1)
	assert.Equal(t, 1, st.Results[0].Step)
	assert.True(t, st.Results[0].Success)
	assert.Equal(t, "100000", st.Results[0].Content)
	assert.Equal(t, "stub", st.Provider)

	assert.Equal(t, []EventType{
		EventReasoning, EventToolCall, EventToolResult,
		EventReasoning, EventSynthesis, EventFinal,
	}, rec.types())
	assert.Len(t, rec.events[2].State.Results, 1)
	assert.Empty(t, rec.events[0].State.Results, "snapshots must not change after emission")

	// The second reasoning prompt carries the observation.
	second := llm.requests[1].Messages[0].Content
	assert.Contains(t, second, "Observation: 100000")
	assert.Contains(t, llm.requests[0].System, "**calculator**")
}

func TestEngine_IterationCap(t *testing.T) {
	llm := &scriptedLLM{reasoning: []string{calcStep("1+1")}}
	rec := &recorder{}
	st, err := newEngine(t, llm, newRegistry(t), config.AgentConfig{MaxIterations: 3}).Run(context.Background(), "loop forever", nil, rec.observe)
	require.NoError(t, err)

	assert.Equal(t, OutcomeIterationCapped, st.Outcome)
	assert.Equal(t, "best effort answer", st.FinalAnswer)
	assert.Len(t, st.Steps, 3)
	assert.Len(t, st.Results, 3)
	assert.Equal(t, 3, st.CurrentStep)
	assert.Equal(t, 4, llm.calls(), "three reasoning calls and one best-effort call")
	assert.Equal(t, EventFinal, rec.events[len(rec.events)-1].Type)

	for _, r := range st.Results {
		step := st.Steps[r.Step-1]
		assert.Equal(t, r.Step, step.Step)
		assert.Equal(t, step.Action, r.ToolName)
	}
}

func TestEngine_IterationCapSummaryFallback(t *testing.T) {
	llm := &scriptedLLM{
		reasoning:  []string{calcStep("6*7")},
		bestEffort: func() (string, error) { return "", errors.New("provider down") },
	}
	st, err := newEngine(t, llm, newRegistry(t), config.AgentConfig{MaxIterations: 2}).Run(context.Background(), "q", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeIterationCapped, st.Outcome)
	assert.Contains(t, st.FinalAnswer, "could not finish reasoning within 2 steps")
	assert.Contains(t, st.FinalAnswer, "- Step 1, calculator: 42")
	assert.Contains(t, st.FinalAnswer, "- Step 2, calculator: 42")
}

func TestEngine_UnknownActionContinues(t *testing.T) {
	llm := &scriptedLLM{
		reasoning: []string{
			"Thought: try something\nAction: frobnicate\nAction Input: {\"x\": 1}",
			"Thought: that failed\nFinal Answer: I cannot frobnicate.",
		},
		synthesis: []string{"Verdict: SUFFICIENT"},
	}
	st, err := newEngine(t, llm, newRegistry(t), config.AgentConfig{}).Run(context.Background(), "frobnicate it", nil, nil)
	require.NoError(t, err)

	require.Len(t, st.Results, 1)
	res := st.Results[0]
	assert.False(t, res.Success)
	assert.Equal(t, "frobnicate", res.ToolName)
	assert.ErrorIs(t, res.Err, tools.ErrUnknownTool)
	assert.Equal(t, OutcomeAnswered, st.Outcome)
	assert.Equal(t, "I cannot frobnicate.", st.FinalAnswer)
}

func TestEngine_ParseFallbackFinalAnswer(t *testing.T) {
	llm := &scriptedLLM{
		reasoning: []string{"Paris is the capital of France."},
		synthesis: []string{"Verdict: SUFFICIENT"},
	}
	rec := &recorder{}
	st, err := newEngine(t, llm, newRegistry(t), config.AgentConfig{}).Run(context.Background(), "capital of France?", nil, rec.observe)
	require.NoError(t, err)

	require.Len(t, st.Steps, 1)
	assert.True(t, st.Steps[0].Corrective)
	assert.Equal(t, ActionFinalAnswer, st.Steps[0].Action)
	assert.Equal(t, "Paris is the capital of France.", st.FinalAnswer)
	assert.Contains(t, rec.types(), EventParseFallback)
}

func TestEngine_ParseFallbackRetry(t *testing.T) {
	llm := &scriptedLLM{
		reasoning: []string{"just prose", "Thought: ok\nFinal Answer: 4"},
		synthesis: []string{"Verdict: SUFFICIENT"},
	}
	cfg := config.AgentConfig{ParseFallback: config.ParseFallbackRetry}
	st, err := newEngine(t, llm, newRegistry(t), cfg).Run(context.Background(), "2+2?", nil, nil)
	require.NoError(t, err)

	require.Len(t, st.Steps, 2)
	assert.Equal(t, actionFormatError, st.Steps[0].Action)
	assert.True(t, st.Steps[0].Corrective)
	assert.Empty(t, st.Results)
	assert.Equal(t, "4", st.FinalAnswer)
	assert.Contains(t, llm.requests[1].Messages[0].Content, formatReminder)
}

func TestEngine_ParseFallbackRetryIsBounded(t *testing.T) {
	llm := &scriptedLLM{reasoning: []string{"never formatted"}}
	cfg := config.AgentConfig{ParseFallback: config.ParseFallbackRetry, MaxIterations: 2}
	st, err := newEngine(t, llm, newRegistry(t), cfg).Run(context.Background(), "q", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIterationCapped, st.Outcome)
	assert.Len(t, st.Steps, 2)
}

func TestEngine_InsufficientSynthesisLoops(t *testing.T) {
	llm := &scriptedLLM{
		reasoning: []string{
			"Thought: guess\nFinal Answer: maybe 5",
			calcStep("2+3"),
			"Thought: verified\nFinal Answer: 5",
		},
		synthesis: []string{
			"Verdict: INSUFFICIENT\nReason: verify with the calculator",
			"Verdict: SUFFICIENT\nAnswer: 5",
		},
	}
	st, err := newEngine(t, llm, newRegistry(t), config.AgentConfig{}).Run(context.Background(), "2+3?", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "5", st.FinalAnswer)
	assert.Len(t, st.Steps, 3)
	require.Len(t, st.Syntheses, 2)
	assert.False(t, st.Syntheses[0].Sufficient)
	assert.Equal(t, 1, st.Syntheses[0].Step)
	assert.Contains(t, llm.requests[2].Messages[0].Content, "verify with the calculator")
}

func TestEngine_ProviderExhaustionFails(t *testing.T) {
	exhausted := &llms.ExhaustedError{Failures: []*llms.CallError{{Provider: "a", Err: errors.New("503")}}}
	llm := &scriptedLLM{err: exhausted}
	rec := &recorder{}
	st, err := newEngine(t, llm, newRegistry(t), config.AgentConfig{}).Run(context.Background(), "q", nil, rec.observe)

	require.Error(t, err)
	assert.ErrorIs(t, err, llms.ErrAllProvidersExhausted)
	assert.Equal(t, OutcomeFailed, st.Outcome)
	assert.Empty(t, st.Steps)
	assert.Equal(t, []EventType{EventError}, rec.types())
}

func TestEngine_CancelDuringToolCall(t *testing.T) {
	started := make(chan struct{})
	slow, err := tools.NewFunctionTool(tools.FunctionConfig{Name: "slow", Description: "Blocks."},
		func(ctx context.Context, _ struct{}) (tools.ToolResult, error) {
			close(started)
			<-ctx.Done()
			return tools.ToolResult{Success: true, Content: "late"}, nil
		})
	require.NoError(t, err)

	llm := &scriptedLLM{reasoning: []string{"Thought: wait\nAction: slow"}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	rec := &recorder{}
	st, err := newEngine(t, llm, newRegistry(t, slow), config.AgentConfig{}).Run(ctx, "q", nil, rec.observe)

	require.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeStopped, st.Outcome)
	assert.Len(t, st.Steps, 1)
	assert.Empty(t, st.Results, "aborted tool call must not leave a result")
	assert.Equal(t, EventStopped, rec.events[len(rec.events)-1].Type)
}

func TestEngine_BindsScalarInput(t *testing.T) {
	llm := &scriptedLLM{
		reasoning: []string{"Thought: x\nAction: calculator\nAction Input: 2^10", "Final Answer: 1024"},
		synthesis: []string{"Verdict: SUFFICIENT"},
	}
	st, err := newEngine(t, llm, newRegistry(t), config.AgentConfig{}).Run(context.Background(), "2^10", nil, nil)
	require.NoError(t, err)
	require.Len(t, st.Results, 1)
	assert.True(t, st.Results[0].Success, st.Results[0].Error)
	assert.Equal(t, "1024", st.Results[0].Content)
}

func TestEngine_TrimsHistory(t *testing.T) {
	llm := &scriptedLLM{reasoning: []string{"Final Answer: hi"}, synthesis: []string{"Verdict: SUFFICIENT"}}
	history := []llms.Message{
		{Role: llms.RoleUser, Content: "one"},
		{Role: llms.RoleAssistant, Content: "two"},
		{Role: llms.RoleUser, Content: "three"},
	}
	_, err := newEngine(t, llm, newRegistry(t), config.AgentConfig{HistoryMessages: 2}).Run(context.Background(), "q", history, nil)
	require.NoError(t, err)

	msgs := llm.requests[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)
	assert.Contains(t, msgs[2].Content, "Question: q")

	// Synthesis sees only the trace.
	assert.Len(t, llm.requests[1].Messages, 1)
}

type stubProvider struct {
	name string
	err  error
}

func (p *stubProvider) Name() string  { return p.name }
func (p *stubProvider) Type() string  { return "stub" }
func (p *stubProvider) Model() string { return p.name + "-model" }
func (p *stubProvider) Generate(_ context.Context, req *llms.Request) (*llms.Response, error) {
	if p.err != nil {
		return nil, p.err
	}
	text := "Thought: done\nFinal Answer: from " + p.name
	if req.System == synthesisSystem {
		text = "Verdict: SUFFICIENT"
	}
	return &llms.Response{Text: text}, nil
}

func TestEngine_ProviderSwitchEvent(t *testing.T) {
	providers := map[string]*stubProvider{
		"primary":  {name: "primary", err: errors.New("connection refused")},
		"fallback": {name: "fallback"},
	}
	descs := []llms.Descriptor{
		{Name: "primary", Model: "primary-model", Priority: 1, HasCredential: true},
		{Name: "fallback", Model: "fallback-model", Priority: 2, HasCredential: true},
	}
	mgr, err := llms.NewManager(context.Background(), descs, func(_ context.Context, d llms.Descriptor) (llms.Provider, error) {
		return providers[d.Name], nil
	})
	require.NoError(t, err)

	rec := &recorder{}
	st, err := newEngine(t, mgr, newRegistry(t), config.AgentConfig{}).Run(context.Background(), "q", nil, rec.observe)
	require.NoError(t, err)

	assert.Equal(t, "from fallback", st.FinalAnswer)
	assert.Equal(t, "fallback", st.Provider)
	assert.Equal(t, "fallback-model", st.Model)
	assert.Contains(t, rec.types(), EventProviderSwitch)
	require.NotEmpty(t, st.Attempts)
	assert.Equal(t, "primary", st.Attempts[0].Provider)
	assert.NotEmpty(t, st.Attempts[0].Error)
}

func TestAgentState_Timeline(t *testing.T) {
	st := newState("q", nil)
	st.Steps = []ReasoningStep{{Step: 1, Action: "calculator"}, {Step: 2, Action: "web_search"}, {Step: 3, Action: ActionFinalAnswer}}
	st.Results = []tools.ToolResult{{Step: 2, ToolName: "web_search"}, {Step: 1, ToolName: "calculator"}}
	st.Syntheses = []Synthesis{{Step: 3, Sufficient: true}}

	var got []string
	for _, e := range st.Timeline() {
		got = append(got, fmt.Sprintf("%s:%d", e.Kind, e.Step))
	}
	want := []string{"reasoning:1", "tool:1", "reasoning:2", "tool:2", "reasoning:3", "synthesis:3"}
	assert.Equal(t, want, got)
}
