package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/reagent/pkg/config"
	"github.com/kadirpekel/reagent/pkg/llms"
	"github.com/kadirpekel/reagent/pkg/observability"
	"github.com/kadirpekel/reagent/pkg/tools"
	"github.com/kadirpekel/reagent/pkg/utils"
)

// ErrStopped wraps the context error of a cancelled turn.
var ErrStopped = errors.New("turn stopped")

// Generator is the text-generation side of the llms.Manager.
type Generator interface {
	Generate(ctx context.Context, req *llms.Request, opts ...llms.CallOption) (*llms.Result, error)
}

// ToolDispatcher is the side of the tools.ToolRegistry the engine uses.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, name string, args map[string]any) tools.ToolResult
	Describe() string
	Names() []string
	Get(name string) (tools.Tool, bool)
}

// Engine runs turns. It holds no per-turn state and is safe for concurrent use.
type Engine struct {
	llm           Generator
	tools         ToolDispatcher
	maxIterations int
	parseFallback string
	historyLimit  int
	historyTokens int
	generation    config.GenerationConfig
	slots         PromptSlots
	counter       *utils.TokenCounter
	logger        *slog.Logger
	metrics       observability.Metrics
	tracer        trace.Tracer
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPromptSlots overrides parts of the default prompt.
func WithPromptSlots(slots PromptSlots) Option {
	return func(e *Engine) { e.slots = e.slots.Merge(slots) }
}

func WithTokenCounter(tc *utils.TokenCounter) Option {
	return func(e *Engine) { e.counter = tc }
}

// NewEngine builds an engine from the agent and generation settings.
func NewEngine(llm Generator, dispatcher ToolDispatcher, agentCfg config.AgentConfig, genCfg config.GenerationConfig, opts ...Option) *Engine {
	agentCfg.SetDefaults()
	genCfg.SetDefaults()

	e := &Engine{
		llm:           llm,
		tools:         dispatcher,
		maxIterations: agentCfg.MaxIterations,
		parseFallback: agentCfg.ParseFallback,
		historyLimit:  agentCfg.HistoryMessages,
		historyTokens: agentCfg.HistoryTokens,
		generation:    genCfg,
		slots:         DefaultPromptSlots(),
		logger:        slog.Default().With("component", "reasoning"),
		metrics:       observability.GetGlobalMetrics(),
		tracer:        observability.GetTracer("reagent.reasoning"),
	}
	if genCfg.SystemPrompt != "" {
		e.slots.SystemRole = genCfg.SystemPrompt
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.counter == nil {
		e.counter = utils.NewTokenCounter(agentCfg.TokenizerModel)
	}
	return e
}

// MaxIterations is the reasoning step cap.
func (e *Engine) MaxIterations() int { return e.maxIterations }

// turn bundles the per-run collaborators passed through the transitions.
type turn struct {
	observe Observer
}

func (t *turn) emit(typ EventType, st *AgentState, msg string) {
	if t.observe == nil {
		return
	}
	t.observe(Event{Type: typ, Phase: st.Phase, Step: st.CurrentStep, Message: msg, State: st.Snapshot()})
}

// Run executes one turn. The returned state is never nil. The error is nil
// for answered and iteration-capped turns, wraps ErrStopped when ctx was
// cancelled, and is the provider error for failed turns.
func (e *Engine) Run(ctx context.Context, query string, history []llms.Message, observe Observer) (*AgentState, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, observability.SpanChatTurn)
	defer span.End()

	st := newState(query, e.trimHistory(history))
	t := &turn{observe: observe}

	err := e.loop(ctx, st, t)

	span.SetAttributes(
		attribute.String(observability.AttrOutcome, string(st.Outcome)),
		attribute.Int(observability.AttrIterations, st.CurrentStep),
	)
	if err != nil && st.Outcome == OutcomeFailed {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.metrics.RecordTurn(ctx, string(st.Outcome), st.CurrentStep, time.Since(start))
	e.logger.Info("Turn finished",
		"outcome", st.Outcome, "steps", st.CurrentStep, "tool_calls", len(st.Results),
		"provider", st.Provider, "duration", time.Since(start))
	return st, err
}

func (e *Engine) loop(ctx context.Context, st *AgentState, t *turn) error {
	for !st.Done {
		if ctx.Err() != nil {
			return e.stop(st, t, ctx.Err())
		}

		var (
			next Phase
			err  error
		)
		switch st.Phase {
		case PhaseReasoning:
			if st.CurrentStep >= e.maxIterations {
				err = e.capIterations(ctx, st, t)
				next = st.Phase
				break
			}
			next, err = e.reason(ctx, st, t)
		case PhaseToolExecution:
			next, err = e.act(ctx, st, t)
		case PhaseSynthesis:
			next, err = e.synthesize(ctx, st, t)
		default:
			err = fmt.Errorf("unexpected phase %q", st.Phase)
		}

		if err != nil {
			if ctx.Err() != nil {
				return e.stop(st, t, ctx.Err())
			}
			st.Outcome = OutcomeFailed
			st.Done = true
			e.logger.Error("Turn failed", "phase", st.Phase, "step", st.CurrentStep, "error", err)
			t.emit(EventError, st, err.Error())
			return err
		}
		st.Phase = next
	}
	t.emit(EventFinal, st, st.FinalAnswer)
	return nil
}

func (e *Engine) stop(st *AgentState, t *turn, cause error) error {
	st.Outcome = OutcomeStopped
	st.Done = true
	e.logger.Info("Turn stopped", "phase", st.Phase, "step", st.CurrentStep, "reason", cause)
	t.emit(EventStopped, st, cause.Error())
	return fmt.Errorf("%w: %w", ErrStopped, cause)
}

func (st *AgentState) finish(answer string, outcome Outcome) {
	st.FinalAnswer = answer
	st.Outcome = outcome
	st.Phase = PhaseFinalAnswer
	st.Done = true
}

// generate calls the provider manager and forwards switch events.
func (e *Engine) generate(ctx context.Context, st *AgentState, t *turn, system, prompt string, withHistory bool) (string, error) {
	msgs := make([]llms.Message, 0, len(st.History)+1)
	if withHistory {
		msgs = append(msgs, st.History...)
	}
	msgs = append(msgs, llms.Message{Role: llms.RoleUser, Content: prompt})

	req := &llms.Request{
		System:      system,
		Messages:    msgs,
		Temperature: e.generation.Temperature,
		TopP:        e.generation.TopP,
		MaxTokens:   e.generation.MaxTokens,
	}
	res, err := e.llm.Generate(ctx, req, llms.OnSwitch(func(ev llms.SwitchEvent) {
		t.emit(EventProviderSwitch, st, fmt.Sprintf("%s (%s) failed, switching to %s (%s)", ev.From, ev.FromModel, ev.To, ev.ToModel))
	}))
	if err != nil {
		return "", err
	}
	st.served(res)
	return res.Text, nil
}

// reason asks the model for the next step: Reasoning -> ToolExecution,
// Reasoning -> IntermediateSynthesis, or Reasoning -> Reasoning for the
// retry parse policy.
func (e *Engine) reason(ctx context.Context, st *AgentState, t *turn) (Phase, error) {
	system := e.slots.systemPrompt(e.tools.Describe(), e.tools.Names())
	text, err := e.generate(ctx, st, t, system, reasoningPrompt(st), true)
	if err != nil {
		return st.Phase, err
	}
	if ctx.Err() != nil {
		return st.Phase, ctx.Err()
	}

	step, perr := ParseOutput(text)
	fallback := perr != nil
	if fallback {
		step = e.correctiveStep(text)
	}

	st.CurrentStep++
	step.Step = st.CurrentStep
	st.Steps = append(st.Steps, step)

	if fallback {
		e.logger.Warn("Model output could not be parsed",
			"step", step.Step, "policy", e.parseFallback, "error", perr, "output", truncate(text, 200))
		t.emit(EventParseFallback, st, perr.Error())
	}
	t.emit(EventReasoning, st, step.Thought)

	switch step.Action {
	case ActionFinalAnswer:
		return PhaseSynthesis, nil
	case actionFormatError:
		return PhaseReasoning, nil
	default:
		return PhaseToolExecution, nil
	}
}

func (e *Engine) correctiveStep(raw string) ReasoningStep {
	if e.parseFallback == config.ParseFallbackRetry {
		return ReasoningStep{
			Thought:    "The previous output did not follow the required format.",
			Action:     actionFormatError,
			Corrective: true,
			Raw:        raw,
		}
	}
	return ReasoningStep{
		Thought:    "No valid action was found in the model output; proceeding to the final answer.",
		Action:     ActionFinalAnswer,
		Params:     map[string]any{"answer": strings.TrimSpace(raw)},
		Corrective: true,
		Raw:        raw,
	}
}

// act dispatches the last step's action: ToolExecution -> Reasoning.
func (e *Engine) act(ctx context.Context, st *AgentState, t *turn) (Phase, error) {
	step, ok := st.LastStep()
	if !ok {
		return st.Phase, fmt.Errorf("tool execution without a reasoning step")
	}
	params := e.bindInput(step.Action, step.Params)
	t.emit(EventToolCall, st, step.Action)

	res := e.tools.Dispatch(ctx, step.Action, params)
	if ctx.Err() != nil {
		// The aborted call leaves no trace.
		return st.Phase, ctx.Err()
	}
	res.Step = step.Step
	st.Results = append(st.Results, res)

	if res.Success {
		e.logger.Debug("Tool succeeded", "tool", res.ToolName, "step", res.Step, "duration", res.ExecutionTime)
	} else {
		e.logger.Info("Tool failed", "tool", res.ToolName, "step", res.Step, "error", res.Error)
	}
	t.emit(EventToolResult, st, res.Observation())
	return PhaseReasoning, nil
}

// bindInput renames a bare {"input": v} to the tool's only parameter.
func (e *Engine) bindInput(action string, params map[string]any) map[string]any {
	v, ok := params["input"]
	if !ok || len(params) != 1 {
		return params
	}
	tool, ok := e.tools.Get(action)
	if !ok {
		return params
	}
	var target string
	candidates := 0
	for _, p := range tool.GetInfo().Parameters {
		if p.Name == "input" {
			return params
		}
		if p.Required {
			target = p.Name
			candidates++
		}
	}
	if candidates != 1 {
		return params
	}
	return map[string]any{target: v}
}

// synthesize judges sufficiency: IntermediateSynthesis -> FinalAnswer or
// IntermediateSynthesis -> Reasoning.
func (e *Engine) synthesize(ctx context.Context, st *AgentState, t *turn) (Phase, error) {
	step, _ := st.LastStep()
	candidate := ""
	if v, ok := step.Params["answer"]; ok {
		candidate = fmt.Sprint(v)
	}

	text, err := e.generate(ctx, st, t, synthesisSystem, synthesisPrompt(st, candidate), false)
	if err != nil {
		return st.Phase, err
	}
	if ctx.Err() != nil {
		return st.Phase, ctx.Err()
	}

	verdict := parseVerdict(text, candidate)
	verdict.Step = step.Step
	st.Syntheses = append(st.Syntheses, verdict)

	if !verdict.Sufficient {
		e.logger.Info("Synthesis judged the answer insufficient", "step", step.Step, "reason", truncate(verdict.Reason, 200))
		t.emit(EventSynthesis, st, "insufficient: "+verdict.Reason)
		return PhaseReasoning, nil
	}
	st.finish(verdict.Answer, OutcomeAnswered)
	t.emit(EventSynthesis, st, "sufficient")
	return PhaseFinalAnswer, nil
}

// capIterations produces the best-effort answer once the step budget is
// spent: any state -> FinalAnswer.
func (e *Engine) capIterations(ctx context.Context, st *AgentState, t *turn) error {
	e.logger.Warn("Iteration cap reached", "max_iterations", e.maxIterations)

	text, err := e.generate(ctx, st, t, e.slots.SystemRole, bestEffortPrompt(st), true)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Warn("Best-effort answer failed, summarizing trace", "error", err)
		text = traceSummary(st, e.maxIterations)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	answer := strings.TrimSpace(text)
	if _, after, ok := strings.Cut(answer, "Final Answer:"); ok {
		answer = strings.TrimSpace(after)
	}
	st.finish(answer, OutcomeIterationCapped)
	return nil
}

// trimHistory keeps the most recent messages within the message and token budgets.
func (e *Engine) trimHistory(history []llms.Message) []llms.Message {
	if len(history) == 0 {
		return nil
	}
	if e.historyLimit > 0 && len(history) > e.historyLimit {
		history = history[len(history)-e.historyLimit:]
	}
	counted := make([]utils.Message, len(history))
	for i, m := range history {
		counted[i] = utils.Message{Role: m.Role, Content: m.Content}
	}
	kept := e.counter.FitWithinLimit(counted, e.historyTokens)
	return append([]llms.Message(nil), history[len(history)-len(kept):]...)
}
