// Package reasoning runs the ReAct loop: the model reasons, picks an action,
// the action's tool runs, and the observation feeds the next thought until a
// synthesized answer is judged sufficient or the iteration cap is reached.
package reasoning

import (
	"maps"
	"slices"

	"github.com/kadirpekel/reagent/pkg/llms"
	"github.com/kadirpekel/reagent/pkg/tools"
)

// Phase is a state of the reasoning state machine.
type Phase string

const (
	PhaseReasoning     Phase = "reasoning"
	PhaseToolExecution Phase = "tool_execution"
	PhaseSynthesis     Phase = "intermediate_synthesis"
	PhaseFinalAnswer   Phase = "final_answer"
)

// Outcome is how a turn ended.
type Outcome string

const (
	OutcomeAnswered        Outcome = "answered"
	OutcomeIterationCapped Outcome = "iteration_capped"
	OutcomeStopped         Outcome = "stopped"
	OutcomeFailed          Outcome = "failed"
)

// ActionFinalAnswer is the sentinel action that requests synthesis.
const ActionFinalAnswer = "final_answer"

// actionFormatError marks corrective steps of the retry parse policy. It
// never reaches the tool registry.
const actionFormatError = "format_error"

// ReasoningStep is one parsed model output.
type ReasoningStep struct {
	Step       int            `json:"step"`
	Thought    string         `json:"thought,omitempty"`
	Action     string         `json:"action"`
	Params     map[string]any `json:"params,omitempty"`
	Corrective bool           `json:"corrective,omitempty"`
	Raw        string         `json:"raw,omitempty"`
}

// Synthesis is one sufficiency judgment.
type Synthesis struct {
	Step       int    `json:"step"`
	Sufficient bool   `json:"sufficient"`
	Answer     string `json:"answer,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// AgentState is the working memory of one turn. Steps, Results and
// Syntheses are append-only.
type AgentState struct {
	Query       string             `json:"query"`
	History     []llms.Message     `json:"-"`
	Steps       []ReasoningStep    `json:"steps"`
	Results     []tools.ToolResult `json:"results"`
	Syntheses   []Synthesis        `json:"syntheses,omitempty"`
	CurrentStep int                `json:"current_step"`
	FinalAnswer string             `json:"final_answer,omitempty"`
	Done        bool               `json:"done"`
	Outcome     Outcome            `json:"outcome,omitempty"`
	Phase       Phase              `json:"phase"`
	Provider    string             `json:"provider,omitempty"`
	Model       string             `json:"model,omitempty"`
	Attempts    []llms.Attempt     `json:"attempts,omitempty"`
}

func newState(query string, history []llms.Message) *AgentState {
	return &AgentState{
		Query:   query,
		History: history,
		Steps:   []ReasoningStep{},
		Results: []tools.ToolResult{},
		Phase:   PhaseReasoning,
	}
}

// LastStep returns the most recent reasoning step.
func (s *AgentState) LastStep() (ReasoningStep, bool) {
	if len(s.Steps) == 0 {
		return ReasoningStep{}, false
	}
	return s.Steps[len(s.Steps)-1], true
}

// ResultFor returns the tool result answering step.
func (s *AgentState) ResultFor(step int) (tools.ToolResult, bool) {
	for _, r := range s.Results {
		if r.Step == step {
			return r, true
		}
	}
	return tools.ToolResult{}, false
}

func (s *AgentState) synthesisFor(step int) (Synthesis, bool) {
	for _, sy := range s.Syntheses {
		if sy.Step == step {
			return sy, true
		}
	}
	return Synthesis{}, false
}

// Snapshot returns a copy that later transitions do not modify.
func (s *AgentState) Snapshot() *AgentState {
	c := *s
	c.History = slices.Clone(s.History)
	c.Steps = make([]ReasoningStep, len(s.Steps))
	for i, st := range s.Steps {
		st.Params = maps.Clone(st.Params)
		c.Steps[i] = st
	}
	c.Results = make([]tools.ToolResult, len(s.Results))
	for i, r := range s.Results {
		r.Params = maps.Clone(r.Params)
		r.Metadata = maps.Clone(r.Metadata)
		c.Results[i] = r
	}
	c.Syntheses = slices.Clone(s.Syntheses)
	c.Attempts = slices.Clone(s.Attempts)
	return &c
}

// served records which provider produced the latest generation.
func (s *AgentState) served(res *llms.Result) {
	if res == nil || res.Response == nil {
		return
	}
	s.Provider = res.Provider
	s.Model = res.Model
	s.Attempts = append(s.Attempts, res.Attempts...)
}
