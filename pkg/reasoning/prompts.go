package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PromptSlots are the replaceable sections of the reasoning system prompt.
type PromptSlots struct {
	// SystemRole opens the prompt.
	SystemRole string

	// ToolUsage precedes the tool catalog.
	ToolUsage string

	// OutputFormat describes the Thought/Action grammar.
	OutputFormat string

	// Additional is appended verbatim.
	Additional string
}

// DefaultPromptSlots returns the built-in ReAct prompt.
func DefaultPromptSlots() PromptSlots {
	return PromptSlots{
		SystemRole: "You are a helpful assistant that answers questions by reasoning step by step " +
			"and using tools when they help.",
		ToolUsage: "You have access to the following tools:",
		OutputFormat: `Use exactly this format:

Thought: think about what to do next
Action: the tool to use, one of [%s], or final_answer
Action Input: the tool parameters as a JSON object

After each action you will receive an Observation with the tool result.
Repeat Thought, Action and Action Input as often as needed.
When you know the answer, respond with:

Thought: I now know the answer
Final Answer: the complete answer for the user

Output one action at a time and never write an Observation yourself.`,
	}
}

// Merge returns s with the non-empty slots of other applied.
func (s PromptSlots) Merge(other PromptSlots) PromptSlots {
	if other.SystemRole != "" {
		s.SystemRole = other.SystemRole
	}
	if other.ToolUsage != "" {
		s.ToolUsage = other.ToolUsage
	}
	if other.OutputFormat != "" {
		s.OutputFormat = other.OutputFormat
	}
	if other.Additional != "" {
		s.Additional = other.Additional
	}
	return s
}

// systemPrompt renders the slots around the tool catalog.
func (s PromptSlots) systemPrompt(toolCatalog string, toolNames []string) string {
	var b strings.Builder
	b.WriteString(s.SystemRole)
	b.WriteString("\n\n## Tools\n\n")
	b.WriteString(s.ToolUsage)
	b.WriteString("\n\n")
	b.WriteString(toolCatalog)
	b.WriteString("\n\n## Format\n\n")
	if strings.Contains(s.OutputFormat, "%s") {
		b.WriteString(fmt.Sprintf(s.OutputFormat, strings.Join(toolNames, ", ")))
	} else {
		b.WriteString(s.OutputFormat)
	}
	if s.Additional != "" {
		b.WriteString("\n\n")
		b.WriteString(s.Additional)
	}
	return b.String()
}

const formatReminder = "Invalid format. Respond with a Thought line, then either an Action " +
	"and Action Input, or a Final Answer."

// scratchpad renders the trace the way the model is asked to write it.
func scratchpad(st *AgentState) string {
	var b strings.Builder
	for _, step := range st.Steps {
		if step.Thought != "" {
			fmt.Fprintf(&b, "Thought: %s\n", step.Thought)
		}
		switch step.Action {
		case actionFormatError:
			fmt.Fprintf(&b, "Observation: %s\n\n", formatReminder)
			continue
		case ActionFinalAnswer:
			if sy, ok := st.synthesisFor(step.Step); ok && !sy.Sufficient {
				fmt.Fprintf(&b, "Action: %s\nObservation: The answer is not complete yet. %s\n\n", ActionFinalAnswer, sy.Reason)
			}
			continue
		}
		fmt.Fprintf(&b, "Action: %s\n", step.Action)
		if len(step.Params) > 0 {
			raw, _ := json.Marshal(step.Params)
			fmt.Fprintf(&b, "Action Input: %s\n", raw)
		}
		if res, ok := st.ResultFor(step.Step); ok {
			fmt.Fprintf(&b, "Observation: %s\n", res.Observation())
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func reasoningPrompt(st *AgentState) string {
	pad := scratchpad(st)
	if pad == "" {
		return fmt.Sprintf("Question: %s\n\nBegin.", st.Query)
	}
	return fmt.Sprintf("Question: %s\n\n%s\n\nContinue with the next Thought.", st.Query, pad)
}

const synthesisSystem = "You review whether gathered information fully answers a question. " +
	"Be strict but fair: mark the answer sufficient only if the question is truly answered."

func synthesisPrompt(st *AgentState, candidate string) string {
	pad := scratchpad(st)
	if pad == "" {
		pad = "(no tools were used)"
	}
	if strings.TrimSpace(candidate) == "" {
		candidate = "(none)"
	}
	return fmt.Sprintf(`Question: %s

Reasoning trace:
%s

Proposed answer:
%s

Decide whether the information above is sufficient to answer the question completely and accurately.
Respond in exactly this format:

Verdict: SUFFICIENT or INSUFFICIENT
Answer: the final answer for the user, when SUFFICIENT
Reason: what is still missing, when INSUFFICIENT`, st.Query, pad, candidate)
}

func bestEffortPrompt(st *AgentState) string {
	pad := scratchpad(st)
	if pad == "" {
		pad = "(no information was gathered)"
	}
	return fmt.Sprintf(`Question: %s

Reasoning trace:
%s

The maximum number of reasoning steps has been reached. Using only the information above, give
the best possible answer to the question. Say clearly which parts remain unanswered.`, st.Query, pad)
}

// traceSummary is the deterministic capped answer used when the provider
// cannot produce one.
func traceSummary(st *AgentState, maxIterations int) string {
	if len(st.Results) == 0 {
		return fmt.Sprintf("I could not finish reasoning within %d steps and gathered no tool results to answer from.", maxIterations)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "I could not finish reasoning within %d steps. Here is what I found so far:\n", maxIterations)
	for _, r := range st.Results {
		status := ""
		if !r.Success {
			status = " (failed)"
		}
		fmt.Fprintf(&b, "\n- Step %d, %s%s: %s", r.Step, r.ToolName, status, truncate(r.Observation(), 300))
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}

var verdictKeywords = []string{"verdict", "answer", "reason"}

// parseVerdict reads a synthesis response. A response without a verdict is
// taken as sufficient with its whole text as the answer.
func parseVerdict(text, candidate string) Synthesis {
	sections := map[string]*strings.Builder{}
	var current *strings.Builder
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimLeft(strings.TrimSpace(line), "*#- ")
		matched := false
		for _, kw := range verdictKeywords {
			if len(trimmed) > len(kw) && strings.EqualFold(trimmed[:len(kw)], kw) {
				rest := strings.TrimLeft(trimmed[len(kw):], "* ")
				if strings.HasPrefix(rest, ":") {
					current = &strings.Builder{}
					sections[kw] = current
					current.WriteString(strings.TrimLeft(strings.TrimPrefix(rest, ":"), "* "))
					matched = true
					break
				}
			}
		}
		if !matched && current != nil {
			current.WriteString("\n" + line)
		}
	}
	get := func(kw string) string {
		if b, ok := sections[kw]; ok {
			return strings.TrimSpace(b.String())
		}
		return ""
	}

	verdict := strings.ToUpper(get("verdict"))
	remainder := ""
	if verdict == "" {
		trimmed := strings.TrimSpace(text)
		first, rest, _ := strings.Cut(trimmed, "\n")
		word := strings.ToUpper(strings.Trim(first, "*#.: "))
		if word == "INSUFFICIENT" || word == "SUFFICIENT" {
			verdict = word
			remainder = strings.TrimSpace(rest)
		}
	}

	if strings.Contains(verdict, "INSUFFICIENT") {
		reason := get("reason")
		if reason == "" {
			reason = remainder
		}
		if reason == "" {
			reason = "More information is needed."
		}
		return Synthesis{Sufficient: false, Reason: reason}
	}

	answer := get("answer")
	if answer == "" {
		answer = remainder
	}
	if answer == "" && verdict == "" {
		answer = strings.TrimSpace(text)
	}
	if answer == "" {
		answer = strings.TrimSpace(candidate)
	}
	return Synthesis{Sufficient: true, Answer: answer}
}
