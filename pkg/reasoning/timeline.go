package reasoning

import (
	"sort"

	"github.com/kadirpekel/reagent/pkg/tools"
)

// Timeline entry kinds.
const (
	EntryReasoning = "reasoning"
	EntryTool      = "tool"
	EntrySynthesis = "synthesis"
)

// TimelineEntry is one row of the display trace.
type TimelineEntry struct {
	Kind      string            `json:"kind"`
	Step      int               `json:"step"`
	Reasoning *ReasoningStep    `json:"reasoning,omitempty"`
	Tool      *tools.ToolResult `json:"tool,omitempty"`
	Synthesis *Synthesis        `json:"synthesis,omitempty"`
}

// Timeline interleaves steps, tool results and syntheses sorted by step.
// Entries sharing a step keep insertion order: the step, then its result or
// synthesis.
func (s *AgentState) Timeline() []TimelineEntry {
	entries := make([]TimelineEntry, 0, len(s.Steps)+len(s.Results)+len(s.Syntheses))
	for i := range s.Steps {
		entries = append(entries, TimelineEntry{Kind: EntryReasoning, Step: s.Steps[i].Step, Reasoning: &s.Steps[i]})
	}
	for i := range s.Results {
		entries = append(entries, TimelineEntry{Kind: EntryTool, Step: s.Results[i].Step, Tool: &s.Results[i]})
	}
	for i := range s.Syntheses {
		entries = append(entries, TimelineEntry{Kind: EntrySynthesis, Step: s.Syntheses[i].Step, Synthesis: &s.Syntheses[i]})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Step < entries[j].Step })
	return entries
}
