package reasoning

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"
)

// ErrParse is returned when model output holds no recognizable action.
var ErrParse = errors.New("no valid action found in model output")

var (
	keywordPattern = regexp.MustCompile(`(?i)^\s*(?:[*#>\-]+\s*)?(thought|action input|action|final answer|observation)\s*\**\s*:\s*\**\s*(.*)$`)
	fencePattern   = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	callPattern    = regexp.MustCompile(`(?s)^([A-Za-z_][\w ]*?)\s*\((.*)\)\s*$`)
	kwargPattern   = regexp.MustCompile(`(\w+)\s*=\s*("(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|[^,]+)`)
)

type parsedFields struct {
	thought     strings.Builder
	action      string
	input       strings.Builder
	finalAnswer strings.Builder
	hasInput    bool
	hasFinal    bool
}

// ParseOutput reads one model response in the Thought / Action /
// Action Input / Final Answer format. It also accepts a JSON object with
// "action" and "action_input" keys. It never panics.
func ParseOutput(text string) (step ReasoningStep, err error) {
	defer func() {
		if p := recover(); p != nil {
			step, err = ReasoningStep{Raw: text}, fmt.Errorf("%w: parser panic: %v", ErrParse, p)
		}
	}()

	step.Raw = text
	f := scanFields(text)
	step.Thought = strings.TrimSpace(f.thought.String())

	switch {
	case f.action != "":
		name, callArgs := splitCall(f.action)
		step.Action = normalizeAction(name)
		if step.Action == "" {
			return step, fmt.Errorf("%w: empty action name", ErrParse)
		}
		switch {
		case f.hasInput:
			step.Params = parseActionInput(f.input.String())
		case callArgs != "":
			step.Params = parseCallArgs(callArgs)
		}
		if step.Action == ActionFinalAnswer {
			step.Params = finalParams(step.Params, f)
		}
		return step, nil

	case f.hasFinal:
		step.Action = ActionFinalAnswer
		step.Params = map[string]any{"answer": strings.TrimSpace(f.finalAnswer.String())}
		return step, nil
	}

	if action, params, ok := parseJSONAction(text); ok {
		step.Action = action
		step.Params = params
		return step, nil
	}
	return step, ErrParse
}

func scanFields(text string) *parsedFields {
	f := &parsedFields{}
	// Free text before the first keyword counts as the thought.
	current := &f.thought

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if f.hasFinal {
			// Everything after "Final Answer:" belongs to the answer.
			if m := keywordPattern.FindStringSubmatch(line); m != nil && strings.EqualFold(m[1], "observation") {
				break
			}
			f.finalAnswer.WriteString("\n" + line)
			continue
		}

		m := keywordPattern.FindStringSubmatch(line)
		if m == nil {
			if current != nil {
				current.WriteString("\n" + line)
			}
			continue
		}

		rest := m[2]
		switch strings.ToLower(m[1]) {
		case "thought":
			if f.action != "" {
				// A second thought after an action starts a new step; ignore it.
				return f
			}
			current = &f.thought
			if strings.TrimSpace(f.thought.String()) != "" {
				f.thought.WriteString("\n")
			}
			f.thought.WriteString(rest)
		case "action":
			if f.action != "" {
				return f
			}
			f.action = strings.TrimSpace(rest)
			current = nil
		case "action input":
			f.hasInput = true
			current = &f.input
			f.input.WriteString(rest)
		case "final answer":
			f.hasFinal = true
			f.finalAnswer.WriteString(rest)
			current = nil
		case "observation":
			// The model is inventing tool output.
			return f
		}
	}
	return f
}

// normalizeAction maps "Final Answer", "`web_search`" or "[calculator]" onto
// registry names.
func normalizeAction(name string) string {
	name = strings.Trim(strings.TrimSpace(name), "`'\"[]*.")
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(name), "_")
}

// splitCall separates calculator(expression="1+1") into name and arguments.
func splitCall(action string) (string, string) {
	m := callPattern.FindStringSubmatch(strings.Trim(action, "`"))
	if m == nil {
		return action, ""
	}
	return m[1], strings.TrimSpace(m[2])
}

func parseCallArgs(args string) map[string]any {
	matches := kwargPattern.FindAllStringSubmatch(args, -1)
	if len(matches) == 0 {
		return map[string]any{"input": unquote(args)}
	}
	params := make(map[string]any, len(matches))
	for _, m := range matches {
		params[m[1]] = scalarValue(strings.TrimSpace(m[2]))
	}
	return params
}

// parseActionInput decodes the parameter block. Objects become the params
// map, malformed objects are repaired, anything else becomes {"input": v}.
func parseActionInput(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		raw = strings.TrimSpace(m[1])
	}
	raw = strings.Trim(raw, "`")
	if raw == "" {
		return nil
	}

	if strings.HasPrefix(raw, "{") {
		var params map[string]any
		if err := unmarshalJSON([]byte(raw), &params); err == nil {
			return params
		}
		return map[string]any{"input": raw}
	}
	return map[string]any{"input": scalarValue(raw)}
}

func scalarValue(raw string) any {
	if raw == "" {
		return ""
	}
	if raw[0] == '"' || raw[0] == '\'' {
		return unquote(raw)
	}
	if raw[0] == '[' || raw == "true" || raw == "false" || raw == "null" {
		var v any
		if err := unmarshalJSON([]byte(raw), &v); err == nil {
			return v
		}
		return raw
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	return raw
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
	}
	if len(s) >= 2 && ((s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'')) {
		return s[1 : len(s)-1]
	}
	return s
}

func finalParams(params map[string]any, f *parsedFields) map[string]any {
	if f.hasFinal {
		return map[string]any{"answer": strings.TrimSpace(f.finalAnswer.String())}
	}
	if params == nil {
		return map[string]any{"answer": ""}
	}
	if _, ok := params["answer"]; !ok {
		if v, ok := params["input"]; ok {
			return map[string]any{"answer": fmt.Sprint(v)}
		}
	}
	return params
}

// parseJSONAction handles outputs like {"action": "calculator", "action_input": {...}}.
func parseJSONAction(text string) (string, map[string]any, bool) {
	candidate := strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}
	start, end := strings.IndexByte(candidate, '{'), strings.LastIndexByte(candidate, '}')
	if start < 0 || end <= start {
		return "", nil, false
	}
	candidate = candidate[start : end+1]
	if !gjson.Valid(candidate) {
		fixed, err := jsonrepair.JSONRepair(candidate)
		if err != nil || !gjson.Valid(fixed) {
			return "", nil, false
		}
		candidate = fixed
	}

	var action string
	for _, key := range []string{"action", "tool", "name"} {
		if v := gjson.Get(candidate, key); v.Type == gjson.String && v.String() != "" {
			action = normalizeAction(v.String())
			break
		}
	}
	if action == "" {
		return "", nil, false
	}

	var params map[string]any
	for _, key := range []string{"action_input", "input", "args", "arguments", "parameters"} {
		v := gjson.Get(candidate, key)
		if !v.Exists() {
			continue
		}
		if v.IsObject() {
			if err := json.Unmarshal([]byte(v.Raw), &params); err != nil {
				return "", nil, false
			}
		} else {
			params = map[string]any{"input": v.Value()}
		}
		break
	}
	if action == ActionFinalAnswer {
		params = finalParams(params, &parsedFields{})
	}
	return action, params, true
}

// unmarshalJSON retries syntax errors after jsonrepair.
func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(string(data))
	if rerr != nil {
		return rerr
	}
	return json.Unmarshal([]byte(fixed), v)
}
