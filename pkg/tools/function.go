// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
)

// FunctionConfig names and describes a typed tool.
type FunctionConfig struct {
	Name        string
	Description string

	// Example is appended to the prompt description when set.
	Example string
}

// NewFunctionTool wraps fn as a Tool whose arguments decode into Args.
//
// Parameter metadata comes from Args' struct tags:
//
//	type Args struct {
//	    Query string `json:"query" jsonschema:"required,description=Search query"`
//	    Limit int    `json:"limit,omitempty" jsonschema:"description=Max results,default=5"`
//	}
//
// Decoding is weakly typed, so "5" fills an int field.
func NewFunctionTool[Args any](cfg FunctionConfig, fn func(context.Context, Args) (ToolResult, error)) (Tool, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	schema, params, err := reflectParams[Args]()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for %s: %w", cfg.Name, err)
	}
	return &functionTool[Args]{cfg: cfg, fn: fn, schema: schema, params: params}, nil
}

type functionTool[Args any] struct {
	cfg    FunctionConfig
	fn     func(context.Context, Args) (ToolResult, error)
	schema map[string]any
	params []ToolParameter
}

func (t *functionTool[Args]) GetName() string { return t.cfg.Name }

// GetDescription returns the prompt-facing description including parameters.
func (t *functionTool[Args]) GetDescription() string {
	desc := t.cfg.Description
	if len(t.params) > 0 {
		desc += "\n\n" + describeParams(t.params)
	}
	if t.cfg.Example != "" {
		desc += "\n\nExample: " + t.cfg.Example
	}
	return desc
}

func (t *functionTool[Args]) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.cfg.Name,
		Description: t.cfg.Description,
		Parameters:  t.params,
		Schema:      t.schema,
	}
}

func (t *functionTool[Args]) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	for _, p := range t.params {
		if !p.Required {
			continue
		}
		if v, ok := args[p.Name]; !ok || v == nil || v == "" {
			return ToolResult{}, fmt.Errorf("%w: %s parameter is required", ErrInvalidArgs, p.Name)
		}
	}

	var typed Args
	if err := decodeArgs(args, &typed); err != nil {
		return ToolResult{}, fmt.Errorf("%w for %s: %v", ErrInvalidArgs, t.cfg.Name, err)
	}
	res, err := t.fn(ctx, typed)
	if res.ToolName == "" {
		res.ToolName = t.cfg.Name
	}
	return res, err
}

func decodeArgs(in map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(in)
}

func reflectParams[Args any]() (map[string]any, []ToolParameter, error) {
	// Unnamed types such as struct{} have no definition entry to expand.
	named := reflect.TypeOf(new(Args)).Elem().Name() != ""
	r := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             named,
		DoNotReference:             true,
	}
	s := r.Reflect(new(Args))

	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}

	var params []ToolParameter
	if s.Properties != nil {
		for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
			prop := pair.Value
			params = append(params, ToolParameter{
				Name:        pair.Key,
				Type:        prop.Type,
				Description: prop.Description,
				Required:    required[pair.Key],
				Default:     prop.Default,
			})
		}
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, nil, err
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, nil, err
	}
	delete(schema, "$schema")
	delete(schema, "$id")
	return schema, params, nil
}

// describeParams renders a parameter list for prompt descriptions.
func describeParams(params []ToolParameter) string {
	sorted := append([]ToolParameter(nil), params...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Required && !sorted[j].Required })

	out := "Parameters:"
	for _, p := range sorted {
		line := fmt.Sprintf("\n- %s (%s", p.Name, p.Type)
		if !p.Required {
			line += ", optional"
		}
		line += "): " + p.Description
		if p.Default != nil {
			line += fmt.Sprintf(" (default: %v)", p.Default)
		}
		out += line
	}
	return out
}
