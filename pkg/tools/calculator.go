package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/reagent/pkg/config"
	"github.com/kadirpekel/reagent/pkg/tools/calc"
)

type calculatorArgs struct {
	Expression string `json:"expression" jsonschema:"required,description=Mathematical expression to evaluate"`
}

// NewCalculatorTool evaluates arithmetic with the restricted calc grammar.
func NewCalculatorTool() (Tool, error) {
	return NewFunctionTool(FunctionConfig{
		Name: config.ToolCalculator,
		Description: "Perform mathematical calculations. Supports arithmetic (+ - * / % ^ **), " +
			"the functions " + strings.Join(calc.Functions(), ", ") + " and the constants pi and e.",
		Example: `calculator(expression="sqrt(16) + log(100)")`,
	}, func(_ context.Context, args calculatorArgs) (ToolResult, error) {
		v, err := calc.Eval(args.Expression)
		if err != nil {
			res := failure(config.ToolCalculator, "Mathematical calculation failed: "+err.Error())
			res.Err = fmt.Errorf("%w: %w", ErrToolExecution, err)
			return res, nil
		}
		formatted := calc.Format(v)
		return ToolResult{
			Success: true,
			Content: formatted,
			Metadata: map[string]any{
				"expression":  args.Expression,
				"result":      v,
				"calculation": fmt.Sprintf("Calculation: %s = %s", args.Expression, formatted),
			},
		}, nil
	})
}
