package calc

import (
	"context"
	"errors"
	"fmt"

	"github.com/michaelbrown/toolgraph/internal/tools"
)

// ToolName is the name the calculator is exposed under.
const ToolName = "calculator_tool"

// Description is shown to the model.
const Description = "Calculate mathematical expressions safely. " +
	"Supports + - * / // % ** and parentheses, the functions abs, round, pow, max, min, " +
	"sqrt, sin, cos, tan, asin, acos, atan, log, log10, exp, ceil, floor, factorial, " +
	"and the constants pi and e. Example: sqrt(16) + 2**3"

// Parameters is the JSON Schema of the calculator's arguments.
var Parameters = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"expression": map[string]any{
			"type":        "string",
			"description": "The mathematical expression to evaluate",
		},
	},
	"required": []string{"expression"},
}

// Calculate evaluates expr and renders the result or a readable error. It
// never fails; errors are part of the text so the model can react to them.
func Calculate(expr string) string {
	v, err := Evaluate(expr)
	if err == nil {
		return Format(v)
	}

	var domainErr *DomainError
	var nameErr *NameError
	switch {
	case errors.Is(err, ErrDivisionByZero):
		return "Error: Division by zero is not allowed."
	case errors.As(err, &domainErr):
		return "Error: Invalid mathematical operation - " + domainErr.Msg
	case errors.As(err, &nameErr):
		return "Error: Unknown function or variable - " + nameErr.Error()
	case errors.Is(err, ErrSyntax):
		return "Error: Invalid mathematical expression syntax."
	default:
		return fmt.Sprintf("Error: Unable to calculate the expression - %v", err)
	}
}

// NewTool returns the calculator as a local tool.
func NewTool() tools.Tool {
	return tools.NewTool(ToolName, Description, Parameters, func(ctx context.Context, args map[string]any) (string, error) {
		expr, ok := args["expression"].(string)
		if !ok {
			return "Error: 'expression' argument must be a string", nil
		}
		return Calculate(expr), nil
	})
}
