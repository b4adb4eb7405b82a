// Package builtin provides the built-in tool definitions: calculator,
// read_file, the file descriptor tools, spawn, goto, and the fork schema.
package builtin

import (
	"context"
	"math"
	"strconv"

	"github.com/expr-lang/expr"

	"github.com/cccntu/llmproc/internal/tools"
	"github.com/cccntu/llmproc/pkg/models"
)

type calculatorArgs struct {
	Expression string `json:"expression" jsonschema:"description=The mathematical expression to evaluate"`
	Precision  *int   `json:"precision,omitempty" jsonschema:"description=Number of decimal places in the result (0-15; default 6)"`
}

// calcEnv is the fixed evaluation environment: constants and functions only,
// no access to anything outside arithmetic.
var calcEnv = map[string]any{
	"pi":    math.Pi,
	"e":     math.E,
	"sqrt":  math.Sqrt,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"asin":  math.Asin,
	"acos":  math.Acos,
	"atan":  math.Atan,
	"log":   math.Log,
	"log10": math.Log10,
	"log2":  math.Log2,
	"exp":   math.Exp,
	"pow":   math.Pow,
	"abs":   math.Abs,
	"floor": math.Floor,
	"ceil":  math.Ceil,
	"round": math.Round,
}

// Calculator evaluates arithmetic expressions in a sandboxed environment.
// Malformed expressions and non-finite results are error results, never
// panics.
func Calculator() *tools.Definition {
	return tools.FuncDef("calculator",
		"Evaluate a mathematical expression and return the result. Supports +, -, *, /, %, ^ (power), parentheses, and functions like sqrt, sin, cos, log, pow, abs, floor, ceil.",
		tools.AccessRead,
		func(_ context.Context, args calculatorArgs, _ *tools.RuntimeContext) *models.ToolResult {
			precision := 6
			if args.Precision != nil {
				precision = *args.Precision
			}
			if precision < 0 || precision > 15 {
				return models.ErrorResultf("Error: Precision must be between 0 and 15, got %d", precision)
			}
			if args.Expression == "" {
				return models.ErrorResult("Error: Expression is required")
			}

			out, err := expr.Eval(args.Expression, calcEnv)
			if err != nil {
				return models.ErrorResultf("Error: Invalid expression: %v", err)
			}

			var value float64
			switch v := out.(type) {
			case int:
				value = float64(v)
			case int64:
				value = float64(v)
			case float64:
				value = v
			case bool:
				// Comparison expressions are fine to answer directly.
				return models.NewToolResult(strconv.FormatBool(v))
			default:
				return models.ErrorResultf("Error: Expression did not evaluate to a number")
			}

			if math.IsInf(value, 0) || math.IsNaN(value) {
				return models.ErrorResult("Error: Result is not a finite number (division by zero?)")
			}

			shift := math.Pow(10, float64(precision))
			rounded := math.Round(value*shift) / shift
			return models.NewToolResult(strconv.FormatFloat(rounded, 'f', -1, 64))
		})
}
