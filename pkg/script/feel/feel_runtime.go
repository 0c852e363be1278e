// Package feel evaluates FEEL expressions through the pbinitiative/feel
// interpreter.
package feel

import (
	"fmt"

	"github.com/pbinitiative/feel"

	"github.com/bonitasoft/bonita-engine-sub045/pkg/script"
)

type FeelRuntime struct {
}

func NewFeelRuntime() script.ExpressionRuntime {
	return &FeelRuntime{}
}

func (r *FeelRuntime) Evaluate(expression string, scope map[string]any) (any, error) {
	value, err := feel.EvalStringWithScope(expression, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}
	return value, nil
}

// UnaryTest evaluates the expression and coerces the result to a boolean
// decision. Non-boolean results are rejected rather than truthiness-coerced.
func (r *FeelRuntime) UnaryTest(expression string, scope map[string]any) (bool, error) {
	value, err := r.Evaluate(expression, scope)
	if err != nil {
		return false, err
	}
	switch v := value.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("expression %q evaluated to %T, expected bool", expression, value)
	}
}
