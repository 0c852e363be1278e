// Package script provides the expression and script runtimes used to
// evaluate transition guards, data operations and automatic task bodies.
package script

// ExpressionRuntime evaluates guard and binding expressions against a
// variable scope. Evaluate returns the expression result, UnaryTest
// coerces it to a boolean decision.
type ExpressionRuntime interface {
	UnaryTest(expression string, scope map[string]any) (bool, error)
	Evaluate(expression string, scope map[string]any) (any, error)
}

// ScriptRuntime runs free-form scripts, e.g. the body of an automatic task.
type ScriptRuntime interface {
	RunScript(script string, scope map[string]any) (any, error)
}
