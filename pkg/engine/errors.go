package engine

import "fmt"

type EngineError struct {
	Msg string
}

func (e *EngineError) Error() string {
	return e.Msg
}

// newEngineErrorf uses fmt.Sprintf(format, a...) to format the message
func newEngineErrorf(format string, a ...interface{}) error {
	return &EngineError{
		Msg: fmt.Sprintf(format, a...),
	}
}

// EvaluationError reports a guard or binding expression that failed to
// evaluate. It surfaces as an instance level fault, never a silent skip.
type EvaluationError struct {
	Msg string
	Err error
}

func (e *EvaluationError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// ReachabilityAmbiguityError reports an inconclusive dead path analysis at
// an inclusive gateway. The gateway is treated as not yet ready and the
// analysis re-runs on the next upstream resolution.
type ReachabilityAmbiguityError struct {
	GatewayID int64
	Msg       string
}

func (e *ReachabilityAmbiguityError) Error() string {
	return fmt.Sprintf("reachability analysis for gateway %d inconclusive: %s", e.GatewayID, e.Msg)
}
