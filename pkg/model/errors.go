package model

import "fmt"

// DefinitionError reports a malformed process definition graph. It is
// raised at construction/deploy time only; a definition that validated
// never produces one at runtime.
type DefinitionError struct {
	Msg string
}

func (e *DefinitionError) Error() string {
	return e.Msg
}

// newDefinitionErrorf uses fmt.Sprintf(format, a...) to format the message
func newDefinitionErrorf(format string, a ...any) error {
	return &DefinitionError{
		Msg: fmt.Sprintf(format, a...),
	}
}
