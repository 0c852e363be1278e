package bdm

// InvalidReferenceError reports a business data value that cannot be
// attached, e.g. nil or not a recognized entity.
type InvalidReferenceError struct {
	Msg string
}

func (e *InvalidReferenceError) Error() string {
	return e.Msg
}

// OperationExecutionError reports a failed business data operation.
type OperationExecutionError struct {
	Msg string
	Err error
}

func (e *OperationExecutionError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *OperationExecutionError) Unwrap() error {
	return e.Err
}
