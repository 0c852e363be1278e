package appcontext

import (
	"context"
)

type contextKey string

const executionKey contextKey = "executionKey"

// WithExecutionKey tags ctx with the key of one engine execution pass.
// All records written while driving a process instance through a single
// batch carry this key.
func WithExecutionKey(ctx context.Context, key int64) context.Context {
	return context.WithValue(ctx, executionKey, key)
}

// ExecutionKeyFromContext returns the execution key stored in ctx, if any.
func ExecutionKeyFromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(executionKey)
	if v == nil {
		return 0, false
	}
	return v.(int64), true
}
