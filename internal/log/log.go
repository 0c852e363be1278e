package log

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	root hclog.Logger
	mu   sync.Mutex
)

// Init configures the application root logger. It is safe to call more than
// once; later calls replace the level of the existing logger.
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()
	root = hclog.New(&hclog.LoggerOptions{
		Name:  "flow-engine",
		Level: hclog.LevelFromString(level),
	})
}

// Get returns the application root logger.
func Get() hclog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		root = hclog.Default().Named("flow-engine")
	}
	return root
}

// Named returns a sub-logger of the application root logger.
func Named(name string) hclog.Logger {
	return Get().Named(name)
}

func Infof(ctx context.Context, format string, args ...any) {
	Get().Info(fmt.Sprintf(format, args...))
}

func Errorf(ctx context.Context, format string, args ...any) {
	Get().Error(fmt.Sprintf(format, args...))
}

func Error(format string, args ...any) {
	Get().Error(fmt.Sprintf(format, args...))
}
