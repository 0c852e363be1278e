// Package js runs JavaScript task bodies on pooled goja virtual machines.
package js

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/bonitasoft/bonita-engine-sub045/pkg/script"
)

type JsRunnerFactory struct {
}

func (JsRunnerFactory) NewRunner() script.Runner {
	return newJsRunner()
}

type JsRuntime struct {
	pool *script.RunnerPool
}

func NewJsRuntime(ctx context.Context, maxPoolSize int, minPoolSize int) *JsRuntime {
	return &JsRuntime{
		pool: script.NewRunnerPool(ctx, JsRunnerFactory{}, maxPoolSize, minPoolSize),
	}
}

func (r *JsRuntime) RunScript(source string, scope map[string]any) (any, error) {
	var runner = r.pool.GetRunnerFromPool()
	defer r.pool.ReturnRunnerToPool(runner)

	return runner.(*JsRunner).runScript(source, scope)
}

type JsRunner struct {
	vm *goja.Runtime
}

func (r *JsRunner) Runner() {}

func newJsRunner() *JsRunner {
	return &JsRunner{vm: goja.New()}
}

func (r *JsRunner) runScript(source string, scope map[string]any) (any, error) {
	for name, value := range scope {
		if err := r.vm.Set(name, value); err != nil {
			return nil, fmt.Errorf("failed to bind variable %q: %w", name, err)
		}
	}
	defer func() {
		// runners are reused, scope bindings must not leak between scripts
		for name := range scope {
			_ = r.vm.GlobalObject().Delete(name)
		}
	}()
	value, err := r.vm.RunString(source)
	if err != nil {
		return nil, fmt.Errorf("error running script %q: %w", source, err)
	}
	if value == nil {
		return nil, nil
	}
	return value.Export(), nil
}
