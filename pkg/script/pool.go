package script

import (
	"context"
	"sync"
	"time"
)

type Runner interface {
	Runner()
}

type RunnerFactory interface {
	NewRunner() Runner
}

// RunnerPool keeps a bounded set of script runners alive so that VM
// startup cost is paid once per runner instead of once per evaluation.
type RunnerPool struct {
	pool            chan Runner
	factory         RunnerFactory
	activeRunners   int
	activeRunnersMu sync.Mutex
	maxPoolSize     int
	minPoolSize     int
}

func NewRunnerPool(ctx context.Context, factory RunnerFactory, maxPoolSize int, minPoolSize int) *RunnerPool {
	if maxPoolSize < minPoolSize {
		panic("runner pool max size is smaller than min size")
	}

	p := RunnerPool{
		pool:        make(chan Runner, maxPoolSize),
		factory:     factory,
		maxPoolSize: maxPoolSize,
		minPoolSize: minPoolSize,
	}

	for i := 0; i < minPoolSize; i++ {
		p.activeRunnersMu.Lock()
		p.pool <- p.factory.NewRunner()
		p.activeRunners++
		p.activeRunnersMu.Unlock()
	}

	// shrink idle runners back to the minimum
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for len(p.pool) > minPoolSize {
					p.activeRunnersMu.Lock()
					<-p.pool
					p.activeRunners--
					p.activeRunnersMu.Unlock()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return &p
}

func (p *RunnerPool) GetRunnerFromPool() Runner {
	var runner Runner
	select {
	case runner = <-p.pool:
	default:
		p.activeRunnersMu.Lock()
		if p.activeRunners < p.maxPoolSize {
			runner = p.factory.NewRunner()
			p.activeRunners++
		}
		p.activeRunnersMu.Unlock()
		if runner == nil {
			runner = <-p.pool
		}
	}
	return runner
}

func (p *RunnerPool) ReturnRunnerToPool(runner Runner) {
	select {
	case p.pool <- runner:
	default:
		// pool is full, drop the runner
		p.activeRunnersMu.Lock()
		p.activeRunners--
		p.activeRunnersMu.Unlock()
	}
}
