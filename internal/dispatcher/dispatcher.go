// Package dispatcher runs a fixed pool of workers over the thread queue.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Runner is one unit of the pool, typically a worker consuming the queue.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans a set of runners out onto goroutines and waits for all of
// them to drain.
type Dispatcher struct {
	runners []Runner
	logger  *zap.Logger
}

// New creates a Dispatcher over the given runners.
func New(runners []Runner, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{runners: runners, logger: logger}
}

// Run starts every runner and blocks until all of them return, which happens
// once the queue is closed and drained or the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher starting", zap.Int("workers", len(d.runners)))

	var wg sync.WaitGroup
	for i, r := range d.runners {
		wg.Add(1)
		go func(i int, r Runner) {
			defer wg.Done()
			r.Run(ctx)
			d.logger.Debug("worker finished", zap.Int("index", i))
		}(i, r)
	}
	wg.Wait()

	d.logger.Info("dispatcher finished")
}
