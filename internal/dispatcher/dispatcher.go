// Package dispatcher fans relay queue work out to a pool of download workers.
package dispatcher

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner is a long-lived consumer that returns when its input ends.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher runs a fixed pool of workers.
type Dispatcher struct {
	workers []Runner
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(workers []Runner, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{workers: workers, logger: logger}
}

// Run starts all workers and blocks until every one has returned, which happens
// when the context finishes or the queue they read from is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	var g errgroup.Group
	for i, w := range d.workers {
		g.Go(func() error {
			w.Run(ctx)
			d.logger.Debug("worker stopped", zap.Int("index", i))
			return nil
		})
	}
	_ = g.Wait()
}

// Size reports the number of workers in the pool.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}
