package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Pool runs a fixed number of consumers against one queue.
type Pool struct {
	queue   Queue
	handler Handler
	workers int
	logger  *slog.Logger
}

// NewPool creates a pool. workers below 1 means one worker.
func NewPool(q Queue, h Handler, workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{queue: q, handler: h, workers: workers, logger: logger}
}

// Run blocks until ctx is cancelled, the queue is closed, or a consumer fails.
// The first consumer error cancels the others and is returned.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	p.logger.Info("snapshot workers starting", "workers", p.workers)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			if err := p.queue.Consume(ctx, p.handler); err != nil {
				return fmt.Errorf("worker %d: %w", worker, err)
			}
			return nil
		})
	}

	err := g.Wait()
	p.logger.Info("snapshot workers stopped", "error", err)
	return err
}
