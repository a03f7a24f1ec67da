// Package task runs best-effort background work: jobs that must never block
// or fail the request that spawned them. Failures are logged and dropped.
package task

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds each background task. The triggering request has long
// since returned by then.
const DefaultTimeout = 30 * time.Second

// Runner executes fire-and-forget tasks with panic recovery.
type Runner struct {
	wg sync.WaitGroup
}

// NewRunner creates a new task runner
func NewRunner() *Runner {
	return &Runner{}
}

// Go runs fn in the background with its own timeout context. Errors and
// panics are logged, never propagated.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("task", name).Msg("Background task panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			log.Warn().Err(err).Str("task", name).Msg("Background task failed")
		}
	}()
}

// Wait blocks until all in-flight tasks finish. Used on shutdown and in tests.
func (r *Runner) Wait() {
	r.wg.Wait()
}
