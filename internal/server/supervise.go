package server

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Task is one long-running part of a process.
type Task func(ctx context.Context) error

// Supervise runs tasks together. The first failure cancels the rest; the
// result is that failure, or nil once every task has returned.
func Supervise(ctx context.Context, tasks ...Task) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		if task == nil {
			continue
		}
		g.Go(func() error { return task(gctx) })
	}
	return g.Wait()
}
