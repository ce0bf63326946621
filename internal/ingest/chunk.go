package ingest

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// forEachChunk splits [0, n) into chunks of size items and runs fn on them
// with at most workers goroutines. Results must be written by index so the output does
// not depend on scheduling. The first error, or ctx's error, stops the run.
func forEachChunk(ctx context.Context, n, size, workers int, fn func(lo, hi int) error) error {
	if n == 0 {
		return ctx.Err()
	}
	if size <= 0 {
		size = n
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(lo, hi)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
