package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minRangeSize keeps tiny inputs on a single goroutine.
const minRangeSize = 1024

// Range is a half-open interval [Lo, Hi) of point indices.
type Range struct {
	Lo, Hi int
}

// Len returns the number of indices in the range.
func (r Range) Len() int { return r.Hi - r.Lo }

// Workers resolves a configured worker count; zero or negative means
// GOMAXPROCS.
func Workers(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

// Split divides [0, n) into at most workers contiguous ranges of near-equal
// size. Ranges are returned in index order.
func Split(n, workers int) []Range {
	if n <= 0 {
		return nil
	}
	workers = Workers(workers)
	if limit := (n + minRangeSize - 1) / minRangeSize; workers > limit {
		workers = limit
	}
	ranges := make([]Range, 0, workers)
	chunk := n / workers
	rem := n % workers
	lo := 0
	for w := 0; w < workers; w++ {
		size := chunk
		if w < rem {
			size++
		}
		ranges = append(ranges, Range{Lo: lo, Hi: lo + size})
		lo += size
	}
	return ranges
}

// ForRanges runs fn once per range of Split(n, workers) on a bounded pool.
// fn receives the range ordinal so callers can write into a per-range
// buffer without locking. The first error cancels the remaining work.
func ForRanges(ctx context.Context, n, workers int, fn func(ctx context.Context, part int, r Range) error) error {
	ranges := Split(n, workers)
	if len(ranges) == 0 {
		return nil
	}
	if len(ranges) == 1 {
		return fn(ctx, 0, ranges[0])
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(Workers(workers))
	for i, r := range ranges {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i, r)
		})
	}
	return g.Wait()
}

// Map evaluates fn for every index in [0, n) in parallel and returns the
// results in index order.
func Map[T any](ctx context.Context, n, workers int, fn func(i int) T) ([]T, error) {
	out := make([]T, n)
	err := ForRanges(ctx, n, workers, func(_ context.Context, _ int, r Range) error {
		for i := r.Lo; i < r.Hi; i++ {
			out[i] = fn(i)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
