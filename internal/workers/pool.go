package workers

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// chunksPerWorker controls how finely iterations are split across goroutines
const chunksPerWorker = 4

// Pool runs indexed iterations on a bounded number of goroutines. Each iteration
// writes into its own result slot, so the outcome never depends on scheduling.
type Pool struct {
	workers int
}

// NewPool creates a pool; workers <= 0 uses GOMAXPROCS
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{workers: workers}
}

// Workers returns the goroutine limit
func (p *Pool) Workers() int {
	return p.workers
}

// ForEach calls fn for every i in [0, n). The first error cancels the remaining
// iterations and is returned.
func (p *Pool) ForEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if n <= 0 {
		return nil
	}
	if p.workers == 1 || n == 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	chunk := n / (p.workers * chunksPerWorker)
	if chunk < 1 {
		chunk = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for start := 0; start < n; start += chunk {
		lo, hi := start, min(start+chunk, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := fn(gctx, i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
