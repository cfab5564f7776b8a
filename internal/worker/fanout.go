package worker

import (
	"context"
	"sync"

	"wopa/internal/wire"
)

// DefaultFanoutCap is the default bound on concurrent checks within a
// single step, per §5's "bounded fan-out, default cap 8".
const DefaultFanoutCap = 8

// CheckFunc runs one check and returns its result. It must never panic or
// return a non-nil error that escapes the step; failures are expressed by
// returning a Check with RiskLevel=unknown, matching §4.2's failure
// semantics.
type CheckFunc func(ctx context.Context) wire.Check

// RunStep executes fns with bounded parallelism (cap), collecting results
// in the same order fns was given. This generalizes the teacher's
// worker-pool-over-channel DAG executor to a single flat step instead of
// a general dependency graph.
func RunStep(ctx context.Context, cap int, fns []CheckFunc) []wire.Check {
	if cap <= 0 {
		cap = DefaultFanoutCap
	}
	results := make([]wire.Check, len(fns))
	sem := make(chan struct{}, cap)
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, fn CheckFunc) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = fn(ctx)
		}(i, fn)
	}
	wg.Wait()
	return results
}
