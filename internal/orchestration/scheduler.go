package orchestration

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// runBatch executes a multi-delegation batch. Dependencies between batch
// members (from their profiles) form a DAG; independent delegations in the
// same topological level run concurrently, bounded by
// MaxConcurrentDelegations. With ContinueDelegationsOnFailure a failure only
// skips its dependents; without it the first failure cancels in-flight work
// and skips everything not yet started. Results come back in input order.
func (e *Executor) runBatch(ctx context.Context, parent *ExecutionContext, batch []ParsedDelegation) []DelegationResult {
	results := make([]DelegationResult, len(batch))

	targetIdx := make(map[string]int, len(batch))
	for i, d := range batch {
		if _, ok := targetIdx[d.Target]; !ok {
			targetIdx[d.Target] = i
		}
	}

	// Dependency edges restricted to targets present in this batch. A target
	// whose profile cannot load gets no edges; delegate() surfaces the load
	// error itself.
	deps := make([][]int, len(batch))
	for i, d := range batch {
		p, err := e.opts.Loader.LoadProfile(d.Target)
		if err != nil {
			continue
		}
		for _, depName := range p.Dependencies {
			if j, ok := targetIdx[depName]; ok && j != i {
				deps[i] = append(deps[i], j)
			}
		}
	}

	levels, err := topoLevels(deps)
	if err != nil {
		cycleErr := &Error{
			Code:    ErrCodeDependencyCycle,
			Message: fmt.Sprintf("delegation batch has a dependency cycle among: %s", strings.Join(batchTargets(batch), ", ")),
			Agent:   parent.Agent.Name,
		}
		for i, d := range batch {
			results[i] = failedDelegation(parent, d, cycleErr)
		}
		return results
	}

	batchCtx := ctx
	cancelBatch := func() {}
	if !e.opts.ContinueDelegationsOnFailure {
		batchCtx, cancelBatch = context.WithCancel(ctx)
		defer cancelBatch()
	}

	var (
		mu      sync.Mutex
		failed  = make([]bool, len(batch))
		aborted bool
	)

	for _, level := range levels {
		var g errgroup.Group
		g.SetLimit(e.opts.MaxConcurrentDelegations)

		for _, i := range level {
			mu.Lock()
			abort := aborted
			blocked := firstFailedDep(deps[i], failed, batch)
			mu.Unlock()

			if abort {
				results[i] = skippedDelegation(parent, batch[i], "batch cancelled after earlier failure")
				failed[i] = true
				continue
			}
			if blocked != "" {
				results[i] = skippedDelegation(parent, batch[i], fmt.Sprintf("dependency %s failed", blocked))
				failed[i] = true
				continue
			}

			g.Go(func() error {
				res := e.delegate(batchCtx, parent, batch[i])
				mu.Lock()
				results[i] = res
				if res.Status != DelegationSuccess {
					failed[i] = true
					if !e.opts.ContinueDelegationsOnFailure {
						aborted = true
						cancelBatch()
					}
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	return results
}

func firstFailedDep(deps []int, failed []bool, batch []ParsedDelegation) string {
	for _, j := range deps {
		if failed[j] {
			return batch[j].Target
		}
	}
	return ""
}

func batchTargets(batch []ParsedDelegation) []string {
	out := make([]string, len(batch))
	for i, d := range batch {
		out[i] = d.Target
	}
	return out
}

// topoLevels groups node indices into topological levels: every node's
// dependencies live in earlier levels. Returns an error when the graph has a
// cycle.
func topoLevels(deps [][]int) ([][]int, error) {
	n := len(deps)
	placed := make([]bool, n)
	done := 0

	var levels [][]int
	for done < n {
		var level []int
		for i := 0; i < n; i++ {
			if placed[i] {
				continue
			}
			ready := true
			for _, j := range deps[i] {
				if !placed[j] {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, i)
			}
		}
		if len(level) == 0 {
			return nil, fmt.Errorf("dependency cycle detected")
		}
		for _, i := range level {
			placed[i] = true
		}
		done += len(level)
		levels = append(levels, level)
	}
	return levels, nil
}
