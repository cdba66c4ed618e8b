package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/aegis-dr/aegis/pkg/models"
)

// StepRunner executes a single RecoveryStep's work. The topological
// walk below is hand-rolled (Kahn's algorithm) rather than imported, a
// stdlib-only choice matching the rest of this package's scheduling
// helpers.
type StepRunner func(ctx context.Context, step *models.RecoveryStep) error

// runDAG walks steps in dependency order, running ready steps
// concurrently whenever their dependency sets permit. Step state
// transitions are serialized
// through mu so a reader of plan.Steps never observes a torn update. A
// step failure halts further scheduling but lets already-started steps
// finish; the first error encountered is returned.
func runDAG(ctx context.Context, steps []*models.RecoveryStep, run StepRunner) error {
	if len(steps) == 0 {
		return nil
	}

	byID := make(map[string]*models.RecoveryStep, len(steps))
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))

	for _, s := range steps {
		byID[s.ID] = s
		indegree[s.ID] = len(s.Dependencies)
		for _, dep := range s.Dependencies {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error
	halted := false

	var schedule func(id string)
	schedule = func(id string) {
		defer wg.Done()

		mu.Lock()
		if halted {
			mu.Unlock()
			return
		}
		step := byID[id]
		step.State = models.StepRunning
		mu.Unlock()

		err := run(ctx, step)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			step.State = models.StepFailed
			step.Error = err.Error()
			if firstErr == nil {
				firstErr = fmt.Errorf("recovery: step %s (%s) failed: %w", step.ID, step.Name, err)
			}
			halted = true
			return
		}
		step.State = models.StepCompleted

		var next []string
		for _, depID := range dependents[id] {
			indegree[depID]--
			if indegree[depID] == 0 {
				next = append(next, depID)
			}
		}
		for _, n := range next {
			wg.Add(1)
			go schedule(n)
		}
	}

	for _, s := range steps {
		if indegree[s.ID] == 0 {
			wg.Add(1)
			go schedule(s.ID)
		}
	}

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-ctx.Done():
		mu.Lock()
		halted = true
		if firstErr == nil {
			firstErr = ctx.Err()
		}
		mu.Unlock()
		<-waited
	}

	return firstErr
}
