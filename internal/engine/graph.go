package engine

import (
	"fmt"

	"archon/internal/domain"
)

// CyclicDependencyError reports how far leveling got before stalling.
type CyclicDependencyError struct {
	Processed int
	Total     int
}

func (e CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency detected: processed %d of %d tasks", e.Processed, e.Total)
}

// ResolveLevels assigns parallel_group to every task by level-synchronous
// peeling: group 0 holds tasks with no in-graph dependencies, group N
// holds tasks whose in-graph dependencies all sit in groups below N.
// Dependency ids outside the task set stay on the task verbatim but do
// not constrain leveling. The returned slice is ordered group 0 first,
// then group 1, and so on; within a group, input order is preserved.
// On a cycle (self-cycles included) nothing is assigned and a
// CyclicDependencyError is returned.
func ResolveLevels(tasks []domain.Task) ([]domain.Task, error) {
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}

	assigned := make(map[string]int, len(tasks))
	processed := 0
	for level := 0; processed < len(tasks); level++ {
		var round []string
		for _, t := range tasks {
			if _, done := assigned[t.ID]; done {
				continue
			}
			ready := true
			for _, dep := range t.DependsOn {
				if !known[dep] {
					continue // external dependency, treated as satisfied
				}
				if lvl, done := assigned[dep]; !done || lvl >= level {
					ready = false
					break
				}
			}
			if ready {
				round = append(round, t.ID)
			}
		}
		if len(round) == 0 {
			return nil, CyclicDependencyError{Processed: processed, Total: len(tasks)}
		}
		for _, id := range round {
			assigned[id] = level
		}
		processed += len(round)
	}

	maxLevel := 0
	for _, lvl := range assigned {
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}
	out := make([]domain.Task, 0, len(tasks))
	for level := 0; level <= maxLevel; level++ {
		for _, t := range tasks {
			if assigned[t.ID] != level {
				continue
			}
			t.ParallelGroup = level
			out = append(out, t)
		}
	}
	return out, nil
}

// GroupByLevel buckets tasks by parallel_group in ascending order.
func GroupByLevel(tasks []domain.Task) [][]domain.Task {
	if len(tasks) == 0 {
		return nil
	}
	max := 0
	for _, t := range tasks {
		if t.ParallelGroup > max {
			max = t.ParallelGroup
		}
	}
	groups := make([][]domain.Task, max+1)
	for _, t := range tasks {
		g := t.ParallelGroup
		if g < 0 {
			g = 0
		}
		groups[g] = append(groups[g], t)
	}
	var out [][]domain.Task
	for _, g := range groups {
		if len(g) > 0 {
			out = append(out, g)
		}
	}
	return out
}
