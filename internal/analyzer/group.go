package analyzer

import (
	"sort"

	"github.com/nibzard/parallax/internal/task"
)

// Group partitions records into ordered execution groups.
//
// Sequential records each get a singleton group. They keep discovery order
// except where a record's dependencies must come first; a dependency cycle
// falls back to discovery order for the records involved. Parallelizable
// records are sorted longest first and packed into groups of at most
// MaxGroupSize, appended after the singletons.
func (a *Analyzer) Group(records []task.Record) []task.Group {
	return group(records, a.opts.MaxGroupSize, func(ids []string) {
		a.opts.Logger.Warn("dependency cycle, using discovery order", "tasks", ids)
	})
}

func group(records []task.Record, maxSize int, onCycle func([]string)) []task.Group {
	if maxSize < 1 {
		maxSize = 1
	}

	var sequential, parallel []task.Record
	for _, r := range records {
		if r.Parallelizable {
			parallel = append(parallel, r)
		} else {
			sequential = append(sequential, r)
		}
	}

	var groups []task.Group
	for _, r := range orderByDependencies(sequential, onCycle) {
		groups = append(groups, task.Group{
			ID:            len(groups),
			Tasks:         []task.Record{r},
			EstimatedTime: r.EstimatedDuration,
		})
	}

	sort.SliceStable(parallel, func(i, j int) bool {
		return parallel[i].EstimatedDuration > parallel[j].EstimatedDuration
	})
	for start := 0; start < len(parallel); start += maxSize {
		end := min(start+maxSize, len(parallel))
		batch := append([]task.Record(nil), parallel[start:end]...)
		longest := 0
		for _, r := range batch {
			longest = max(longest, r.EstimatedDuration)
		}
		groups = append(groups, task.Group{
			ID:             len(groups),
			Tasks:          batch,
			EstimatedTime:  longest,
			Parallelizable: true,
		})
	}
	return groups
}

// orderByDependencies topologically sorts records, always emitting the
// earliest-discovered ready record next. Dependencies on records outside the
// slice are ignored.
func orderByDependencies(records []task.Record, onCycle func([]string)) []task.Record {
	index := make(map[string]int, len(records))
	for i, r := range records {
		index[r.ID] = i
	}

	pending := make([]int, len(records))
	dependents := make([][]int, len(records))
	for i, r := range records {
		for _, dep := range r.Dependencies {
			j, ok := index[dep]
			if !ok || j == i {
				continue
			}
			pending[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	done := make([]bool, len(records))
	out := make([]task.Record, 0, len(records))
	for len(out) < len(records) {
		next := -1
		for i := range records {
			if !done[i] && pending[i] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			// Only cycles remain: release the earliest blocked record.
			var cycle []string
			for i := range records {
				if !done[i] {
					if next == -1 {
						next = i
					}
					cycle = append(cycle, records[i].ID)
				}
			}
			if onCycle != nil {
				onCycle(cycle)
			}
		}
		done[next] = true
		out = append(out, records[next])
		for _, d := range dependents[next] {
			pending[d]--
		}
	}
	return out
}
