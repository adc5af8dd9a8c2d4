package analyzer

import (
	"strings"

	"github.com/nibzard/parallax/internal/task"
)

// minMatchLength is the shortest hint or candidate considered for matching.
const minMatchLength = 3

// Graph maps each task ID to the sorted IDs it depends on. Every analyzed
// record has a key; references to unknown tasks are dropped.
type Graph map[string][]string

// ConflictMatrix maps each task ID to the sorted IDs sharing at least one
// target file with it. It is symmetric.
type ConflictMatrix map[string][]string

// Dependents returns the inverse of g: for each ID, the tasks depending on it.
func (g Graph) Dependents() map[string][]string {
	out := make(map[string][]string, len(g))
	for id := range g {
		out[id] = []string{}
	}
	for id, deps := range g {
		for _, dep := range deps {
			out[dep] = append(out[dep], id)
		}
	}
	for id, ds := range out {
		out[id] = task.SortedUnique(ds)
	}
	return out
}

// BuildGraph resolves every record's dependency hints against the other
// records' ID, name, and target files. A hint matches a candidate when either
// contains the other, ignoring case.
func BuildGraph(records []task.Record) Graph {
	g := make(Graph, len(records))
	for i, rec := range records {
		var deps []string
		for _, hint := range rec.DependencyHints {
			h := strings.ToLower(strings.TrimSpace(hint))
			if len(h) < minMatchLength {
				continue
			}
			for j, other := range records {
				if i == j || other.ID == rec.ID {
					continue
				}
				if matchesRecord(h, other) {
					deps = append(deps, other.ID)
				}
			}
		}
		g[rec.ID] = task.SortedUnique(deps)
	}
	return g
}

func matchesRecord(hint string, r task.Record) bool {
	candidates := make([]string, 0, 2+len(r.TargetFiles))
	candidates = append(candidates, r.ID, r.Name)
	candidates = append(candidates, r.TargetFiles...)
	for _, c := range candidates {
		c = strings.ToLower(strings.TrimSpace(c))
		if len(c) < minMatchLength {
			continue
		}
		if strings.Contains(hint, c) || strings.Contains(c, hint) {
			return true
		}
	}
	return false
}

// BuildConflicts intersects target files pairwise. Paths are compared as
// exact strings.
func BuildConflicts(records []task.Record) ConflictMatrix {
	owners := make(map[string][]string)
	m := make(ConflictMatrix, len(records))
	for _, rec := range records {
		m[rec.ID] = []string{}
		for _, f := range rec.TargetFiles {
			owners[f] = append(owners[f], rec.ID)
		}
	}
	for _, ids := range owners {
		for _, a := range ids {
			for _, b := range ids {
				if a != b {
					m[a] = append(m[a], b)
				}
			}
		}
	}
	for id, ids := range m {
		m[id] = task.SortedUnique(ids)
	}
	return m
}

// Link fills Dependencies, Conflicts, and Parallelizable on records in place
// and returns the graph and matrix it derived.
//
// A record is parallelizable only when it has no conflicts, no dependencies,
// is not critical, and no other record depends on it. The last condition
// keeps prerequisites in the ordered sequential section so they always run
// before the tasks that need them.
func Link(records []task.Record) (Graph, ConflictMatrix) {
	g := BuildGraph(records)
	m := BuildConflicts(records)
	dependents := g.Dependents()
	for i := range records {
		r := &records[i]
		r.Dependencies = g[r.ID]
		r.Conflicts = m[r.ID]
		r.Parallelizable = len(r.Conflicts) == 0 &&
			len(r.Dependencies) == 0 &&
			r.Complexity != task.ComplexityCritical &&
			len(dependents[r.ID]) == 0
	}
	return g, m
}
