// Package task defines analyzed task records, execution groups, and plans.
package task

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Type classifies what kind of work a task describes.
type Type string

// Task types in enumeration order. Classifier ties resolve to the earliest.
const (
	TypeTestCoverage  Type = "test_coverage"
	TypeBugFix        Type = "bug_fix"
	TypeFeature       Type = "feature_implementation"
	TypeRefactor      Type = "refactoring"
	TypeDocumentation Type = "documentation"
	TypeConfiguration Type = "configuration"
)

// Types returns all task types in enumeration order.
func Types() []Type {
	return []Type{
		TypeTestCoverage,
		TypeBugFix,
		TypeFeature,
		TypeRefactor,
		TypeDocumentation,
		TypeConfiguration,
	}
}

// Complexity is an ordinal estimate of how hard a task is.
type Complexity int

const (
	ComplexityLow Complexity = iota + 1
	ComplexityMedium
	ComplexityHigh
	ComplexityCritical
)

var complexityNames = map[Complexity]string{
	ComplexityLow:      "low",
	ComplexityMedium:   "medium",
	ComplexityHigh:     "high",
	ComplexityCritical: "critical",
}

func (c Complexity) String() string {
	if name, ok := complexityNames[c]; ok {
		return name
	}
	return fmt.Sprintf("complexity(%d)", int(c))
}

// MarshalText encodes the complexity by name.
func (c Complexity) MarshalText() ([]byte, error) {
	name, ok := complexityNames[c]
	if !ok {
		return nil, fmt.Errorf("invalid complexity %d", int(c))
	}
	return []byte(name), nil
}

// UnmarshalText decodes a complexity name.
func (c *Complexity) UnmarshalText(text []byte) error {
	parsed, err := ParseComplexity(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseComplexity parses a complexity name (case-insensitive).
func ParseComplexity(s string) (Complexity, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for c, name := range complexityNames {
		if name == want {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown complexity %q", s)
}

// Resources are the estimated resources a task needs while it runs.
type Resources struct {
	CPU      float64 `json:"cpu" yaml:"cpu"`
	MemoryMB int     `json:"memory" yaml:"memory"`
	DiskMB   int     `json:"disk" yaml:"disk"`
}

// Add returns the element-wise sum of r and o.
func (r Resources) Add(o Resources) Resources {
	return Resources{
		CPU:      r.CPU + o.CPU,
		MemoryMB: r.MemoryMB + o.MemoryMB,
		DiskMB:   r.DiskMB + o.DiskMB,
	}
}

// Max returns the element-wise maximum of r and o.
func (r Resources) Max(o Resources) Resources {
	out := r
	if o.CPU > out.CPU {
		out.CPU = o.CPU
	}
	if o.MemoryMB > out.MemoryMB {
		out.MemoryMB = o.MemoryMB
	}
	if o.DiskMB > out.DiskMB {
		out.DiskMB = o.DiskMB
	}
	return out
}

// Record is the analyzed form of one task descriptor.
//
// Dependencies, Conflicts and Parallelizable are derived in a second pass once
// every record of the run exists. Records are not persisted beyond one run
// except as part of a plan or report.
type Record struct {
	ID                string     `json:"id" yaml:"id"`
	Name              string     `json:"name" yaml:"name"`
	Source            string     `json:"source" yaml:"source"`
	Type              Type       `json:"type" yaml:"type"`
	Complexity        Complexity `json:"complexity" yaml:"complexity"`
	TargetFiles       []string   `json:"target_files" yaml:"target_files"`
	TestFiles         []string   `json:"test_files" yaml:"test_files"`
	EstimatedDuration int        `json:"estimated_duration" yaml:"estimated_duration"`
	Resources         Resources  `json:"resource_requirements" yaml:"resource_requirements"`
	Dependencies      []string   `json:"dependencies" yaml:"dependencies"`
	Conflicts         []string   `json:"conflicts" yaml:"conflicts"`
	Parallelizable    bool       `json:"parallelizable" yaml:"parallelizable"`
	TimeoutMinutes    int        `json:"timeout_minutes,omitempty" yaml:"timeout_minutes,omitempty"`

	// DependencyHints are the raw phrases and import targets the analyzer
	// resolves into Dependencies. They are not serialized.
	DependencyHints []string `json:"-" yaml:"-"`
}

// Timeout returns the task-specific timeout, or zero when none was given.
func (r Record) Timeout() time.Duration {
	if r.TimeoutMinutes <= 0 {
		return 0
	}
	return time.Duration(r.TimeoutMinutes) * time.Minute
}

// FileCount returns the number of target and test files.
func (r Record) FileCount() int {
	return len(r.TargetFiles) + len(r.TestFiles)
}

// Group is an ordered batch of tasks admitted together.
type Group struct {
	ID             int      `json:"group_id" yaml:"group_id"`
	Tasks          []Record `json:"tasks" yaml:"tasks"`
	EstimatedTime  int      `json:"estimated_time" yaml:"estimated_time"`
	Parallelizable bool     `json:"parallelizable" yaml:"parallelizable"`
}

// TaskIDs returns the IDs of the group's tasks in order.
func (g Group) TaskIDs() []string {
	ids := make([]string, 0, len(g.Tasks))
	for _, t := range g.Tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

// SortedUnique returns a sorted copy of values with duplicates and empty
// strings removed. It never returns nil.
func SortedUnique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
