package analyzer

import (
	"math"

	"github.com/nibzard/parallax/internal/task"
)

// Plan groups records and summarizes the expected execution.
func (a *Analyzer) Plan(records []task.Record) *task.Plan {
	return Summarize(records, a.Group(records))
}

// Summarize builds a plan from already-grouped records. Resource requirements
// are the peak over groups of the summed requirements of each group's tasks.
func Summarize(records []task.Record, groups []task.Group) *task.Plan {
	p := &task.Plan{
		TotalTasks:      len(records),
		ExecutionGroups: len(groups),
		Groups:          groups,
	}
	if p.Groups == nil {
		p.Groups = []task.Group{}
	}
	for _, r := range records {
		if r.Parallelizable {
			p.ParallelizableTasks++
		} else {
			p.SequentialTasks++
		}
		p.EstimatedSequentialTime += r.EstimatedDuration
	}

	for _, g := range groups {
		p.EstimatedParallelTime += g.EstimatedTime
		var sum task.Resources
		for _, r := range g.Tasks {
			sum = sum.Add(r.Resources)
		}
		p.ResourceRequirements = p.ResourceRequirements.Max(sum)
	}

	p.SpeedImprovement = 1
	if p.EstimatedParallelTime > 0 {
		ratio := float64(p.EstimatedSequentialTime) / float64(p.EstimatedParallelTime)
		p.SpeedImprovement = math.Round(ratio*100) / 100
	}
	return p
}
