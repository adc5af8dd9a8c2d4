package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Plan summarizes how a set of records will be executed.
type Plan struct {
	TotalTasks              int       `json:"total_tasks" yaml:"total_tasks"`
	ParallelizableTasks     int       `json:"parallelizable_tasks" yaml:"parallelizable_tasks"`
	SequentialTasks         int       `json:"sequential_tasks" yaml:"sequential_tasks"`
	ExecutionGroups         int       `json:"execution_groups" yaml:"execution_groups"`
	EstimatedSequentialTime int       `json:"estimated_sequential_time" yaml:"estimated_sequential_time"`
	EstimatedParallelTime   int       `json:"estimated_parallel_time" yaml:"estimated_parallel_time"`
	SpeedImprovement        float64   `json:"speed_improvement" yaml:"speed_improvement"`
	ResourceRequirements    Resources `json:"resource_requirements" yaml:"resource_requirements"`
	Groups                  []Group   `json:"groups" yaml:"groups"`
}

// Save writes the plan to path. Paths ending in .yaml or .yml are written as
// YAML, everything else as indented JSON.
func (p *Plan) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAMLPath(path) {
		data, err = yaml.Marshal(p)
	} else {
		data, err = json.MarshalIndent(p, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create plan dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}

// LoadPlan reads a plan written by Save and validates it against the plan
// schema before decoding.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	jsonData := data
	if isYAMLPath(path) {
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse plan yaml: %w", err)
		}
		jsonData, err = json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("convert plan yaml: %w", err)
		}
	}

	if err := ValidatePlanJSON(jsonData); err != nil {
		return nil, err
	}

	var plan Plan
	if err := json.Unmarshal(jsonData, &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}

	recs := plan.Records()
	if len(recs) != plan.TotalTasks {
		return nil, fmt.Errorf("plan lists %d tasks but total_tasks is %d", len(recs), plan.TotalTasks)
	}
	seen := make(map[string]bool, len(recs))
	for _, r := range recs {
		if seen[r.ID] {
			return nil, fmt.Errorf("plan: duplicate task id %q", r.ID)
		}
		seen[r.ID] = true
	}
	return &plan, nil
}

// Records returns every record of the plan in group order.
func (p *Plan) Records() []Record {
	var out []Record
	for _, g := range p.Groups {
		out = append(out, g.Tasks...)
	}
	return out
}

func isYAMLPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
