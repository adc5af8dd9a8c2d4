package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/nibzard/parallax/internal/backend"
	"github.com/nibzard/parallax/internal/schema"
)

// Report is the persisted outcome of one run. Every task handed to Run
// appears in TaskResults with an explicit status.
type Report struct {
	RunID            string                    `json:"run_id"`
	ExecutionSummary Summary                   `json:"execution_summary"`
	TaskResults      map[string]backend.Result `json:"task_results"`
}

// Summary wraps the run statistics.
type Summary struct {
	Statistics Statistics `json:"statistics"`
}

// TaskIDs returns the report's task IDs sorted.
func (r *Report) TaskIDs() []string {
	ids := make([]string, 0, len(r.TaskResults))
	for id := range r.TaskResults {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Save writes the report to path as indented JSON.
func (r *Report) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// LoadReport reads a report written by Save, validating it first.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	if err := ValidateReportJSON(data); err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if r.TaskResults == nil {
		r.TaskResults = map[string]backend.Result{}
	}
	return &r, nil
}

// ValidateReportJSON validates a JSON-encoded report against the report
// schema.
func ValidateReportJSON(data []byte) error {
	return schema.Validate(reportSchemaName, reportSchema, data)
}

const reportSchemaName = "report.schema.json"

const reportSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "parallax run report",
  "type": "object",
  "required": ["execution_summary", "task_results"],
  "properties": {
    "run_id": { "type": "string" },
    "execution_summary": {
      "type": "object",
      "required": ["statistics"],
      "properties": {
        "statistics": {
          "type": "object",
          "required": ["total_tasks", "completed_tasks", "failed_tasks", "cancelled_tasks", "execution_mode"],
          "properties": {
            "total_tasks": { "type": "integer", "minimum": 0 },
            "completed_tasks": { "type": "integer", "minimum": 0 },
            "failed_tasks": { "type": "integer", "minimum": 0 },
            "timed_out_tasks": { "type": "integer", "minimum": 0 },
            "cancelled_tasks": { "type": "integer", "minimum": 0 },
            "skipped_tasks": { "type": "integer", "minimum": 0 },
            "execution_mode": { "type": "string" },
            "sequential_time": { "type": "number", "minimum": 0 },
            "parallel_time": { "type": "number", "minimum": 0 },
            "speed_improvement": { "type": "number", "minimum": 0 },
            "start_time": { "type": "string", "format": "date-time" },
            "end_time": { "type": "string", "format": "date-time" }
          }
        }
      }
    },
    "task_results": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["task_id", "status", "exit_code"],
        "properties": {
          "task_id": { "type": "string", "minLength": 1 },
          "task_name": { "type": "string" },
          "status": { "enum": ["success", "failed", "timeout", "cancelled", "skipped"] },
          "start_time": { "type": "string", "format": "date-time" },
          "end_time": { "type": "string", "format": "date-time" },
          "duration": { "type": "integer", "minimum": 0 },
          "exit_code": { "type": "integer" },
          "stdout": { "type": "string" },
          "stderr": { "type": "string" },
          "output_file": { "type": "string" },
          "error_message": { "type": "string" },
          "attempts": { "type": "integer", "minimum": 0 }
        }
      }
    }
  }
}`
