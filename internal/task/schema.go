package task

import "github.com/nibzard/parallax/internal/schema"

const planSchemaName = "plan.schema.json"

// planSchema is the JSON Schema for execution plans.
const planSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "parallax execution plan",
  "type": "object",
  "required": [
    "total_tasks", "parallelizable_tasks", "sequential_tasks", "execution_groups",
    "estimated_sequential_time", "estimated_parallel_time", "speed_improvement",
    "resource_requirements", "groups"
  ],
  "properties": {
    "total_tasks": { "type": "integer", "minimum": 0 },
    "parallelizable_tasks": { "type": "integer", "minimum": 0 },
    "sequential_tasks": { "type": "integer", "minimum": 0 },
    "execution_groups": { "type": "integer", "minimum": 0 },
    "estimated_sequential_time": { "type": "integer", "minimum": 0 },
    "estimated_parallel_time": { "type": "integer", "minimum": 0 },
    "speed_improvement": { "type": "number", "minimum": 0 },
    "resource_requirements": { "$ref": "#/$defs/resources" },
    "groups": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["group_id", "tasks", "estimated_time", "parallelizable"],
        "properties": {
          "group_id": { "type": "integer", "minimum": 0 },
          "estimated_time": { "type": "integer", "minimum": 0 },
          "parallelizable": { "type": "boolean" },
          "tasks": { "type": "array", "minItems": 1, "items": { "$ref": "#/$defs/task" } }
        }
      }
    }
  },
  "$defs": {
    "resources": {
      "type": "object",
      "required": ["cpu", "memory", "disk"],
      "properties": {
        "cpu": { "type": "number", "minimum": 0 },
        "memory": { "type": "integer", "minimum": 0 },
        "disk": { "type": "integer", "minimum": 0 }
      }
    },
    "stringList": {
      "anyOf": [
        { "type": "null" },
        { "type": "array", "items": { "type": "string" } }
      ]
    },
    "task": {
      "type": "object",
      "required": ["id", "name", "type", "complexity", "estimated_duration", "parallelizable"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "name": { "type": "string" },
        "source": { "type": "string" },
        "type": {
          "enum": ["test_coverage", "bug_fix", "feature_implementation", "refactoring", "documentation", "configuration"]
        },
        "complexity": { "enum": ["low", "medium", "high", "critical"] },
        "target_files": { "$ref": "#/$defs/stringList" },
        "test_files": { "$ref": "#/$defs/stringList" },
        "dependencies": { "$ref": "#/$defs/stringList" },
        "conflicts": { "$ref": "#/$defs/stringList" },
        "estimated_duration": { "type": "integer", "minimum": 0 },
        "timeout_minutes": { "type": "integer", "minimum": 0 },
        "resource_requirements": { "$ref": "#/$defs/resources" },
        "parallelizable": { "type": "boolean" }
      }
    }
  }
}`

// ValidatePlanJSON validates a JSON-encoded plan against the plan schema.
func ValidatePlanJSON(data []byte) error {
	return schema.Validate(planSchemaName, planSchema, data)
}
