package rpc

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// methodSchemas holds the params schema for every exposed method.
// Validation runs before the params are decoded into request structs,
// so malformed calls fail with invalid-params instead of a half-decoded
// struct hitting the service layer.
var methodSchemas = map[string]string{
	"create_plan": `{
		"type": "object",
		"required": ["session_id", "project_id", "name"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1},
			"project_id": {"type": "string", "minLength": 1},
			"name": {"type": "string", "minLength": 1},
			"description": {"type": "string"},
			"metadata": {"type": "object"},
			"activate": {"type": "boolean"},
			"actor": {"type": "string"},
			"tasks": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["title"],
					"properties": {
						"title": {"type": "string", "minLength": 1},
						"description": {"type": "string"},
						"priority": {"type": "string", "minLength": 1},
						"metadata": {"type": "object"}
					},
					"additionalProperties": false
				}
			}
		},
		"additionalProperties": false
	}`,

	"get_plan": `{
		"type": "object",
		"required": ["session_id", "plan_id"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1},
			"plan_id": {"type": "integer", "minimum": 1},
			"include_tasks": {"type": "boolean"}
		},
		"additionalProperties": false
	}`,

	"get_plan_by_name": `{
		"type": "object",
		"required": ["session_id", "project_id", "name"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1},
			"project_id": {"type": "string", "minLength": 1},
			"name": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`,

	"list_plans": `{
		"type": "object",
		"required": ["session_id"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`,

	"update_plan": `{
		"type": "object",
		"required": ["session_id", "plan_id"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1},
			"plan_id": {"type": "integer", "minimum": 1},
			"name": {"type": "string", "minLength": 1},
			"description": {"type": "string"}
		},
		"additionalProperties": false
	}`,

	"create_task": `{
		"type": "object",
		"required": ["session_id", "plan_id", "title"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1},
			"plan_id": {"type": "integer", "minimum": 1},
			"title": {"type": "string", "minLength": 1},
			"description": {"type": "string"},
			"priority": {"type": "string", "minLength": 1},
			"metadata": {"type": "object"},
			"actor": {"type": "string"}
		},
		"additionalProperties": false
	}`,

	"get_task": `{
		"type": "object",
		"required": ["session_id", "plan_id", "task_id"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1},
			"plan_id": {"type": "integer", "minimum": 1},
			"task_id": {"type": "integer", "minimum": 1}
		},
		"additionalProperties": false
	}`,

	"list_tasks": `{
		"type": "object",
		"required": ["session_id", "plan_id"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1},
			"plan_id": {"type": "integer", "minimum": 1}
		},
		"additionalProperties": false
	}`,

	"update_task": `{
		"type": "object",
		"required": ["session_id", "plan_id", "task_id"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1},
			"plan_id": {"type": "integer", "minimum": 1},
			"task_id": {"type": "integer", "minimum": 1},
			"title": {"type": "string", "minLength": 1},
			"description": {"type": "string"},
			"priority": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`,

	"get_plan_history": `{
		"type": "object",
		"required": ["session_id", "plan_id"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1},
			"plan_id": {"type": "integer", "minimum": 1}
		},
		"additionalProperties": false
	}`,

	"get_task_history": `{
		"type": "object",
		"required": ["session_id", "plan_id", "task_id"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1},
			"plan_id": {"type": "integer", "minimum": 1},
			"task_id": {"type": "integer", "minimum": 1}
		},
		"additionalProperties": false
	}`,
}

// planTransitionSchema is shared by activate_plan, complete_plan, and
// archive_plan.
const planTransitionSchema = `{
	"type": "object",
	"required": ["session_id", "plan_id"],
	"properties": {
		"session_id": {"type": "string", "minLength": 1},
		"plan_id": {"type": "integer", "minimum": 1},
		"actor": {"type": "string"},
		"reason": {"type": "string"}
	},
	"additionalProperties": false
}`

// taskTransitionSchema is shared by start_task, complete_task, and
// fail_task.
const taskTransitionSchema = `{
	"type": "object",
	"required": ["session_id", "plan_id", "task_id"],
	"properties": {
		"session_id": {"type": "string", "minLength": 1},
		"plan_id": {"type": "integer", "minimum": 1},
		"task_id": {"type": "integer", "minimum": 1},
		"actor": {"type": "string"},
		"reason": {"type": "string"}
	},
	"additionalProperties": false
}`

func init() {
	for _, method := range []string{"activate_plan", "complete_plan", "archive_plan"} {
		methodSchemas[method] = planTransitionSchema
	}
	for _, method := range []string{"start_task", "complete_task", "fail_task"} {
		methodSchemas[method] = taskTransitionSchema
	}
}

// compileSchemas compiles every method schema once at server startup.
func compileSchemas() (map[string]*jsonschema.Schema, error) {
	compiled := make(map[string]*jsonschema.Schema, len(methodSchemas))
	for method, src := range methodSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", method, err)
		}
		c := jsonschema.NewCompiler()
		name := method + ".json"
		if err := c.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", method, err)
		}
		schema, err := c.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", method, err)
		}
		compiled[method] = schema
	}
	return compiled, nil
}
