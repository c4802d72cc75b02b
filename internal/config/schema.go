package config

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// agentsSchemaJSON constrains agents.yaml: each entry needs an agent_id
// and either a system_prompt or a system_prompt_file, grounded on the
// teacher's StructuredValidator use of santhosh-tekuri/jsonschema/v6.
const agentsSchemaJSON = `{
  "type": "object",
  "properties": {
    "agents": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["agent_id"],
        "properties": {
          "agent_id": {"type": "string", "minLength": 1},
          "display_name": {"type": "string"},
          "system_prompt": {"type": "string"},
          "system_prompt_file": {"type": "string"},
          "model": {"type": "string"},
          "max_concurrent_tasks": {"type": "integer", "minimum": 1},
          "schedules": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["schedule", "task_title"],
              "properties": {
                "schedule": {"type": "string", "minLength": 1},
                "task_title": {"type": "string", "minLength": 1},
                "task_description": {"type": "string"},
                "priority": {"enum": ["Low", "Medium", "High", "Critical"]}
              }
            }
          }
        }
      }
    }
  }
}`

var agentsSchema *jsonschema.Schema

func init() {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(agentsSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("config: compile agents schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("agents.json", doc); err != nil {
		panic(fmt.Sprintf("config: add agents schema resource: %v", err))
	}
	agentsSchema, err = c.Compile("agents.json")
	if err != nil {
		panic(fmt.Sprintf("config: compile agents schema: %v", err))
	}
}

// ValidateAgentsYAML validates YAML-encoded agents-file content against
// agentsSchemaJSON. YAML is decoded to a generic value first since the
// jsonschema package validates decoded Go values, not raw text.
func ValidateAgentsYAML(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	doc = normalizeForSchema(doc)
	if err := agentsSchema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}

// normalizeForSchema converts yaml.v3's map[string]interface{} output
// (and any nested map[interface{}]interface{} from older decode paths)
// into the map[string]any/[]any shapes jsonschema expects.
func normalizeForSchema(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalizeForSchema(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeForSchema(e)
		}
		return out
	default:
		return val
	}
}
