package yaml

import (
	"fmt"
	"strings"

	goyaml "github.com/goccy/go-yaml"
	"github.com/xeipuuv/gojsonschema"
)

// definitionSchema is the JSON schema every graph definition document must satisfy.
const definitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "fields", "stages"],
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "version": {"type": "string"},
    "start": {"type": "string"},
    "error_field": {"type": "string"},
    "step_field": {"type": "string"},
    "fields": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "class"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "class": {"enum": ["overwrite", "accumulate", "accumulator"]},
          "required": {"type": "boolean"},
          "description": {"type": "string"}
        }
      }
    },
    "stages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "type"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "policy": {"enum": ["", "fail_fast", "collect", "collect_and_continue"]},
          "reads": {"type": "array", "items": {"type": "string"}},
          "writes": {"type": "array", "items": {"type": "string"}},
          "timeout": {"type": "string"},
          "script": {"type": "string"},
          "config": {"type": "object"},
          "retry": {
            "type": "object",
            "required": ["max_attempts", "delay"],
            "additionalProperties": false,
            "properties": {
              "max_attempts": {"type": "integer", "minimum": 1},
              "delay": {"type": "string"},
              "multiplier": {"type": "number", "minimum": 0},
              "max_delay": {"type": "string"}
            }
          }
        }
      }
    },
    "connections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "additionalProperties": false,
        "properties": {
          "from": {"type": "string", "minLength": 1},
          "to": {"type": "string", "minLength": 1}
        }
      }
    },
    "decision": {
      "type": "object",
      "required": ["stage", "counter", "flag", "outcomes"],
      "additionalProperties": false,
      "properties": {
        "stage": {"type": "string", "minLength": 1},
        "counter": {"type": "string", "minLength": 1},
        "ceiling": {"type": "integer", "minimum": 0},
        "flag": {
          "type": "object",
          "required": ["field", "path"],
          "additionalProperties": false,
          "properties": {
            "field": {"type": "string", "minLength": 1},
            "path": {"type": "string", "minLength": 1}
          }
        },
        "outcomes": {
          "type": "object",
          "required": ["retry", "proceed"],
          "additionalProperties": false,
          "properties": {
            "retry": {"type": "string", "minLength": 1},
            "proceed": {"type": "string", "minLength": 1}
          }
        }
      }
    }
  }
}`

var definitionLoader = gojsonschema.NewStringLoader(definitionSchema)

// ValidationError lists every schema violation found in a document.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid graph definition: " + strings.Join(e.Problems, "; ")
}

// ValidateDocument checks a YAML document against the definition schema.
func ValidateDocument(data []byte) error {
	doc, err := goyaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("convert definition: %w", err)
	}

	result, err := gojsonschema.Validate(definitionLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, re.String())
	}
	return &ValidationError{Problems: problems}
}
