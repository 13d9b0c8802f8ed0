package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/ohler55/ojg/jp"
	"github.com/xeipuuv/gojsonschema"

	"github.com/agentstation/screenflow"
	"github.com/agentstation/screenflow/script"
	"github.com/agentstation/screenflow/yaml"
)

const (
	categoryScript = "script"
	categoryData   = "data"
)

// LuaBuilder builds stages from sandboxed Lua scripts.
type LuaBuilder struct{}

// Metadata returns the stage type metadata.
func (b *LuaBuilder) Metadata() Metadata {
	return Metadata{
		Type:        "lua",
		Category:    categoryScript,
		Description: "Runs a sandboxed Lua script; run(state) returns the stage update",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file": map[string]any{
					"type":        "string",
					"description": "Path to a Lua file, used when the stage has no inline script",
				},
			},
		},
		Examples: []Example{
			{
				Name:        "Split a description",
				Description: "Turn the job description into a list of words",
				Config:      map[string]any{},
				Input:       map[string]any{"job_description": "senior go engineer"},
				Output:      map[string]any{"keywords": []any{"senior", "go", "engineer"}},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates a Lua stage from a definition.
func (b *LuaBuilder) Build(def *yaml.StageDefinition) (screenflow.Stage, error) {
	source := def.Script
	if source == "" {
		file := stringConfig(def, "file")
		if file == "" {
			return nil, fmt.Errorf("either 'script' or config 'file' must be specified")
		}
		content, err := os.ReadFile(file) // #nosec G304 - script files are user-configured
		if err != nil {
			return nil, fmt.Errorf("failed to read script file: %w", err)
		}
		source = string(content)
	}

	policy, err := screenflow.ParseFaultPolicy(def.Policy)
	if err != nil {
		return nil, err
	}
	return script.NewStage(script.Config{
		Name:   def.Name,
		Source: source,
		Reads:  def.Reads,
		Writes: def.Writes,
		Policy: policy,
	})
}

// JSONPathBuilder builds stages that copy a JSONPath match from one field to another.
type JSONPathBuilder struct{}

// Metadata returns the stage type metadata.
func (b *JSONPathBuilder) Metadata() Metadata {
	return Metadata{
		Type:        "jsonpath",
		Category:    categoryData,
		Description: "Extracts data from a state field using a JSONPath expression",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"from": map[string]any{
					"type":        "string",
					"description": "Field the expression is evaluated against",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "JSONPath expression to extract data",
				},
				"to": map[string]any{
					"type":        "string",
					"description": "Field receiving the extracted value",
				},
				"multiple": map[string]any{
					"type":        "boolean",
					"default":     false,
					"description": "Write all matches as an array (true) or the first match only (false)",
				},
				"default": map[string]any{
					"description": "Value written when the path matches nothing",
				},
				"unwrap": map[string]any{
					"type":        "boolean",
					"default":     true,
					"description": "Unwrap single-element arrays",
				},
			},
			"required": []string{"from", "path", "to"},
		},
		Examples: []Example{
			{
				Name:        "Extract the job title",
				Description: "Copy the title out of the parsed requirements",
				Config: map[string]any{
					"from": "job_requirements",
					"path": "$.title",
					"to":   "report",
				},
				Input:  map[string]any{"job_requirements": map[string]any{"title": "Go Engineer"}},
				Output: map[string]any{"report": "Go Engineer"},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates a JSONPath stage from a definition.
func (b *JSONPathBuilder) Build(def *yaml.StageDefinition) (screenflow.Stage, error) {
	from := stringConfig(def, "from")
	to := stringConfig(def, "to")
	pathStr := stringConfig(def, "path")
	if from == "" || to == "" || pathStr == "" {
		return nil, fmt.Errorf("from, path and to are required")
	}

	expr, err := jp.ParseString(pathStr)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONPath expression: %w", err)
	}
	multiple := boolConfig(def, "multiple", false)
	unwrap := boolConfig(def, "unwrap", true)
	defaultValue := def.Config["default"]

	return screenflow.StageFunc(def.Name, func(_ context.Context, state screenflow.StateReader) (screenflow.Update, error) {
		v, _ := state.Get(from)
		results := expr.Get(v)

		if len(results) == 0 {
			switch {
			case defaultValue != nil:
				return screenflow.Update{to: defaultValue}, nil
			case multiple:
				return screenflow.Update{to: []any{}}, nil
			default:
				return nil, nil
			}
		}
		if multiple {
			return screenflow.Update{to: results}, nil
		}

		result := results[0]
		if arr, ok := result.([]any); ok && unwrap && len(arr) == 1 {
			result = arr[0]
		}
		return screenflow.Update{to: result}, nil
	}, stageOptions(def, []string{from}, []string{to})...), nil
}

// TemplateBuilder builds stages that render a text template over the read fields.
type TemplateBuilder struct{}

// Metadata returns the stage type metadata.
func (b *TemplateBuilder) Metadata() Metadata {
	return Metadata{
		Type:        "template",
		Category:    categoryData,
		Description: "Renders a Go text template with the stage's read fields",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"template": map[string]any{
					"type":        "string",
					"description": "Go template string to render",
				},
				"file": map[string]any{
					"type":        "string",
					"description": "Path to template file (alternative to inline template)",
				},
				"to": map[string]any{
					"type":        "string",
					"description": "Field receiving the rendered text",
				},
			},
			"required": []string{"to"},
			"oneOf": []map[string]any{
				{"required": []string{"template"}},
				{"required": []string{"file"}},
			},
		},
		Examples: []Example{
			{
				Name:        "Summary line",
				Description: "Render a one-line summary of the ranking",
				Config: map[string]any{
					"template": "{{len .ranked_candidates}} candidates ranked",
					"to":       "report",
				},
				Input:  map[string]any{"ranked_candidates": []any{"a", "b"}},
				Output: map[string]any{"report": "2 candidates ranked"},
			},
		},
		Since: "1.0.0",
	}
}

// templateFuncs are available to every template stage.
var templateFuncs = template.FuncMap{
	"join":  strings.Join,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"json": func(v any) (string, error) {
		data, err := json.Marshal(v)
		return string(data), err
	},
}

// Build creates a template stage from a definition.
func (b *TemplateBuilder) Build(def *yaml.StageDefinition) (screenflow.Stage, error) {
	to := stringConfig(def, "to")
	if to == "" {
		return nil, fmt.Errorf("to is required")
	}

	text := stringConfig(def, "template")
	if text == "" {
		file := stringConfig(def, "file")
		if file == "" {
			return nil, fmt.Errorf("either 'template' or 'file' must be specified")
		}
		content, err := os.ReadFile(file) // #nosec G304 - template files are user-configured
		if err != nil {
			return nil, fmt.Errorf("failed to read template file: %w", err)
		}
		text = string(content)
	}

	tmpl, err := template.New(def.Name).Funcs(templateFuncs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("invalid template: %w", err)
	}

	reads := def.Reads
	return screenflow.StageFunc(def.Name, func(_ context.Context, state screenflow.StateReader) (screenflow.Update, error) {
		data := make(map[string]any, len(reads))
		for _, key := range reads {
			data[key], _ = state.Get(key)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("template execution failed: %w", err)
		}
		return screenflow.Update{to: buf.String()}, nil
	}, stageOptions(def, reads, []string{to})...), nil
}

// ValidateBuilder builds stages that check a field against a JSON schema.
type ValidateBuilder struct{}

// Metadata returns the stage type metadata.
func (b *ValidateBuilder) Metadata() Metadata {
	return Metadata{
		Type:        "validate",
		Category:    categoryData,
		Description: "Validates a state field against a JSON schema",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"field": map[string]any{
					"type":        "string",
					"description": "Field to validate",
				},
				"schema": map[string]any{
					"type":        "object",
					"description": "JSON Schema to validate against",
				},
				"to": map[string]any{
					"type":        "string",
					"description": "Optional field receiving {valid, errors}",
				},
				"fail_on_error": map[string]any{
					"type":        "boolean",
					"default":     true,
					"description": "Fail the stage when the field is invalid",
				},
			},
			"required": []string{"field", "schema"},
		},
		Examples: []Example{
			{
				Name:        "Requirements shape",
				Description: "Require a title in the parsed job requirements",
				Config: map[string]any{
					"field": "job_requirements",
					"schema": map[string]any{
						"type":     "object",
						"required": []string{"title"},
					},
				},
				Input: map[string]any{"job_requirements": map[string]any{"title": "Go Engineer"}},
			},
		},
		Since: "1.0.0",
	}
}

// Build creates a validate stage from a definition.
func (b *ValidateBuilder) Build(def *yaml.StageDefinition) (screenflow.Stage, error) {
	field := stringConfig(def, "field")
	schema, hasSchema := def.Config["schema"]
	if field == "" || !hasSchema {
		return nil, fmt.Errorf("field and schema are required")
	}
	to := stringConfig(def, "to")
	failOnError := boolConfig(def, "fail_on_error", true)

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	var writes []string
	if to != "" {
		writes = []string{to}
	}
	return screenflow.StageFunc(def.Name, func(_ context.Context, state screenflow.StateReader) (screenflow.Update, error) {
		v, _ := state.Get(field)
		result, err := compiled.Validate(gojsonschema.NewGoLoader(v))
		if err != nil {
			return nil, fmt.Errorf("validation error: %w", err)
		}

		problems := make([]any, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			problems = append(problems, map[string]any{
				"field":       re.Field(),
				"type":        re.Type(),
				"description": re.Description(),
			})
		}
		if !result.Valid() && failOnError {
			return nil, fmt.Errorf("field %s failed validation: %d errors", field, len(problems))
		}
		if to == "" {
			return nil, nil
		}
		return screenflow.Update{to: map[string]any{"valid": result.Valid(), "errors": problems}}, nil
	}, stageOptions(def, []string{field}, writes)...), nil
}

// stageOptions declares the reads and writes a builtin derives from its
// config together with the definition's policy.
func stageOptions(def *yaml.StageDefinition, reads, writes []string) []screenflow.Option {
	policy, _ := screenflow.ParseFaultPolicy(def.Policy)
	return []screenflow.Option{
		screenflow.WithReads(reads...),
		screenflow.WithWrites(writes...),
		screenflow.WithPolicy(policy),
	}
}

func stringConfig(def *yaml.StageDefinition, key string) string {
	s, _ := def.Config[key].(string)
	return s
}

func boolConfig(def *yaml.StageDefinition, key string, fallback bool) bool {
	if b, ok := def.Config[key].(bool); ok {
		return b
	}
	return fallback
}
