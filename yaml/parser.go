package yaml

import (
	"bytes"
	"fmt"
	"io"
	"os"

	goyaml "github.com/goccy/go-yaml"
)

// Parser handles parsing YAML graph definitions.
type Parser struct {
	// validate checks documents against the definition JSON schema before decoding.
	validate bool
}

// NewParser creates a new YAML parser that validates every document.
func NewParser() *Parser {
	return &Parser{validate: true}
}

// Parse reads and parses a YAML graph definition from a reader.
func (p *Parser) Parse(r io.Reader) (*Definition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	return p.ParseBytes(data)
}

// ParseBytes parses a YAML graph definition.
func (p *Parser) ParseBytes(data []byte) (*Definition, error) {
	if p.validate {
		if err := ValidateDocument(data); err != nil {
			return nil, err
		}
	}
	var def Definition
	if err := goyaml.UnmarshalWithOptions(data, &def, goyaml.Strict()); err != nil {
		return nil, fmt.Errorf("decode definition: %s", goyaml.FormatError(err, false, true))
	}
	return &def, nil
}

// ParseFile reads and parses a YAML graph definition from a file.
func (p *Parser) ParseFile(filename string) (*Definition, error) {
	// #nosec G304 - definitions are user-supplied paths
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return p.Parse(file)
}

// ParseString parses a YAML graph definition from a string.
func (p *Parser) ParseString(s string) (*Definition, error) {
	return p.Parse(bytes.NewReader([]byte(s)))
}

// Marshal converts a graph definition to YAML format.
func (p *Parser) Marshal(def *Definition) ([]byte, error) {
	data, err := goyaml.MarshalWithOptions(def, goyaml.Indent(2), goyaml.IndentSequence(true))
	if err != nil {
		return nil, fmt.Errorf("encode definition: %w", err)
	}
	return data, nil
}

// MarshalToFile writes a graph definition to a YAML file.
func (p *Parser) MarshalToFile(def *Definition, filename string) error {
	data, err := p.Marshal(def)
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0o600)
}

// Example shows what a YAML graph definition looks like: a review loop that
// re-runs the analysis at most twice.
func Example() string {
	return `name: review_loop
description: Analyse a document and re-run the analysis when the review asks for it
version: "1.0.0"
start: collect
error_field: errors
step_field: current_step

fields:
  - name: input
    class: overwrite
    required: true
  - name: items
    class: accumulate
  - name: analysis
    class: overwrite
  - name: review
    class: overwrite
  - name: retry_count
    class: overwrite
  - name: report
    class: overwrite
  - name: errors
    class: accumulate
  - name: current_step
    class: overwrite

stages:
  - name: collect
    type: lua
    reads: [input]
    writes: [items]
    script: |
      function run(state)
        return { items = str_split(state.input, " ") }
      end

  - name: analyze
    type: lua
    reads: [items]
    writes: [analysis]
    timeout: 5s
    script: |
      function run(state)
        return { analysis = { words = #state.items } }
      end

  - name: review
    type: lua
    reads: [analysis]
    writes: [review]
    script: |
      function run(state)
        return { review = { needs_reanalysis = state.analysis.words < 3 } }
      end

  - name: report
    type: lua
    policy: collect_and_continue
    reads: [analysis]
    writes: [report]
    retry:
      max_attempts: 2
      delay: 10ms
    script: |
      function run(state)
        return { report = "words: " .. state.analysis.words }
      end

connections:
  - from: collect
    to: analyze
  - from: analyze
    to: review
  - from: report
    to: end

decision:
  stage: review
  counter: retry_count
  ceiling: 2
  flag:
    field: review
    path: $.needs_reanalysis
  outcomes:
    retry: analyze
    proceed: report
`
}
