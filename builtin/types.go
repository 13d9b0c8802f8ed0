package builtin

// Metadata describes a stage type.
type Metadata struct {
	Type         string         `json:"type"`
	Category     string         `json:"category"`
	Description  string         `json:"description"`
	ConfigSchema map[string]any `json:"configSchema"`
	Examples     []Example      `json:"examples,omitempty"`
	Since        string         `json:"since,omitempty"`
}

// Example shows how to use a stage type.
type Example struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Config      map[string]any `json:"config"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
}
