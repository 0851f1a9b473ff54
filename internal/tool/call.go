package tool

import (
	_ "embed"
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/harrison/foreman/internal/fault"
	"github.com/harrison/foreman/internal/patch"
	"github.com/harrison/foreman/internal/txn"
)

//go:embed call_schema.json
var callSchemaJSON string

// callSchema enforces the call grammar on model output. Schema violations
// are classified, never repaired.
var callSchema = jsonschema.MustCompileString("call_schema.json", callSchemaJSON)

// Call is one parsed, schema-valid tool call from model output. Exactly one
// of Tool or Operations is populated.
type Call struct {
	Tool       string            `json:"tool,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Operations []Operation       `json:"operations,omitempty"`
}

// Operation is the wire form of a file operation.
type Operation struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Content string `json:"content,omitempty"`
	Hunks   []Hunk `json:"hunks,omitempty"`
}

// Hunk is the wire form of one line-range replacement.
type Hunk struct {
	Start int      `json:"start"`
	End   int      `json:"end"`
	Lines []string `json:"lines,omitempty"`
}

// FileOp converts the wire operation into a stageable transaction operation.
func (o Operation) FileOp() txn.FileOperation {
	hunks := make([]patch.Hunk, len(o.Hunks))
	for i, h := range o.Hunks {
		hunks[i] = patch.Hunk{Start: h.Start, End: h.End, Lines: h.Lines}
	}
	return txn.FileOperation{
		Path:    o.Path,
		Kind:    txn.OpKind(o.Kind),
		Content: o.Content,
		Hunks:   hunks,
	}
}

// Paths returns every workspace path the call's operations touch.
func (c *Call) Paths() []string {
	paths := make([]string, 0, len(c.Operations))
	for _, op := range c.Operations {
		paths = append(paths, op.Path)
	}
	return paths
}

// ParseCall strictly parses one tool call from model output. The output may
// wrap the JSON in a fenced code block; anything else that fails the schema
// is a structured-output parse error attributed to role.
func ParseCall(output, role string) (*Call, error) {
	raw := extractJSON(output)
	if raw == "" {
		return nil, &fault.ParseError{Role: role, Detail: "no JSON object found in model output"}
	}

	var loose interface{}
	if err := json.Unmarshal([]byte(raw), &loose); err != nil {
		return nil, &fault.ParseError{Role: role, Detail: "output is not valid JSON", Err: err}
	}
	if err := callSchema.Validate(loose); err != nil {
		return nil, &fault.ParseError{Role: role, Detail: "output does not match the call schema", Err: err}
	}

	var call Call
	if err := json.Unmarshal([]byte(raw), &call); err != nil {
		return nil, &fault.ParseError{Role: role, Detail: "cannot decode call", Err: err}
	}
	return &call, nil
}

// extractJSON returns the fenced JSON block if present, else the trimmed
// output when it is itself a JSON object.
func extractJSON(output string) string {
	if idx := strings.Index(output, "```json"); idx >= 0 {
		rest := output[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	if idx := strings.Index(output, "```"); idx >= 0 {
		rest := output[idx+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			candidate := strings.TrimSpace(rest[:end])
			if strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}
	trimmed := strings.TrimSpace(output)
	if strings.HasPrefix(trimmed, "{") {
		return trimmed
	}
	return ""
}
