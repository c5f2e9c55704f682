// Package tools defines the Tool entity: a named operation with JSON-Schema
// input/output descriptions and the call template used to invoke it.
package tools

import (
	"errors"

	"github.com/universal-tool-calling-protocol/utcp-go/src/json"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
)

// Tool holds the metadata for a single UTCP tool. After registration Name
// is fully qualified as "<manual>.<tool>".
type Tool struct {
	Name                string     `json:"name"`
	Description         string     `json:"description,omitempty"`
	Inputs              JsonSchema `json:"inputs"`
	Outputs             JsonSchema `json:"outputs"`
	Tags                []string   `json:"tags,omitempty"`
	AverageResponseSize *int       `json:"average_response_size,omitempty"`

	ToolCallTemplate templates.CallTemplate `json:"tool_call_template"`
}

type toolAlias struct {
	Name                string          `json:"name"`
	Description         string          `json:"description,omitempty"`
	Inputs              JsonSchema      `json:"inputs"`
	Outputs             JsonSchema      `json:"outputs"`
	Tags                []string        `json:"tags,omitempty"`
	AverageResponseSize *int            `json:"average_response_size,omitempty"`
	ToolCallTemplate    json.RawMessage `json:"tool_call_template,omitempty"`
	ToolProvider        json.RawMessage `json:"tool_provider,omitempty"`
}

// UnmarshalJSON decodes the tool and its template union. Legacy payloads
// embedding "tool_provider" are rewritten to a modern call template.
func (t *Tool) UnmarshalJSON(data []byte) error {
	var alias toolAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	t.Name = alias.Name
	t.Description = alias.Description
	t.Inputs = alias.Inputs
	t.Outputs = alias.Outputs
	t.Tags = alias.Tags
	t.AverageResponseSize = alias.AverageResponseSize
	t.ToolCallTemplate = nil

	raw := alias.ToolCallTemplate
	if len(raw) == 0 || string(raw) == "null" {
		raw = alias.ToolProvider
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	tpl, err := templates.UnmarshalCallTemplate(raw)
	if err != nil {
		return err
	}
	t.ToolCallTemplate = tpl
	return nil
}

// MarshalJSON always emits the modern tool_call_template key.
func (t Tool) MarshalJSON() ([]byte, error) {
	alias := toolAlias{
		Name:                t.Name,
		Description:         t.Description,
		Inputs:              t.Inputs,
		Outputs:             t.Outputs,
		Tags:                t.Tags,
		AverageResponseSize: t.AverageResponseSize,
	}
	if t.ToolCallTemplate != nil {
		blob, err := json.Marshal(t.ToolCallTemplate)
		if err != nil {
			return nil, err
		}
		alias.ToolCallTemplate = blob
	}
	return json.Marshal(alias)
}

// Validate checks the minimal invariants a stored tool must satisfy.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return errors.New("tool must have a name")
	}
	if t.ToolCallTemplate == nil {
		return errors.New("tool " + t.Name + " has no call template")
	}
	return nil
}
