// Package manual defines the tool catalog returned by discovery and the
// result envelope transports hand back to the client.
package manual

import (
	"github.com/universal-tool-calling-protocol/utcp-go/src/json"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
	"github.com/universal-tool-calling-protocol/utcp-go/src/tools"
)

// CurrentUtcpVersion is stamped on manuals this client synthesizes itself,
// e.g. from OpenAPI conversion or gNMI virtual tools.
const CurrentUtcpVersion = "1.0.0"

// UtcpManual is a tool catalog belonging to one registered call template.
type UtcpManual struct {
	UtcpVersion   string       `json:"utcp_version"`
	ManualVersion string       `json:"manual_version,omitempty"`
	Tools         []tools.Tool `json:"tools"`
}

// New returns an empty manual stamped with the current protocol version.
func New() UtcpManual {
	return UtcpManual{UtcpVersion: CurrentUtcpVersion, ManualVersion: "1.0.0"}
}

// LooksLikeManual reports whether a decoded JSON object is a UTCP manual
// rather than, say, an OpenAPI document.
func LooksLikeManual(m map[string]interface{}) bool {
	_, hasVersion := m["utcp_version"]
	_, hasTools := m["tools"]
	return hasVersion && hasTools
}

// FromMap decodes a manual from a generic JSON object.
func FromMap(m map[string]interface{}) (UtcpManual, error) {
	blob, err := json.Marshal(m)
	if err != nil {
		return UtcpManual{}, err
	}
	var out UtcpManual
	if err := json.Unmarshal(blob, &out); err != nil {
		return UtcpManual{}, err
	}
	return out, nil
}

// RegisterManualResult reports the outcome of a manual registration.
// Protocol failures are collected in Errors rather than raised.
type RegisterManualResult struct {
	ManualCallTemplate templates.CallTemplate `json:"manual_call_template"`
	Manual             UtcpManual             `json:"manual"`
	Success            bool                   `json:"success"`
	Errors             []string               `json:"errors,omitempty"`
}

// RegisterSuccess wraps a discovered manual in a successful result.
func RegisterSuccess(tpl templates.CallTemplate, m UtcpManual) *RegisterManualResult {
	return &RegisterManualResult{ManualCallTemplate: tpl, Manual: m, Success: true}
}

// RegisterFailure packs the errors of a failed registration; the manual is
// left empty so the caller records the template with zero tools.
func RegisterFailure(tpl templates.CallTemplate, errs ...error) *RegisterManualResult {
	res := &RegisterManualResult{ManualCallTemplate: tpl, Manual: New(), Success: false}
	for _, err := range errs {
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
	}
	return res
}
