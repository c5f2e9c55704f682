// Package repository stores registered manuals, their call templates and
// their fully-qualified tools.
package repository

import (
	"context"

	"github.com/universal-tool-calling-protocol/utcp-go/src/manual"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
	"github.com/universal-tool-calling-protocol/utcp-go/src/tools"
)

// ToolRepository is the concurrent store backing a client. Implementations
// must make every operation atomic with respect to concurrent callers.
type ToolRepository interface {
	// SaveManual stores the manual under its template's name, replacing
	// any tools a previous manual of the same name contributed.
	SaveManual(ctx context.Context, tpl templates.CallTemplate, m manual.UtcpManual) error

	// RemoveManual deletes the manual, its template and every tool whose
	// name carries the manual's prefix. Returns false for unknown names.
	RemoveManual(ctx context.Context, name string) (bool, error)

	// RemoveTool deletes a single tool by fully-qualified name.
	RemoveTool(ctx context.Context, toolName string) (bool, error)

	// GetTool returns a tool by fully-qualified name, or nil.
	GetTool(ctx context.Context, toolName string) (*tools.Tool, error)

	// GetTools returns every stored tool.
	GetTools(ctx context.Context) ([]tools.Tool, error)

	// GetToolsByManual returns the tools one manual contributed, or nil
	// for unknown manuals.
	GetToolsByManual(ctx context.Context, manualName string) ([]tools.Tool, error)

	// GetManual returns a manual by name, or nil.
	GetManual(ctx context.Context, name string) (*manual.UtcpManual, error)

	// GetManuals returns every stored manual.
	GetManuals(ctx context.Context) ([]manual.UtcpManual, error)

	// GetManualCallTemplate returns the template a manual was registered
	// through, or nil.
	GetManualCallTemplate(ctx context.Context, name string) (templates.CallTemplate, error)

	// GetManualCallTemplates returns every stored template.
	GetManualCallTemplates(ctx context.Context) ([]templates.CallTemplate, error)
}
