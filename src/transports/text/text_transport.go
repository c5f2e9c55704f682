// Package text implements the filesystem document transport: manuals are
// JSON files and calls return raw file contents.
package text

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/universal-tool-calling-protocol/utcp-go/src/json"
	"github.com/universal-tool-calling-protocol/utcp-go/src/manual"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
	"github.com/universal-tool-calling-protocol/utcp-go/src/transports"
)

// TextTransport serves manuals and tool results from local files. Relative
// paths resolve against the configured base directory.
type TextTransport struct {
	basePath string
	logger   func(format string, args ...interface{})
}

// NewTextTransport constructs a TextTransport rooted at basePath; an empty
// basePath resolves relative paths against the working directory.
func NewTextTransport(basePath string, logger func(format string, args ...interface{})) *TextTransport {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &TextTransport{basePath: basePath, logger: logger}
}

func (t *TextTransport) resolve(path string) string {
	if filepath.IsAbs(path) || t.basePath == "" {
		return path
	}
	return filepath.Join(t.basePath, path)
}

// RegisterManual reads the template's file and parses it as a manual.
func (t *TextTransport) RegisterManual(ctx context.Context, tpl templates.CallTemplate) *manual.RegisterManualResult {
	textTpl, ok := tpl.(*templates.TextCallTemplate)
	if !ok {
		return manual.RegisterFailure(tpl, errors.New("text transport requires a text call template"))
	}

	path := t.resolve(textTpl.FilePath)
	blob, err := os.ReadFile(path)
	if err != nil {
		return manual.RegisterFailure(tpl, fmt.Errorf("reading manual file: %w", err))
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(blob, &doc); err != nil {
		return manual.RegisterFailure(tpl, fmt.Errorf("parsing manual file %s: %w", path, err))
	}
	m, err := manual.FromMap(doc)
	if err != nil {
		return manual.RegisterFailure(tpl, err)
	}
	return manual.RegisterSuccess(tpl, m)
}

// DeregisterManual is a no-op; files hold no sessions.
func (t *TextTransport) DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error {
	return nil
}

// CallTool returns the file's raw contents without interpretation.
func (t *TextTransport) CallTool(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (interface{}, error) {
	textTpl, ok := tpl.(*templates.TextCallTemplate)
	if !ok {
		return nil, errors.New("text transport requires a text call template")
	}
	blob, err := os.ReadFile(t.resolve(textTpl.FilePath))
	if err != nil {
		return nil, fmt.Errorf("calling tool %s: %w", toolName, err)
	}
	return string(blob), nil
}

// CallToolStream yields exactly one element equal to CallTool's result.
func (t *TextTransport) CallToolStream(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (transports.StreamResult, error) {
	result, err := t.CallTool(ctx, toolName, args, tpl)
	if err != nil {
		return nil, err
	}
	return transports.NewSliceStreamResult([]interface{}{result}, nil), nil
}
