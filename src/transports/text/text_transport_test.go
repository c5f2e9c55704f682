package text

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRegisterManualFromFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "manual.json", `{
		"utcp_version": "1.0",
		"tools": [{"name": "read_notes", "inputs": {"type": "object"}, "outputs": {"type": "string"}}]
	}`)

	tr := NewTextTransport(dir, nil)
	res := tr.RegisterManual(context.Background(), templates.NewTextCallTemplate("docs", "manual.json"))
	if !res.Success {
		t.Fatalf("registration failed: %v", res.Errors)
	}
	if len(res.Manual.Tools) != 1 || res.Manual.Tools[0].Name != "read_notes" {
		t.Fatalf("unexpected manual: %#v", res.Manual)
	}
}

func TestRegisterManualMissingFile(t *testing.T) {
	tr := NewTextTransport(t.TempDir(), nil)
	res := tr.RegisterManual(context.Background(), templates.NewTextCallTemplate("docs", "absent.json"))
	if res.Success || len(res.Errors) == 0 {
		t.Fatalf("expected failure result, got %#v", res)
	}
}

func TestRegisterManualRejectsNonManualJson(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.json", `not json at all`)

	tr := NewTextTransport(dir, nil)
	res := tr.RegisterManual(context.Background(), templates.NewTextCallTemplate("docs", "broken.json"))
	if res.Success {
		t.Fatal("malformed file must fail registration")
	}
}

func TestCallToolReturnsRawContents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.txt", "line one\nline two\n")

	tr := NewTextTransport(dir, nil)
	got, err := tr.CallTool(context.Background(), "docs.read_notes", nil, templates.NewTextCallTemplate("docs", "notes.txt"))
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if got != "line one\nline two\n" {
		t.Fatalf("unexpected contents: %q", got)
	}
}

func TestAbsolutePathBypassesBase(t *testing.T) {
	dir := t.TempDir()
	abs := writeFile(t, dir, "abs.txt", "absolute")

	tr := NewTextTransport(t.TempDir(), nil)
	got, err := tr.CallTool(context.Background(), "docs.read", nil, templates.NewTextCallTemplate("docs", abs))
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if got != "absolute" {
		t.Fatalf("unexpected contents: %q", got)
	}
}
