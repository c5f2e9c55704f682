package repository

import (
	"context"
	"testing"

	"github.com/universal-tool-calling-protocol/utcp-go/src/manual"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
	"github.com/universal-tool-calling-protocol/utcp-go/src/tools"
)

func demoManual(manualName string, toolNames ...string) (templates.CallTemplate, manual.UtcpManual) {
	tpl := templates.NewHttpCallTemplate(manualName, "http://localhost/utcp")
	m := manual.UtcpManual{UtcpVersion: "1.0"}
	for _, name := range toolNames {
		m.Tools = append(m.Tools, tools.Tool{Name: manualName + "." + name, Description: name})
	}
	return tpl, m
}

func TestSaveAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryToolRepository()

	tpl, m := demoManual("weather", "forecast", "current")
	if err := repo.SaveManual(ctx, tpl, m); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := repo.GetManual(ctx, "weather")
	if err != nil || got == nil {
		t.Fatalf("manual lookup failed: %v %v", got, err)
	}
	if len(got.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(got.Tools))
	}

	tool, err := repo.GetTool(ctx, "weather.forecast")
	if err != nil || tool == nil {
		t.Fatalf("tool lookup failed: %v %v", tool, err)
	}

	byManual, err := repo.GetToolsByManual(ctx, "weather")
	if err != nil || len(byManual) != 2 {
		t.Fatalf("tools by manual: %v %v", byManual, err)
	}

	savedTpl, err := repo.GetManualCallTemplate(ctx, "weather")
	if err != nil || savedTpl == nil || savedTpl.TemplateName() != "weather" {
		t.Fatalf("template lookup failed: %v %v", savedTpl, err)
	}
}

func TestSaveReplacesPreviousTools(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryToolRepository()

	tpl, m := demoManual("svc", "old_tool")
	if err := repo.SaveManual(ctx, tpl, m); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	tpl2, m2 := demoManual("svc", "new_tool")
	if err := repo.SaveManual(ctx, tpl2, m2); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	if tool, _ := repo.GetTool(ctx, "svc.old_tool"); tool != nil {
		t.Fatal("stale tool survived re-registration")
	}
	if tool, _ := repo.GetTool(ctx, "svc.new_tool"); tool == nil {
		t.Fatal("replacement tool missing")
	}
}

func TestRemoveManual(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryToolRepository()

	tpl, m := demoManual("svc", "tool_a")
	if err := repo.SaveManual(ctx, tpl, m); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	removed, err := repo.RemoveManual(ctx, "svc")
	if err != nil || !removed {
		t.Fatalf("remove failed: %v %v", removed, err)
	}
	if got, _ := repo.GetManual(ctx, "svc"); got != nil {
		t.Fatal("manual survived removal")
	}
	if tool, _ := repo.GetTool(ctx, "svc.tool_a"); tool != nil {
		t.Fatal("tool survived manual removal")
	}

	removed, err = repo.RemoveManual(ctx, "never_registered")
	if err != nil || removed {
		t.Fatalf("expected false,nil for unknown manual, got %v %v", removed, err)
	}
}

func TestRemoveTool(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryToolRepository()

	tpl, m := demoManual("svc", "tool_a")
	if err := repo.SaveManual(ctx, tpl, m); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	removed, err := repo.RemoveTool(ctx, "svc.tool_a")
	if err != nil || !removed {
		t.Fatalf("remove tool failed: %v %v", removed, err)
	}
	removed, err = repo.RemoveTool(ctx, "svc.tool_a")
	if err != nil || removed {
		t.Fatalf("expected false,nil on second removal, got %v %v", removed, err)
	}
}

func TestUnknownLookupsAreNil(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryToolRepository()

	if tool, err := repo.GetTool(ctx, "nope.tool"); err != nil || tool != nil {
		t.Fatalf("expected nil,nil, got %v %v", tool, err)
	}
	if m, err := repo.GetManual(ctx, "nope"); err != nil || m != nil {
		t.Fatalf("expected nil,nil, got %v %v", m, err)
	}
}
