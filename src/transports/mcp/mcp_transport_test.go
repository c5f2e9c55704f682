package mcp

import (
	"context"
	"fmt"
	"testing"

	mcpapi "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
)

// calcServer serves one tool and one resource over streamable HTTP.
func calcServer(t *testing.T) string {
	t.Helper()
	srv := mcpserver.NewMCPServer("calc", "1.0.0",
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
	)
	srv.AddTool(mcpapi.NewTool("add",
		mcpapi.WithDescription("Add two numbers"),
		mcpapi.WithNumber("a"),
		mcpapi.WithNumber("b"),
	), func(ctx context.Context, req mcpapi.CallToolRequest) (*mcpapi.CallToolResult, error) {
		args := req.GetArguments()
		a, _ := args["a"].(float64)
		b, _ := args["b"].(float64)
		return mcpapi.NewToolResultText(fmt.Sprintf("%g", a+b)), nil
	})
	srv.AddResource(mcpapi.NewResource("file:///motd", "motd",
		mcpapi.WithResourceDescription("message of the day"),
		mcpapi.WithMIMEType("text/plain"),
	), func(ctx context.Context, req mcpapi.ReadResourceRequest) ([]mcpapi.ResourceContents, error) {
		return []mcpapi.ResourceContents{mcpapi.TextResourceContents{
			URI:      "file:///motd",
			MIMEType: "text/plain",
			Text:     "hello",
		}}, nil
	})

	httpSrv := mcpserver.NewTestStreamableHTTPServer(srv)
	t.Cleanup(httpSrv.Close)
	return httpSrv.URL
}

func calcTemplate(t *testing.T) *templates.McpCallTemplate {
	t.Helper()
	tpl := templates.NewMcpCallTemplate("mymanual", map[string]templates.McpServerConfig{
		"calc": {Transport: "http", URL: calcServer(t)},
	})
	tpl.RegisterResourcesAsTools = true
	return tpl
}

func TestRegisterManualListsToolsAndResources(t *testing.T) {
	tpl := calcTemplate(t)
	tr := NewMCPTransport(nil)
	defer tr.DeregisterManual(context.Background(), tpl)

	res := tr.RegisterManual(context.Background(), tpl)
	if !res.Success {
		t.Fatalf("registration failed: %v", res.Errors)
	}
	names := map[string]bool{}
	for _, tool := range res.Manual.Tools {
		names[tool.Name] = true
	}
	if !names["add"] || !names["resource_motd"] {
		t.Fatalf("expected add and resource_motd, got %v", names)
	}
}

func TestCallToolWithManualQualifiedName(t *testing.T) {
	tpl := calcTemplate(t)
	tr := NewMCPTransport(nil)
	defer tr.DeregisterManual(context.Background(), tpl)

	got, err := tr.CallTool(context.Background(), "mymanual.add", map[string]interface{}{"a": 2, "b": 3}, tpl)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if got != float64(5) {
		t.Fatalf("unexpected result: %#v", got)
	}
}

func TestCallToolServerQualifiedName(t *testing.T) {
	tpl := calcTemplate(t)
	tr := NewMCPTransport(nil)
	defer tr.DeregisterManual(context.Background(), tpl)

	got, err := tr.CallTool(context.Background(), "mymanual.calc.add", map[string]interface{}{"a": 1, "b": 1}, tpl)
	if err != nil {
		t.Fatalf("server-qualified call failed: %v", err)
	}
	if got != float64(2) {
		t.Fatalf("unexpected result: %#v", got)
	}
}

func TestCallResourcePseudoTool(t *testing.T) {
	tpl := calcTemplate(t)
	tr := NewMCPTransport(nil)
	defer tr.DeregisterManual(context.Background(), tpl)

	got, err := tr.CallTool(context.Background(), "mymanual.resource_motd", nil, tpl)
	if err != nil {
		t.Fatalf("resource call failed: %v", err)
	}
	doc, ok := got.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result shape: %#v", got)
	}
	contents, _ := doc["contents"].([]interface{})
	if len(contents) != 1 {
		t.Fatalf("expected one content item: %#v", doc)
	}
	item, _ := contents[0].(map[string]interface{})
	if item["text"] != "hello" {
		t.Fatalf("unexpected resource body: %#v", item)
	}
}

func TestCallToolUnknownName(t *testing.T) {
	tpl := calcTemplate(t)
	tr := NewMCPTransport(nil)
	defer tr.DeregisterManual(context.Background(), tpl)

	if _, err := tr.CallTool(context.Background(), "mymanual.subtract", nil, tpl); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestSessionIsReusedAcrossCalls(t *testing.T) {
	tpl := calcTemplate(t)
	tr := NewMCPTransport(nil)
	defer tr.DeregisterManual(context.Background(), tpl)

	for i := 0; i < 2; i++ {
		if _, err := tr.CallTool(context.Background(), "mymanual.add", map[string]interface{}{"a": 1, "b": 2}, tpl); err != nil {
			t.Fatalf("call %d failed: %v", i, err)
		}
	}
	tr.mu.Lock()
	sessions := len(tr.sessions)
	tr.mu.Unlock()
	if sessions != 1 {
		t.Fatalf("expected one cached session, got %d", sessions)
	}
}
