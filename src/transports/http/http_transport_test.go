package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/universal-tool-calling-protocol/utcp-go/src/auth"
	"github.com/universal-tool-calling-protocol/utcp-go/src/json"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
	"github.com/universal-tool-calling-protocol/utcp-go/src/transports"
)

func TestRegisterManualUtcpDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"utcp_version": "1.0",
			"tools": [{"name": "ping", "inputs": {"type": "object"}, "outputs": {"type": "object"}}]
		}`))
	}))
	defer srv.Close()

	tr := NewHttpClientTransport(nil)
	res := tr.RegisterManual(context.Background(), templates.NewHttpCallTemplate("m", srv.URL))
	if !res.Success {
		t.Fatalf("registration failed: %v", res.Errors)
	}
	if len(res.Manual.Tools) != 1 || res.Manual.Tools[0].Name != "ping" {
		t.Fatalf("unexpected manual: %#v", res.Manual)
	}
}

func TestRegisterManualConvertsOpenApi(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"openapi": "3.0.0",
			"info": {"title": "Tiny", "version": "1"},
			"servers": [{"url": "http://localhost:9999"}],
			"paths": {"/ping": {"get": {"operationId": "ping", "responses": {}}}}
		}`))
	}))
	defer srv.Close()

	tr := NewHttpClientTransport(nil)
	res := tr.RegisterManual(context.Background(), templates.NewHttpCallTemplate("m", srv.URL))
	if !res.Success {
		t.Fatalf("registration failed: %v", res.Errors)
	}
	if len(res.Manual.Tools) != 1 || res.Manual.Tools[0].Name != "ping" {
		t.Fatalf("openapi document not converted: %#v", res.Manual)
	}
	tpl := res.Manual.Tools[0].ToolCallTemplate.(*templates.HttpCallTemplate)
	if tpl.URL != "http://localhost:9999/ping" {
		t.Fatalf("tool url wrong: %s", tpl.URL)
	}
}

func TestRegisterManualYamlFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write([]byte("utcp_version: \"1.0\"\ntools:\n  - name: ping\n"))
	}))
	defer srv.Close()

	tr := NewHttpClientTransport(nil)
	res := tr.RegisterManual(context.Background(), templates.NewHttpCallTemplate("m", srv.URL))
	if !res.Success {
		t.Fatalf("yaml registration failed: %v", res.Errors)
	}
	if len(res.Manual.Tools) != 1 || res.Manual.Tools[0].Name != "ping" {
		t.Fatalf("yaml manual not decoded: %#v", res.Manual)
	}
}

func TestRegisterManualPacksTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewHttpClientTransport(nil)
	res := tr.RegisterManual(context.Background(), templates.NewHttpCallTemplate("m", srv.URL))
	if res.Success {
		t.Fatal("expected failure result")
	}
	if len(res.Errors) == 0 {
		t.Fatal("failure must carry the error")
	}
	if len(res.Manual.Tools) != 0 {
		t.Fatal("failed registration must carry an empty manual")
	}
}

func TestCallToolShapesRequest(t *testing.T) {
	var seen struct {
		method string
		path   string
		query  string
		header string
		apiKey string
		body   map[string]interface{}
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.method = r.Method
		seen.path = r.URL.Path
		seen.query = r.URL.Query().Get("verbose")
		seen.header = r.Header.Get("X-Trace")
		seen.apiKey = r.Header.Get("X-Api-Key")
		blob, _ := io.ReadAll(r.Body)
		json.Unmarshal(blob, &seen.body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	bodyField := "payload"
	tpl := templates.NewHttpCallTemplate("m", srv.URL+"/items/{id}")
	tpl.HTTPMethod = "POST"
	tpl.HeaderFields = []string{"X-Trace"}
	tpl.BodyField = &bodyField
	tpl.Auth = &templates.AuthConfig{Auth: auth.NewApiKeyAuth("sekrit")}

	tr := NewHttpClientTransport(nil)
	result, err := tr.CallTool(context.Background(), "m.create", map[string]interface{}{
		"id":      42,
		"verbose": true,
		"X-Trace": "abc",
		"payload": map[string]interface{}{"name": "thing"},
	}, tpl)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}

	if seen.method != "POST" || seen.path != "/items/42" {
		t.Fatalf("method/path wrong: %s %s", seen.method, seen.path)
	}
	if seen.query != "true" {
		t.Fatalf("leftover arg not a query param: %q", seen.query)
	}
	if seen.header != "abc" {
		t.Fatalf("header field not mapped: %q", seen.header)
	}
	if seen.apiKey != "sekrit" {
		t.Fatalf("api key not applied: %q", seen.apiKey)
	}
	if !reflect.DeepEqual(seen.body, map[string]interface{}{"name": "thing"}) {
		t.Fatalf("body field not serialized: %#v", seen.body)
	}
	if !reflect.DeepEqual(result, map[string]interface{}{"ok": true}) {
		t.Fatalf("response not decoded: %#v", result)
	}
}

func TestCallToolMissingPathParam(t *testing.T) {
	tr := NewHttpClientTransport(nil)
	tpl := templates.NewHttpCallTemplate("m", "http://localhost:1/items/{id}")
	_, err := tr.CallTool(context.Background(), "m.get", map[string]interface{}{}, tpl)
	if err == nil || !strings.Contains(err.Error(), "path parameter") {
		t.Fatalf("expected missing path parameter error, got %v", err)
	}
}

func TestCallToolRaisesForStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	tr := NewHttpClientTransport(nil)
	_, err := tr.CallTool(context.Background(), "m.x", nil, templates.NewHttpCallTemplate("m", srv.URL))
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestCallToolRejectsRemotePlainHttp(t *testing.T) {
	tr := NewHttpClientTransport(nil)
	_, err := tr.CallTool(context.Background(), "m.x", nil, templates.NewHttpCallTemplate("m", "http://api.example.com/x"))
	var violation *transports.SecurityViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected security violation, got %v", err)
	}
}

func TestCallToolStreamYieldsSingleElement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`"hello"`))
	}))
	defer srv.Close()

	tr := NewHttpClientTransport(nil)
	stream, err := tr.CallToolStream(context.Background(), "m.x", nil, templates.NewHttpCallTemplate("m", srv.URL))
	if err != nil {
		t.Fatalf("stream call failed: %v", err)
	}
	got, err := transports.Drain(stream)
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if got != "hello" {
		t.Fatalf("unexpected stream payload: %#v", got)
	}
}
