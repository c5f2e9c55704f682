package sse

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
)

func sseTemplate(url string) *templates.SseCallTemplate {
	return &templates.SseCallTemplate{
		BaseCallTemplate: templates.BaseCallTemplate{Name: "m", CallTemplateType: templates.TemplateSSE},
		URL:              url,
	}
}

func TestRegisterManual(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"utcp_version": "1.0", "tools": [{"name": "watch"}]}`))
	}))
	defer srv.Close()

	tr := NewSSETransport(nil)
	res := tr.RegisterManual(context.Background(), sseTemplate(srv.URL))
	if !res.Success || len(res.Manual.Tools) != 1 {
		t.Fatalf("registration failed: %#v", res)
	}
}

func TestCallToolStreamFraming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("accept header not forced: %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, ": ping comment\n")
		io.WriteString(w, "data: {\"a\": 1}\n\n")
		io.WriteString(w, "id: 7\n")
		io.WriteString(w, "data: line1\n")
		io.WriteString(w, "data: line2\n\n")
	}))
	defer srv.Close()

	tr := NewSSETransport(nil)
	stream, err := tr.CallToolStream(context.Background(), "m.watch", nil, sseTemplate(srv.URL))
	if err != nil {
		t.Fatalf("stream call failed: %v", err)
	}
	defer stream.Close()

	first, err := stream.Next()
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	if !reflect.DeepEqual(first, map[string]interface{}{"a": float64(1)}) {
		t.Fatalf("json event not parsed: %#v", first)
	}

	second, err := stream.Next()
	if err != nil {
		t.Fatalf("second event: %v", err)
	}
	if second != "line1\nline2" {
		t.Fatalf("multi-line data not joined: %q", second)
	}

	if _, err := stream.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestCallToolStreamEventTypeFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: noise\ndata: skipped\n\n")
		io.WriteString(w, "event: update\ndata: kept\n\n")
	}))
	defer srv.Close()

	tpl := sseTemplate(srv.URL)
	wanted := "update"
	tpl.EventType = &wanted

	tr := NewSSETransport(nil)
	stream, err := tr.CallToolStream(context.Background(), "m.watch", nil, tpl)
	if err != nil {
		t.Fatalf("stream call failed: %v", err)
	}
	defer stream.Close()

	item, err := stream.Next()
	if err != nil || item != "kept" {
		t.Fatalf("filter wrong: %v %v", item, err)
	}
	if _, err := stream.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestCallToolAggregates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: 1\n\ndata: 2\n\n")
	}))
	defer srv.Close()

	tr := NewSSETransport(nil)
	got, err := tr.CallTool(context.Background(), "m.watch", nil, sseTemplate(srv.URL))
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if !reflect.DeepEqual(got, []interface{}{float64(1), float64(2)}) {
		t.Fatalf("unexpected aggregate: %#v", got)
	}
}

func TestBodyFieldSwitchesToPost(t *testing.T) {
	var method, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: ok\n\n")
	}))
	defer srv.Close()

	tpl := sseTemplate(srv.URL)
	bodyField := "payload"
	tpl.BodyField = &bodyField

	tr := NewSSETransport(nil)
	if _, err := tr.CallTool(context.Background(), "m.watch", map[string]interface{}{"payload": map[string]interface{}{"q": "x"}}, tpl); err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if method != http.MethodPost || contentType != "application/json" {
		t.Fatalf("body field must switch to POST json, got %s %s", method, contentType)
	}
}

func TestDeregisterClosesActiveStreams(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: started\n\n")
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	tpl := sseTemplate(srv.URL)
	tr := NewSSETransport(nil)
	stream, err := tr.CallToolStream(context.Background(), "m.watch", nil, tpl)
	if err != nil {
		t.Fatalf("stream call failed: %v", err)
	}
	if item, err := stream.Next(); err != nil || item != "started" {
		t.Fatalf("first event: %v %v", item, err)
	}

	if err := tr.DeregisterManual(context.Background(), tpl); err != nil {
		t.Fatalf("deregister failed: %v", err)
	}

	// The underlying body is closed, so the stream terminates.
	for {
		if _, err := stream.Next(); err != nil {
			break
		}
	}
}
