package streamable

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
)

func TestRegisterManual(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"utcp_version": "1.0", "tools": [{"name": "feed"}]}`))
	}))
	defer srv.Close()

	tr := NewStreamableHTTPTransport(nil)
	res := tr.RegisterManual(context.Background(), templates.NewStreamableHttpCallTemplate("m", srv.URL))
	if !res.Success || len(res.Manual.Tools) != 1 {
		t.Fatalf("registration failed: %#v", res)
	}
}

func TestStreamNdjson(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, "{\"n\": 1}\n\n{\"n\": 2}\n")
	}))
	defer srv.Close()

	tr := NewStreamableHTTPTransport(nil)
	stream, err := tr.CallToolStream(context.Background(), "m.feed", nil, templates.NewStreamableHttpCallTemplate("m", srv.URL))
	if err != nil {
		t.Fatalf("stream call failed: %v", err)
	}
	defer stream.Close()

	first, err := stream.Next()
	if err != nil || !reflect.DeepEqual(first, map[string]interface{}{"n": float64(1)}) {
		t.Fatalf("first line: %#v %v", first, err)
	}
	second, err := stream.Next()
	if err != nil || !reflect.DeepEqual(second, map[string]interface{}{"n": float64(2)}) {
		t.Fatalf("second line: %#v %v", second, err)
	}
	if _, err := stream.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestStreamBufferedJson(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"whole": true}`)
	}))
	defer srv.Close()

	tr := NewStreamableHTTPTransport(nil)
	got, err := tr.CallTool(context.Background(), "m.feed", nil, templates.NewStreamableHttpCallTemplate("m", srv.URL))
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if !reflect.DeepEqual(got, map[string]interface{}{"whole": true}) {
		t.Fatalf("buffered json wrong: %#v", got)
	}
}

func TestStreamOctetChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("abcdefgh"))
	}))
	defer srv.Close()

	tpl := templates.NewStreamableHttpCallTemplate("m", srv.URL)
	tpl.ChunkSize = 3

	tr := NewStreamableHTTPTransport(nil)
	stream, err := tr.CallToolStream(context.Background(), "m.feed", nil, tpl)
	if err != nil {
		t.Fatalf("stream call failed: %v", err)
	}

	var chunks [][]byte
	for {
		item, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("chunk read failed: %v", err)
		}
		chunks = append(chunks, item.([]byte))
	}
	stream.Close()

	var joined []byte
	for _, c := range chunks {
		joined = append(joined, c...)
	}
	if string(joined) != "abcdefgh" {
		t.Fatalf("chunks lost data: %q", joined)
	}
	if len(chunks) < 3 {
		t.Fatalf("expected chunked delivery, got %d chunk(s)", len(chunks))
	}
}

func TestCallToolJoinsChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("raw payload"))
	}))
	defer srv.Close()

	tpl := templates.NewStreamableHttpCallTemplate("m", srv.URL)
	tpl.ChunkSize = 4

	tr := NewStreamableHTTPTransport(nil)
	got, err := tr.CallTool(context.Background(), "m.feed", nil, tpl)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if string(got.([]byte)) != "raw payload" {
		t.Fatalf("aggregate wrong: %q", got)
	}
}

func TestErrorStatusFailsBeforeStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad", http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewStreamableHTTPTransport(nil)
	if _, err := tr.CallToolStream(context.Background(), "m.feed", nil, templates.NewStreamableHttpCallTemplate("m", srv.URL)); err == nil {
		t.Fatal("expected error for 502 response")
	}
}
