package udp

import (
	"context"
	"net"
	"reflect"
	"strings"
	"testing"

	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
)

// datagramServer answers each incoming datagram with the given replies.
func datagramServer(t *testing.T, replies ...[]byte) (host string, port int) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 64*1024)
		_, peer, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		for _, reply := range replies {
			conn.WriteTo(reply, peer)
		}
	}()

	addr := conn.LocalAddr().(*net.UDPAddr)
	return "127.0.0.1", addr.Port
}

func TestRegisterManual(t *testing.T) {
	host, port := datagramServer(t, []byte(`{"utcp_version": "1.0", "tools": [{"name": "probe"}]}`))

	tr := NewUDPTransport(nil)
	res := tr.RegisterManual(context.Background(), templates.NewUdpCallTemplate("m", host, port))
	if !res.Success || len(res.Manual.Tools) != 1 || res.Manual.Tools[0].Name != "probe" {
		t.Fatalf("registration failed: %#v", res)
	}
}

func TestCallToolSingleDatagram(t *testing.T) {
	host, port := datagramServer(t, []byte(`{"echo": "hi"}`))

	tpl := templates.NewUdpCallTemplate("m", host, port)
	enc := "utf-8"
	tpl.ResponseByteFormat = &enc

	tr := NewUDPTransport(nil)
	got, err := tr.CallTool(context.Background(), "m.echo", map[string]interface{}{"msg": "hi"}, tpl)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if !reflect.DeepEqual(got, map[string]interface{}{"echo": "hi"}) {
		t.Fatalf("unexpected result: %#v", got)
	}
}

func TestCallToolConcatenatesDatagrams(t *testing.T) {
	host, port := datagramServer(t, []byte("part1 "), []byte("part2"))

	tpl := templates.NewUdpCallTemplate("m", host, port)
	tpl.NumberOfResponseDatagrams = 2
	enc := "utf-8"
	tpl.ResponseByteFormat = &enc

	tr := NewUDPTransport(nil)
	got, err := tr.CallTool(context.Background(), "m.multi", nil, tpl)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if got != "part1 part2" {
		t.Fatalf("datagrams not concatenated: %#v", got)
	}
}

func TestCallToolStopsEarlyOnMissingFollowUp(t *testing.T) {
	host, port := datagramServer(t, []byte("only one"))

	tpl := templates.NewUdpCallTemplate("m", host, port)
	tpl.NumberOfResponseDatagrams = 3
	enc := "utf-8"
	tpl.ResponseByteFormat = &enc

	tr := NewUDPTransport(nil)
	got, err := tr.CallTool(context.Background(), "m.partial", nil, tpl)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if got != "only one" {
		t.Fatalf("expected partial result, got %#v", got)
	}
}

func TestFormatRequestTemplate(t *testing.T) {
	raw := "lookup UTCP_ARG_name_UTCP_ARG"
	tpl := templates.NewUdpCallTemplate("m", "127.0.0.1", 1)
	tpl.RequestDataTemplate = &raw

	payload, err := formatRequest(tpl, map[string]interface{}{"name": "host1"})
	if err != nil {
		t.Fatalf("format failed: %v", err)
	}
	if string(payload) != "lookup host1" {
		t.Fatalf("template substitution wrong: %q", payload)
	}
}

func TestFormatRequestDefaultJson(t *testing.T) {
	tpl := templates.NewUdpCallTemplate("m", "127.0.0.1", 1)
	payload, err := formatRequest(tpl, map[string]interface{}{"q": "x"})
	if err != nil {
		t.Fatalf("format failed: %v", err)
	}
	if !strings.Contains(string(payload), `"q":"x"`) {
		t.Fatalf("json request wrong: %q", payload)
	}
}
