// Package udp implements the UDP datagram transport.
package udp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/universal-tool-calling-protocol/utcp-go/src/json"
	"github.com/universal-tool-calling-protocol/utcp-go/src/manual"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
	"github.com/universal-tool-calling-protocol/utcp-go/src/transports"
)

const (
	maxDatagram = 64 * 1024

	// After the first datagram arrives, follow-up datagrams get a short
	// grace window instead of the full timeout.
	followUpTimeout = 2 * time.Second
)

// UDPTransport sends one request datagram and collects a configured number
// of response datagrams per operation.
type UDPTransport struct {
	logger func(format string, args ...interface{})
}

// NewUDPTransport constructs a UDPTransport.
func NewUDPTransport(logger func(format string, args ...interface{})) *UDPTransport {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &UDPTransport{logger: logger}
}

func formatRequest(tpl *templates.UdpCallTemplate, args map[string]interface{}) ([]byte, error) {
	if tpl.RequestDataTemplate != nil && *tpl.RequestDataTemplate != "" {
		out := *tpl.RequestDataTemplate
		for k, v := range args {
			placeholder := "UTCP_ARG_" + k + "_UTCP_ARG"
			if !strings.Contains(out, placeholder) {
				continue
			}
			var rendered string
			switch v.(type) {
			case map[string]interface{}, []interface{}:
				blob, err := json.Marshal(v)
				if err != nil {
					return nil, err
				}
				rendered = string(blob)
			default:
				rendered = cast.ToString(v)
			}
			out = strings.ReplaceAll(out, placeholder, rendered)
		}
		return []byte(out), nil
	}
	if tpl.RequestDataFormat == "text" {
		keys := make([]string, 0, len(args))
		for k := range args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, cast.ToString(args[k]))
		}
		return []byte(strings.Join(parts, " ")), nil
	}
	return json.Marshal(args)
}

// exchange sends one datagram and concatenates up to the configured number
// of response datagrams. The first datagram gets the full timeout; later
// ones a short grace window, stopping early when it lapses.
func (t *UDPTransport) exchange(ctx context.Context, tpl *templates.UdpCallTemplate, payload []byte) ([]byte, error) {
	addr := fmt.Sprintf("%s:%d", tpl.Host, tpl.Port)
	timeout := time.Duration(tpl.EffectiveTimeoutMs()) * time.Millisecond

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("writing to %s: %w", addr, err)
	}

	var collected []byte
	buf := make([]byte, maxDatagram)
	want := tpl.ResponseDatagrams()
	for i := 0; i < want; i++ {
		if i == 0 {
			conn.SetReadDeadline(time.Now().Add(timeout))
		} else {
			conn.SetReadDeadline(time.Now().Add(followUpTimeout))
		}
		n, err := conn.Read(buf)
		if err != nil {
			if i > 0 {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					t.logger("[UDPTransport] stopped after %d of %d datagrams", i, want)
					break
				}
			}
			return nil, fmt.Errorf("reading from %s: %w", addr, err)
		}
		collected = append(collected, buf[:n]...)
	}
	return collected, nil
}

func decodeResponse(tpl *templates.UdpCallTemplate, payload []byte) interface{} {
	if tpl.ResponseByteFormat == nil {
		return payload
	}
	var parsed interface{}
	if err := json.Unmarshal(bytes.TrimSpace(payload), &parsed); err == nil {
		return parsed
	}
	return string(payload)
}

// RegisterManual sends the utcp greeting datagram and parses the collected
// reply as a manual.
func (t *UDPTransport) RegisterManual(ctx context.Context, tpl templates.CallTemplate) *manual.RegisterManualResult {
	udpTpl, ok := tpl.(*templates.UdpCallTemplate)
	if !ok {
		return manual.RegisterFailure(tpl, errors.New("udp transport requires a udp call template"))
	}

	reply, err := t.exchange(ctx, udpTpl, []byte(`{"type":"utcp"}`))
	if err != nil {
		return manual.RegisterFailure(tpl, err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(reply), &doc); err != nil {
		return manual.RegisterFailure(tpl, fmt.Errorf("decoding discovery reply: %w", err))
	}
	m, err := manual.FromMap(doc)
	if err != nil {
		return manual.RegisterFailure(tpl, err)
	}
	return manual.RegisterSuccess(tpl, m)
}

// DeregisterManual is a no-op; UDP holds no sessions.
func (t *UDPTransport) DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error {
	return nil
}

// CallTool sends one request datagram and decodes the concatenated reply.
func (t *UDPTransport) CallTool(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (interface{}, error) {
	udpTpl, ok := tpl.(*templates.UdpCallTemplate)
	if !ok {
		return nil, errors.New("udp transport requires a udp call template")
	}
	payload, err := formatRequest(udpTpl, args)
	if err != nil {
		return nil, err
	}
	reply, err := t.exchange(ctx, udpTpl, payload)
	if err != nil {
		return nil, fmt.Errorf("calling tool %s: %w", toolName, err)
	}
	return decodeResponse(udpTpl, reply), nil
}

// CallToolStream yields exactly one element equal to CallTool's result.
func (t *UDPTransport) CallToolStream(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (transports.StreamResult, error) {
	result, err := t.CallTool(ctx, toolName, args, tpl)
	if err != nil {
		return nil, err
	}
	return transports.NewSliceStreamResult([]interface{}{result}, nil), nil
}
