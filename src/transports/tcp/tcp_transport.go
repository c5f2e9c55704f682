// Package tcp implements the raw TCP socket transport with configurable
// message framing.
package tcp

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
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

const defaultMaxResponse = 16 * 1024 * 1024

// TCPTransport exchanges one framed request and one framed response per
// operation. Connections are per-call; no pooling.
type TCPTransport struct {
	logger func(format string, args ...interface{})
}

// NewTCPTransport constructs a TCPTransport.
func NewTCPTransport(logger func(format string, args ...interface{})) *TCPTransport {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &TCPTransport{logger: logger}
}

// decodeDelimiter resolves the template delimiter with \n and \x00 escape
// spellings; default newline.
func decodeDelimiter(tpl *templates.TcpCallTemplate) []byte {
	if tpl.MessageDelimiter == nil {
		return []byte("\n")
	}
	d := *tpl.MessageDelimiter
	d = strings.ReplaceAll(d, `\n`, "\n")
	d = strings.ReplaceAll(d, `\r`, "\r")
	d = strings.ReplaceAll(d, `\t`, "\t")
	d = strings.ReplaceAll(d, `\x00`, "\x00")
	if d == "" {
		return []byte("\n")
	}
	return []byte(d)
}

func prefixOrder(tpl *templates.TcpCallTemplate) binary.ByteOrder {
	if tpl.LengthPrefixEndian == "little" {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func prefixBytes(tpl *templates.TcpCallTemplate) int {
	switch tpl.LengthPrefixBytes {
	case 1, 2, 4, 8:
		return tpl.LengthPrefixBytes
	default:
		return 4
	}
}

// writeFramed sends payload with the template's framing applied.
func writeFramed(conn net.Conn, tpl *templates.TcpCallTemplate, payload []byte) error {
	switch tpl.FramingStrategy {
	case templates.FramingLengthPrefix:
		n := prefixBytes(tpl)
		prefix := make([]byte, 8)
		prefixOrder(tpl).PutUint64(prefix, uint64(len(payload)))
		if prefixOrder(tpl) == binary.BigEndian {
			prefix = prefix[8-n:]
		} else {
			prefix = prefix[:n]
		}
		if _, err := conn.Write(prefix); err != nil {
			return err
		}
		_, err := conn.Write(payload)
		return err
	case templates.FramingDelimiter:
		if _, err := conn.Write(payload); err != nil {
			return err
		}
		_, err := conn.Write(decodeDelimiter(tpl))
		return err
	default:
		// fixed_length and stream send the payload as-is
		_, err := conn.Write(payload)
		return err
	}
}

// readFramed receives one message per the template's framing.
func readFramed(conn net.Conn, tpl *templates.TcpCallTemplate) ([]byte, error) {
	switch tpl.FramingStrategy {
	case templates.FramingLengthPrefix:
		n := prefixBytes(tpl)
		raw := make([]byte, n)
		if _, err := io.ReadFull(conn, raw); err != nil {
			return nil, fmt.Errorf("reading length prefix: %w", err)
		}
		padded := make([]byte, 8)
		if prefixOrder(tpl) == binary.BigEndian {
			copy(padded[8-n:], raw)
		} else {
			copy(padded, raw)
		}
		size := prefixOrder(tpl).Uint64(padded)
		max := uint64(tpl.MaxResponseSize)
		if max == 0 {
			max = defaultMaxResponse
		}
		if size > max {
			return nil, fmt.Errorf("framed message of %d bytes exceeds limit %d", size, max)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return nil, fmt.Errorf("reading framed payload: %w", err)
		}
		return payload, nil

	case templates.FramingDelimiter:
		delim := decodeDelimiter(tpl)
		var buf bytes.Buffer
		one := make([]byte, 1)
		for {
			if _, err := conn.Read(one); err != nil {
				if err == io.EOF && buf.Len() > 0 {
					return buf.Bytes(), nil
				}
				return nil, err
			}
			buf.WriteByte(one[0])
			if bytes.HasSuffix(buf.Bytes(), delim) {
				return buf.Bytes()[:buf.Len()-len(delim)], nil
			}
			if tpl.MaxResponseSize > 0 && buf.Len() > tpl.MaxResponseSize {
				return nil, fmt.Errorf("delimited message exceeds limit %d", tpl.MaxResponseSize)
			}
		}

	case templates.FramingFixedLength:
		if tpl.FixedMessageLength <= 0 {
			return nil, errors.New("fixed_length framing requires fixed_message_length")
		}
		payload := make([]byte, tpl.FixedMessageLength)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return nil, fmt.Errorf("reading fixed-length payload: %w", err)
		}
		return payload, nil

	default: // stream
		max := tpl.MaxResponseSize
		if max <= 0 {
			max = defaultMaxResponse
		}
		payload, err := io.ReadAll(io.LimitReader(conn, int64(max)))
		if err != nil {
			return nil, err
		}
		return payload, nil
	}
}

// formatRequest renders call arguments per the template's request format:
// a UTCP_ARG_<name>_UTCP_ARG text template, JSON, or whitespace-joined
// values as the text fallback.
func formatRequest(tpl *templates.TcpCallTemplate, args map[string]interface{}) ([]byte, error) {
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

// decodeResponse applies response_byte_format: a named text encoding
// decodes to string (JSON parsed opportunistically), nil returns raw bytes.
func decodeResponse(tpl *templates.TcpCallTemplate, payload []byte) interface{} {
	if tpl.ResponseByteFormat == nil {
		return payload
	}
	text := string(payload)
	var parsed interface{}
	if err := json.Unmarshal(bytes.TrimSpace(payload), &parsed); err == nil {
		return parsed
	}
	return text
}

func (t *TCPTransport) exchange(ctx context.Context, tpl *templates.TcpCallTemplate, payload []byte) ([]byte, error) {
	addr := fmt.Sprintf("%s:%d", tpl.Host, tpl.Port)
	timeout := time.Duration(tpl.EffectiveTimeoutMs()) * time.Millisecond

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	if err := writeFramed(conn, tpl, payload); err != nil {
		return nil, fmt.Errorf("writing to %s: %w", addr, err)
	}
	if tpl.FramingStrategy == templates.FramingStream || tpl.FramingStrategy == "" {
		// Peers reading to EOF need the write side closed first.
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}
	return readFramed(conn, tpl)
}

// RegisterManual sends the framed utcp greeting and parses the framed
// reply as a manual.
func (t *TCPTransport) RegisterManual(ctx context.Context, tpl templates.CallTemplate) *manual.RegisterManualResult {
	tcpTpl, ok := tpl.(*templates.TcpCallTemplate)
	if !ok {
		return manual.RegisterFailure(tpl, errors.New("tcp transport requires a tcp call template"))
	}

	reply, err := t.exchange(ctx, tcpTpl, []byte(`{"type":"utcp"}`))
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

// DeregisterManual is a no-op; connections are per-call.
func (t *TCPTransport) DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error {
	return nil
}

// CallTool sends one framed request and decodes the framed response.
func (t *TCPTransport) CallTool(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (interface{}, error) {
	tcpTpl, ok := tpl.(*templates.TcpCallTemplate)
	if !ok {
		return nil, errors.New("tcp transport requires a tcp call template")
	}
	payload, err := formatRequest(tcpTpl, args)
	if err != nil {
		return nil, err
	}
	reply, err := t.exchange(ctx, tcpTpl, payload)
	if err != nil {
		return nil, fmt.Errorf("calling tool %s: %w", toolName, err)
	}
	return decodeResponse(tcpTpl, reply), nil
}

// CallToolStream yields exactly one element equal to CallTool's result.
func (t *TCPTransport) CallToolStream(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (transports.StreamResult, error) {
	result, err := t.CallTool(ctx, toolName, args, tpl)
	if err != nil {
		return nil, err
	}
	return transports.NewSliceStreamResult([]interface{}{result}, nil), nil
}
