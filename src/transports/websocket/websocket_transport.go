// Package websocket implements the WebSocket transport with per-template
// reusable sessions.
package websocket

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cast"

	"github.com/universal-tool-calling-protocol/utcp-go/src/auth"
	"github.com/universal-tool-calling-protocol/utcp-go/src/json"
	"github.com/universal-tool-calling-protocol/utcp-go/src/manual"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
	"github.com/universal-tool-calling-protocol/utcp-go/src/transports"
)

// discoveryEnvelope is the wire greeting that requests a manual.
var discoveryEnvelope = []byte(`{"type":"utcp"}`)

type session struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes request/response exchanges
	done chan struct{}
}

func (s *session) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.conn.Close()
}

// WebSocketClientTransport keeps one connection per template, keyed by
// name+url, reused across calls until the manual is deregistered.
type WebSocketClientTransport struct {
	dialer  *websocket.Dialer
	applier *auth.Applier
	logger  func(format string, args ...interface{})

	mu       sync.Mutex
	sessions map[string]*session
}

// NewWebSocketTransport constructs a WebSocketClientTransport.
func NewWebSocketTransport(logger func(format string, args ...interface{})) *WebSocketClientTransport {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &WebSocketClientTransport{
		dialer:   &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		applier:  auth.NewApplier(nil, logger),
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

func sessionKey(tpl *templates.WebSocketCallTemplate) string {
	return tpl.TemplateName() + "|" + tpl.URL
}

func (t *WebSocketClientTransport) handshakeHeader(ctx context.Context, tpl *templates.WebSocketCallTemplate) (http.Header, error) {
	hdr := http.Header{}
	for k, v := range tpl.Headers {
		hdr.Set(k, v)
	}
	state := auth.NewRequestState()
	basic, err := t.applier.Apply(ctx, tpl.AuthSpec(), state)
	if err != nil {
		return nil, err
	}
	for k, vs := range state.Headers {
		for _, v := range vs {
			hdr.Set(k, v)
		}
	}
	if basic != nil {
		enc := base64.StdEncoding.EncodeToString([]byte(basic.Username + ":" + basic.Password))
		hdr.Set("Authorization", "Basic "+enc)
	}
	if tpl.Protocol != nil {
		hdr.Set("Sec-WebSocket-Protocol", *tpl.Protocol)
	}
	return hdr, nil
}

// getSession returns the template's live connection, dialing when absent.
func (t *WebSocketClientTransport) getSession(ctx context.Context, tpl *templates.WebSocketCallTemplate) (*session, error) {
	if err := transports.CheckSecureURL(tpl.URL, "wss", "ws"); err != nil {
		return nil, err
	}

	key := sessionKey(tpl)
	t.mu.Lock()
	if s, ok := t.sessions[key]; ok {
		t.mu.Unlock()
		return s, nil
	}
	t.mu.Unlock()

	hdr, err := t.handshakeHeader(ctx, tpl)
	if err != nil {
		return nil, err
	}
	conn, _, err := t.dialer.DialContext(ctx, tpl.URL, hdr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", tpl.URL, err)
	}
	s := &session{conn: conn, done: make(chan struct{})}

	if tpl.KeepAlive {
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.mu.Lock()
					err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
					s.mu.Unlock()
					if err != nil {
						return
					}
				case <-s.done:
					return
				}
			}
		}()
	}

	t.mu.Lock()
	if existing, ok := t.sessions[key]; ok {
		t.mu.Unlock()
		s.close()
		return existing, nil
	}
	t.sessions[key] = s
	t.mu.Unlock()
	return s, nil
}

func (t *WebSocketClientTransport) dropSession(tpl *templates.WebSocketCallTemplate) {
	key := sessionKey(tpl)
	t.mu.Lock()
	s, ok := t.sessions[key]
	if ok {
		delete(t.sessions, key)
	}
	t.mu.Unlock()
	if ok {
		s.close()
	}
}

// RegisterManual connects, sends the utcp greeting and waits for a manual.
func (t *WebSocketClientTransport) RegisterManual(ctx context.Context, tpl templates.CallTemplate) *manual.RegisterManualResult {
	wsTpl, ok := tpl.(*templates.WebSocketCallTemplate)
	if !ok {
		return manual.RegisterFailure(tpl, errors.New("websocket transport requires a websocket call template"))
	}

	s, err := t.getSession(ctx, wsTpl)
	if err != nil {
		return manual.RegisterFailure(tpl, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.WriteMessage(websocket.TextMessage, discoveryEnvelope); err != nil {
		t.dropSession(wsTpl)
		return manual.RegisterFailure(tpl, err)
	}

	deadline := time.Now().Add(time.Duration(wsTpl.EffectiveTimeoutMs()) * time.Millisecond)
	s.conn.SetReadDeadline(deadline)
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			t.dropSession(wsTpl)
			return manual.RegisterFailure(tpl, fmt.Errorf("waiting for manual: %w", err))
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(msg, &doc); err != nil {
			continue
		}
		if _, hasTools := doc["tools"]; !hasTools {
			continue
		}
		m, err := manual.FromMap(doc)
		if err != nil {
			return manual.RegisterFailure(tpl, err)
		}
		return manual.RegisterSuccess(tpl, m)
	}
}

// DeregisterManual closes the template's connection.
func (t *WebSocketClientTransport) DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error {
	wsTpl, ok := tpl.(*templates.WebSocketCallTemplate)
	if !ok {
		return errors.New("websocket transport requires a websocket call template")
	}
	t.dropSession(wsTpl)
	return nil
}

// formatMessage renders the outgoing payload. A configured message
// template has its ${arg} placeholders substituted; otherwise the raw
// args are JSON-encoded.
func formatMessage(tpl *templates.WebSocketCallTemplate, args map[string]interface{}) ([]byte, error) {
	if tpl.Message == nil || *tpl.Message == "" {
		return json.Marshal(args)
	}
	out := *tpl.Message
	for k, v := range args {
		placeholder := "${" + k + "}"
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

// decodeFrame parses one incoming frame per the template's response
// format. Binary frames pass through untouched.
func decodeFrame(tpl *templates.WebSocketCallTemplate, msgType int, msg []byte) interface{} {
	if msgType == websocket.BinaryMessage {
		return msg
	}
	format := ""
	if tpl.ResponseFormat != nil {
		format = *tpl.ResponseFormat
	}
	switch format {
	case "text":
		return string(msg)
	case "raw":
		return msg
	case "json":
		var parsed interface{}
		if err := json.Unmarshal(msg, &parsed); err != nil {
			return string(msg)
		}
		return parsed
	default:
		var parsed interface{}
		if err := json.Unmarshal(msg, &parsed); err != nil {
			return string(msg)
		}
		return parsed
	}
}

// terminalType inspects a decoded frame for a stream-terminating type tag.
func terminalType(v interface{}) string {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return ""
	}
	tag, _ := obj["type"].(string)
	switch tag {
	case "tool_response", "tool_error", "stream_end":
		return tag
	}
	return ""
}

// CallTool sends one formatted message and returns the first response
// frame.
func (t *WebSocketClientTransport) CallTool(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (interface{}, error) {
	wsTpl, ok := tpl.(*templates.WebSocketCallTemplate)
	if !ok {
		return nil, errors.New("websocket transport requires a websocket call template")
	}

	s, err := t.getSession(ctx, wsTpl)
	if err != nil {
		return nil, err
	}

	payload, err := formatMessage(wsTpl, args)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.dropSession(wsTpl)
		return nil, fmt.Errorf("calling tool %s: %w", toolName, err)
	}

	s.conn.SetReadDeadline(time.Now().Add(time.Duration(wsTpl.EffectiveTimeoutMs()) * time.Millisecond))
	defer s.conn.SetReadDeadline(time.Time{})

	msgType, msg, err := s.conn.ReadMessage()
	if err != nil {
		t.dropSession(wsTpl)
		return nil, fmt.Errorf("reading response for tool %s: %w", toolName, err)
	}
	return decodeFrame(wsTpl, msgType, msg), nil
}

// CallToolStream sends one message and yields response frames until a
// terminator arrives or the per-message timeout lapses.
func (t *WebSocketClientTransport) CallToolStream(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (transports.StreamResult, error) {
	wsTpl, ok := tpl.(*templates.WebSocketCallTemplate)
	if !ok {
		return nil, errors.New("websocket transport requires a websocket call template")
	}

	s, err := t.getSession(ctx, wsTpl)
	if err != nil {
		return nil, err
	}

	payload, err := formatMessage(wsTpl, args)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.mu.Unlock()
		t.dropSession(wsTpl)
		return nil, fmt.Errorf("calling tool %s: %w", toolName, err)
	}

	ch := make(chan interface{}, 8)
	go func() {
		defer s.mu.Unlock()
		defer close(ch)

		timeout := time.Duration(wsTpl.EffectiveTimeoutMs()) * time.Millisecond
		for {
			s.conn.SetReadDeadline(time.Now().Add(timeout))
			msgType, msg, err := s.conn.ReadMessage()
			if err != nil {
				s.conn.SetReadDeadline(time.Time{})
				t.dropSession(wsTpl)
				if !errors.Is(err, context.Canceled) {
					select {
					case ch <- err:
					case <-ctx.Done():
					}
				}
				return
			}
			frame := decodeFrame(wsTpl, msgType, msg)
			switch terminalType(frame) {
			case "stream_end":
				s.conn.SetReadDeadline(time.Time{})
				return
			case "tool_error":
				s.conn.SetReadDeadline(time.Time{})
				select {
				case ch <- fmt.Errorf("tool %s failed: %v", toolName, frame):
				case <-ctx.Done():
				}
				return
			case "tool_response":
				s.conn.SetReadDeadline(time.Time{})
				select {
				case ch <- frame:
				case <-ctx.Done():
				}
				return
			}
			select {
			case ch <- frame:
			case <-ctx.Done():
				s.conn.SetReadDeadline(time.Time{})
				return
			}
		}
	}()

	return transports.NewChannelStreamResult(ch, func() error { return nil }), nil
}
