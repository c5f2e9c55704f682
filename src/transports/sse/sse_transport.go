// Package sse implements the Server-Sent Events transport.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/universal-tool-calling-protocol/utcp-go/src/auth"
	"github.com/universal-tool-calling-protocol/utcp-go/src/json"
	"github.com/universal-tool-calling-protocol/utcp-go/src/manual"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
	"github.com/universal-tool-calling-protocol/utcp-go/src/transports"
)

// SSEClientTransport streams tool results over text/event-stream responses.
// Open responses are tracked per template name so deregistration can close
// everything a manual owns.
type SSEClientTransport struct {
	httpClient *http.Client
	applier    *auth.Applier
	logger     func(format string, args ...interface{})

	mu     sync.Mutex
	active map[string]io.Closer // "<template name>:<request id>" -> response body
}

// NewSSETransport constructs an SSEClientTransport. The HTTP client carries
// no timeout so long-lived streams are governed by context alone.
func NewSSETransport(logger func(format string, args ...interface{})) *SSEClientTransport {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	client := &http.Client{}
	return &SSEClientTransport{
		httpClient: client,
		applier:    auth.NewApplier(client, logger),
		logger:     logger,
		active:     make(map[string]io.Closer),
	}
}

func (t *SSEClientTransport) track(tplName string, body io.Closer) string {
	key := tplName + ":" + uuid.NewString()
	t.mu.Lock()
	t.active[key] = body
	t.mu.Unlock()
	return key
}

func (t *SSEClientTransport) untrack(key string) {
	t.mu.Lock()
	delete(t.active, key)
	t.mu.Unlock()
}

// RegisterManual fetches the manual document from the template URL.
func (t *SSEClientTransport) RegisterManual(ctx context.Context, tpl templates.CallTemplate) *manual.RegisterManualResult {
	sseTpl, ok := tpl.(*templates.SseCallTemplate)
	if !ok {
		return manual.RegisterFailure(tpl, errors.New("sse transport requires an sse call template"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sseTpl.URL, nil)
	if err != nil {
		return manual.RegisterFailure(tpl, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range sseTpl.Headers {
		req.Header.Set(k, v)
	}
	if err := t.applyAuth(ctx, sseTpl, req); err != nil {
		return manual.RegisterFailure(tpl, err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return manual.RegisterFailure(tpl, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return manual.RegisterFailure(tpl, fmt.Errorf("discovery endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(body))))
	}

	var doc map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return manual.RegisterFailure(tpl, fmt.Errorf("decoding discovery body: %w", err))
	}
	m, err := manual.FromMap(doc)
	if err != nil {
		return manual.RegisterFailure(tpl, err)
	}
	return manual.RegisterSuccess(tpl, m)
}

func (t *SSEClientTransport) applyAuth(ctx context.Context, tpl *templates.SseCallTemplate, req *http.Request) error {
	state := auth.NewRequestState()
	basic, err := t.applier.Apply(ctx, tpl.AuthSpec(), state)
	if err != nil {
		return err
	}
	for k, vs := range state.Headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	if len(state.Query) > 0 {
		q := req.URL.Query()
		for k, vs := range state.Query {
			for _, v := range vs {
				q.Set(k, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}
	for _, c := range state.Cookies {
		req.AddCookie(c)
	}
	if basic != nil {
		req.SetBasicAuth(basic.Username, basic.Password)
	}
	return nil
}

// DeregisterManual closes every open stream owned by the template's name.
func (t *SSEClientTransport) DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error {
	prefix := tpl.TemplateName() + ":"
	t.mu.Lock()
	for key, closer := range t.active {
		if strings.HasPrefix(key, prefix) {
			closer.Close()
			delete(t.active, key)
		}
	}
	t.mu.Unlock()
	return nil
}

// CallToolStream opens the event stream and yields one element per SSE
// record.
func (t *SSEClientTransport) CallToolStream(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (transports.StreamResult, error) {
	sseTpl, ok := tpl.(*templates.SseCallTemplate)
	if !ok {
		return nil, errors.New("sse transport requires an sse call template")
	}

	req, err := t.buildCallRequest(ctx, sseTpl, args)
	if err != nil {
		return nil, err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling tool %s: %w", toolName, err)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("tool %s returned error status %s: %s", toolName, resp.Status, strings.TrimSpace(string(body)))
	}

	key := t.track(sseTpl.TemplateName(), resp.Body)

	ch := make(chan interface{}, 8)
	go func() {
		defer close(ch)
		defer t.untrack(key)
		defer resp.Body.Close()
		t.readEvents(ctx, resp.Body, sseTpl.EventType, ch)
	}()

	return transports.NewChannelStreamResult(ch, func() error {
		t.untrack(key)
		return resp.Body.Close()
	}), nil
}

func (t *SSEClientTransport) buildCallRequest(ctx context.Context, tpl *templates.SseCallTemplate, args map[string]interface{}) (*http.Request, error) {
	remaining := make(map[string]interface{}, len(args))
	for k, v := range args {
		remaining[k] = v
	}

	headerValues := map[string]string{}
	for _, field := range tpl.HeaderFields {
		if v, ok := remaining[field]; ok {
			headerValues[field] = cast.ToString(v)
			delete(remaining, field)
		}
	}

	var body interface{}
	hasBody := false
	if tpl.BodyField != nil {
		if v, ok := remaining[*tpl.BodyField]; ok {
			body = v
			hasBody = true
			delete(remaining, *tpl.BodyField)
		}
	}

	parsed, err := url.Parse(tpl.URL)
	if err != nil {
		return nil, err
	}
	query := parsed.Query()
	for k, v := range remaining {
		query.Set(k, cast.ToString(v))
	}
	parsed.RawQuery = query.Encode()

	method := http.MethodGet
	var reader io.Reader
	if hasBody {
		blob, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		method = http.MethodPost
		reader = bytes.NewReader(blob)
	}

	req, err := http.NewRequestWithContext(ctx, method, parsed.String(), reader)
	if err != nil {
		return nil, err
	}
	for k, v := range tpl.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headerValues {
		req.Header.Set(k, v)
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := t.applyAuth(ctx, tpl, req); err != nil {
		return nil, err
	}
	// The stream content type is not negotiable.
	req.Header.Set("Accept", "text/event-stream")
	return req, nil
}

// readEvents runs the SSE framing state machine: records are separated by
// a blank line; data lines accumulate joined by \n; comment lines start
// with a colon. Records failing the event_type filter are dropped.
func (t *SSEClientTransport) readEvents(ctx context.Context, body io.Reader, eventType *string, ch chan<- interface{}) {
	reader := bufio.NewReader(body)
	var dataLines []string
	eventName := ""

	flush := func() bool {
		if len(dataLines) == 0 {
			eventName = ""
			return true
		}
		data := strings.Join(dataLines, "\n")
		dataLines = nil
		name := eventName
		eventName = ""

		if eventType != nil && *eventType != "" && name != *eventType {
			return true
		}
		var parsed interface{}
		if err := json.Unmarshal([]byte(data), &parsed); err != nil {
			parsed = data
		}
		select {
		case ch <- parsed:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "":
				if !flush() {
					return
				}
			case strings.HasPrefix(line, ":"):
				// comment line
			case strings.HasPrefix(line, "event:"):
				eventName = strings.TrimPrefix(strings.TrimPrefix(line, "event:"), " ")
			case strings.HasPrefix(line, "data:"):
				dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			case strings.HasPrefix(line, "id:"):
				t.logger("[SSETransport] last event id: %s", strings.TrimSpace(line[len("id:"):]))
			case strings.HasPrefix(line, "retry:"):
				// reconnection advice is ignored; no automatic reconnect
			}
		}
		if err != nil {
			flush()
			if err != io.EOF && !errors.Is(err, context.Canceled) {
				select {
				case ch <- err:
				case <-ctx.Done():
				}
			}
			return
		}
	}
}

// CallTool aggregates the stream into a list of events (unwrapped when a
// single event arrives).
func (t *SSEClientTransport) CallTool(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (interface{}, error) {
	stream, err := t.CallToolStream(ctx, toolName, args, tpl)
	if err != nil {
		return nil, err
	}
	return transports.Drain(stream)
}
