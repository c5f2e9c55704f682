// Package streamable implements the chunk-decoding HTTP transport.
package streamable

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
	"time"

	"github.com/spf13/cast"

	"github.com/universal-tool-calling-protocol/utcp-go/src/auth"
	"github.com/universal-tool-calling-protocol/utcp-go/src/json"
	"github.com/universal-tool-calling-protocol/utcp-go/src/manual"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
	"github.com/universal-tool-calling-protocol/utcp-go/src/transports"
)

// StreamableHTTPClientTransport implements HTTP with incremental response
// decoding: NDJSON lines, octet-stream chunks, or buffered JSON.
type StreamableHTTPClientTransport struct {
	httpClient *http.Client
	applier    *auth.Applier
	logger     func(format string, args ...interface{})
}

// NewStreamableHTTPTransport constructs a StreamableHTTPClientTransport.
func NewStreamableHTTPTransport(logger func(format string, args ...interface{})) *StreamableHTTPClientTransport {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	client := &http.Client{}
	return &StreamableHTTPClientTransport{
		httpClient: client,
		applier:    auth.NewApplier(client, logger),
		logger:     logger,
	}
}

func (t *StreamableHTTPClientTransport) buildRequest(
	ctx context.Context,
	tpl *templates.StreamableHttpCallTemplate,
	args map[string]interface{},
) (*http.Request, error) {
	if err := transports.CheckSecureURL(tpl.URL, "https", "http"); err != nil {
		return nil, err
	}

	remaining := make(map[string]interface{}, len(args))
	for k, v := range args {
		remaining[k] = v
	}

	state := auth.NewRequestState()
	for k, v := range tpl.Headers {
		state.Headers.Set(k, v)
	}
	for _, field := range tpl.HeaderFields {
		if v, ok := remaining[field]; ok {
			state.Headers.Set(field, cast.ToString(v))
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

	urlStr := tpl.URL
	for k, v := range remaining {
		placeholder := "{" + k + "}"
		if strings.Contains(urlStr, placeholder) {
			urlStr = strings.ReplaceAll(urlStr, placeholder, url.PathEscape(cast.ToString(v)))
			delete(remaining, k)
		}
	}
	if open := strings.Index(urlStr, "{"); open >= 0 {
		if close := strings.Index(urlStr[open:], "}"); close > 0 {
			return nil, fmt.Errorf("missing required path parameter %q in URL %s", urlStr[open+1:open+close], tpl.URL)
		}
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return nil, err
	}
	query := parsed.Query()
	for k, v := range remaining {
		query.Set(k, cast.ToString(v))
	}

	basic, err := t.applier.Apply(ctx, tpl.AuthSpec(), state)
	if err != nil {
		return nil, err
	}
	for k, vs := range state.Query {
		for _, v := range vs {
			query.Set(k, v)
		}
	}
	parsed.RawQuery = query.Encode()

	var bodyReader io.Reader
	if hasBody {
		blob, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(blob)
		if state.Headers.Get("Content-Type") == "" {
			state.Headers.Set("Content-Type", "application/json")
		}
	}

	req, err := http.NewRequestWithContext(ctx, tpl.Method(), parsed.String(), bodyReader)
	if err != nil {
		return nil, err
	}
	for k, vs := range state.Headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	for _, c := range state.Cookies {
		req.AddCookie(c)
	}
	if basic != nil {
		req.SetBasicAuth(basic.Username, basic.Password)
	}
	return req, nil
}

// RegisterManual fetches the manual document over a plain request.
func (t *StreamableHTTPClientTransport) RegisterManual(ctx context.Context, tpl templates.CallTemplate) *manual.RegisterManualResult {
	streamTpl, ok := tpl.(*templates.StreamableHttpCallTemplate)
	if !ok {
		return manual.RegisterFailure(tpl, errors.New("streamable http transport requires a streamable_http call template"))
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := t.buildRequest(ctx, streamTpl, nil)
	if err != nil {
		return manual.RegisterFailure(tpl, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return manual.RegisterFailure(tpl, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return manual.RegisterFailure(tpl, fmt.Errorf("discovery endpoint returned %s", resp.Status))
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

// DeregisterManual is a no-op; responses are scoped to single calls.
func (t *StreamableHTTPClientTransport) DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error {
	return nil
}

// CallToolStream issues the request and yields elements decoded per the
// response content type.
func (t *StreamableHTTPClientTransport) CallToolStream(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (transports.StreamResult, error) {
	streamTpl, ok := tpl.(*templates.StreamableHttpCallTemplate)
	if !ok {
		return nil, errors.New("streamable http transport requires a streamable_http call template")
	}

	var cancel context.CancelFunc = func() {}
	if streamTpl.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(streamTpl.Timeout)*time.Millisecond)
	}

	req, err := t.buildRequest(ctx, streamTpl, args)
	if err != nil {
		cancel()
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("calling tool %s: %w", toolName, err)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("tool %s returned error status %s: %s", toolName, resp.Status, strings.TrimSpace(string(body)))
	}

	ch := make(chan interface{}, 8)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		defer cancel()
		t.decodeBody(ctx, resp, streamTpl, ch)
	}()

	return transports.NewChannelStreamResult(ch, func() error {
		cancel()
		resp.Body.Close()
		return nil
	}), nil
}

func (t *StreamableHTTPClientTransport) decodeBody(ctx context.Context, resp *http.Response, tpl *templates.StreamableHttpCallTemplate, ch chan<- interface{}) {
	contentType := resp.Header.Get("Content-Type")
	emit := func(v interface{}) bool {
		select {
		case ch <- v:
			return true
		case <-ctx.Done():
			return false
		}
	}

	switch {
	case strings.Contains(contentType, "application/x-ndjson"):
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var obj interface{}
			if err := json.Unmarshal(line, &obj); err != nil {
				// Invalid lines are surfaced raw rather than dropped.
				if !emit(append([]byte(nil), line...)) {
					return
				}
				continue
			}
			if !emit(obj) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			emit(err)
		}

	case strings.Contains(contentType, "application/json"):
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			emit(err)
			return
		}
		var obj interface{}
		if err := json.Unmarshal(body, &obj); err != nil {
			emit(body)
			return
		}
		emit(obj)

	default:
		// application/octet-stream and anything else: raw sized chunks.
		size := tpl.EffectiveChunkSize()
		for {
			buf := make([]byte, size)
			n, err := io.ReadFull(resp.Body, buf)
			if n > 0 {
				if !emit(buf[:n]) {
					return
				}
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return
			}
			if err != nil {
				emit(err)
				return
			}
		}
	}
}

// CallTool aggregates the stream: bytes are joined, object sequences
// become a list.
func (t *StreamableHTTPClientTransport) CallTool(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (interface{}, error) {
	stream, err := t.CallToolStream(ctx, toolName, args, tpl)
	if err != nil {
		return nil, err
	}
	return transports.Drain(stream)
}
