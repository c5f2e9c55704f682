// Package http implements the request/response HTTP transport.
package http

import (
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
	"gopkg.in/yaml.v2"

	"github.com/universal-tool-calling-protocol/utcp-go/src/auth"
	"github.com/universal-tool-calling-protocol/utcp-go/src/json"
	"github.com/universal-tool-calling-protocol/utcp-go/src/manual"
	"github.com/universal-tool-calling-protocol/utcp-go/src/openapi"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
	"github.com/universal-tool-calling-protocol/utcp-go/src/transports"
)

const (
	discoveryTimeout = 10 * time.Second
	callTimeout      = 30 * time.Second
)

// HttpClientTransport implements the transport contract for http call
// templates.
type HttpClientTransport struct {
	httpClient *http.Client
	applier    *auth.Applier
	logger     func(format string, args ...interface{})
}

// NewHttpClientTransport constructs an HttpClientTransport.
func NewHttpClientTransport(logger func(format string, args ...interface{})) *HttpClientTransport {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	client := &http.Client{}
	return &HttpClientTransport{
		httpClient: client,
		applier:    auth.NewApplier(client, logger),
		logger:     logger,
	}
}

// buildRequest materializes call arguments into the template's wire shape:
// header fields, one body object, URL path parameters, and remaining query
// parameters, with auth applied last.
func (t *HttpClientTransport) buildRequest(
	ctx context.Context,
	tpl *templates.HttpCallTemplate,
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
	contentType := ""
	if hasBody {
		contentType = state.Headers.Get("Content-Type")
		if contentType == "" {
			contentType = tpl.BodyContentType()
		}
		if strings.Contains(contentType, "application/json") {
			blob, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			bodyReader = bytes.NewReader(blob)
		} else {
			bodyReader = strings.NewReader(cast.ToString(body))
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
	if hasBody && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, c := range state.Cookies {
		req.AddCookie(c)
	}
	if basic != nil {
		req.SetBasicAuth(basic.Username, basic.Password)
	}
	return req, nil
}

// decodeResponse applies raise-for-status and parses JSON content types,
// falling back to the raw text body.
func decodeResponse(toolName string, resp *http.Response) (interface{}, error) {
	defer resp.Body.Close()
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("tool %s returned error status %s: %s", toolName, resp.Status, strings.TrimSpace(string(bodyBytes)))
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var result interface{}
		if err := json.Unmarshal(bodyBytes, &result); err == nil {
			return result, nil
		}
	}
	return string(bodyBytes), nil
}

// RegisterManual fetches the discovery document and decodes it as either a
// UTCP manual or an OpenAPI specification.
func (t *HttpClientTransport) RegisterManual(ctx context.Context, tpl templates.CallTemplate) *manual.RegisterManualResult {
	httpTpl, ok := tpl.(*templates.HttpCallTemplate)
	if !ok {
		return manual.RegisterFailure(tpl, errors.New("http transport requires an http call template"))
	}

	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	req, err := t.buildRequest(ctx, httpTpl, nil)
	if err != nil {
		return manual.RegisterFailure(tpl, err)
	}
	t.logger("[HttpTransport] discovering manual %q at %s", httpTpl.Name, httpTpl.URL)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return manual.RegisterFailure(tpl, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return manual.RegisterFailure(tpl, fmt.Errorf("discovery endpoint returned %s", resp.Status))
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return manual.RegisterFailure(tpl, err)
	}

	doc, err := decodeSpecBody(bodyBytes, resp.Header.Get("Content-Type"), httpTpl.URL)
	if err != nil {
		return manual.RegisterFailure(tpl, err)
	}

	if manual.LooksLikeManual(doc) {
		m, err := manual.FromMap(doc)
		if err != nil {
			return manual.RegisterFailure(tpl, err)
		}
		return manual.RegisterSuccess(tpl, m)
	}

	converter := openapi.NewConverter(doc, httpTpl.URL, httpTpl.Name, httpTpl.AuthSpec())
	m, err := converter.Convert()
	if err != nil {
		return manual.RegisterFailure(tpl, err)
	}
	return manual.RegisterSuccess(tpl, m)
}

// decodeSpecBody parses a discovery body as JSON, falling back to YAML for
// YAML content types and .yaml/.yml URLs.
func decodeSpecBody(body []byte, contentType, urlStr string) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err == nil {
		return doc, nil
	}
	if strings.Contains(contentType, "yaml") || strings.HasSuffix(urlStr, ".yaml") || strings.HasSuffix(urlStr, ".yml") {
		var yamlDoc map[interface{}]interface{}
		if err := yaml.Unmarshal(body, &yamlDoc); err != nil {
			return nil, fmt.Errorf("discovery body is neither JSON nor YAML: %w", err)
		}
		return normalizeYaml(yamlDoc), nil
	}
	return nil, errors.New("discovery body is not a JSON object")
}

// normalizeYaml rewrites yaml.v2's interface-keyed maps into string-keyed
// maps so the rest of the pipeline sees JSON-shaped values.
func normalizeYaml(in map[interface{}]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[cast.ToString(k)] = normalizeYamlValue(v)
	}
	return out
}

func normalizeYamlValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		return normalizeYaml(val)
	case []interface{}:
		for i, item := range val {
			val[i] = normalizeYamlValue(item)
		}
		return val
	default:
		return val
	}
}

// DeregisterManual is a no-op; the HTTP transport holds no sessions.
func (t *HttpClientTransport) DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error {
	return nil
}

// CallTool issues one HTTP request shaped by the template and returns the
// decoded response.
func (t *HttpClientTransport) CallTool(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (interface{}, error) {
	httpTpl, ok := tpl.(*templates.HttpCallTemplate)
	if !ok {
		return nil, errors.New("http transport requires an http call template")
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req, err := t.buildRequest(ctx, httpTpl, args)
	if err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling tool %s: %w", toolName, err)
	}
	return decodeResponse(toolName, resp)
}

// CallToolStream yields exactly one element equal to CallTool's result.
func (t *HttpClientTransport) CallToolStream(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (transports.StreamResult, error) {
	result, err := t.CallTool(ctx, toolName, args, tpl)
	if err != nil {
		return nil, err
	}
	return transports.NewSliceStreamResult([]interface{}{result}, nil), nil
}
