// Package mcp implements the Model Context Protocol transport. One call
// template spans several named servers; sessions are cached per server and
// reused across calls.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpapi "github.com/mark3labs/mcp-go/mcp"

	"github.com/universal-tool-calling-protocol/utcp-go/src/json"
	"github.com/universal-tool-calling-protocol/utcp-go/src/manual"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
	"github.com/universal-tool-calling-protocol/utcp-go/src/tools"
	"github.com/universal-tool-calling-protocol/utcp-go/src/transports"
)

const resourcePrefix = "resource_"

type mcpSession struct {
	client *mcpclient.Client
	mu     sync.Mutex
}

// MCPTransport manages long-lived MCP client sessions keyed by template and
// server name.
type MCPTransport struct {
	logger func(format string, args ...interface{})

	mu       sync.Mutex
	sessions map[string]*mcpSession
	locks    map[string]*sync.Mutex // per server, guards session creation
}

// NewMCPTransport constructs an MCPTransport.
func NewMCPTransport(logger func(format string, args ...interface{})) *MCPTransport {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &MCPTransport{
		logger:   logger,
		sessions: make(map[string]*mcpSession),
		locks:    make(map[string]*sync.Mutex),
	}
}

func sessionKey(tplName, serverName string) string {
	return tplName + "/" + serverName
}

func (t *MCPTransport) serverLock(key string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	t.locks[key] = l
	return l
}

func connectClient(cfg templates.McpServerConfig) (*mcpclient.Client, error) {
	if cfg.URL != "" {
		cli, err := mcpclient.NewStreamableHttpClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("creating mcp http client: %w", err)
		}
		return cli, nil
	}
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	cli, err := mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("starting mcp server %q: %w", cfg.Command, err)
	}
	return cli, nil
}

// getOrCreateSession returns the server's initialized session, creating it
// under a per-server lock when absent.
func (t *MCPTransport) getOrCreateSession(ctx context.Context, tplName, serverName string, cfg templates.McpServerConfig) (*mcpSession, error) {
	key := sessionKey(tplName, serverName)

	lock := t.serverLock(key)
	lock.Lock()
	defer lock.Unlock()

	t.mu.Lock()
	if s, ok := t.sessions[key]; ok {
		t.mu.Unlock()
		return s, nil
	}
	t.mu.Unlock()

	cli, err := connectClient(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.URL != "" {
		if err := cli.Start(ctx); err != nil {
			cli.Close()
			return nil, fmt.Errorf("starting mcp client for %s: %w", serverName, err)
		}
	}

	initReq := mcpapi.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpapi.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpapi.Implementation{Name: "utcp", Version: "1.0.0"}
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		cli.Close()
		return nil, fmt.Errorf("initializing mcp server %s: %w", serverName, err)
	}

	s := &mcpSession{client: cli}
	t.mu.Lock()
	t.sessions[key] = s
	t.mu.Unlock()
	return s, nil
}

func (t *MCPTransport) dropSession(tplName, serverName string) {
	key := sessionKey(tplName, serverName)
	t.mu.Lock()
	s, ok := t.sessions[key]
	if ok {
		delete(t.sessions, key)
	}
	t.mu.Unlock()
	if ok {
		s.client.Close()
	}
}

// isConnectionError classifies failures that warrant one retry on a fresh
// session.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection", "transport", "closed", "timeout", "broken pipe", "eof", "reset"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// withSession runs fn against the server's session, retrying once on a
// fresh session when fn fails with a connection-class error.
func (t *MCPTransport) withSession(ctx context.Context, tplName, serverName string, cfg templates.McpServerConfig, fn func(*mcpSession) error) error {
	s, err := t.getOrCreateSession(ctx, tplName, serverName, cfg)
	if err != nil {
		return err
	}
	err = fn(s)
	if err == nil || !isConnectionError(err) {
		return err
	}
	t.logger("[MCPTransport] retrying %s after connection error: %v", serverName, err)
	t.dropSession(tplName, serverName)
	s, err = t.getOrCreateSession(ctx, tplName, serverName, cfg)
	if err != nil {
		return err
	}
	return fn(s)
}

// schemaFromAny converts an MCP schema value into a JsonSchema via a JSON
// round trip.
func schemaFromAny(v interface{}) tools.JsonSchema {
	blob, err := json.Marshal(v)
	if err != nil {
		return *tools.NewObjectSchema()
	}
	var schema tools.JsonSchema
	if err := json.Unmarshal(blob, &schema); err != nil {
		return *tools.NewObjectSchema()
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema
}

func (t *MCPTransport) discoverServer(ctx context.Context, tpl *templates.McpCallTemplate, serverName string, cfg templates.McpServerConfig) ([]tools.Tool, error) {
	var discovered []tools.Tool
	err := t.withSession(ctx, tpl.TemplateName(), serverName, cfg, func(s *mcpSession) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		toolsRes, err := s.client.ListTools(ctx, mcpapi.ListToolsRequest{})
		if err != nil {
			return fmt.Errorf("listing tools on %s: %w", serverName, err)
		}
		discovered = discovered[:0]
		for _, tl := range toolsRes.Tools {
			discovered = append(discovered, tools.Tool{
				Name:             tl.Name,
				Description:      tl.Description,
				Inputs:           schemaFromAny(tl.InputSchema),
				Outputs:          *tools.NewObjectSchema(),
				ToolCallTemplate: tpl,
			})
		}

		if !tpl.RegisterResourcesAsTools {
			return nil
		}
		resRes, err := s.client.ListResources(ctx, mcpapi.ListResourcesRequest{})
		if err != nil {
			return fmt.Errorf("listing resources on %s: %w", serverName, err)
		}
		for _, r := range resRes.Resources {
			discovered = append(discovered, tools.Tool{
				Name:             resourcePrefix + r.Name,
				Description:      fmt.Sprintf("Read resource %s (%s)", r.Name, r.URI),
				Inputs:           *tools.NewObjectSchema(),
				Outputs:          *tools.NewObjectSchema(),
				ToolCallTemplate: tpl,
			})
		}
		return nil
	})
	return discovered, err
}

// RegisterManual lists tools (and optionally resources) on every configured
// server and aggregates them into one manual.
func (t *MCPTransport) RegisterManual(ctx context.Context, tpl templates.CallTemplate) *manual.RegisterManualResult {
	mcpTpl, ok := tpl.(*templates.McpCallTemplate)
	if !ok {
		return manual.RegisterFailure(tpl, errors.New("mcp transport requires an mcp call template"))
	}
	if err := mcpTpl.Validate(); err != nil {
		return manual.RegisterFailure(tpl, err)
	}

	var all []tools.Tool
	var failures []string
	for serverName, cfg := range mcpTpl.Config.McpServers {
		discovered, err := t.discoverServer(ctx, mcpTpl, serverName, cfg)
		if err != nil {
			failures = append(failures, err.Error())
			continue
		}
		all = append(all, discovered...)
	}
	if len(all) == 0 && len(failures) > 0 {
		return manual.RegisterFailure(tpl, errors.New(strings.Join(failures, "; ")))
	}

	m := manual.UtcpManual{UtcpVersion: "1.0", Tools: all}
	result := manual.RegisterSuccess(tpl, m)
	result.Errors = append(result.Errors, failures...)
	return result
}

// DeregisterManual closes every session owned by the template.
func (t *MCPTransport) DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error {
	prefix := tpl.TemplateName() + "/"
	t.mu.Lock()
	var doomed []*mcpSession
	for key, s := range t.sessions {
		if strings.HasPrefix(key, prefix) {
			doomed = append(doomed, s)
			delete(t.sessions, key)
			delete(t.locks, key)
		}
	}
	t.mu.Unlock()
	for _, s := range doomed {
		s.client.Close()
	}
	return nil
}

// resolveTool maps a tool name onto a configured server. The manual prefix
// added at registration is stripped first; a remaining <server>.<name>
// qualifier wins, otherwise each server's tool (or resource) list is probed.
func (t *MCPTransport) resolveTool(ctx context.Context, tpl *templates.McpCallTemplate, toolName string) (string, string, error) {
	name := strings.TrimPrefix(toolName, tpl.TemplateName()+".")

	if idx := strings.Index(name, "."); idx > 0 {
		server := name[:idx]
		if _, ok := tpl.Config.McpServers[server]; ok {
			return server, name[idx+1:], nil
		}
	}

	isResource := strings.HasPrefix(name, resourcePrefix)
	bare := strings.TrimPrefix(name, resourcePrefix)

	for serverName, cfg := range tpl.Config.McpServers {
		found := false
		err := t.withSession(ctx, tpl.TemplateName(), serverName, cfg, func(s *mcpSession) error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if isResource {
				res, err := s.client.ListResources(ctx, mcpapi.ListResourcesRequest{})
				if err != nil {
					return err
				}
				for _, r := range res.Resources {
					if r.Name == bare {
						found = true
						return nil
					}
				}
				return nil
			}
			res, err := s.client.ListTools(ctx, mcpapi.ListToolsRequest{})
			if err != nil {
				return err
			}
			for _, tl := range res.Tools {
				if tl.Name == name {
					found = true
					return nil
				}
			}
			return nil
		})
		if err != nil {
			t.logger("[MCPTransport] probe of %s failed: %v", serverName, err)
			continue
		}
		if found {
			return serverName, name, nil
		}
	}
	return "", "", fmt.Errorf("tool %s not found on any configured mcp server", toolName)
}

// shapeResult prefers structured output, flattens a lone text content to
// its parsed body, and falls through to the raw result.
func shapeResult(res *mcpapi.CallToolResult) interface{} {
	blob, err := json.Marshal(res)
	if err != nil {
		return res
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(blob, &doc); err != nil {
		return res
	}

	if structured, ok := doc["structuredContent"]; ok && structured != nil {
		return structured
	}

	content, _ := doc["content"].([]interface{})
	if len(content) == 1 {
		if item, ok := content[0].(map[string]interface{}); ok {
			if item["type"] == "text" {
				if text, ok := item["text"].(string); ok {
					return parseScalar(text)
				}
			}
		}
	}
	if len(content) > 0 {
		return content
	}
	return doc
}

// parseScalar opportunistically decodes text that looks like JSON or a
// number.
func parseScalar(text string) interface{} {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") || trimmed == "true" || trimmed == "false" || trimmed == "null" {
		var parsed interface{}
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			return parsed
		}
	}
	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return n
	}
	return text
}

func (t *MCPTransport) callResource(ctx context.Context, tpl *templates.McpCallTemplate, serverName, resourceName string, cfg templates.McpServerConfig) (interface{}, error) {
	var out interface{}
	err := t.withSession(ctx, tpl.TemplateName(), serverName, cfg, func(s *mcpSession) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		list, err := s.client.ListResources(ctx, mcpapi.ListResourcesRequest{})
		if err != nil {
			return err
		}
		uri := ""
		for _, r := range list.Resources {
			if r.Name == resourceName {
				uri = r.URI
				break
			}
		}
		if uri == "" {
			return fmt.Errorf("resource %s not found on server %s", resourceName, serverName)
		}

		readReq := mcpapi.ReadResourceRequest{}
		readReq.Params.URI = uri
		res, err := s.client.ReadResource(ctx, readReq)
		if err != nil {
			return err
		}
		blob, err := json.Marshal(res)
		if err != nil {
			return err
		}
		var doc interface{}
		if err := json.Unmarshal(blob, &doc); err != nil {
			return err
		}
		out = doc
		return nil
	})
	return out, err
}

// CallTool dispatches to the owning server, reading a resource for
// resource_* pseudo-tools and invoking the tool otherwise.
func (t *MCPTransport) CallTool(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (interface{}, error) {
	mcpTpl, ok := tpl.(*templates.McpCallTemplate)
	if !ok {
		return nil, errors.New("mcp transport requires an mcp call template")
	}

	serverName, bareName, err := t.resolveTool(ctx, mcpTpl, toolName)
	if err != nil {
		return nil, err
	}
	cfg := mcpTpl.Config.McpServers[serverName]

	if strings.HasPrefix(bareName, resourcePrefix) {
		return t.callResource(ctx, mcpTpl, serverName, strings.TrimPrefix(bareName, resourcePrefix), cfg)
	}

	var out interface{}
	err = t.withSession(ctx, mcpTpl.TemplateName(), serverName, cfg, func(s *mcpSession) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		req := mcpapi.CallToolRequest{}
		req.Params.Name = bareName
		req.Params.Arguments = args
		res, err := s.client.CallTool(ctx, req)
		if err != nil {
			return err
		}
		if res.IsError {
			return fmt.Errorf("tool %s reported an error: %v", toolName, shapeResult(res))
		}
		out = shapeResult(res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CallToolStream yields exactly one element equal to CallTool's result.
func (t *MCPTransport) CallToolStream(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (transports.StreamResult, error) {
	result, err := t.CallTool(ctx, toolName, args, tpl)
	if err != nil {
		return nil, err
	}
	return transports.NewSliceStreamResult([]interface{}{result}, nil), nil
}
