// Package utcp is a client framework for the Universal Tool Calling
// Protocol: it registers manuals (tool catalogs) over pluggable transport
// protocols and dispatches unary and streaming tool calls to them.
package utcp

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/universal-tool-calling-protocol/utcp-go/src/json"
	"github.com/universal-tool-calling-protocol/utcp-go/src/manual"
	"github.com/universal-tool-calling-protocol/utcp-go/src/repository"
	"github.com/universal-tool-calling-protocol/utcp-go/src/substitutor"
	"github.com/universal-tool-calling-protocol/utcp-go/src/tag"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
	"github.com/universal-tool-calling-protocol/utcp-go/src/tools"
	"github.com/universal-tool-calling-protocol/utcp-go/src/transports"
	climod "github.com/universal-tool-calling-protocol/utcp-go/src/transports/cli"
	gnmimod "github.com/universal-tool-calling-protocol/utcp-go/src/transports/gnmi"
	gqlmod "github.com/universal-tool-calling-protocol/utcp-go/src/transports/graphql"
	httpmod "github.com/universal-tool-calling-protocol/utcp-go/src/transports/http"
	mcpmod "github.com/universal-tool-calling-protocol/utcp-go/src/transports/mcp"
	ssemod "github.com/universal-tool-calling-protocol/utcp-go/src/transports/sse"
	streamablemod "github.com/universal-tool-calling-protocol/utcp-go/src/transports/streamable"
	tcpmod "github.com/universal-tool-calling-protocol/utcp-go/src/transports/tcp"
	textmod "github.com/universal-tool-calling-protocol/utcp-go/src/transports/text"
	udpmod "github.com/universal-tool-calling-protocol/utcp-go/src/transports/udp"
	wsmod "github.com/universal-tool-calling-protocol/utcp-go/src/transports/websocket"
)

// ToolSearchStrategy ranks repository tools against a query. When
// anyOfTagsRequired is non-empty only tools carrying at least one of those
// tags are candidates.
type ToolSearchStrategy interface {
	SearchTools(ctx context.Context, query string, limit int, anyOfTagsRequired []string) ([]tools.Tool, error)
}

var (
	invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_]`)
	underscoreRuns   = regexp.MustCompile(`_{2,}`)
)

// SanitizeManualName maps an arbitrary manual name onto the identifier
// charset and collapses underscore runs, keeping double underscores
// reserved for variable namespacing. Sanitization is idempotent.
func SanitizeManualName(name string) string {
	s := invalidNameChars.ReplaceAllString(name, "_")
	return underscoreRuns.ReplaceAllString(s, "_")
}

// UtcpClient orchestrates registration, dispatch and search across the
// transport table.
type UtcpClient struct {
	config      *ClientConfig
	repo        repository.ToolRepository
	search      ToolSearchStrategy
	substitutor *substitutor.Substitutor
	transports  map[templates.TemplateType]transports.Transport
	logger      func(format string, args ...interface{})
}

// NewUtcpClient builds a client from config: the variable map is
// self-substituted (variables may reference other variables), defaults are
// filled in, and every preloaded manual template is registered. Per-template
// registration failures are logged, not fatal.
func NewUtcpClient(ctx context.Context, cfg *ClientConfig, logger func(format string, args ...interface{})) (*UtcpClient, error) {
	if cfg == nil {
		cfg = NewClientConfig()
	}
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}

	sub := substitutor.New(cfg.Variables, cfg.LoadVariablesFrom)
	resolved := make(map[string]string, len(cfg.Variables))
	for k, v := range cfg.Variables {
		out, err := sub.Substitute(v, "")
		if err != nil {
			return nil, &InvalidConfigError{Reason: fmt.Sprintf("variable %s: %v", k, err)}
		}
		resolved[k], _ = out.(string)
	}
	sub.Variables = resolved

	repo := cfg.ToolRepository
	if repo == nil {
		repo = repository.NewInMemoryToolRepository()
	}
	search := cfg.ToolSearchStrategy
	if search == nil {
		search = tag.NewTagSearchStrategy(repo, 0.3)
	}

	c := &UtcpClient{
		config:      cfg,
		repo:        repo,
		search:      search,
		substitutor: sub,
		logger:      logger,
		transports: map[templates.TemplateType]transports.Transport{
			templates.TemplateHTTP:           httpmod.NewHttpClientTransport(logger),
			templates.TemplateStreamableHTTP: streamablemod.NewStreamableHTTPTransport(logger),
			templates.TemplateSSE:            ssemod.NewSSETransport(logger),
			templates.TemplateWebSocket:      wsmod.NewWebSocketTransport(logger),
			templates.TemplateCLI:            climod.NewCliTransport(logger),
			templates.TemplateTCP:            tcpmod.NewTCPTransport(logger),
			templates.TemplateUDP:            udpmod.NewUDPTransport(logger),
			templates.TemplateText:           textmod.NewTextTransport(cfg.RootDir, logger),
			templates.TemplateMCP:            mcpmod.NewMCPTransport(logger),
			templates.TemplateGNMI:           gnmimod.NewGnmiTransport(logger),
			templates.TemplateGraphQL:        gqlmod.NewGraphQLClientTransport(logger),
		},
	}

	for _, tpl := range cfg.ManualCallTemplates {
		result, err := c.RegisterManual(ctx, tpl)
		if err != nil {
			c.logger("[UtcpClient] preloading manual %q failed: %v", tpl.TemplateName(), err)
			continue
		}
		if !result.Success {
			c.logger("[UtcpClient] preloading manual %q failed: %v", tpl.TemplateName(), result.Errors)
		}
	}
	return c, nil
}

// substituteTemplate produces a deep copy of tpl with every variable
// resolved under the manual's namespace prefix.
func (c *UtcpClient) substituteTemplate(tpl templates.CallTemplate, prefix string) (templates.CallTemplate, error) {
	blob, err := json.Marshal(tpl)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(blob, &doc); err != nil {
		return nil, err
	}
	substituted, err := c.substitutor.Substitute(doc, prefix)
	if err != nil {
		return nil, err
	}
	out, err := templates.UnmarshalCallTemplateFromMap(substituted.(map[string]interface{}))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *UtcpClient) transportFor(kind templates.TemplateType) (transports.Transport, error) {
	tr, ok := c.transports[kind]
	if !ok {
		return nil, &UnsupportedProtocolError{Protocol: string(kind)}
	}
	return tr, nil
}

// RegisterManual discovers a manual through the template's transport and
// stores its tools under the sanitized manual name. Transport-level
// failures come back inside the result; naming conflicts and substitution
// failures are returned as errors.
func (c *UtcpClient) RegisterManual(ctx context.Context, tpl templates.CallTemplate) (*manual.RegisterManualResult, error) {
	sanitized := SanitizeManualName(tpl.TemplateName())
	if sanitized == "" {
		return nil, &InvalidConfigError{Reason: "manual call template has no name"}
	}

	if existing, err := c.repo.GetManual(ctx, sanitized); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, &ManualAlreadyRegisteredError{ManualName: sanitized}
	}

	working, err := templates.CloneCallTemplate(tpl)
	if err != nil {
		return nil, err
	}
	working.SetTemplateName(sanitized)
	working, err = c.substituteTemplate(working, sanitized)
	if err != nil {
		return nil, err
	}

	tr, err := c.transportFor(working.Type())
	if err != nil {
		return nil, err
	}

	result := tr.RegisterManual(ctx, working)
	if !result.Success {
		// The manual stays on file with zero tools so deregistration and
		// required-variable reporting still resolve its template.
		if err := c.repo.SaveManual(ctx, working, result.Manual); err != nil {
			return nil, err
		}
		return result, nil
	}

	kept := make([]tools.Tool, 0, len(result.Manual.Tools))
	for _, tool := range result.Manual.Tools {
		toolTpl := tool.ToolCallTemplate
		if toolTpl == nil {
			toolTpl = working
			tool.ToolCallTemplate = working
		}
		if !templates.ProtocolAllowed(working, toolTpl.Type()) {
			c.logger("[UtcpClient] dropping tool %q: protocol %s not allowed by manual %s", tool.Name, toolTpl.Type(), sanitized)
			continue
		}
		tool.ToolCallTemplate.SetTemplateName(sanitized)
		tool.Name = sanitized + "." + tool.Name
		kept = append(kept, tool)
	}
	result.Manual.Tools = kept

	if err := c.repo.SaveManual(ctx, working, result.Manual); err != nil {
		return nil, err
	}
	return result, nil
}

// DeregisterManual tears down the manual's transport state and removes it
// from the repository. Unknown names return false without error.
func (c *UtcpClient) DeregisterManual(ctx context.Context, name string) (bool, error) {
	sanitized := SanitizeManualName(name)
	tpl, err := c.repo.GetManualCallTemplate(ctx, sanitized)
	if err != nil {
		return false, err
	}
	if tpl == nil {
		return false, nil
	}

	tr, err := c.transportFor(tpl.Type())
	if err != nil {
		return false, err
	}
	if err := tr.DeregisterManual(ctx, tpl); err != nil {
		return false, err
	}
	return c.repo.RemoveManual(ctx, sanitized)
}

// resolveCall looks a tool up and prepares its substituted template,
// enforcing the owning manual's allowed protocols.
func (c *UtcpClient) resolveCall(ctx context.Context, toolName string) (*tools.Tool, templates.CallTemplate, transports.Transport, error) {
	tool, err := c.repo.GetTool(ctx, toolName)
	if err != nil {
		return nil, nil, nil, err
	}
	if tool == nil {
		return nil, nil, nil, &ToolNotFoundError{ToolName: toolName}
	}

	manualName := toolName
	if idx := strings.Index(toolName, "."); idx >= 0 {
		manualName = toolName[:idx]
	}

	toolTpl, err := c.substituteTemplate(tool.ToolCallTemplate, manualName)
	if err != nil {
		return nil, nil, nil, err
	}

	manualTpl, err := c.repo.GetManualCallTemplate(ctx, manualName)
	if err != nil {
		return nil, nil, nil, err
	}
	if manualTpl == nil {
		return nil, nil, nil, &ManualNotFoundError{ManualName: manualName}
	}
	if !templates.ProtocolAllowed(manualTpl, toolTpl.Type()) {
		return nil, nil, nil, &UnsupportedProtocolError{Protocol: string(toolTpl.Type())}
	}

	tr, err := c.transportFor(toolTpl.Type())
	if err != nil {
		return nil, nil, nil, err
	}
	return tool, toolTpl, tr, nil
}

// CallTool invokes a registered tool and runs the configured
// post-processing hooks over its result.
func (c *UtcpClient) CallTool(ctx context.Context, toolName string, args map[string]interface{}) (interface{}, error) {
	tool, toolTpl, tr, err := c.resolveCall(ctx, toolName)
	if err != nil {
		return nil, err
	}

	result, err := tr.CallTool(ctx, toolName, args, toolTpl)
	if err != nil {
		return nil, err
	}
	for _, proc := range c.config.PostProcessing {
		result = proc.PostProcess(ctx, tool, result)
	}
	return result, nil
}

// CallToolStream invokes a registered tool's streaming form. Stream
// elements are delivered as the transport produces them; post-processing
// hooks apply per element.
func (c *UtcpClient) CallToolStream(ctx context.Context, toolName string, args map[string]interface{}) (transports.StreamResult, error) {
	tool, toolTpl, tr, err := c.resolveCall(ctx, toolName)
	if err != nil {
		return nil, err
	}

	stream, err := tr.CallToolStream(ctx, toolName, args, toolTpl)
	if err != nil {
		return nil, err
	}
	if len(c.config.PostProcessing) == 0 {
		return stream, nil
	}
	return &postProcessedStream{
		inner: stream,
		apply: func(v interface{}) interface{} {
			for _, proc := range c.config.PostProcessing {
				v = proc.PostProcess(ctx, tool, v)
			}
			return v
		},
	}, nil
}

type postProcessedStream struct {
	inner transports.StreamResult
	apply func(interface{}) interface{}
}

func (s *postProcessedStream) Next() (interface{}, error) {
	item, err := s.inner.Next()
	if err != nil {
		return nil, err
	}
	return s.apply(item), nil
}

func (s *postProcessedStream) Close() error { return s.inner.Close() }

// SearchTools delegates to the configured search strategy.
func (c *UtcpClient) SearchTools(ctx context.Context, query string, limit int, anyOfTagsRequired []string) ([]tools.Tool, error) {
	if limit <= 0 {
		limit = 10
	}
	return c.search.SearchTools(ctx, query, limit, anyOfTagsRequired)
}

// GetTool returns a registered tool by fully-qualified name.
func (c *UtcpClient) GetTool(ctx context.Context, toolName string) (*tools.Tool, error) {
	tool, err := c.repo.GetTool(ctx, toolName)
	if err != nil {
		return nil, err
	}
	if tool == nil {
		return nil, &ToolNotFoundError{ToolName: toolName}
	}
	return tool, nil
}

// GetManual returns a registered manual by name.
func (c *UtcpClient) GetManual(ctx context.Context, name string) (*manual.UtcpManual, error) {
	return c.repo.GetManual(ctx, SanitizeManualName(name))
}

// requiredVariables lists namespaced variable references in a template.
func (c *UtcpClient) requiredVariables(tpl templates.CallTemplate, prefix string) ([]string, error) {
	blob, err := json.Marshal(tpl)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(blob, &doc); err != nil {
		return nil, err
	}
	return c.substitutor.FindRequired(doc, prefix), nil
}

// GetRequiredVariablesForManualAndTools returns the variables referenced
// by a manual's template plus those of every tool registered through it,
// in first-appearance order.
func (c *UtcpClient) GetRequiredVariablesForManualAndTools(ctx context.Context, tpl templates.CallTemplate) ([]string, error) {
	prefix := SanitizeManualName(tpl.TemplateName())
	names, err := c.requiredVariables(tpl, prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		seen[n] = struct{}{}
	}

	registered, err := c.repo.GetToolsByManual(ctx, prefix)
	if err != nil {
		return nil, err
	}
	for _, tool := range registered {
		toolNames, err := c.requiredVariables(tool.ToolCallTemplate, prefix)
		if err != nil {
			return nil, err
		}
		for _, n := range toolNames {
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			names = append(names, n)
		}
	}
	return names, nil
}

// GetRequiredVariablesForRegisteredTool returns the variables referenced
// by one registered tool's template.
func (c *UtcpClient) GetRequiredVariablesForRegisteredTool(ctx context.Context, toolName string) ([]string, error) {
	tool, err := c.repo.GetTool(ctx, toolName)
	if err != nil {
		return nil, err
	}
	if tool == nil {
		return nil, &ToolNotFoundError{ToolName: toolName}
	}
	prefix := toolName
	if idx := strings.Index(toolName, "."); idx >= 0 {
		prefix = toolName[:idx]
	}
	return c.requiredVariables(tool.ToolCallTemplate, prefix)
}
