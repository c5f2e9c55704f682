package templates

import "errors"

// McpServerConfig describes one MCP server reachable from the template.
// Stdio servers carry a command line; http and sse servers carry a URL.
type McpServerConfig struct {
	Transport string            `json:"transport,omitempty"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
}

// McpConfig mirrors the conventional mcpServers configuration block.
type McpConfig struct {
	McpServers map[string]McpServerConfig `json:"mcpServers"`
}

// McpCallTemplate configures a Model Context Protocol endpoint spanning one
// or more servers.
type McpCallTemplate struct {
	BaseCallTemplate

	Config McpConfig `json:"config"`

	// RegisterResourcesAsTools synthesizes a resource_<name> pseudo-tool
	// per listed resource during discovery.
	RegisterResourcesAsTools bool `json:"register_resources_as_tools,omitempty"`
}

// NewMcpCallTemplate constructs an McpCallTemplate.
func NewMcpCallTemplate(name string, servers map[string]McpServerConfig) *McpCallTemplate {
	return &McpCallTemplate{
		BaseCallTemplate: BaseCallTemplate{Name: name, CallTemplateType: TemplateMCP},
		Config:           McpConfig{McpServers: servers},
	}
}

// Validate checks that every configured server is callable.
func (t *McpCallTemplate) Validate() error {
	if len(t.Config.McpServers) == 0 {
		return errors.New("mcp template must configure at least one server")
	}
	for name, srv := range t.Config.McpServers {
		if srv.Command == "" && srv.URL == "" {
			return errors.New("mcp server " + name + " needs a command or a url")
		}
	}
	return nil
}
