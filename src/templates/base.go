// Package templates defines the call template variants: the per-endpoint
// configuration used both for manual discovery and for tool invocation.
package templates

import (
	"github.com/universal-tool-calling-protocol/utcp-go/src/auth"
	"github.com/universal-tool-calling-protocol/utcp-go/src/json"
)

// TemplateType discriminates the call template variants.
type TemplateType string

const (
	TemplateHTTP           TemplateType = "http"
	TemplateSSE            TemplateType = "sse"
	TemplateStreamableHTTP TemplateType = "streamable_http"
	TemplateWebSocket      TemplateType = "websocket"
	TemplateCLI            TemplateType = "cli"
	TemplateTCP            TemplateType = "tcp"
	TemplateUDP            TemplateType = "udp"
	TemplateText           TemplateType = "text"
	TemplateMCP            TemplateType = "mcp"
	TemplateGNMI           TemplateType = "gnmi"
	TemplateGraphQL        TemplateType = "graphql"
)

// CallTemplate is implemented by all concrete template types.
type CallTemplate interface {
	// Type returns the discriminator.
	Type() TemplateType

	// TemplateName returns the template's (manual) name.
	TemplateName() string

	// SetTemplateName overwrites the template's name, used by the client
	// after sanitization.
	SetTemplateName(name string)

	// AuthSpec returns the credential descriptor, or nil.
	AuthSpec() auth.Auth

	// AllowedProtocols returns the protocol kinds a manual's tools may use.
	// An empty configured set defaults to the template's own kind.
	AllowedProtocols() []TemplateType
}

// AuthConfig wraps the auth union so it round-trips through JSON with the
// auth_type discriminator intact.
type AuthConfig struct {
	auth.Auth
}

func (a *AuthConfig) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		a.Auth = nil
		return nil
	}
	parsed, err := auth.UnmarshalAuth(data)
	if err != nil {
		return err
	}
	a.Auth = parsed
	return nil
}

func (a AuthConfig) MarshalJSON() ([]byte, error) {
	if a.Auth == nil {
		return []byte("null"), nil
	}
	return json.Marshal(a.Auth)
}

// BaseCallTemplate holds the fields common to every template kind.
type BaseCallTemplate struct {
	Name                          string         `json:"name,omitempty"`
	CallTemplateType              TemplateType   `json:"call_template_type"`
	Auth                          *AuthConfig    `json:"auth,omitempty"`
	AllowedCommunicationProtocols []TemplateType `json:"allowed_communication_protocols,omitempty"`
}

func (b *BaseCallTemplate) Type() TemplateType { return b.CallTemplateType }

func (b *BaseCallTemplate) TemplateName() string { return b.Name }

func (b *BaseCallTemplate) SetTemplateName(name string) { b.Name = name }

func (b *BaseCallTemplate) AuthSpec() auth.Auth {
	if b.Auth == nil {
		return nil
	}
	return b.Auth.Auth
}

func (b *BaseCallTemplate) AllowedProtocols() []TemplateType {
	if len(b.AllowedCommunicationProtocols) == 0 {
		return []TemplateType{b.CallTemplateType}
	}
	return b.AllowedCommunicationProtocols
}

// ProtocolAllowed reports whether kind is inside the template's allowed set.
func ProtocolAllowed(tpl CallTemplate, kind TemplateType) bool {
	for _, allowed := range tpl.AllowedProtocols() {
		if allowed == kind {
			return true
		}
	}
	return false
}
