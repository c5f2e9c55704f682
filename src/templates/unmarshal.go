package templates

import (
	"fmt"

	"github.com/universal-tool-calling-protocol/utcp-go/src/json"
)

// UnmarshalCallTemplate inspects "call_template_type" and decodes the
// matching variant. Payloads carrying only the legacy "provider_type"
// discriminator are normalized first.
func UnmarshalCallTemplate(data []byte) (CallTemplate, error) {
	var head struct {
		CallTemplateType TemplateType `json:"call_template_type"`
		ProviderType     TemplateType `json:"provider_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	kind := head.CallTemplateType
	if kind == "" && head.ProviderType != "" {
		var raw map[string]interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		return UnmarshalLegacyProvider(raw)
	}

	decode := func(target CallTemplate) (CallTemplate, error) {
		if err := json.Unmarshal(data, target); err != nil {
			return nil, err
		}
		return target, nil
	}

	switch kind {
	case TemplateHTTP:
		return decode(&HttpCallTemplate{})
	case TemplateSSE:
		return decode(&SseCallTemplate{})
	case TemplateStreamableHTTP:
		return decode(&StreamableHttpCallTemplate{})
	case TemplateWebSocket:
		return decode(&WebSocketCallTemplate{})
	case TemplateCLI:
		return decode(&CliCallTemplate{})
	case TemplateTCP:
		return decode(&TcpCallTemplate{})
	case TemplateUDP:
		return decode(&UdpCallTemplate{})
	case TemplateText:
		return decode(&TextCallTemplate{})
	case TemplateMCP:
		return decode(&McpCallTemplate{})
	case TemplateGNMI:
		return decode(&GnmiCallTemplate{})
	case TemplateGraphQL:
		return decode(&GraphQLCallTemplate{})
	default:
		return nil, fmt.Errorf("unsupported call_template_type %q", kind)
	}
}

// UnmarshalCallTemplateFromMap decodes a template embedded as a generic map.
func UnmarshalCallTemplateFromMap(m map[string]interface{}) (CallTemplate, error) {
	blob, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return UnmarshalCallTemplate(blob)
}

// legacyTypeNames maps pre-1.0 provider_type spellings onto template types.
var legacyTypeNames = map[string]TemplateType{
	"http":        TemplateHTTP,
	"sse":         TemplateSSE,
	"http_stream": TemplateStreamableHTTP,
	"websocket":   TemplateWebSocket,
	"cli":         TemplateCLI,
	"tcp":         TemplateTCP,
	"udp":         TemplateUDP,
	"text":        TemplateText,
	"mcp":         TemplateMCP,
	"gnmi":        TemplateGNMI,
	"graphql":     TemplateGraphQL,
}

// UnmarshalLegacyProvider rewrites a legacy "tool_provider" style payload
// (provider_type discriminator) into the modern call template form and
// decodes it.
func UnmarshalLegacyProvider(raw map[string]interface{}) (CallTemplate, error) {
	ptype, _ := raw["provider_type"].(string)
	kind, ok := legacyTypeNames[ptype]
	if !ok {
		return nil, fmt.Errorf("unsupported provider_type %q", ptype)
	}

	normalized := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if k == "provider_type" {
			continue
		}
		normalized[k] = v
	}
	normalized["call_template_type"] = string(kind)

	blob, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}
	return UnmarshalCallTemplate(blob)
}

// CloneCallTemplate deep-copies a template through its JSON form.
func CloneCallTemplate(tpl CallTemplate) (CallTemplate, error) {
	blob, err := json.Marshal(tpl)
	if err != nil {
		return nil, err
	}
	return UnmarshalCallTemplate(blob)
}
