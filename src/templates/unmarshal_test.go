package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnmarshalCallTemplateHTTP(t *testing.T) {
	tpl, err := UnmarshalCallTemplate([]byte(`{
		"name": "api",
		"call_template_type": "http",
		"url": "https://api.example.com/utcp",
		"http_method": "POST",
		"auth": {"auth_type": "api_key", "api_key": "k", "var_name": "X-Api-Key", "location": "header"}
	}`))
	assert.NoError(t, err)
	httpTpl, ok := tpl.(*HttpCallTemplate)
	assert.True(t, ok, "expected HttpCallTemplate")
	assert.Equal(t, "api", httpTpl.TemplateName())
	assert.Equal(t, "https://api.example.com/utcp", httpTpl.URL)
	assert.Equal(t, "POST", httpTpl.HTTPMethod)
	assert.NotNil(t, httpTpl.AuthSpec())
}

func TestUnmarshalCallTemplateUnknownType(t *testing.T) {
	_, err := UnmarshalCallTemplate([]byte(`{"call_template_type": "carrier_pigeon"}`))
	assert.Error(t, err)
}

func TestUnmarshalLegacyProviderPayload(t *testing.T) {
	tpl, err := UnmarshalCallTemplate([]byte(`{
		"name": "legacy",
		"provider_type": "http_stream",
		"url": "https://stream.example.com"
	}`))
	assert.NoError(t, err)
	assert.Equal(t, TemplateStreamableHTTP, tpl.Type(), "http_stream normalizes to streamable_http")
	assert.Equal(t, "legacy", tpl.TemplateName())
}

func TestAllowedProtocolsDefaultsToOwnKind(t *testing.T) {
	tpl := NewHttpCallTemplate("m", "http://localhost/utcp")
	assert.Equal(t, []TemplateType{TemplateHTTP}, tpl.AllowedProtocols())
	assert.True(t, ProtocolAllowed(tpl, TemplateHTTP))
	assert.False(t, ProtocolAllowed(tpl, TemplateCLI))

	tpl.AllowedCommunicationProtocols = []TemplateType{TemplateHTTP, TemplateSSE}
	assert.True(t, ProtocolAllowed(tpl, TemplateSSE))
}

func TestCloneCallTemplateIsDeep(t *testing.T) {
	tpl := NewHttpCallTemplate("m", "http://localhost/utcp")
	tpl.Headers = map[string]string{"X-Env": "prod"}

	cloned, err := CloneCallTemplate(tpl)
	assert.NoError(t, err)
	clonedHTTP := cloned.(*HttpCallTemplate)
	clonedHTTP.Headers["X-Env"] = "test"
	clonedHTTP.SetTemplateName("other")

	assert.Equal(t, "prod", tpl.Headers["X-Env"], "clone must not share header map")
	assert.Equal(t, "m", tpl.TemplateName(), "clone must not share name")
}
