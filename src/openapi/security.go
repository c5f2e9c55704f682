package openapi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/universal-tool-calling-protocol/utcp-go/src/auth"
)

// placeholder emits a ${NAME_<n>} substitution target for a secret that
// the converted manual cannot know. n groups values acquired together
// (Basic username+password, OAuth2 client_id+client_secret).
func placeholder(name string, n int) string {
	return fmt.Sprintf("${%s_%d}", name, n)
}

// extractAuth resolves the operation's credential descriptor, first match
// wins: the x-utcp-auth extension, operation security, global security,
// then auth inherited from the manual's call template.
func (c *Converter) extractAuth(op map[string]interface{}) auth.Auth {
	if ext, ok := op["x-utcp-auth"].(map[string]interface{}); ok {
		if parsed, err := auth.UnmarshalAuthFromMap(ext); err == nil {
			return parsed
		}
	}

	var reqs []interface{}
	if opSec, ok := op["security"].([]interface{}); ok && len(opSec) > 0 {
		reqs = opSec
	} else if globalSec, ok := c.spec["security"].([]interface{}); ok && len(globalSec) > 0 {
		reqs = globalSec
	}

	if len(reqs) == 0 {
		return c.inherited
	}

	schemes := c.securitySchemes()
	for _, raw := range reqs {
		req, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		names := make([]string, 0, len(req))
		for name := range req {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			scheme, ok := schemes[name].(map[string]interface{})
			if !ok {
				continue
			}
			if built := c.authFromScheme(scheme); built != nil {
				if c.inherited != nil && compatible(c.inherited, built) {
					return c.inherited
				}
				return built
			}
		}
	}
	return c.inherited
}

// compatible reports whether inherited credentials satisfy the scheme the
// document declares: same kind, and for API keys the same header slot.
func compatible(inherited, fromScheme auth.Auth) bool {
	if inherited.Type() != fromScheme.Type() {
		return false
	}
	if inherited.Type() != auth.APIKeyType {
		return true
	}
	a, ok := inherited.(*auth.ApiKeyAuth)
	if !ok {
		return false
	}
	b, ok := fromScheme.(*auth.ApiKeyAuth)
	if !ok {
		return false
	}
	return a.VarName == b.VarName && a.Location == b.Location
}

// securitySchemes reads components.securitySchemes (OAS 3) or
// securityDefinitions (OAS 2).
func (c *Converter) securitySchemes() map[string]interface{} {
	if comp, ok := c.spec["components"].(map[string]interface{}); ok {
		if schemes, ok := comp["securitySchemes"].(map[string]interface{}); ok {
			return schemes
		}
	}
	if defs, ok := c.spec["securityDefinitions"].(map[string]interface{}); ok {
		return defs
	}
	return nil
}

// authFromScheme maps one security scheme onto a placeholder-bearing
// descriptor. Each scheme instance consumes one counter step.
func (c *Converter) authFromScheme(scheme map[string]interface{}) auth.Auth {
	typ, _ := scheme["type"].(string)
	switch strings.ToLower(typ) {
	case "apikey":
		c.authCounter++
		loc, _ := scheme["in"].(string)
		name, _ := scheme["name"].(string)
		return &auth.ApiKeyAuth{
			AuthType: auth.APIKeyType,
			APIKey:   placeholder("API_KEY", c.authCounter),
			VarName:  name,
			Location: loc,
		}

	case "basic":
		c.authCounter++
		return &auth.BasicAuth{
			AuthType: auth.BasicType,
			Username: placeholder("USERNAME", c.authCounter),
			Password: placeholder("PASSWORD", c.authCounter),
		}

	case "http":
		schemeName, _ := scheme["scheme"].(string)
		switch strings.ToLower(schemeName) {
		case "basic":
			c.authCounter++
			return &auth.BasicAuth{
				AuthType: auth.BasicType,
				Username: placeholder("USERNAME", c.authCounter),
				Password: placeholder("PASSWORD", c.authCounter),
			}
		case "bearer":
			c.authCounter++
			return &auth.ApiKeyAuth{
				AuthType: auth.APIKeyType,
				APIKey:   "Bearer " + placeholder("API_KEY", c.authCounter),
				VarName:  "Authorization",
				Location: "header",
			}
		}

	case "oauth2":
		// OAS 3 flows
		if flows, ok := scheme["flows"].(map[string]interface{}); ok {
			flowNames := make([]string, 0, len(flows))
			for name := range flows {
				flowNames = append(flowNames, name)
			}
			sort.Strings(flowNames)
			for _, name := range flowNames {
				flow, ok := flows[name].(map[string]interface{})
				if !ok {
					continue
				}
				if built := c.oauth2FromFlow(flow); built != nil {
					return built
				}
			}
			return nil
		}
		// OAS 2 flow
		if flowType, _ := scheme["flow"].(string); flowType != "" {
			return c.oauth2FromFlow(scheme)
		}
	}
	return nil
}

func (c *Converter) oauth2FromFlow(flow map[string]interface{}) auth.Auth {
	tokenURL, _ := flow["tokenUrl"].(string)
	if tokenURL == "" {
		return nil
	}
	var scope *string
	if scopes, ok := flow["scopes"].(map[string]interface{}); ok && len(scopes) > 0 {
		keys := make([]string, 0, len(scopes))
		for k := range scopes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		joined := strings.Join(keys, " ")
		scope = &joined
	}
	c.authCounter++
	return &auth.OAuth2Auth{
		AuthType:     auth.OAuth2Type,
		TokenURL:     tokenURL,
		ClientID:     placeholder("CLIENT_ID", c.authCounter),
		ClientSecret: placeholder("CLIENT_SECRET", c.authCounter),
		Scope:        scope,
	}
}
