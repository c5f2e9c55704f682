// Package openapi converts OpenAPI 2.0 and 3.0 documents into UTCP
// manuals, one tool per operation.
package openapi

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/universal-tool-calling-protocol/utcp-go/src/auth"
	"github.com/universal-tool-calling-protocol/utcp-go/src/json"
	"github.com/universal-tool-calling-protocol/utcp-go/src/manual"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
	"github.com/universal-tool-calling-protocol/utcp-go/src/tools"
)

var httpMethods = []string{"get", "post", "put", "delete", "patch"}

// Converter walks one OpenAPI document. The auth placeholder counter is
// scoped to the converter, so converting the same document twice yields
// identical manuals.
type Converter struct {
	spec        map[string]interface{}
	specURL     string
	manualName  string
	inherited   auth.Auth
	authCounter int
	nameCounts  map[string]int
}

// NewConverter constructs a Converter. inherited is the auth carried by
// the manual's own call template and may be nil.
func NewConverter(spec map[string]interface{}, specURL, manualName string, inherited auth.Auth) *Converter {
	if manualName == "" {
		info, _ := spec["info"].(map[string]interface{})
		title, _ := info["title"].(string)
		if title == "" {
			title = "openapi_manual"
		}
		manualName = sanitizeName(title)
	}
	return &Converter{
		spec:       spec,
		specURL:    specURL,
		manualName: manualName,
		inherited:  inherited,
		nameCounts: make(map[string]int),
	}
}

// sanitizeName turns an arbitrary string into an identifier: invalid runes
// become underscores, repeats collapse.
func sanitizeName(s string) string {
	s = strings.ReplaceAll(s, "{", "")
	s = strings.ReplaceAll(s, "}", "")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "_")
	if s == "" {
		return "root"
	}
	return s
}

// baseURL prefers servers[0].url, falling back to the scheme and host of
// the spec's own URL.
func (c *Converter) baseURL() string {
	if servers, ok := c.spec["servers"].([]interface{}); ok && len(servers) > 0 {
		if srv, ok := servers[0].(map[string]interface{}); ok {
			if u, _ := srv["url"].(string); u != "" {
				return u
			}
		}
	}
	// OAS 2 host/basePath
	if host, _ := c.spec["host"].(string); host != "" {
		scheme := "https"
		if schemes, ok := c.spec["schemes"].([]interface{}); ok && len(schemes) > 0 {
			if s, ok := schemes[0].(string); ok {
				scheme = s
			}
		}
		basePath, _ := c.spec["basePath"].(string)
		return scheme + "://" + host + basePath
	}
	if c.specURL != "" {
		if parsed, err := url.Parse(c.specURL); err == nil && parsed.Host != "" {
			return parsed.Scheme + "://" + parsed.Host
		}
	}
	return "/"
}

// Convert emits one tool per operation, in path then method order.
func (c *Converter) Convert() (manual.UtcpManual, error) {
	paths, ok := c.spec["paths"].(map[string]interface{})
	if !ok {
		return manual.UtcpManual{}, errors.New("document has no paths object")
	}
	base := c.baseURL()

	pathKeys := make([]string, 0, len(paths))
	for p := range paths {
		pathKeys = append(pathKeys, p)
	}
	sort.Strings(pathKeys)

	var converted []tools.Tool
	for _, rawPath := range pathKeys {
		pathItem, ok := paths[rawPath].(map[string]interface{})
		if !ok {
			continue
		}
		var pathParams []interface{}
		if pp, ok := pathItem["parameters"].([]interface{}); ok {
			pathParams = pp
		}
		for _, method := range httpMethods {
			op, ok := pathItem[method].(map[string]interface{})
			if !ok {
				continue
			}
			tool, err := c.convertOperation(rawPath, method, op, pathParams, base)
			if err != nil {
				continue
			}
			converted = append(converted, *tool)
		}
	}

	return manual.UtcpManual{UtcpVersion: "1.0", Tools: converted}, nil
}

// joinURL joins base and path with single-slash normalization.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func (c *Converter) operationID(path, method string, op map[string]interface{}) string {
	if id, _ := op["operationId"].(string); id != "" {
		return id
	}
	id := method + "_" + sanitizeName(path)
	if count, seen := c.nameCounts[id]; seen {
		c.nameCounts[id] = count + 1
		return fmt.Sprintf("%s_%d", id, count+1)
	}
	c.nameCounts[id] = 1
	return id
}

func (c *Converter) convertOperation(path, method string, op map[string]interface{}, pathParams []interface{}, base string) (*tools.Tool, error) {
	opID := c.operationID(path, method, op)

	desc, _ := op["summary"].(string)
	if desc == "" {
		desc, _ = op["description"].(string)
	}
	var tags []string
	if rawTags, ok := op["tags"].([]interface{}); ok {
		for _, t := range rawTags {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	}

	inputs, headerFields, bodyField := c.extractInputs(op, pathParams)
	outputs := c.extractOutputs(op)
	opAuth := c.extractAuth(op)

	tpl := templates.NewHttpCallTemplate(c.manualName, joinURL(base, path))
	tpl.HTTPMethod = strings.ToUpper(method)
	tpl.HeaderFields = headerFields
	tpl.BodyField = bodyField
	if opAuth != nil {
		tpl.Auth = &templates.AuthConfig{Auth: opAuth}
	}

	return &tools.Tool{
		Name:             opID,
		Description:      desc,
		Inputs:           inputs,
		Outputs:          outputs,
		Tags:             tags,
		ToolCallTemplate: tpl,
	}, nil
}

// resolveRef walks a #/ pointer through the document.
func (c *Converter) resolveRef(ref string) (map[string]interface{}, bool) {
	if !strings.HasPrefix(ref, "#/") {
		return nil, false
	}
	node := c.spec
	for _, part := range strings.Split(ref[2:], "/") {
		next, ok := node[part].(map[string]interface{})
		if !ok {
			return nil, false
		}
		node = next
	}
	return node, true
}

// resolveSchema inlines $ref nodes recursively. A ref already on the
// resolution stack is kept verbatim, which preserves cycles instead of
// looping on them.
func (c *Converter) resolveSchema(schema interface{}, resolving map[string]bool) interface{} {
	switch val := schema.(type) {
	case map[string]interface{}:
		if ref, has := val["$ref"].(string); has {
			if resolving[ref] {
				return val
			}
			target, ok := c.resolveRef(ref)
			if !ok {
				return val
			}
			resolving[ref] = true
			resolved := c.resolveSchema(target, resolving)
			delete(resolving, ref)
			return resolved
		}
		out := make(map[string]interface{}, len(val))
		for k, v := range val {
			out[k] = c.resolveSchema(v, resolving)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = c.resolveSchema(item, resolving)
		}
		return out
	default:
		return val
	}
}

// schemaNode decodes a resolved schema map into a JsonSchema.
func schemaNode(raw interface{}) *tools.JsonSchema {
	blob, err := json.Marshal(raw)
	if err != nil {
		return &tools.JsonSchema{Type: "object"}
	}
	var schema tools.JsonSchema
	if err := json.Unmarshal(blob, &schema); err != nil {
		return &tools.JsonSchema{Type: "object"}
	}
	return &schema
}

// extractInputs merges path-level and operation parameters into one input
// schema, recording header parameters and the body field.
func (c *Converter) extractInputs(op map[string]interface{}, pathParams []interface{}) (tools.JsonSchema, []string, *string) {
	inputs := tools.NewObjectSchema()
	var headerFields []string
	var bodyField *string

	var params []interface{}
	params = append(params, pathParams...)
	if opParams, ok := op["parameters"].([]interface{}); ok {
		params = append(params, opParams...)
	}

	for _, rawParam := range params {
		resolved := c.resolveSchema(rawParam, map[string]bool{})
		param, ok := resolved.(map[string]interface{})
		if !ok {
			continue
		}
		in, _ := param["in"].(string)
		name, _ := param["name"].(string)

		if in == "body" {
			// OAS 2 body parameter
			field := "body"
			bodyField = &field
			if schema, ok := param["schema"]; ok {
				inputs.Properties[field] = schemaNode(schema)
			} else {
				inputs.Properties[field] = tools.NewObjectSchema()
			}
			if req, _ := param["required"].(bool); req {
				inputs.Required = append(inputs.Required, field)
			}
			continue
		}
		if name == "" {
			continue
		}

		var prop *tools.JsonSchema
		if schema, ok := param["schema"]; ok {
			prop = schemaNode(schema)
		} else {
			// OAS 2 inline parameter type
			prop = schemaNode(param)
			prop.Title = ""
		}
		if prop.Description == "" {
			prop.Description, _ = param["description"].(string)
		}
		inputs.Properties[name] = prop

		if in == "header" {
			headerFields = append(headerFields, name)
		}
		if req, _ := param["required"].(bool); req {
			inputs.Required = append(inputs.Required, name)
		}
	}

	// OAS 3 requestBody
	if rb, ok := op["requestBody"].(map[string]interface{}); ok {
		resolved := c.resolveSchema(rb, map[string]bool{})
		if rbMap, ok := resolved.(map[string]interface{}); ok {
			if content, ok := rbMap["content"].(map[string]interface{}); ok {
				var schema interface{}
				if jsonContent, ok := content["application/json"].(map[string]interface{}); ok {
					schema = jsonContent["schema"]
				} else {
					mediaTypes := make([]string, 0, len(content))
					for mt := range content {
						mediaTypes = append(mediaTypes, mt)
					}
					sort.Strings(mediaTypes)
					if len(mediaTypes) > 0 {
						if mtObj, ok := content[mediaTypes[0]].(map[string]interface{}); ok {
							schema = mtObj["schema"]
						}
					}
				}
				if schema != nil {
					field := "body"
					bodyField = &field
					inputs.Properties[field] = schemaNode(schema)
					if req, _ := rbMap["required"].(bool); req {
						inputs.Required = append(inputs.Required, field)
					}
				}
			}
		}
	}

	return *inputs, headerFields, bodyField
}

// extractOutputs derives the output schema from the 200/201/default
// response.
func (c *Converter) extractOutputs(op map[string]interface{}) tools.JsonSchema {
	responses, ok := op["responses"].(map[string]interface{})
	if !ok {
		return *tools.NewObjectSchema()
	}

	var response map[string]interface{}
	for _, code := range []string{"200", "201", "default"} {
		if r, ok := responses[code].(map[string]interface{}); ok {
			response = r
			break
		}
	}
	if response == nil {
		return *tools.NewObjectSchema()
	}

	resolved := c.resolveSchema(response, map[string]bool{})
	respMap, ok := resolved.(map[string]interface{})
	if !ok {
		return *tools.NewObjectSchema()
	}

	// OAS 3 content
	if content, ok := respMap["content"].(map[string]interface{}); ok {
		if jsonContent, ok := content["application/json"].(map[string]interface{}); ok {
			if schema, ok := jsonContent["schema"]; ok {
				return *schemaNode(schema)
			}
		}
		mediaTypes := make([]string, 0, len(content))
		for mt := range content {
			mediaTypes = append(mediaTypes, mt)
		}
		sort.Strings(mediaTypes)
		for _, mt := range mediaTypes {
			if mtObj, ok := content[mt].(map[string]interface{}); ok {
				if schema, ok := mtObj["schema"]; ok {
					return *schemaNode(schema)
				}
			}
		}
	}

	// OAS 2 schema
	if schema, ok := respMap["schema"]; ok {
		return *schemaNode(schema)
	}
	return *tools.NewObjectSchema()
}
