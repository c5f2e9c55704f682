// Package graphql implements the GraphQL transport. Discovery introspects
// the schema and exposes each query and mutation field as a tool.
package graphql

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/machinebox/graphql"

	"github.com/universal-tool-calling-protocol/utcp-go/src/auth"
	"github.com/universal-tool-calling-protocol/utcp-go/src/manual"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
	"github.com/universal-tool-calling-protocol/utcp-go/src/tools"
	"github.com/universal-tool-calling-protocol/utcp-go/src/transports"
)

// GraphQLClientTransport is stateless; each operation builds a fresh
// request against the endpoint.
type GraphQLClientTransport struct {
	applier *auth.Applier
	logger  func(format string, args ...interface{})
}

// NewGraphQLClientTransport constructs a GraphQLClientTransport.
func NewGraphQLClientTransport(logger func(format string, args ...interface{})) *GraphQLClientTransport {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &GraphQLClientTransport{
		applier: auth.NewApplier(nil, logger),
		logger:  logger,
	}
}

// prepareHeaders merges template headers with auth credentials.
func (t *GraphQLClientTransport) prepareHeaders(ctx context.Context, tpl *templates.GraphQLCallTemplate) (map[string]string, error) {
	headers := make(map[string]string, len(tpl.Headers))
	for k, v := range tpl.Headers {
		headers[k] = v
	}

	state := auth.NewRequestState()
	basic, err := t.applier.Apply(ctx, tpl.AuthSpec(), state)
	if err != nil {
		return nil, err
	}
	for k, vs := range state.Headers {
		for _, v := range vs {
			headers[k] = v
		}
	}
	if basic != nil {
		enc := base64.StdEncoding.EncodeToString([]byte(basic.Username + ":" + basic.Password))
		headers["Authorization"] = "Basic " + enc
	}
	return headers, nil
}

// inferType maps a Go value onto a GraphQL variable type.
func inferType(value interface{}) string {
	if value == nil {
		return "String"
	}
	switch reflect.TypeOf(value).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "Int"
	case reflect.Float32, reflect.Float64:
		return "Float"
	case reflect.Bool:
		return "Boolean"
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
		return "JSON"
	default:
		return "String"
	}
}

const introspectionQuery = `
query IntrospectionQuery {
  __schema {
    queryType { fields { name description } }
    mutationType { fields { name description } }
  }
}`

type schemaField struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

// RegisterManual introspects the endpoint and maps each root field to a
// tool bound to this template.
func (t *GraphQLClientTransport) RegisterManual(ctx context.Context, tpl templates.CallTemplate) *manual.RegisterManualResult {
	gqlTpl, ok := tpl.(*templates.GraphQLCallTemplate)
	if !ok {
		return manual.RegisterFailure(tpl, errors.New("graphql transport requires a graphql call template"))
	}
	if err := transports.CheckSecureURL(gqlTpl.URL, "https", "http"); err != nil {
		return manual.RegisterFailure(tpl, err)
	}

	headers, err := t.prepareHeaders(ctx, gqlTpl)
	if err != nil {
		return manual.RegisterFailure(tpl, err)
	}

	client := graphql.NewClient(gqlTpl.URL)
	req := graphql.NewRequest(introspectionQuery)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	var resp struct {
		Schema struct {
			QueryType struct {
				Fields []schemaField `json:"fields"`
			} `json:"queryType"`
			MutationType *struct {
				Fields []schemaField `json:"fields"`
			} `json:"mutationType"`
		} `json:"__schema"`
	}
	if err := client.Run(ctx, req, &resp); err != nil {
		return manual.RegisterFailure(tpl, fmt.Errorf("introspection failed: %w", err))
	}

	var discovered []tools.Tool
	addField := func(f schemaField) {
		desc := ""
		if f.Description != nil {
			desc = *f.Description
		}
		discovered = append(discovered, tools.Tool{
			Name:             f.Name,
			Description:      desc,
			Inputs:           *tools.NewObjectSchema(),
			Outputs:          *tools.NewObjectSchema(),
			ToolCallTemplate: gqlTpl,
		})
	}
	for _, f := range resp.Schema.QueryType.Fields {
		addField(f)
	}
	if resp.Schema.MutationType != nil {
		for _, f := range resp.Schema.MutationType.Fields {
			addField(f)
		}
	}

	return manual.RegisterSuccess(tpl, manual.UtcpManual{UtcpVersion: "1.0", Tools: discovered})
}

// DeregisterManual is a no-op; the transport is stateless.
func (t *GraphQLClientTransport) DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error {
	return nil
}

// CallTool builds a single-field operation named after the tool with call
// arguments bound as variables.
func (t *GraphQLClientTransport) CallTool(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (interface{}, error) {
	gqlTpl, ok := tpl.(*templates.GraphQLCallTemplate)
	if !ok {
		return nil, errors.New("graphql transport requires a graphql call template")
	}
	if err := transports.CheckSecureURL(gqlTpl.URL, "https", "http"); err != nil {
		return nil, err
	}

	opType := gqlTpl.Operation()
	if opType != "query" && opType != "mutation" {
		return nil, fmt.Errorf("invalid operation type %q", opType)
	}

	field := toolName
	if idx := strings.LastIndex(field, "."); idx >= 0 {
		field = field[idx+1:]
	}

	var b strings.Builder
	b.WriteString(opType + " ")
	var defs, passes []string
	for k, v := range args {
		defs = append(defs, fmt.Sprintf("$%s: %s", k, inferType(v)))
		passes = append(passes, fmt.Sprintf("%s: $%s", k, k))
	}
	if len(defs) > 0 {
		b.WriteString("(" + strings.Join(defs, ", ") + ") ")
	}
	b.WriteString("{ " + field)
	if len(passes) > 0 {
		b.WriteString("(" + strings.Join(passes, ", ") + ")")
	}
	b.WriteString(" }")

	headers, err := t.prepareHeaders(ctx, gqlTpl)
	if err != nil {
		return nil, err
	}

	client := graphql.NewClient(gqlTpl.URL)
	req := graphql.NewRequest(b.String())
	for k, v := range args {
		req.Var(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	var resp map[string]interface{}
	if err := client.Run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("calling tool %s: %w", toolName, err)
	}
	if data, ok := resp[field]; ok {
		return data, nil
	}
	return resp, nil
}

// CallToolStream yields exactly one element equal to CallTool's result.
func (t *GraphQLClientTransport) CallToolStream(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (transports.StreamResult, error) {
	result, err := t.CallTool(ctx, toolName, args, tpl)
	if err != nil {
		return nil, err
	}
	return transports.NewSliceStreamResult([]interface{}{result}, nil), nil
}
