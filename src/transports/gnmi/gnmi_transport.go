// Package gnmi implements the gNMI gRPC transport. Every manual exposes
// the same four virtual tools: capabilities, get, set and subscribe.
package gnmi

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	gnmipb "github.com/openconfig/gnmi/proto/gnmi"
	"github.com/spf13/cast"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/universal-tool-calling-protocol/utcp-go/src/auth"
	"github.com/universal-tool-calling-protocol/utcp-go/src/json"
	"github.com/universal-tool-calling-protocol/utcp-go/src/manual"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
	"github.com/universal-tool-calling-protocol/utcp-go/src/tools"
	"github.com/universal-tool-calling-protocol/utcp-go/src/transports"
)

// GnmiTransport dials the target per operation and speaks the generated
// gNMI binding.
type GnmiTransport struct {
	applier *auth.Applier
	logger  func(format string, args ...interface{})
}

// NewGnmiTransport constructs a GnmiTransport.
func NewGnmiTransport(logger func(format string, args ...interface{})) *GnmiTransport {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &GnmiTransport{
		applier: auth.NewApplier(nil, logger),
		logger:  logger,
	}
}

func (t *GnmiTransport) dial(ctx context.Context, tpl *templates.GnmiCallTemplate) (*grpc.ClientConn, error) {
	var opts []grpc.DialOption
	if tpl.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	} else {
		if !transports.IsLoopbackTarget(tpl.Target) {
			return nil, &transports.SecurityViolationError{
				Reason: fmt.Sprintf("insecure gNMI channel to non-local target %s", tpl.Target),
			}
		}
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	return grpc.DialContext(ctx, tpl.Target, opts...)
}

// callMetadata builds the outgoing gRPC metadata: template metadata, then
// promoted argument fields, then auth headers. Returns the args left over
// after promotion.
func (t *GnmiTransport) callMetadata(ctx context.Context, tpl *templates.GnmiCallTemplate, args map[string]interface{}) (context.Context, map[string]interface{}, error) {
	md := metadata.MD{}
	for k, v := range tpl.Metadata {
		md.Set(k, v)
	}

	remaining := make(map[string]interface{}, len(args))
	for k, v := range args {
		remaining[k] = v
	}
	for _, field := range tpl.MetadataFields {
		if v, ok := remaining[field]; ok {
			md.Set(field, cast.ToString(v))
			delete(remaining, field)
		}
	}

	state := auth.NewRequestState()
	basic, err := t.applier.Apply(ctx, tpl.AuthSpec(), state)
	if err != nil {
		return nil, nil, err
	}
	for k, vs := range state.Headers {
		for _, v := range vs {
			md.Set(strings.ToLower(k), v)
		}
	}
	if basic != nil {
		enc := base64.StdEncoding.EncodeToString([]byte(basic.Username + ":" + basic.Password))
		md.Set("authorization", "Basic "+enc)
	}

	return metadata.NewOutgoingContext(ctx, md), remaining, nil
}

func virtualTool(tpl *templates.GnmiCallTemplate, name, description string, inputs *tools.JsonSchema) tools.Tool {
	if inputs == nil {
		inputs = tools.NewObjectSchema()
	}
	return tools.Tool{
		Name:             name,
		Description:      description,
		Inputs:           *inputs,
		Outputs:          *tools.NewObjectSchema(),
		Tags:             []string{"gnmi"},
		ToolCallTemplate: tpl,
	}
}

// RegisterManual synthesizes the four virtual tools; no wire traffic.
func (t *GnmiTransport) RegisterManual(ctx context.Context, tpl templates.CallTemplate) *manual.RegisterManualResult {
	gnmiTpl, ok := tpl.(*templates.GnmiCallTemplate)
	if !ok {
		return manual.RegisterFailure(tpl, errors.New("gnmi transport requires a gnmi call template"))
	}
	if gnmiTpl.Target == "" {
		return manual.RegisterFailure(tpl, errors.New("gnmi call template needs a target"))
	}

	getInputs := tools.NewObjectSchema()
	getInputs.Properties = map[string]*tools.JsonSchema{
		"paths": {Type: "array", Items: &tools.JsonSchema{Type: "string"}},
	}
	getInputs.Required = []string{"paths"}

	setInputs := tools.NewObjectSchema()
	setInputs.Properties = map[string]*tools.JsonSchema{
		"updates": {Type: "array", Items: tools.NewObjectSchema()},
	}
	setInputs.Required = []string{"updates"}

	subInputs := tools.NewObjectSchema()
	subInputs.Properties = map[string]*tools.JsonSchema{
		"path": {Type: "string"},
		"mode": {Type: "string", Enum: []interface{}{"STREAM", "ONCE", "POLL"}},
	}
	subInputs.Required = []string{"path"}

	m := manual.UtcpManual{
		UtcpVersion: "1.0",
		Tools: []tools.Tool{
			virtualTool(gnmiTpl, "capabilities", "Retrieve gNMI capabilities of "+gnmiTpl.Target, nil),
			virtualTool(gnmiTpl, "get", "gNMI Get on one or more paths", getInputs),
			virtualTool(gnmiTpl, "set", "gNMI Set with typed update values", setInputs),
			virtualTool(gnmiTpl, "subscribe", "gNMI Subscribe; streaming only", subInputs),
		},
	}
	return manual.RegisterSuccess(tpl, m)
}

// DeregisterManual is a no-op; channels are per-operation.
func (t *GnmiTransport) DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error {
	return nil
}

// parsePath splits a /-separated path with [key=value] selectors into
// PathElem entries.
func parsePath(p string) *gnmipb.Path {
	p = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), "/"))
	if p == "" {
		return &gnmipb.Path{}
	}

	var elems []*gnmipb.PathElem
	for _, seg := range strings.Split(p, "/") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		name := seg
		keys := map[string]string{}
		if i := strings.IndexRune(seg, '['); i >= 0 {
			name = seg[:i]
			rest := seg[i:]
			for strings.HasPrefix(rest, "[") {
				end := strings.IndexRune(rest, ']')
				if end <= 1 {
					break
				}
				kv := rest[1:end]
				rest = rest[end+1:]
				if eq := strings.IndexRune(kv, '='); eq > 0 {
					keys[kv[:eq]] = kv[eq+1:]
				}
			}
		}
		elems = append(elems, &gnmipb.PathElem{Name: name, Key: keys})
	}
	return &gnmipb.Path{Elem: elems}
}

// typedValue maps a call argument onto the gNMI TypedValue union: bool,
// integral, float and string map to their scalar encodings, composites to
// JSON-IETF.
func typedValue(v interface{}) (*gnmipb.TypedValue, error) {
	switch val := v.(type) {
	case bool:
		return &gnmipb.TypedValue{Value: &gnmipb.TypedValue_BoolVal{BoolVal: val}}, nil
	case int:
		return &gnmipb.TypedValue{Value: &gnmipb.TypedValue_IntVal{IntVal: int64(val)}}, nil
	case int64:
		return &gnmipb.TypedValue{Value: &gnmipb.TypedValue_IntVal{IntVal: val}}, nil
	case float64:
		if val == float64(int64(val)) {
			return &gnmipb.TypedValue{Value: &gnmipb.TypedValue_IntVal{IntVal: int64(val)}}, nil
		}
		return &gnmipb.TypedValue{Value: &gnmipb.TypedValue_DoubleVal{DoubleVal: val}}, nil
	case string:
		return &gnmipb.TypedValue{Value: &gnmipb.TypedValue_StringVal{StringVal: val}}, nil
	default:
		blob, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return &gnmipb.TypedValue{Value: &gnmipb.TypedValue_JsonIetfVal{JsonIetfVal: blob}}, nil
	}
}

func decodeProto(blob []byte, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	var obj interface{}
	if err := json.Unmarshal(blob, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// verb strips manual and template qualifiers off a fully-qualified tool
// name.
func verb(toolName string) string {
	if idx := strings.LastIndex(toolName, "."); idx >= 0 {
		return toolName[idx+1:]
	}
	return toolName
}

// CallTool dispatches capabilities, get and set; subscribe is only
// available through CallToolStream.
func (t *GnmiTransport) CallTool(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (interface{}, error) {
	gnmiTpl, ok := tpl.(*templates.GnmiCallTemplate)
	if !ok {
		return nil, errors.New("gnmi transport requires a gnmi call template")
	}

	ctx, remaining, err := t.callMetadata(ctx, gnmiTpl, args)
	if err != nil {
		return nil, err
	}

	conn, err := t.dial(ctx, gnmiTpl)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	client := gnmipb.NewGNMIClient(conn)

	switch verb(toolName) {
	case "capabilities":
		resp, err := client.Capabilities(ctx, &gnmipb.CapabilityRequest{})
		if err != nil {
			return nil, err
		}
		return decodeProto(protojson.Marshal(resp))

	case "get":
		var paths []*gnmipb.Path
		switch v := remaining["paths"].(type) {
		case string:
			paths = append(paths, parsePath(v))
		case []interface{}:
			for _, item := range v {
				paths = append(paths, parsePath(cast.ToString(item)))
			}
		case []string:
			for _, item := range v {
				paths = append(paths, parsePath(item))
			}
		default:
			return nil, errors.New("get requires a paths argument")
		}
		resp, err := client.Get(ctx, &gnmipb.GetRequest{Path: paths, Encoding: gnmipb.Encoding_JSON_IETF})
		if err != nil {
			return nil, err
		}
		return decodeProto(protojson.Marshal(resp))

	case "set":
		updatesArg, ok := remaining["updates"].([]interface{})
		if !ok {
			return nil, errors.New("set requires an updates argument")
		}
		var updates []*gnmipb.Update
		for _, item := range updatesArg {
			entry, ok := item.(map[string]interface{})
			if !ok {
				return nil, errors.New("each update must be an object with path and val")
			}
			val, err := typedValue(entry["val"])
			if err != nil {
				return nil, err
			}
			updates = append(updates, &gnmipb.Update{
				Path: parsePath(cast.ToString(entry["path"])),
				Val:  val,
			})
		}
		resp, err := client.Set(ctx, &gnmipb.SetRequest{Update: updates})
		if err != nil {
			return nil, err
		}
		return decodeProto(protojson.Marshal(resp))

	case "subscribe":
		return nil, errors.New("subscribe is only available as a streaming call")

	default:
		return nil, fmt.Errorf("unsupported gnmi operation %q", toolName)
	}
}

// CallToolStream streams subscribe responses; the other verbs yield their
// unary result as a single element.
func (t *GnmiTransport) CallToolStream(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (transports.StreamResult, error) {
	gnmiTpl, ok := tpl.(*templates.GnmiCallTemplate)
	if !ok {
		return nil, errors.New("gnmi transport requires a gnmi call template")
	}

	if verb(toolName) != "subscribe" {
		result, err := t.CallTool(ctx, toolName, args, tpl)
		if err != nil {
			return nil, err
		}
		return transports.NewSliceStreamResult([]interface{}{result}, nil), nil
	}

	ctx, cancel := context.WithCancel(ctx)
	mdCtx, remaining, err := t.callMetadata(ctx, gnmiTpl, args)
	if err != nil {
		cancel()
		return nil, err
	}

	conn, err := t.dial(mdCtx, gnmiTpl)
	if err != nil {
		cancel()
		return nil, err
	}
	client := gnmipb.NewGNMIClient(conn)

	stream, err := client.Subscribe(mdCtx)
	if err != nil {
		cancel()
		conn.Close()
		return nil, err
	}

	listMode := gnmipb.SubscriptionList_STREAM
	switch strings.ToUpper(cast.ToString(remaining["mode"])) {
	case "ONCE":
		listMode = gnmipb.SubscriptionList_ONCE
	case "POLL":
		listMode = gnmipb.SubscriptionList_POLL
	}

	req := &gnmipb.SubscribeRequest{
		Request: &gnmipb.SubscribeRequest_Subscribe{
			Subscribe: &gnmipb.SubscriptionList{
				Mode: listMode,
				Subscription: []*gnmipb.Subscription{{
					Path: parsePath(cast.ToString(remaining["path"])),
				}},
			},
		},
	}
	if err := stream.Send(req); err != nil {
		cancel()
		conn.Close()
		return nil, err
	}

	ch := make(chan interface{}, 16)
	go func() {
		defer func() {
			close(ch)
			cancel()
			conn.Close()
		}()
		for {
			resp, err := stream.Recv()
			if err != nil {
				if err != io.EOF && !errors.Is(err, context.Canceled) {
					select {
					case ch <- err:
					case <-ctx.Done():
					}
				}
				return
			}
			obj, err := decodeProto(protojson.Marshal(resp))
			if err != nil {
				select {
				case ch <- err:
				case <-ctx.Done():
				}
				return
			}
			select {
			case ch <- obj:
			case <-ctx.Done():
				return
			}
		}
	}()

	return transports.NewChannelStreamResult(ch, func() error {
		cancel()
		return nil
	}), nil
}
