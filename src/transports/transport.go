// Package transports defines the uniform four-method contract every wire
// protocol implements, plus the streaming result primitive shared by all
// of them.
package transports

import (
	"context"
	"fmt"
	"strings"

	"github.com/universal-tool-calling-protocol/utcp-go/src/manual"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
)

// Transport is the protocol contract. RegisterManual never fails for
// protocol-level errors: those are packed into the result's Errors so the
// client can record the template with zero tools.
type Transport interface {
	// RegisterManual performs discovery through the template and returns
	// the manual it describes.
	RegisterManual(ctx context.Context, tpl templates.CallTemplate) *manual.RegisterManualResult

	// DeregisterManual closes any open sessions owned by this manual.
	DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error

	// CallTool invokes a tool and returns its decoded result.
	CallTool(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (interface{}, error)

	// CallToolStream invokes a tool and yields results as they arrive. A
	// transport without native streaming yields exactly one element equal
	// to CallTool's result.
	CallToolStream(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (StreamResult, error)
}

// SecurityViolationError is raised when a template points at an endpoint
// the security gate refuses (plain HTTP off localhost, insecure gNMI off
// loopback).
type SecurityViolationError struct {
	Reason string
}

func (e *SecurityViolationError) Error() string {
	return "security violation: " + e.Reason
}

// CheckSecureURL enforces the HTTP(S)/WS(S) gate: the secure scheme is
// always allowed; the insecure scheme only for loopback hosts.
func CheckSecureURL(rawURL, secureScheme, insecureScheme string) error {
	if strings.HasPrefix(rawURL, secureScheme+"://") {
		return nil
	}
	insecurePrefix := insecureScheme + "://"
	if strings.HasPrefix(rawURL, insecurePrefix+"localhost") ||
		strings.HasPrefix(rawURL, insecurePrefix+"127.0.0.1") {
		return nil
	}
	return &SecurityViolationError{
		Reason: fmt.Sprintf("URL must use %s or point at localhost; got %q", secureScheme, rawURL),
	}
}

// IsLoopbackTarget reports whether a host:port target addresses loopback.
func IsLoopbackTarget(target string) bool {
	host := target
	if idx := strings.LastIndex(target, ":"); idx >= 0 {
		host = target[:idx]
	}
	return host == "localhost" || host == "127.0.0.1" || host == "::1" || host == "[::1]"
}
