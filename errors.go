package utcp

import "fmt"

// ManualAlreadyRegisteredError is returned when a manual name is
// registered twice without an intervening deregistration.
type ManualAlreadyRegisteredError struct {
	ManualName string
}

func (e *ManualAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("manual %q is already registered", e.ManualName)
}

// ManualNotFoundError is returned for lookups of unregistered manuals.
type ManualNotFoundError struct {
	ManualName string
}

func (e *ManualNotFoundError) Error() string {
	return fmt.Sprintf("manual %q is not registered", e.ManualName)
}

// ToolNotFoundError is returned for lookups of unknown tools.
type ToolNotFoundError struct {
	ToolName string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q is not registered", e.ToolName)
}

// UnsupportedProtocolError is returned when a template's kind has no
// transport, or a tool's kind is outside the manual's allowed protocols.
type UnsupportedProtocolError struct {
	Protocol string
}

func (e *UnsupportedProtocolError) Error() string {
	return fmt.Sprintf("communication protocol %q is not available", e.Protocol)
}

// InvalidConfigError is returned when client configuration cannot be
// parsed or validated.
type InvalidConfigError struct {
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return "invalid client configuration: " + e.Reason
}
