// Package cli implements the local subprocess transport.
package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/universal-tool-calling-protocol/utcp-go/src/json"
	"github.com/universal-tool-calling-protocol/utcp-go/src/manual"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
	"github.com/universal-tool-calling-protocol/utcp-go/src/transports"
)

const (
	discoveryTimeout = 30 * time.Second
	callTimeout      = 60 * time.Second
)

// CliTransport runs tool commands as local subprocesses. Discovery executes
// the template command and parses a manual out of its output; calls
// substitute argument placeholders into each command step.
type CliTransport struct {
	logger func(format string, args ...interface{})
}

// NewCliTransport constructs a CliTransport.
func NewCliTransport(logger func(format string, args ...interface{})) *CliTransport {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &CliTransport{logger: logger}
}

// splitCommand tokenizes a command line with POSIX-style quoting: single
// quotes are literal, double quotes honor backslash escapes.
func splitCommand(line string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inToken := false
	quote := byte(0)

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote == '\'':
			if c == '\'' {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case quote == '"':
			if c == '"' {
				quote = 0
			} else if c == '\\' && i+1 < len(line) {
				i++
				cur.WriteByte(line[i])
			} else {
				cur.WriteByte(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inToken = true
		case c == '\\' && i+1 < len(line):
			i++
			cur.WriteByte(line[i])
			inToken = true
		case c == ' ' || c == '\t':
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteByte(c)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in command %q", line)
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}

func (t *CliTransport) buildCmd(ctx context.Context, command string, tpl *templates.CliCallTemplate, extraEnv map[string]string) (*exec.Cmd, error) {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", command)
	} else {
		tokens, err := splitCommand(command)
		if err != nil {
			return nil, err
		}
		if len(tokens) == 0 {
			return nil, errors.New("empty command")
		}
		cmd = exec.CommandContext(ctx, tokens[0], tokens[1:]...)
	}

	env := os.Environ()
	for k, v := range tpl.EnvVars {
		env = append(env, k+"="+v)
	}
	for k, v := range extraEnv {
		env = append(env, k+"="+v)
	}
	cmd.Env = env
	if tpl.WorkingDir != nil && *tpl.WorkingDir != "" {
		cmd.Dir = *tpl.WorkingDir
	}
	return cmd, nil
}

// runCommand executes one command and returns stdout when the exit code is
// zero, stderr otherwise, along with the exit code.
func (t *CliTransport) runCommand(ctx context.Context, command string, tpl *templates.CliCallTemplate, extraEnv map[string]string) (string, int, error) {
	cmd, err := t.buildCmd(ctx, command, tpl, extraEnv)
	if err != nil {
		return "", -1, err
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return "", -1, fmt.Errorf("running %q: %w", command, runErr)
		}
	}
	if ctx.Err() != nil {
		return "", -1, fmt.Errorf("command %q: %w", command, ctx.Err())
	}

	if exitCode == 0 {
		return stdout.String(), exitCode, nil
	}
	t.logger("[CliTransport] command exited %d, using stderr", exitCode)
	return stderr.String(), exitCode, nil
}

// hasToolList reports whether a decoded object carries a tools array.
// Discovery scripts often emit `{"tools": [...]}` without a utcp_version,
// and the command context leaves no room for the OpenAPI ambiguity the
// HTTP transport has to guard against.
func hasToolList(doc map[string]interface{}) bool {
	_, ok := doc["tools"].([]interface{})
	return ok
}

// extractManual pulls a manual out of command output: whole-output JSON
// first, then a line scan that accepts the first complete manual object or
// aggregates loose tool objects.
func extractManual(output string) (manual.UtcpManual, error) {
	trimmed := strings.TrimSpace(output)

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &doc); err == nil && hasToolList(doc) {
		return manual.FromMap(doc)
	}

	var looseTools []interface{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		if hasToolList(obj) {
			return manual.FromMap(obj)
		}
		if _, hasName := obj["name"]; hasName {
			looseTools = append(looseTools, obj)
		}
	}
	if len(looseTools) > 0 {
		return manual.FromMap(map[string]interface{}{
			"utcp_version": "1.0",
			"tools":        looseTools,
		})
	}
	return manual.UtcpManual{}, errors.New("no manual found in command output")
}

// RegisterManual runs the discovery command and parses the manual from its
// output.
func (t *CliTransport) RegisterManual(ctx context.Context, tpl templates.CallTemplate) *manual.RegisterManualResult {
	cliTpl, ok := tpl.(*templates.CliCallTemplate)
	if !ok {
		return manual.RegisterFailure(tpl, errors.New("cli transport requires a cli call template"))
	}
	steps := cliTpl.Steps()
	if len(steps) == 0 {
		return manual.RegisterFailure(tpl, errors.New("cli call template has no command"))
	}

	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	output, _, err := t.runCommand(ctx, steps[0].Command, cliTpl, nil)
	if err != nil {
		return manual.RegisterFailure(tpl, err)
	}
	m, err := extractManual(output)
	if err != nil {
		return manual.RegisterFailure(tpl, err)
	}
	return manual.RegisterSuccess(tpl, m)
}

// DeregisterManual is a no-op; subprocesses do not outlive calls.
func (t *CliTransport) DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error {
	return nil
}

// substituteArgs replaces UTCP_ARG_<name>_UTCP_END placeholders in a
// command with argument values.
func substituteArgs(command string, args map[string]interface{}) string {
	for k, v := range args {
		placeholder := "UTCP_ARG_" + k + "_UTCP_END"
		if !strings.Contains(command, placeholder) {
			continue
		}
		var rendered string
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			blob, err := json.Marshal(v)
			if err == nil {
				rendered = string(blob)
			} else {
				rendered = cast.ToString(v)
			}
		default:
			rendered = cast.ToString(v)
		}
		command = strings.ReplaceAll(command, placeholder, rendered)
	}
	return command
}

// CallTool runs the template's command steps, feeding earlier outputs to
// later steps as CMD_<i>_OUTPUT environment variables.
func (t *CliTransport) CallTool(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (interface{}, error) {
	cliTpl, ok := tpl.(*templates.CliCallTemplate)
	if !ok {
		return nil, errors.New("cli transport requires a cli call template")
	}
	steps := cliTpl.Steps()
	if len(steps) == 0 {
		return nil, fmt.Errorf("tool %s has no command", toolName)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	stepEnv := map[string]string{}
	var finalParts []string
	for i, step := range steps {
		command := substituteArgs(step.Command, args)
		output, _, err := t.runCommand(ctx, command, cliTpl, stepEnv)
		if err != nil {
			return nil, fmt.Errorf("tool %s step %d: %w", toolName, i, err)
		}
		stepEnv[fmt.Sprintf("CMD_%d_OUTPUT", i)] = output

		appendOut := step.AppendToFinalOutput != nil && *step.AppendToFinalOutput
		lastStep := i == len(steps)-1
		if appendOut || (lastStep && !anyExplicitAppend(steps)) {
			finalParts = append(finalParts, output)
		}
	}

	final := strings.Join(finalParts, "\n")
	trimmed := strings.TrimSpace(final)
	var parsed interface{}
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
		return parsed, nil
	}
	return final, nil
}

func anyExplicitAppend(steps []templates.CommandStep) bool {
	for _, s := range steps {
		if s.AppendToFinalOutput != nil && *s.AppendToFinalOutput {
			return true
		}
	}
	return false
}

// CallToolStream yields exactly one element equal to CallTool's result.
func (t *CliTransport) CallToolStream(ctx context.Context, toolName string, args map[string]interface{}, tpl templates.CallTemplate) (transports.StreamResult, error) {
	result, err := t.CallTool(ctx, toolName, args, tpl)
	if err != nil {
		return nil, err
	}
	return transports.NewSliceStreamResult([]interface{}{result}, nil), nil
}
