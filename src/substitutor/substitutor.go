// Package substitutor resolves $VAR / ${VAR} placeholders in arbitrary
// JSON-shaped value graphs against configured variables, pluggable loaders
// and the process environment.
package substitutor

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// variablePattern matches ${NAME} first so the braced form wins, then the
// bare $NAME form terminated by a non-identifier character.
var variablePattern = regexp.MustCompile(`\$\{(\w+)\}|\$(\w+)`)

// VariableNotFoundError is returned when no source yields a value.
type VariableNotFoundError struct {
	VariableName string
}

func (e *VariableNotFoundError) Error() string {
	return fmt.Sprintf(
		"variable %q referenced in call template configuration not found; add it to the environment or the client configuration",
		e.VariableName,
	)
}

// VariableLoader is a pluggable variable source consulted after the
// in-config map and before the process environment.
type VariableLoader interface {
	// Load returns all variables available from this source.
	Load() (map[string]string, error)

	// Get returns one variable or a VariableNotFoundError.
	Get(key string) (string, error)
}

// Substitutor rewrites placeholders in value graphs. It is stateless apart
// from its variable sources and safe for concurrent use.
type Substitutor struct {
	Variables map[string]string
	Loaders   []VariableLoader
}

// New constructs a Substitutor over the given sources.
func New(variables map[string]string, loaders []VariableLoader) *Substitutor {
	if variables == nil {
		variables = map[string]string{}
	}
	return &Substitutor{Variables: variables, Loaders: loaders}
}

// NamespaceVariable returns the manual-scoped lookup key for name: the
// sanitized manual prefix with every underscore doubled, an underscore,
// then the bare name. An empty prefix returns the bare name.
func NamespaceVariable(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return strings.ReplaceAll(prefix, "_", "__") + "_" + name
}

// Resolve looks a bare name up, trying the namespaced key first and
// falling back to the unprefixed name.
func (s *Substitutor) Resolve(name, prefix string) (string, error) {
	if prefix != "" {
		if val, err := s.lookup(NamespaceVariable(prefix, name)); err == nil {
			return val, nil
		}
	}
	return s.lookup(name)
}

func (s *Substitutor) lookup(key string) (string, error) {
	if val, ok := s.Variables[key]; ok {
		return val, nil
	}
	for _, loader := range s.Loaders {
		// a nil error means the loader has the key, even when its value
		// is empty
		if val, err := loader.Get(key); err == nil {
			return val, nil
		}
	}
	if val, ok := os.LookupEnv(key); ok {
		return val, nil
	}
	return "", &VariableNotFoundError{VariableName: key}
}

// Substitute replaces every placeholder in strings reachable through nested
// maps and lists, resolving with the given manual prefix. Substitution is
// single-pass: replacement text is never rescanned. Non-string leaves pass
// through unchanged.
func (s *Substitutor) Substitute(value interface{}, prefix string) (interface{}, error) {
	switch v := value.(type) {
	case string:
		var firstErr error
		out := variablePattern.ReplaceAllStringFunc(v, func(match string) string {
			groups := variablePattern.FindStringSubmatch(match)
			name := groups[1]
			if name == "" {
				name = groups[2]
			}
			resolved, err := s.Resolve(name, prefix)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return match
			}
			return resolved
		})
		if firstErr != nil {
			return nil, firstErr
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			sub, err := s.Substitute(item, prefix)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			sub, err := s.Substitute(item, prefix)
			if err != nil {
				return nil, err
			}
			out[k] = sub
		}
		return out, nil
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, item := range v {
			sub, err := s.Substitute(item, prefix)
			if err != nil {
				return nil, err
			}
			out[k] = sub.(string)
		}
		return out, nil
	default:
		return value, nil
	}
}

// FindRequired walks the value graph and returns every referenced variable
// name after namespacing, without failing on unresolved names. The order
// follows first appearance.
func (s *Substitutor) FindRequired(value interface{}, prefix string) []string {
	seen := map[string]struct{}{}
	var names []string
	s.findRequired(value, prefix, seen, &names)
	return names
}

func (s *Substitutor) findRequired(value interface{}, prefix string, seen map[string]struct{}, names *[]string) {
	switch v := value.(type) {
	case string:
		for _, groups := range variablePattern.FindAllStringSubmatch(v, -1) {
			name := groups[1]
			if name == "" {
				name = groups[2]
			}
			key := NamespaceVariable(prefix, name)
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				*names = append(*names, key)
			}
		}
	case []interface{}:
		for _, item := range v {
			s.findRequired(item, prefix, seen, names)
		}
	case map[string]interface{}:
		for _, item := range v {
			s.findRequired(item, prefix, seen, names)
		}
	case map[string]string:
		for _, item := range v {
			s.findRequired(item, prefix, seen, names)
		}
	}
}
