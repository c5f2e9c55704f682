package substitutor

import (
	"errors"
	"reflect"
	"testing"
)

func TestSubstituteWithNamespacePrefix(t *testing.T) {
	s := New(map[string]string{
		"api__v1_BASE": "https://ex.example",
		"api__v1_KEY":  "secret",
	}, nil)

	got, err := s.Substitute("$BASE/x", "api_v1")
	if err != nil {
		t.Fatalf("substitute failed: %v", err)
	}
	if got != "https://ex.example/x" {
		t.Fatalf("expected namespaced base url, got %v", got)
	}

	got, err = s.Substitute("${KEY}", "api_v1")
	if err != nil {
		t.Fatalf("substitute failed: %v", err)
	}
	if got != "secret" {
		t.Fatalf("expected namespaced key, got %v", got)
	}
}

func TestSubstituteFallsBackToBareName(t *testing.T) {
	s := New(map[string]string{"TOKEN": "t0k"}, nil)
	got, err := s.Substitute("$TOKEN", "some_manual")
	if err != nil {
		t.Fatalf("substitute failed: %v", err)
	}
	if got != "t0k" {
		t.Fatalf("expected fallback to bare name, got %v", got)
	}
}

func TestSubstitutePreservesShapeAndNonStrings(t *testing.T) {
	s := New(map[string]string{"NAME": "world"}, nil)
	in := map[string]interface{}{
		"greeting": "hello $NAME",
		"count":    float64(3),
		"flag":     true,
		"nested":   []interface{}{"${NAME}", float64(1)},
	}
	got, err := s.Substitute(in, "")
	if err != nil {
		t.Fatalf("substitute failed: %v", err)
	}
	want := map[string]interface{}{
		"greeting": "hello world",
		"count":    float64(3),
		"flag":     true,
		"nested":   []interface{}{"world", float64(1)},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestSubstituteNoVariablesIsIdentity(t *testing.T) {
	s := New(nil, nil)
	got, err := s.Substitute("plain text without refs", "")
	if err != nil {
		t.Fatalf("substitute failed: %v", err)
	}
	if got != "plain text without refs" {
		t.Fatalf("expected identity, got %v", got)
	}
}

func TestSubstituteUnknownVariable(t *testing.T) {
	s := New(nil, nil)
	_, err := s.Substitute("$MISSING_THING", "")
	var notFound *VariableNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected VariableNotFoundError, got %v", err)
	}
	if notFound.VariableName != "MISSING_THING" {
		t.Fatalf("wrong variable in error: %s", notFound.VariableName)
	}
}

type mapLoader map[string]string

func (l mapLoader) Load() (map[string]string, error) { return l, nil }

func (l mapLoader) Get(key string) (string, error) {
	if val, ok := l[key]; ok {
		return val, nil
	}
	return "", &VariableNotFoundError{VariableName: key}
}

func TestSubstituteEmptyLoaderValue(t *testing.T) {
	s := New(nil, []VariableLoader{mapLoader{"SUFFIX": ""}})
	got, err := s.Substitute("base$SUFFIX", "")
	if err != nil {
		t.Fatalf("set-but-empty loader value must resolve: %v", err)
	}
	if got != "base" {
		t.Fatalf("expected empty expansion, got %v", got)
	}
}

func TestSubstituteEmptyEnvValue(t *testing.T) {
	t.Setenv("EMPTY_ENV_SETTING", "")
	s := New(nil, nil)
	got, err := s.Substitute("x${EMPTY_ENV_SETTING}y", "")
	if err != nil {
		t.Fatalf("set-but-empty env value must resolve: %v", err)
	}
	if got != "xy" {
		t.Fatalf("expected empty expansion, got %v", got)
	}
}

func TestFindRequiredOrderAndDedup(t *testing.T) {
	s := New(nil, nil)
	in := map[string]interface{}{
		"url": "$BASE/$PATH",
		"hdr": []interface{}{"${BASE}", "$TOKEN"},
	}
	got := s.FindRequired(in["url"], "m")
	if !reflect.DeepEqual(got, []string{"m_BASE", "m_PATH"}) {
		t.Fatalf("unexpected required vars: %v", got)
	}

	all := s.FindRequired(in, "m")
	if len(all) != 3 {
		t.Fatalf("expected 3 distinct vars, got %v", all)
	}
}

func TestNamespaceVariableDoublesUnderscores(t *testing.T) {
	if got := NamespaceVariable("api_v1", "BASE"); got != "api__v1_BASE" {
		t.Fatalf("got %s", got)
	}
	if got := NamespaceVariable("", "BASE"); got != "BASE" {
		t.Fatalf("got %s", got)
	}
}
