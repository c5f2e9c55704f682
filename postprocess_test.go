package utcp

import (
	"context"
	"reflect"
	"testing"
)

func TestFilterDictRemovesKeysRecursively(t *testing.T) {
	p := &FilterDictPostProcessor{ExcludeKeys: []string{"debug", "internal"}}
	in := map[string]interface{}{
		"value": 1,
		"debug": "noisy",
		"nested": []interface{}{
			map[string]interface{}{"internal": true, "kept": "yes"},
		},
	}

	got := p.PostProcess(context.Background(), nil, in)
	want := map[string]interface{}{
		"value": 1,
		"nested": []interface{}{
			map[string]interface{}{"kept": "yes"},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("filter wrong: %#v", got)
	}
}

func TestFilterDictNoKeysIsIdentity(t *testing.T) {
	p := &FilterDictPostProcessor{}
	in := map[string]interface{}{"a": 1}
	if got := p.PostProcess(context.Background(), nil, in); !reflect.DeepEqual(got, in) {
		t.Fatalf("empty filter must not change the result: %#v", got)
	}
}

func TestLimitStringsTruncatesByRune(t *testing.T) {
	p := &LimitStringsPostProcessor{MaxLength: 3}
	in := map[string]interface{}{
		"ascii":   "abcdef",
		"unicode": "åäöxyz",
		"short":   "ok",
		"items":   []interface{}{"longer string"},
		"number":  42,
	}

	got := p.PostProcess(context.Background(), nil, in).(map[string]interface{})
	if got["ascii"] != "abc" || got["unicode"] != "åäö" || got["short"] != "ok" {
		t.Fatalf("truncation wrong: %#v", got)
	}
	if got["items"].([]interface{})[0] != "lon" {
		t.Fatalf("list element not truncated: %#v", got["items"])
	}
	if got["number"] != 42 {
		t.Fatalf("non-string changed: %#v", got["number"])
	}
}
