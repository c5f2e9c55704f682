package utcp

import (
	"context"

	"github.com/universal-tool-calling-protocol/utcp-go/src/tools"
)

// PostProcessor observes and may transform a tool call result before it is
// returned to the caller. Processors run in configuration order.
type PostProcessor interface {
	PostProcess(ctx context.Context, tool *tools.Tool, result interface{}) interface{}
}

// FilterDictPostProcessor removes named keys from every object in the
// result graph, typically to strip noisy or sensitive fields.
type FilterDictPostProcessor struct {
	ExcludeKeys []string `json:"exclude_keys"`
}

func (p *FilterDictPostProcessor) PostProcess(ctx context.Context, tool *tools.Tool, result interface{}) interface{} {
	if len(p.ExcludeKeys) == 0 {
		return result
	}
	excluded := make(map[string]struct{}, len(p.ExcludeKeys))
	for _, k := range p.ExcludeKeys {
		excluded[k] = struct{}{}
	}
	return filterValue(result, excluded)
}

func filterValue(v interface{}, excluded map[string]struct{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			if _, drop := excluded[k]; drop {
				continue
			}
			out[k] = filterValue(item, excluded)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = filterValue(item, excluded)
		}
		return out
	default:
		return val
	}
}

// LimitStringsPostProcessor truncates every string in the result graph to
// MaxLength runes.
type LimitStringsPostProcessor struct {
	MaxLength int `json:"max_length"`
}

func (p *LimitStringsPostProcessor) PostProcess(ctx context.Context, tool *tools.Tool, result interface{}) interface{} {
	if p.MaxLength <= 0 {
		return result
	}
	return limitValue(result, p.MaxLength)
}

func limitValue(v interface{}, max int) interface{} {
	switch val := v.(type) {
	case string:
		runes := []rune(val)
		if len(runes) > max {
			return string(runes[:max])
		}
		return val
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = limitValue(item, max)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = limitValue(item, max)
		}
		return out
	default:
		return val
	}
}
