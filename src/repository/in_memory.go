package repository

import (
	"context"
	"strings"
	"sync"

	"github.com/universal-tool-calling-protocol/utcp-go/src/manual"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
	"github.com/universal-tool-calling-protocol/utcp-go/src/tools"
)

// InMemoryToolRepository keeps manuals, templates and tools in three maps
// guarded by one reader-writer lock. Writes take the exclusive lock so a
// saved manual's tools appear atomically.
type InMemoryToolRepository struct {
	mu              sync.RWMutex
	manuals         map[string]manual.UtcpManual
	manualTemplates map[string]templates.CallTemplate
	tools           map[string]tools.Tool
}

// NewInMemoryToolRepository constructs an empty repository.
func NewInMemoryToolRepository() *InMemoryToolRepository {
	return &InMemoryToolRepository{
		manuals:         make(map[string]manual.UtcpManual),
		manualTemplates: make(map[string]templates.CallTemplate),
		tools:           make(map[string]tools.Tool),
	}
}

func (r *InMemoryToolRepository) SaveManual(ctx context.Context, tpl templates.CallTemplate, m manual.UtcpManual) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	name := tpl.TemplateName()
	r.mu.Lock()
	defer r.mu.Unlock()

	// Replace everything a previous manual of this name contributed.
	prefix := name + "."
	for toolName := range r.tools {
		if strings.HasPrefix(toolName, prefix) {
			delete(r.tools, toolName)
		}
	}
	r.manuals[name] = m
	r.manualTemplates[name] = tpl
	for _, t := range m.Tools {
		r.tools[t.Name] = t
	}
	return nil
}

func (r *InMemoryToolRepository) RemoveManual(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.manuals[name]; !ok {
		return false, nil
	}
	delete(r.manuals, name)
	delete(r.manualTemplates, name)
	prefix := name + "."
	for toolName := range r.tools {
		if strings.HasPrefix(toolName, prefix) {
			delete(r.tools, toolName)
		}
	}
	return true, nil
}

func (r *InMemoryToolRepository) RemoveTool(ctx context.Context, toolName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[toolName]; !ok {
		return false, nil
	}
	delete(r.tools, toolName)
	return true, nil
}

func (r *InMemoryToolRepository) GetTool(ctx context.Context, toolName string) (*tools.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t, ok := r.tools[toolName]; ok {
		return &t, nil
	}
	return nil, nil
}

func (r *InMemoryToolRepository) GetTools(ctx context.Context) ([]tools.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]tools.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out, nil
}

func (r *InMemoryToolRepository) GetToolsByManual(ctx context.Context, manualName string) ([]tools.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.manuals[manualName]
	if !ok {
		return nil, nil
	}
	out := make([]tools.Tool, len(m.Tools))
	copy(out, m.Tools)
	return out, nil
}

func (r *InMemoryToolRepository) GetManual(ctx context.Context, name string) (*manual.UtcpManual, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.manuals[name]; ok {
		return &m, nil
	}
	return nil, nil
}

func (r *InMemoryToolRepository) GetManuals(ctx context.Context) ([]manual.UtcpManual, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]manual.UtcpManual, 0, len(r.manuals))
	for _, m := range r.manuals {
		out = append(out, m)
	}
	return out, nil
}

func (r *InMemoryToolRepository) GetManualCallTemplate(ctx context.Context, name string) (templates.CallTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.manualTemplates[name], nil
}

func (r *InMemoryToolRepository) GetManualCallTemplates(ctx context.Context) ([]templates.CallTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]templates.CallTemplate, 0, len(r.manualTemplates))
	for _, tpl := range r.manualTemplates {
		out = append(out, tpl)
	}
	return out, nil
}
