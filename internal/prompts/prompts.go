// Package prompts loads the layered prompt templates used by agents, subagents
// and ETL stages, and renders them with runtime variables.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Prompt layers.
const (
	LayerAegis    = "aegis"
	LayerGlobal   = "global"
	LayerAgent    = "agent"
	LayerSubagent = "subagent"
	LayerETL      = "etl"
)

// ErrNotFound is returned when no store has the requested prompt.
var ErrNotFound = errors.New("prompt not found")

// Prompt is one versioned template.
type Prompt struct {
	Layer          string `yaml:"layer"`
	Name           string `yaml:"name"`
	Version        string `yaml:"version"`
	SystemPrompt   string `yaml:"system_prompt"`
	UserPrompt     string `yaml:"user_prompt"`
	ToolDefinition string `yaml:"tool_definition"`
}

// Store looks up prompts by layer and name.
type Store interface {
	Get(ctx context.Context, layer, name string) (*Prompt, error)
}

// FallbackStore tries each store in order and returns the first hit.
type FallbackStore struct {
	Stores []Store
}

// NewFallbackStore chains stores; nil entries are skipped.
func NewFallbackStore(stores ...Store) *FallbackStore {
	fs := &FallbackStore{}
	for _, s := range stores {
		if s != nil {
			fs.Stores = append(fs.Stores, s)
		}
	}
	return fs
}

// Get implements Store. Store errors other than ErrNotFound are remembered and
// returned only when no later store has the prompt.
func (f *FallbackStore) Get(ctx context.Context, layer, name string) (*Prompt, error) {
	var lastErr error
	for _, s := range f.Stores {
		p, err := s.Get(ctx, layer, name)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNotFound) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("FallbackStore.Get %s/%s: %w", layer, name, lastErr)
	}
	return nil, fmt.Errorf("FallbackStore.Get %s/%s: %w", layer, name, ErrNotFound)
}

var placeholder = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Render replaces {name} placeholders with vars. Unknown placeholders, and
// braces that are not placeholders such as JSON examples, are left untouched.
func Render(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		if v, ok := vars[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// BuildSystemPrompt joins non-empty parts with blank lines.
func BuildSystemPrompt(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

// Loader assembles full system prompts from a Store.
type Loader struct {
	store Store
	now   func() time.Time
}

// NewLoader creates a loader over store.
func NewLoader(store Store) *Loader {
	return &Loader{store: store, now: time.Now}
}

// System returns the rendered system prompt for layer/name, prefixed by the
// aegis context and the global fiscal and project context. vars is extended
// with fiscal_context before rendering.
func (l *Loader) System(ctx context.Context, layer, name string, vars map[string]string) (string, error) {
	p, err := l.store.Get(ctx, layer, name)
	if err != nil {
		return "", err
	}

	all := map[string]string{"fiscal_context": FiscalContext(l.now())}
	for k, v := range vars {
		all[k] = v
	}

	parts := []string{}
	for _, g := range []struct{ layer, name string }{
		{LayerAegis, "context"},
		{LayerGlobal, "fiscal"},
		{LayerGlobal, "project"},
	} {
		gp, err := l.store.Get(ctx, g.layer, g.name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, Render(gp.SystemPrompt, all))
	}
	parts = append(parts, Render(p.SystemPrompt, all))
	return BuildSystemPrompt(parts...), nil
}

// Template returns the raw prompt for layer/name.
func (l *Loader) Template(ctx context.Context, layer, name string) (*Prompt, error) {
	return l.store.Get(ctx, layer, name)
}
