package prompts

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	// ErrUnknownFunction is returned for a function name the catalog does not define.
	ErrUnknownFunction = errors.New("unknown function")

	// ErrUnknownAction is returned for a module or action the function does not define.
	ErrUnknownAction = errors.New("unknown module or action")
)

// Prompt is a system prompt plus a user prompt template.
type Prompt struct {
	System      string  `yaml:"system"`
	User        string  `yaml:"user"`
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`

	tmpl *template.Template
}

// Render executes the user template against data.
func (p *Prompt) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render user prompt: %w", err)
	}
	return buf.String(), nil
}

// Function groups the prompts served under one /functions/v1 route.
type Function struct {
	DefaultModule string                        `yaml:"default_module"`
	DefaultAction string                        `yaml:"default_action"`
	Modules       map[string]map[string]*Prompt `yaml:"modules"`
}

// Entry identifies one (function, module, action) triple.
type Entry struct {
	Function string
	Module   string
	Action   string
}

// Catalog maps function → module → action → prompt.
type Catalog struct {
	Functions map[string]*Function `yaml:"functions"`
}

// Load reads a catalog from path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(defaultCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML catalog data and compiles every user template.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}
	if len(c.Functions) == 0 {
		return nil, fmt.Errorf("parse prompt catalog: no functions defined")
	}

	for fn, f := range c.Functions {
		if f == nil || len(f.Modules) == 0 {
			return nil, fmt.Errorf("function %q: no modules defined", fn)
		}
		for mod, actions := range f.Modules {
			for act, p := range actions {
				if p == nil {
					return nil, fmt.Errorf("%s/%s/%s: empty prompt", fn, mod, act)
				}
				tmpl, err := template.New(fn + "/" + mod + "/" + act).
					Option("missingkey=zero").
					Funcs(funcs).
					Parse(p.User)
				if err != nil {
					return nil, fmt.Errorf("compile %s/%s/%s: %w", fn, mod, act, err)
				}
				p.tmpl = tmpl
			}
		}
	}
	return &c, nil
}

// Lookup resolves a request to its prompt. Empty module or action fall back
// to the function's defaults; the resolved names are returned.
func (c *Catalog) Lookup(function, module, action string) (*Prompt, Entry, error) {
	f, ok := c.Functions[function]
	if !ok {
		return nil, Entry{}, fmt.Errorf("%q: %w", function, ErrUnknownFunction)
	}

	if module == "" {
		module = f.DefaultModule
	}
	if action == "" {
		action = f.DefaultAction
	}
	entry := Entry{Function: function, Module: module, Action: action}

	actions, ok := f.Modules[module]
	if !ok {
		return nil, entry, fmt.Errorf("module %q: %w", module, ErrUnknownAction)
	}
	p, ok := actions[action]
	if !ok {
		return nil, entry, fmt.Errorf("action %q: %w", action, ErrUnknownAction)
	}
	return p, entry, nil
}

// Entries lists every (function, module, action) triple in sorted order.
func (c *Catalog) Entries() []Entry {
	var out []Entry
	for fn, f := range c.Functions {
		for mod, actions := range f.Modules {
			for act := range actions {
				out = append(out, Entry{Function: fn, Module: mod, Action: act})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Function != out[j].Function {
			return out[i].Function < out[j].Function
		}
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Action < out[j].Action
	})
	return out
}

var funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	},
	"default": func(def, v any) any {
		if v == nil {
			return def
		}
		if s, ok := v.(string); ok && s == "" {
			return def
		}
		return v
	},
	// field reads key from an object and yields nil for any other shape.
	"field": func(v any, key string) any {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		return m[key]
	},
}
