package registry

import (
	"fmt"
	"time"

	"github.com/aretw0/guardrail/pkg/schema"
	"gopkg.in/yaml.v3"
)

// Manifest is the declarative list of actions a deployment exposes,
// usually read from actions.yaml.
type Manifest struct {
	Actions []Spec `yaml:"actions"`
}

// Spec declares one action. Kind selects the Factory that builds it and
// Config is handed to that factory untouched.
type Spec struct {
	Name        string         `yaml:"name"`
	Kind        string         `yaml:"kind"`
	Description string         `yaml:"description"`
	Params      schema.Schema  `yaml:"params"`
	Timeout     string         `yaml:"timeout"`
	Config      map[string]any `yaml:"config"`
}

// Factory turns a Spec into an implementation.
type Factory func(spec Spec) (ActionFunc, error)

// ParseManifest decodes a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse action manifest: %w", err)
	}
	seen := map[string]bool{}
	for i, s := range m.Actions {
		if s.Name == "" {
			return nil, fmt.Errorf("action manifest: entry %d has no name", i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("action manifest: duplicate action %q", s.Name)
		}
		seen[s.Name] = true
	}
	return &m, nil
}

// Build registers every action of the manifest using the factory named by its kind.
func (r *Registry) Build(m *Manifest, factories map[string]Factory) error {
	for _, spec := range m.Actions {
		factory, ok := factories[spec.Kind]
		if !ok {
			return fmt.Errorf("action %s: unknown kind %q", spec.Name, spec.Kind)
		}
		var timeout time.Duration
		if spec.Timeout != "" {
			d, err := time.ParseDuration(spec.Timeout)
			if err != nil {
				return fmt.Errorf("action %s: invalid timeout: %w", spec.Name, err)
			}
			timeout = d
		}
		fn, err := factory(spec)
		if err != nil {
			return fmt.Errorf("action %s: %w", spec.Name, err)
		}
		r.Add(Action{
			Name:        spec.Name,
			Description: spec.Description,
			Params:      spec.Params,
			Timeout:     timeout,
			Fn:          fn,
		})
	}
	return nil
}
