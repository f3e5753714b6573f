// Package registry holds the actions a host can dispatch on behalf of flows.
//
// A Registry is both a ports.ActionDispatcher and a ports.ActionCatalog: the
// interpreter asks it whether a name exists, and the host loop asks it to run
// the action when a StartAction event comes out of a turn.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/aretw0/guardrail/pkg/schema"
	"github.com/mitchellh/mapstructure"
)

// ActionFunc is the signature of an action implementation. Params arrive in
// JSON-canonical form.
type ActionFunc func(ctx context.Context, params map[string]any) (any, error)

// Action describes a registered action.
type Action struct {
	Name        string
	Description string
	// Params, when set, is checked before every invocation.
	Params schema.Schema
	// Timeout bounds a single invocation. Zero means no limit.
	Timeout time.Duration
	Fn      ActionFunc
}

// Registry manages the available actions.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]Action),
	}
}

// Register adds a bare function under name.
// If an action with the same name exists, it is overwritten.
func (r *Registry) Register(name string, fn ActionFunc) {
	r.Add(Action{Name: name, Fn: fn})
}

// Add registers a fully described action, overwriting any previous one.
func (r *Registry) Add(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.Name] = a
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]
	return ok
}

// Get returns the action registered under name.
func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// Actions returns every registered action ordered by name.
func (r *Registry) Actions() []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Action, 0, len(r.actions))
	for _, a := range r.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke validates params and runs the named action. The result is
// normalized so it can be stored in a session context.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) (any, error) {
	a, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownAction, name)
	}
	if err := schema.Validate(a.Params, params); err != nil {
		return nil, fmt.Errorf("action %s: invalid parameters: %w", name, err)
	}
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}
	res, err := a.Fn(ctx, params)
	if err != nil {
		return nil, err
	}
	return domain.Normalize(res), nil
}

// Typed adapts a function taking a decoded parameter struct. Params are
// decoded with mapstructure, honoring `mapstructure` struct tags.
func Typed[P any, R any](fn func(ctx context.Context, params P) (R, error)) ActionFunc {
	return func(ctx context.Context, raw map[string]any) (any, error) {
		var p P
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &p,
			WeaklyTypedInput: true,
			TagName:          "mapstructure",
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(raw); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
		res, err := fn(ctx, p)
		if err != nil {
			return nil, err
		}
		return res, nil
	}
}
