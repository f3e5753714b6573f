package memory

import (
	"context"
	"sort"
)

// Loader implements ports.SourceLoader using an in-memory map.
type Loader struct {
	units map[string][]byte
}

// NewLoader creates a Loader from named source strings.
func NewLoader(data map[string]string) *Loader {
	units := make(map[string][]byte, len(data))
	for k, v := range data {
		units[k] = []byte(v)
	}
	return &Loader{units: units}
}

// Sources returns a copy of every unit.
func (l *Loader) Sources(ctx context.Context) (map[string][]byte, error) {
	out := make(map[string][]byte, len(l.units))
	for k, v := range l.units {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

// Names returns the unit names in lexical order.
func (l *Loader) Names() []string {
	keys := make([]string, 0, len(l.units))
	for k := range l.units {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
