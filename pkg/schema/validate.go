package schema

import "sort"

// Schema maps parameter names to their expected types.
type Schema map[string]Type

// Names returns the parameter names in lexical order.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks params against the schema and reports every failure, in
// parameter-name order. Parameters the schema does not mention are allowed
// unless strict is set.
func Validate(s Schema, params map[string]any) error {
	return validate(s, params, false)
}

// ValidateStrict is Validate that also rejects undeclared parameters.
func ValidateStrict(s Schema, params map[string]any) error {
	return validate(s, params, true)
}

func validate(s Schema, params map[string]any, strict bool) error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, name := range s.Names() {
		t := s[name]
		value, ok := params[name]
		if !ok && !IsOptional(t) {
			errs = append(errs, &ValidationError{Key: name, Reason: "required"})
			continue
		}
		if err := t.Validate(value); err != nil {
			errs = append(errs, &ValidationError{Key: name, Reason: err.Error(), Value: value})
		}
	}
	if strict {
		extra := make([]string, 0)
		for name := range params {
			if _, ok := s[name]; !ok {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		for _, name := range extra {
			errs = append(errs, &ValidationError{Key: name, Reason: "not declared", Value: params[name]})
		}
	}
	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}
