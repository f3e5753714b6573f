package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// Type defines the contract for parameter validation.
type Type interface {
	// Name returns the type as written in manifests (e.g. "string", "[int]").
	Name() string
	// Validate checks if a value conforms to this type.
	Validate(value any) error
}

type stringType struct{}

func (stringType) Name() string { return "string" }

func (stringType) Validate(value any) error {
	if _, ok := value.(string); !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	return nil
}

type intType struct{}

func (intType) Name() string { return "int" }

func (intType) Validate(value any) error {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return nil
	case float64:
		if v == float64(int64(v)) {
			return nil
		}
		return fmt.Errorf("expected int, got %v", v)
	default:
		return fmt.Errorf("expected int, got %T", value)
	}
}

type numberType struct{}

func (numberType) Name() string { return "number" }

func (numberType) Validate(value any) error {
	switch value.(type) {
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return nil
	default:
		return fmt.Errorf("expected number, got %T", value)
	}
}

type boolType struct{}

func (boolType) Name() string { return "bool" }

func (boolType) Validate(value any) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("expected bool, got %T", value)
	}
	return nil
}

type objectType struct{}

func (objectType) Name() string { return "object" }

func (objectType) Validate(value any) error {
	if _, ok := value.(map[string]any); !ok {
		return fmt.Errorf("expected object, got %T", value)
	}
	return nil
}

type anyType struct{}

func (anyType) Name() string       { return "any" }
func (anyType) Validate(any) error { return nil }

type listType struct {
	elem Type
}

func (t listType) Name() string { return "[" + t.elem.Name() + "]" }

func (t listType) Validate(value any) error {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return fmt.Errorf("expected list, got %T", value)
	}
	for i := 0; i < rv.Len(); i++ {
		if err := t.elem.Validate(rv.Index(i).Interface()); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// optionalType accepts a missing or null parameter.
type optionalType struct {
	Type
}

func (t optionalType) Name() string { return t.Type.Name() + "?" }

func (t optionalType) Validate(value any) error {
	if value == nil {
		return nil
	}
	return t.Type.Validate(value)
}

type customType struct {
	name     string
	validate func(any) error
}

func (t customType) Name() string             { return t.name }
func (t customType) Validate(value any) error { return t.validate(value) }

func String() Type { return stringType{} }
func Int() Type    { return intType{} }
func Number() Type { return numberType{} }
func Bool() Type   { return boolType{} }
func Object() Type { return objectType{} }
func Any() Type    { return anyType{} }

// List creates a validator for lists whose elements are all of elem.
func List(elem Type) Type { return listType{elem: elem} }

// Optional marks a parameter as not required.
func Optional(t Type) Type {
	if _, ok := t.(optionalType); ok {
		return t
	}
	return optionalType{Type: t}
}

// IsOptional reports whether t accepts a missing value.
func IsOptional(t Type) bool {
	_, ok := t.(optionalType)
	return ok
}

// Custom creates a validator from a function. Custom types cannot be parsed
// from manifests.
func Custom(name string, validate func(any) error) Type {
	return customType{name: name, validate: validate}
}

// ParseType converts a manifest type string to a Type.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "?") {
		inner, err := ParseType(strings.TrimSuffix(s, "?"))
		if err != nil {
			return nil, err
		}
		return Optional(inner), nil
	}
	if len(s) > 2 && s[0] == '[' && s[len(s)-1] == ']' {
		elem, err := ParseType(s[1 : len(s)-1])
		if err != nil {
			return nil, err
		}
		return List(elem), nil
	}
	switch s {
	case "string":
		return String(), nil
	case "int":
		return Int(), nil
	case "number", "float":
		return Number(), nil
	case "bool":
		return Bool(), nil
	case "object", "map":
		return Object(), nil
	case "any":
		return Any(), nil
	}
	return nil, fmt.Errorf("unsupported type: %q", s)
}

// ParseTypeMap converts a map of parameter names to type strings into a Schema.
func ParseTypeMap(typeMap map[string]string) (Schema, error) {
	result := make(Schema, len(typeMap))
	for key, typeStr := range typeMap {
		t, err := ParseType(typeStr)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", key, err)
		}
		result[key] = t
	}
	return result, nil
}
