package command

import (
	"fmt"
	"math"
)

// Parameter types a schema field may declare.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

// Reserved wire keys. They address the envelope, not the command, so no
// schema may declare a field with one of these names.
const (
	FieldPrincipal = "principal"
	FieldCommand   = "command"
)

// Field describes a single command parameter.
type Field struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// Schema is the ordered parameter list a command accepts.
type Schema []Field

// check validates the schema definition itself. Called at registration.
func (s Schema) check() error {
	seen := make(map[string]bool, len(s))
	for _, f := range s {
		if f.Name == "" {
			return fmt.Errorf("schema field with empty name")
		}
		if f.Name == FieldPrincipal || f.Name == FieldCommand {
			return fmt.Errorf("schema field %q shadows a reserved request key", f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema field %q declared twice", f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case TypeString, TypeInteger, TypeNumber, TypeBoolean:
		default:
			return fmt.Errorf("schema field %q has unknown type %q", f.Name, f.Type)
		}
	}
	return nil
}

// Validate checks params against the schema and returns the coerced
// parameter map. Required fields must be present, present fields must
// match their declared type, and parameters the schema does not declare
// are dropped.
func (s Schema) Validate(params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(s))
	for _, f := range s {
		raw, ok := params[f.Name]
		if !ok {
			if f.Required {
				return nil, &ValidationError{Field: f.Name, Reason: "required parameter missing"}
			}
			continue
		}
		v, err := coerce(raw, f.Type)
		if err != nil {
			return nil, &ValidationError{Field: f.Name, Reason: err.Error()}
		}
		out[f.Name] = v
	}
	return out, nil
}

// coerce converts a JSON-decoded value to the canonical Go form of the
// declared type. JSON numbers arrive as float64, so integer fields accept
// any float64 with an integral value.
func coerce(v any, typ string) (any, error) {
	switch typ {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case TypeInteger:
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("expected integer, got %v", n)
			}
			return int(n), nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", v)
		}
	case TypeNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		default:
			return nil, fmt.Errorf("expected number, got %T", v)
		}
	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", v)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown type %q", typ)
	}
}
