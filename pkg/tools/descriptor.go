// Package tools holds tool descriptors, the process-scoped tool registry, and
// the lazy per-agent tool loader. Tools are the only way an agent touches
// external data; each tool declares a typed input schema that Stage 2
// validates extracted parameters against.
package tools

import (
	"errors"
	"fmt"
)

// FieldType enumerates the simple types a tool input field may declare.
type FieldType string

// Supported field types.
const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeList    FieldType = "list"
	TypeMap     FieldType = "map"
)

// SideEffect classifies what a tool does to external state.
type SideEffect string

// Side-effect classes.
const (
	SideEffectPure   SideEffect = "pure"
	SideEffectReads  SideEffect = "reads"
	SideEffectWrites SideEffect = "writes"
)

// Field is one named input of a tool schema.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
}

// Descriptor describes a registered tool.
type Descriptor struct {
	ID          string
	AgentID     string // owning agent
	Description string
	SideEffect  SideEffect
	Schema      []Field
}

// Field returns the schema field with the given name.
func (d *Descriptor) Field(name string) (Field, bool) {
	for _, f := range d.Schema {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// SchemaViolationError reports a parameter that does not conform to the
// tool's input schema.
type SchemaViolationError struct {
	ToolID string
	Field  string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("tool %s: field %q: %s", e.ToolID, e.Field, e.Reason)
}

// ValidateParams checks every parameter against the descriptor's schema:
// unknown fields, missing required fields, and type mismatches are
// violations.
func ValidateParams(d *Descriptor, params map[string]any) error {
	for name := range params {
		if _, ok := d.Field(name); !ok {
			return &SchemaViolationError{ToolID: d.ID, Field: name, Reason: "unknown field"}
		}
	}
	for _, f := range d.Schema {
		v, present := params[f.Name]
		if !present {
			if f.Required {
				return &SchemaViolationError{ToolID: d.ID, Field: f.Name, Reason: "required field missing"}
			}
			continue
		}
		if v == nil {
			continue
		}
		if err := checkType(f, v); err != nil {
			return &SchemaViolationError{ToolID: d.ID, Field: f.Name, Reason: err.Error()}
		}
	}
	return nil
}

func checkType(f Field, v any) error {
	switch f.Type {
	case TypeString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
	case TypeInteger:
		switch n := v.(type) {
		case int, int32, int64:
		case float64:
			if n != float64(int64(n)) {
				return fmt.Errorf("expected integer, got fractional number %v", n)
			}
		default:
			return fmt.Errorf("expected integer, got %T", v)
		}
	case TypeNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("expected number, got %T", v)
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
	case TypeList:
		switch v.(type) {
		case []any, []string, []float64, []map[string]any:
		default:
			return fmt.Errorf("expected list, got %T", v)
		}
	case TypeMap:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("expected map, got %T", v)
		}
	default:
		return errors.New("unknown field type")
	}
	return nil
}
