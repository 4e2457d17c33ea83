// Package schema declares the field types of a resource and conforms
// decoded records to them.
//
// Schemas are hand-written per resource; nothing is inferred from data.
package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/tap-searchstax/pkg/decode"
	"github.com/shopspring/decimal"
)

// Type is a declared field type.
type Type string

const (
	String   Type = "string"
	Boolean  Type = "boolean"
	Integer  Type = "integer"
	Number   Type = "number"
	DateTime Type = "date-time"
	Object   Type = "object"
	Array    Type = "array"
)

// Property is one declared field. Every property is nullable.
type Property struct {
	Name string
	Type Type
}

// Schema is the ordered list of declared fields of a resource.
type Schema struct {
	Properties []Property
}

// New builds a schema from name/type pairs.
func New(props ...Property) Schema {
	return Schema{Properties: props}
}

// Prop is shorthand for Property{Name: name, Type: typ}.
func Prop(name string, typ Type) Property {
	return Property{Name: name, Type: typ}
}

// Empty reports whether the schema declares no fields.
func (s Schema) Empty() bool {
	return len(s.Properties) == 0
}

// Lookup returns the declared type of name.
func (s Schema) Lookup(name string) (Type, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p.Type, true
		}
	}
	return "", false
}

// CoercionError reports a field whose value cannot take its declared type.
type CoercionError struct {
	Field string
	Type  Type
	Value any
}

// Error implements the error interface.
func (e *CoercionError) Error() string {
	return fmt.Sprintf("field %q: cannot convert %T to %s", e.Field, e.Value, e.Type)
}

// Conform returns a new record holding only the declared fields, each
// converted to its declared type. An empty schema returns rec unchanged.
func (s Schema) Conform(rec decode.Record) (decode.Record, error) {
	if s.Empty() {
		return rec, nil
	}

	out := make(decode.Record, len(s.Properties))
	for _, p := range s.Properties {
		v, ok := rec[p.Name]
		if !ok {
			continue
		}
		converted, err := coerce(p.Type, v)
		if err != nil {
			return nil, &CoercionError{Field: p.Name, Type: p.Type, Value: v}
		}
		out[p.Name] = converted
	}
	return out, nil
}

func coerce(typ Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch typ {
	case String:
		switch t := v.(type) {
		case string:
			return t, nil
		case int64:
			return strconv.FormatInt(t, 10), nil
		case decimal.Decimal:
			return t.String(), nil
		case bool:
			return strconv.FormatBool(t), nil
		}

	case Boolean:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(t))
		}

	case Integer:
		switch t := v.(type) {
		case int64:
			return t, nil
		case int:
			return int64(t), nil
		case decimal.Decimal:
			if t.Equal(t.Truncate(0)) {
				return t.IntPart(), nil
			}
		case string:
			return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		}

	case Number:
		switch t := v.(type) {
		case decimal.Decimal:
			return t, nil
		case int64:
			return decimal.New(t, 0), nil
		case int:
			return decimal.New(int64(t), 0), nil
		case string:
			return decimal.NewFromString(strings.TrimSpace(t))
		}

	case DateTime:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			return ParseTime(t)
		}

	case Object:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}

	case Array:
		if a, ok := v.([]any); ok {
			return a, nil
		}
	}

	return nil, fmt.Errorf("unsupported conversion")
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses the timestamp formats the API emits. Values without a
// zone are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// JSONSchema renders the schema as a JSON Schema object.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for _, p := range s.Properties {
		props[p.Name] = jsonType(p.Type)
	}

	out := map[string]any{
		"type":       []string{"null", "object"},
		"properties": props,
	}
	if s.Empty() {
		out["additionalProperties"] = true
	}
	return out
}

func jsonType(t Type) map[string]any {
	switch t {
	case DateTime:
		return map[string]any{"type": []string{"null", "string"}, "format": "date-time"}
	case Object:
		return map[string]any{"type": []string{"null", "object"}, "additionalProperties": true}
	case Array:
		return map[string]any{"type": []string{"null", "array"}, "items": map[string]any{}}
	default:
		return map[string]any{"type": []string{"null", string(t)}}
	}
}
