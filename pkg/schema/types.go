package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"sort"
	"strings"
)

// Type validates one payload value.
type Type interface {
	// Name is the declaration form of the type, e.g. "int?" or "[string]".
	Name() string
	Validate(value any) error
}

// scalarType covers the four primitive field types.
type scalarType struct {
	name  string
	check func(any) error
}

func (t *scalarType) Name() string             { return t.name }
func (t *scalarType) Validate(value any) error { return t.check(value) }

var (
	stringType = &scalarType{name: "string", check: func(v any) error {
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		return nil
	}}
	intType = &scalarType{name: "int", check: func(v any) error {
		if !isWhole(v) {
			return fmt.Errorf("expected a whole number, got %v (%T)", v, v)
		}
		return nil
	}}
	floatType = &scalarType{name: "float", check: func(v any) error {
		if _, ok := toFloat(v); !ok {
			return fmt.Errorf("expected a number, got %v (%T)", v, v)
		}
		return nil
	}}
	boolType = &scalarType{name: "bool", check: func(v any) error {
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected true or false, got %T", v)
		}
		return nil
	}}
)

// toFloat reads any numeric payload value. Decoders hand numbers over as
// float64, json.Number (strict mode) or a Go integer type.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	}
	return 0, false
}

func isWhole(v any) bool {
	if n, ok := v.(json.Number); ok {
		_, err := n.Int64()
		return err == nil
	}
	f, ok := toFloat(v)
	return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
}

// SliceType validates a list whose elements share one type.
type SliceType struct {
	elemType Type
}

func (t *SliceType) Name() string { return "[" + t.elemType.Name() + "]" }

func (t *SliceType) Validate(value any) error {
	rv := reflect.ValueOf(value)
	if kind := rv.Kind(); kind != reflect.Slice && kind != reflect.Array {
		return fmt.Errorf("expected a list, got %T", value)
	}
	for i := range rv.Len() {
		if err := t.elemType.Validate(rv.Index(i).Interface()); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// Elem returns the element type.
func (t *SliceType) Elem() Type { return t.elemType }

// EnumType accepts strings from a closed set.
type EnumType struct {
	values []string
}

func (t *EnumType) Name() string {
	return "enum(" + strings.Join(t.values, "|") + ")"
}

func (t *EnumType) Validate(value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected one of %v, got %T", t.values, value)
	}
	if !slices.Contains(t.values, s) {
		return fmt.Errorf("value %q is not one of %v", s, t.values)
	}
	return nil
}

// Values returns the allowed values in declaration order.
func (t *EnumType) Values() []string { return slices.Clone(t.values) }

// ObjectType validates a nested map against its own schema.
type ObjectType struct {
	fields Schema
}

func (t *ObjectType) Name() string {
	names := t.fields.Fields()
	for i, k := range names {
		names[i] = k + ":" + t.fields[k].Name()
	}
	return "{" + strings.Join(names, ",") + "}"
}

func (t *ObjectType) Validate(value any) error {
	m, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("expected object, got %T", value)
	}
	return Validate(t.fields, m)
}

// Fields returns the nested schema.
func (t *ObjectType) Fields() Schema { return t.fields }

// OptionalType marks a field that may be absent or nil.
// A present value must still satisfy the wrapped type.
type OptionalType struct {
	elemType Type
}

func (t *OptionalType) Name() string { return t.elemType.Name() + "?" }

func (t *OptionalType) Validate(value any) error {
	if value == nil {
		return nil
	}
	return t.elemType.Validate(value)
}

// Elem returns the wrapped type.
func (t *OptionalType) Elem() Type { return t.elemType }

// CustomType applies a caller supplied check. It is code only and cannot be
// declared in a playbook file.
type CustomType struct {
	name     string
	validate func(any) error
}

func (t *CustomType) Name() string             { return t.name }
func (t *CustomType) Validate(value any) error { return t.validate(value) }

// String accepts text.
func String() Type { return stringType }

// Int accepts whole numbers, including whole float64 and json.Number values.
func Int() Type { return intType }

// Float accepts any number.
func Float() Type { return floatType }

// Bool accepts true and false.
func Bool() Type { return boolType }

// Slice accepts a list of elem.
func Slice(elem Type) Type { return &SliceType{elemType: elem} }

// Enum accepts one of the given strings.
func Enum(values ...string) Type { return &EnumType{values: slices.Clone(values)} }

// Object accepts a nested map matching fields.
func Object(fields Schema) Type { return &ObjectType{fields: fields} }

// Optional lets the field be omitted.
func Optional(t Type) Type {
	if o, ok := t.(*OptionalType); ok {
		return o
	}
	return &OptionalType{elemType: t}
}

// Custom wraps a validation function under name.
func Custom(name string, validate func(any) error) Type {
	return &CustomType{name: name, validate: validate}
}

// IsOptional reports whether a field of type t may be omitted.
func IsOptional(t Type) bool {
	_, ok := t.(*OptionalType)
	return ok
}

var scalars = map[string]Type{
	stringType.name: stringType,
	intType.name:    intType,
	floatType.name:  floatType,
	boolType.name:   boolType,
}

// ParseType reads the declaration form of a type: a scalar name, "[elem]",
// "enum(a|b)", each optionally followed by "?".
func ParseType(decl string) (Type, error) {
	decl = strings.TrimSpace(decl)

	if base, ok := strings.CutSuffix(decl, "?"); ok {
		t, err := ParseType(base)
		if err != nil {
			return nil, err
		}
		return Optional(t), nil
	}

	if inner, ok := strings.CutPrefix(decl, "["); ok && len(inner) > 1 {
		if elem, ok := strings.CutSuffix(inner, "]"); ok {
			t, err := ParseType(elem)
			if err != nil {
				return nil, err
			}
			return Slice(t), nil
		}
	}

	if inner, ok := strings.CutPrefix(decl, "enum("); ok {
		if body, ok := strings.CutSuffix(inner, ")"); ok {
			if strings.TrimSpace(body) == "" {
				return nil, fmt.Errorf("enum requires at least one value")
			}
			values := strings.Split(body, "|")
			for i := range values {
				values[i] = strings.TrimSpace(values[i])
			}
			return Enum(values...), nil
		}
	}

	if t, ok := scalars[decl]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("unsupported type: %q", decl)
}

// ParseTypeMap builds a Schema from field declarations.
// Example: {"name": "string", "seats": "int?"}
func ParseTypeMap(decls map[string]string) (Schema, error) {
	names := make([]string, 0, len(decls))
	for k := range decls {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make(Schema, len(decls))
	for _, name := range names {
		t, err := ParseType(decls[name])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}
