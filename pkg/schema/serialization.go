package schema

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// FieldSpec is the long-hand declaration of a field, as found in playbook files:
//
//	plan:
//	  type: enum
//	  values: [basic, pro]
//	  required: false
type FieldSpec struct {
	Type     string         `mapstructure:"type"`
	Required *bool          `mapstructure:"required"`
	Values   []string       `mapstructure:"values"`
	Items    string         `mapstructure:"items"`
	Fields   map[string]any `mapstructure:"fields"`
}

// FromMap builds a Schema from a generic declaration. Each value is either a
// type string ("string", "int?", "[string]", "enum(a|b)"), a FieldSpec map
// (recognized by its "type" key) or a nested map describing an object.
func FromMap(raw map[string]any) (Schema, error) {
	if raw == nil {
		return nil, nil
	}
	result := make(Schema, len(raw))
	for key, value := range raw {
		t, err := parseValue(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		result[key] = t
	}
	return result, nil
}

func parseValue(value any) (Type, error) {
	switch v := value.(type) {
	case string:
		return ParseType(v)
	case map[string]any:
		if _, ok := v["type"]; ok {
			var spec FieldSpec
			if err := mapstructure.Decode(v, &spec); err != nil {
				return nil, fmt.Errorf("invalid field declaration: %w", err)
			}
			return spec.build()
		}
		fields, err := FromMap(v)
		if err != nil {
			return nil, err
		}
		return Object(fields), nil
	default:
		return nil, fmt.Errorf("expected type string or map, got %T", value)
	}
}

func (f FieldSpec) build() (Type, error) {
	var (
		t   Type
		err error
	)
	switch f.Type {
	case "enum":
		if len(f.Values) == 0 {
			return nil, fmt.Errorf("enum requires values")
		}
		t = Enum(f.Values...)
	case "object":
		var fields Schema
		fields, err = FromMap(f.Fields)
		if err != nil {
			return nil, err
		}
		t = Object(fields)
	case "list", "slice":
		if f.Items == "" {
			return nil, fmt.Errorf("%s requires items", f.Type)
		}
		var elem Type
		elem, err = ParseType(f.Items)
		if err != nil {
			return nil, err
		}
		t = Slice(elem)
	default:
		t, err = ParseType(f.Type)
		if err != nil {
			return nil, err
		}
	}
	if f.Required != nil && !*f.Required {
		t = Optional(t)
	}
	return t, nil
}

// toRaw converts a schema back into the generic declaration accepted by FromMap.
func (s Schema) toRaw() (map[string]any, error) {
	raw := make(map[string]any, len(s))
	for key, typ := range s {
		if typ == nil {
			return nil, fmt.Errorf("field %s: type is nil", key)
		}
		v, err := typeToRaw(typ)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		raw[key] = v
	}
	return raw, nil
}

func typeToRaw(t Type) (any, error) {
	switch v := t.(type) {
	case *ObjectType:
		nested, err := v.fields.toRaw()
		if err != nil {
			return nil, err
		}
		if _, clash := v.fields["type"]; clash {
			return map[string]any{"type": "object", "fields": nested}, nil
		}
		return nested, nil
	case *OptionalType:
		if obj, ok := v.elemType.(*ObjectType); ok {
			nested, err := obj.fields.toRaw()
			if err != nil {
				return nil, err
			}
			return map[string]any{"type": "object", "required": false, "fields": nested}, nil
		}
		if _, err := ParseType(v.Name()); err != nil {
			return nil, fmt.Errorf("type %s cannot be serialized", v.Name())
		}
		return v.Name(), nil
	case *CustomType:
		return nil, fmt.Errorf("custom type %q cannot be serialized", v.name)
	default:
		if _, err := ParseType(t.Name()); err != nil {
			return nil, fmt.Errorf("type %s cannot be serialized", t.Name())
		}
		return t.Name(), nil
	}
}

// MarshalJSON serializes the schema as a map of field names to type strings
// (nested objects become nested maps).
func (s Schema) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	raw, err := s.toRaw()
	if err != nil {
		return nil, err
	}
	return json.Marshal(raw)
}

// UnmarshalJSON deserializes the schema from its declaration form.
func (s *Schema) UnmarshalJSON(data []byte) error {
	if s == nil {
		return fmt.Errorf("schema: UnmarshalJSON on nil pointer")
	}

	if string(data) == "null" {
		*s = nil
		return nil
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	parsed, err := FromMap(raw)
	if err != nil {
		return err
	}

	*s = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Schema) MarshalYAML() (any, error) {
	if s == nil {
		return nil, nil
	}
	return s.toRaw()
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Schema) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromMap(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Decode binds a validated payload to a typed struct using mapstructure tags.
// JSON numbers are converted to the target numeric type.
func Decode(data map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(data); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}
