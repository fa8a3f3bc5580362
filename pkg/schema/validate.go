package schema

import "sort"

// Schema maps the fields of a response payload to their types.
// Fields are required unless wrapped with Optional.
//
//	Schema{"name": String(), "plan": Enum("basic", "pro"), "seats": Optional(Int())}
type Schema map[string]Type

// Fields returns the declared field names, sorted.
func (s Schema) Fields() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Required returns the names of the required fields, sorted.
func (s Schema) Required() []string {
	var out []string
	for _, k := range s.Fields() {
		if !IsOptional(s[k]) {
			out = append(out, k)
		}
	}
	return out
}

// Validate checks a payload against the schema and reports every failing
// field, ordered by name. Keys the schema does not declare are accepted.
// A nil value counts as absent. Failures inside a nested object are reported
// under their dotted path, e.g. "company.name".
func Validate(s Schema, payload map[string]any) error {
	errs := s.check("", payload)
	if len(errs) == 0 {
		return nil
	}
	return &AggregateError{Errors: errs}
}

func (s Schema) check(prefix string, payload map[string]any) []error {
	var errs []error
	for _, name := range s.Fields() {
		typ, path := s[name], prefix+name

		value := payload[name]
		if value == nil {
			if !IsOptional(typ) {
				errs = append(errs, &ValidationError{Key: path, Reason: "required"})
			}
			continue
		}

		if obj, ok := underlying(typ).(*ObjectType); ok {
			if m, ok := value.(map[string]any); ok {
				errs = append(errs, obj.fields.check(path+".", m)...)
				continue
			}
		}
		if err := typ.Validate(value); err != nil {
			errs = append(errs, &ValidationError{Key: path, Reason: err.Error(), Value: value})
		}
	}
	return errs
}

// underlying strips the Optional wrapper.
func underlying(t Type) Type {
	if o, ok := t.(*OptionalType); ok {
		return o.elemType
	}
	return t
}
