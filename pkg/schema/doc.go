// Package schema provides a type-safe validation system for item responses.
//
// It defines a small type system with built-in types (string, int, float, bool),
// slices, closed enums, nested objects and custom validators. Schemas map field
// names to types; every field is required unless wrapped with Optional, and keys
// not named by the schema are accepted.
//
// Basic usage:
//
//	s := schema.Schema{
//	    "company": schema.String(),
//	    "plan":    schema.Enum("basic", "pro"),
//	    "seats":   schema.Optional(schema.Int()),
//	}
//
//	if err := schema.Validate(s, payload); err != nil {
//	    for _, f := range schema.FieldErrors(err) {
//	        // f.Key, f.Reason
//	    }
//	}
//
// Schemas can be declared in playbook files, either with shorthand strings or
// with long-hand field declarations:
//
//	company: string
//	tags: "[string]?"
//	plan:
//	  type: enum
//	  values: [basic, pro]
//	  required: false
//	address:
//	  city: string
//	  zip: string?
//
// JSON numbers are accepted both as float64 and as json.Number, so payloads
// decoded with UseNumber validate the same way as native Go values.
package schema
