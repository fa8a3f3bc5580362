package schema

import (
	"errors"
	"fmt"
)

// ValidationError is one payload field that failed its declared type.
// Key is the dotted path of the field; Value is nil when the field was missing.
type ValidationError struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
	Value  any    `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("field %q: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("field %q: %s (got %T)", e.Key, e.Reason, e.Value)
}

// AggregateError carries every field failure of one payload.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		msg += fmt.Sprintf("  %d. %s\n", i+1, err.Error())
	}
	return msg
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// ValidationErrors unpacks an AggregateError; any other error yields nil.
func ValidationErrors(err error) []error {
	var aggr *AggregateError
	if errors.As(err, &aggr) {
		return aggr.Errors
	}
	return nil
}

// FieldErrors returns the field-level failures contained in err.
func FieldErrors(err error) []*ValidationError {
	var out []*ValidationError
	for _, e := range ValidationErrors(err) {
		var ve *ValidationError
		if errors.As(e, &ve) {
			out = append(out, ve)
		}
	}
	if out == nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			out = append(out, ve)
		}
	}
	return out
}
