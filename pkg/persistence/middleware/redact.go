package middleware

import (
	"fmt"
	"regexp"

	"github.com/aretw0/journey/pkg/domain"
)

// Mask replaces redacted values.
const Mask = "***"

// Redactor masks response fields whose key matches one of its patterns.
// It never touches stored data: it returns masked copies for display and export.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor compiles the key patterns.
func NewRedactor(patterns []string) (*Redactor, error) {
	r := &Redactor{patterns: make([]*regexp.Regexp, len(patterns))}
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns[i] = re
	}
	return r, nil
}

// Payload returns a masked deep copy of payload.
func (r *Redactor) Payload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := deepCopyMap(payload)
	maskMap(out, r.patterns)
	return out
}

// Responses returns masked copies of responses.
func (r *Redactor) Responses(responses map[string]domain.Response) map[string]domain.Response {
	out := make(map[string]domain.Response, len(responses))
	for id, resp := range responses {
		resp.Payload = r.Payload(resp.Payload)
		out[id] = resp
	}
	return out
}

// Snapshot returns a masked copy of s.
func (r *Redactor) Snapshot(s domain.RecoverySnapshot) domain.RecoverySnapshot {
	list := make([]domain.Response, len(s.Responses))
	for i, resp := range s.Responses {
		resp.Payload = r.Payload(resp.Payload)
		list[i] = resp
	}
	s.Responses = list
	return s
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	}
	return v
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		masked := false
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				masked = true
				break
			}
		}
		if masked {
			continue
		}
		maskValue(v, patterns)
	}
}

func maskValue(v any, patterns []*regexp.Regexp) {
	switch t := v.(type) {
	case map[string]any:
		maskMap(t, patterns)
	case []any:
		for _, e := range t {
			maskValue(e, patterns)
		}
	}
}
