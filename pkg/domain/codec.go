package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeJSON unmarshals data into v keeping numbers as json.Number, so that
// payloads survive any number of encode/decode cycles unchanged.
func DecodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// CanonicalPayload returns a deep copy of payload in its JSON-normalized form:
// numbers become json.Number, slices become []any and nested maps map[string]any.
func CanonicalPayload(payload map[string]any) (map[string]any, error) {
	if payload == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	out := map[string]any{}
	if err := DecodeJSON(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return out, nil
}

// EncodeSnapshot serializes a snapshot for the recovery cache.
func EncodeSnapshot(s RecoverySnapshot) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSnapshot is the inverse of EncodeSnapshot.
func DecodeSnapshot(data []byte) (RecoverySnapshot, error) {
	var s RecoverySnapshot
	if err := DecodeJSON(data, &s); err != nil {
		return RecoverySnapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return s, nil
}
