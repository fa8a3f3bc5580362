package schema

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// profile is the schema of an onboarding profile form.
var profile = Schema{
	"name":  String(),
	"plan":  Enum("basic", "pro"),
	"seats": Optional(Int()),
	"price": Optional(Float()),
	"tags":  Optional(Slice(String())),
	"company": Object(Schema{
		"name":    String(),
		"country": Optional(Enum("BR", "PT", "US")),
	}),
}

func failingKeys(err error) []string {
	var out []string
	for _, f := range FieldErrors(err) {
		out = append(out, f.Key)
	}
	return out
}

func TestValidate_Payloads(t *testing.T) {
	valid := func(overrides map[string]any) map[string]any {
		p := map[string]any{
			"name":    "Ana",
			"plan":    "pro",
			"company": map[string]any{"name": "Acme"},
		}
		for k, v := range overrides {
			p[k] = v
		}
		return p
	}

	cases := []struct {
		name    string
		payload map[string]any
		failing []string
	}{
		{name: "minimal", payload: valid(nil)},
		{name: "unknown keys accepted", payload: valid(map[string]any{"referrer": "newsletter", "notes": []any{1, 2}})},
		{name: "json number int", payload: valid(map[string]any{"seats": json.Number("12")})},
		{name: "json number float", payload: valid(map[string]any{"price": json.Number("19.90")})},
		{name: "whole float as int", payload: valid(map[string]any{"seats": float64(3)})},
		{name: "optional nil", payload: valid(map[string]any{"seats": nil, "tags": nil})},
		{name: "string array", payload: valid(map[string]any{"tags": []any{"vip", "emea"}})},
		{name: "nested optional enum", payload: valid(map[string]any{"company": map[string]any{"name": "Acme", "country": "PT"}})},

		{name: "empty payload", payload: map[string]any{}, failing: []string{"company", "name", "plan"}},
		{name: "required nil", payload: valid(map[string]any{"name": nil}), failing: []string{"name"}},
		{name: "enum outside set", payload: valid(map[string]any{"plan": "enterprise"}), failing: []string{"plan"}},
		{name: "fractional int", payload: valid(map[string]any{"seats": json.Number("2.5")}), failing: []string{"seats"}},
		{name: "array element type", payload: valid(map[string]any{"tags": []any{"vip", 7}}), failing: []string{"tags"}},
		{name: "array expected", payload: valid(map[string]any{"tags": "vip"}), failing: []string{"tags"}},
		{name: "nested missing field", payload: valid(map[string]any{"company": map[string]any{}}), failing: []string{"company.name"}},
		{name: "nested enum outside set", payload: valid(map[string]any{"company": map[string]any{"name": "Acme", "country": "FR"}}), failing: []string{"company.country"}},
		{name: "object expected", payload: valid(map[string]any{"company": "Acme"}), failing: []string{"company"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(profile, tc.payload)
			if len(tc.failing) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.failing, failingKeys(err))
		})
	}
}

func TestValidate_NestedObjects(t *testing.T) {
	s := Schema{
		"billing": Optional(Object(Schema{
			"address": Object(Schema{
				"city": String(),
				"zip":  Optional(String()),
			}),
		})),
	}

	assert.NoError(t, Validate(s, map[string]any{}))
	assert.NoError(t, Validate(s, map[string]any{
		"billing": map[string]any{"address": map[string]any{"city": "Lisboa"}},
	}))

	err := Validate(s, map[string]any{
		"billing": map[string]any{"address": map[string]any{"city": 1, "zip": 2}},
	})
	fields := FieldErrors(err)
	require.Len(t, fields, 2)
	assert.Equal(t, "billing.address.city", fields[0].Key)
	assert.Equal(t, 1, fields[0].Value)
	assert.Equal(t, "billing.address.zip", fields[1].Key)
}

func TestValidate_EmptySchemaAcceptsAnything(t *testing.T) {
	assert.NoError(t, Validate(nil, map[string]any{"anything": true}))
	assert.NoError(t, Validate(Schema{}, nil))
}

func TestValidate_NilPayload(t *testing.T) {
	err := Validate(Schema{"seen": Bool(), "note": Optional(String())}, nil)
	assert.Equal(t, []string{"seen"}, failingKeys(err))
}

func TestAggregateError(t *testing.T) {
	err := Validate(profile, map[string]any{"plan": "gold"})
	require.Error(t, err)

	assert.Len(t, ValidationErrors(err), 3)
	assert.True(t, strings.HasPrefix(err.Error(), "3 validation errors:"))
	assert.Contains(t, err.Error(), `field "plan": value "gold" is not one of [basic pro] (got string)`)
	assert.Contains(t, err.Error(), `field "name": required`)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve, "aggregate unwraps to its fields")
	assert.Equal(t, "company", ve.Key)

	single := Validate(Schema{"name": String()}, map[string]any{})
	assert.Equal(t, `field "name": required`, single.Error())
}

func TestFieldErrors_NotAValidationFailure(t *testing.T) {
	assert.Nil(t, FieldErrors(assert.AnError))
	assert.Nil(t, ValidationErrors(assert.AnError))

	wrapped := &ValidationError{Key: "seats", Reason: "too many"}
	fields := FieldErrors(wrapped)
	require.Len(t, fields, 1)
	assert.Equal(t, "seats", fields[0].Key)
}

func TestSchema_RequiredAndFields(t *testing.T) {
	assert.Equal(t, []string{"company", "name", "plan"}, profile.Required())
	assert.Equal(t, []string{"company", "name", "plan", "price", "seats", "tags"}, profile.Fields())
	assert.Empty(t, Schema{"note": Optional(String())}.Required())
}
