package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestFromMap(t *testing.T) {
	s, err := FromMap(map[string]any{
		"email": "string",
		"tags":  "[string]?",
		"plan": map[string]any{
			"type":     "enum",
			"values":   []any{"basic", "pro"},
			"required": false,
		},
		"seats": map[string]any{"type": "list", "items": "int"},
		"address": map[string]any{
			"city": "string",
			"zip":  "string?",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "string", s["email"].Name())
	assert.Equal(t, "[string]?", s["tags"].Name())
	assert.Equal(t, "enum(basic|pro)?", s["plan"].Name())
	assert.Equal(t, "[int]", s["seats"].Name())
	assert.Equal(t, "{city:string,zip:string?}", s["address"].Name())
	assert.Equal(t, []string{"address", "email", "seats"}, s.Required())
}

func TestFromMap_Errors(t *testing.T) {
	_, err := FromMap(map[string]any{"x": map[string]any{"type": "enum"}})
	assert.Error(t, err)

	_, err = FromMap(map[string]any{"x": 12})
	assert.Error(t, err)

	_, err = FromMap(map[string]any{"x": map[string]any{"type": "list"}})
	assert.Error(t, err)
}

func TestSchemaJSONRoundTrip(t *testing.T) {
	original := Schema{
		"email":   String(),
		"plan":    Optional(Enum("basic", "pro")),
		"profile": Object(Schema{"bio": Optional(String())}),
		"extra":   Optional(Object(Schema{"x": Int()})),
		"kind":    Object(Schema{"type": String()}),
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Schema
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.Len(t, decoded, len(original))
	for k, typ := range original {
		assert.Equal(t, typ.Name(), decoded[k].Name(), k)
	}
}

func TestSchemaJSON_CustomNotSerializable(t *testing.T) {
	_, err := json.Marshal(Schema{"x": Custom("even", func(any) error { return nil })})
	assert.Error(t, err)
}

func TestSchemaYAML(t *testing.T) {
	doc := `
company: string
plan:
  type: enum
  values: [basic, pro]
contacts: "[string]?"
`
	var s Schema
	require.NoError(t, yaml.Unmarshal([]byte(doc), &s))
	assert.Equal(t, "enum(basic|pro)", s["plan"].Name())
	assert.True(t, IsOptional(s["contacts"]))

	out, err := yaml.Marshal(s)
	require.NoError(t, err)

	var again Schema
	require.NoError(t, yaml.Unmarshal(out, &again))
	assert.Equal(t, s["plan"].Name(), again["plan"].Name())
}

func TestDecode(t *testing.T) {
	var target struct {
		Company string   `mapstructure:"company"`
		Seats   int      `mapstructure:"seats"`
		Tags    []string `mapstructure:"tags"`
	}

	err := Decode(map[string]any{
		"company": "Acme",
		"seats":   json.Number("7"),
		"tags":    []any{"a", "b"},
	}, &target)
	require.NoError(t, err)
	assert.Equal(t, "Acme", target.Company)
	assert.Equal(t, 7, target.Seats)
	assert.Equal(t, []string{"a", "b"}, target.Tags)
}
