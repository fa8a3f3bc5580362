package middleware_test

import (
	"testing"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactor(t *testing.T) {
	r, err := middleware.NewRedactor([]string{"(?i)password", "^tax_id$"})
	require.NoError(t, err)

	payload := map[string]any{
		"name":   "Ana",
		"tax_id": "123-45-6789",
		"login": map[string]any{
			"user":     "ana",
			"Password": "hunter2",
		},
		"contacts": []any{map[string]any{"password_hint": "cat"}},
	}
	masked := r.Payload(payload)

	assert.Equal(t, "Ana", masked["name"])
	assert.Equal(t, middleware.Mask, masked["tax_id"])
	assert.Equal(t, middleware.Mask, masked["login"].(map[string]any)["Password"])
	assert.Equal(t, middleware.Mask, masked["contacts"].([]any)[0].(map[string]any)["password_hint"])

	assert.Equal(t, "123-45-6789", payload["tax_id"], "the input is left untouched")
	assert.Equal(t, "hunter2", payload["login"].(map[string]any)["Password"])

	snap := r.Snapshot(snapshot())
	assert.Equal(t, middleware.Mask, snap.Responses[0].Payload["tax_id"])

	resp := r.Responses(map[string]domain.Response{"x": {Payload: map[string]any{"tax_id": 1}}})
	assert.Equal(t, middleware.Mask, resp["x"].Payload["tax_id"])

	_, err = middleware.NewRedactor([]string{"("})
	assert.Error(t, err)
}
