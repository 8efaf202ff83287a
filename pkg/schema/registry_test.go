package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-pbc-co/arcnet-scheduler/pkg/headers"
)

func newTestRegistry(t *testing.T) *Registry {
	r := NewRegistry()
	RegisterDefaults(r)
	return r
}

func validInferenceRequest() map[string]interface{} {
	return map[string]interface{}{
		"id":                    "550e8400-e29b-41d4-a716-446655440000",
		"model_id":              "llama-3-8b",
		"context_window_tokens": 4096,
		"priority":              "normal",
		"max_latency_ms":        500,
		"requester_geozone":     "us-west",
	}
}

func TestRegistry_Validate_Valid(t *testing.T) {
	r := newTestRegistry(t)
	key := Key{EntityType: EntityInferenceRequest, Version: 1}

	errs := r.Validate(key, validInferenceRequest())
	assert.Empty(t, errs)
}

func TestRegistry_Validate_MissingRequiredField(t *testing.T) {
	r := newTestRegistry(t)
	key := Key{EntityType: EntityInferenceRequest, Version: 1}

	payload := validInferenceRequest()
	delete(payload, "model_id")

	errs := r.Validate(key, payload)
	require.NotEmpty(t, errs)
}

func TestRegistry_Validate_WrongEnumValue(t *testing.T) {
	r := newTestRegistry(t)
	key := Key{EntityType: EntityInferenceRequest, Version: 1}

	payload := validInferenceRequest()
	payload["priority"] = "urgent" // not in the enum

	errs := r.Validate(key, payload)
	require.NotEmpty(t, errs)
}

func TestRegistry_Validate_UnknownSchema(t *testing.T) {
	r := newTestRegistry(t)
	key := Key{EntityType: "Unknown", Version: 99}

	errs := r.Validate(key, validInferenceRequest())
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Reason, "no schema registered")
}

func TestRegistry_ValidateOrFail(t *testing.T) {
	r := newTestRegistry(t)
	key := Key{EntityType: EntityInferenceRequest, Version: 1}

	_, err := r.ValidateOrFail(key, validInferenceRequest())
	require.NoError(t, err)

	payload := validInferenceRequest()
	delete(payload, "id")
	_, err = r.ValidateOrFail(key, payload)
	require.Error(t, err)

	var schemaErr *Error
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, key, schemaErr.Key)
}

func TestRegistry_Versions(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, []int{1, 2}, r.Versions(EntityInferenceRequest))
}

func TestRegistry_V1AndV2BothAcceptV1Payload(t *testing.T) {
	r := newTestRegistry(t)
	payload := validInferenceRequest()

	assert.Empty(t, r.Validate(Key{EntityInferenceRequest, 1}, payload))
	assert.Empty(t, r.Validate(Key{EntityInferenceRequest, 2}, payload))
}

func TestKeyOf(t *testing.T) {
	t.Run("derives from headers", func(t *testing.T) {
		h := headers.New().
			SetString(headers.EntityType, EntityInferenceRequest).
			SetInt32(headers.SchemaVersion, 1)

		key, ok := KeyOf(h, nil)
		require.True(t, ok)
		assert.Equal(t, Key{EntityInferenceRequest, 1}, key)
	})

	t.Run("falls back to payload schema_version", func(t *testing.T) {
		h := headers.New().SetString(headers.EntityType, EntityInferenceRequest)
		payload := map[string]interface{}{"schema_version": float64(2)}

		key, ok := KeyOf(h, payload)
		require.True(t, ok)
		assert.Equal(t, Key{EntityInferenceRequest, 2}, key)
	})

	t.Run("absent entity type means raw, unvalidated", func(t *testing.T) {
		_, ok := KeyOf(headers.New(), map[string]interface{}{"schema_version": float64(1)})
		assert.False(t, ok)
	})

	t.Run("entity type without any derivable version means raw, unvalidated", func(t *testing.T) {
		h := headers.New().SetString(headers.EntityType, EntityInferenceRequest)
		_, ok := KeyOf(h, nil)
		assert.False(t, ok)
	})
}
