package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/arc-pbc-co/arcnet-scheduler/pkg/headers"
)

func TestToFromKgoHeaders_RoundTrip(t *testing.T) {
	h := headers.New().
		SetString(headers.EntityType, "InferenceRequest").
		SetInt32(headers.SchemaVersion, 1)

	kgoHeaders := toKgoHeaders(h)
	assert.Len(t, kgoHeaders, 2)

	back := fromKgoHeaders(kgoHeaders)
	entityType, ok := back.GetString(headers.EntityType)
	assert.True(t, ok)
	assert.Equal(t, "InferenceRequest", entityType)

	version, ok := back.GetInt32(headers.SchemaVersion)
	assert.True(t, ok)
	assert.EqualValues(t, 1, version)
}

func TestFromKgoHeaders_Empty(t *testing.T) {
	back := fromKgoHeaders([]kgo.RecordHeader{})
	assert.Empty(t, back)
}
