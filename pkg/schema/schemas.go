package schema

// Entity type names used as the EntityType half of a Key, matching the
// arcnet-entity-type header value.
const (
	EntityInferenceRequest = "InferenceRequest"
	EntityDispatchCommand  = "DispatchCommand"
	EntityNodeTelemetry    = "NodeTelemetry"
)

const inferenceRequestV1 = `{
  "type": "object",
  "required": ["id", "model_id", "context_window_tokens", "priority", "max_latency_ms", "requester_geozone"],
  "properties": {
    "id": {"type": "string", "format": "uuid"},
    "model_id": {"type": "string", "minLength": 1},
    "context_window_tokens": {"type": "integer", "exclusiveMinimum": 0},
    "priority": {"type": "string", "enum": ["critical", "normal", "background"]},
    "max_latency_ms": {"type": "integer", "exclusiveMinimum": 0},
    "requester_geozone": {"type": "string", "minLength": 1}
  }
}`

// v2 adds an optional context_window_tokens upper bound and an
// optional explicit schema_version field; every v1 field remains
// required so v1 payloads also validate under the v2 key.
const inferenceRequestV2 = `{
  "type": "object",
  "required": ["id", "model_id", "context_window_tokens", "priority", "max_latency_ms", "requester_geozone"],
  "properties": {
    "schema_version": {"type": "integer"},
    "id": {"type": "string", "format": "uuid"},
    "model_id": {"type": "string", "minLength": 1},
    "context_window_tokens": {"type": "integer", "exclusiveMinimum": 0, "maximum": 2000000},
    "priority": {"type": "string", "enum": ["critical", "normal", "background"]},
    "max_latency_ms": {"type": "integer", "exclusiveMinimum": 0},
    "requester_geozone": {"type": "string", "minLength": 1}
  }
}`

const dispatchCommandV1 = `{
  "type": "object",
  "required": ["id", "type", "timestamp", "request_id", "node_id", "node_geohash", "model_id", "priority", "max_latency_ms", "context_window_tokens", "schema_version"],
  "properties": {
    "id": {"type": "string", "format": "uuid"},
    "type": {"const": "inference-dispatch"},
    "timestamp": {"type": "string"},
    "request_id": {"type": "string", "format": "uuid"},
    "node_id": {"type": "string", "format": "uuid"},
    "node_geohash": {"type": "string", "minLength": 6, "maxLength": 6},
    "model_id": {"type": "string", "minLength": 1},
    "priority": {"type": "string", "enum": ["critical", "normal", "background"]},
    "max_latency_ms": {"type": "integer", "exclusiveMinimum": 0},
    "context_window_tokens": {"type": "integer", "exclusiveMinimum": 0},
    "schema_version": {"type": "integer"}
  }
}`

const nodeTelemetryV1 = `{
  "type": "object",
  "required": ["node_id", "name", "geozone", "geohash", "energy_source", "battery_level", "gpu_utilization", "gpu_memory_free_gb", "gpu_count", "gpu_memory_total_gb", "models_loaded", "last_seen"],
  "properties": {
    "schema_version": {"type": "integer"},
    "node_id": {"type": "string", "format": "uuid"},
    "name": {"type": "string"},
    "geozone": {"type": "string", "minLength": 1},
    "geohash": {"type": "string", "minLength": 6, "maxLength": 6},
    "energy_source": {"type": "string", "enum": ["solar", "grid", "battery"]},
    "battery_level": {"type": "number", "minimum": 0, "maximum": 1},
    "gpu_utilization": {"type": "number", "minimum": 0, "maximum": 1},
    "gpu_memory_free_gb": {"type": "number", "minimum": 0},
    "gpu_count": {"type": "integer", "exclusiveMinimum": 0},
    "gpu_memory_total_gb": {"type": "number", "minimum": 0},
    "models_loaded": {"type": "array", "items": {"type": "string"}},
    "last_seen": {"type": "string"}
  }
}`

// RegisterDefaults registers every schema version the scheduler
// recognizes, per the data model in the spec. It panics on a schema
// compile failure since these are fixed, build-time documents — a
// failure here is a programming error, not a runtime condition.
func RegisterDefaults(r *Registry) {
	mustRegister(r, Key{EntityInferenceRequest, 1}, inferenceRequestV1)
	mustRegister(r, Key{EntityInferenceRequest, 2}, inferenceRequestV2)
	mustRegister(r, Key{EntityDispatchCommand, 1}, dispatchCommandV1)
	mustRegister(r, Key{EntityNodeTelemetry, 1}, nodeTelemetryV1)
}

func mustRegister(r *Registry, key Key, schemaJSON string) {
	if err := r.Register(key, schemaJSON); err != nil {
		panic(err)
	}
}
