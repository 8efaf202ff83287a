// Package schema implements the versioned schema registry: compiled
// JSON Schema documents keyed by (entity_type, version), validated with
// github.com/santhosh-tekuri/jsonschema/v5, with humanized field-path
// error reporting for logs and dead-letter headers.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/arc-pbc-co/arcnet-scheduler/pkg/headers"
)

// Key identifies a registered schema version.
type Key struct {
	EntityType string
	Version    int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/v%d", k.EntityType, k.Version)
}

// FieldError is a single humanized validation failure.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) String() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Error is raised by ValidateOrFail. It carries the schema key and the
// humanized field errors that caused validation to fail.
type Error struct {
	Key    Key
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return fmt.Sprintf("schema validation failed for %s: %s", e.Key, strings.Join(parts, "; "))
}

// Registry holds compiled schemas keyed by (entity_type, version).
type Registry struct {
	schemas map[Key]*jsonschema.Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[Key]*jsonschema.Schema)}
}

// Register compiles schemaJSON and registers it under key. It returns
// an error if the schema document itself does not compile.
func (r *Registry) Register(key Key, schemaJSON string) error {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7

	resourceName := key.String() + ".json"
	if err := compiler.AddResource(resourceName, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("schema: add resource %s: %w", key, err)
	}

	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("schema: compile %s: %w", key, err)
	}

	r.schemas[key] = compiled
	return nil
}

// Versions returns the registered versions for entityType, ascending.
func (r *Registry) Versions(entityType string) []int {
	var versions []int
	for k := range r.schemas {
		if k.EntityType == entityType {
			versions = append(versions, k.Version)
		}
	}
	sort.Ints(versions)
	return versions
}

// Validate checks value (any JSON-marshalable Go value, or a
// map[string]interface{} already decoded from the wire) against the
// schema registered under key. It returns the humanized field errors,
// or nil if value is valid.
func (r *Registry) Validate(key Key, value interface{}) []FieldError {
	compiled, ok := r.schemas[key]
	if !ok {
		return []FieldError{{Reason: fmt.Sprintf("no schema registered for %s", key)}}
	}

	instance, err := toInstance(value)
	if err != nil {
		return []FieldError{{Reason: err.Error()}}
	}

	if err := compiled.Validate(instance); err != nil {
		return humanize(err)
	}
	return nil
}

// ValidateOrFail validates value against key and returns value on
// success, or a *Error on failure.
func (r *Registry) ValidateOrFail(key Key, value interface{}) (interface{}, error) {
	if errs := r.Validate(key, value); len(errs) > 0 {
		return nil, &Error{Key: key, Fields: errs}
	}
	return value, nil
}

// toInstance normalizes value into the plain map/slice/scalar shape
// jsonschema.Schema.Validate expects, round-tripping through JSON when
// value is a typed Go struct.
func toInstance(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		return v, nil
	case []byte:
		var out interface{}
		if err := json.Unmarshal(v, &out); err != nil {
			return nil, fmt.Errorf("schema: decode instance: %w", err)
		}
		return out, nil
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("schema: marshal instance: %w", err)
		}
		var out interface{}
		if err := json.Unmarshal(b, &out); err != nil {
			return nil, fmt.Errorf("schema: decode instance: %w", err)
		}
		return out, nil
	}
}

// humanize walks a jsonschema.ValidationError's basic output into
// (field_path, reason) pairs.
func humanize(err error) []FieldError {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []FieldError{{Reason: err.Error()}}
	}

	basic := ve.BasicOutput()
	var out []FieldError
	for _, e := range basic.Errors {
		// The root "doesn't validate" summary carries no useful field
		// path; the leaf causes underneath it do.
		if e.Error == "" {
			continue
		}
		field := strings.TrimPrefix(e.InstanceLocation, "/")
		field = strings.ReplaceAll(field, "/", ".")
		out = append(out, FieldError{Field: field, Reason: e.Error})
	}
	if len(out) == 0 {
		out = append(out, FieldError{Reason: ve.Error()})
	}
	return out
}

// KeyOf derives the schema key for a message from its headers and
// decoded payload, per the transport contract: headers take
// precedence, falling back to a schema_version field on the payload
// itself. If either entity_type or a schema version cannot be
// determined, ok is false and the message must be treated as raw
// (unvalidated).
func KeyOf(h headers.Headers, payload map[string]interface{}) (Key, bool) {
	entityType, ok := h.GetString(headers.EntityType)
	if !ok {
		return Key{}, false
	}

	if v, ok := h.GetInt32(headers.SchemaVersion); ok {
		return Key{EntityType: entityType, Version: int(v)}, true
	}

	if payload != nil {
		if raw, ok := payload["schema_version"]; ok {
			if f, ok := raw.(float64); ok {
				return Key{EntityType: entityType, Version: int(f)}, true
			}
		}
	}

	return Key{}, false
}
