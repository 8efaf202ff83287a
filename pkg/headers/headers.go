// Package headers defines the message header set carried on every
// arcnet topic (schema/entity metadata, retry and rejection envelopes,
// dead-letter provenance, trace context) and a small transport-agnostic
// accessor type over it.
package headers

import (
	"time"

	"github.com/arc-pbc-co/arcnet-scheduler/pkg/codec"
)

// Header keys, per the transport contract.
const (
	SchemaVersion     = "arcnet-schema-version"
	EntityType        = "arcnet-entity-type"
	RetryCount        = "arcnet-retry-count"
	OriginalRequestID = "arcnet-original-request-id"
	FirstAttemptAt    = "arcnet-first-attempt-at"
	NextRetryAt       = "arcnet-next-retry-at"
	LastFailureReason = "arcnet-last-failure-reason"
	RejectedAt        = "arcnet-rejected-at"
	TotalRetries      = "arcnet-total-retries"
	RejectionReason   = "arcnet-rejection-reason"
	DispatchedAt      = "arcnet-dispatched-at"
	AssignedNode      = "arcnet-assigned-node"
	RequestID         = "arcnet-request-id"
	OriginalTopic     = "arcnet-original-topic"
	Error             = "arcnet-error"
	TraceParent       = "arcnet-trace-parent"
)

// Headers is a transport-agnostic view of a record's header set.
type Headers map[string][]byte

// New returns an empty header set.
func New() Headers { return make(Headers) }

func (h Headers) Get(key string) ([]byte, bool) {
	v, ok := h[key]
	return v, ok
}

func (h Headers) GetString(key string) (string, bool) {
	v, ok := h[key]
	if !ok {
		return "", false
	}
	return codec.BytesToString(v), true
}

func (h Headers) GetInt32(key string) (int32, bool) {
	v, ok := h[key]
	if !ok {
		return 0, false
	}
	n, err := codec.BytesToInt32BE(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (h Headers) GetTime(key string) (time.Time, bool) {
	s, ok := h.GetString(key)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (h Headers) Set(key string, value []byte) Headers {
	h[key] = value
	return h
}

func (h Headers) SetString(key, value string) Headers {
	return h.Set(key, codec.StringToBytes(value))
}

func (h Headers) SetInt32(key string, value int32) Headers {
	return h.Set(key, codec.Int32BEToBytes(value))
}

func (h Headers) SetTime(key string, value time.Time) Headers {
	return h.SetString(key, value.UTC().Format(time.RFC3339Nano))
}

// Clone returns a shallow copy of h.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
