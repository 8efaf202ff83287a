// Package types holds the wire-level data model shared by the codec,
// schema registry, state mirror, and scheduler: node documents,
// inference requests, dispatch commands, and the retry/rejected
// envelopes carried in message headers.
package types

import (
	"time"

	"github.com/google/uuid"
)

// EnergySource is the power source reported by a node.
type EnergySource string

const (
	EnergySolar   EnergySource = "solar"
	EnergyGrid    EnergySource = "grid"
	EnergyBattery EnergySource = "battery"
)

// Priority is a per-request scheduling hint. It is never used to
// reorder requests across geozones; it is carried through to the
// dispatch command for downstream use.
type Priority string

const (
	PriorityCritical   Priority = "critical"
	PriorityNormal     Priority = "normal"
	PriorityBackground Priority = "background"
)

// Reservation is an exclusive, TTL-bounded claim on a node by a
// specific request. A Reservation is active iff ExpiresAt is after
// the evaluation time; an expired reservation is treated as absent.
type Reservation struct {
	RequestID uuid.UUID `json:"request_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Active reports whether the reservation has not yet expired as of now.
func (r *Reservation) Active(now time.Time) bool {
	return r != nil && now.Before(r.ExpiresAt)
}

// Node is the state mirror's projection of a single physical node,
// built up from telemetry records.
type Node struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Geozone  string    `json:"geozone"`
	Geohash  string    `json:"geohash"`

	EnergySource EnergySource `json:"energy_source"`
	BatteryLevel float64      `json:"battery_level"`

	GPUUtilization   float64 `json:"gpu_utilization"`
	GPUMemoryFreeGB  float64 `json:"gpu_memory_free_gb"`
	GPUCount         int     `json:"gpu_count"`
	GPUMemoryTotalGB float64 `json:"gpu_memory_total_gb"`

	ModelsLoaded map[string]struct{} `json:"-"`

	LastSeen time.Time `json:"last_seen"`

	Reservation *Reservation `json:"reservation,omitempty"`
}

// HasModel reports whether the node has modelID loaded.
func (n *Node) HasModel(modelID string) bool {
	if n.ModelsLoaded == nil {
		return false
	}
	_, ok := n.ModelsLoaded[modelID]
	return ok
}

// Stale reports whether the node's telemetry is older than threshold
// as of now.
func (n *Node) Stale(now time.Time, threshold time.Duration) bool {
	return now.Sub(n.LastSeen) > threshold
}

// NodeTelemetry is the payload of a telemetry record on
// arc.telemetry.node: a single node's self-reported status.
type NodeTelemetry struct {
	SchemaVersion int          `json:"schema_version"`
	NodeID        uuid.UUID    `json:"node_id"`
	Name          string       `json:"name"`
	Geozone       string       `json:"geozone"`
	Geohash       string       `json:"geohash"`
	EnergySource  EnergySource `json:"energy_source"`
	BatteryLevel  float64      `json:"battery_level"`

	GPUUtilization   float64  `json:"gpu_utilization"`
	GPUMemoryFreeGB  float64  `json:"gpu_memory_free_gb"`
	GPUCount         int      `json:"gpu_count"`
	GPUMemoryTotalGB float64  `json:"gpu_memory_total_gb"`
	ModelsLoaded     []string `json:"models_loaded"`

	LastSeen time.Time `json:"last_seen"`
}

// InferenceRequest is the payload of a request on arc.request.inference
// (and, unmodified, on arc.request.retry / arc.request.rejected).
type InferenceRequest struct {
	SchemaVersion       int      `json:"schema_version"`
	ID                  uuid.UUID `json:"id"`
	ModelID             string    `json:"model_id"`
	ContextWindowTokens int       `json:"context_window_tokens"`
	Priority            Priority  `json:"priority"`
	MaxLatencyMS        int       `json:"max_latency_ms"`
	RequesterGeozone    string    `json:"requester_geozone"`
}

// DispatchCommand is the payload published to
// arc.command.dispatch.<geozone> for a successfully scheduled request.
type DispatchCommand struct {
	ID                  uuid.UUID `json:"id"`
	Type                string    `json:"type"`
	Timestamp           time.Time `json:"timestamp"`
	RequestID           uuid.UUID `json:"request_id"`
	NodeID              uuid.UUID `json:"node_id"`
	NodeGeohash         string    `json:"node_geohash"`
	ModelID             string    `json:"model_id"`
	Priority            Priority  `json:"priority"`
	MaxLatencyMS        int       `json:"max_latency_ms"`
	ContextWindowTokens int       `json:"context_window_tokens"`
	SchemaVersion       int       `json:"schema_version"`
}

// DispatchCommandType is the fixed "type" field of every dispatch command.
const DispatchCommandType = "inference-dispatch"

// NewDispatchCommand builds the dispatch command for a successful
// schedule of req onto node.
func NewDispatchCommand(req *InferenceRequest, node *Node, now time.Time) *DispatchCommand {
	return &DispatchCommand{
		ID:                  uuid.New(),
		Type:                DispatchCommandType,
		Timestamp:           now,
		RequestID:           req.ID,
		NodeID:              node.ID,
		NodeGeohash:         node.Geohash,
		ModelID:             req.ModelID,
		Priority:            req.Priority,
		MaxLatencyMS:        req.MaxLatencyMS,
		ContextWindowTokens: req.ContextWindowTokens,
		SchemaVersion:       1,
	}
}

// RetryEnvelope is carried in headers of a re-published request on
// arc.request.retry. The payload bytes are the original request,
// unmodified and re-validated on re-consume.
type RetryEnvelope struct {
	RetryCount        int       `json:"retry_count"`
	OriginalRequestID uuid.UUID `json:"original_request_id"`
	FirstAttemptAt    time.Time `json:"first_attempt_at"`
	LastFailureReason string    `json:"last_failure_reason"`
	NextRetryAt       time.Time `json:"next_retry_at"`
}

// RejectedEnvelope is carried in headers of a request republished to
// arc.request.rejected after the retry budget is exhausted.
type RejectedEnvelope struct {
	RejectedAt        time.Time `json:"rejected_at"`
	TotalRetries      int       `json:"total_retries"`
	RejectionReason   string    `json:"rejection_reason"`
	OriginalRequestID uuid.UUID `json:"original_request_id"`
}

// Rejection reasons.
const (
	ReasonNoCandidates       = "no-candidates"
	ReasonReservationExhaust = "reservation-failed"
)
