// Package statemirror projects node telemetry into a queryable,
// in-memory store of node documents with staleness and reservation
// attributes, and exposes the three queries the scheduler needs:
// candidates, reserve, and release. Staleness and reservation expiry
// are evaluated lazily at query time against a caller-supplied now, so
// no background sweeper is required (see DESIGN.md).
package statemirror

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arc-pbc-co/arcnet-scheduler/pkg/types"
)

// ReserveOutcome is the result of a reserve attempt.
type ReserveOutcome int

const (
	ReserveOK ReserveOutcome = iota
	ReserveAlreadyReserved
	ReserveNotFound
	ReserveStaleConflict
)

func (o ReserveOutcome) String() string {
	switch o {
	case ReserveOK:
		return "ok"
	case ReserveAlreadyReserved:
		return "already-reserved"
	case ReserveNotFound:
		return "not-found"
	case ReserveStaleConflict:
		return "stale-conflict"
	default:
		return "unknown"
	}
}

// entry is the per-node unit of mutual exclusion: reserve is
// linearizable per node because every read-modify-write of a node's
// document happens while holding this mutex, and nothing ever holds it
// across a network call.
type entry struct {
	mu   sync.Mutex
	node types.Node
}

// Mirror is the in-memory node document store.
type Mirror struct {
	nodes sync.Map // uuid.UUID -> *entry

	stalenessThreshold time.Duration
	maxGPUUtilization  float64
}

// Config holds construction-time parameters for a Mirror.
type Config struct {
	StalenessThreshold time.Duration // default 30s
	MaxGPUUtilization  float64       // default 0.85
}

// New constructs a Mirror. Zero-valued fields in cfg take the spec's
// documented defaults.
func New(cfg Config) *Mirror {
	if cfg.StalenessThreshold <= 0 {
		cfg.StalenessThreshold = 30 * time.Second
	}
	if cfg.MaxGPUUtilization <= 0 {
		cfg.MaxGPUUtilization = 0.85
	}
	return &Mirror{
		stalenessThreshold: cfg.StalenessThreshold,
		maxGPUUtilization:  cfg.MaxGPUUtilization,
	}
}

// Upsert applies a telemetry record to the node document it describes.
// Last-writer-wins by LastSeen: a record older than the currently
// stored LastSeen is dropped silently.
func (m *Mirror) Upsert(t *types.NodeTelemetry) {
	raw, _ := m.nodes.LoadOrStore(t.NodeID, &entry{})
	e := raw.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.node.LastSeen.IsZero() && t.LastSeen.Before(e.node.LastSeen) {
		return
	}

	models := make(map[string]struct{}, len(t.ModelsLoaded))
	for _, id := range t.ModelsLoaded {
		models[id] = struct{}{}
	}

	reservation := e.node.Reservation // preserved across telemetry updates

	e.node = types.Node{
		ID:               t.NodeID,
		Name:             t.Name,
		Geozone:          t.Geozone,
		Geohash:          t.Geohash,
		EnergySource:     t.EnergySource,
		BatteryLevel:     t.BatteryLevel,
		GPUUtilization:   t.GPUUtilization,
		GPUMemoryFreeGB:  t.GPUMemoryFreeGB,
		GPUCount:         t.GPUCount,
		GPUMemoryTotalGB: t.GPUMemoryTotalGB,
		ModelsLoaded:     models,
		LastSeen:         t.LastSeen,
		Reservation:      reservation,
	}
}

// Candidates returns every node satisfying all of: has modelID loaded,
// GPU utilization below the configured ceiling, not stale as of now,
// and no active reservation. Ordering is unspecified; the caller
// (the scheduler) scores and sorts downstream.
func (m *Mirror) Candidates(modelID, requesterGeohash string, now time.Time) []*types.Node {
	_ = requesterGeohash // scoring, not filtering, consumes the requester geohash

	var out []*types.Node
	m.nodes.Range(func(_, value interface{}) bool {
		e := value.(*entry)
		e.mu.Lock()
		defer e.mu.Unlock()

		n := e.node
		if !n.HasModel(modelID) {
			return true
		}
		if n.GPUUtilization >= m.maxGPUUtilization {
			return true
		}
		if n.Stale(now, m.stalenessThreshold) {
			return true
		}
		if n.Reservation.Active(now) {
			return true
		}

		snapshot := n
		out = append(out, &snapshot)
		return true
	})
	return out
}

// Reserve attempts an optimistic compare-and-set reservation of nodeID
// for requestID. It succeeds only if the node exists, is not stale, and
// carries no active reservation at the moment of write.
func (m *Mirror) Reserve(nodeID, requestID uuid.UUID, ttl time.Duration, now time.Time) ReserveOutcome {
	raw, ok := m.nodes.Load(nodeID)
	if !ok {
		return ReserveNotFound
	}
	e := raw.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.node.Stale(now, m.stalenessThreshold) {
		return ReserveStaleConflict
	}
	if e.node.Reservation.Active(now) {
		return ReserveAlreadyReserved
	}

	e.node.Reservation = &types.Reservation{
		RequestID: requestID,
		ExpiresAt: now.Add(ttl),
	}
	return ReserveOK
}

// Release clears nodeID's reservation iff it is currently held by
// requestID. It is idempotent: calling it again, or with a
// non-matching requestID, leaves the node's reservation unchanged.
func (m *Mirror) Release(nodeID, requestID uuid.UUID) {
	raw, ok := m.nodes.Load(nodeID)
	if !ok {
		return
	}
	e := raw.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.node.Reservation != nil && e.node.Reservation.RequestID == requestID {
		e.node.Reservation = nil
	}
}

// Get returns a snapshot of the stored node document, for tests and
// diagnostics.
func (m *Mirror) Get(nodeID uuid.UUID) (types.Node, bool) {
	raw, ok := m.nodes.Load(nodeID)
	if !ok {
		return types.Node{}, false
	}
	e := raw.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.node, true
}
