package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-pbc-co/arcnet-scheduler/internal/metrics"
	"github.com/arc-pbc-co/arcnet-scheduler/pkg/headers"
	"github.com/arc-pbc-co/arcnet-scheduler/pkg/schema"
	"github.com/arc-pbc-co/arcnet-scheduler/pkg/statemirror"
	"github.com/arc-pbc-co/arcnet-scheduler/pkg/types"
)

// fakeSender records every call made through it, standing in for a
// real bus connection in tests.
type fakeSender struct {
	sent    []sentMessage
	sentRaw []sentRaw
}

type sentMessage struct {
	Topic   string
	Key     schema.Key
	Payload interface{}
	Extra   headers.Headers
}

type sentRaw struct {
	Topic   string
	Value   []byte
	Headers headers.Headers
}

func (f *fakeSender) Send(_ context.Context, topic string, key schema.Key, _ []byte, payload interface{}, extra headers.Headers) error {
	f.sent = append(f.sent, sentMessage{Topic: topic, Key: key, Payload: payload, Extra: extra})
	return nil
}

func (f *fakeSender) SendRaw(_ context.Context, topic string, _ []byte, value []byte, hdrs headers.Headers) error {
	f.sentRaw = append(f.sentRaw, sentRaw{Topic: topic, Value: value, Headers: hdrs})
	return nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeSender, *statemirror.Mirror) {
	mirror := statemirror.New(statemirror.Config{
		StalenessThreshold: 30 * time.Second,
		MaxGPUUtilization:  0.85,
	})
	sender := &fakeSender{}
	s := New(Config{
		Mirror:   mirror,
		Producer: sender,
	})
	return s, sender, mirror
}

func upsertNode(m *statemirror.Mirror, modelID string, now time.Time) uuid.UUID {
	id := uuid.New()
	m.Upsert(&types.NodeTelemetry{
		SchemaVersion:    1,
		NodeID:           id,
		Name:             "node",
		Geozone:          "us-west",
		Geohash:          "9q8yyk",
		EnergySource:     types.EnergySolar,
		BatteryLevel:     0.95,
		GPUUtilization:   0.1,
		GPUMemoryFreeGB:  20,
		GPUCount:         1,
		GPUMemoryTotalGB: 24,
		ModelsLoaded:     []string{modelID},
		LastSeen:         now,
	})
	return id
}

func testRequest(modelID string) *types.InferenceRequest {
	return &types.InferenceRequest{
		SchemaVersion:       1,
		ID:                  uuid.New(),
		ModelID:             modelID,
		ContextWindowTokens: 2048,
		Priority:            types.PriorityNormal,
		MaxLatencyMS:        500,
		RequesterGeozone:    "9q8yyk",
	}
}

func TestScheduler_Attempt_Success(t *testing.T) {
	s, _, mirror := newTestScheduler(t)
	now := time.Now()
	nodeID := upsertNode(mirror, "llama-3-8b", now)

	outcome, node := s.Attempt(testRequest("llama-3-8b"), now)
	require.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, nodeID, node.ID)
}

func TestScheduler_Attempt_ObservesScheduleLatency(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	mirror := statemirror.New(statemirror.Config{
		StalenessThreshold: 30 * time.Second,
		MaxGPUUtilization:  0.85,
	})
	s := New(Config{Mirror: mirror, Producer: &fakeSender{}, Metrics: m})

	// A histogram always collects as one metric; what moves is its
	// sample count.
	sampleCount := func() uint64 {
		families, err := registry.Gather()
		require.NoError(t, err)
		for _, mf := range families {
			if mf.GetName() == "arcnet_scheduler_schedule_attempt_duration_seconds" {
				return mf.GetMetric()[0].GetHistogram().GetSampleCount()
			}
		}
		return 0
	}

	require.Zero(t, sampleCount())
	s.Attempt(testRequest("llama-3-8b"), time.Now())
	assert.EqualValues(t, 1, sampleCount())
}

func TestScheduler_Attempt_NoCandidates(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	outcome, node := s.Attempt(testRequest("llama-3-8b"), time.Now())
	assert.Equal(t, OutcomeNoCandidates, outcome)
	assert.Nil(t, node)
}

// A node that already holds an active reservation is filtered out by
// the mirror's candidate query, so the attempt finds no candidates.
func TestScheduler_Attempt_NoCandidatesWhenOnlyNodeIsReserved(t *testing.T) {
	s, _, mirror := newTestScheduler(t)
	now := time.Now()
	nodeID := upsertNode(mirror, "llama-3-8b", now)
	require.Equal(t, statemirror.ReserveOK, mirror.Reserve(nodeID, uuid.New(), 30*time.Second, now))

	outcome, node := s.Attempt(testRequest("llama-3-8b"), now)
	assert.Equal(t, OutcomeNoCandidates, outcome)
	assert.Nil(t, node)
}

func TestScheduler_Dispatch_PublishesToGeozoneTopic(t *testing.T) {
	s, sender, mirror := newTestScheduler(t)
	now := time.Now()
	nodeID := upsertNode(mirror, "llama-3-8b", now)
	req := testRequest("llama-3-8b")

	outcome, node := s.Attempt(req, now)
	require.Equal(t, OutcomeSuccess, outcome)

	require.NoError(t, s.Dispatch(context.Background(), req, node, now))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "arc.command.dispatch.us-west", sender.sent[0].Topic)

	cmd, ok := sender.sent[0].Payload.(*types.DispatchCommand)
	require.True(t, ok)
	assert.Equal(t, req.ID, cmd.RequestID)
	assert.Equal(t, nodeID, cmd.NodeID)

	assignedNode, ok := sender.sent[0].Extra.GetString(headers.AssignedNode)
	require.True(t, ok)
	assert.Equal(t, nodeID.String(), assignedNode)
}

func TestScheduler_HandleFailure_RetriesBelowBudget(t *testing.T) {
	s, sender, _ := newTestScheduler(t)
	req := testRequest("llama-3-8b")
	now := time.Now()

	require.NoError(t, s.HandleFailure(context.Background(), []byte(`{}`), req, nil, types.ReasonNoCandidates, now))

	require.Len(t, sender.sentRaw, 1)
	assert.Equal(t, "arc.request.retry", sender.sentRaw[0].Topic)

	count, ok := sender.sentRaw[0].Headers.GetInt32(headers.RetryCount)
	require.True(t, ok)
	assert.EqualValues(t, 1, count)
}

func TestScheduler_HandleFailure_RetryBackoffDoubles(t *testing.T) {
	s, sender, _ := newTestScheduler(t)
	req := testRequest("llama-3-8b")
	now := time.Now()

	state := &RetryState{RetryCount: 1, FirstAttemptAt: now}
	require.NoError(t, s.HandleFailure(context.Background(), []byte(`{}`), req, state, types.ReasonNoCandidates, now))

	nextRetryAt, ok := sender.sentRaw[0].Headers.GetTime(headers.NextRetryAt)
	require.True(t, ok)
	assert.WithinDuration(t, now.Add(200*time.Millisecond), nextRetryAt, time.Millisecond)
}

func TestScheduler_HandleFailure_RejectsAtBudget(t *testing.T) {
	s, sender, _ := newTestScheduler(t)
	req := testRequest("llama-3-8b")
	now := time.Now()

	state := &RetryState{RetryCount: 3, FirstAttemptAt: now}
	require.NoError(t, s.HandleFailure(context.Background(), []byte(`{}`), req, state, types.ReasonReservationExhaust, now))

	require.Len(t, sender.sentRaw, 1)
	assert.Equal(t, "arc.request.rejected", sender.sentRaw[0].Topic)

	reason, ok := sender.sentRaw[0].Headers.GetString(headers.RejectionReason)
	require.True(t, ok)
	assert.Equal(t, types.ReasonReservationExhaust, reason)
}
