// Package scheduler implements the candidate-selection, scoring,
// reservation, and retry/reject state machine described in the data
// model: consume inference requests, pick the best-scoring available
// node, reserve it exclusively, dispatch or retry with bounded
// exponential backoff, and reject on exhaustion.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/arc-pbc-co/arcnet-scheduler/internal/metrics"
	"github.com/arc-pbc-co/arcnet-scheduler/pkg/headers"
	"github.com/arc-pbc-co/arcnet-scheduler/pkg/schema"
	"github.com/arc-pbc-co/arcnet-scheduler/pkg/statemirror"
	"github.com/arc-pbc-co/arcnet-scheduler/pkg/types"
)

// Sender is the subset of *transport.Producer the scheduler depends
// on. Declared narrowly here, the way the pack's search.Provider and
// workspace.StorageProvider interfaces are, so tests can substitute a
// fake bus instead of a live broker.
type Sender interface {
	Send(ctx context.Context, topic string, key schema.Key, recordKey []byte, payload interface{}, extra headers.Headers) error
	SendRaw(ctx context.Context, topic string, recordKey []byte, value []byte, hdrs headers.Headers) error
}

// Outcome is the result of one schedule attempt for a request.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNoCandidates
	OutcomeReservationFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNoCandidates:
		return types.ReasonNoCandidates
	case OutcomeReservationFailed:
		return types.ReasonReservationExhaust
	default:
		return "unknown"
	}
}

const candidatePoolSize = 3

// Config holds construction-time parameters for a Scheduler.
type Config struct {
	Mirror   *statemirror.Mirror
	Producer Sender
	Metrics  *metrics.Metrics
	Logger   hclog.Logger

	MaxRetries     int           // default 3
	BaseBackoff    time.Duration // default 100ms
	ReservationTTL time.Duration // default 30s

	RetryTopic    string // default "arc.request.retry"
	RejectedTopic string // default "arc.request.rejected"
}

// Scheduler schedules inference requests against the state mirror.
type Scheduler struct {
	mirror   *statemirror.Mirror
	producer Sender
	metrics  *metrics.Metrics
	logger   hclog.Logger

	maxRetries     int
	baseBackoff    time.Duration
	reservationTTL time.Duration

	retryTopic    string
	rejectedTopic string
}

// New constructs a Scheduler. Zero-valued fields in cfg take the
// spec's documented defaults.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = 30 * time.Second
	}
	if cfg.RetryTopic == "" {
		cfg.RetryTopic = "arc.request.retry"
	}
	if cfg.RejectedTopic == "" {
		cfg.RejectedTopic = "arc.request.rejected"
	}

	return &Scheduler{
		mirror:         cfg.Mirror,
		producer:       cfg.Producer,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger.Named("scheduler"),
		maxRetries:     cfg.MaxRetries,
		baseBackoff:    cfg.BaseBackoff,
		reservationTTL: cfg.ReservationTTL,
		retryTopic:     cfg.RetryTopic,
		rejectedTopic:  cfg.RejectedTopic,
	}
}

// Attempt runs one schedule attempt (spec.md §4.5.2) for req as of now:
// pick the top 3 candidates by score and try to reserve each in order,
// stopping at the first success.
func (s *Scheduler) Attempt(req *types.InferenceRequest, now time.Time) (Outcome, *types.Node) {
	start := time.Now()
	defer s.observeScheduleLatency(start)

	requesterGeohash := req.RequesterGeozone

	candidates := s.mirror.Candidates(req.ModelID, requesterGeohash, now)
	if len(candidates) == 0 {
		return OutcomeNoCandidates, nil
	}

	top := TopN(candidates, requesterGeohash, candidatePoolSize)
	for _, c := range top {
		outcome := s.mirror.Reserve(c.Node.ID, req.ID, s.reservationTTL, now)
		s.observeReservation(outcome)

		switch outcome {
		case statemirror.ReserveOK:
			return OutcomeSuccess, c.Node
		case statemirror.ReserveAlreadyReserved, statemirror.ReserveStaleConflict, statemirror.ReserveNotFound:
			// Lost the race, or the candidate went stale between the
			// read and the write; try the next candidate. Not an error.
			continue
		}
	}

	return OutcomeReservationFailed, nil
}

// Dispatch builds and publishes the dispatch command for req having
// been scheduled onto node.
func (s *Scheduler) Dispatch(ctx context.Context, req *types.InferenceRequest, node *types.Node, now time.Time) error {
	cmd := types.NewDispatchCommand(req, node, now)
	topic := fmt.Sprintf("arc.command.dispatch.%s", node.Geozone)
	key := schema.Key{EntityType: schema.EntityDispatchCommand, Version: cmd.SchemaVersion}

	extra := headers.New().
		SetTime(headers.DispatchedAt, now).
		SetString(headers.AssignedNode, node.ID.String()).
		SetString(headers.RequestID, req.ID.String())

	if err := s.producer.Send(ctx, topic, key, []byte(cmd.ID.String()), cmd, extra); err != nil {
		return fmt.Errorf("scheduler: dispatch %s to node %s: %w", req.ID, node.ID, err)
	}

	if s.metrics != nil {
		s.metrics.DispatchTotal.Inc()
	}
	s.logger.Info("dispatched request", "request_id", req.ID, "node_id", node.ID, "geozone", node.Geozone)
	return nil
}

// RetryState describes the retry envelope carried in headers for a
// request already in flight through the retry loop; it is nil for a
// request's first attempt.
type RetryState struct {
	RetryCount     int
	FirstAttemptAt time.Time
}

// HandleFailure implements the retry/reject state machine
// (spec.md §4.5.3) for a request that could not be scheduled: below
// the retry budget it republishes to the retry topic with an updated
// backoff; at or beyond the budget it republishes to the rejected
// topic. reqBytes is the original, already-validated request payload,
// republished unmodified via SendRaw.
func (s *Scheduler) HandleFailure(ctx context.Context, reqBytes []byte, req *types.InferenceRequest, state *RetryState, reason string, now time.Time) error {
	k := 0
	firstAttempt := now
	if state != nil {
		k = state.RetryCount
		if !state.FirstAttemptAt.IsZero() {
			firstAttempt = state.FirstAttemptAt
		}
	}

	if k < s.maxRetries {
		return s.scheduleRetry(ctx, reqBytes, req, k, firstAttempt, reason, now)
	}
	return s.reject(ctx, reqBytes, req, k, reason, now)
}

func (s *Scheduler) scheduleRetry(ctx context.Context, reqBytes []byte, req *types.InferenceRequest, k int, firstAttempt time.Time, reason string, now time.Time) error {
	backoff := backoffForAttempt(s.baseBackoff, k)

	envelope := types.RetryEnvelope{
		RetryCount:        k + 1,
		OriginalRequestID: req.ID,
		FirstAttemptAt:    firstAttempt,
		LastFailureReason: reason,
		NextRetryAt:       now.Add(backoff),
	}

	hdrs := headers.New().
		SetInt32(headers.SchemaVersion, int32(req.SchemaVersion)).
		SetString(headers.EntityType, schema.EntityInferenceRequest).
		SetInt32(headers.RetryCount, int32(envelope.RetryCount)).
		SetString(headers.OriginalRequestID, envelope.OriginalRequestID.String()).
		SetTime(headers.FirstAttemptAt, envelope.FirstAttemptAt).
		SetString(headers.LastFailureReason, envelope.LastFailureReason).
		SetTime(headers.NextRetryAt, envelope.NextRetryAt)

	if err := s.producer.SendRaw(ctx, s.retryTopic, []byte(req.ID.String()), reqBytes, hdrs); err != nil {
		return fmt.Errorf("scheduler: republish retry for %s: %w", req.ID, err)
	}

	if s.metrics != nil {
		s.metrics.RetryTotal.Inc()
	}
	s.logger.Info("scheduled retry", "request_id", req.ID, "retry_count", envelope.RetryCount, "next_retry_at", envelope.NextRetryAt, "reason", reason)
	return nil
}

func (s *Scheduler) reject(ctx context.Context, reqBytes []byte, req *types.InferenceRequest, totalRetries int, reason string, now time.Time) error {
	envelope := types.RejectedEnvelope{
		RejectedAt:        now,
		TotalRetries:      totalRetries,
		RejectionReason:   reason,
		OriginalRequestID: req.ID,
	}

	hdrs := headers.New().
		SetInt32(headers.SchemaVersion, int32(req.SchemaVersion)).
		SetString(headers.EntityType, schema.EntityInferenceRequest).
		SetTime(headers.RejectedAt, envelope.RejectedAt).
		SetInt32(headers.TotalRetries, int32(envelope.TotalRetries)).
		SetString(headers.RejectionReason, envelope.RejectionReason).
		SetString(headers.OriginalRequestID, envelope.OriginalRequestID.String())

	if err := s.producer.SendRaw(ctx, s.rejectedTopic, []byte(req.ID.String()), reqBytes, hdrs); err != nil {
		return fmt.Errorf("scheduler: reject %s: %w", req.ID, err)
	}

	if s.metrics != nil {
		s.metrics.RejectedTotal.WithLabelValues(reason).Inc()
	}
	s.logger.Warn("rejected request", "request_id", req.ID, "total_retries", totalRetries, "reason", reason)
	return nil
}

func (s *Scheduler) observeReservation(outcome statemirror.ReserveOutcome) {
	if s.metrics == nil {
		return
	}
	s.metrics.ReservationAttempts.WithLabelValues(outcome.String()).Inc()
}

func (s *Scheduler) observeScheduleLatency(start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ScheduleLatency.Observe(time.Since(start).Seconds())
}
