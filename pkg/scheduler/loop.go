package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/arc-pbc-co/arcnet-scheduler/pkg/headers"
	"github.com/arc-pbc-co/arcnet-scheduler/pkg/transport"
	"github.com/arc-pbc-co/arcnet-scheduler/pkg/types"
)

// TelemetryApplier is the subset of *statemirror.Mirror the telemetry
// loop needs; declared narrowly here so loop.go does not have to
// import statemirror for anything else.
type TelemetryApplier interface {
	Upsert(t *types.NodeTelemetry)
}

// LoopConfig bundles the transport objects and tuning parameters a
// Loop needs. Any of RequestConsumer, RetryConsumer, and
// TelemetryConsumer may be nil; Run only starts loops for the
// consumers actually configured.
type LoopConfig struct {
	Scheduler       *Scheduler
	TelemetryMirror TelemetryApplier

	RequestConsumer   *transport.Consumer
	RetryConsumer     *transport.Consumer
	TelemetryConsumer *transport.Consumer

	PollTimeout time.Duration // default 1s
	Workers     int           // default 8, per-batch worker pool size

	Logger hclog.Logger
}

// Loop drives the scheduler's long-lived consumer loops: telemetry
// ingestion, request scheduling, and retry redelivery. Each loop polls
// a batch, fans it out over a bounded worker pool, and commits offsets
// only once every handler in the batch has returned — a batch with a
// still-running or crashed handler is never committed, so it is
// redelivered on the next poll after a rebalance.
type Loop struct {
	cfg LoopConfig
	log hclog.Logger
}

// NewLoop constructs a Loop. Zero-valued tuning fields in cfg take
// their documented defaults.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 1 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	return &Loop{cfg: cfg, log: cfg.Logger.Named("scheduler-loop")}
}

// Run blocks, driving every configured consumer until ctx is canceled.
func (l *Loop) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	if l.cfg.TelemetryConsumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.runBatchLoop(ctx, l.cfg.TelemetryConsumer, l.handleTelemetry)
		}()
	}
	if l.cfg.RequestConsumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.runBatchLoop(ctx, l.cfg.RequestConsumer, l.handleRequest)
		}()
	}
	if l.cfg.RetryConsumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.runBatchLoop(ctx, l.cfg.RetryConsumer, l.handleRetry)
		}()
	}

	wg.Wait()
	return ctx.Err()
}

// runBatchLoop polls consumer until ctx is canceled, fanning each
// batch out to handle over a bounded worker pool and committing only
// after every worker in the batch returns.
func (l *Loop) runBatchLoop(ctx context.Context, consumer *transport.Consumer, handle func(context.Context, *transport.ConsumedRecord)) {
	for {
		if ctx.Err() != nil {
			return
		}

		records, err := consumer.Poll(ctx, l.cfg.PollTimeout)
		if err != nil {
			l.log.Error("poll failed", "error", err)
			continue
		}
		if len(records) == 0 {
			continue
		}

		var wg sync.WaitGroup
		sem := make(chan struct{}, l.cfg.Workers)
		for _, rec := range records {
			if !rec.Valid() {
				continue // already dead-lettered by the consumer
			}
			rec := rec
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				handle(rec.Ctx, rec)
			}()
		}
		wg.Wait()

		if err := consumer.Commit(ctx, records...); err != nil {
			l.log.Error("commit failed", "error", err)
		}
	}
}

func (l *Loop) handleTelemetry(_ context.Context, rec *transport.ConsumedRecord) {
	var t types.NodeTelemetry
	if err := json.Unmarshal(rec.Value, &t); err != nil {
		l.log.Error("malformed telemetry payload, skipping", "error", err)
		return
	}
	l.cfg.TelemetryMirror.Upsert(&t)
}

func (l *Loop) handleRequest(ctx context.Context, rec *transport.ConsumedRecord) {
	var req types.InferenceRequest
	if err := json.Unmarshal(rec.Value, &req); err != nil {
		l.log.Error("malformed inference request, skipping", "error", err)
		return
	}
	l.schedule(ctx, rec.Value, &req, nil)
}

// handleRetry waits out the remainder of next_retry_at in-process
// before reprocessing. The wait happens on this record's own worker
// goroutine, so other records in the same batch, and subsequent polls,
// proceed independently — the shared poll loop never blocks on one
// record's delay (see SPEC_FULL.md's resolution of the retry-timing
// open question).
func (l *Loop) handleRetry(ctx context.Context, rec *transport.ConsumedRecord) {
	var req types.InferenceRequest
	if err := json.Unmarshal(rec.Value, &req); err != nil {
		l.log.Error("malformed retry envelope payload, skipping", "error", err)
		return
	}

	state := retryStateFromHeaders(rec.Headers)

	if nextRetryAt, ok := rec.Headers.GetTime(headers.NextRetryAt); ok {
		if wait := time.Until(nextRetryAt); wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return
			}
		}
	}

	l.schedule(ctx, rec.Value, &req, state)
}

func (l *Loop) schedule(ctx context.Context, reqBytes []byte, req *types.InferenceRequest, state *RetryState) {
	now := time.Now()
	outcome, node := l.cfg.Scheduler.Attempt(req, now)

	switch outcome {
	case OutcomeSuccess:
		if err := l.cfg.Scheduler.Dispatch(ctx, req, node, now); err != nil {
			l.log.Error("dispatch failed", "request_id", req.ID, "error", err)
		}
	case OutcomeNoCandidates:
		if err := l.cfg.Scheduler.HandleFailure(ctx, reqBytes, req, state, types.ReasonNoCandidates, now); err != nil {
			l.log.Error("handle failure (no candidates) errored", "request_id", req.ID, "error", err)
		}
	case OutcomeReservationFailed:
		if err := l.cfg.Scheduler.HandleFailure(ctx, reqBytes, req, state, types.ReasonReservationExhaust, now); err != nil {
			l.log.Error("handle failure (reservation exhausted) errored", "request_id", req.ID, "error", err)
		}
	}
}

func retryStateFromHeaders(h headers.Headers) *RetryState {
	count, ok := h.GetInt32(headers.RetryCount)
	if !ok {
		return nil
	}
	first, _ := h.GetTime(headers.FirstAttemptAt)
	return &RetryState{RetryCount: int(count), FirstAttemptAt: first}
}
