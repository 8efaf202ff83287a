// Package supervisor wires the scheduler's components into a single
// process-lifecycle object: construct everything up front, start the
// consumer loops, and stop every component deterministically on
// shutdown, closing the consumers before the producers. It replaces ad hoc global
// state in cmd/arcnet-scheduler/main.go with explicit, owned component
// objects, the same way the teacher's internal/server.Server bundles a
// request-serving process's dependencies into one struct.
package supervisor

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arc-pbc-co/arcnet-scheduler/internal/config"
	"github.com/arc-pbc-co/arcnet-scheduler/internal/metrics"
	"github.com/arc-pbc-co/arcnet-scheduler/pkg/schema"
	"github.com/arc-pbc-co/arcnet-scheduler/pkg/scheduler"
	"github.com/arc-pbc-co/arcnet-scheduler/pkg/statemirror"
	"github.com/arc-pbc-co/arcnet-scheduler/pkg/transport"
)

// Supervisor owns every long-lived component the scheduler process
// needs and is responsible for starting and stopping them in a
// consistent order.
type Supervisor struct {
	Config  *config.SchedulerConfig
	Logger  hclog.Logger
	Metrics *metrics.Metrics
	Mirror  *statemirror.Mirror

	producer          *transport.Producer
	deadLetter        *transport.Producer
	requestConsumer   *transport.Consumer
	retryConsumer     *transport.Consumer
	telemetryConsumer *transport.Consumer

	scheduler *scheduler.Scheduler
	loop      *scheduler.Loop
}

// New constructs every component described by cfg without starting
// any network I/O beyond client construction. Call Run to start the
// consumer loops.
func New(cfg *config.SchedulerConfig, registry *prometheus.Registry, logger hclog.Logger) (*Supervisor, error) {
	s := &Supervisor{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(registry),
	}

	schemaRegistry := schema.NewRegistry()
	schema.RegisterDefaults(schemaRegistry)

	var err error
	s.producer, err = transport.NewProducer(transport.ProducerConfig{
		Brokers:  cfg.BootstrapServers,
		Registry: schemaRegistry,
		Metrics:  s.Metrics,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("supervisor: create producer: %w", err)
	}

	if cfg.DeadLetterEnabled {
		s.deadLetter, err = transport.NewProducer(transport.ProducerConfig{
			Brokers: cfg.BootstrapServers,
			Metrics: s.Metrics,
			Logger:  logger,
		})
		if err != nil {
			s.producer.Close()
			return nil, fmt.Errorf("supervisor: create dead-letter producer: %w", err)
		}
	}

	consumerSpecs := []struct {
		field   **transport.Consumer
		topic   string
		groupID string
	}{
		{&s.requestConsumer, "arc.request.inference", cfg.GroupID},
		{&s.retryConsumer, "arc.request.retry", cfg.GroupID + "-retry"},
		{&s.telemetryConsumer, "arc.telemetry.node", cfg.GroupID + "-telemetry"},
	}
	for _, spec := range consumerSpecs {
		consumer, err := transport.NewConsumer(transport.ConsumerConfig{
			Brokers:    cfg.BootstrapServers,
			Topic:      spec.topic,
			GroupID:    spec.groupID,
			Registry:   schemaRegistry,
			DeadLetter: s.deadLetter,
			Metrics:    s.Metrics,
			Logger:     logger,
		})
		if err != nil {
			s.Stop()
			return nil, fmt.Errorf("supervisor: create consumer for %s: %w", spec.topic, err)
		}
		*spec.field = consumer
	}

	s.Mirror = statemirror.New(statemirror.Config{
		StalenessThreshold: cfg.StalenessThreshold(),
		MaxGPUUtilization:  cfg.MaxGPUUtilization,
	})

	s.scheduler = scheduler.New(scheduler.Config{
		Mirror:         s.Mirror,
		Producer:       s.producer,
		Metrics:        s.Metrics,
		Logger:         logger,
		MaxRetries:     cfg.MaxRetries,
		BaseBackoff:    cfg.BaseBackoff(),
		ReservationTTL: cfg.ReservationTTL(),
	})

	s.loop = scheduler.NewLoop(scheduler.LoopConfig{
		Scheduler:         s.scheduler,
		TelemetryMirror:   s.Mirror,
		RequestConsumer:   s.requestConsumer,
		RetryConsumer:     s.retryConsumer,
		TelemetryConsumer: s.telemetryConsumer,
		PollTimeout:       cfg.PollTimeout(),
		Logger:            logger,
	})

	return s, nil
}

// Run blocks running the consumer loops until ctx is canceled.
func (s *Supervisor) Run(ctx context.Context) error {
	return s.loop.Run(ctx)
}

// Stop closes every transport client the supervisor owns. It is safe
// to call on a partially constructed Supervisor (some fields nil) and
// safe to call more than once.
func (s *Supervisor) Stop() {
	if s.requestConsumer != nil {
		s.requestConsumer.Close()
	}
	if s.retryConsumer != nil {
		s.retryConsumer.Close()
	}
	if s.telemetryConsumer != nil {
		s.telemetryConsumer.Close()
	}
	if s.deadLetter != nil {
		s.deadLetter.Close()
	}
	if s.producer != nil {
		s.producer.Close()
	}
}
