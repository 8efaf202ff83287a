// Package transport implements the typed producer/consumer contract
// over the event bus: validate-on-produce, validate-on-consume,
// dead-letter routing for invalid messages, and header propagation for
// schema version, entity type, and trace context. It is built on
// github.com/twmb/franz-go/pkg/kgo, the same Kafka-API client the
// teacher's outbox relay and indexer consumer use.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/arc-pbc-co/arcnet-scheduler/internal/metrics"
	"github.com/arc-pbc-co/arcnet-scheduler/internal/tracecontext"
	"github.com/arc-pbc-co/arcnet-scheduler/pkg/codec"
	"github.com/arc-pbc-co/arcnet-scheduler/pkg/headers"
	"github.com/arc-pbc-co/arcnet-scheduler/pkg/schema"
)

// Producer validates, encodes, and publishes payloads, and exposes a
// raw publish path for republishing retry/dead-letter envelopes
// without re-validation.
type Producer struct {
	client   *kgo.Client
	registry *schema.Registry
	metrics  *metrics.Metrics
	logger   hclog.Logger
}

// ProducerConfig holds configuration for a Producer.
type ProducerConfig struct {
	Brokers  []string
	Registry *schema.Registry
	Metrics  *metrics.Metrics
	Logger   hclog.Logger
}

// NewProducer creates a new Producer with ack=all, an idempotent
// producer, and bounded retries.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("transport: at least one broker is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),

		// Durability: wait for all in-sync replicas, idempotent producer
		// (franz-go enables this by default), bounded retry with capped
		// backoff.
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.GzipCompression()),
		kgo.RequestRetries(10),
		kgo.RetryBackoffFn(func(tries int) time.Duration {
			backoff := time.Duration(tries) * 100 * time.Millisecond
			if backoff > 60*time.Second {
				backoff = 60 * time.Second
			}
			return backoff
		}),

		kgo.ProducerLinger(10*time.Millisecond),
		kgo.ProducerBatchMaxBytes(1<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: create kafka client: %w", err)
	}

	return &Producer{
		client:   client,
		registry: cfg.Registry,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.Named("transport-producer"),
	}, nil
}

// Send validates payload against key, encodes it, builds the standard
// header set (schema version, entity type, trace context, plus any
// caller-supplied extra headers), and publishes it to topic keyed by
// recordKey. No message is published if validation or encoding fails.
func (p *Producer) Send(ctx context.Context, topic string, key schema.Key, recordKey []byte, payload interface{}, extra headers.Headers) error {
	if p.registry != nil {
		if _, err := p.registry.ValidateOrFail(key, payload); err != nil {
			p.observeValidationFailure(key, "produce")
			return fmt.Errorf("transport: validate %s for topic %s: %w", key, topic, err)
		}
	}

	value, err := codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("transport: encode payload for topic %s: %w", topic, err)
	}

	hdrs := headers.New().
		SetInt32(headers.SchemaVersion, int32(key.Version)).
		SetString(headers.EntityType, key.EntityType)
	if tp, ok := tracecontext.FromContext(ctx); ok {
		hdrs.SetString(headers.TraceParent, tp)
	}
	for k, v := range extra {
		hdrs.Set(k, v)
	}

	record := &kgo.Record{
		Topic:   topic,
		Key:     recordKey,
		Value:   value,
		Headers: toKgoHeaders(hdrs),
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("transport: publish to %s: %w", topic, err)
	}

	p.logger.Debug("published message", "topic", topic, "schema", key.String())
	return nil
}

// SendRaw republishes pre-encoded bytes without validation. It is used
// exclusively for retry and dead-letter/rejected envelopes, where the
// payload is the original (already-validated) request bytes and only
// the headers change. The trace context of ctx, if any, is added to a
// copy of hdrs.
func (p *Producer) SendRaw(ctx context.Context, topic string, recordKey []byte, value []byte, hdrs headers.Headers) error {
	if tp, ok := tracecontext.FromContext(ctx); ok {
		hdrs = hdrs.Clone().SetString(headers.TraceParent, tp)
	}

	record := &kgo.Record{
		Topic:   topic,
		Key:     recordKey,
		Value:   value,
		Headers: toKgoHeaders(hdrs),
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("transport: publish raw to %s: %w", topic, err)
	}
	return nil
}

// Close releases the underlying bus client.
func (p *Producer) Close() {
	p.client.Close()
}

func (p *Producer) observeValidationFailure(key schema.Key, direction string) {
	if p.metrics == nil {
		return
	}
	p.metrics.ValidationFailures.WithLabelValues(key.String(), direction).Inc()
}

func toKgoHeaders(h headers.Headers) []kgo.RecordHeader {
	out := make([]kgo.RecordHeader, 0, len(h))
	for k, v := range h {
		out = append(out, kgo.RecordHeader{Key: k, Value: v})
	}
	return out
}

func fromKgoHeaders(hdrs []kgo.RecordHeader) headers.Headers {
	out := headers.New()
	for _, h := range hdrs {
		out[h.Key] = h.Value
	}
	return out
}
