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

// RecordMetadata describes where a consumed record came from.
type RecordMetadata struct {
	Topic     string
	Partition int32
	Offset    int64
	Timestamp time.Time
}

// ConsumedRecord is the result of processing one raw bus record: either
// a valid record (Err is nil) carrying decoded payload bytes ready for
// the caller to unmarshal into its concrete type, or an invalid record
// describing why it could not be used.
type ConsumedRecord struct {
	Metadata  RecordMetadata
	Key       []byte
	Value     []byte
	Headers   headers.Headers
	SchemaKey schema.Key
	Err       error

	// Ctx carries the span context parsed from the record's
	// arcnet-trace-parent header, if any, so handlers downstream
	// (scheduling, dispatch) continue the same trace instead of
	// starting an unparented one.
	Ctx context.Context

	raw *kgo.Record
}

// Valid reports whether the record decoded and (when a schema key was
// derivable) validated successfully.
func (r *ConsumedRecord) Valid() bool { return r.Err == nil }

// Consumer polls raw records, validates and decodes them, and routes
// invalid records to a dead-letter topic when a dead-letter producer is
// attached.
type Consumer struct {
	client     *kgo.Client
	registry   *schema.Registry
	deadLetter *Producer
	metrics    *metrics.Metrics
	logger     hclog.Logger
	topic      string
}

// ConsumerConfig holds configuration for a Consumer.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string

	// ConsumeFromStart starts at the earliest offset instead of latest;
	// useful for tests where the consumer joins after messages were
	// already published.
	ConsumeFromStart bool

	Registry   *schema.Registry
	DeadLetter *Producer
	Metrics    *metrics.Metrics
	Logger     hclog.Logger
}

// NewConsumer creates a new Consumer subscribed to cfg.Topic under
// cfg.GroupID, with manual offset commit.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("transport: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("transport: topic is required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("transport: group id is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	offset := kgo.NewOffset().AtEnd()
	if cfg.ConsumeFromStart {
		offset = kgo.NewOffset().AtStart()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(offset),
		kgo.SessionTimeout(10*time.Second),
		kgo.RebalanceTimeout(30*time.Second),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(500*time.Millisecond),
		kgo.FetchMinBytes(1),
		kgo.FetchMaxBytes(5<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: create kafka client: %w", err)
	}

	return &Consumer{
		client:     client,
		registry:   cfg.Registry,
		deadLetter: cfg.DeadLetter,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.Named("transport-consumer"),
		topic:      cfg.Topic,
	}, nil
}

// Poll blocks for up to timeout waiting for a batch of records. It
// returns every record in the batch, valid or invalid; when a
// dead-letter producer is attached, invalid records have already been
// routed to the dead-letter topic by the time Poll returns.
func (c *Consumer) Poll(ctx context.Context, timeout time.Duration) ([]*ConsumedRecord, error) {
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := c.client.PollFetches(pollCtx)
	if errs := fetches.Errors(); len(errs) > 0 {
		for _, e := range errs {
			if e.Err == context.DeadlineExceeded {
				continue
			}
			return nil, fmt.Errorf("transport: poll %s: %w", c.topic, e.Err)
		}
	}

	var out []*ConsumedRecord
	fetches.EachRecord(func(record *kgo.Record) {
		out = append(out, c.processRecord(ctx, record))
	})
	return out, nil
}

// Commit commits the offsets of records. Call it only after every
// handler for the batch has returned without error.
func (c *Consumer) Commit(ctx context.Context, records ...*ConsumedRecord) error {
	raws := make([]*kgo.Record, 0, len(records))
	for _, r := range records {
		if r.raw != nil {
			raws = append(raws, r.raw)
		}
	}
	if len(raws) == 0 {
		return nil
	}
	if err := c.client.CommitRecords(ctx, raws...); err != nil {
		return fmt.Errorf("transport: commit offsets for %s: %w", c.topic, err)
	}
	return nil
}

// Close releases the consumer's bus client. The dead-letter producer,
// if attached, is not closed here: it may be shared across several
// consumers, so its lifecycle belongs to whoever constructed it.
func (c *Consumer) Close() {
	c.client.Close()
}

func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) *ConsumedRecord {
	meta := RecordMetadata{
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Timestamp: record.Timestamp,
	}
	hdrs := fromKgoHeaders(record.Headers)

	recordCtx := ctx
	if tp, ok := hdrs.GetString(headers.TraceParent); ok {
		recordCtx = tracecontext.ContextWithParent(ctx, tp)
	}

	out := &ConsumedRecord{
		Metadata: meta,
		Key:      record.Key,
		Value:    record.Value,
		Headers:  hdrs,
		Ctx:      recordCtx,
		raw:      record,
	}

	payload, err := codec.DecodeRaw(record.Value)
	if err != nil {
		out.Err = fmt.Errorf("transport: decode record at %s[%d]@%d: %w", meta.Topic, meta.Partition, meta.Offset, err)
		c.deadLetterAndLog(ctx, record, out.Err)
		return out
	}

	// A schema-version header that is present but not 4 bytes claims a
	// version it cannot deliver: invalid, not raw.
	if rawVersion, present := hdrs.Get(headers.SchemaVersion); present {
		if _, err := codec.BytesToInt32BE(rawVersion); err != nil {
			out.Err = fmt.Errorf("transport: malformed %s header at %s[%d]@%d: %w", headers.SchemaVersion, meta.Topic, meta.Partition, meta.Offset, err)
			c.deadLetterAndLog(ctx, record, out.Err)
			return out
		}
	}

	key, ok := schema.KeyOf(hdrs, payload)
	if !ok {
		// Per the schema-key derivation rule: absent entity type or
		// version means the message is raw and unvalidated, not invalid.
		return out
	}
	out.SchemaKey = key

	if c.registry != nil {
		if fieldErrs := c.registry.Validate(key, payload); len(fieldErrs) > 0 {
			out.Err = &schema.Error{Key: key, Fields: fieldErrs}
			c.observeValidationFailure(key)
			c.deadLetterAndLog(ctx, record, out.Err)
			return out
		}
	}

	return out
}

func (c *Consumer) deadLetterAndLog(ctx context.Context, record *kgo.Record, cause error) {
	c.logger.Error("dead-lettering invalid record",
		"topic", record.Topic,
		"partition", record.Partition,
		"offset", record.Offset,
		"error", cause,
	)

	if c.deadLetter == nil {
		return
	}

	dlHeaders := headers.New().
		SetString(headers.OriginalTopic, record.Topic).
		SetString(headers.Error, cause.Error())

	topic := "dead-letter." + record.Topic
	if err := c.deadLetter.SendRaw(ctx, topic, record.Key, record.Value, dlHeaders); err != nil {
		c.logger.Error("failed to publish to dead-letter topic", "topic", topic, "error", err)
	}
}

func (c *Consumer) observeValidationFailure(key schema.Key) {
	if c.metrics == nil {
		return
	}
	c.metrics.ValidationFailures.WithLabelValues(key.String(), "consume").Inc()
}
