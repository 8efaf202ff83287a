package transport

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/trace"

	"github.com/arc-pbc-co/arcnet-scheduler/pkg/headers"
)

func TestProcessRecord_SeedsCtxFromTraceParentHeader(t *testing.T) {
	c := &Consumer{logger: hclog.NewNullLogger(), topic: "test-topic"}

	traceParent := "00-0102030405060708090a0b0c0d0e0f10-0102030405060708-01"
	hdrs := headers.New().SetString(headers.TraceParent, traceParent)

	record := &kgo.Record{
		Topic:   "test-topic",
		Value:   []byte(`{}`),
		Headers: toKgoHeaders(hdrs),
	}

	out := c.processRecord(context.Background(), record)
	require.NotNil(t, out.Ctx)

	sc := trace.SpanContextFromContext(out.Ctx)
	assert.True(t, sc.IsValid())
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", sc.TraceID().String())
	assert.Equal(t, "0102030405060708", sc.SpanID().String())
	assert.True(t, sc.IsSampled())
}

func TestProcessRecord_NoTraceParentHeaderFallsBackToParentCtx(t *testing.T) {
	c := &Consumer{logger: hclog.NewNullLogger(), topic: "test-topic"}

	record := &kgo.Record{
		Topic: "test-topic",
		Value: []byte(`{}`),
	}

	ctx := context.Background()
	out := c.processRecord(ctx, record)
	assert.Equal(t, ctx, out.Ctx)
}
