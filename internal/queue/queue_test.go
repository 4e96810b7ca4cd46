package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestMessageAckCallbacks(t *testing.T) {
	t.Parallel()

	var acked, nacked int
	msg := Message{Body: []byte("x")}.WithAcker(func() { acked++ }, func() { nacked++ })
	msg.Ack()
	msg.Nack()
	assert.Equal(t, 1, acked)
	assert.Equal(t, 1, nacked)

	// Unbound messages settle silently.
	Message{}.Ack()
	Message{}.Nack()
}

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	var msg Message
	InjectTrace(ctx, &msg)
	require.Contains(t, msg.Attributes, "traceparent")

	got := trace.SpanContextFromContext(ExtractTrace(context.Background(), msg))
	assert.Equal(t, traceID, got.TraceID())
	assert.True(t, got.IsRemote())
}
