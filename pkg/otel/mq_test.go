package otel

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestMQHeaderCarrier_TraceContextRoundTrip(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})

	prop := propagation.TraceContext{}
	carrier := NewMQHeaderCarrier(amqp.Table{"x-retry": int64(1)})
	prop.Inject(trace.ContextWithSpanContext(context.Background(), sc), carrier)

	assert.ElementsMatch(t, []string{"x-retry", "traceparent"}, carrier.Keys())
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", carrier.Get("traceparent"))
	// 非字符串的头不当作 trace 字段
	assert.Empty(t, carrier.Get("x-retry"))

	got := trace.SpanContextFromContext(prop.Extract(context.Background(), carrier))
	assert.Equal(t, traceID, got.TraceID())
	assert.Equal(t, spanID, got.SpanID())
}

func TestNewMQHeaderCarrier_NilHeaders(t *testing.T) {
	carrier := NewMQHeaderCarrier(nil)
	carrier.Set("traceparent", "x")
	assert.Equal(t, []string{"traceparent"}, carrier.Keys())
}
