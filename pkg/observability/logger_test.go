package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestNewLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(logrus.WarnLevel, "text", &buf)

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "level=warning")
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(logrus.InfoLevel, "json", &buf)

	logger.WithField("invoice_id", 42).Info("Invoice resolved")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Invoice resolved", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, float64(42), entry["invoice_id"])
}

func TestNewLogger_DefaultOutput(t *testing.T) {
	logger := NewLogger(logrus.InfoLevel, "text", nil)
	assert.NotNil(t, logger.Out)
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestWithTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(logrus.InfoLevel, "json", &buf)

	t.Run("no span", func(t *testing.T) {
		got := WithTraceContext(context.Background(), logger)
		assert.Equal(t, logrus.FieldLogger(logger), got)
	})

	t.Run("non-recording span", func(t *testing.T) {
		ctx := trace.ContextWithSpanContext(context.Background(), trace.SpanContext{})
		got := WithTraceContext(ctx, logger)
		assert.Equal(t, logrus.FieldLogger(logger), got)
	})

	t.Run("recording span", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		defer tp.Shutdown(context.Background())

		ctx, span := tp.Tracer("test").Start(context.Background(), "op")
		defer span.End()

		buf.Reset()
		WithTraceContext(ctx, logger).Info("traced")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
		assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
	})
}
