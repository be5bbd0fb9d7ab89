package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	buffer := &bytes.Buffer{}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "msg"

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(buffer),
		zap.InfoLevel,
	)
	old := Log
	Log = zap.New(core)
	t.Cleanup(func() { Log = old })
	return buffer
}

func TestLogger_Info_WithTraceAndRequestID(t *testing.T) {
	buffer := captureLog(t)

	ctx := context.WithValue(context.Background(), TraceIdKey, "trace-1")
	ctx = context.WithValue(ctx, RequestIdKey, "req-1")

	Info(ctx, "order placed", zap.String("market", "BTC/USD"), zap.Int("executions", 2))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry), "日志输出必须是合法的 JSON")

	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "order placed", entry["msg"])
	assert.Equal(t, "BTC/USD", entry["market"])
	assert.Equal(t, float64(2), entry["executions"])
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.Equal(t, "req-1", entry["request_id"])
}

func TestLogger_TraceIDFromSpanContext(t *testing.T) {
	buffer := captureLog(t)

	tid, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	sid, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = context.WithValue(ctx, TraceIdKey, "ignored")

	Warn(ctx, "broker publish failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
}

func TestLogger_Error_NoTraceID(t *testing.T) {
	buffer := captureLog(t)

	Error(context.Background(), "wal flush failed", zap.String("market", "ETH/USD"))

	var entry map[string]interface{}
	_ = json.Unmarshal(buffer.Bytes(), &entry)

	_, exists := entry["trace_id"]
	assert.False(t, exists, "没有 TraceID 的 Context 不应该输出 trace_id 字段")
	assert.Equal(t, "error", entry["level"])
}

func TestLogger_DefaultIsNop(t *testing.T) {
	require.NotNil(t, Log)
	assert.NotPanics(t, func() {
		Warn(nil, "no init")
		Sync()
	})
}
