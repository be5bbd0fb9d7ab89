package trace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTrace_StdoutToFile(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	path := filepath.Join(t.TempDir(), "spans.json")
	cfg := Config{Exporter: "stdout", Endpoint: path}
	require.True(t, cfg.Enabled())
	shutdown, err := InitTrace(context.Background(), "matching-engine-test", cfg)
	require.NoError(t, err)

	ctx, span := otel.Tracer("test").Start(context.Background(), "place-order")
	id := TraceID(ctx)
	assert.Len(t, id, 32)
	span.End()
	require.NoError(t, shutdown(context.Background()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "place-order")
	assert.Contains(t, string(raw), id)
	assert.Contains(t, string(raw), "matching-engine-test")
}

func TestInitTrace_Errors(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	_, err := InitTrace(context.Background(), "x", Config{Exporter: "zipkin", Endpoint: "x"})
	assert.Error(t, err)
	_, err = InitTrace(context.Background(), "x", Config{Exporter: "stdout", Endpoint: filepath.Join(t.TempDir(), "no", "such", "dir")})
	assert.Error(t, err)
	assert.Empty(t, TraceID(context.Background()))
}
