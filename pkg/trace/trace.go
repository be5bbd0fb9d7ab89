package trace

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config 链路追踪配置，Endpoint 为空时不启用
type Config struct {
	// otlp（默认，OTLP gRPC，比如本机 jaeger 的 localhost:4317）| stdout
	Exporter string `yaml:"exporter" mapstructure:"exporter"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	// 采样比例，<=0 或 >=1 全采
	SampleRatio float64 `yaml:"sample_ratio" mapstructure:"sample_ratio"`
}

func (c Config) Enabled() bool { return c.Endpoint != "" }

// InitTrace 安装全局 TracerProvider 和 W3C propagator，返回退出时 flush 用的关闭函数
func InitTrace(ctx context.Context, serviceName string, cfg Config) (func(context.Context) error, error) {
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	)

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", "otlp":
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		exp, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		return exp, nil
	case "stdout":
		// Endpoint 当文件路径用，"-" 表示标准输出
		if cfg.Endpoint == "-" {
			return stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
		}
		f, err := os.OpenFile(cfg.Endpoint, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(f))
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		return &fileExporter{SpanExporter: exp, f: f}, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
}

// fileExporter 关闭时顺带关文件
type fileExporter struct {
	sdktrace.SpanExporter
	f *os.File
}

func (e *fileExporter) Shutdown(ctx context.Context) error {
	err := e.SpanExporter.Shutdown(ctx)
	if cerr := e.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// TraceID 当前 span 的 trace id，没有 span 返回空串
func TraceID(ctx context.Context) string {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
