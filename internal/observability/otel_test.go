package observability

import (
	"context"
	"errors"
	"testing"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "api-key=abc, broken ,x-team = sync,=nokey")
	t.Setenv("OTEL_SAMPLER_RATIO", "3")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.ServiceName != DefaultServiceName {
		t.Fatalf("config: %+v", cfg)
	}
	if len(cfg.Headers) != 2 || cfg.Headers["api-key"] != "abc" || cfg.Headers["x-team"] != "sync" {
		t.Fatalf("headers: %v", cfg.Headers)
	}
	if cfg.SampleRatio != 1 {
		t.Fatalf("ratio should clamp to 1: %v", cfg.SampleRatio)
	}

	t.Setenv("OTEL_SAMPLER_RATIO", "-0.5")
	if got := TracingConfigFromEnv().SampleRatio; got != 0 {
		t.Fatalf("ratio should clamp to 0: %v", got)
	}
	t.Setenv("OTEL_SAMPLER_RATIO", "lots")
	if got := TracingConfigFromEnv().SampleRatio; got != 0.1 {
		t.Fatalf("unparseable ratio should fall back: %v", got)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), nil, TracingConfig{})
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	// spans work against the no-op provider
	_, span := StartSpan(context.Background(), "outbox.drain")
	EndSpan(span, errors.New("boom"))
}
