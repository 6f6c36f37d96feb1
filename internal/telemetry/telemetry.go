// Package telemetry provides OpenTelemetry tracing for completion calls.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/r3d91ll/llm-chat-simulator"

// Config holds telemetry configuration.
type Config struct {
	Enabled     bool
	Endpoint    string // OTLP/HTTP collector, e.g. "localhost:6006" for Phoenix
	ProjectName string
	ServiceName string
	Version     string
}

// DefaultConfig returns default telemetry config.
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Endpoint:    "localhost:6006",
		ServiceName: "chatsim",
		Version:     "dev",
	}
}

var (
	mu       sync.RWMutex
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
)

// Init installs the global tracer. A disabled config installs a no-op tracer.
func Init(ctx context.Context, cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if !cfg.Enabled {
		tracer = otel.Tracer(instrumentationName)
		return nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithURLPath("/v1/traces"),
	)
	if err != nil {
		return err
	}

	// resource.Default() is skipped to avoid schema URL conflicts with semconv.
	res := resource.NewWithAttributes(
		"",
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
		attribute.String("openinference.project.name", cfg.ProjectName),
	)

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	tracer = provider.Tracer(instrumentationName)
	return nil
}

// Shutdown flushes pending spans and stops the exporter.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	p := provider
	provider = nil
	mu.Unlock()

	if p == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return p.Shutdown(shutdownCtx)
}

// Tracer returns the active tracer.
func Tracer() trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	if tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return tracer
}

// LLMSpan wraps a span around one completion request.
type LLMSpan struct {
	span      trace.Span
	startTime time.Time
}

// StartLLMSpan starts a span for a completion call made on behalf of speaker.
func StartLLMSpan(ctx context.Context, name, model, speaker string) (context.Context, *LLMSpan) {
	ctx, span := Tracer().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.request.model", model),
			attribute.String("llm.speaker", speaker),
			attribute.String("llm.system", "chatsim"),
		),
	)
	return ctx, &LLMSpan{span: span, startTime: time.Now()}
}

// SetInput records the prompt.
func (s *LLMSpan) SetInput(prompt string) {
	s.span.SetAttributes(attribute.String("llm.prompts.0.content", prompt))
}

// SetOutput records the completion text and why generation stopped.
func (s *LLMSpan) SetOutput(text, finishReason string) {
	s.span.SetAttributes(
		attribute.String("llm.completions.0.content", text),
		attribute.String("llm.completions.0.finish_reason", finishReason),
	)
}

// SetTokens records token counts if available.
func (s *LLMSpan) SetTokens(promptTokens, completionTokens int) {
	if promptTokens > 0 {
		s.span.SetAttributes(attribute.Int("llm.token_count.prompt", promptTokens))
	}
	if completionTokens > 0 {
		s.span.SetAttributes(attribute.Int("llm.token_count.completion", completionTokens))
	}
}

// SetError records an error on the span.
func (s *LLMSpan) SetError(err error) {
	s.span.RecordError(err)
	s.span.SetAttributes(attribute.Bool("error", true))
}

// End completes the span.
func (s *LLMSpan) End() {
	s.span.SetAttributes(attribute.Int64("llm.latency_ms", time.Since(s.startTime).Milliseconds()))
	s.span.End()
}
