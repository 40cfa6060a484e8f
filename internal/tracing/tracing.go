// Package tracing wires OpenTelemetry spans around job runs: one root span
// per job, with child spans for each assistant turn and tool result the
// Job Runner streams. Gated entirely by config.TelemetryConfig.Enabled —
// when disabled, Setup installs the OTel no-op tracer and every span call
// in this package is a cheap no-op.
//
// Grounded on the teacher's go.mod, which already carries the OTel SDK and
// both OTLP exporters as direct dependencies; the teacher's own
// internal/agent/loop_tracing.go records LLM/tool/agent spans into a
// custom Postgres-backed collector instead of actual OTel, so this package
// keeps the teacher's span boundaries (root run span, one child per
// assistant/tool message) but emits them through the real SDK the
// teacher's go.mod already declares.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/fleetsupervisor/fleetd/internal/config"
)

const instrumentationName = "github.com/fleetsupervisor/fleetd/internal/fleet"

// Provider wraps the SDK TracerProvider so callers can Shutdown it on fleet
// stop without importing the sdktrace package themselves.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Setup builds a Provider from cfg. When cfg.Enabled is false, the returned
// Provider wraps OTel's global no-op tracer and Shutdown is a no-op.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: otel.Tracer(instrumentationName)}, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: build exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "fleetd"
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource(serviceName)),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, tracer: tp.Tracer(instrumentationName)}, nil
}

func newResource(serviceName string) *resource.Resource {
	return resource.NewSchemaless(attribute.String("service.name", serviceName))
}

func newExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	switch cfg.OTLPProtocol {
	case "http":
		return otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint), otlptracehttp.WithInsecure())
	default:
		return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
	}
}

// Shutdown flushes and stops the underlying TracerProvider, if any.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// StartJobSpan opens the root span for one job run.
func (p *Provider) StartJobSpan(ctx context.Context, jobID, agentName, triggerType string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "job.run", trace.WithAttributes(
		attribute.String("fleet.job_id", jobID),
		attribute.String("fleet.agent_name", agentName),
		attribute.String("fleet.trigger_type", triggerType),
	))
}

// StartMessageSpan opens a child span for one driver message (an assistant
// turn, a tool call, or a tool result) within an already-open job span.
func (p *Provider) StartMessageSpan(ctx context.Context, messageType, name string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("fleet.message_type", messageType),
	))
}

// EndJobSpan finalizes the root span with the job's terminal outcome.
func EndJobSpan(span trace.Span, success bool, errMessage string) {
	if success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, errMessage)
	}
	span.End()
}
