// Package tracing provides OpenTelemetry integration for saga.
//
// This package instruments saga definitions so every step execution and
// compensation produces a span carrying the saga ID, step name, attempt,
// and classification.
//
// Basic usage:
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer(tracing.WithServiceName("records-api"))
//	registry.MustRegister(tracing.WrapDefinition(tracer, definition))
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/arkivo/saga"
)

const (
	// TracerName is the name of the saga tracer.
	TracerName = "github.com/arkivo/saga"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "saga"
)

// Span attribute keys.
const (
	AttrSagaType       = attribute.Key("saga.type")
	AttrStep           = attribute.Key("saga.step")
	AttrClassification = attribute.Key("saga.step.classification")
	AttrService        = attribute.Key("service.name")
)

// Tracer wraps an OpenTelemetry tracer for saga operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a new Tracer with the global TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

// WrapDefinition returns a copy of the definition with every step's execute,
// compensate, and applied-check wrapped in spans. The original definition is
// not modified.
func WrapDefinition(tracer *Tracer, def *saga.Definition) *saga.Definition {
	wrapped := *def
	wrapped.Steps = make([]saga.Step, len(def.Steps))

	for i, step := range def.Steps {
		wrapped.Steps[i] = WrapStep(tracer, def.Type, step)
	}

	return &wrapped
}

// WrapStep returns a copy of the step with its functions instrumented.
func WrapStep(tracer *Tracer, sagaType string, step saga.Step) saga.Step {
	instrumented := step

	attrs := []attribute.KeyValue{
		AttrService.String(tracer.serviceName),
		AttrSagaType.String(sagaType),
		AttrStep.String(step.Name),
		AttrClassification.String(string(step.Classification)),
	}

	execute := step.Execute
	instrumented.Execute = func(ctx context.Context, sc saga.Context) (saga.Context, error) {
		ctx, span := tracer.tracer.Start(ctx, "saga.step "+step.Name,
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		output, err := execute(ctx, sc)
		recordOutcome(span, err)
		return output, err
	}

	if compensate := step.Compensate; compensate != nil {
		instrumented.Compensate = func(ctx context.Context, sc saga.Context, output saga.Context) error {
			ctx, span := tracer.tracer.Start(ctx, "saga.compensate "+step.Name,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			err := compensate(ctx, sc, output)
			recordOutcome(span, err)
			return err
		}
	}

	if wasApplied := step.WasApplied; wasApplied != nil {
		instrumented.WasApplied = func(ctx context.Context, sc saga.Context) (bool, error) {
			ctx, span := tracer.tracer.Start(ctx, "saga.was_applied "+step.Name,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			applied, err := wasApplied(ctx, sc)
			recordOutcome(span, err)
			span.SetAttributes(attribute.Bool("saga.step.applied", applied))
			return applied, err
		}
	}

	return instrumented
}

// recordOutcome sets the span status from an operation result.
func recordOutcome(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
