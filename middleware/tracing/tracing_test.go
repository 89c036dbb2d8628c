package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/arkivo/saga"
)

func setupTestTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})

	tracer := NewTracer(WithTracerProvider(tp), WithServiceName("test"))
	return tracer, exporter
}

func assertAttribute(t *testing.T, attrs []attribute.KeyValue, key, want string) {
	t.Helper()
	for _, attr := range attrs {
		if string(attr.Key) == key {
			assert.Equal(t, want, attr.Value.AsString())
			return
		}
	}
	t.Errorf("attribute %q not found", key)
}

func TestNewTracer(t *testing.T) {
	t.Run("creates tracer with defaults", func(t *testing.T) {
		tracer := NewTracer()

		assert.NotNil(t, tracer)
		assert.Equal(t, DefaultServiceName, tracer.ServiceName())
		assert.NotNil(t, tracer.Tracer())
	})

	t.Run("with custom service name", func(t *testing.T) {
		tracer := NewTracer(WithServiceName("records-api"))

		assert.Equal(t, "records-api", tracer.ServiceName())
	})
}

func TestTracer_StartSpan(t *testing.T) {
	tracer, exporter := setupTestTracer(t)

	ctx, span := tracer.StartSpan(context.Background(), "PublishRecordWorkflow")
	span.End()

	assert.NotNil(t, ctx)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "PublishRecordWorkflow", spans[0].Name)
}

func TestWrapStep_Execute(t *testing.T) {
	t.Run("traces successful execution", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)

		step := saga.NewACIDStep("DraftRecord", func(ctx context.Context, sc saga.Context) (saga.Context, error) {
			return saga.Context{"draftId": "d-1"}, nil
		}, nil)
		wrapped := WrapStep(tracer, "PublishRecord", step)

		output, err := wrapped.Execute(context.Background(), saga.Context{})
		require.NoError(t, err)
		assert.Equal(t, "d-1", output["draftId"])

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, "saga.step DraftRecord", spans[0].Name)
		assert.Equal(t, codes.Ok, spans[0].Status.Code)
		assertAttribute(t, spans[0].Attributes, "service.name", "test")
		assertAttribute(t, spans[0].Attributes, "saga.type", "PublishRecord")
		assertAttribute(t, spans[0].Attributes, "saga.step", "DraftRecord")
		assertAttribute(t, spans[0].Attributes, "saga.step.classification", "acid")
	})

	t.Run("traces failed execution", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		stepErr := errors.New("registry unavailable")

		step := saga.NewACIDStep("DraftRecord", func(ctx context.Context, sc saga.Context) (saga.Context, error) {
			return nil, stepErr
		}, nil)
		wrapped := WrapStep(tracer, "PublishRecord", step)

		_, err := wrapped.Execute(context.Background(), saga.Context{})
		require.Error(t, err)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		require.Len(t, spans[0].Events, 1)
		assert.Equal(t, "exception", spans[0].Events[0].Name)
	})
}

func TestWrapStep_Compensate(t *testing.T) {
	tracer, exporter := setupTestTracer(t)

	compensated := false
	step := saga.NewACIDStep("DraftRecord",
		func(ctx context.Context, sc saga.Context) (saga.Context, error) {
			return nil, nil
		},
		func(ctx context.Context, sc saga.Context, output saga.Context) error {
			compensated = true
			return nil
		},
	)
	wrapped := WrapStep(tracer, "PublishRecord", step)

	require.NoError(t, wrapped.Compensate(context.Background(), saga.Context{}, saga.Context{}))
	assert.True(t, compensated)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "saga.compensate DraftRecord", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
}

func TestWrapStep_WasApplied(t *testing.T) {
	tracer, exporter := setupTestTracer(t)

	step := saga.NewAuthoritativeStep("AssignNumber",
		func(ctx context.Context, sc saga.Context) (saga.Context, error) {
			return nil, nil
		},
		func(ctx context.Context, sc saga.Context) (bool, error) {
			return true, nil
		},
	)
	wrapped := WrapStep(tracer, "PublishRecord", step)

	applied, err := wrapped.WasApplied(context.Background(), saga.Context{})
	require.NoError(t, err)
	assert.True(t, applied)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "saga.was_applied AssignNumber", spans[0].Name)

	found := false
	for _, attr := range spans[0].Attributes {
		if string(attr.Key) == "saga.step.applied" {
			found = true
			assert.True(t, attr.Value.AsBool())
		}
	}
	assert.True(t, found, "applied attribute should be set")
}

func TestWrapDefinition(t *testing.T) {
	tracer, exporter := setupTestTracer(t)

	executed := 0
	def := &saga.Definition{
		Type: "PublishRecord",
		Steps: []saga.Step{
			saga.NewACIDStep("DraftRecord", func(ctx context.Context, sc saga.Context) (saga.Context, error) {
				executed++
				return nil, nil
			}, nil),
			saga.NewDerivedStep("IndexRecord", func(ctx context.Context, sc saga.Context) (saga.Context, error) {
				executed++
				return nil, nil
			}, "webhook:https://search.example.test/reindex"),
		},
	}
	original := def.Steps[0].Execute

	wrapped := WrapDefinition(tracer, def)

	require.Len(t, wrapped.Steps, 2)
	assert.Equal(t, def.Type, wrapped.Type)
	for i := range wrapped.Steps {
		assert.Equal(t, def.Steps[i].Name, wrapped.Steps[i].Name)
		assert.Equal(t, def.Steps[i].Classification, wrapped.Steps[i].Classification)
	}

	for _, step := range wrapped.Steps {
		_, err := step.Execute(context.Background(), saga.Context{})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, executed)
	assert.Len(t, exporter.GetSpans(), 2)

	// The original definition is left untouched.
	exporter.Reset()
	_, err := original(context.Background(), saga.Context{})
	require.NoError(t, err)
	assert.Empty(t, exporter.GetSpans())
}
