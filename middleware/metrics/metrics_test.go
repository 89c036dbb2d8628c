package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkivo/saga/adapters"
)

func TestNew(t *testing.T) {
	t.Run("creates metrics with defaults", func(t *testing.T) {
		m := New()

		assert.NotNil(t, m)
		assert.Equal(t, "saga", m.namespace)
		assert.Equal(t, "unknown", m.serviceName)
	})

	t.Run("with custom options", func(t *testing.T) {
		m := New(
			WithNamespace("custom"),
			WithSubsystem("workflows"),
			WithMetricsServiceName("records-api"),
		)

		assert.Equal(t, "custom", m.namespace)
		assert.Equal(t, "workflows", m.subsystem)
		assert.Equal(t, "records-api", m.serviceName)
	})
}

func TestMetrics_Collectors(t *testing.T) {
	m := New()

	assert.Len(t, m.Collectors(), 9)
}

func TestMetrics_Register(t *testing.T) {
	t.Run("registers with custom registry", func(t *testing.T) {
		m := New(WithNamespace("test_register"))
		registry := prometheus.NewRegistry()

		require.NoError(t, m.Register(registry))
	})

	t.Run("returns error on duplicate registration", func(t *testing.T) {
		m := New(WithNamespace("test_dup"))
		registry := prometheus.NewRegistry()

		require.NoError(t, m.Register(registry))
		require.Error(t, m.Register(registry))
	})
}

func TestMetrics_SagaCounters(t *testing.T) {
	m := New(WithNamespace("test_saga"), WithMetricsServiceName("test"))
	registry := prometheus.NewRegistry()
	_ = m.Register(registry)

	m.SagaStarted("PublishRecord")
	m.SagaStarted("PublishRecord")
	m.SagaFinished("PublishRecord", adapters.StatusCompleted, 250*time.Millisecond)
	m.SagaFinished("PublishRecord", adapters.StatusCompensated, time.Second)

	started := testutil.ToFloat64(m.sagasStartedTotal.WithLabelValues("test", "PublishRecord"))
	assert.Equal(t, float64(2), started)

	completed := testutil.ToFloat64(m.sagasFinishedTotal.WithLabelValues("test", "PublishRecord", adapters.StatusCompleted.String()))
	assert.Equal(t, float64(1), completed)

	compensated := testutil.ToFloat64(m.sagasFinishedTotal.WithLabelValues("test", "PublishRecord", adapters.StatusCompensated.String()))
	assert.Equal(t, float64(1), compensated)
}

func TestMetrics_StepExecuted(t *testing.T) {
	m := New(WithNamespace("test_step"), WithMetricsServiceName("test"))
	registry := prometheus.NewRegistry()
	_ = m.Register(registry)

	m.StepExecuted("PublishRecord", "DraftRecord", adapters.ClassificationACID, true, 10*time.Millisecond)
	m.StepExecuted("PublishRecord", "IndexRecord", adapters.ClassificationDerived, false, 10*time.Millisecond)

	success := testutil.ToFloat64(m.stepsExecutedTotal.WithLabelValues("test", "PublishRecord", "DraftRecord", "acid", StatusSuccess))
	assert.Equal(t, float64(1), success)

	failed := testutil.ToFloat64(m.stepsExecutedTotal.WithLabelValues("test", "PublishRecord", "IndexRecord", "derived", StatusError))
	assert.Equal(t, float64(1), failed)
}

func TestMetrics_StepCompensated(t *testing.T) {
	m := New(WithNamespace("test_comp"), WithMetricsServiceName("test"))
	registry := prometheus.NewRegistry()
	_ = m.Register(registry)

	m.StepCompensated("PublishRecord", "DraftRecord", true)
	m.StepCompensated("PublishRecord", "DraftRecord", false)

	success := testutil.ToFloat64(m.stepsCompensatedTotal.WithLabelValues("test", "PublishRecord", "DraftRecord", StatusSuccess))
	assert.Equal(t, float64(1), success)

	failed := testutil.ToFloat64(m.stepsCompensatedTotal.WithLabelValues("test", "PublishRecord", "DraftRecord", StatusError))
	assert.Equal(t, float64(1), failed)
}

func TestMetrics_ContentionAndAlerts(t *testing.T) {
	m := New(WithNamespace("test_ops"), WithMetricsServiceName("test"))
	registry := prometheus.NewRegistry()
	_ = m.Register(registry)

	m.LockConflict("PublishRecord")
	m.LockConflict("PublishRecord")
	m.RecoveryResumed("PublishRecord")
	m.AlertRaised("PublishRecord", "compensation_failed")

	conflicts := testutil.ToFloat64(m.lockConflictsTotal.WithLabelValues("test", "PublishRecord"))
	assert.Equal(t, float64(2), conflicts)

	resumed := testutil.ToFloat64(m.recoveriesResumedTotal.WithLabelValues("test", "PublishRecord"))
	assert.Equal(t, float64(1), resumed)

	alerts := testutil.ToFloat64(m.alertsTotal.WithLabelValues("test", "PublishRecord", "compensation_failed"))
	assert.Equal(t, float64(1), alerts)
}
