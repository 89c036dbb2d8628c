// Package metrics provides Prometheus metrics integration for saga.
//
// This package implements saga.MetricsCollector so an executor, recovery
// worker, and dispatcher can report saga throughput, step outcomes, lock
// contention, and operator alerts.
//
// Basic usage:
//
//	collector := metrics.New(metrics.WithMetricsServiceName("records-api"))
//	prometheus.MustRegister(collector.Collectors()...)
//
//	executor := saga.NewExecutor(registry,
//		saga.WithStateStore(store),
//		saga.WithMetrics(collector),
//	)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arkivo/saga"
	"github.com/arkivo/saga/adapters"
)

// Default metric labels.
const (
	LabelSagaType       = "saga_type"
	LabelStep           = "step"
	LabelClassification = "classification"
	LabelStatus         = "status"
	LabelCategory       = "category"
	LabelService        = "service"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Ensure interface compliance at compile time
var _ saga.MetricsCollector = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for saga.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	// Saga metrics
	sagasStartedTotal  *prometheus.CounterVec
	sagasFinishedTotal *prometheus.CounterVec
	sagaDuration       *prometheus.HistogramVec

	// Step metrics
	stepsExecutedTotal    *prometheus.CounterVec
	stepDuration          *prometheus.HistogramVec
	stepsCompensatedTotal *prometheus.CounterVec

	// Contention and recovery metrics
	lockConflictsTotal     *prometheus.CounterVec
	recoveriesResumedTotal *prometheus.CounterVec

	// Operator alerts
	alertsTotal *prometheus.CounterVec
}

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithMetricsServiceName sets the service name label.
func WithMetricsServiceName(name string) MetricsOption {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a new Metrics instance with default settings.
func New(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		namespace:   "saga",
		subsystem:   "",
		serviceName: "unknown",
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initMetrics()
	return m
}

// initMetrics initializes all Prometheus metrics.
func (m *Metrics) initMetrics() {
	m.sagasStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "executions_started_total",
			Help:      "Total number of saga executions started.",
		},
		[]string{LabelService, LabelSagaType},
	)

	m.sagasFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "executions_finished_total",
			Help:      "Total number of saga executions by terminal status.",
		},
		[]string{LabelService, LabelSagaType, LabelStatus},
	)

	m.sagaDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "execution_duration_seconds",
			Help:      "Duration of saga executions in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelSagaType, LabelStatus},
	)

	m.stepsExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "steps_executed_total",
			Help:      "Total number of step dispatches by outcome.",
		},
		[]string{LabelService, LabelSagaType, LabelStep, LabelClassification, LabelStatus},
	)

	m.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "step_duration_seconds",
			Help:      "Duration of step execution in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelSagaType, LabelStep},
	)

	m.stepsCompensatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "steps_compensated_total",
			Help:      "Total number of step compensations by outcome.",
		},
		[]string{LabelService, LabelSagaType, LabelStep, LabelStatus},
	)

	m.lockConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "lock_conflicts_total",
			Help:      "Total number of resource lock conflicts during acquisition.",
		},
		[]string{LabelService, LabelSagaType},
	)

	m.recoveriesResumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "recoveries_resumed_total",
			Help:      "Total number of executions resumed by a recovery scan.",
		},
		[]string{LabelService, LabelSagaType},
	)

	m.alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "alerts_total",
			Help:      "Total number of conditions requiring operator attention.",
		},
		[]string{LabelService, LabelSagaType, LabelCategory},
	)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.sagasStartedTotal,
		m.sagasFinishedTotal,
		m.sagaDuration,
		m.stepsExecutedTotal,
		m.stepDuration,
		m.stepsCompensatedTotal,
		m.lockConflictsTotal,
		m.recoveriesResumedTotal,
		m.alertsTotal,
	}
}

// Register registers all collectors with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// SagaStarted records a saga submission that passed the idempotency and
// lock gates.
func (m *Metrics) SagaStarted(sagaType string) {
	m.sagasStartedTotal.WithLabelValues(m.serviceName, sagaType).Inc()
}

// SagaFinished records a terminal transition with its duration.
func (m *Metrics) SagaFinished(sagaType string, status adapters.Status, duration time.Duration) {
	m.sagasFinishedTotal.WithLabelValues(m.serviceName, sagaType, status.String()).Inc()
	m.sagaDuration.WithLabelValues(m.serviceName, sagaType, status.String()).Observe(duration.Seconds())
}

// StepExecuted records one step dispatch.
func (m *Metrics) StepExecuted(sagaType, step string, classification adapters.Classification, succeeded bool, duration time.Duration) {
	status := StatusSuccess
	if !succeeded {
		status = StatusError
	}
	m.stepsExecutedTotal.WithLabelValues(m.serviceName, sagaType, step, string(classification), status).Inc()
	m.stepDuration.WithLabelValues(m.serviceName, sagaType, step).Observe(duration.Seconds())
}

// StepCompensated records one compensation attempt.
func (m *Metrics) StepCompensated(sagaType, step string, succeeded bool) {
	status := StatusSuccess
	if !succeeded {
		status = StatusError
	}
	m.stepsCompensatedTotal.WithLabelValues(m.serviceName, sagaType, step, status).Inc()
}

// LockConflict records a lock acquisition retry caused by contention.
func (m *Metrics) LockConflict(sagaType string) {
	m.lockConflictsTotal.WithLabelValues(m.serviceName, sagaType).Inc()
}

// RecoveryResumed records an execution resumed by a recovery scan.
func (m *Metrics) RecoveryResumed(sagaType string) {
	m.recoveriesResumedTotal.WithLabelValues(m.serviceName, sagaType).Inc()
}

// AlertRaised records a condition that needs an operator.
func (m *Metrics) AlertRaised(sagaType, category string) {
	m.alertsTotal.WithLabelValues(m.serviceName, sagaType, category).Inc()
}
