package saga

import "time"

// MetricsCollector observes engine activity. It never affects control flow;
// every call site tolerates a collector that does nothing. A Prometheus
// implementation lives in middleware/metrics.
type MetricsCollector interface {
	// SagaStarted is called when an execution is created.
	SagaStarted(sagaType string)

	// SagaFinished is called at the terminal transition.
	SagaFinished(sagaType string, status Status, duration time.Duration)

	// StepExecuted is called after each forward step attempt.
	StepExecuted(sagaType, step string, classification Classification, succeeded bool, duration time.Duration)

	// StepCompensated is called after each compensation attempt.
	StepCompensated(sagaType, step string, succeeded bool)

	// LockConflict is called when a lock batch acquisition attempt conflicts.
	LockConflict(sagaType string)

	// RecoveryResumed is called when recovery resumes an orphaned execution.
	RecoveryResumed(sagaType string)

	// AlertRaised is called for states requiring human judgment:
	// compensation failures and unresolved recovery ambiguity.
	AlertRaised(sagaType, category string)
}

// Alert categories passed to MetricsCollector.AlertRaised.
const (
	AlertCompensationFailed = "compensation_failed"
	AlertRecoveryAmbiguous  = "recovery_ambiguous"
)

// noopMetrics is a no-op MetricsCollector.
type noopMetrics struct{}

func (noopMetrics) SagaStarted(string)                                           {}
func (noopMetrics) SagaFinished(string, Status, time.Duration)                   {}
func (noopMetrics) StepExecuted(string, string, Classification, bool, time.Duration) {}
func (noopMetrics) StepCompensated(string, string, bool)                         {}
func (noopMetrics) LockConflict(string)                                          {}
func (noopMetrics) RecoveryResumed(string)                                       {}
func (noopMetrics) AlertRaised(string, string)                                   {}
