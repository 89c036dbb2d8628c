package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arkivo/saga/adapters"
)

// RecoveryOption configures a Recovery worker.
type RecoveryOption func(*Recovery)

// WithGraceWindow sets how long an execution must have been idle before a
// scan considers it orphaned. Keeps the scanner away from executions that a
// live executor is still advancing.
func WithGraceWindow(window time.Duration) RecoveryOption {
	return func(r *Recovery) {
		if window > 0 {
			r.graceWindow = window
		}
	}
}

// WithScanInterval sets how often the background loop scans for orphaned
// executions.
func WithScanInterval(interval time.Duration) RecoveryOption {
	return func(r *Recovery) {
		if interval > 0 {
			r.scanInterval = interval
		}
	}
}

// WithRecoveryLogger sets the logger.
func WithRecoveryLogger(logger Logger) RecoveryOption {
	return func(r *Recovery) {
		r.logger = logger
	}
}

// WithRecoveryMetrics sets the metrics collector.
func WithRecoveryMetrics(metrics MetricsCollector) RecoveryOption {
	return func(r *Recovery) {
		r.metrics = metrics
	}
}

// Recovery scans the state store for non-terminal executions that have gone
// quiet and drives each one to a terminal status through the executor. The
// executor's resume path handles lease reclaim and the crashed-step
// disambiguation; Recovery only finds the work and reports on it.
//
// Multiple recovery workers may run against the same store. The resource
// locks arbitrate: a worker that loses the lock race skips the execution
// and leaves it to the winner.
type Recovery struct {
	executor *Executor
	store    adapters.StateStore
	logger   Logger
	metrics  MetricsCollector

	graceWindow  time.Duration
	scanInterval time.Duration

	running atomic.Bool
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// NewRecovery creates a Recovery worker over the executor's state store.
func NewRecovery(executor *Executor, store adapters.StateStore, opts ...RecoveryOption) *Recovery {
	r := &Recovery{
		executor:     executor,
		store:        store,
		logger:       &noopLogger{},
		metrics:      noopMetrics{},
		graceWindow:  time.Minute,
		scanInterval: 30 * time.Second,
		stopCh:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run performs a single recovery scan and returns the number of executions
// driven to a terminal status. Errors on individual executions are logged
// and do not abort the scan; only a failure to list candidates is returned.
func (r *Recovery) Run(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.graceWindow)

	candidates, err := r.store.FindNonTerminal(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("saga: scanning for orphaned executions: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	r.logger.Info("Recovery scan found orphaned executions", "count", len(candidates))

	recovered := 0
	for _, exec := range candidates {
		if err := ctx.Err(); err != nil {
			return recovered, err
		}

		result, err := r.executor.Resume(ctx, exec)
		if err != nil {
			if errors.Is(err, ErrLockConflict) {
				// Another worker holds the execution's locks; it owns the
				// resume.
				r.logger.Debug("Skipping execution held by another worker",
					"sagaId", exec.ID)
				continue
			}
			r.logger.Error("Recovery resume failed",
				"sagaId", exec.ID,
				"sagaType", exec.Type,
				"error", err)
			continue
		}

		recovered++
		r.metrics.RecoveryResumed(exec.Type)
		r.logger.Info("Execution recovered",
			"sagaId", exec.ID,
			"sagaType", exec.Type,
			"status", result.Status.String())
	}

	return recovered, nil
}

// Start begins the background scan loop.
func (r *Recovery) Start(ctx context.Context) error {
	if r.running.Load() {
		return ErrRecoveryRunning
	}

	r.running.Store(true)
	r.stopCh = make(chan struct{})

	r.wg.Add(1)
	go r.scanLoop(ctx)

	r.logger.Info("Recovery worker started",
		"graceWindow", r.graceWindow.String(),
		"scanInterval", r.scanInterval.String())
	return nil
}

// Stop gracefully stops the worker, waiting for an in-flight scan.
func (r *Recovery) Stop(ctx context.Context) error {
	if !r.running.Load() {
		return nil
	}

	close(r.stopCh)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.running.Store(false)
		r.logger.Info("Recovery worker stopped")
		return nil
	case <-ctx.Done():
		r.running.Store(false)
		return ctx.Err()
	}
}

// IsRunning returns true if the worker is running.
func (r *Recovery) IsRunning() bool {
	return r.running.Load()
}

// scanLoop runs recovery scans on a timer until stopped.
func (r *Recovery) scanLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("Recovery scan failed", "error", err)
			}
		}
	}
}
