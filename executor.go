package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arkivo/saga/adapters"
)

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithStateStore sets the durable execution store. Required.
func WithStateStore(store adapters.StateStore) ExecutorOption {
	return func(e *Executor) {
		e.store = store
	}
}

// WithLockStore sets the lock store, wrapping it in a LockManager with
// default settings. Use WithLockManager to customize lease and retries.
func WithLockStore(store adapters.LockStore) ExecutorOption {
	return func(e *Executor) {
		e.locks = NewLockManager(store)
	}
}

// WithLockManager sets a pre-configured lock manager.
func WithLockManager(locks *LockManager) ExecutorOption {
	return func(e *Executor) {
		e.locks = locks
	}
}

// WithIdempotencyStore sets the idempotency store, wrapping it in a manager
// with default settings.
func WithIdempotencyStore(store adapters.IdempotencyStore) ExecutorOption {
	return func(e *Executor) {
		e.idempotency = NewIdempotencyManager(store)
	}
}

// WithIdempotencyManager sets a pre-configured idempotency manager.
func WithIdempotencyManager(m *IdempotencyManager) ExecutorOption {
	return func(e *Executor) {
		e.idempotency = m
	}
}

// WithDispatcher sets the dispatcher that queues failed derived-step
// deliveries for external retry. Optional.
func WithDispatcher(d *Dispatcher) ExecutorOption {
	return func(e *Executor) {
		e.dispatcher = d
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics MetricsCollector) ExecutorOption {
	return func(e *Executor) {
		e.metrics = metrics
	}
}

// Executor runs saga executions: it dispatches steps in order, persists
// every transition before the next in-memory action, and drives compensation
// on failure. It is safe to crash between any two persisted points; Recovery
// resumes from exactly that point.
//
// An Executor is safe for concurrent use. Each individual execution is
// processed by exactly one executor at a time, enforced by the resource
// locks rather than a separate mutex.
type Executor struct {
	registry    *Registry
	store       adapters.StateStore
	locks       *LockManager
	idempotency *IdempotencyManager
	dispatcher  *Dispatcher
	logger      Logger
	metrics     MetricsCollector
}

// NewExecutor creates an Executor for the given registry. The state, lock,
// and idempotency stores must be provided via options before Submit is
// called.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		logger:   &noopLogger{},
		metrics:  noopMetrics{},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Registry returns the executor's definition registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Locks returns the executor's lock manager.
func (e *Executor) Locks() *LockManager {
	return e.locks
}

// validate checks that the required collaborators are wired.
func (e *Executor) validate() error {
	if e.registry == nil {
		return errors.New("saga: registry is required")
	}
	if e.store == nil {
		return errors.New("saga: state store is required")
	}
	if e.locks == nil {
		return errors.New("saga: lock store is required")
	}
	if e.idempotency == nil {
		return errors.New("saga: idempotency store is required")
	}
	return nil
}

// Submit runs one saga invocation to a terminal status and returns its
// result.
//
// A repeated submission with the same idempotency key inside the cached
// result's validity window returns the identical result without touching
// locks or the state store. A concurrent duplicate either waits out the
// lock race and returns the first invocation's result, or gets
// ErrExecutionInFlight when the first invocation is still running with no
// shared resources to wait on. A lock conflict that survives the configured
// retries is returned as a *LockConflictError before any state is created;
// it is retryable, not a saga failure.
//
// Once the first step has been dispatched the invocation is driven to a
// terminal status regardless of ctx cancellation of the control flow;
// ctx still reaches the step implementations, which own their timeouts.
// If a persistence call fails mid-flight, Submit returns the error and
// leaves the execution non-terminal for Recovery to resume.
func (e *Executor) Submit(ctx context.Context, sagaType string, input Context, idempotencyKey string) (*Result, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	if idempotencyKey == "" {
		return nil, ErrMissingIdempotencyKey
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	def, ok := e.registry.Lookup(sagaType)
	if !ok {
		return nil, &TypeNotRegisteredError{SagaType: sagaType}
	}

	cached, err := e.idempotency.GetCached(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		e.logger.Debug("Returning cached result",
			"sagaType", sagaType,
			"idempotencyKey", idempotencyKey,
			"sagaId", cached.SagaID)
		return cached, nil
	}

	sagaID := uuid.NewString()

	var resources []string
	if def.ResourceIDs != nil {
		resources = normalizeResourceIDs(def.ResourceIDs(input))
	}

	// All-or-nothing batch; conflicts are retried with backoff inside the
	// manager and surface only once retries are exhausted.
	if err := e.locks.AcquireAll(ctx, sagaID, resources, func() {
		e.metrics.LockConflict(sagaType)
	}); err != nil {
		return nil, err
	}

	// Second idempotency check, now that the locks are held. A concurrent
	// retry with the same key misses the first check, loses the lock race,
	// and acquires the locks only after the winner has cached its result;
	// the recheck is what keeps it from running the saga a second time.
	cached, err = e.idempotency.GetCached(ctx, idempotencyKey)
	if err == nil && cached == nil {
		// Uncached but existing execution: the winner is still in flight
		// (no shared resources serialize it) or crashed mid-run. Either
		// way the key's invocation exists; never start a duplicate.
		var prior *Execution
		prior, err = e.store.GetByIdempotencyKey(ctx, idempotencyKey)
		if err == nil && prior != nil {
			if prior.Status.IsTerminal() {
				cached = e.resultOf(prior)
			} else {
				err = ErrExecutionInFlight
			}
		}
	}
	if cached != nil || err != nil {
		if rerr := e.locks.Release(ctx, sagaID, resources); rerr != nil {
			e.logger.Warn("Lock release after duplicate submission", "sagaId", sagaID, "error", rerr)
		}
		if err != nil {
			return nil, err
		}
		e.logger.Debug("Returning cached result after lock acquisition",
			"sagaType", sagaType,
			"idempotencyKey", idempotencyKey,
			"sagaId", cached.SagaID)
		return cached, nil
	}

	now := time.Now()
	exec := &Execution{
		ID:             sagaID,
		Type:           sagaType,
		Status:         StatusPending,
		Context:        input.Clone(),
		IdempotencyKey: idempotencyKey,
		ResourceIDs:    resources,
		StartedAt:      now,
		UpdatedAt:      now,
	}

	if err := e.store.Create(ctx, exec); err != nil {
		if rerr := e.locks.Release(ctx, sagaID, resources); rerr != nil {
			e.logger.Warn("Lock release after failed create", "sagaId", sagaID, "error", rerr)
		}
		return nil, err
	}

	e.metrics.SagaStarted(sagaType)
	e.logger.Info("Saga submitted",
		"sagaId", sagaID,
		"sagaType", sagaType,
		"resources", resources)

	return e.run(ctx, def, exec)
}

// Resume drives a rehydrated, non-terminal execution to a terminal status.
// It reclaims the execution's own resource locks (re-acquiring under the
// same holder renews the lease, even one left behind by a crashed process)
// and continues from the last persisted point. Used by Recovery.
func (e *Executor) Resume(ctx context.Context, exec *Execution) (*Result, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, adapters.ErrNilExecution
	}

	def, ok := e.registry.Lookup(exec.Type)
	if !ok {
		return nil, &TypeNotRegisteredError{SagaType: exec.Type}
	}

	if exec.Status.IsTerminal() {
		return e.resultOf(exec), nil
	}

	if err := e.locks.AcquireAll(ctx, exec.ID, exec.ResourceIDs, func() {
		e.metrics.LockConflict(exec.Type)
	}); err != nil {
		return nil, err
	}

	return e.run(ctx, def, exec)
}

// run continues an execution from its persisted status.
func (e *Executor) run(ctx context.Context, def *Definition, exec *Execution) (*Result, error) {
	if exec.Context == nil {
		exec.Context = map[string]interface{}{}
	}

	switch exec.Status {
	case StatusPending:
		if err := e.store.UpdateStatus(ctx, exec.ID, StatusRunning, ""); err != nil {
			return nil, err
		}
		exec.Status = StatusRunning
		return e.runForward(ctx, def, exec)

	case StatusRunning:
		return e.runForward(ctx, def, exec)

	case StatusCompensating:
		failedStep := latestFailedStep(exec)
		return e.compensate(ctx, def, exec, failedStep, errors.New(exec.FailureReason))

	default:
		return e.resultOf(exec), nil
	}
}

// runForward executes steps in order from the current step index. Steps of
// one execution are strictly sequential; no two steps of the same execution
// ever run concurrently.
func (e *Executor) runForward(ctx context.Context, def *Definition, exec *Execution) (*Result, error) {
	for i := exec.CurrentStep; i < len(def.Steps); i++ {
		step := def.Steps[i]

		if len(exec.ResourceIDs) > 0 {
			if err := e.locks.Renew(ctx, exec.ID, exec.ResourceIDs); err != nil {
				if errors.Is(err, adapters.ErrLockNotHeld) {
					// Exclusivity is gone; stop without a terminal write and
					// let recovery resume under a fresh lease.
					return nil, err
				}
				e.logger.Warn("Lease renewal failed", "sagaId", exec.ID, "error", err)
			}
		}

		// A leftover pending record means a crash happened mid-execute.
		if last := latestRecord(exec, step.Name); last != nil && last.Status == StepPending {
			if step.Classification == Authoritative {
				applied, err := step.WasApplied(ctx, Context(exec.Context))
				if err != nil {
					return e.failAmbiguous(ctx, def, exec, step.Name, err)
				}
				if applied {
					now := time.Now()
					rec := *last
					rec.Status = StepSucceeded
					rec.CompletedAt = &now
					if err := e.appendRecord(ctx, exec, rec, i+1); err != nil {
						return nil, err
					}
					e.logger.Info("Authoritative step confirmed applied after crash",
						"sagaId", exec.ID, "step", step.Name)
					continue
				}
			}
			// Not applied, or acid/derived: re-dispatch. Safe because the
			// step contract requires execute to be idempotent or to check
			// the marker in the context.
		}

		attempt := nextAttempt(exec, step.Name)
		started := time.Now()

		if step.Classification == Authoritative {
			// Step-local idempotency marker; collaborators embed it in the
			// history entry they write so WasApplied can match it.
			exec.Context[MarkerKey(step.Name)] = fmt.Sprintf("%s/%s/%d", exec.ID, step.Name, attempt)
		}

		rec := StepRecord{
			Name:           step.Name,
			Classification: step.Classification,
			Status:         StepPending,
			Attempt:        attempt,
			StartedAt:      started,
		}
		if err := e.appendRecord(ctx, exec, rec, i); err != nil {
			return nil, err
		}

		output, stepErr := step.Execute(ctx, Context(exec.Context))
		completed := time.Now()
		rec.CompletedAt = &completed

		if stepErr != nil {
			rec.Status = StepFailed
			rec.Error = stepErr.Error()
			if err := e.appendRecord(ctx, exec, rec, i); err != nil {
				return nil, err
			}
			e.metrics.StepExecuted(exec.Type, step.Name, step.Classification, false, completed.Sub(started))
			e.logger.Error("Step failed",
				"sagaId", exec.ID,
				"step", step.Name,
				"classification", string(step.Classification),
				"attempt", attempt,
				"error", stepErr)

			if step.Classification == Derived {
				e.queueDerived(ctx, exec, step)
			}

			cause := &StepExecutionError{SagaID: exec.ID, SagaType: exec.Type, Step: step.Name, Err: stepErr}
			if err := e.store.UpdateStatus(ctx, exec.ID, StatusCompensating, cause.Error()); err != nil {
				return nil, err
			}
			exec.Status = StatusCompensating
			exec.FailureReason = cause.Error()
			return e.compensate(ctx, def, exec, step.Name, cause)
		}

		if output != nil {
			Context(exec.Context).Merge(output)
		}
		rec.Status = StepSucceeded
		rec.Output = output
		if err := e.appendRecord(ctx, exec, rec, i+1); err != nil {
			return nil, err
		}
		e.metrics.StepExecuted(exec.Type, step.Name, step.Classification, true, completed.Sub(started))
		e.logger.Debug("Step succeeded",
			"sagaId", exec.ID,
			"step", step.Name,
			"attempt", attempt)
	}

	return e.terminate(ctx, def, exec, StatusCompleted, "", "")
}

// compensate undoes previously succeeded steps in reverse order. It stops
// at an authoritative step (the point of no return) or on a compensation
// failure; both end the execution as failed. Steps whose latest record is
// already compensated are skipped, so a resumed compensation continues
// where it left off.
func (e *Executor) compensate(ctx context.Context, def *Definition, exec *Execution, failedStep string, cause error) (*Result, error) {
	for i := len(def.Steps) - 1; i >= 0; i-- {
		step := def.Steps[i]
		rec := latestRecord(exec, step.Name)
		if rec == nil || rec.Status != StepSucceeded {
			continue
		}

		if step.Classification == Authoritative {
			boundary := &AuthoritativeBoundaryError{
				SagaID:       exec.ID,
				BoundaryStep: step.Name,
				FailedStep:   failedStep,
				Cause:        cause,
			}
			e.logger.Warn("Compensation halted at authoritative boundary",
				"sagaId", exec.ID,
				"boundary", step.Name,
				"failedStep", failedStep)
			return e.terminate(ctx, def, exec, StatusFailed, failedStep, boundary.Error())
		}

		err := e.runCompensate(ctx, step, exec, rec)
		now := time.Now()
		crec := *rec
		crec.CompletedAt = &now

		if err != nil {
			cerr := &CompensationError{SagaID: exec.ID, Step: step.Name, Cause: cause, Err: err}
			crec.Status = StepFailed
			crec.Error = cerr.Error()
			if aerr := e.appendRecord(ctx, exec, crec, exec.CurrentStep); aerr != nil {
				return nil, aerr
			}
			e.metrics.StepCompensated(exec.Type, step.Name, false)
			e.metrics.AlertRaised(exec.Type, AlertCompensationFailed)
			e.logger.Error("Compensation failed, halting rollback; manual intervention required",
				"sagaId", exec.ID,
				"step", step.Name,
				"error", err)
			return e.terminate(ctx, def, exec, StatusFailed, failedStep, cerr.Error())
		}

		crec.Status = StepCompensated
		if aerr := e.appendRecord(ctx, exec, crec, exec.CurrentStep); aerr != nil {
			return nil, aerr
		}
		e.metrics.StepCompensated(exec.Type, step.Name, true)
		e.logger.Debug("Step compensated", "sagaId", exec.ID, "step", step.Name)
	}

	return e.terminate(ctx, def, exec, StatusCompensated, failedStep, cause.Error())
}

// runCompensate invokes a step's compensate. A nil compensate is a no-op:
// derived steps with nothing to undo still get a compensated record.
func (e *Executor) runCompensate(ctx context.Context, step Step, exec *Execution, rec *StepRecord) error {
	if step.Compensate == nil {
		return nil
	}
	return step.Compensate(ctx, Context(exec.Context), Context(rec.Output))
}

// failAmbiguous terminates an execution whose authoritative step outcome
// could not be determined. Requires operator review.
func (e *Executor) failAmbiguous(ctx context.Context, def *Definition, exec *Execution, stepName string, err error) (*Result, error) {
	amb := &RecoveryAmbiguityError{SagaID: exec.ID, Step: stepName, Err: err}
	e.metrics.AlertRaised(exec.Type, AlertRecoveryAmbiguous)
	e.logger.Error("Authoritative step outcome is ambiguous; manual intervention required",
		"sagaId", exec.ID,
		"step", stepName,
		"error", err)
	return e.terminate(ctx, def, exec, StatusFailed, stepName, amb.Error())
}

// terminate persists the terminal status, releases locks exactly once,
// caches the result for idempotent replay, and emits metrics.
func (e *Executor) terminate(ctx context.Context, def *Definition, exec *Execution, status Status, failedStep, reason string) (*Result, error) {
	if err := e.store.UpdateStatus(ctx, exec.ID, status, reason); err != nil {
		return nil, err
	}
	exec.Status = status
	exec.FailureReason = reason

	result := &Result{
		SagaID:     exec.ID,
		SagaType:   exec.Type,
		Status:     status,
		Context:    Context(exec.Context),
		FailedStep: failedStep,
		Error:      reason,
	}

	// Cache before releasing the locks: a submission waiting on them must
	// observe the result the moment it gets through.
	if exec.IdempotencyKey != "" {
		if err := e.idempotency.Store(ctx, exec.IdempotencyKey, result, def.ResultTTL); err != nil {
			e.logger.Warn("Caching result failed",
				"sagaId", exec.ID,
				"idempotencyKey", exec.IdempotencyKey,
				"error", err)
		}
	}

	if err := e.locks.Release(ctx, exec.ID, exec.ResourceIDs); err != nil {
		e.logger.Warn("Lock release failed; leases will expire on their own",
			"sagaId", exec.ID, "error", err)
	}

	e.metrics.SagaFinished(exec.Type, status, time.Since(exec.StartedAt))
	e.logger.Info("Saga finished",
		"sagaId", exec.ID,
		"sagaType", exec.Type,
		"status", status.String())

	return result, nil
}

// queueDerived hands a failed derived delivery to the dispatcher for the
// collaborator's own retry mechanism. Failure to queue is logged, never
// propagated: it must not change the saga outcome.
func (e *Executor) queueDerived(ctx context.Context, exec *Execution, step Step) {
	if e.dispatcher == nil || step.Destination == "" {
		e.logger.Debug("No dispatcher destination for failed derived step",
			"sagaId", exec.ID, "step", step.Name)
		return
	}
	if err := e.dispatcher.EnqueueContext(ctx, exec.ID, step.Name, step.Destination, Context(exec.Context)); err != nil {
		e.logger.Error("Queueing derived delivery failed",
			"sagaId", exec.ID,
			"step", step.Name,
			"destination", step.Destination,
			"error", err)
		return
	}
	e.logger.Info("Derived delivery queued for external retry",
		"sagaId", exec.ID,
		"step", step.Name,
		"destination", step.Destination)
}

// appendRecord persists a step record together with the advanced step index
// and merged context in one transaction, then mirrors it in memory.
func (e *Executor) appendRecord(ctx context.Context, exec *Execution, rec StepRecord, currentStep int) error {
	if err := e.store.AppendStepRecord(ctx, exec.ID, rec, currentStep, exec.Context); err != nil {
		return fmt.Errorf("saga: persisting step record %q for execution %q: %w", rec.Name, exec.ID, err)
	}
	exec.CurrentStep = currentStep

	for i := len(exec.Steps) - 1; i >= 0; i-- {
		if exec.Steps[i].Name == rec.Name && exec.Steps[i].Attempt == rec.Attempt {
			exec.Steps[i] = rec
			return nil
		}
	}
	exec.Steps = append(exec.Steps, rec)
	return nil
}

// resultOf rebuilds a Result from a terminal execution.
func (e *Executor) resultOf(exec *Execution) *Result {
	return &Result{
		SagaID:     exec.ID,
		SagaType:   exec.Type,
		Status:     exec.Status,
		Context:    Context(exec.Context),
		FailedStep: latestFailedStep(exec),
		Error:      exec.FailureReason,
	}
}

// latestRecord returns the record with the highest attempt for a step name.
func latestRecord(exec *Execution, name string) *StepRecord {
	var found *StepRecord
	for i := range exec.Steps {
		rec := &exec.Steps[i]
		if rec.Name != name {
			continue
		}
		if found == nil || rec.Attempt >= found.Attempt {
			found = rec
		}
	}
	return found
}

// nextAttempt returns the attempt counter for the next dispatch of a step.
func nextAttempt(exec *Execution, name string) int {
	if last := latestRecord(exec, name); last != nil {
		return last.Attempt + 1
	}
	return 1
}

// latestFailedStep returns the name of the most recent failed step record.
func latestFailedStep(exec *Execution) string {
	for i := len(exec.Steps) - 1; i >= 0; i-- {
		if exec.Steps[i].Status == StepFailed {
			return exec.Steps[i].Name
		}
	}
	return ""
}
