// Package sagatest provides testing utilities for saga development.
// It includes an in-memory harness wired with every store, scripted steps
// that record their invocations, and a BDD-style fixture for asserting on
// execution outcomes.
package sagatest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/arkivo/saga"
	"github.com/arkivo/saga/adapters/memory"
)

// TB is an alias for testing.TB to enable easier mocking in tests.
type TB = testing.TB

// Fixture provides BDD-style testing for saga definitions against an
// executor backed by in-memory stores.
type Fixture struct {
	t        TB
	ctx      context.Context
	registry *saga.Registry
	executor *saga.Executor

	stateStore    *memory.StateStore
	lockStore     *memory.LockStore
	idemStore     *memory.IdempotencyStore
	dispatchStore *memory.DispatchStore
	dispatcher    *saga.Dispatcher

	result *saga.Result
	err    error
}

// New creates a fixture with fresh in-memory stores and an executor wired
// to them.
func New(t TB) *Fixture {
	t.Helper()

	registry := saga.NewRegistry()
	stateStore := memory.NewStateStore()
	lockStore := memory.NewLockStore()
	idemStore := memory.NewIdempotencyStore()
	dispatchStore := memory.NewDispatchStore()
	dispatcher := saga.NewDispatcher(dispatchStore)

	executor := saga.NewExecutor(registry,
		saga.WithStateStore(stateStore),
		saga.WithLockStore(lockStore),
		saga.WithIdempotencyStore(idemStore),
		saga.WithDispatcher(dispatcher),
	)

	return &Fixture{
		t:             t,
		ctx:           context.Background(),
		registry:      registry,
		executor:      executor,
		stateStore:    stateStore,
		lockStore:     lockStore,
		idemStore:     idemStore,
		dispatchStore: dispatchStore,
		dispatcher:    dispatcher,
	}
}

// WithContext sets a custom context for submissions.
func (f *Fixture) WithContext(ctx context.Context) *Fixture {
	f.ctx = ctx
	return f
}

// Registry returns the fixture's definition registry.
func (f *Fixture) Registry() *saga.Registry { return f.registry }

// Executor returns the fixture's executor.
func (f *Fixture) Executor() *saga.Executor { return f.executor }

// StateStore returns the fixture's in-memory state store.
func (f *Fixture) StateStore() *memory.StateStore { return f.stateStore }

// LockStore returns the fixture's in-memory lock store.
func (f *Fixture) LockStore() *memory.LockStore { return f.lockStore }

// IdempotencyStore returns the fixture's in-memory idempotency store.
func (f *Fixture) IdempotencyStore() *memory.IdempotencyStore { return f.idemStore }

// DispatchStore returns the fixture's in-memory dispatch store.
func (f *Fixture) DispatchStore() *memory.DispatchStore { return f.dispatchStore }

// Dispatcher returns the fixture's dispatcher.
func (f *Fixture) Dispatcher() *saga.Dispatcher { return f.dispatcher }

// Given registers a definition with the fixture's registry.
func (f *Fixture) Given(def *saga.Definition) *Fixture {
	f.t.Helper()
	if err := f.registry.Register(def); err != nil {
		f.t.Fatalf("Registering definition %q: %v", def.Type, err)
	}
	return f
}

// When submits one saga invocation and captures its result.
func (f *Fixture) When(sagaType string, input saga.Context, idempotencyKey string) *Fixture {
	f.t.Helper()
	f.result, f.err = f.executor.Submit(f.ctx, sagaType, input, idempotencyKey)
	return f
}

// Result returns the captured result and error of the last submission.
func (f *Fixture) Result() (*saga.Result, error) {
	return f.result, f.err
}

// ThenStatus asserts the last submission reached the given terminal status.
func (f *Fixture) ThenStatus(status saga.Status) *Fixture {
	f.t.Helper()
	if f.err != nil {
		f.t.Fatalf("Submission returned error: %v", f.err)
	}
	if f.result == nil {
		f.t.Fatal("Submission returned no result")
	}
	if f.result.Status != status {
		f.t.Errorf("Expected status %s, got %s (failedStep=%q, error=%q)",
			status, f.result.Status, f.result.FailedStep, f.result.Error)
	}
	return f
}

// ThenCompleted asserts the last submission completed successfully.
func (f *Fixture) ThenCompleted() *Fixture {
	f.t.Helper()
	return f.ThenStatus(saga.StatusCompleted)
}

// ThenCompensated asserts the last submission was fully compensated.
func (f *Fixture) ThenCompensated() *Fixture {
	f.t.Helper()
	return f.ThenStatus(saga.StatusCompensated)
}

// ThenFailedStep asserts which step caused the terminal failure.
func (f *Fixture) ThenFailedStep(name string) *Fixture {
	f.t.Helper()
	if f.result == nil {
		f.t.Fatal("Submission returned no result")
	}
	if f.result.FailedStep != name {
		f.t.Errorf("Expected failed step %q, got %q", name, f.result.FailedStep)
	}
	return f
}

// ThenError asserts the submission itself failed with the given error.
func (f *Fixture) ThenError(target error) *Fixture {
	f.t.Helper()
	if f.err == nil {
		f.t.Fatalf("Expected error %v, got result %+v", target, f.result)
	}
	if !errors.Is(f.err, target) {
		f.t.Errorf("Expected error %v, got %v", target, f.err)
	}
	return f
}

// Recorder tracks step invocations across a test. All scripted steps built
// from one Recorder share its log, so assertions can check both what ran
// and in which order.
type Recorder struct {
	mu          sync.Mutex
	executed    []string
	compensated []string
	failures    map[string]int
	applied     map[string]bool
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		failures: make(map[string]int),
		applied:  make(map[string]bool),
	}
}

// Executed returns the names of steps executed, in order. Multiple attempts
// of the same step appear multiple times.
func (r *Recorder) Executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.executed...)
}

// Compensated returns the names of steps compensated, in order.
func (r *Recorder) Compensated() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.compensated...)
}

// recordExecute logs an execution and reports whether this call should fail
// based on the step's remaining scripted failures.
func (r *Recorder) recordExecute(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executed = append(r.executed, name)
	if r.failures[name] > 0 {
		r.failures[name]--
		return false
	}
	return true
}

func (r *Recorder) recordCompensate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compensated = append(r.compensated, name)
}

// FailTimes scripts the next n executions of a step to fail.
func (r *Recorder) FailTimes(name string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[name] = n
}

// ACIDStep builds a transactional step that records execution and
// compensation and emits "<name>.done" into the context on success.
func (r *Recorder) ACIDStep(name string) saga.Step {
	return saga.NewACIDStep(name,
		func(ctx context.Context, sc saga.Context) (saga.Context, error) {
			if !r.recordExecute(name) {
				return nil, errors.New(name + ": scripted failure")
			}
			return saga.Context{name + ".done": true}, nil
		},
		func(ctx context.Context, sc saga.Context, output saga.Context) error {
			r.recordCompensate(name)
			return nil
		},
	)
}

// DerivedStep builds a derived step with a no-op compensation that records
// its invocations.
func (r *Recorder) DerivedStep(name, destination string) saga.Step {
	step := saga.NewDerivedStep(name,
		func(ctx context.Context, sc saga.Context) (saga.Context, error) {
			if !r.recordExecute(name) {
				return nil, errors.New(name + ": scripted failure")
			}
			return saga.Context{name + ".done": true}, nil
		},
		destination,
	)
	return step
}

// AuthoritativeStep builds an authoritative step whose WasApplied consults
// the recorder: it reports true only if an execution of the step actually
// ran to completion, imitating a collaborator checking its history entry.
func (r *Recorder) AuthoritativeStep(name string) saga.Step {
	return saga.NewAuthoritativeStep(name,
		func(ctx context.Context, sc saga.Context) (saga.Context, error) {
			if !r.recordExecute(name) {
				return nil, errors.New(name + ": scripted failure")
			}
			r.mu.Lock()
			r.applied[name] = true
			r.mu.Unlock()
			return saga.Context{name + ".done": true}, nil
		},
		func(ctx context.Context, sc saga.Context) (bool, error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			return r.applied[name], nil
		},
	)
}

// MarkApplied forces the recorder's applied state for an authoritative
// step, simulating an effect that landed even though the executor never saw
// the success.
func (r *Recorder) MarkApplied(name string, applied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied[name] = applied
}

// FailingCompensationStep builds a transactional step whose compensation
// always fails with the given error.
func (r *Recorder) FailingCompensationStep(name string, compErr error) saga.Step {
	return saga.NewACIDStep(name,
		func(ctx context.Context, sc saga.Context) (saga.Context, error) {
			if !r.recordExecute(name) {
				return nil, errors.New(name + ": scripted failure")
			}
			return saga.Context{name + ".done": true}, nil
		},
		func(ctx context.Context, sc saga.Context, output saga.Context) error {
			r.recordCompensate(name)
			return compErr
		},
	)
}
