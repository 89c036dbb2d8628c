// Package saga coordinates multi-step operations that span storage systems
// with incompatible consistency models: a transactional relational store,
// an append-only authoritative history, and derived, rebuildable state.
//
// No distributed transaction spans those three kinds of storage, so the
// engine guarantees a weaker but well-defined contract instead: every
// multi-step operation either fully succeeds, is fully compensated up to
// (but never past) an authoritative step, or is left in a recoverable,
// auditable partial state that recovery can resume after a crash.
//
// # Quick Start
//
// Define a saga as an ordered list of classified steps and register it:
//
//	def := &saga.Definition{
//	    Type: "PublishDocument",
//	    ResourceIDs: func(sc saga.Context) []string {
//	        return []string{"document/" + sc["documentId"].(string)}
//	    },
//	    Steps: []saga.Step{
//	        saga.NewACIDStep("ReserveSlot", reserve, cancelReservation),
//	        saga.NewAuthoritativeStep("RecordHistory", commit, wasCommitted),
//	        saga.NewDerivedStep("Notify", notify, "webhook"),
//	    },
//	}
//
//	registry := saga.NewRegistry()
//	registry.MustRegister(def)
//
// Wire an executor with durable stores and submit work:
//
//	exec := saga.NewExecutor(registry,
//	    saga.WithStateStore(stateStore),
//	    saga.WithLockStore(lockStore),
//	    saga.WithIdempotencyStore(idemStore),
//	)
//
//	result, err := exec.Submit(ctx, "PublishDocument", input, idempotencyKey)
//
// For production use the PostgreSQL stores in adapters/postgres; the
// adapters/memory stores are for development and tests.
//
// # Step Classifications
//
// Every step carries a classification that fixes how failure is handled:
//
//   - acid: fully reversible, backed by a transactional store. Compensated
//     on rollback.
//   - derived: best-effort state (search index, hooks). Failed deliveries are
//     queued on the Dispatcher for the collaborator's own retry mechanism.
//   - authoritative: irreversible. Once it succeeds it is a permanent fact;
//     compensation stops at it and the execution ends failed, never
//     compensated.
//
// # Crash Recovery
//
// Every transition is durable before the next in-memory action, so the
// executor is safe to crash between any two persisted points. Recovery scans
// for executions left non-terminal and resumes them from exactly where they
// stopped, using WasApplied to disambiguate a crash during an authoritative
// step.
package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arkivo/saga/adapters"
)

// Type aliases for adapter types - these provide the public API
// while allowing the adapters package to define the storage-level types.
type (
	// Status represents the lifecycle status of a saga execution.
	Status = adapters.Status

	// StepStatus represents the per-attempt outcome of a saga step.
	StepStatus = adapters.StepStatus

	// Classification tags a step by the consistency model of the store it
	// touches.
	Classification = adapters.Classification

	// Execution represents the persisted state of one saga instance.
	Execution = adapters.Execution

	// StepRecord captures one attempt outcome of a named step.
	StepRecord = adapters.StepRecord

	// ResourceLock is a lease-based exclusive lock over a logical resource.
	ResourceLock = adapters.ResourceLock

	// IdempotencyRecord caches the final result of a saga invocation.
	IdempotencyRecord = adapters.IdempotencyRecord

	// DispatchMessage is a derived-state delivery queued for redelivery.
	DispatchMessage = adapters.DispatchMessage

	// StateStore persists saga executions and their step history.
	StateStore = adapters.StateStore

	// LockStore persists lease-based exclusive resource locks.
	LockStore = adapters.LockStore

	// IdempotencyStore persists cached saga results.
	IdempotencyStore = adapters.IdempotencyStore

	// DispatchStore persists derived-state deliveries awaiting redelivery.
	DispatchStore = adapters.DispatchStore
)

// Re-export execution status constants from adapters.
const (
	StatusPending      = adapters.StatusPending
	StatusRunning      = adapters.StatusRunning
	StatusCompleted    = adapters.StatusCompleted
	StatusCompensating = adapters.StatusCompensating
	StatusCompensated  = adapters.StatusCompensated
	StatusFailed       = adapters.StatusFailed
)

// Re-export step status constants from adapters.
const (
	StepPending     = adapters.StepPending
	StepSucceeded   = adapters.StepSucceeded
	StepFailed      = adapters.StepFailed
	StepCompensated = adapters.StepCompensated
)

// Re-export step classification constants from adapters.
const (
	ACID          = adapters.ClassificationACID
	Derived       = adapters.ClassificationDerived
	Authoritative = adapters.ClassificationAuthoritative
)

// Context is the opaque, serializable key/value state of one execution.
// Each step receives the accumulated context and its successful output is
// merged back into it.
type Context map[string]interface{}

// Clone returns a shallow copy of the context.
func (c Context) Clone() Context {
	if c == nil {
		return Context{}
	}
	dst := make(Context, len(c))
	for k, v := range c {
		dst[k] = v
	}
	return dst
}

// Merge copies every key of other into the context, overwriting collisions.
func (c Context) Merge(other Context) {
	for k, v := range other {
		c[k] = v
	}
}

// String returns the string value for key, or "" if absent or not a string.
func (c Context) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// ExecuteFunc performs a step's forward action. It receives the accumulated
// execution context and returns output to merge into it.
type ExecuteFunc func(ctx context.Context, sc Context) (Context, error)

// CompensateFunc semantically undoes a previously successful execute.
// It receives the context as of compensation time and the step's own output.
type CompensateFunc func(ctx context.Context, sc Context, output Context) error

// WasAppliedFunc reports whether an authoritative step's effect took hold.
// Recovery calls it when a crash left the step's outcome ambiguous.
type WasAppliedFunc func(ctx context.Context, sc Context) (bool, error)

// Step is one named, classified unit of a saga definition.
//
// Execute must be idempotent, or check its own idempotency via the marker
// the engine places in the context (see Marker): recovery may re-invoke it
// for the step in progress at crash time. That requirement is part of every
// step implementation's contract, not the executor's.
type Step struct {
	// Name identifies the step; unique within a definition.
	Name string

	// Classification fixes the step's failure handling.
	Classification Classification

	// Execute performs the step's forward action.
	Execute ExecuteFunc

	// Compensate undoes a successful Execute. Optional; a nil Compensate is
	// treated as a no-op during rollback. Ignored on authoritative steps.
	Compensate CompensateFunc

	// WasApplied disambiguates a crash during an authoritative step.
	// Required on authoritative steps, ignored otherwise.
	WasApplied WasAppliedFunc

	// Destination names the dispatcher publisher that redelivers this
	// derived step's payload when Execute fails. Empty disables queueing.
	Destination string
}

// NewACIDStep builds a fully reversible step backed by a transactional store.
// compensate may be nil for steps with nothing to undo.
func NewACIDStep(name string, execute ExecuteFunc, compensate CompensateFunc) Step {
	return Step{
		Name:           name,
		Classification: ACID,
		Execute:        execute,
		Compensate:     compensate,
	}
}

// NewDerivedStep builds a best-effort step over rebuildable state. When
// execute fails, the step's payload is queued on the destination publisher
// for external redelivery; destination may be empty to disable queueing.
func NewDerivedStep(name string, execute ExecuteFunc, destination string) Step {
	return Step{
		Name:           name,
		Classification: Derived,
		Execute:        execute,
		Destination:    destination,
	}
}

// NewAuthoritativeStep builds an irreversible step. Once execute succeeds the
// effect is a permanent fact: it is never compensated, and compensation of
// earlier steps stops at it. wasApplied is consulted by recovery when a crash
// left the outcome ambiguous.
func NewAuthoritativeStep(name string, execute ExecuteFunc, wasApplied WasAppliedFunc) Step {
	return Step{
		Name:           name,
		Classification: Authoritative,
		Execute:        execute,
		WasApplied:     wasApplied,
	}
}

// Definition is the static description of a saga type: an ordered sequence
// of classified steps plus the resources the execution must lock.
type Definition struct {
	// Type is the saga type name used for registration and recovery.
	Type string

	// Steps is the ordered step sequence.
	Steps []Step

	// ResourceIDs declares the logical resources the execution mutates.
	// They are locked as one atomic batch before the first step dispatches
	// and released at the terminal transition. May be nil for sagas that
	// touch no shared resources.
	ResourceIDs func(sc Context) []string

	// ResultTTL bounds how long the final result is cached for idempotent
	// replay. Zero means the executor's default.
	ResultTTL time.Duration
}

// Validate checks the definition for structural problems.
func (d *Definition) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("saga: definition has no type")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("saga: definition %q has no steps", d.Type)
	}
	seen := make(map[string]bool, len(d.Steps))
	for i, step := range d.Steps {
		if step.Name == "" {
			return fmt.Errorf("saga: definition %q: step %d has no name", d.Type, i)
		}
		if seen[step.Name] {
			return fmt.Errorf("saga: definition %q: duplicate step name %q", d.Type, step.Name)
		}
		seen[step.Name] = true
		if step.Execute == nil {
			return fmt.Errorf("saga: definition %q: step %q has no execute", d.Type, step.Name)
		}
		switch step.Classification {
		case ACID, Derived:
		case Authoritative:
			if step.WasApplied == nil {
				return fmt.Errorf("saga: definition %q: authoritative step %q has no WasApplied", d.Type, step.Name)
			}
			if step.Compensate != nil {
				return fmt.Errorf("saga: definition %q: authoritative step %q declares a compensate", d.Type, step.Name)
			}
		default:
			return fmt.Errorf("saga: definition %q: step %q has unknown classification %q", d.Type, step.Name, step.Classification)
		}
	}
	return nil
}

// StepIndex returns the index of the named step, or -1.
func (d *Definition) StepIndex(name string) int {
	for i := range d.Steps {
		if d.Steps[i].Name == name {
			return i
		}
	}
	return -1
}

// Registry maps saga type names to definitions. Recovery uses it to
// reconstruct a definition from the persisted saga type after a restart.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register validates and adds a definition.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("saga: nil definition")
	}
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Type]; exists {
		return fmt.Errorf("saga: type %q already registered", def.Type)
	}
	r.defs[def.Type] = def
	return nil
}

// MustRegister is Register that panics on error. Intended for wiring at
// process startup.
func (r *Registry) MustRegister(def *Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Lookup returns the definition for a saga type.
func (r *Registry) Lookup(sagaType string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[sagaType]
	return def, ok
}

// Types returns the registered saga type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.defs))
	for t := range r.defs {
		types = append(types, t)
	}
	return types
}

// Result is what callers receive for a saga invocation: the final status,
// the merged context, and, on non-success, the failing step and a structured
// reason. Results are serializable so they can be cached for idempotent
// replay.
//
// Callers must not assume "not completed" implies "no side effect occurred":
// once an authoritative step has run its effect persists even when the
// overall status is failed.
type Result struct {
	// SagaID is the execution identifier.
	SagaID string `json:"sagaId"`

	// SagaType is the registered saga type name.
	SagaType string `json:"sagaType"`

	// Status is the terminal execution status.
	Status Status `json:"status"`

	// Context is the merged context at termination.
	Context Context `json:"context,omitempty"`

	// FailedStep names the step whose failure ended the forward path.
	FailedStep string `json:"failedStep,omitempty"`

	// Error is the structured reason for a non-success status.
	Error string `json:"error,omitempty"`
}

// IsSuccess reports whether every step succeeded.
func (r *Result) IsSuccess() bool {
	return r.Status == StatusCompleted
}

// markerPrefix namespaces the per-step idempotency markers the engine places
// in the execution context.
const markerPrefix = "_saga.marker."

// MarkerKey returns the context key under which the engine stores the
// step-local idempotency marker for the named step.
func MarkerKey(stepName string) string {
	return markerPrefix + stepName
}

// Marker returns the idempotency marker for the named step, or "" if the
// step has not been dispatched. Authoritative collaborators embed it in the
// history entry they write so WasApplied can answer without ambiguity.
func Marker(sc Context, stepName string) string {
	return sc.String(MarkerKey(stepName))
}

// Logger defines the logging interface used across the engine.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// noopLogger is a no-op logger implementation.
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, args ...interface{}) {}
func (l *noopLogger) Info(msg string, args ...interface{})  {}
func (l *noopLogger) Warn(msg string, args ...interface{})  {}
func (l *noopLogger) Error(msg string, args ...interface{}) {}
