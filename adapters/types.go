package adapters

import "time"

// Status represents the lifecycle status of a saga execution.
type Status int

// Execution statuses. An execution is created pending, moves to running on
// first step dispatch, and ends in exactly one of the terminal statuses.
const (
	// StatusPending indicates the execution has been created but no step
	// has been dispatched yet.
	StatusPending Status = iota

	// StatusRunning indicates steps are being executed forward.
	StatusRunning

	// StatusCompleted indicates every step succeeded. Terminal.
	StatusCompleted

	// StatusCompensating indicates a step failed and previously completed
	// steps are being undone in reverse order.
	StatusCompensating

	// StatusCompensated indicates all compensatable steps were undone and
	// no authoritative boundary was crossed. Terminal.
	StatusCompensated

	// StatusFailed indicates compensation halted at an authoritative
	// boundary or itself failed. Terminal; requires operator attention
	// when caused by a compensation failure.
	StatusFailed
)

// String returns the human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusCompensating:
		return "compensating"
	case StatusCompensated:
		return "compensated"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCompensated || s == StatusFailed
}

// StepStatus represents the per-attempt outcome of a saga step.
type StepStatus int

// Step statuses.
const (
	// StepPending indicates the step record was persisted before dispatch.
	StepPending StepStatus = iota

	// StepSucceeded indicates the step's execute completed.
	StepSucceeded

	// StepFailed indicates the step's execute or compensate failed.
	StepFailed

	// StepCompensated indicates the step's effect was undone.
	StepCompensated
)

// String returns the human-readable step status name.
func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepSucceeded:
		return "succeeded"
	case StepFailed:
		return "failed"
	case StepCompensated:
		return "compensated"
	default:
		return "unknown"
	}
}

// Classification tags a step by the consistency model of the store it touches.
type Classification string

// Step classifications.
const (
	// ClassificationACID marks a fully reversible step backed by a
	// transactional store.
	ClassificationACID Classification = "acid"

	// ClassificationDerived marks a best-effort step over rebuildable state
	// (search index, event hooks).
	ClassificationDerived Classification = "derived"

	// ClassificationAuthoritative marks an irreversible step: once it
	// succeeds it is a permanent fact and is never compensated.
	ClassificationAuthoritative Classification = "authoritative"
)

// Execution represents the persisted state of one saga instance.
type Execution struct {
	// ID is the unique execution identifier (a UUID).
	ID string `json:"id"`

	// Type is the registered saga type name (e.g. "PublishDocument").
	Type string `json:"type"`

	// Status is the current lifecycle status.
	Status Status `json:"status"`

	// CurrentStep is the index of the next step to dispatch.
	CurrentStep int `json:"currentStep"`

	// Context is the opaque key/value state merged with each step's output.
	Context map[string]interface{} `json:"context,omitempty"`

	// IdempotencyKey is the caller-supplied deduplication token.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`

	// ResourceIDs are the logical identifiers locked for the execution's
	// lifetime.
	ResourceIDs []string `json:"resourceIds,omitempty"`

	// FailureReason holds the structured reason for a non-success terminal
	// status.
	FailureReason string `json:"failureReason,omitempty"`

	// Steps is the ordered step history.
	Steps []StepRecord `json:"steps,omitempty"`

	// StartedAt is when the execution was created.
	StartedAt time.Time `json:"startedAt"`

	// UpdatedAt is when the execution was last written.
	UpdatedAt time.Time `json:"updatedAt"`

	// CompletedAt is when the execution reached a terminal status.
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// Version is used for optimistic concurrency in Save-style stores.
	Version int64 `json:"version"`
}

// StepRecord captures one attempt outcome of a named step.
type StepRecord struct {
	// Name is the step name, unique within the definition.
	Name string `json:"name"`

	// Classification is the step's consistency tag.
	Classification Classification `json:"classification"`

	// Status is the per-attempt outcome.
	Status StepStatus `json:"status"`

	// Attempt is the 1-based attempt counter across crashes and retries.
	Attempt int `json:"attempt"`

	// Output is the step's output, merged into the execution context on
	// success.
	Output map[string]interface{} `json:"output,omitempty"`

	// Error holds the structured error message on failure.
	Error string `json:"error,omitempty"`

	// StartedAt is when the attempt was dispatched.
	StartedAt time.Time `json:"startedAt"`

	// CompletedAt is when the attempt finished.
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ResourceLock is a lease-based exclusive lock over a logical resource.
type ResourceLock struct {
	// ResourceID is the logical identifier being locked.
	ResourceID string `json:"resourceId"`

	// HolderID is the saga execution holding the lock.
	HolderID string `json:"holderId"`

	// AcquiredAt is when the lease was granted or last renewed.
	AcquiredAt time.Time `json:"acquiredAt"`

	// ExpiresAt is when the lease lapses if not renewed or released.
	// Expiry is what lets a crashed holder's resources be reclaimed.
	ExpiresAt time.Time `json:"expiresAt"`
}

// IsExpired reports whether the lease has lapsed.
func (l *ResourceLock) IsExpired() bool {
	return time.Now().After(l.ExpiresAt)
}

// IdempotencyRecord caches the final result of a saga invocation.
type IdempotencyRecord struct {
	// Key is the caller-supplied idempotency key.
	Key string `json:"key"`

	// SagaID is the execution the cached result corresponds to.
	SagaID string `json:"sagaId"`

	// SagaType is the registered saga type name.
	SagaType string `json:"sagaType"`

	// Result is the serialized saga result.
	Result []byte `json:"result"`

	// CreatedAt is when the record was stored.
	CreatedAt time.Time `json:"createdAt"`

	// ExpiresAt bounds the record's validity window.
	ExpiresAt time.Time `json:"expiresAt"`
}

// IsExpired reports whether the record's validity window has lapsed.
func (r *IdempotencyRecord) IsExpired() bool {
	return time.Now().After(r.ExpiresAt)
}

// DispatchStatus represents the delivery state of a derived-state message.
type DispatchStatus int

// Dispatch statuses.
const (
	// DispatchPending indicates the message awaits delivery.
	DispatchPending DispatchStatus = iota

	// DispatchDelivered indicates the message was published.
	DispatchDelivered

	// DispatchDead indicates delivery attempts were exhausted.
	DispatchDead
)

// String returns the human-readable dispatch status name.
func (s DispatchStatus) String() string {
	switch s {
	case DispatchPending:
		return "pending"
	case DispatchDelivered:
		return "delivered"
	case DispatchDead:
		return "dead"
	default:
		return "unknown"
	}
}

// DispatchMessage is a derived-state delivery queued for the collaborator's
// own retry mechanism.
type DispatchMessage struct {
	// ID is the unique message identifier (a UUID).
	ID string `json:"id"`

	// SagaID is the execution that produced the message.
	SagaID string `json:"sagaId"`

	// StepName is the derived step the message originated from.
	StepName string `json:"stepName"`

	// Destination selects the publisher (e.g. "webhook", "kafka", "sns").
	Destination string `json:"destination"`

	// Payload is the serialized delivery payload.
	Payload []byte `json:"payload"`

	// Status is the delivery state.
	Status DispatchStatus `json:"status"`

	// Attempts counts delivery attempts so far.
	Attempts int `json:"attempts"`

	// LastError holds the most recent delivery error.
	LastError string `json:"lastError,omitempty"`

	// NextAttemptAt is when the message becomes due again.
	NextAttemptAt time.Time `json:"nextAttemptAt"`

	// CreatedAt is when the message was enqueued.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is when the message was last written.
	UpdatedAt time.Time `json:"updatedAt"`
}

// CopyContext returns a shallow copy of a context map. Storage adapters use
// it to prevent callers from mutating persisted state.
func CopyContext(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
