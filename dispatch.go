package saga

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/arkivo/saga/adapters"
)

// Publisher delivers dispatch messages to one destination scheme.
// Destinations have the form "scheme:target", e.g.
// "webhook:https://notify.example.gov/hooks/records"; the scheme selects
// the publisher.
type Publisher interface {
	// Scheme returns the destination scheme this publisher handles.
	Scheme() string

	// Publish delivers a batch of messages. An error fails the whole batch;
	// each message is retried individually on the next cycle.
	Publish(ctx context.Context, messages []*adapters.DispatchMessage) error
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithBatchSize sets the maximum number of messages processed per poll.
func WithBatchSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithPollInterval sets how often the dispatcher polls for due messages.
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithMaxAttempts sets the number of delivery attempts before a message is
// moved to the dead letter state.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the base delay before a failed message becomes due
// again. The delay grows linearly with the attempt count.
func WithRetryBackoff(backoff time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if backoff > 0 {
			d.retryBackoff = backoff
		}
	}
}

// WithCleanupInterval sets how often delivered messages are cleaned up.
func WithCleanupInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.cleanupInterval = interval
		}
	}
}

// WithCleanupAge sets the age threshold for cleaning up delivered messages.
func WithCleanupAge(age time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if age > 0 {
			d.cleanupAge = age
		}
	}
}

// WithPublisher registers a publisher for its destination scheme.
func WithPublisher(publisher Publisher) DispatcherOption {
	return func(d *Dispatcher) {
		d.publishers[publisher.Scheme()] = publisher
	}
}

// WithDispatchSerializer sets the serializer used to encode saga context
// into message payloads. Defaults to JSON.
func WithDispatchSerializer(s Serializer) DispatcherOption {
	return func(d *Dispatcher) {
		d.serializer = s
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// Dispatcher drains the dispatch queue of failed derived-step deliveries
// and hands each message to the publisher matching its destination scheme.
// Delivery is retried with backoff; exhausted messages are parked in the
// dead letter state for operator review. The queue is one-directional:
// nothing a publisher does feeds back into the saga outcome.
type Dispatcher struct {
	store      adapters.DispatchStore
	publishers map[string]Publisher
	serializer Serializer
	logger     Logger

	batchSize       int
	pollInterval    time.Duration
	maxAttempts     int
	retryBackoff    time.Duration
	cleanupInterval time.Duration
	cleanupAge      time.Duration

	running  atomic.Bool
	stopping atomic.Bool
	wg       sync.WaitGroup
	stopCh   chan struct{}
}

// NewDispatcher creates a Dispatcher over the given store.
func NewDispatcher(store adapters.DispatchStore, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:           store,
		publishers:      make(map[string]Publisher),
		serializer:      NewJSONSerializer(),
		logger:          &noopLogger{},
		batchSize:       100,
		pollInterval:    time.Second,
		maxAttempts:     5,
		retryBackoff:    5 * time.Second,
		cleanupInterval: time.Hour,
		cleanupAge:      7 * 24 * time.Hour,
		stopCh:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// EnqueueContext encodes the saga context and enqueues it for delivery to
// the destination. Called by the executor when a derived step fails.
func (d *Dispatcher) EnqueueContext(ctx context.Context, sagaID, stepName, destination string, sc Context) error {
	payload, err := d.serializer.Marshal(sc)
	if err != nil {
		return fmt.Errorf("saga: encoding dispatch payload for %q: %w", sagaID, err)
	}

	now := time.Now()
	msg := &adapters.DispatchMessage{
		ID:            uuid.NewString(),
		SagaID:        sagaID,
		StepName:      stepName,
		Destination:   destination,
		Payload:       payload,
		Status:        adapters.DispatchPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	return d.store.Enqueue(ctx, msg)
}

// Start begins the background delivery and maintenance loops.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.running.Load() {
		return ErrDispatcherRunning
	}

	d.running.Store(true)
	d.stopping.Store(false)
	d.stopCh = make(chan struct{})

	d.wg.Add(1)
	go d.deliverLoop(ctx)

	d.wg.Add(1)
	go d.cleanupLoop(ctx)

	d.logger.Info("Dispatcher started")
	return nil
}

// Stop gracefully stops the dispatcher, draining in-flight work.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if !d.running.Load() {
		return nil
	}

	d.stopping.Store(true)
	close(d.stopCh)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.running.Store(false)
		d.logger.Info("Dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.running.Store(false)
		return ctx.Err()
	}
}

// IsRunning returns true if the dispatcher is running.
func (d *Dispatcher) IsRunning() bool {
	return d.running.Load()
}

// deliverLoop polls for due messages and publishes them.
func (d *Dispatcher) deliverLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.ProcessOnce(ctx); err != nil {
				if d.stopping.Load() {
					return
				}
				d.logger.Error("Dispatch batch error", "error", err)
			}
		}
	}
}

// cleanupLoop removes old delivered messages on a timer.
func (d *Dispatcher) cleanupLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleaned, err := d.store.Cleanup(ctx, d.cleanupAge)
			if err != nil {
				d.logger.Error("Dispatch cleanup failed", "error", err)
			} else if cleaned > 0 {
				d.logger.Info("Cleaned up delivered dispatch messages", "count", cleaned)
			}
		}
	}
}

// ProcessOnce fetches and delivers a single batch of due messages. Exposed
// for tests and for callers that drive the dispatcher without Start.
func (d *Dispatcher) ProcessOnce(ctx context.Context) error {
	messages, err := d.store.FetchPending(ctx, d.batchSize, time.Now())
	if err != nil {
		return fmt.Errorf("saga: fetching pending dispatch messages: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	grouped := make(map[string][]*adapters.DispatchMessage)
	for _, msg := range messages {
		grouped[destinationScheme(msg.Destination)] = append(grouped[destinationScheme(msg.Destination)], msg)
	}

	for scheme, msgs := range grouped {
		publisher, ok := d.publishers[scheme]
		if !ok {
			// No publisher means a configuration problem, not a transient
			// failure. Park the messages immediately.
			for _, msg := range msgs {
				d.logger.Error("No publisher for destination",
					"destination", msg.Destination, "scheme", scheme)
				d.dead(ctx, msg, fmt.Sprintf("%v: %s", ErrPublisherNotFound, scheme))
			}
			continue
		}

		if err := publisher.Publish(ctx, msgs); err != nil {
			for _, msg := range msgs {
				d.failOrDead(ctx, msg, err)
			}
			continue
		}

		for _, msg := range msgs {
			if err := d.store.MarkDelivered(ctx, msg.ID); err != nil {
				d.logger.Error("Marking message delivered failed", "id", msg.ID, "error", err)
			}
		}
		d.logger.Debug("Dispatched messages", "scheme", scheme, "count", len(msgs))
	}

	return nil
}

// failOrDead records a failed attempt, scheduling a retry or parking the
// message once attempts are exhausted.
func (d *Dispatcher) failOrDead(ctx context.Context, msg *adapters.DispatchMessage, cause error) {
	attempts := msg.Attempts + 1
	if attempts >= d.maxAttempts {
		d.dead(ctx, msg, cause.Error())
		return
	}

	next := time.Now().Add(d.retryBackoff * time.Duration(attempts))
	if err := d.store.MarkFailed(ctx, msg.ID, attempts, cause.Error(), next); err != nil {
		d.logger.Error("Marking message failed", "id", msg.ID, "error", err)
		return
	}
	d.logger.Warn("Dispatch attempt failed, retry scheduled",
		"id", msg.ID,
		"sagaId", msg.SagaID,
		"destination", msg.Destination,
		"attempts", attempts,
		"error", cause)
}

// dead parks a message in the dead letter state.
func (d *Dispatcher) dead(ctx context.Context, msg *adapters.DispatchMessage, lastError string) {
	if err := d.store.MarkDead(ctx, msg.ID, lastError); err != nil {
		d.logger.Error("Marking message dead failed", "id", msg.ID, "error", err)
		return
	}
	d.logger.Warn("Dispatch message moved to dead letter",
		"id", msg.ID,
		"sagaId", msg.SagaID,
		"destination", msg.Destination,
		"error", lastError)
}

// destinationScheme extracts the scheme from a destination string.
// For example, "webhook:https://example.com" returns "webhook".
func destinationScheme(destination string) string {
	if idx := strings.Index(destination, ":"); idx > 0 {
		return destination[:idx]
	}
	return destination
}
