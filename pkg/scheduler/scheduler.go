// Package scheduler fires deferred messages at their requested time, exactly
// once per delivery, independent of whatever the dispatch loop is doing.
//
// Deliveries are kept in a min-heap ordered by fire time; a single timing
// goroutine sleeps until the earliest entry is due. Sends go through a
// Sender callback with bounded exponential backoff; a delivery that
// exhausts its retries is still marked Fired (attempted, not silently
// dropped) and the failure is reported on the system event stream.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miniware/assistbot/pkg/bus"
	"github.com/miniware/assistbot/pkg/logger"
)

// ErrAlreadyResolved is returned by Cancel for a delivery that already fired
// or was already cancelled. Benign: reported, never fatal.
var ErrAlreadyResolved = fmt.Errorf("delivery already resolved")

// DeliveryState is the lifecycle state of a scheduled delivery.
type DeliveryState string

const (
	StatePending   DeliveryState = "pending"
	StateFired     DeliveryState = "fired"
	StateCancelled DeliveryState = "cancelled"
)

// Delivery is one pending deferred message. Owned exclusively by the
// scheduler; the sender never mutates it.
type Delivery struct {
	ID          string        `json:"id"`
	Channel     string        `json:"channel"`
	Destination string        `json:"destination"` // chat ID
	Payload     string        `json:"payload"`
	FireAt      time.Time     `json:"fire_at"`
	State       DeliveryState `json:"state"`
	Attempts    int           `json:"attempts"`

	seq    uint64 // insertion order, tie-break for identical FireAt
	firing bool   // set once dispatch has begun; Cancel loses the race
}

// Sender delivers a payload to a destination chat. A non-nil error is
// treated as transient and retried per policy.
type Sender func(channel, destination, payload string) error

// RetryPolicy bounds redelivery of failed sends.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy returns the standard bounded backoff policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second}
}

// backoffFor returns the delay before the given retry attempt (1-based).
func (p RetryPolicy) backoffFor(attempt int) time.Duration {
	d := p.BaseBackoff << (attempt - 1)
	if d > p.MaxBackoff || d <= 0 {
		return p.MaxBackoff
	}
	return d
}

// ---------------------------------------------------------------------------
// Scheduler
// ---------------------------------------------------------------------------

type Scheduler struct {
	sender Sender
	policy RetryPolicy
	store  Store            // nil means memory-only
	events *bus.MessageBus  // nil means no observability reports
	now    func() time.Time // injectable for tests

	mu         sync.Mutex
	deliveries map[string]*Delivery
	queue      deliveryQueue
	nextSeq    uint64
	wake       chan struct{}
}

// New creates a scheduler. store and events may be nil.
func New(sender Sender, policy RetryPolicy, store Store, events *bus.MessageBus) *Scheduler {
	return &Scheduler{
		sender:     sender,
		policy:     policy,
		store:      store,
		events:     events,
		now:        time.Now,
		deliveries: make(map[string]*Delivery),
		wake:       make(chan struct{}, 1),
	}
}

// Schedule registers a deferred delivery. delay must be positive.
func (s *Scheduler) Schedule(channel, destination, payload string, delay time.Duration) (string, error) {
	if delay <= 0 {
		return "", fmt.Errorf("%w: %s", ErrInvalidDelay, delay)
	}

	d := &Delivery{
		ID:          uuid.NewString(),
		Channel:     channel,
		Destination: destination,
		Payload:     payload,
		FireAt:      s.now().Add(delay),
		State:       StatePending,
	}

	s.mu.Lock()
	d.seq = s.nextSeq
	s.nextSeq++
	s.deliveries[d.ID] = d
	heap.Push(&s.queue, d)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveDelivery(d); err != nil {
			logger.WarnCF("scheduler", "Could not persist delivery", map[string]interface{}{
				"id": d.ID, "error": err.Error(),
			})
		}
	}

	s.poke()
	logger.DebugCF("scheduler", "Delivery scheduled", map[string]interface{}{
		"id": d.ID, "fire_at": d.FireAt.Format(time.RFC3339), "chat_id": destination,
	})
	return d.ID, nil
}

// Cancel withdraws a pending delivery. If the delivery already fired, was
// already cancelled, or is being dispatched right now, it reports
// ErrAlreadyResolved and changes nothing.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	d, ok := s.deliveries[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
	}
	if d.State != StatePending || d.firing {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
	}
	d.State = StateCancelled
	s.mu.Unlock()

	s.persistState(d)
	logger.DebugCF("scheduler", "Delivery cancelled", map[string]interface{}{"id": id})
	return nil
}

// Get returns a snapshot of a delivery.
func (s *Scheduler) Get(id string) (Delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return Delivery{}, false
	}
	return *d, true
}

// Pending returns snapshots of all pending deliveries for a destination,
// ordered by fire time.
func (s *Scheduler) Pending(destination string) []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Delivery
	for _, d := range s.deliveries {
		if d.State == StatePending && d.Destination == destination {
			out = append(out, *d)
		}
	}
	sortDeliveries(out)
	return out
}

// Restore loads pending deliveries from the store. Entries whose fire time
// already passed are fired on the next tick: the at-most-one-retry-on-
// restart guarantee for in-flight sends.
func (s *Scheduler) Restore() error {
	if s.store == nil {
		return nil
	}
	pending, err := s.store.PendingDeliveries()
	if err != nil {
		return fmt.Errorf("restore deliveries: %w", err)
	}

	s.mu.Lock()
	for _, d := range pending {
		d.seq = s.nextSeq
		s.nextSeq++
		s.deliveries[d.ID] = d
		heap.Push(&s.queue, d)
	}
	s.mu.Unlock()

	if len(pending) > 0 {
		logger.InfoCF("scheduler", "Restored pending deliveries", map[string]interface{}{
			"count": len(pending),
		})
	}
	s.poke()
	return nil
}

// Run is the timing loop. It sleeps until the earliest pending delivery is
// due, dispatches everything that is due, and goes back to sleep. Schedule
// and Cancel wake it early.
func (s *Scheduler) Run(ctx context.Context) {
	logger.InfoC("scheduler", "Timing loop started")
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		due, next := s.collectDue()
		// Deliveries due at once are grouped per destination so they still
		// fire in fireAt order; destinations proceed independently.
		byDest := make(map[string][]*Delivery)
		for _, d := range due {
			byDest[d.Destination] = append(byDest[d.Destination], d)
		}
		for _, batch := range byDest {
			go func(batch []*Delivery) {
				for _, d := range batch {
					s.dispatch(d)
				}
			}(batch)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		wait := time.Hour
		if !next.IsZero() {
			wait = next.Sub(s.now())
			if wait < 0 {
				wait = 0
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			logger.InfoC("scheduler", "Timing loop stopped")
			return
		case <-timer.C:
		case <-s.wake:
		}
	}
}

// collectDue pops all due deliveries, marking them as firing so a
// concurrent Cancel resolves deterministically. Returns the due set and the
// fire time of the next pending entry (zero if none).
func (s *Scheduler) collectDue() ([]*Delivery, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []*Delivery
	for s.queue.Len() > 0 {
		head := s.queue[0]
		if head.State != StatePending {
			heap.Pop(&s.queue) // cancelled entries are lazily discarded
			continue
		}
		if head.FireAt.After(now) {
			return due, head.FireAt
		}
		heap.Pop(&s.queue)
		head.firing = true
		due = append(due, head)
	}
	return due, time.Time{}
}

// dispatch sends one delivery with bounded retries. Failures are isolated
// per delivery.
func (s *Scheduler) dispatch(d *Delivery) {
	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		s.mu.Lock()
		d.Attempts = attempt
		s.mu.Unlock()

		lastErr = s.sender(d.Channel, d.Destination, d.Payload)
		if lastErr == nil {
			break
		}
		logger.WarnCF("scheduler", "Delivery attempt failed", map[string]interface{}{
			"id": d.ID, "attempt": attempt, "error": lastErr.Error(),
		})
		if attempt < s.policy.MaxAttempts {
			time.Sleep(s.policy.backoffFor(attempt))
		}
	}

	s.mu.Lock()
	d.State = StateFired
	d.firing = false
	s.mu.Unlock()
	s.persistState(d)

	if lastErr != nil {
		// Attempted, not silently dropped: report and move on.
		logger.ErrorCF("scheduler", "Delivery failed after retries", map[string]interface{}{
			"id": d.ID, "attempts": d.Attempts, "error": lastErr.Error(),
		})
		if s.events != nil {
			s.events.PublishSystem(bus.SystemEvent{
				Type:   "delivery.failed",
				Source: "scheduler",
				Data: map[string]interface{}{
					"id": d.ID, "chat_id": d.Destination, "error": lastErr.Error(),
				},
			})
		}
		return
	}

	logger.DebugCF("scheduler", "Delivery fired", map[string]interface{}{"id": d.ID})
}

func (s *Scheduler) persistState(d *Delivery) {
	if s.store == nil {
		return
	}
	if err := s.store.UpdateDelivery(d); err != nil {
		logger.WarnCF("scheduler", "Could not update persisted delivery", map[string]interface{}{
			"id": d.ID, "error": err.Error(),
		})
	}
}

// poke wakes the timing loop without blocking.
func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// ---------------------------------------------------------------------------
// Fire-time min-heap
// ---------------------------------------------------------------------------

type deliveryQueue []*Delivery

func (q deliveryQueue) Len() int { return len(q) }

func (q deliveryQueue) Less(i, j int) bool {
	if q[i].FireAt.Equal(q[j].FireAt) {
		return q[i].seq < q[j].seq
	}
	return q[i].FireAt.Before(q[j].FireAt)
}

func (q deliveryQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *deliveryQueue) Push(x interface{}) { *q = append(*q, x.(*Delivery)) }

func (q *deliveryQueue) Pop() interface{} {
	old := *q
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return d
}

func sortDeliveries(ds []Delivery) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].FireAt.Before(ds[j].FireAt) })
}
