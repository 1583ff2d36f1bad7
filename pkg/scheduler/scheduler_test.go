package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// sentRecorder is a Sender that records deliveries and can be told to fail.
type sentRecorder struct {
	mu       sync.Mutex
	sent     []string // "destination|payload"
	failures int      // fail this many calls before succeeding
	calls    int
}

func (r *sentRecorder) send(channel, destination, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failures > 0 {
		r.failures--
		return fmt.Errorf("transient send failure")
	}
	r.sent = append(r.sent, destination+"|"+payload)
	return nil
}

func (r *sentRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	copy(out, r.sent)
	return out
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestScheduleFireAt(t *testing.T) {
	rec := &sentRecorder{}
	s := New(rec.send, fastPolicy(), nil, nil)

	before := time.Now()
	id, err := s.Schedule("test", "chat-1", "hello", 5*time.Minute)
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}

	d, ok := s.Get(id)
	if !ok {
		t.Fatal("delivery not found")
	}
	if d.State != StatePending {
		t.Errorf("state = %s, want pending", d.State)
	}
	want := before.Add(5 * time.Minute)
	if diff := d.FireAt.Sub(want); diff < 0 || diff > time.Second {
		t.Errorf("FireAt off by %v", diff)
	}
}

func TestScheduleInvalidDelay(t *testing.T) {
	s := New((&sentRecorder{}).send, fastPolicy(), nil, nil)

	for _, delay := range []time.Duration{0, -time.Hour} {
		if _, err := s.Schedule("test", "chat-1", "x", delay); !errors.Is(err, ErrInvalidDelay) {
			t.Errorf("Schedule(delay=%v) error = %v, want ErrInvalidDelay", delay, err)
		}
	}
}

func TestFireOnce(t *testing.T) {
	rec := &sentRecorder{}
	s := New(rec.send, fastPolicy(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	id, err := s.Schedule("test", "chat-1", "Buy milk", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 1 })

	if got := rec.snapshot()[0]; got != "chat-1|Buy milk" {
		t.Errorf("delivered %q", got)
	}
	d, _ := s.Get(id)
	if d.State != StateFired {
		t.Errorf("state = %s, want fired", d.State)
	}

	// Exactly once: nothing else arrives.
	time.Sleep(50 * time.Millisecond)
	if n := len(rec.snapshot()); n != 1 {
		t.Errorf("delivered %d times, want 1", n)
	}
}

func TestCancelBeforeFire(t *testing.T) {
	rec := &sentRecorder{}
	s := New(rec.send, fastPolicy(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	id, _ := s.Schedule("test", "chat-1", "never", 100*time.Millisecond)
	if err := s.Cancel(id); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}

	d, _ := s.Get(id)
	if d.State != StateCancelled {
		t.Errorf("state = %s, want cancelled", d.State)
	}

	time.Sleep(200 * time.Millisecond)
	if n := len(rec.snapshot()); n != 0 {
		t.Errorf("cancelled delivery was dispatched %d times", n)
	}
}

func TestCancelAfterFire(t *testing.T) {
	rec := &sentRecorder{}
	s := New(rec.send, fastPolicy(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	id, _ := s.Schedule("test", "chat-1", "gone", 5*time.Millisecond)
	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 1 })

	if err := s.Cancel(id); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("Cancel after fire error = %v, want ErrAlreadyResolved", err)
	}
	if err := s.Cancel(id); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("double Cancel error = %v, want ErrAlreadyResolved", err)
	}
	d, _ := s.Get(id)
	if d.State != StateFired {
		t.Errorf("state changed to %s after late cancel", d.State)
	}
}

func TestCancelUnknownID(t *testing.T) {
	s := New((&sentRecorder{}).send, fastPolicy(), nil, nil)
	if err := s.Cancel("no-such-id"); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("Cancel(unknown) error = %v, want ErrAlreadyResolved", err)
	}
}

func TestSameDestinationOrder(t *testing.T) {
	rec := &sentRecorder{}
	s := New(rec.send, fastPolicy(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// Scheduled out of order; must fire in fireAt order.
	s.Schedule("test", "chat-1", "third", 60*time.Millisecond)
	s.Schedule("test", "chat-1", "first", 10*time.Millisecond)
	s.Schedule("test", "chat-1", "second", 35*time.Millisecond)

	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 3 })

	got := rec.snapshot()
	want := []string{"chat-1|first", "chat-1|second", "chat-1|third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivery order = %v, want %v", got, want)
		}
	}
}

func TestRetryThenSuccess(t *testing.T) {
	rec := &sentRecorder{failures: 2}
	s := New(rec.send, fastPolicy(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	id, _ := s.Schedule("test", "chat-1", "eventually", 5*time.Millisecond)
	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 1 })

	d, _ := s.Get(id)
	if d.State != StateFired {
		t.Errorf("state = %s, want fired", d.State)
	}
	if d.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", d.Attempts)
	}
}

func TestRetryExhaustionMarksFired(t *testing.T) {
	rec := &sentRecorder{failures: 100}
	s := New(rec.send, fastPolicy(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	id, _ := s.Schedule("test", "chat-1", "doomed", 5*time.Millisecond)

	waitFor(t, time.Second, func() bool {
		d, _ := s.Get(id)
		return d.State == StateFired
	})

	// Attempted, not dropped, and not retried forever.
	rec.mu.Lock()
	calls := rec.calls
	rec.mu.Unlock()
	if calls != 3 {
		t.Errorf("sender called %d times, want 3", calls)
	}
}

func TestPendingSorted(t *testing.T) {
	s := New((&sentRecorder{}).send, fastPolicy(), nil, nil)

	s.Schedule("test", "chat-1", "b", 2*time.Hour)
	s.Schedule("test", "chat-1", "a", time.Hour)
	s.Schedule("test", "chat-2", "other", time.Minute)

	pending := s.Pending("chat-1")
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].Payload != "a" || pending[1].Payload != "b" {
		t.Errorf("pending order wrong: %q, %q", pending[0].Payload, pending[1].Payload)
	}
}

func TestBackoffBounded(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseBackoff: time.Second, MaxBackoff: 5 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second}, // capped
		{60, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := p.backoffFor(tt.attempt); got != tt.want {
			t.Errorf("backoffFor(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
