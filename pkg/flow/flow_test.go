package flow

import (
	"testing"
	"time"
)

func TestTransition(t *testing.T) {
	awaiting := AwaitingInput("reminder", "when")

	tests := []struct {
		name      string
		current   State
		requested *State
		want      State
	}{
		{"nil keeps current", awaiting, nil, awaiting},
		{"nil folds completed to idle", Completed(), nil, Idle()},
		{"requested completed folds to idle", awaiting, ptr(Completed()), Idle()},
		{"requested awaiting wins", Idle(), ptr(awaiting), awaiting},
		{"requested idle wins", awaiting, ptr(Idle()), Idle()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Transition(tt.current, tt.requested)
			if got.Phase != tt.want.Phase || got.Flow != tt.want.Flow || got.Step != tt.want.Step {
				t.Errorf("Transition() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func ptr(s State) *State { return &s }

func TestStateKey(t *testing.T) {
	if got := AwaitingInput("weather", "city").Key(); got != "weather/city" {
		t.Errorf("Key() = %q, want weather/city", got)
	}
	if got := Idle().Key(); got != "" {
		t.Errorf("Idle().Key() = %q, want empty", got)
	}
	if got := Completed().Key(); got != "" {
		t.Errorf("Completed().Key() = %q, want empty", got)
	}
}

func TestStateData(t *testing.T) {
	s := AwaitingInput("reminder", "what").WithData("when", "30m")
	if got := s.Datum("when"); got != "30m" {
		t.Errorf("Datum(when) = %q, want 30m", got)
	}
	if got := s.Datum("missing"); got != "" {
		t.Errorf("Datum(missing) = %q, want empty", got)
	}

	// WithData must not mutate the original.
	s2 := s.WithData("when", "1h")
	if s.Datum("when") != "30m" || s2.Datum("when") != "1h" {
		t.Error("WithData mutated the source state")
	}
}

func TestStoreOneSessionPerChat(t *testing.T) {
	st := NewStore()

	a := st.Get("chat-1", "test")
	b := st.Get("chat-1", "test")
	if a != b {
		t.Error("Get returned two sessions for the same chat")
	}
	if st.Count() != 1 {
		t.Errorf("Count() = %d, want 1", st.Count())
	}
	if !a.State.IsIdle() {
		t.Errorf("new session state = %+v, want idle", a.State)
	}
}

func TestStoreReset(t *testing.T) {
	st := NewStore()
	s := st.Get("chat-1", "test")
	s.State = AwaitingInput("reminder", "when")

	st.Reset("chat-1")
	if !s.State.IsIdle() {
		t.Errorf("state after Reset = %+v, want idle", s.State)
	}
}

func TestStoreEvictIdle(t *testing.T) {
	st := NewStore()
	now := time.Now()
	st.now = func() time.Time { return now }

	st.Get("old", "test")
	now = now.Add(time.Hour)
	st.Get("fresh", "test")

	if n := st.EvictIdle(30 * time.Minute); n != 1 {
		t.Errorf("EvictIdle = %d, want 1", n)
	}
	if _, ok := st.Peek("old"); ok {
		t.Error("old session survived eviction")
	}
	if _, ok := st.Peek("fresh"); !ok {
		t.Error("fresh session evicted")
	}
}
