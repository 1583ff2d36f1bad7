// Package flow tracks per-chat conversation state so multi-step interactions
// ("set a reminder", "which city?") have deterministic structure.
//
// The machine is flow-agnostic: it stores only which flow a chat is in and
// which step comes next. Concrete flows register step handlers with the
// router under the (flow, step) key this package produces.
package flow

import (
	"fmt"
	"sync"
	"time"
)

// Phase is the coarse conversation phase.
type Phase string

const (
	// PhaseIdle is the initial phase. A chat with no session is Idle.
	PhaseIdle Phase = "idle"
	// PhaseAwaitingInput means the next free-text event belongs to a flow step.
	PhaseAwaitingInput Phase = "awaiting_input"
	// PhaseCompleted is transient: it folds back to Idle immediately.
	PhaseCompleted Phase = "completed"
)

// State is the full conversation state of one chat. Data carries values
// collected by earlier steps of the same flow (e.g. the reminder duration
// entered before the reminder text).
type State struct {
	Phase Phase             `json:"phase"`
	Flow  string            `json:"flow,omitempty"` // e.g. "reminder"
	Step  string            `json:"step,omitempty"` // e.g. "when"
	Data  map[string]string `json:"data,omitempty"`
}

// Idle returns the initial state.
func Idle() State { return State{Phase: PhaseIdle} }

// AwaitingInput returns a state waiting for free text tied to a flow step.
func AwaitingInput(flowName, step string) State {
	return State{Phase: PhaseAwaitingInput, Flow: flowName, Step: step}
}

// Completed returns the transient completion state.
func Completed() State { return State{Phase: PhaseCompleted} }

// WithData returns a copy of the state with one data value set.
func (s State) WithData(key, value string) State {
	data := make(map[string]string, len(s.Data)+1)
	for k, v := range s.Data {
		data[k] = v
	}
	data[key] = value
	s.Data = data
	return s
}

// Datum returns a collected flow value or "".
func (s State) Datum(key string) string {
	return s.Data[key]
}

// IsIdle reports whether no flow is active.
func (s State) IsIdle() bool { return s.Phase == PhaseIdle || s.Phase == "" }

// Key returns the step-handler lookup key for an awaiting state, "" otherwise.
func (s State) Key() string {
	if s.Phase != PhaseAwaitingInput {
		return ""
	}
	return s.Flow + "/" + s.Step
}

// ErrInvalidTransition signals a flow step firing in a state where it is not
// legal. The router recovers by resetting the chat to Idle.
var ErrInvalidTransition = fmt.Errorf("invalid state transition")

// Transition is the pure transition function: given the current state and
// the state a handler requested, it computes the state the session should
// hold next. A nil request keeps the current state. Completed always folds
// back to Idle. Requesting an awaiting step from a terminal phase is fine;
// the only invalid move (a step handler consuming input while Idle) is
// detected by the router before the handler runs, via Key().
func Transition(current State, requested *State) State {
	if requested == nil {
		if current.Phase == PhaseCompleted {
			return Idle()
		}
		return current
	}
	if requested.Phase == PhaseCompleted {
		return Idle()
	}
	return *requested
}

// ---------------------------------------------------------------------------
// Session store
// ---------------------------------------------------------------------------

// Session is the live conversation record for one chat. Exactly one session
// exists per chat ID; the store enforces this.
type Session struct {
	ChatID       string    `json:"chat_id"`
	Channel      string    `json:"channel"`
	State        State     `json:"state"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Store is a thread-safe session registry with idle eviction.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time // injectable for tests
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Get returns the session for chatID, creating an Idle one on first contact.
func (st *Store) Get(chatID, channel string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[chatID]; ok {
		s.LastActiveAt = st.now()
		return s
	}
	s := &Session{
		ChatID:       chatID,
		Channel:      channel,
		State:        Idle(),
		LastActiveAt: st.now(),
	}
	st.sessions[chatID] = s
	return s
}

// Peek returns the session without creating or touching it.
func (st *Store) Peek(chatID string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[chatID]
	return s, ok
}

// Reset forces a chat back to Idle. Used for InvalidStateTransition recovery.
func (st *Store) Reset(chatID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[chatID]; ok {
		s.State = Idle()
	}
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// EvictIdle drops sessions inactive for longer than ttl. Sessions holding an
// active flow are evicted too: an abandoned flow should not pin memory.
func (st *Store) EvictIdle(ttl time.Duration) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	cutoff := st.now().Add(-ttl)
	evicted := 0
	for id, s := range st.sessions {
		if s.LastActiveAt.Before(cutoff) {
			delete(st.sessions, id)
			evicted++
		}
	}
	return evicted
}
