// Package router maps inbound events to registered operations and owns the
// dispatch loop. Routing rules, in order:
//
//   - command events match a registered command by exact, case-sensitive
//     name. A command arriving mid-flow always preempts the flow: the user
//     can escape a stuck interaction with any command.
//   - callback events match a registered callback token exactly.
//   - text events go to the active flow step for the chat if one is
//     awaiting input, else to the fallback handler.
//
// Nothing a handler does can crash the dispatch loop: errors and panics are
// caught at the router boundary and turned into a generic failure reply.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/miniware/assistbot/pkg/bus"
	"github.com/miniware/assistbot/pkg/flow"
	"github.com/miniware/assistbot/pkg/i18n"
	"github.com/miniware/assistbot/pkg/logger"
)

// ErrDuplicateRegistration means two operations claimed the same
// (kind, name) pair. This is a configuration error and startup-fatal.
var ErrDuplicateRegistration = fmt.Errorf("duplicate operation registration")

// Request is what a handler receives: the triggering event and the chat's
// session. The session is safe to read: dispatch for one chat is serialized.
type Request struct {
	Msg     bus.InboundMessage
	Session *flow.Session
	Bundle  *i18n.Bundle

	// Preempted holds the flow state an explicit command interrupted, nil
	// otherwise. /cancel uses it to acknowledge the right thing.
	Preempted *flow.State
}

// Arg returns the i-th command argument or "".
func (r *Request) Arg(i int) string {
	if i < 0 || i >= len(r.Msg.Args) {
		return ""
	}
	return r.Msg.Args[i]
}

// Response is what a handler produces: zero or more outbound messages and an
// optional next conversation state. A nil Next keeps the current state.
type Response struct {
	Messages []bus.OutboundMessage
	Next     *flow.State
}

// Reply builds a single-message response addressed back to the requester.
func Reply(text string) Response {
	return Response{Messages: []bus.OutboundMessage{{Content: text}}}
}

// ReplyWithButtons builds a reply carrying inline keyboard rows.
func ReplyWithButtons(text string, buttons [][]bus.Button) Response {
	return Response{Messages: []bus.OutboundMessage{{Content: text, Buttons: buttons}}}
}

// Then sets the next conversation state on a response.
func (r Response) Then(next flow.State) Response {
	r.Next = &next
	return r
}

// Handler executes one operation.
type Handler func(ctx context.Context, req *Request) (Response, error)

// Descriptor is a registered operation.
type Descriptor struct {
	Kind        bus.Kind
	Name        string
	Description string // shown by /help for commands
	Handler     Handler
}

// ---------------------------------------------------------------------------
// Router
// ---------------------------------------------------------------------------

type Router struct {
	bus      *bus.MessageBus
	sessions *flow.Store
	bundle   *i18n.Bundle

	mu        sync.RWMutex
	commands  map[string]*Descriptor
	callbacks map[string]*Descriptor
	steps     map[string]*Descriptor // key: "flow/step"
	fallback  *Descriptor

	locks chatLocks
}

// New creates a router publishing replies to mb.
func New(mb *bus.MessageBus, sessions *flow.Store, bundle *i18n.Bundle) *Router {
	return &Router{
		bus:       mb,
		sessions:  sessions,
		bundle:    bundle,
		commands:  make(map[string]*Descriptor),
		callbacks: make(map[string]*Descriptor),
		steps:     make(map[string]*Descriptor),
	}
}

// Sessions exposes the session store (janitor and tests use it).
func (r *Router) Sessions() *flow.Store { return r.sessions }

// RegisterCommand binds a handler to an explicit /command name.
func (r *Router) RegisterCommand(name, description string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[name]; ok {
		return fmt.Errorf("%w: command %q", ErrDuplicateRegistration, name)
	}
	r.commands[name] = &Descriptor{Kind: bus.KindCommand, Name: name, Description: description, Handler: h}
	return nil
}

// RegisterCallback binds a handler to an inline-button callback token.
func (r *Router) RegisterCallback(token string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.callbacks[token]; ok {
		return fmt.Errorf("%w: callback %q", ErrDuplicateRegistration, token)
	}
	r.callbacks[token] = &Descriptor{Kind: bus.KindCallback, Name: token, Handler: h}
	return nil
}

// RegisterStep binds a handler to a flow step. The handler runs when a text
// event arrives while the chat is awaiting input for (flowName, step).
func (r *Router) RegisterStep(flowName, step string, h Handler) error {
	key := flowName + "/" + step
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.steps[key]; ok {
		return fmt.Errorf("%w: step %q", ErrDuplicateRegistration, key)
	}
	r.steps[key] = &Descriptor{Kind: bus.KindText, Name: key, Handler: h}
	return nil
}

// RegisterFallback sets the handler for free text outside any flow. This is
// the hook a concrete NLP integration would plug into.
func (r *Router) RegisterFallback(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fallback != nil {
		return fmt.Errorf("%w: fallback", ErrDuplicateRegistration)
	}
	r.fallback = &Descriptor{Kind: bus.KindText, Name: "fallback", Handler: h}
	return nil
}

// Commands returns the registered command descriptors sorted by name.
func (r *Router) Commands() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.commands))
	for _, d := range r.commands {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run consumes inbound events until ctx is done. Each event is dispatched on
// its own goroutine; the per-chat lock inside Dispatch serializes events for
// the same chat while different chats proceed in parallel.
func (r *Router) Run(ctx context.Context) {
	logger.InfoC("router", "Dispatch loop started")
	for {
		msg, ok := r.bus.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("router", "Dispatch loop stopped")
			return
		}
		go r.Dispatch(ctx, msg)
	}
}

// Dispatch routes one inbound event. It never returns an error to the
// caller: every failure mode ends in either a user-visible reply or a log
// line, and the loop keeps going for other chats.
func (r *Router) Dispatch(ctx context.Context, msg bus.InboundMessage) {
	unlock := r.locks.lock(msg.ChatID)
	defer unlock()

	session := r.sessions.Get(msg.ChatID, msg.Channel)
	req := &Request{Msg: msg, Session: session, Bundle: r.bundle}

	desc, preempt := r.match(msg, session)
	if desc == nil {
		// No operation and no active flow step: unknown input.
		r.send(msg, bus.OutboundMessage{Content: r.bundle.Get("unknown_command")})
		return
	}
	if preempt {
		// Explicit command while a flow is active: the command wins and the
		// in-flight flow is cancelled implicitly.
		logger.DebugCF("router", "Command preempts active flow", map[string]interface{}{
			"chat_id": msg.ChatID,
			"flow":    session.State.Flow,
			"command": msg.Command,
		})
		interrupted := session.State
		req.Preempted = &interrupted
		session.State = flow.Idle()
	}

	resp, err := r.invoke(ctx, desc, req)
	if err != nil {
		logger.ErrorCF("router", "Handler failed", map[string]interface{}{
			"operation": desc.Name,
			"chat_id":   msg.ChatID,
			"error":     err.Error(),
		})
		session.State = flow.Idle()
		r.send(msg, bus.OutboundMessage{Content: r.bundle.Get("error_occurred")})
		return
	}

	session.State = flow.Transition(session.State, resp.Next)
	for _, out := range resp.Messages {
		r.send(msg, out)
	}
}

// match resolves the descriptor for an event. The second return value is
// true when an explicit command should cancel an in-flight flow.
func (r *Router) match(msg bus.InboundMessage, session *flow.Session) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch msg.Kind {
	case bus.KindCommand:
		d, ok := r.commands[msg.Command]
		if !ok {
			return nil, false
		}
		return d, !session.State.IsIdle()

	case bus.KindCallback:
		return r.callbacks[msg.CallbackToken], false

	case bus.KindText:
		if key := session.State.Key(); key != "" {
			if d, ok := r.steps[key]; ok {
				return d, false
			}
			// A flow is active but no handler serves its step. This is the
			// InvalidStateTransition case: recover to Idle, then fall through
			// to the fallback.
			logger.WarnCF("router", "No handler for active flow step, resetting session", map[string]interface{}{
				"chat_id": msg.ChatID,
				"step":    key,
			})
			session.State = flow.Idle()
		}
		return r.fallback, false
	}
	return nil, false
}

// invoke runs a handler with panic isolation.
func (r *Router) invoke(ctx context.Context, desc *Descriptor, req *Request) (resp Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler %s panicked: %v", desc.Name, rec)
		}
	}()
	return desc.Handler(ctx, req)
}

// send fills in addressing defaults and publishes an outbound message.
func (r *Router) send(in bus.InboundMessage, out bus.OutboundMessage) {
	if out.Channel == "" {
		out.Channel = in.Channel
	}
	if out.ChatID == "" {
		out.ChatID = in.ChatID
	}
	r.bus.PublishOutbound(out)
}

// ---------------------------------------------------------------------------
// Per-chat serialization
// ---------------------------------------------------------------------------

// chatLocks hands out one mutex per chat ID. Two events for the same chat
// are never processed concurrently; different chats run in parallel.
type chatLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (c *chatLocks) lock(chatID string) func() {
	c.mu.Lock()
	if c.locks == nil {
		c.locks = make(map[string]*sync.Mutex)
	}
	m, ok := c.locks[chatID]
	if !ok {
		m = &sync.Mutex{}
		c.locks[chatID] = m
	}
	c.mu.Unlock()

	m.Lock()
	return m.Unlock
}
