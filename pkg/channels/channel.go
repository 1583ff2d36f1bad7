// Package channels contains the messaging platform adapters. Each adapter
// turns platform updates into bus.InboundMessage events and delivers
// bus.OutboundMessage replies; everything platform-specific stays here.
package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/miniware/assistbot/pkg/bus"
	"github.com/miniware/assistbot/pkg/logger"
)

// Channel is one messaging platform adapter.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// Manager owns the registered channels, pumps outbound messages from the
// bus to the right adapter, and offers a direct Send used by the scheduler.
type Manager struct {
	mb *bus.MessageBus

	mu       sync.RWMutex
	channels map[string]Channel
}

// NewManager creates an empty channel manager.
func NewManager(mb *bus.MessageBus) *Manager {
	return &Manager{mb: mb, channels: make(map[string]Channel)}
}

// Register adds a channel adapter.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Names returns the registered channel names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.channels))
	for name := range m.channels {
		out = append(out, name)
	}
	return out
}

// StartAll starts every registered channel. A channel that fails to start
// is logged and skipped; the rest keep running.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Channel failed to start", map[string]interface{}{
				"channel": name, "error": err.Error(),
			})
			continue
		}
		logger.InfoCF("channels", "Channel started", map[string]interface{}{"channel": name})
		m.mb.PublishSystem(bus.SystemEvent{Type: "channel.started", Source: name})
	}
}

// StopAll stops every registered channel.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.WarnCF("channels", "Channel stop error", map[string]interface{}{
				"channel": name, "error": err.Error(),
			})
		}
	}
}

// Run pumps outbound messages from the bus to their channel until ctx is
// done. Send failures are logged; the router never sees them.
func (m *Manager) Run(ctx context.Context) {
	for {
		msg, ok := m.mb.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		if err := m.deliver(ctx, msg); err != nil {
			logger.ErrorCF("channels", "Outbound delivery failed", map[string]interface{}{
				"channel": msg.Channel, "chat_id": msg.ChatID, "error": err.Error(),
			})
			m.mb.PublishSystem(bus.SystemEvent{
				Type:   "send.failed",
				Source: msg.Channel,
				Data:   map[string]interface{}{"chat_id": msg.ChatID, "error": err.Error()},
			})
		}
	}
}

func (m *Manager) deliver(ctx context.Context, msg bus.OutboundMessage) error {
	m.mu.RLock()
	ch, ok := m.channels[msg.Channel]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no channel %q", msg.Channel)
	}
	return ch.Send(ctx, msg)
}

// Send delivers a plain text message directly, bypassing the bus. The
// scheduler uses this as its Sender so retry semantics see real errors.
func (m *Manager) Send(channel, chatID, text string) error {
	return m.deliver(context.Background(), bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: text,
	})
}

// ---------------------------------------------------------------------------
// Shared inbound parsing
// ---------------------------------------------------------------------------

// ParseInbound classifies raw chat text into a command or text event,
// applying the group-mention policy: in group chats the bot only reacts
// when mentioned, and the mention is stripped before routing. The second
// return value is false when the event should be ignored entirely.
func ParseInbound(botName string, chatType bus.ChatType, text string) (bus.InboundMessage, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return bus.InboundMessage{}, false
	}

	if chatType == bus.ChatGroup && !strings.HasPrefix(text, "/") {
		handle := "@" + botName
		if botName == "" || !strings.Contains(text, handle) {
			return bus.InboundMessage{}, false // silent ignore
		}
		text = strings.TrimSpace(strings.ReplaceAll(text, handle, ""))
		if text == "" {
			return bus.InboundMessage{}, false
		}
	}

	msg := bus.InboundMessage{ChatType: chatType, Content: text}
	if strings.HasPrefix(text, "/") {
		fields := strings.Fields(text[1:])
		if len(fields) == 0 {
			return bus.InboundMessage{}, false
		}
		name := fields[0]
		// Telegram group commands look like "/help@botname".
		if i := strings.IndexByte(name, '@'); i >= 0 {
			if botName != "" && name[i+1:] != botName {
				return bus.InboundMessage{}, false // addressed to another bot
			}
			name = name[:i]
		}
		if name == "" {
			return bus.InboundMessage{}, false
		}
		msg.Kind = bus.KindCommand
		msg.Command = name
		msg.Args = fields[1:]
		return msg, true
	}

	msg.Kind = bus.KindText
	return msg, true
}

// allowedFrom reports whether a sender passes an allowlist. An empty list
// allows everyone.
func allowedFrom(allow []string, senderID string) bool {
	if len(allow) == 0 {
		return true
	}
	for _, a := range allow {
		if a == senderID {
			return true
		}
	}
	return false
}

// flattenButtons renders inline buttons as numbered text hints for
// platforms without inline keyboards.
func flattenButtons(content string, rows [][]bus.Button) string {
	if len(rows) == 0 {
		return content
	}
	var b strings.Builder
	b.WriteString(content)
	b.WriteString("\n")
	i := 1
	for _, row := range rows {
		for _, btn := range row {
			fmt.Fprintf(&b, "\n%d. %s (/%s)", i, btn.Label, btn.Token)
			i++
		}
	}
	return b.String()
}
