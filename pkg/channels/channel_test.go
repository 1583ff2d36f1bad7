package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/miniware/assistbot/pkg/bus"
)

func TestParseInboundCommands(t *testing.T) {
	tests := []struct {
		name     string
		chatType bus.ChatType
		text     string
		wantCmd  string
		wantArgs []string
	}{
		{"plain command", bus.ChatPrivate, "/start", "start", nil},
		{"command with args", bus.ChatPrivate, "/weather London", "weather", []string{"London"}},
		{"multi args", bus.ChatPrivate, "/reminder 30m Buy milk", "reminder", []string{"30m", "Buy", "milk"}},
		{"surrounding whitespace", bus.ChatPrivate, "  /joke  ", "joke", nil},
		{"addressed suffix", bus.ChatGroup, "/help@assistbot", "help", nil},
		{"addressed suffix with args", bus.ChatGroup, "/weather@assistbot Paris", "weather", []string{"Paris"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := ParseInbound("assistbot", tt.chatType, tt.text)
			if !ok {
				t.Fatal("event unexpectedly ignored")
			}
			if msg.Kind != bus.KindCommand {
				t.Fatalf("kind = %s, want command", msg.Kind)
			}
			if msg.Command != tt.wantCmd {
				t.Errorf("command = %q, want %q", msg.Command, tt.wantCmd)
			}
			if len(msg.Args) != len(tt.wantArgs) {
				t.Fatalf("args = %v, want %v", msg.Args, tt.wantArgs)
			}
			for i := range tt.wantArgs {
				if msg.Args[i] != tt.wantArgs[i] {
					t.Errorf("args = %v, want %v", msg.Args, tt.wantArgs)
				}
			}
		})
	}
}

func TestParseInboundIgnored(t *testing.T) {
	tests := []struct {
		name     string
		chatType bus.ChatType
		text     string
	}{
		{"empty", bus.ChatPrivate, ""},
		{"whitespace only", bus.ChatPrivate, "   "},
		{"bare slash", bus.ChatPrivate, "/"},
		{"group text without mention", bus.ChatGroup, "what's the weather like"},
		{"group mention only", bus.ChatGroup, "@assistbot"},
		{"command for another bot", bus.ChatGroup, "/help@otherbot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := ParseInbound("assistbot", tt.chatType, tt.text); ok {
				t.Errorf("ParseInbound(%q) accepted, want silent ignore", tt.text)
			}
		})
	}
}

func TestParseInboundGroupMention(t *testing.T) {
	msg, ok := ParseInbound("assistbot", bus.ChatGroup, "hey @assistbot tell me a joke")
	if !ok {
		t.Fatal("mentioned group text ignored")
	}
	if msg.Kind != bus.KindText {
		t.Fatalf("kind = %s, want text", msg.Kind)
	}
	if msg.Content != "hey  tell me a joke" && msg.Content != "hey tell me a joke" {
		t.Errorf("content = %q, mention not stripped", msg.Content)
	}
	if strings.Contains(msg.Content, "@assistbot") {
		t.Errorf("content %q still carries the mention", msg.Content)
	}
	if msg.ChatType != bus.ChatGroup {
		t.Errorf("chat type = %s, want group", msg.ChatType)
	}
}

func TestParseInboundPrivateText(t *testing.T) {
	msg, ok := ParseInbound("assistbot", bus.ChatPrivate, "London")
	if !ok {
		t.Fatal("private text ignored")
	}
	if msg.Kind != bus.KindText || msg.Content != "London" {
		t.Errorf("got kind=%s content=%q", msg.Kind, msg.Content)
	}
}

func TestAllowedFrom(t *testing.T) {
	if !allowedFrom(nil, "anyone") {
		t.Error("empty allowlist must allow everyone")
	}
	allow := []string{"123", "456"}
	if !allowedFrom(allow, "456") {
		t.Error("listed sender rejected")
	}
	if allowedFrom(allow, "789") {
		t.Error("unlisted sender allowed")
	}
}

func TestFlattenButtons(t *testing.T) {
	rows := [][]bus.Button{
		{{Label: "Weather", Token: "weather"}, {Label: "News", Token: "news"}},
		{{Label: "Joke", Token: "joke"}},
	}
	got := flattenButtons("Pick one:", rows)

	for _, want := range []string{"Pick one:", "1. Weather (/weather)", "2. News (/news)", "3. Joke (/joke)"} {
		if !strings.Contains(got, want) {
			t.Errorf("flattened output missing %q:\n%s", want, got)
		}
	}

	if got := flattenButtons("plain", nil); got != "plain" {
		t.Errorf("no-button output = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// fakeChannel records sends and can be told to fail.
type fakeChannel struct {
	name string

	mu      sync.Mutex
	sent    []bus.OutboundMessage
	sendErr error
	started bool
}

func (f *fakeChannel) Name() string                    { return f.name }
func (f *fakeChannel) Start(ctx context.Context) error { f.started = true; return nil }
func (f *fakeChannel) Stop(ctx context.Context) error  { return nil }

func (f *fakeChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) snapshot() []bus.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bus.OutboundMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func TestManagerRoutesOutbound(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()

	m := NewManager(mb)
	tg := &fakeChannel{name: "telegram"}
	dc := &fakeChannel{name: "discord"}
	m.Register(tg)
	m.Register(dc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	mb.PublishOutbound(bus.OutboundMessage{Channel: "discord", ChatID: "c1", Content: "hi"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(dc.snapshot()) == 1 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	if got := dc.snapshot(); len(got) != 1 || got[0].Content != "hi" {
		t.Fatalf("discord received %v", got)
	}
	if len(tg.snapshot()) != 0 {
		t.Error("telegram received a message meant for discord")
	}
}

func TestManagerSendFailureReported(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()

	m := NewManager(mb)
	m.Register(&fakeChannel{name: "telegram", sendErr: fmt.Errorf("api down")})
	events := mb.SubscribeSystem("test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	mb.PublishOutbound(bus.OutboundMessage{Channel: "telegram", ChatID: "c1", Content: "hi"})

	select {
	case ev := <-events:
		if ev.Type != "send.failed" {
			t.Errorf("event type = %q, want send.failed", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no send.failed event")
	}
}

func TestManagerDirectSend(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()

	m := NewManager(mb)
	tg := &fakeChannel{name: "telegram"}
	m.Register(tg)

	if err := m.Send("telegram", "c1", "reminder text"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := tg.snapshot(); len(got) != 1 || got[0].Content != "reminder text" {
		t.Fatalf("sent = %v", got)
	}

	if err := m.Send("slack", "c1", "x"); err == nil {
		t.Error("Send to unregistered channel succeeded")
	}
}
