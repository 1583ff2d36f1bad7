package bus

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestInboundRoundTrip(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	mb.PublishInbound(InboundMessage{Channel: "test", ChatID: "c1", Content: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no message")
	}
	if msg.ChatID != "c1" || msg.Content != "hi" {
		t.Errorf("got %+v", msg)
	}
}

func TestConsumeRespectsContext(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := mb.ConsumeInbound(ctx); ok {
		t.Error("ConsumeInbound returned a message from a cancelled context")
	}
	if _, ok := mb.ConsumeOutbound(ctx); ok {
		t.Error("ConsumeOutbound returned a message from a cancelled context")
	}
}

func TestInboundDropsOldestWhenFull(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	for i := 0; i < 110; i++ {
		mb.PublishInbound(InboundMessage{Content: fmt.Sprintf("m%d", i)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("no message")
	}
	// The oldest messages were dropped; the head is no longer m0.
	if msg.Content == "m0" {
		t.Error("oldest message survived a full queue")
	}
}

func TestSystemFanOut(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	a := mb.SubscribeSystem("a")
	b := mb.SubscribeSystem("b")

	mb.PublishSystem(SystemEvent{Type: "channel.started", Source: "telegram"})

	for name, ch := range map[string]<-chan SystemEvent{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Type != "channel.started" {
				t.Errorf("subscriber %s got %+v", name, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s got nothing", name)
		}
	}
}

func TestSlowSystemSubscriberDoesNotBlock(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	mb.SubscribeSystem("slow") // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			mb.PublishSystem(SystemEvent{Type: "tick"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishSystem blocked on a slow subscriber")
	}
}

func TestPublishAfterClose(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	// Must not panic.
	mb.PublishInbound(InboundMessage{Content: "late"})
	mb.PublishOutbound(OutboundMessage{Content: "late"})
	mb.PublishSystem(SystemEvent{Type: "late"})
	mb.Close()
}
