package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/miniware/assistbot/pkg/bus"
	"github.com/miniware/assistbot/pkg/logger"
)

// SlackChannel adapts Slack over Socket Mode (no public webhook needed).
// Button rows are flattened into numbered command hints.
type SlackChannel struct {
	botToken  string
	appToken  string
	allowFrom []string
	mb        *bus.MessageBus

	api    *slack.Client
	client *socketmode.Client
	botID  string
	cancel context.CancelFunc
}

// NewSlackChannel creates a Slack adapter.
func NewSlackChannel(botToken, appToken string, allowFrom []string, mb *bus.MessageBus) *SlackChannel {
	return &SlackChannel{botToken: botToken, appToken: appToken, allowFrom: allowFrom, mb: mb}
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Start(ctx context.Context) error {
	s.api = slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))

	auth, err := s.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	s.botID = auth.UserID
	logger.InfoCF("slack", "Connected", map[string]interface{}{"user": auth.User})

	s.client = socketmode.New(s.api)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.eventLoop(runCtx)
	go func() {
		if err := s.client.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			logger.ErrorCF("slack", "Socket mode stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	return nil
}

func (s *SlackChannel) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *SlackChannel) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-s.client.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			if evt.Request != nil {
				s.client.Ack(*evt.Request)
			}
			if apiEvent.Type != slackevents.CallbackEvent {
				continue
			}
			if ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
				s.onMessage(ev)
			}
		}
	}
}

func (s *SlackChannel) onMessage(ev *slackevents.MessageEvent) {
	// Ignore our own messages and edits/bot posts.
	if ev.User == "" || ev.User == s.botID || ev.BotID != "" || ev.Text == "" {
		return
	}
	if !allowedFrom(s.allowFrom, ev.User) {
		return
	}

	chatType := bus.ChatGroup
	if ev.ChannelType == "im" {
		chatType = bus.ChatPrivate
	}

	text := ev.Text
	if chatType == bus.ChatGroup && !strings.HasPrefix(text, "/") {
		mention := "<@" + s.botID + ">"
		if !strings.Contains(text, mention) {
			return
		}
		text = strings.TrimSpace(strings.ReplaceAll(text, mention, ""))
		if text == "" {
			return
		}
	}

	msg, ok := ParseInbound("", bus.ChatPrivate, text)
	if !ok {
		return
	}
	msg.ChatType = chatType
	msg.Channel = s.Name()
	msg.SenderID = ev.User
	msg.ChatID = ev.Channel
	s.mb.PublishInbound(msg)
}

func (s *SlackChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	content := flattenButtons(msg.Content, msg.Buttons)
	_, _, err := s.api.PostMessageContext(ctx, msg.ChatID, slack.MsgOptionText(content, false))
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}
