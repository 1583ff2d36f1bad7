package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/miniware/assistbot/pkg/bus"
	"github.com/miniware/assistbot/pkg/logger"
)

// DiscordChannel adapts Discord guild and DM text chat. Discord has no
// inline keyboards in our sense, so button rows are flattened into numbered
// command hints.
type DiscordChannel struct {
	token     string
	allowFrom []string
	mb        *bus.MessageBus

	session *discordgo.Session
}

// NewDiscordChannel creates a Discord adapter.
func NewDiscordChannel(token string, allowFrom []string, mb *bus.MessageBus) *DiscordChannel {
	return &DiscordChannel{token: token, allowFrom: allowFrom, mb: mb}
}

func (d *DiscordChannel) Name() string { return "discord" }

func (d *DiscordChannel) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	session.AddHandler(d.onMessage)

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	d.session = session
	logger.InfoCF("discord", "Connected", map[string]interface{}{"user": session.State.User.Username})
	return nil
}

func (d *DiscordChannel) Stop(ctx context.Context) error {
	if d.session != nil {
		return d.session.Close()
	}
	return nil
}

func (d *DiscordChannel) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Content == "" {
		return
	}
	if !allowedFrom(d.allowFrom, m.Author.ID) {
		return
	}

	chatType := bus.ChatGroup
	if m.GuildID == "" {
		chatType = bus.ChatPrivate
	}

	text := m.Content
	if chatType == bus.ChatGroup && !strings.HasPrefix(text, "/") {
		// Discord mentions arrive as <@id>; require one and strip it so the
		// shared parser sees plain text. The mention check happens here, so
		// the parser runs in private mode to skip its @name filter.
		mention := "<@" + s.State.User.ID + ">"
		nickMention := "<@!" + s.State.User.ID + ">"
		if !strings.Contains(text, mention) && !strings.Contains(text, nickMention) {
			return
		}
		text = strings.ReplaceAll(text, mention, "")
		text = strings.TrimSpace(strings.ReplaceAll(text, nickMention, ""))
		if text == "" {
			return
		}
	}

	msg, ok := ParseInbound("", bus.ChatPrivate, text)
	if !ok {
		return
	}
	msg.ChatType = chatType
	msg.Channel = d.Name()
	msg.SenderID = m.Author.ID
	msg.SenderName = m.Author.Username
	msg.ChatID = m.ChannelID
	d.mb.PublishInbound(msg)
}

func (d *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	content := flattenButtons(msg.Content, msg.Buttons)
	if _, err := d.session.ChannelMessageSend(msg.ChatID, content); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}
