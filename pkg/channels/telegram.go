package channels

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"

	"github.com/miniware/assistbot/pkg/bus"
	"github.com/miniware/assistbot/pkg/logger"
)

// TelegramChannel is the primary adapter: long-polls updates, understands
// commands, free text and inline-keyboard callbacks.
type TelegramChannel struct {
	token     string
	allowFrom []string
	mb        *bus.MessageBus

	bot     *telego.Bot
	botName string
	cancel  context.CancelFunc
}

// NewTelegramChannel creates a Telegram adapter.
func NewTelegramChannel(token string, allowFrom []string, mb *bus.MessageBus) *TelegramChannel {
	return &TelegramChannel{token: token, allowFrom: allowFrom, mb: mb}
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) Start(ctx context.Context) error {
	bot, err := telego.NewBot(t.token)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot

	me, err := bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	t.botName = me.Username
	logger.InfoCF("telegram", "Connected", map[string]interface{}{"username": me.Username})

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	updates, err := bot.UpdatesViaLongPolling(runCtx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("telegram long polling: %w", err)
	}

	go func() {
		for update := range updates {
			t.handleUpdate(runCtx, update)
		}
	}()
	return nil
}

func (t *TelegramChannel) Stop(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}

func (t *TelegramChannel) handleUpdate(ctx context.Context, update telego.Update) {
	switch {
	case update.Message != nil:
		t.handleMessage(update.Message)
	case update.CallbackQuery != nil:
		t.handleCallback(ctx, update.CallbackQuery)
	}
}

func (t *TelegramChannel) handleMessage(m *telego.Message) {
	if m.Text == "" || m.From == nil {
		return
	}
	senderID := strconv.FormatInt(m.From.ID, 10)
	if !allowedFrom(t.allowFrom, senderID) {
		return
	}

	chatType := bus.ChatPrivate
	if m.Chat.Type == telego.ChatTypeGroup || m.Chat.Type == telego.ChatTypeSupergroup {
		chatType = bus.ChatGroup
	}

	msg, ok := ParseInbound(t.botName, chatType, m.Text)
	if !ok {
		return
	}
	msg.Channel = t.Name()
	msg.SenderID = senderID
	msg.SenderName = m.From.FirstName
	msg.ChatID = strconv.FormatInt(m.Chat.ID, 10)
	t.mb.PublishInbound(msg)
}

func (t *TelegramChannel) handleCallback(ctx context.Context, q *telego.CallbackQuery) {
	// Acknowledge so the client stops the button spinner.
	err := t.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{CallbackQueryID: q.ID})
	if err != nil {
		logger.DebugCF("telegram", "Callback ack failed", map[string]interface{}{"error": err.Error()})
	}

	senderID := strconv.FormatInt(q.From.ID, 10)
	if !allowedFrom(t.allowFrom, senderID) || q.Data == "" || q.Message == nil {
		return
	}

	t.mb.PublishInbound(bus.InboundMessage{
		Channel:       t.Name(),
		SenderID:      senderID,
		SenderName:    q.From.FirstName,
		ChatID:        strconv.FormatInt(q.Message.GetChat().ID, 10),
		ChatType:      bus.ChatPrivate,
		Kind:          bus.KindCallback,
		CallbackToken: q.Data,
		Content:       q.Data,
	})
}

func (t *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad telegram chat id %q: %w", msg.ChatID, err)
	}

	params := &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   msg.Content,
	}
	if len(msg.Buttons) > 0 {
		var rows [][]telego.InlineKeyboardButton
		for _, row := range msg.Buttons {
			var btns []telego.InlineKeyboardButton
			for _, b := range row {
				btns = append(btns, telego.InlineKeyboardButton{Text: b.Label, CallbackData: b.Token})
			}
			rows = append(rows, btns)
		}
		params.ReplyMarkup = &telego.InlineKeyboardMarkup{InlineKeyboard: rows}
	}

	if _, err := t.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
