package channels

import (
	"context"
	"fmt"

	"github.com/chzyer/readline"

	"github.com/miniware/assistbot/pkg/bus"
	"github.com/miniware/assistbot/pkg/logger"
)

// cliChatID is the single pseudo-chat the terminal represents.
const cliChatID = "cli:local"

// CLIChannel is a readline-backed local channel for development: type
// commands in the terminal, replies print to stdout.
type CLIChannel struct {
	mb *bus.MessageBus

	rl     *readline.Instance
	cancel context.CancelFunc
}

// NewCLIChannel creates the terminal adapter.
func NewCLIChannel(mb *bus.MessageBus) *CLIChannel {
	return &CLIChannel{mb: mb}
}

func (c *CLIChannel) Name() string { return "cli" }

func (c *CLIChannel) Start(ctx context.Context) error {
	rl, err := readline.New("you> ")
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	c.rl = rl

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.readLoop(runCtx)
	logger.InfoC("cli", "Terminal channel ready: type /help")
	return nil
}

func (c *CLIChannel) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.rl != nil {
		return c.rl.Close()
	}
	return nil
}

func (c *CLIChannel) readLoop(ctx context.Context) {
	for {
		line, err := c.rl.Readline()
		if err != nil { // io.EOF or readline.ErrInterrupt
			return
		}
		if ctx.Err() != nil {
			return
		}

		msg, ok := ParseInbound("", bus.ChatPrivate, line)
		if !ok {
			continue
		}
		msg.Channel = c.Name()
		msg.SenderID = "local"
		msg.SenderName = "you"
		msg.ChatID = cliChatID
		c.mb.PublishInbound(msg)
	}
}

func (c *CLIChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	fmt.Printf("bot> %s\n", flattenButtons(msg.Content, msg.Buttons))
	return nil
}
