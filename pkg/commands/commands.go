// Package commands registers the bot's operations with the router: the
// commands and inline-button callbacks of the assistant, the multi-step
// flows behind them, and the free-text fallback.
package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miniware/assistbot/pkg/bus"
	"github.com/miniware/assistbot/pkg/content"
	"github.com/miniware/assistbot/pkg/i18n"
	"github.com/miniware/assistbot/pkg/router"
	"github.com/miniware/assistbot/pkg/scheduler"
)

// Deps are the collaborators the operations call out to. Weather and News
// are nil when the corresponding provider is disabled by configuration; the
// commands then answer "feature unavailable" without attempting a call.
type Deps struct {
	Bundle    *i18n.Bundle
	Static    *content.Static
	Weather   content.WeatherProvider
	News      content.NewsProvider
	Scheduler *scheduler.Scheduler
	Cron      *scheduler.CronService
	Language  string
}

// Register wires every operation into the router. Any registration error is
// a configuration bug and should abort startup.
func Register(r *router.Router, d *Deps) error {
	c := &commandSet{deps: d, router: r}

	type reg struct {
		name, description string
		handler           router.Handler
	}
	cmds := []reg{
		{"start", "Start the bot and get a welcome message", c.start},
		{"help", "Show available commands and their descriptions", c.help},
		{"weather", "Get current weather for a city", c.weather},
		{"news", "Get latest news headlines", c.news},
		{"joke", "Get a random joke", c.joke},
		{"quote", "Get an inspirational quote", c.quote},
		{"calc", "Evaluate an arithmetic expression", c.calcCmd},
		{"reminder", "Set a reminder for later", c.reminder},
		{"subscribe", "Get recurring content on a cron schedule", c.subscribe},
		{"unsubscribe", "Remove your subscriptions", c.unsubscribe},
		{"about", "Information about the bot", c.about},
		{"settings", "Show bot settings", c.settings},
		{"cancel", "Cancel the current interaction", c.cancel},
	}
	for _, cm := range cmds {
		if err := r.RegisterCommand(cm.name, cm.description, cm.handler); err != nil {
			return err
		}
	}

	callbacks := map[string]router.Handler{
		"help":     c.help,
		"weather":  c.weatherCallback,
		"news":     c.news,
		"joke":     c.joke,
		"quote":    c.quote,
		"settings": c.settings,
	}
	for token, h := range callbacks {
		if err := r.RegisterCallback(token, h); err != nil {
			return err
		}
	}

	steps := []struct {
		flow, step string
		handler    router.Handler
	}{
		{"weather", "city", c.weatherCity},
		{"calc", "expr", c.calcExpr},
		{"reminder", "when", c.reminderWhen},
		{"reminder", "what", c.reminderWhat},
	}
	for _, st := range steps {
		if err := r.RegisterStep(st.flow, st.step, st.handler); err != nil {
			return err
		}
	}

	if err := r.RegisterFallback(c.fallback); err != nil {
		return err
	}

	c.registerTopics()
	return nil
}

type commandSet struct {
	deps   *Deps
	router *router.Router
}

func (c *commandSet) msg(key string, args ...interface{}) string {
	return c.deps.Bundle.Format(key, args...)
}

// ---------------------------------------------------------------------------
// Simple operations
// ---------------------------------------------------------------------------

func (c *commandSet) start(ctx context.Context, req *router.Request) (router.Response, error) {
	name := req.Msg.SenderName
	if name == "" {
		name = "there"
	}
	b := c.deps.Bundle
	buttons := [][]bus.Button{
		{{Label: b.Get("btn_help"), Token: "help"}, {Label: b.Get("btn_weather"), Token: "weather"}},
		{{Label: b.Get("btn_news"), Token: "news"}, {Label: b.Get("btn_joke"), Token: "joke"}},
		{{Label: b.Get("btn_quote"), Token: "quote"}, {Label: b.Get("btn_settings"), Token: "settings"}},
	}
	return router.ReplyWithButtons(c.msg("welcome", name), buttons), nil
}

func (c *commandSet) help(ctx context.Context, req *router.Request) (router.Response, error) {
	var b strings.Builder
	b.WriteString(c.msg("help_header"))
	for _, d := range c.router.Commands() {
		fmt.Fprintf(&b, "/%s - %s\n", d.Name, d.Description)
	}
	b.WriteString(c.msg("help_footer"))
	return router.Reply(b.String()), nil
}

func (c *commandSet) joke(ctx context.Context, req *router.Request) (router.Response, error) {
	return router.Reply(c.msg("joke_prefix", c.deps.Static.Joke())), nil
}

func (c *commandSet) quote(ctx context.Context, req *router.Request) (router.Response, error) {
	return router.Reply(c.msg("quote_prefix", c.deps.Static.Quote())), nil
}

func (c *commandSet) about(ctx context.Context, req *router.Request) (router.Response, error) {
	return router.Reply(c.msg("about_text")), nil
}

func (c *commandSet) settings(ctx context.Context, req *router.Request) (router.Response, error) {
	status := func(enabled bool) string {
		if enabled {
			return "enabled"
		}
		return "disabled"
	}
	return router.Reply(c.msg("settings_text",
		c.deps.Language,
		status(c.deps.Weather != nil),
		status(c.deps.News != nil),
	)), nil
}

func (c *commandSet) cancel(ctx context.Context, req *router.Request) (router.Response, error) {
	// The router already folded any active flow back to Idle before invoking
	// us; Preempted tells us whether there was anything to cancel.
	if req.Preempted == nil && req.Session.State.IsIdle() {
		return router.Reply(c.msg("cancel_nothing")), nil
	}
	return router.Reply(c.msg("cancel_ack")), nil
}

func (c *commandSet) fallback(ctx context.Context, req *router.Request) (router.Response, error) {
	// Group messages only reach us when the bot was mentioned (the channel
	// adapter drops the rest and strips the mention).
	if req.Msg.ChatType == bus.ChatGroup {
		return router.Reply(c.msg("group_heard", req.Msg.Content)), nil
	}
	return router.Reply(c.msg("unknown_input", req.Msg.Content)), nil
}

// ---------------------------------------------------------------------------
// News
// ---------------------------------------------------------------------------

func (c *commandSet) news(ctx context.Context, req *router.Request) (router.Response, error) {
	if c.deps.News == nil {
		return router.Reply(c.msg("feature_unavailable")), nil
	}
	text, err := c.newsText(ctx)
	if err != nil {
		return router.Reply(c.msg("news_failed")), nil
	}
	return router.Reply(text), nil
}

func (c *commandSet) newsText(ctx context.Context) (string, error) {
	headlines, err := c.deps.News.Headlines(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(c.msg("news_header"))
	for i, h := range headlines {
		fmt.Fprintf(&b, "%d. %s\n", i+1, h)
	}
	return b.String(), nil
}

// ---------------------------------------------------------------------------
// Cron subscription topics
// ---------------------------------------------------------------------------

func (c *commandSet) registerTopics() {
	if c.deps.Cron == nil {
		return
	}
	c.deps.Cron.RegisterTopic("joke", func(ctx context.Context) (string, error) {
		return c.msg("joke_prefix", c.deps.Static.Joke()), nil
	})
	c.deps.Cron.RegisterTopic("quote", func(ctx context.Context) (string, error) {
		return c.msg("quote_prefix", c.deps.Static.Quote()), nil
	})
	if c.deps.News != nil {
		c.deps.Cron.RegisterTopic("news", c.newsText)
	}
}

// fireTimeFormat renders the confirmation time for a reminder.
func fireTimeFormat(t time.Time) string {
	return t.Format("15:04:05")
}
