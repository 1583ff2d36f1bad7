package commands

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/miniware/assistbot/pkg/calc"
	"github.com/miniware/assistbot/pkg/content"
	"github.com/miniware/assistbot/pkg/flow"
	"github.com/miniware/assistbot/pkg/router"
	"github.com/miniware/assistbot/pkg/scheduler"
)

// ---------------------------------------------------------------------------
// Weather: one-step flow when the city is missing
// ---------------------------------------------------------------------------

func (c *commandSet) weather(ctx context.Context, req *router.Request) (router.Response, error) {
	if c.deps.Weather == nil {
		return router.Reply(c.msg("feature_unavailable")), nil
	}
	if len(req.Msg.Args) == 0 {
		return router.Reply(c.msg("weather_ask_city")).Then(flow.AwaitingInput("weather", "city")), nil
	}
	return c.weatherReport(ctx, strings.Join(req.Msg.Args, " "))
}

// weatherCallback is the inline-button entry: no args possible, go straight
// to the ask-city flow.
func (c *commandSet) weatherCallback(ctx context.Context, req *router.Request) (router.Response, error) {
	if c.deps.Weather == nil {
		return router.Reply(c.msg("feature_unavailable")), nil
	}
	return router.Reply(c.msg("weather_ask_city")).Then(flow.AwaitingInput("weather", "city")), nil
}

func (c *commandSet) weatherCity(ctx context.Context, req *router.Request) (router.Response, error) {
	resp, err := c.weatherReport(ctx, strings.TrimSpace(req.Msg.Content))
	if err != nil {
		return resp, err
	}
	return resp.Then(flow.Completed()), nil
}

func (c *commandSet) weatherReport(ctx context.Context, city string) (router.Response, error) {
	if city == "" {
		return router.Reply(c.msg("weather_usage")), nil
	}
	report, err := c.deps.Weather.Current(ctx, city)
	if err != nil {
		if errors.Is(err, content.ErrCityNotFound) {
			return router.Reply(c.msg("weather_not_found", city)), nil
		}
		return router.Response{}, err
	}
	desc := report.Description
	if desc != "" {
		desc = strings.ToUpper(desc[:1]) + desc[1:]
	}
	return router.Reply(c.msg("weather_report",
		report.City, report.TempC, report.WindSpeed, report.Humidity, desc)), nil
}

// ---------------------------------------------------------------------------
// Calculator: one-step flow when the expression is missing
// ---------------------------------------------------------------------------

func (c *commandSet) calcCmd(ctx context.Context, req *router.Request) (router.Response, error) {
	if len(req.Msg.Args) == 0 {
		return router.Reply(c.msg("calc_ask_expr")).Then(flow.AwaitingInput("calc", "expr")), nil
	}
	return c.calcResult(strings.Join(req.Msg.Args, " ")), nil
}

func (c *commandSet) calcExpr(ctx context.Context, req *router.Request) (router.Response, error) {
	return c.calcResult(strings.TrimSpace(req.Msg.Content)).Then(flow.Completed()), nil
}

func (c *commandSet) calcResult(expr string) router.Response {
	v, err := calc.Eval(expr)
	if err != nil {
		return router.Reply(c.msg("calc_invalid"))
	}
	return router.Reply(c.msg("calc_result", expr, calc.Format(v)))
}

// ---------------------------------------------------------------------------
// Reminder: two-step flow when arguments are missing
// ---------------------------------------------------------------------------

func (c *commandSet) reminder(ctx context.Context, req *router.Request) (router.Response, error) {
	if len(req.Msg.Args) == 0 {
		return router.Reply(c.msg("reminder_ask_when")).Then(flow.AwaitingInput("reminder", "when")), nil
	}
	if len(req.Msg.Args) < 2 {
		return router.Reply(c.msg("reminder_usage")), nil
	}
	return c.scheduleReminder(req, req.Msg.Args[0], strings.Join(req.Msg.Args[1:], " ")), nil
}

func (c *commandSet) reminderWhen(ctx context.Context, req *router.Request) (router.Response, error) {
	token := strings.TrimSpace(req.Msg.Content)
	if _, err := scheduler.ParseDuration(token); err != nil {
		// Corrective message, stay on the same step.
		return router.Reply(c.durationError(err)), nil
	}
	next := flow.AwaitingInput("reminder", "what").WithData("when", token)
	return router.Reply(c.msg("reminder_ask_what")).Then(next), nil
}

func (c *commandSet) reminderWhat(ctx context.Context, req *router.Request) (router.Response, error) {
	token := req.Session.State.Datum("when")
	text := strings.TrimSpace(req.Msg.Content)
	return c.scheduleReminder(req, token, text).Then(flow.Completed()), nil
}

func (c *commandSet) scheduleReminder(req *router.Request, token, text string) router.Response {
	delay, err := scheduler.ParseDuration(token)
	if err != nil {
		return router.Reply(c.durationError(err))
	}

	payload := c.msg("reminder_fire", text)
	if _, err := c.deps.Scheduler.Schedule(req.Msg.Channel, req.Msg.ChatID, payload, delay); err != nil {
		return router.Reply(c.msg("bad_delay"))
	}
	return router.Reply(c.msg("reminder_set", fireTimeFormat(time.Now().Add(delay)), text))
}

func (c *commandSet) durationError(err error) string {
	if errors.Is(err, scheduler.ErrInvalidDelay) {
		return c.msg("bad_delay")
	}
	return c.msg("bad_duration")
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

func (c *commandSet) subscribe(ctx context.Context, req *router.Request) (router.Response, error) {
	// Cron expressions contain spaces, so the topic is the last argument:
	// /subscribe 0 9 * * * quote
	if len(req.Msg.Args) < 2 {
		return router.Reply(c.msg("subscribe_usage")), nil
	}
	topic := req.Msg.Args[len(req.Msg.Args)-1]
	expr := strings.Join(req.Msg.Args[:len(req.Msg.Args)-1], " ")

	_, err := c.deps.Cron.Subscribe(req.Msg.Channel, req.Msg.ChatID, expr, topic)
	if err != nil {
		if errors.Is(err, scheduler.ErrUnknownTopic) {
			return router.Reply(c.msg("subscribe_bad_topic", topic)), nil
		}
		return router.Reply(c.msg("subscribe_bad_cron")), nil
	}
	return router.Reply(c.msg("subscribe_set", topic, expr)), nil
}

func (c *commandSet) unsubscribe(ctx context.Context, req *router.Request) (router.Response, error) {
	removed := c.deps.Cron.Unsubscribe(req.Msg.ChatID)
	if removed == 0 {
		return router.Reply(c.msg("unsubscribe_none")), nil
	}
	return router.Reply(c.msg("unsubscribe_done", removed)), nil
}
