// Package app is the composition root. It builds every collaborator once at
// process start (bus, session store, router, providers, scheduler, channel
// adapters), wires them together, and owns startup and shutdown order.
// Nothing in the core reaches for globals; everything flows from here.
package app

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/miniware/assistbot/pkg/api"
	"github.com/miniware/assistbot/pkg/bus"
	"github.com/miniware/assistbot/pkg/channels"
	"github.com/miniware/assistbot/pkg/commands"
	"github.com/miniware/assistbot/pkg/config"
	"github.com/miniware/assistbot/pkg/content"
	"github.com/miniware/assistbot/pkg/flow"
	"github.com/miniware/assistbot/pkg/i18n"
	"github.com/miniware/assistbot/pkg/logger"
	"github.com/miniware/assistbot/pkg/router"
	"github.com/miniware/assistbot/pkg/scheduler"
)

// Container holds the fully wired application.
type Container struct {
	Config    *config.Config
	Bus       *bus.MessageBus
	Sessions  *flow.Store
	Router    *router.Router
	Scheduler *scheduler.Scheduler
	Cron      *scheduler.CronService
	Channels  *channels.Manager
	API       *api.Server // nil when disabled

	store *scheduler.SQLiteStore
}

// NewContainer builds and wires the application from configuration.
func NewContainer(cfg *config.Config) (*Container, error) {
	mb := bus.NewMessageBus()
	sessions := flow.NewStore()
	bundle := i18n.Load(cfg.Language, "messages", cfg.DataDir+"/messages")

	manager := channels.NewManager(mb)
	if cfg.Channels.Telegram.Enabled {
		manager.Register(channels.NewTelegramChannel(cfg.Channels.Telegram.Token, cfg.Channels.Telegram.AllowFrom, mb))
	}
	if cfg.Channels.Discord.Enabled {
		manager.Register(channels.NewDiscordChannel(cfg.Channels.Discord.Token, cfg.Channels.Discord.AllowFrom, mb))
	}
	if cfg.Channels.Slack.Enabled {
		manager.Register(channels.NewSlackChannel(cfg.Channels.Slack.BotToken, cfg.Channels.Slack.AppToken, cfg.Channels.Slack.AllowFrom, mb))
	}
	if cfg.Channels.CLI.Enabled {
		manager.Register(channels.NewCLIChannel(mb))
	}
	if len(manager.Names()) == 0 {
		return nil, fmt.Errorf("no channels enabled: nothing to do")
	}

	store, err := scheduler.OpenSQLite(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open scheduler store: %w", err)
	}

	policy := scheduler.RetryPolicy{
		MaxAttempts: cfg.Scheduler.MaxAttempts,
		BaseBackoff: cfg.Scheduler.BaseBackoff,
		MaxBackoff:  cfg.Scheduler.MaxBackoff,
	}
	sched := scheduler.New(manager.Send, policy, store, mb)
	cron := scheduler.NewCronService(manager.Send, store)

	r := router.New(mb, sessions, bundle)

	var weather content.WeatherProvider
	if cfg.Providers.Weather.Enabled && cfg.Providers.Weather.APIKey != "" {
		weather = content.NewOpenWeather(cfg.Providers.Weather.APIKey, cfg.Providers.Weather.BaseURL)
	}
	var news content.NewsProvider
	if cfg.Providers.News.Enabled && cfg.Providers.News.APIKey != "" {
		news = content.NewNewsAPI(cfg.Providers.News.APIKey, cfg.Providers.News.BaseURL,
			cfg.Providers.News.Country, cfg.Providers.News.PageSize)
	}

	deps := &commands.Deps{
		Bundle:    bundle,
		Static:    content.NewStatic(rand.NewSource(time.Now().UnixNano())),
		Weather:   weather,
		News:      news,
		Scheduler: sched,
		Cron:      cron,
		Language:  cfg.Language,
	}
	if err := commands.Register(r, deps); err != nil {
		// Duplicate registration is a configuration bug: refuse to start.
		return nil, fmt.Errorf("register operations: %w", err)
	}

	var status *api.Server
	if cfg.API.Enabled {
		status = api.NewServer(cfg.API.Addr, cfg.BotName, manager, sessions, cron, mb)
	}

	return &Container{
		Config:    cfg,
		Bus:       mb,
		Sessions:  sessions,
		Router:    r,
		Scheduler: sched,
		Cron:      cron,
		Channels:  manager,
		API:       status,
		store:     store,
	}, nil
}

// Run starts every loop and blocks until ctx is cancelled.
func (c *Container) Run(ctx context.Context) error {
	if err := c.Scheduler.Restore(); err != nil {
		logger.WarnCF("app", "Delivery restore failed", map[string]interface{}{"error": err.Error()})
	}
	if err := c.Cron.Restore(); err != nil {
		logger.WarnCF("app", "Subscription restore failed", map[string]interface{}{"error": err.Error()})
	}

	go c.Scheduler.Run(ctx)
	go c.Cron.Run(ctx)
	go c.Channels.Run(ctx)
	go c.Router.Run(ctx)
	go c.sessionJanitor(ctx)

	if c.API != nil {
		if err := c.API.Start(ctx); err != nil {
			logger.WarnCF("app", "Status server failed to start", map[string]interface{}{"error": err.Error()})
		}
	}
	c.Channels.StartAll(ctx)
	logger.InfoCF("app", "Bot running", map[string]interface{}{"channels": c.Channels.Names()})

	<-ctx.Done()
	return nil
}

// Shutdown tears the application down in reverse order.
func (c *Container) Shutdown() {
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.API != nil {
		c.API.Stop(stopCtx)
	}
	c.Channels.StopAll(stopCtx)
	c.Bus.Close()
	if c.store != nil {
		c.store.Close()
	}
	logger.InfoC("app", "Shutdown complete")
}

// sessionJanitor evicts idle conversation sessions.
func (c *Container) sessionJanitor(ctx context.Context) {
	ttl := c.Config.Sessions.IdleTTL
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sessions.EvictIdle(ttl); n > 0 {
				logger.DebugCF("app", "Evicted idle sessions", map[string]interface{}{"count": n})
				c.Bus.PublishSystem(bus.SystemEvent{Type: "sessions.evicted", Source: "app", Data: n})
			}
		}
	}
}
