// assistbot: a multi-channel assistant bot with weather, news, jokes,
// quotes, a calculator, reminders and cron subscriptions.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/miniware/assistbot/pkg/app"
	"github.com/miniware/assistbot/pkg/config"
	"github.com/miniware/assistbot/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	container, err := app.NewContainer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InfoC("main", "Starting assistbot")
	if err := container.Run(ctx); err != nil {
		logger.ErrorCF("main", "Run failed", map[string]interface{}{"error": err.Error()})
	}
	container.Shutdown()
}
