// Command xloopd runs an event loop with the statistics collector publishing
// through Redis, and serves bus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"
	"go.uber.org/fx"

	"github.com/trickstertwo/xloop/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "xloopd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the configuration")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		return fmt.Errorf("load %s: %w", *envPath, err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := zerolog.Use(zerolog.Config{
		MinLevel:          xlog.LevelDebug,
		Console:           cfg.Log.Console,
		ConsoleTimeFormat: time.RFC3339,
		Caller:            cfg.Log.Caller,
		CallerSkip:        5,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := fx.New(
		fx.Supply(cfg),
		fx.Supply(logger),
		fx.NopLogger,
		Module,
	)

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	logger.Info().Str("mode", cfg.Bus.Mode).Msg("xloopd running")

	<-ctx.Done()
	logger.Info().Msg("xloopd shutting down")

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStop()
	return app.Stop(stopCtx)
}
