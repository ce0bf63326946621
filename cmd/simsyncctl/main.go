// Command simsyncctl runs registry operations against the configured store
// without going through the HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/simsync/internal/application"
	"github.com/JonMunkholm/simsync/internal/config"
	"github.com/JonMunkholm/simsync/internal/logging"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newCLI(openFromEnv)
	err := c.rootCmd().ExecuteContext(ctx)
	if cerr := c.close(); cerr != nil {
		slog.Error("close failed", "error", cerr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// openFromEnv loads configuration from the environment and opens the app.
// The HTTP-only sections of the config are validated but unused.
func openFromEnv(ctx context.Context, logLevel string) (*application.App, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if logLevel == "" {
		logLevel = cfg.Logging.Level
	}
	slog.SetDefault(logging.New(os.Stderr, logLevel, cfg.Logging.Format))

	app, err := application.Open(ctx, cfg, application.Options{})
	if err != nil {
		return nil, nil, err
	}
	return app, cfg, nil
}
