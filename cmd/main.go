package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/MoonshotLab/carmen/internal/app"
	"github.com/MoonshotLab/carmen/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()})))

	// ---- Clients, stores and handler ----
	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start agent", "err", err)
		os.Exit(1)
	}

	// Replies are sent before the invocation returns; a frozen container
	// must not hold undelivered messages.
	lambda.Start(a.Handler.Handle)
}
