package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"career-compass/handler"
	"career-compass/internal/bootstrap"
	"career-compass/internal/config"
	"career-compass/internal/logger"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	log := logger.New(
		logger.WithJSON(cfg.LogFormat == "json"),
		logger.WithLevel(cfg.LogLevel),
		logger.WithSource(cfg.Debug()),
	)
	slog.SetDefault(log)

	// ---- Store, mentor client, controllers ----
	app, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		slog.Error("failed to build session engine", "err", err)
		os.Exit(1)
	}
	defer app.Close()

	// ---- Handler ----
	h, err := handler.NewHandler(app.Factory, log)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
