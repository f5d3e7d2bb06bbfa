package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/inaiurai/promptq/internal/app"
	"github.com/inaiurai/promptq/internal/config"
	"github.com/inaiurai/promptq/internal/database"
	"github.com/inaiurai/promptq/internal/logging"
)

func main() {
	logger := logging.NewLogger()
	config.LoadEnv(logger)
	log := logger.WithField("service", "worker")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, true)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer a.Close()

	// River's worker tables must exist before the client starts.
	if err := database.Migrate(ctx, a.Pool(), log); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}
	if err := a.StartWorker(ctx); err != nil {
		log.WithError(err).Fatal("worker start failed")
	}

	<-ctx.Done()
	log.Info("shutting down, waiting for in-flight job")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.InferenceTimeout+30*time.Second)
	defer cancel()
	a.Stop(shutdownCtx)
}
