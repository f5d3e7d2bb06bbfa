package main

import (
	"context"
	"errors"
	"net/http"
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
	log := logger.WithField("service", "api")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, cfg.RunWorker)
	if err != nil {
		log.WithError(err).Fatal("startup failed. Ensure Postgres is running, e.g. make dev-up or docker-compose up -d")
	}
	defer a.Close()
	log.Info("connected to PostgreSQL")

	if err := database.Migrate(ctx, a.Pool(), log); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}
	if err := a.BootstrapAdmin(ctx); err != nil {
		log.WithError(err).Fatal("admin bootstrap failed")
	}

	if cfg.RunWorker {
		if err := a.StartWorker(ctx); err != nil {
			log.WithError(err).Fatal("worker start failed")
		}
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("addr", srv.Addr).Info("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.InferenceTimeout+30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown")
	}
	if cfg.RunWorker {
		a.Stop(shutdownCtx)
	}
}
