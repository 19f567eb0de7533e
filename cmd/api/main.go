package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/iago/autoconnect-pipeline/internal/bootstrap"
	httpserver "github.com/iago/autoconnect-pipeline/internal/http"
	"github.com/iago/autoconnect-pipeline/internal/http/handlers"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, bootstrap.Options{Service: "api"})
	if err != nil {
		logrus.WithError(err).Error("startup failed")
		os.Exit(1)
	}
	defer rt.Close()
	cfg := rt.Config
	logger := rt.Logger

	var background sync.WaitGroup
	spawn := func(name string, run func(context.Context) error) {
		background.Add(1)
		go func() {
			defer background.Done()
			if err := run(ctx); err != nil {
				logger.WithError(err).WithField("loop", name).Error("background loop stopped")
			}
		}()
	}

	// Without shared state nothing else can serve this process's jobs.
	if rt.Local() && !(cfg.CoordinatorEnabled && cfg.WorkerEnabled && cfg.AggregatorEnabled) {
		logger.Warn("running without redis: coordinator, worker and aggregator are embedded regardless of configuration")
		cfg.CoordinatorEnabled, cfg.WorkerEnabled, cfg.AggregatorEnabled = true, true, true
	}
	if cfg.CoordinatorEnabled {
		spawn("coordinator", rt.Coordinator().Listen)
	}
	if cfg.WorkerEnabled {
		processor := rt.Worker()
		spawn("worker", func(ctx context.Context) error {
			processor.Start(ctx)
			return nil
		})
	}
	if cfg.AggregatorEnabled {
		spawn("aggregator", rt.Aggregator().Listen)
	}
	logger.WithFields(logrus.Fields{
		"coordinator": cfg.CoordinatorEnabled,
		"worker":      cfg.WorkerEnabled,
		"aggregator":  cfg.AggregatorEnabled,
		"local":       rt.Local(),
	}).Info("embedded components")

	hub := handlers.NewUpdatesHub(rt.Signals, logger)
	spawn("updates_hub", hub.Run)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            handlers.NewAPI(rt.JobsService(), hub, cfg.CORSAllowedOrigins, logger),
		Logger:         logger,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Port).Info("api listening")
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server failed")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
	}
	background.Wait()
}
