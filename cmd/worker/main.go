package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/iago/autoconnect-pipeline/internal/bootstrap"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, bootstrap.Options{Service: "worker", RequireShared: true})
	if err != nil {
		logrus.WithError(err).Error("startup failed")
		os.Exit(1)
	}
	defer rt.Close()

	rt.Worker().Start(ctx)
	rt.Logger.Info("worker stopped")
}
