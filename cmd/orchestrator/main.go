package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/iago/autoconnect-pipeline/internal/bootstrap"
	"github.com/sirupsen/logrus"
)

func main() {
	once := flag.Bool("once", false, "submit a job for DATA_PATH/NUM_WORKERS at start-up")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, bootstrap.Options{Service: "orchestrator", RequireShared: true})
	if err != nil {
		logrus.WithError(err).Error("startup failed")
		os.Exit(1)
	}
	defer rt.Close()

	coord := rt.Coordinator()
	if *once || rt.Config.RunOnce {
		job, err := coord.Submit(ctx, rt.Config.DataPath, rt.Config.NumWorkers)
		if err != nil {
			rt.Logger.WithError(err).Error("start-up job not submitted")
		} else {
			rt.Logger.WithFields(logrus.Fields{
				"job_id":      job.ID,
				"data_source": job.DataSource,
				"workers":     job.WorkerCount,
			}).Info("start-up job submitted")
		}
	}

	if err := coord.Listen(ctx); err != nil {
		rt.Logger.WithError(err).Error("coordinator stopped")
		rt.Close()
		os.Exit(1)
	}
	rt.Logger.Info("coordinator stopped")
}
