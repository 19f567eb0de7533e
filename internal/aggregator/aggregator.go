package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iago/autoconnect-pipeline/internal/analytics"
	"github.com/iago/autoconnect-pipeline/internal/domain"
	"github.com/iago/autoconnect-pipeline/internal/events"
	"github.com/iago/autoconnect-pipeline/internal/repository"
	"github.com/sirupsen/logrus"
)

type Store interface {
	repository.CompletionTracker
	repository.PartialStore
	repository.ResultStore
}

// Aggregator merges the partial results of a job once its coordinator
// reports every task done.
type Aggregator struct {
	store   Store
	signals *events.Signals
	logger  logrus.FieldLogger
	now     func() time.Time

	wg sync.WaitGroup
}

func New(store Store, signals *events.Signals, logger logrus.FieldLogger) *Aggregator {
	return &Aggregator{
		store:   store,
		signals: signals,
		logger:  logger.WithField("component", "aggregator"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Listen aggregates every job announced on the completion channel until ctx
// is cancelled.
func (a *Aggregator) Listen(ctx context.Context) error {
	sub, err := a.signals.SubscribeCompleted(ctx)
	if err != nil {
		return fmt.Errorf("subscribe completion signals: %w", err)
	}
	defer sub.Close()

	a.logger.WithField("channel", a.signals.Channels().Completed).Info("waiting for completion signals")
	for {
		select {
		case <-ctx.Done():
			a.wg.Wait()
			return nil
		case raw := <-sub.Messages():
			jobID, err := events.DecodeCompleted(raw)
			if err != nil {
				a.logger.WithError(err).Warn("ignoring malformed completion signal")
				continue
			}
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				if _, err := a.AggregateJob(ctx, jobID); err != nil {
					a.logger.WithError(err).WithField("job_id", jobID).Error("aggregation failed")
				}
			}()
		}
	}
}

// AggregateJob reads the partial result of every task recorded as complete,
// merges them and stores the report under the job key and as the latest one.
// A missing or unreadable partial contributes nothing.
func (a *Aggregator) AggregateJob(ctx context.Context, jobID string) (*domain.AggregatedResult, error) {
	log := a.logger.WithField("job_id", jobID)

	taskIDs, err := a.store.CompletedTasks(ctx, jobID)
	if err != nil {
		return nil, err
	}

	partials := make([]*domain.PartialResult, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		owner, index, err := domain.ParseTaskID(taskID)
		if err != nil || owner != jobID {
			log.WithField("task_id", taskID).Warn("skipping unrecognized completed task")
			continue
		}

		partial, err := a.store.GetPartial(ctx, jobID, index)
		switch {
		case err == nil:
			partials = append(partials, partial)
		case errors.Is(err, repository.ErrNotFound), errors.Is(err, domain.ErrInvalidPayload):
			log.WithError(err).WithField("task_id", taskID).Warn("partial result unavailable, counting it as empty")
		default:
			return nil, fmt.Errorf("read partial %s: %w", taskID, err)
		}
	}

	result := analytics.Merge(jobID, partials)
	result.GeneratedAt = a.now()
	if err := a.store.PutAggregated(ctx, result); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"partials":     result.PartialCount,
		"tasks":        len(taskIDs),
		"transactions": result.TotalTransactions(),
		"cities":       len(result.Cities()),
	}).Info("aggregated results stored")
	return result, nil
}
