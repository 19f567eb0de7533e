package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iago/autoconnect-pipeline/internal/analytics"
	"github.com/iago/autoconnect-pipeline/internal/domain"
	"github.com/iago/autoconnect-pipeline/internal/events"
	"github.com/iago/autoconnect-pipeline/internal/repository"
	"github.com/sirupsen/logrus/hooks/test"
)

func row(city, kind, model string, price float64) domain.Transaction {
	return domain.Transaction{
		Date:  time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
		City:  city,
		Type:  kind,
		Model: model,
		Price: price,
	}
}

func seedTask(t *testing.T, repo *repository.Repository, jobID string, index int, rows []domain.Transaction) {
	t.Helper()
	ctx := context.Background()
	if err := repo.PutPartial(ctx, analytics.ComputePartial(jobID, index, rows)); err != nil {
		t.Fatalf("put partial: %v", err)
	}
	if err := repo.MarkDone(ctx, jobID, domain.TaskID(jobID, index)); err != nil {
		t.Fatalf("mark done: %v", err)
	}
}

func newAggregator(t *testing.T) (*Aggregator, *repository.Repository, *events.Signals) {
	t.Helper()
	backend := repository.NewMemoryBackend()
	repo := repository.New(backend)
	signals := events.NewSignals(events.NewLocalBus(8), events.Channels{})
	logger, _ := test.NewNullLogger()
	return New(repo, signals, logger), repo, signals
}

func TestAggregateJobMergesEveryCompletedTask(t *testing.T) {
	agg, repo, _ := newAggregator(t)
	seedTask(t, repo, "job-1", 0, []domain.Transaction{
		row("Paris", "vente", "Clio", 100),
		row("Paris", "vente", "Clio", 100),
		row("Paris", "vente", "Zoe", 100),
		row("Paris", "location", "Clio", 10),
	})
	seedTask(t, repo, "job-1", 1, []domain.Transaction{
		row("Lyon", "vente", "Golf", 5),
	})
	seedTask(t, repo, "job-1", 2, []domain.Transaction{
		row("Lyon", "location", "Golf", 1),
	})
	seedTask(t, repo, "job-other", 0, []domain.Transaction{row("Nice", "vente", "Polo", 1)})

	result, err := agg.AggregateJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if result.TotalTransactions() != 6 || result.PartialCount != 3 {
		t.Fatalf("unexpected totals %+v", result)
	}
	if result.TypePercentages["Paris"]["vente"] != 75 || result.TypePercentages["Paris"]["location"] != 25 {
		t.Fatalf("unexpected percentages %v", result.TypePercentages["Paris"])
	}
	if top := result.TopModels["Paris"]; len(top) != 2 || top[0].Model != "Clio" || top[0].Count != 3 {
		t.Fatalf("unexpected top models %+v", top)
	}
	if _, ok := result.MonthlyRevenue["Nice"]; ok {
		t.Fatalf("result leaked another job's partial")
	}
	if result.GeneratedAt.IsZero() {
		t.Fatalf("expected generation time")
	}

	scoped, err := repo.GetAggregated(context.Background(), "job-1")
	if err != nil || scoped.TotalTransactions() != 6 {
		t.Fatalf("job result not stored: %+v err=%v", scoped, err)
	}
	latest, err := repo.GetLatest(context.Background())
	if err != nil || latest.JobID != "job-1" {
		t.Fatalf("latest result not stored: %+v err=%v", latest, err)
	}
}

func TestAggregateJobTreatsMissingPartialAsEmpty(t *testing.T) {
	agg, repo, _ := newAggregator(t)
	ctx := context.Background()
	seedTask(t, repo, "job-1", 0, []domain.Transaction{row("Paris", "vente", "Clio", 100)})
	// Recorded as complete but the partial never landed.
	if err := repo.MarkDone(ctx, "job-1", domain.TaskID("job-1", 1)); err != nil {
		t.Fatalf("mark done: %v", err)
	}

	result, err := agg.AggregateJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if result.PartialCount != 1 || result.TotalTransactions() != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestAggregateJobWithoutTasksWritesEmptyReport(t *testing.T) {
	agg, repo, _ := newAggregator(t)

	result, err := agg.AggregateJob(context.Background(), "job-empty")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(result.MonthlyRevenue) != 0 || len(result.TypePercentages) != 0 || len(result.TopModels) != 0 {
		t.Fatalf("expected empty maps, got %+v", result)
	}
	if _, err := repo.GetAggregated(context.Background(), "job-empty"); err != nil {
		t.Fatalf("expected stored empty report: %v", err)
	}
}

type failingPartials struct {
	*repository.Repository
}

func (failingPartials) GetPartial(context.Context, string, int) (*domain.PartialResult, error) {
	return nil, errors.New("connection reset")
}

func TestAggregateJobSurfacesTransportErrors(t *testing.T) {
	_, repo, signals := newAggregator(t)
	seedTask(t, repo, "job-1", 0, []domain.Transaction{row("Paris", "vente", "Clio", 1)})
	logger, _ := test.NewNullLogger()
	agg := New(failingPartials{repo}, signals, logger)

	if _, err := agg.AggregateJob(context.Background(), "job-1"); err == nil {
		t.Fatalf("expected transport error to be surfaced")
	}
	if _, err := repo.GetLatest(context.Background()); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("no result should be written, got %v", err)
	}
}

func TestListenAggregatesOnCompletionSignal(t *testing.T) {
	agg, repo, signals := newAggregator(t)
	seedTask(t, repo, "job-7", 0, []domain.Transaction{row("Paris", "vente", "Clio", 1)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agg.Listen(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = signals.PublishCompleted(ctx, "job-7")
		if _, err := repo.GetAggregated(ctx, "job-7"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("aggregation never happened")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("listen: %v", err)
	}
}
