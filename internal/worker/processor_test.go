package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iago/autoconnect-pipeline/internal/domain"
	"github.com/iago/autoconnect-pipeline/internal/queue"
	"github.com/iago/autoconnect-pipeline/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func chunkRows() []domain.Transaction {
	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	return []domain.Transaction{
		{Date: day(1), City: "Paris", Type: "vente", Model: "Clio", Price: 100},
		{Date: day(2), City: "Paris", Type: "location", Model: "Clio", Price: 50},
		{Date: day(3), City: "Lyon", Type: "vente", Model: "Golf", Price: 70},
	}
}

func newProcessor(t *testing.T, consumer queue.Consumer) (*Processor, *repository.Repository, *test.Hook) {
	t.Helper()
	repo := repository.New(repository.NewMemoryBackend())
	logger, hook := test.NewNullLogger()
	return NewProcessor(consumer, repo, logger, Config{PopTimeout: 5 * time.Millisecond, IdleSleep: 5 * time.Millisecond}), repo, hook
}

func TestProcessTaskStoresPartialThenMarksDone(t *testing.T) {
	processor, repo, _ := newProcessor(t, queue.NewLocalQueue(1))
	ctx := context.Background()

	task := domain.NewTask("job-1", 0, time.Now())
	if err := repo.PutChunk(ctx, task.ID, chunkRows()); err != nil {
		t.Fatalf("put chunk: %v", err)
	}
	if err := processor.ProcessTask(ctx, task); err != nil {
		t.Fatalf("process: %v", err)
	}

	partial, err := repo.GetPartial(ctx, "job-1", 0)
	if err != nil {
		t.Fatalf("get partial: %v", err)
	}
	if partial.RowCount != 3 || partial.MonthlyRevenue["Paris"]["2024-03"] != 150 {
		t.Fatalf("unexpected partial %+v", partial)
	}
	if partial.TypeCounts["Paris"]["location"] != 1 || partial.ModelCounts["Lyon"]["Golf"] != 1 {
		t.Fatalf("unexpected counts %+v", partial)
	}

	count, _ := repo.CountCompleted(ctx, "job-1")
	if count != 1 {
		t.Fatalf("expected task to be marked done, count=%d", count)
	}
}

func TestProcessTaskTwiceCountsOnce(t *testing.T) {
	processor, repo, _ := newProcessor(t, queue.NewLocalQueue(1))
	ctx := context.Background()
	task := domain.NewTask("job-1", 0, time.Now())
	_ = repo.PutChunk(ctx, task.ID, chunkRows())

	for i := 0; i < 2; i++ {
		if err := processor.ProcessTask(ctx, task); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if count, _ := repo.CountCompleted(ctx, "job-1"); count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}

func TestProcessTaskMissingChunkIsNotMarked(t *testing.T) {
	processor, repo, _ := newProcessor(t, queue.NewLocalQueue(1))
	ctx := context.Background()

	err := processor.ProcessTask(ctx, domain.NewTask("job-1", 4, time.Now()))
	if !errors.Is(err, ErrChunkUnavailable) {
		t.Fatalf("expected ErrChunkUnavailable, got %v", err)
	}
	if count, _ := repo.CountCompleted(ctx, "job-1"); count != 0 {
		t.Fatalf("missing chunk must not be marked done, count=%d", count)
	}
	if _, err := repo.GetPartial(ctx, "job-1", 4); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected no partial, got %v", err)
	}
}

func TestProcessTaskCorruptChunkIsNotMarked(t *testing.T) {
	backend := repository.NewMemoryBackend()
	repo := repository.New(backend)
	logger, _ := test.NewNullLogger()
	processor := NewProcessor(queue.NewLocalQueue(1), repo, logger, Config{})
	ctx := context.Background()

	task := domain.NewTask("job-1", 0, time.Now())
	_ = backend.Set(ctx, task.ID, []byte("{broken"))

	if err := processor.ProcessTask(ctx, task); !errors.Is(err, ErrChunkUnavailable) {
		t.Fatalf("expected ErrChunkUnavailable, got %v", err)
	}
	if count, _ := repo.CountCompleted(ctx, "job-1"); count != 0 {
		t.Fatalf("corrupt chunk must not be marked done, count=%d", count)
	}
}

func TestStartDrainsQueueAndLogsAbandonedTasks(t *testing.T) {
	q := queue.NewLocalQueue(8)
	processor, repo, hook := newProcessor(t, q)
	processor.cfg.Concurrency = 2

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Now()
	for i := 0; i < 3; i++ {
		task := domain.NewTask("job-2", i, now)
		_ = repo.PutChunk(ctx, task.ID, chunkRows())
		_ = q.Push(ctx, task)
	}
	_ = q.Push(ctx, domain.NewTask("job-2", 9, now))

	done := make(chan struct{})
	go func() {
		processor.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		count, _ := repo.CountCompleted(ctx, "job-2")
		if count == 3 && q.Len() == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("tasks not processed, count=%d", count)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("processor did not stop")
	}

	abandoned := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.ErrorLevel && entry.Message == "task abandoned" {
			abandoned++
		}
	}
	if abandoned != 1 {
		t.Fatalf("expected one abandoned task log, got %d", abandoned)
	}
}
