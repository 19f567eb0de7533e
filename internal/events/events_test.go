package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/iago/autoconnect-pipeline/internal/domain"
	"github.com/redis/go-redis/v9"
)

func receive(t *testing.T, sub Subscription) []byte {
	t.Helper()
	select {
	case message := <-sub.Messages():
		return message
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
		return nil
	}
}

func TestLocalBusDeliversToEverySubscriber(t *testing.T) {
	bus := NewLocalBus(4)
	ctx := context.Background()

	first, _ := bus.Subscribe(ctx, "tasks_completed")
	second, _ := bus.Subscribe(ctx, "tasks_completed")
	other, _ := bus.Subscribe(ctx, "start_processing")
	defer first.Close()
	defer second.Close()
	defer other.Close()

	if err := bus.Publish(ctx, "tasks_completed", []byte("job-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := string(receive(t, first)); got != "job-1" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := string(receive(t, second)); got != "job-1" {
		t.Fatalf("unexpected message %q", got)
	}
	select {
	case message := <-other.Messages():
		t.Fatalf("unexpected message on other channel: %q", message)
	default:
	}
}

func TestLocalBusSkipsClosedSubscription(t *testing.T) {
	bus := NewLocalBus(1)
	ctx := context.Background()
	sub, _ := bus.Subscribe(ctx, "job_updates")
	if n := bus.Subscribers("job_updates"); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}
	_ = sub.Close()
	if n := bus.Subscribers("job_updates"); n != 0 {
		t.Fatalf("expected closed subscription to be removed, got %d", n)
	}

	publishCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		if err := bus.Publish(publishCtx, "job_updates", []byte("x")); err != nil {
			t.Fatalf("publish after close: %v", err)
		}
	}
}

func TestSignalsRoundTripOverRedis(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	signals := NewSignals(NewRedisBus(client), Channels{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start, err := signals.SubscribeStart(ctx)
	if err != nil {
		t.Fatalf("subscribe start: %v", err)
	}
	defer start.Close()
	completed, err := signals.SubscribeCompleted(ctx)
	if err != nil {
		t.Fatalf("subscribe completed: %v", err)
	}
	defer completed.Close()

	if err := signals.PublishStart(ctx, StartProcessing{JobID: "job-9", DataSource: "/tmp/data.csv", WorkerCount: 3}); err != nil {
		t.Fatalf("publish start: %v", err)
	}
	message, err := DecodeStartProcessing(receive(t, start))
	if err != nil {
		t.Fatalf("decode start: %v", err)
	}
	if message.JobID != "job-9" || message.WorkerCount != 3 {
		t.Fatalf("unexpected start message %+v", message)
	}

	if err := signals.PublishCompleted(ctx, "job-9"); err != nil {
		t.Fatalf("publish completed: %v", err)
	}
	jobID, err := DecodeCompleted(receive(t, completed))
	if err != nil || jobID != "job-9" {
		t.Fatalf("unexpected completion %q err=%v", jobID, err)
	}
}

func TestDecodeStartProcessingRejectsIncompleteMessage(t *testing.T) {
	_, err := DecodeStartProcessing([]byte(`{"job_id":"job-1","worker_count":0}`))
	if !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if _, err := DecodeCompleted([]byte("  ")); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for blank completion, got %v", err)
	}
}
