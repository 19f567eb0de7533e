package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus uses Redis PUBLISH/SUBSCRIBE so separate processes can signal
// each other.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so messages
// published afterwards are not missed.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go sub.pump()
	return sub, nil
}

// Close is a no-op; the shared client is closed by whoever opened it.
func (b *RedisBus) Close() error {
	return nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) pump() {
	messages := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case message, ok := <-messages:
			if !ok {
				return
			}
			select {
			case s.ch <- []byte(message.Payload):
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.ch
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
