package events

import (
	"context"
	"sync"
)

// Bus is a fire-and-forget pub/sub channel. Messages only reach subscribers
// that are listening when they are published.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close() error
}

type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// LocalBus fans messages out to in-process subscribers.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*localSubscription]struct{}
	buffer int
}

func NewLocalBus(buffer int) *LocalBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &LocalBus{
		subs:   make(map[string]map[*localSubscription]struct{}),
		buffer: buffer,
	}
}

func (b *LocalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	targets := make([]*localSubscription, 0, len(b.subs[channel]))
	for sub := range b.subs[channel] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		message := append([]byte(nil), payload...)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.done:
		case sub.ch <- message:
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &localSubscription{
		bus:     b,
		channel: channel,
		ch:      make(chan []byte, b.buffer),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*localSubscription]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

// Subscribers reports how many subscriptions are open on channel.
func (b *LocalBus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]map[*localSubscription]struct{})
	b.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.stop()
		}
	}
	return nil
}

func (b *LocalBus) remove(sub *localSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[sub.channel], sub)
}

// The message channel is never closed, so a late Publish can not panic.
// Consumers stop on their own context.
type localSubscription struct {
	bus     *LocalBus
	channel string
	ch      chan []byte
	done    chan struct{}
	once    sync.Once
}

func (s *localSubscription) Messages() <-chan []byte {
	return s.ch
}

func (s *localSubscription) Close() error {
	s.bus.remove(s)
	s.stop()
	return nil
}

func (s *localSubscription) stop() {
	s.once.Do(func() { close(s.done) })
}
