package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Bus distributes push frames to every pod holding a socket for the
// recipient. LocalBus covers single-process deployments; RedisBus adds
// cross-pod fan-out over Redis Pub/Sub.
type Bus interface {
	// Publish sends a frame toward every socket the recipient holds,
	// on any pod. Delivery is asynchronous and best effort.
	Publish(ctx context.Context, recipientID string, frame Frame) error

	// Subscribe registers a delivery callback. Returns an unsubscribe
	// function.
	Subscribe(fn func(recipientID string, frame Frame)) (unsubscribe func())

	Close() error
}

type busSubscriber struct {
	id int
	fn func(string, Frame)
}

// LocalBus fans frames out to in-process subscribers only.
type LocalBus struct {
	mu      sync.RWMutex
	subs    []busSubscriber
	counter int
	closed  bool
}

func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (b *LocalBus) Publish(_ context.Context, recipientID string, frame Frame) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for _, s := range b.subs {
		fn := s.fn
		go fn(recipientID, frame)
	}
	return nil
}

func (b *LocalBus) Subscribe(fn func(string, Frame)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counter++
	id := b.counter
	b.subs = append(b.subs, busSubscriber{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
	}
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = nil
	return nil
}

// busEnvelope is the wire form carried over the Redis channel.
type busEnvelope struct {
	RecipientID string `json:"recipient_id"`
	Frame       Frame  `json:"frame"`
}

// RedisBus distributes frames across pods using Redis Pub/Sub. A pod's
// own publishes come back through the subscription, so local sockets are
// served through the same path as remote ones.
type RedisBus struct {
	mu      sync.RWMutex
	rdb     *redis.Client
	channel string
	local   *LocalBus
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	logger  *slog.Logger
}

func NewRedisBus(rdb *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = "talentlane:notify"
	}
	b := &RedisBus{
		rdb:     rdb,
		channel: channel,
		local:   NewLocalBus(),
		logger:  slog.With("component", "notify.redisbus"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.pubsub = rdb.Subscribe(ctx, channel)
	go b.receive(ctx)
	return b
}

func (b *RedisBus) receive(ctx context.Context) {
	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env busEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("dropping undecodable bus message", "error", err)
				continue
			}
			b.local.Publish(ctx, env.RecipientID, env.Frame)
		}
	}
}

func (b *RedisBus) Publish(ctx context.Context, recipientID string, frame Frame) error {
	data, err := json.Marshal(busEnvelope{RecipientID: recipientID, Frame: frame})
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		// Fall back to local-only delivery so the publishing pod's own
		// sockets still see the frame.
		b.logger.Warn("redis publish failed, delivering locally", "error", err)
		return b.local.Publish(ctx, recipientID, frame)
	}
	return nil
}

func (b *RedisBus) Subscribe(fn func(string, Frame)) func() {
	return b.local.Subscribe(fn)
}

func (b *RedisBus) Close() error {
	b.cancel()
	if err := b.pubsub.Close(); err != nil {
		b.logger.Warn("pubsub close failed", "error", err)
	}
	return b.local.Close()
}
