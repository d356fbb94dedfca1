package realtime

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus transports payloads over Redis PUBLISH/SUBSCRIBE so that every
// API instance sees every change. All subscriptions share one PubSub
// connection; a channel is subscribed on the server while at least one
// handler is attached to it.
type RedisBus struct {
	client *redis.Client
	pubsub *redis.PubSub
	logger *zap.Logger

	mu        sync.Mutex
	channels  map[string]*redisChannel
	nextID    uint64
	consuming bool
	closed    bool
}

type redisChannel struct {
	handlers map[uint64]Handler
	ready    chan struct{}
	once     sync.Once
}

func (c *redisChannel) markReady() {
	c.once.Do(func() { close(c.ready) })
}

// NewRedisBus wraps an existing client. The bus does not own the client.
func NewRedisBus(client *redis.Client, logger *zap.Logger) *RedisBus {
	return &RedisBus{
		client:   client,
		pubsub:   client.Subscribe(context.Background()),
		logger:   logger.Named("redis_bus"),
		channels: make(map[string]*redisChannel),
	}
}

// Publish sends payload to channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe waits until the server confirmed the channel subscription, so an
// unreachable Redis surfaces here rather than as silence.
func (b *RedisBus) Subscribe(ctx context.Context, channel string, handler Handler) (func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.nextID++
	id := b.nextID

	ch, ok := b.channels[channel]
	if !ok {
		ch = &redisChannel{handlers: make(map[uint64]Handler), ready: make(chan struct{})}
		if err := b.pubsub.Subscribe(ctx, channel); err != nil {
			// go-redis remembers the channel even when the write failed.
			_ = b.pubsub.Unsubscribe(context.Background(), channel)
			b.mu.Unlock()
			return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
		}
		b.channels[channel] = ch
		if !b.consuming {
			b.consuming = true
			go b.consume(b.pubsub.ChannelWithSubscriptions())
		}
	}
	ch.handlers[id] = handler
	b.mu.Unlock()

	select {
	case <-ch.ready:
	case <-ctx.Done():
		b.detach(channel, id)
		return nil, fmt.Errorf("subscribe to %s: %w", channel, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { b.detach(channel, id) })
	}, nil
}

func (b *RedisBus) detach(channel string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[channel]
	if !ok {
		return
	}
	delete(ch.handlers, id)
	if len(ch.handlers) > 0 {
		return
	}
	delete(b.channels, channel)
	if b.closed {
		return
	}
	if err := b.pubsub.Unsubscribe(context.Background(), channel); err != nil {
		b.logger.Warn("unsubscribe", zap.String("channel", channel), zap.Error(err))
	}
}

// consume delivers in arrival order until the bus is closed. A message
// already in flight may still reach a handler after it detached.
func (b *RedisBus) consume(msgs <-chan interface{}) {
	for m := range msgs {
		switch m := m.(type) {
		case *redis.Subscription:
			if m.Kind != "subscribe" {
				continue
			}
			b.mu.Lock()
			if ch, ok := b.channels[m.Channel]; ok {
				ch.markReady()
			}
			b.mu.Unlock()
			b.logger.Debug("subscribed", zap.String("channel", m.Channel))
		case *redis.Message:
			payload := []byte(m.Payload)
			for _, handler := range b.handlersFor(m.Channel) {
				b.deliver(m.Channel, handler, payload)
			}
		}
	}
	b.logger.Debug("subscription loop ended")
}

func (b *RedisBus) handlersFor(channel string) []Handler {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[channel]
	if !ok {
		return nil
	}
	out := make([]Handler, 0, len(ch.handlers))
	for _, h := range ch.handlers {
		out = append(out, h)
	}
	return out
}

func (b *RedisBus) deliver(channel string, handler Handler, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("realtime handler panicked",
				zap.String("channel", channel),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	handler(payload)
}

// Close ends every open subscription and the shared connection.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.channels = make(map[string]*redisChannel)
	b.mu.Unlock()

	return b.pubsub.Close()
}
