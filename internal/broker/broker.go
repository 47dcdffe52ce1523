// Package broker provides the Redis message broker shared by all agents:
// pub/sub channels with strict per-channel ordering, and a keyed store with
// TTL used for cooldowns, circuit rings, locks, dedup sentinels, and bounded
// event lists. The broker is the only shared mutable state in the system.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hemostat/hemostat/internal/logger"
	"github.com/hemostat/hemostat/internal/retry"
	"github.com/hemostat/hemostat/internal/schema"
)

// Config holds broker connection settings.
type Config struct {
	Addr                 string
	Password             string
	DB                   int
	MaxReconnectAttempts int
	ReconnectCap         time.Duration
}

// Handler processes one decoded envelope. Handlers for the same channel run
// strictly serially; errors inside a handler must be handled locally, the
// dispatcher never retries a message.
type Handler func(ctx context.Context, env *schema.Envelope)

// Broker wraps a go-redis client.
type Broker struct {
	client      *redis.Client
	cfg         Config
	log         *logger.Logger
	onReconnect func()
}

// New creates a broker. The connection is lazy; call Connect to establish and
// verify it.
func New(cfg Config, log *logger.Logger) *Broker {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.ReconnectCap <= 0 {
		cfg.ReconnectCap = 30 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Broker{
		client: client,
		cfg:    cfg,
		log:    log,
	}
}

// NewWithClient wraps an existing client. Used by tests with miniredis.
func NewWithClient(client *redis.Client, log *logger.Logger) *Broker {
	return &Broker{
		client: client,
		cfg:    Config{MaxReconnectAttempts: 10, ReconnectCap: 30 * time.Second},
		log:    log,
	}
}

// OnReconnect registers a callback invoked on every reconnect attempt.
func (b *Broker) OnReconnect(fn func()) {
	b.onReconnect = fn
}

// Connect verifies the connection with a ping, retrying with exponential
// backoff (1s, 2s, 4s, ... capped) up to the configured attempt limit.
func (b *Broker) Connect(ctx context.Context) error {
	var lastErr error

	for attempt := 0; attempt < b.cfg.MaxReconnectAttempts; attempt++ {
		if attempt > 0 && b.onReconnect != nil {
			b.onReconnect()
		}

		if err := b.client.Ping(ctx).Err(); err == nil {
			if attempt > 0 {
				b.log.Info("broker connected after retry",
					logger.Field{Key: "attempt", Value: attempt + 1})
			}
			return nil
		} else {
			lastErr = err
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		if backoff > b.cfg.ReconnectCap {
			backoff = b.cfg.ReconnectCap
		}

		b.log.Warn("broker unreachable, retrying",
			logger.Field{Key: "attempt", Value: attempt + 1},
			logger.Field{Key: "backoff", Value: backoff.String()},
			logger.Field{Key: "error", Value: lastErr.Error()})

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("broker unreachable after %d attempts: %w", b.cfg.MaxReconnectAttempts, lastErr)
}

// Close releases the underlying client.
func (b *Broker) Close() error {
	return b.client.Close()
}

// Publish serializes the envelope and publishes it. Fire-and-forget
// at-least-once: one retry on a transient error, then the error is returned
// for the caller to log.
func (b *Broker) Publish(ctx context.Context, channel string, env *schema.Envelope) error {
	payload, err := env.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	err = b.client.Publish(ctx, channel, payload).Err()
	if err != nil && retry.IsRetryable(err) {
		err = b.client.Publish(ctx, channel, payload).Err()
	}
	if err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Subscription is one channel's dispatch loop.
type Subscription struct {
	channel string
	pubsub  *redis.PubSub
	done    chan struct{}
	cancel  context.CancelFunc
}

// Subscribe starts a dispatch goroutine for the channel. Messages are decoded
// and handed to the handler one at a time; malformed payloads are logged at
// WARN and skipped. The handler context is detached from the caller's
// cancellation: an in-flight handler keeps a live context through shutdown
// until the subscription's drain completes or its deadline expires, so its
// broker and runtime calls are not aborted by the signal.
func (b *Broker) Subscribe(ctx context.Context, channel string, h Handler) *Subscription {
	pubsub := b.client.Subscribe(ctx, channel)
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	sub := &Subscription{
		channel: channel,
		pubsub:  pubsub,
		done:    make(chan struct{}),
		cancel:  cancel,
	}

	go func() {
		defer close(sub.done)
		for msg := range pubsub.Channel() {
			var env schema.Envelope
			if err := env.FromJSON([]byte(msg.Payload)); err != nil {
				b.log.Warn("dropping malformed message",
					logger.Field{Key: "channel", Value: channel},
					logger.Field{Key: "error", Value: err.Error()})
				continue
			}
			h(hctx, &env)
		}
	}()

	return sub
}

// Close stops consuming and waits for the in-flight handler to finish, up to
// the deadline, then cancels the handler context. Returns false if the drain
// deadline expired.
func (s *Subscription) Close(deadline time.Duration) bool {
	defer s.cancel()
	_ = s.pubsub.Close()
	select {
	case <-s.done:
		return true
	case <-time.After(deadline):
		return false
	}
}

// CloseAll drains a set of subscriptions concurrently within one shared
// deadline, then cancels their handler contexts.
func CloseAll(subs []*Subscription, deadline time.Duration) bool {
	defer func() {
		for _, s := range subs {
			s.cancel()
		}
	}()

	var wg sync.WaitGroup
	allDrained := make(chan struct{})

	for _, s := range subs {
		wg.Add(1)
		go func(s *Subscription) {
			defer wg.Done()
			_ = s.pubsub.Close()
			<-s.done
		}(s)
	}

	go func() {
		wg.Wait()
		close(allDrained)
	}()

	select {
	case <-allDrained:
		return true
	case <-time.After(deadline):
		return false
	}
}
