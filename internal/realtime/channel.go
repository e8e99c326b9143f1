// Package realtime pushes events to connected users over per-recipient
// Redis pub/sub channels.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/fieldcheck/servicereport-backend/pkg/logger"
)

const (
	// EventNotification carries a persisted models.Notification as payload.
	EventNotification = "notification"

	defaultBuffer         = 32
	defaultReconnectBase  = 500 * time.Millisecond
	defaultReconnectLimit = 30 * time.Second
)

// Event is the envelope published on a recipient channel.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Kind        string          `json:"kind"`
	RecipientID uuid.UUID       `json:"recipient_id"`
	Payload     json.RawMessage `json:"payload"`
	SentAt      time.Time       `json:"sent_at"`
}

// Transport is the pub/sub surface of pkg/redis.Client.
type Transport interface {
	Publish(ctx context.Context, channel string, message any) (int64, error)
	Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error)
	NotificationChannel(recipientID string) string
}

// Options tunes buffering and the reconnect policy.
type Options struct {
	Buffer        int
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

// Channel publishes and subscribes to recipient channels.
type Channel struct {
	transport Transport
	logg      *logger.Logger
	buffer    int
	base      time.Duration
	max       time.Duration
}

// NewChannel builds a realtime channel on top of transport.
func NewChannel(transport Transport, logg *logger.Logger, opts Options) (*Channel, error) {
	if transport == nil {
		return nil, errors.New("realtime transport required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	c := &Channel{
		transport: transport,
		logg:      logg,
		buffer:    opts.Buffer,
		base:      opts.ReconnectBase,
		max:       opts.ReconnectMax,
	}
	if c.buffer <= 0 {
		c.buffer = defaultBuffer
	}
	if c.base <= 0 {
		c.base = defaultReconnectBase
	}
	if c.max < c.base {
		c.max = defaultReconnectLimit
		if c.max < c.base {
			c.max = c.base
		}
	}
	return c, nil
}

// Publish sends event to the recipient's channel. It returns how many live
// subscribers received it; zero means nobody is connected and is not an error.
func (c *Channel) Publish(ctx context.Context, recipientID uuid.UUID, event Event) (int64, error) {
	if recipientID == uuid.Nil {
		return 0, errors.New("recipient id required")
	}
	event.RecipientID = recipientID
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.SentAt.IsZero() {
		event.SentAt = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("encode realtime event: %w", err)
	}
	return c.transport.Publish(ctx, c.transport.NotificationChannel(recipientID.String()), body)
}

// Subscribe opens a live subscription for recipientID. The first subscribe is
// synchronous so an unreachable transport is reported to the caller. After
// that, dropped connections are re-established with capped exponential
// backoff until the handle is closed or ctx ends.
func (c *Channel) Subscribe(ctx context.Context, recipientID uuid.UUID) (*Subscription, error) {
	if recipientID == uuid.Nil {
		return nil, errors.New("recipient id required")
	}
	name := c.transport.NotificationChannel(recipientID.String())
	ps, err := c.transport.Subscribe(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		events: make(chan Event, c.buffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	logCtx := c.logg.WithFields(runCtx, map[string]any{
		"recipient_id": recipientID.String(),
		"channel":      name,
	})
	go c.run(logCtx, sub, ps, name)
	return sub, nil
}

func (c *Channel) run(ctx context.Context, sub *Subscription, ps *redis.PubSub, name string) {
	defer close(sub.done)
	defer close(sub.events)

	for {
		err := c.pump(ctx, sub, ps)
		_ = ps.Close()
		if ctx.Err() != nil {
			return
		}
		c.logg.Warn(c.logg.WithField(ctx, "error", errString(err)), "realtime.subscription_dropped")

		ps, err = c.resubscribe(ctx, name)
		if err != nil {
			return
		}
		sub.reconnects.Add(1)
		c.logg.Info(ctx, "realtime.subscription_restored")
	}
}

// pump forwards messages until the connection fails or ctx ends.
func (c *Channel) pump(ctx context.Context, sub *Subscription, ps *redis.PubSub) error {
	// ReceiveMessage does not watch ctx; closing the connection unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = ps.Close() })
	defer stop()

	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			c.logg.Error(ctx, "realtime.decode_failed", err)
			continue
		}
		select {
		case sub.events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Channel) resubscribe(ctx context.Context, name string) (*redis.PubSub, error) {
	backoff := retry.WithCappedDuration(c.max, retry.NewExponential(c.base))
	backoff = retry.WithJitterPercent(10, backoff)

	var ps *redis.PubSub
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := c.transport.Subscribe(ctx, name)
		if err != nil {
			c.logg.Debug(c.logg.WithField(ctx, "error", err.Error()), "realtime.resubscribe_failed")
			return retry.RetryableError(err)
		}
		ps = p
		return nil
	})
	return ps, err
}

// Subscription is a caller-owned live feed. Events is closed once the
// subscription stops.
type Subscription struct {
	events     chan Event
	done       chan struct{}
	cancel     context.CancelFunc
	closeOnce  sync.Once
	reconnects atomic.Int64
}

func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed after the subscription has fully stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Reconnects counts successful resubscriptions since Subscribe.
func (s *Subscription) Reconnects() int64 {
	return s.reconnects.Load()
}

// Close stops the subscription and waits for it to release the connection.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
