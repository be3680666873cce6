// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package eventbus implements dispatcher.Bus (C11, spec §4.5/§11): every
// committed transition is published on an outbound topic, backed by an
// in-process Watermill gochannel pub/sub by default and swapped at runtime
// for a Watermill/NATS JetStream transport when Config.NATSEnabled is set
// (RIVEN_NATS_ENABLED=true). The selection is a runtime branch rather than a
// build tag: unlike the teacher's eventprocessor package, both transports
// ship in every binary so an operator can flip the toggle without a rebuild.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"
	"github.com/google/uuid"

	"github.com/riven-go/riven/internal/clock"
	"github.com/riven-go/riven/internal/dispatcher"
	"github.com/riven-go/riven/internal/logging"
)

// Bus publishes dispatcher.TransitionMessage values and lets downstream
// consumers (the /stream SSE handler, notification throttling) subscribe to
// the same feed. It satisfies dispatcher.Bus.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     watermill.LoggerAdapter

	notify *throttle
}

// New builds a Bus per cfg. The in-process gochannel transport requires no
// external process and is the default; the NATS transport is built only
// when cfg.NATSEnabled is set, so a default deployment never dials out.
// clk drives the notification-cooldown clock; nil defaults to clock.New().
func New(cfg Config, clk clock.Clock) (*Bus, error) {
	if clk == nil {
		clk = clock.New()
	}
	logger := watermill.NewStdLogger(false, false)

	var pub message.Publisher
	var sub message.Subscriber

	if cfg.NATSEnabled {
		p, s, err := newNATSTransport(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("eventbus: build nats transport: %w", err)
		}
		pub, sub = p, s
	} else {
		gc := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		}, logger)
		pub, sub = gc, gc
	}

	return &Bus{
		publisher:  pub,
		subscriber: sub,
		logger:     logger,
		notify:     newThrottle(cfg.NotificationCooldown, clk),
	}, nil
}

func newNATSTransport(cfg Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber, error) {
	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(10),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.ReconnectBufSize(8 * 1024 * 1024),
		natsgo.ErrorHandler(func(_ *natsgo.Conn, sub *natsgo.Subscription, err error) {
			if err == nil {
				return
			}
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("nats error", err, watermill.LogFields{"subject": subject})
		}),
	}

	pubConfig := nats.PublisherConfig{
		URL:         cfg.NATSURL,
		NatsOptions: natsOpts,
		Marshaler:   &nats.NATSMarshaler{},
		JetStream: nats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}
	pub, err := nats.NewPublisher(pubConfig, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("nats publisher: %w", err)
	}

	subConfig := nats.SubscriberConfig{
		URL:              cfg.NATSURL,
		QueueGroupPrefix: "riven",
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     5 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &nats.NATSMarshaler{},
		JetStream: nats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			AckAsync:      false,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.MaxDeliver(5),
				natsgo.MaxAckPending(1000),
				natsgo.AckWait(30 * time.Second),
				natsgo.DeliverNew(),
			},
			DurablePrefix: "riven-transitions",
		},
	}
	sub, err := nats.NewSubscriber(subConfig, logger)
	if err != nil {
		_ = pub.Close()
		return nil, nil, fmt.Errorf("nats subscriber: %w", err)
	}

	return pub, sub, nil
}

// PublishTransition implements dispatcher.Bus. Failure-like transitions
// (Err set) are subject to the §12 notification cooldown: if the same item
// recently published a failing transition, this call is a no-op rather than
// re-publishing, so downstream notification consumers don't spam on a
// retry storm.
func (b *Bus) PublishTransition(ctx context.Context, msg dispatcher.TransitionMessage) error {
	if msg.Err != "" && !b.notify.allow(msg.ItemID) {
		return nil
	}

	data, err := marshalTransition(msg)
	if err != nil {
		return fmt.Errorf("eventbus: marshal transition: %w", err)
	}

	wmMsg := message.NewMessage(uuid.NewString(), data)
	if err := b.publisher.Publish(transitionTopic, wmMsg); err != nil {
		return fmt.Errorf("eventbus: publish: %w", err)
	}
	return nil
}

// Subscribe returns a channel of decoded transitions for the /stream SSE
// endpoint. The channel closes when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context) (<-chan dispatcher.TransitionMessage, error) {
	raw, err := b.subscriber.Subscribe(ctx, transitionTopic)
	if err != nil {
		return nil, fmt.Errorf("eventbus: subscribe: %w", err)
	}

	out := make(chan dispatcher.TransitionMessage)
	go func() {
		defer close(out)
		for wmMsg := range raw {
			tm, err := unmarshalTransition(wmMsg.Payload)
			if err != nil {
				logging.Ctx(ctx).Warn().Err(err).Msg("eventbus: dropping undecodable transition message")
				wmMsg.Ack()
				continue
			}
			wmMsg.Ack()
			select {
			case out <- tm:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts down both transports.
func (b *Bus) Close() error {
	var firstErr error
	if err := b.publisher.Close(); err != nil {
		firstErr = err
	}
	if err := b.subscriber.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// throttle tracks the last time a failing transition was published for a
// given item, implementing the §12 per-item notification cooldown.
type throttle struct {
	cooldown time.Duration
	clk      clock.Clock
	mu       sync.Mutex
	last     map[int64]time.Time
}

func newThrottle(cooldown time.Duration, clk clock.Clock) *throttle {
	return &throttle{cooldown: cooldown, clk: clk, last: make(map[int64]time.Time)}
}

func (t *throttle) allow(itemID int64) bool {
	if t.cooldown <= 0 {
		return true
	}
	now := t.clk.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.last[itemID]; ok && now.Sub(prev) < t.cooldown {
		return false
	}
	t.last[itemID] = now
	return true
}
