// Package audit implements the lifecycle audit bus (C11): an in-process
// publish/subscribe stream of session events (sign-in, sign-out,
// heartbeat expiry, no-listener push, drain) for operators. Its only
// consumer is the slog subscriber (RunSlogSubscriber); the admin HTTP
// surface's /stats endpoint reads the session table, not this bus.
//
// This audit trail never leaves the access node — there is no broker in
// scope for it — so it rides watermill's in-memory gochannel.Pub/Sub
// rather than an amqp transport (see DESIGN.md).
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// Topic is the single topic every lifecycle event publishes to; the
// event's Kind field is how subscribers filter.
const Topic = "access.lifecycle"

// Event is the payload carried by every published message.
type Event struct {
	Kind   string `json:"kind"`
	UserID int64  `json:"user_id"`
	At     int64  `json:"at_unix_ms"`
}

// Bus is the access node's lifecycle audit bus.
type Bus struct {
	pub    *gochannel.GoChannel
	log    *slog.Logger
	nowFn  func() time.Time
}

// NewBus builds a ready-to-publish Bus. Consumers attach with Subscribe
// (or RunSlogSubscriber); events published while no consumer is attached
// are not kept for later ones.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	gc := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, watermill.NewSlogLogger(log))
	return &Bus{pub: gc, log: log, nowFn: time.Now}
}

// Publish implements access.Auditor: it never blocks the caller beyond
// handing the message to the in-memory channel's own buffer.
func (b *Bus) Publish(kind string, userID int64) {
	ev := Event{Kind: kind, UserID: userID, At: b.nowFn().UnixMilli()}
	payload, err := json.Marshal(ev)
	if err != nil {
		b.log.Error("audit: marshal event", "kind", kind, "err", err)
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := b.pub.Publish(Topic, msg); err != nil {
		b.log.Error("audit: publish", "kind", kind, "err", err)
	}
}

// Subscribe returns a channel of raw messages for a handler to range
// over; callers must Ack or Nack each message.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pub.Subscribe(ctx, Topic)
}

// Close releases the underlying gochannel resources.
func (b *Bus) Close() error {
	return b.pub.Close()
}

// RunSlogSubscriber drains the bus to structured log lines until ctx is
// cancelled; it is the audit bus's default (and, in this build, only)
// consumer.
func RunSlogSubscriber(ctx context.Context, b *Bus, log *slog.Logger) error {
	messages, err := b.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("audit: subscribe: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				log.Error("audit: decode event", "err", err)
				msg.Nack()
				continue
			}
			log.Info("lifecycle event", "kind", ev.Kind, "user", ev.UserID)
			msg.Ack()
		}
	}
}
