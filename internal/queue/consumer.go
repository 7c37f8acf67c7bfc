package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/faceattend/internal/models"
)

type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

type Consumer struct {
	nc   *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, err := connect(natsURL)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Consumer{nc: nc, js: js}, nil
}

// EventSubject is the subject live events of a camera are published on.
// NATS tokens cannot contain dots or spaces, so they are replaced.
func EventSubject(camera string) string {
	if camera == "" {
		camera = "_"
	}
	return EventsSubjectBase + "." + strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(camera)
}

// ConsumeEvents starts consuming live events (for the API to broadcast via WebSocket).
func (c *Consumer) ConsumeEvents(ctx context.Context, consumerName string, handler MessageHandler) error {
	stream, err := c.js.Stream(ctx, EventsStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", EventsStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: EventsSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch events error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				settle(ctx, msg, handler)
			}
		}
	}()

	slog.Info("event consumer started", "consumer", consumerName)
	return nil
}

// settle runs handler and acks the message, or naks it for redelivery when
// the handler fails.
func settle(ctx context.Context, msg jetstream.Msg, handler MessageHandler) {
	if err := handler(ctx, msg); err != nil {
		slog.Error("process event error", "error", err, "subject", msg.Subject())
		if err := msg.Nak(); err != nil {
			slog.Warn("nak event", "subject", msg.Subject(), "error", err)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		slog.Warn("ack event", "subject", msg.Subject(), "error", err)
	}
}

func decodeTemplateChange(data []byte) (models.TemplateChange, error) {
	var change models.TemplateChange
	if err := json.Unmarshal(data, &change); err != nil {
		return change, fmt.Errorf("decode template change: %w", err)
	}
	if change.IdentityID == uuid.Nil {
		return change, fmt.Errorf("decode template change: missing identity_id")
	}
	switch change.Action {
	case models.TemplateUpserted, models.TemplateDeleted:
	default:
		return change, fmt.Errorf("decode template change: unknown action %q", change.Action)
	}
	return change, nil
}

// templateChangeHandler drops malformed changes; the matcher's periodic
// refresh covers anything lost.
func templateChangeHandler(fn func(models.TemplateChange)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		change, err := decodeTemplateChange(msg.Data)
		if err != nil {
			slog.Warn("drop template change", "error", err)
			return
		}
		fn(change)
	}
}

// SubscribeTemplateChanges calls fn for every template change published by
// any process.
func (c *Consumer) SubscribeTemplateChanges(fn func(models.TemplateChange)) error {
	sub, err := c.nc.Subscribe(TemplatesSubject, templateChangeHandler(fn))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TemplatesSubject, err)
	}
	c.subs = append(c.subs, sub)
	return nil
}

func (c *Consumer) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.nc.Close()
}
