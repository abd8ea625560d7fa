package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"freelancehub/internal/model"
	"freelancehub/pkg/mq"
)

// Deduper is satisfied by *util.Deduper.
type Deduper interface {
	AcquireOnce(ctx context.Context, id string) bool
}

// Bridge relays events committed by other instances (published through the
// outbox) to observers connected to this instance. Events this instance
// committed itself were already delivered locally and are skipped.
type Bridge struct {
	hub        *Hub
	instanceID string
	dedup      Deduper
	logger     *zap.Logger
}

func NewBridge(hub *Hub, instanceID string, dedup Deduper, logger *zap.Logger) *Bridge {
	return &Bridge{hub: hub, instanceID: instanceID, dedup: dedup, logger: logger}
}

// QueueConfig is the instance-private queue the bridge consumes from.
func (b *Bridge) QueueConfig() mq.ConsumerConfig {
	return mq.ConsumerConfig{
		Queue:     "fanout." + b.instanceID,
		Bindings:  []string{"project.#"},
		Exclusive: true,
		Prefetch:  64,
	}
}

// Handle is an mq.MessageHandler.
func (b *Bridge) Handle(ctx context.Context, msg mq.Message) error {
	var evt model.Event
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if evt.Origin == b.instanceID {
		return nil
	}
	if evt.ID == "" || evt.ProjectID == "" {
		b.logger.Warn("Dropping event without id", zap.String("routing_key", msg.RoutingKey))
		return nil
	}
	if b.dedup != nil && !b.dedup.AcquireOnce(ctx, b.instanceID+":"+evt.ID) {
		return nil
	}
	b.hub.Dispatch(evt)
	return nil
}
