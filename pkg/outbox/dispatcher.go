package outbox

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"freelancehub/pkg/trace"
)

// Publisher 是 Dispatcher 需要的最小发布能力，*mq.Publisher 满足
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// Store 是 Dispatcher 用到的 outbox 读写，*Repository 满足
type Store interface {
	GetPendingEvents(ctx context.Context, limit int) ([]*Event, error)
	MarkAsSent(ctx context.Context, eventID int64) error
	MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error
}

// Dispatcher 负责从 outbox 中读取事件并发布到 MQ
type Dispatcher struct {
	repo       Store
	publisher  Publisher
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
}

func NewDispatcher(repo Store, publisher Publisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		repo:       repo,
		publisher:  publisher,
		logger:     logger,
		maxRetries: 5,
		interval:   time.Second,
		batchSize:  100,
	}
}

func (d *Dispatcher) WithMaxRetries(maxRetries int) *Dispatcher {
	if maxRetries > 0 {
		d.maxRetries = maxRetries
	}
	return d
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Dispatcher) WithBatchSize(batchSize int) *Dispatcher {
	if batchSize > 0 {
		d.batchSize = batchSize
	}
	return d
}

// Start 阻塞运行直到 ctx 结束
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting Outbox Dispatcher",
		zap.Int("max_retries", d.maxRetries),
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox Dispatcher stopped")
			return
		case <-ticker.C:
			d.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch 发布一批待发送事件，返回成功发布的数量。
// 某个聚合的事件发布失败后，本批次内该聚合后续的事件不再发布，保证同一项目的事件按提交顺序出站
func (d *Dispatcher) ProcessBatch(ctx context.Context) int {
	events, err := d.repo.GetPendingEvents(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to get pending events", zap.Error(err))
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	blocked := make(map[string]bool)
	sent := 0
	for _, event := range events {
		if blocked[event.AggregateID] {
			continue
		}
		log := d.logger.With(
			zap.Int64("event_id", event.ID),
			zap.String("aggregate_id", event.AggregateID),
			zap.String("routing_key", event.RoutingKey),
		)

		if err := d.publishEvent(ctx, event); err != nil {
			log.Error("Failed to publish event", zap.Error(err))
			blocked[event.AggregateID] = true
			if err := d.repo.MarkAsFailed(ctx, event.ID, d.maxRetries); err != nil {
				log.Error("Failed to mark event as failed", zap.Error(err))
			}
			continue
		}

		if err := d.repo.MarkAsSent(ctx, event.ID); err != nil {
			// 已发布但未标记：下次会重复发布，消费端按事件 ID 去重
			log.Error("Failed to mark event as sent", zap.Error(err))
			blocked[event.AggregateID] = true
			continue
		}
		sent++
		log.Debug("Event published")
	}
	return sent
}

func (d *Dispatcher) publishEvent(ctx context.Context, event *Event) error {
	return d.publisher.PublishWithContext(withPayloadTrace(ctx, event.Payload), event.RoutingKey, event.Payload)
}

// withPayloadTrace 如果 payload 带有 trace_id，就沿用它
func withPayloadTrace(ctx context.Context, payload json.RawMessage) context.Context {
	var probe struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(payload, &probe); err == nil && probe.TraceID != "" {
		return trace.WithContext(ctx, probe.TraceID)
	}
	return ctx
}
