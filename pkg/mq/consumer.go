package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"freelancehub/pkg/metrics"
	"freelancehub/pkg/otel"
	"freelancehub/pkg/trace"
	"freelancehub/pkg/util"
)

// Message 交给 handler 的消息视图
type Message struct {
	RoutingKey string
	Body       []byte
	Headers    map[string]interface{}
}

// Header 读取字符串类型的消息头
func (m Message) Header(key string) string {
	if s, ok := m.Headers[key].(string); ok {
		return s
	}
	return ""
}

type MessageHandler func(ctx context.Context, msg Message) error

// ConsumerConfig 队列声明参数
type ConsumerConfig struct {
	Queue    string
	Bindings []string // routing key 模式，如 project.#
	// Exclusive 为 true 时声明实例私有的临时队列（非持久、断开即删除）
	Exclusive bool
	Prefetch  int
}

type Consumer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	cfg     ConsumerConfig
	handler MessageHandler
	logger  *zap.Logger
}

// NewConsumer 声明队列并绑定到 events exchange
func NewConsumer(url string, cfg ConsumerConfig, logger *zap.Logger) (*Consumer, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	cleanup := func() {
		ch.Close()
		conn.Close()
	}

	if err := DeclareExchange(ch); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := DeclareDLQExchange(ch); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to declare dlq exchange: %w", err)
	}

	durable := !cfg.Exclusive
	q, err := ch.QueueDeclare(cfg.Queue, durable, cfg.Exclusive, cfg.Exclusive, false, nil)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	cfg.Queue = q.Name

	for _, key := range cfg.Bindings {
		if err := ch.QueueBind(q.Name, key, ExchangeName, false, nil); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to bind queue to %s: %w", key, err)
		}
	}
	if durable {
		if _, err := DeclareDLQQueue(ch, q.Name); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to declare dlq queue: %w", err)
		}
	}

	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to set qos: %w", err)
		}
	}

	logger.Info("Consumer initialized",
		zap.String("queue", q.Name),
		zap.Strings("bindings", cfg.Bindings),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{conn: conn, channel: ch, cfg: cfg, logger: logger}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming 阻塞消费直到 ctx 结束或连接断开。每条消息都会被 ack 或 nack：
// handler 成功 -> ack；可重试错误且首次投递 -> nack 重新入队；其余 -> 转死信并 ack
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.ConsumeWithContext(ctx,
		c.cfg.Queue,
		"",
		false, // 手动ack
		c.cfg.Exclusive,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages", zap.String("queue", c.cfg.Queue))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed for queue %s", c.cfg.Queue)
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(parent context.Context, msg amqp091.Delivery) {
	start := time.Now()
	ctx := otel.ExtractMQ(parent, msg.Headers)
	ctx, span := otel.MQConsumeSpan(ctx, msg.RoutingKey, c.cfg.Queue)
	defer span.End()

	if traceID, ok := msg.Headers[HeaderTraceID].(string); ok {
		ctx = trace.WithContext(ctx, traceID)
	}
	log := c.logger.With(
		zap.String("routing_key", msg.RoutingKey),
		zap.String("queue", c.cfg.Queue),
		zap.String("trace_id", trace.FromContext(ctx)),
	)

	err := c.invoke(ctx, msg)
	metrics.RecordMQConsumeLatency(msg.RoutingKey, c.cfg.Queue, time.Since(start))
	if err == nil {
		if ackErr := msg.Ack(false); ackErr != nil {
			log.Error("Failed to ack message", zap.Error(ackErr))
		}
		return
	}

	span.RecordError(err)
	retryable, errType := util.IsRetryableError(err)
	log = log.With(zap.Error(err), zap.String("error_type", errType), zap.Bool("redelivered", msg.Redelivered))

	if retryable && !msg.Redelivered {
		log.Warn("Handler failed, requeueing")
		if nackErr := msg.Nack(false, true); nackErr != nil {
			log.Error("Failed to nack message", zap.Error(nackErr))
		}
		return
	}

	if c.cfg.Exclusive {
		// 私有队列没有死信队列，直接丢弃
		log.Error("Handler failed, dropping message")
		_ = msg.Nack(false, false)
		return
	}

	log.Error("Handler failed, sending to DLQ")
	if dlqErr := publishToDLQ(ctx, c.channel, msg, c.cfg.Queue, err.Error()); dlqErr != nil {
		log.Error("Failed to publish to DLQ, requeueing", zap.Error(dlqErr))
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

// invoke 调用 handler，把 panic 转换成错误
func (c *Consumer) invoke(ctx context.Context, msg amqp091.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return c.handler(ctx, Message{
		RoutingKey: msg.RoutingKey,
		Body:       msg.Body,
		Headers:    msg.Headers,
	})
}
