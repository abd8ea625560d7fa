package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 状态迁移结果计数
	TransitionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transition_count",
			Help: "Total number of transition attempts by action and outcome",
		},
		[]string{"action", "outcome"}, // outcome: committed, or the error code
	)

	// 项目锁等待时间（秒）
	LockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "project_lock_wait_seconds",
			Help:    "Time spent waiting for a project lock",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 0.1ms to ~3s
		},
		[]string{"outcome"}, // acquired, cancelled, timeout
	)

	// 推送给观察者的事件计数
	FanoutDeliveryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_delivery_count",
			Help: "Total number of event deliveries to observers",
		},
		[]string{"kind", "status"}, // status: delivered, failed, evicted
	)

	// 当前订阅数
	FanoutSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fanout_subscriptions",
			Help: "Number of currently registered observers",
		},
	)

	// 支付触发计数
	PaymentTriggerCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_trigger_count",
			Help: "Total number of milestone-approved payment triggers",
		},
		[]string{"status"}, // sent, duplicate, failed
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"sql"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

// RecordTransition 记录一次状态迁移尝试
func RecordTransition(action, outcome string) {
	TransitionCount.WithLabelValues(action, outcome).Inc()
}

// RecordLockWait 记录项目锁等待
func RecordLockWait(outcome string, d time.Duration) {
	LockWaitDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncrementFanoutDelivery 增加推送计数
func IncrementFanoutDelivery(kind, status string) {
	FanoutDeliveryCount.WithLabelValues(kind, status).Inc()
}

// IncrementPaymentTrigger 增加支付触发计数
func IncrementPaymentTrigger(status string) {
	PaymentTriggerCount.WithLabelValues(status).Inc()
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(sql string, _ time.Duration) {
	SlowQueryCount.WithLabelValues(sql).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
