package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 文本生成调用延迟（毫秒）
	LLMCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_call_latency_ms",
			Help:    "Text generation call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"provider", "purpose", "status"},
	)

	// 日历服务调用延迟（毫秒）
	CalendarCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calendar_call_latency_ms",
			Help:    "Calendar service call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"provider", "status"},
	)

	// 意图分类计数
	WorkflowIntentCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_intent_count",
			Help: "Total number of classified emails per intent label",
		},
		[]string{"intent"},
	)

	// 工作流运行计数
	WorkflowRunCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_run_count",
			Help: "Total number of workflow runs per terminal handler and outcome",
		},
		[]string{"handler", "status"}, // status: replied, extraction_failed, schedule_failed, failed
	)

	// 熔断器状态（0=closed, 1=open, 2=half_open）
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per dependency (0=closed, 1=open, 2=half_open)",
		},
		[]string{"name"},
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
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

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"method", "path", "status"},
	)

	// 限流拒绝计数
	RateLimitedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_count",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"backend"}, // backend: redis, local
	)
)

// RecordLLMCallLatency 记录文本生成调用延迟
func RecordLLMCallLatency(provider, purpose, status string, duration time.Duration) {
	LLMCallLatency.WithLabelValues(provider, purpose, status).Observe(float64(duration.Milliseconds()))
}

// RecordCalendarCallLatency 记录日历调用延迟
func RecordCalendarCallLatency(provider, status string, duration time.Duration) {
	CalendarCallLatency.WithLabelValues(provider, status).Observe(float64(duration.Milliseconds()))
}

// IncrementIntent 增加意图计数
func IncrementIntent(intent string) {
	WorkflowIntentCount.WithLabelValues(intent).Inc()
}

// IncrementWorkflowRun 增加工作流运行计数
func IncrementWorkflowRun(handler, status string) {
	WorkflowRunCount.WithLabelValues(handler, status).Inc()
}

// SetCircuitBreakerState 记录熔断器状态
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementRateLimited 增加限流计数
func IncrementRateLimited(backend string) {
	RateLimitedCount.WithLabelValues(backend).Inc()
}
