// Package metrics 导出 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus 指标
var (
	// SamplesProcessed 按类型统计的已处理遥测样本数
	SamplesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secureheart_samples_processed_total",
			Help: "Total number of telemetry samples processed, by kind",
		},
		[]string{"kind"},
	)

	// SamplesDropped 按原因统计的丢弃样本数
	SamplesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secureheart_samples_dropped_total",
			Help: "Total number of telemetry samples dropped, by reason",
		},
		[]string{"reason"},
	)

	// OrthostaticEvents 按严重程度统计的直立性事件数
	OrthostaticEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secureheart_orthostatic_events_total",
			Help: "Total number of orthostatic events detected, by severity",
		},
		[]string{"severity"},
	)

	// EventsAmended 恢复确认后被修订的事件数
	EventsAmended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "secureheart_events_amended_total",
			Help: "Total number of orthostatic events amended with recovery info",
		},
	)

	// PostureChanges 体位变化次数
	PostureChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "secureheart_posture_changes_total",
			Help: "Total number of posture transitions",
		},
	)

	// SignificantChanges 显著心率变化次数
	SignificantChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "secureheart_significant_changes_total",
			Help: "Total number of significant heart rate changes",
		},
	)

	// AlertsEmitted 按严重程度统计的已发出报警数
	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secureheart_alerts_emitted_total",
			Help: "Total number of alerts emitted, by severity",
		},
		[]string{"severity"},
	)

	// AlertsSuppressed 冷却期内被扣下的报警数
	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "secureheart_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by cooldown",
		},
	)

	// NotifierFailures 报警通知投递失败数
	NotifierFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "secureheart_notifier_failures_total",
			Help: "Total number of failed alert notification deliveries",
		},
	)

	// ActiveEngines 在管的佩戴者引擎数
	ActiveEngines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "secureheart_active_engines",
			Help: "Number of per-wearer detection engines currently loaded",
		},
	)

	// ProcessingLatency 单条遥测消息的处理耗时
	ProcessingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "secureheart_processing_latency_seconds",
			Help:    "Telemetry message processing latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		},
	)

	// RequestsTotal HTTP 请求总数
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secureheart_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration HTTP 请求耗时
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "secureheart_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint", "method"},
	)
)
