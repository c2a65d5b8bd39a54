// Package metrics 进程内 Prometheus 指标
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry 独立注册表，避免与默认注册表的全局状态冲突
var Registry = prometheus.NewRegistry()

var (
	// CacheOps 缓存读写结果 layer=shared|local result=hit|miss|error|fallback
	CacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketintel_cache_ops_total",
			Help: "Cache lookups and writes by layer and result",
		},
		[]string{"layer", "result"},
	)

	// CacheEntries 进程内缓存条目数
	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketintel_cache_local_entries",
			Help: "Entries currently held in the in-process cache",
		},
	)

	// ProviderCalls 上游调用次数
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketintel_provider_calls_total",
			Help: "Upstream provider calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	// ProviderLatency 上游调用耗时
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketintel_provider_latency_seconds",
			Help:    "Upstream provider call latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"op"},
	)

	// BatchResults 并发批量拉取的逐标的结果
	BatchResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketintel_batch_results_total",
			Help: "Per-symbol results of parallel fetch batches",
		},
		[]string{"outcome"},
	)

	// HTTPRequests HTTP 请求
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketintel_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPLatency HTTP 请求耗时
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketintel_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// WarmupRuns 预热任务执行次数
	WarmupRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketintel_warmup_runs_total",
			Help: "Warmup task runs by task and outcome",
		},
		[]string{"task", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		CacheOps,
		CacheEntries,
		ProviderCalls,
		ProviderLatency,
		BatchResults,
		HTTPRequests,
		HTTPLatency,
		WarmupRuns,
	)
}

// Handler /metrics 处理器
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
