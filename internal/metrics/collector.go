// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 流水线与路由指标收集器
type Collector struct {
	// 流式处理指标
	chunksTotal       prometheus.Counter
	chunkBytesTotal   prometheus.Counter
	streamErrors      prometheus.Counter
	bufferOverflows   prometheus.Counter
	backpressureTotal prometheus.Counter
	bufferUtilization prometheus.Gauge
	flushBatchSize    prometheus.Histogram
	flushDuration     prometheus.Histogram

	// 路由指标
	modelCallsTotal *prometheus.CounterVec
	modelRetries    *prometheus.CounterVec
	circuitSkips    *prometheus.CounterVec
	callDuration    *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。
// 指标注册到调用方提供的 registerer 上，避免污染全局注册表。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 流式处理指标
	c.chunksTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_chunks_total",
		Help:      "Total number of stream chunks processed",
	})
	c.chunkBytesTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_chunk_bytes_total",
		Help:      "Total bytes of stream chunk payload processed",
	})
	c.streamErrors = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_errors_total",
		Help:      "Total number of stream errors",
	})
	c.bufferOverflows = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_buffer_overflows_total",
		Help:      "Total number of chunks dropped on buffer overflow",
	})
	c.backpressureTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_backpressure_events_total",
		Help:      "Total number of producer backpressure pauses",
	})
	c.bufferUtilization = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_buffer_utilization_percent",
		Help:      "Current buffer fill level in percent",
	})
	c.flushBatchSize = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stream_flush_batch_size",
		Help:      "Number of chunks delivered per flush",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})
	c.flushDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stream_flush_duration_seconds",
		Help:      "Batch callback duration in seconds",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	// 路由指标
	c.modelCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_model_calls_total",
			Help:      "Total number of model invocations by outcome",
		},
		[]string{"model", "status"},
	)
	c.modelRetries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_model_retries_total",
			Help:      "Total number of same-model retry attempts",
		},
		[]string{"model"},
	)
	c.circuitSkips = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_circuit_skips_total",
			Help:      "Total number of models skipped while circuit-open",
		},
		[]string{"model"},
	)
	c.callDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "router_call_duration_seconds",
			Help:      "End to end model call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	return c
}

// =============================================================================
// 流式处理指标
// =============================================================================

// RecordChunk 记录一个已入队的 chunk 及其负载字节数
func (c *Collector) RecordChunk(bytes int) {
	c.chunksTotal.Inc()
	c.chunkBytesTotal.Add(float64(bytes))
}

// RecordError 记录一次流错误
func (c *Collector) RecordError() {
	c.streamErrors.Inc()
}

// RecordOverflow 记录一次溢出丢弃
func (c *Collector) RecordOverflow() {
	c.bufferOverflows.Inc()
}

// RecordBackpressure 记录一次生产端暂停
func (c *Collector) RecordBackpressure() {
	c.backpressureTotal.Inc()
}

// SetBufferUtilization 更新缓冲区占用率（百分比）
func (c *Collector) SetBufferUtilization(pct float64) {
	c.bufferUtilization.Set(pct)
}

// ObserveFlush 记录一次批量投递
func (c *Collector) ObserveFlush(batch int, d time.Duration) {
	c.flushBatchSize.Observe(float64(batch))
	c.flushDuration.Observe(d.Seconds())
}

// =============================================================================
// 路由指标
// =============================================================================

// RecordModelCall 按结果记录一次模型调用（status: success / error / skipped）
func (c *Collector) RecordModelCall(model, status string) {
	c.modelCallsTotal.WithLabelValues(model, status).Inc()
}

// RecordRetry 记录一次同模型重试
func (c *Collector) RecordRetry(model string) {
	c.modelRetries.WithLabelValues(model).Inc()
}

// RecordCircuitSkip 记录一次熔断跳过
func (c *Collector) RecordCircuitSkip(model string) {
	c.circuitSkips.WithLabelValues(model).Inc()
}

// ObserveCallDuration 记录模型调用耗时
func (c *Collector) ObserveCallDuration(model string, d time.Duration) {
	c.callDuration.WithLabelValues(model).Observe(d.Seconds())
}
