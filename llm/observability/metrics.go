// Package observability 提供基于 OpenTelemetry 的路由追踪与指标。
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/BaSui01/streamflow/llm"

// Metrics 路由级 OpenTelemetry 指标收集器
type Metrics struct {
	tracer trace.Tracer
	meter  metric.Meter

	// 计数器
	callTotal  metric.Int64Counter
	retryTotal metric.Int64Counter

	// 直方图
	callDuration metric.Float64Histogram
}

// NewMetrics 创建指标收集器，使用全局 TracerProvider/MeterProvider。
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	var err error

	// 模型调用计数
	m.callTotal, err = m.meter.Int64Counter("llm.router.call.total",
		metric.WithDescription("Total number of model invocations"),
		metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}

	// 同模型重试计数
	m.retryTotal, err = m.meter.Int64Counter("llm.router.retry.total",
		metric.WithDescription("Total number of same-model retries"),
		metric.WithUnit("{retry}"))
	if err != nil {
		return nil, err
	}

	// 调用延迟
	m.callDuration, err = m.meter.Float64Histogram("llm.router.call.duration",
		metric.WithDescription("Model call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// StartCall 为一次模型调用开启 span。
func (m *Metrics) StartCall(ctx context.Context, model string, attempt int) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "llm.router.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", model),
			attribute.Int("llm.attempt", attempt),
		))
}

// EndCall 结束 span，失败时记录错误状态。
func (m *Metrics) EndCall(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RecordCall 按结果记录一次模型调用及耗时。
func (m *Metrics) RecordCall(ctx context.Context, model, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("llm.model", model),
		attribute.String("llm.status", status),
	)
	m.callTotal.Add(ctx, 1, attrs)
	m.callDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("llm.model", model)))
}

// RecordRetry 记录一次同模型重试。
func (m *Metrics) RecordRetry(ctx context.Context, model string) {
	m.retryTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("llm.model", model)))
}
