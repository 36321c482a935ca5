package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce         sync.Once
	metricsInitErr      error
	renderCounter       metric.Int64Counter
	renderLatency       metric.Float64Histogram
	renderOutputBytes   metric.Int64Histogram
	renderImagesCounter metric.Int64Counter
)

// RenderMetrics captures the fields needed to record a template render.
type RenderMetrics struct {
	Template string
	Outcome  string
	Duration time.Duration
	Bytes    int
	Images   int
}

// RecordRenderMetrics emits counters and histograms describing one render.
func RecordRenderMetrics(ctx context.Context, m RenderMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("template.name", m.Template),
		attribute.String("render.outcome", m.Outcome),
	)

	renderCounter.Add(ctx, 1, attrs)
	if m.Duration > 0 {
		renderLatency.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}
	if m.Bytes > 0 {
		renderOutputBytes.Record(ctx, int64(m.Bytes), attrs)
	}
	if m.Images > 0 {
		renderImagesCounter.Add(ctx, int64(m.Images), attrs)
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(InstrumentationName)

		renderCounter, metricsInitErr = meter.Int64Counter(
			"ogis.render.total",
			metric.WithDescription("Template renders partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		renderLatency, metricsInitErr = meter.Float64Histogram(
			"ogis.render.duration_ms",
			metric.WithDescription("Observed template render latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		renderOutputBytes, metricsInitErr = meter.Int64Histogram(
			"ogis.render.output_bytes",
			metric.WithDescription("Size of rendered markup"),
			metric.WithUnit("By"),
		)
		if metricsInitErr != nil {
			return
		}

		renderImagesCounter, metricsInitErr = meter.Int64Counter(
			"ogis.render.images_embedded_total",
			metric.WithDescription("Images embedded into rendered markup"),
			metric.WithUnit("{count}"),
		)
	})

	return metricsInitErr
}

// RecordSecurityEvent attaches a coarse-grained security event to the provided
// span. Only the host is recorded, never the full URL.
func RecordSecurityEvent(span trace.Span, blocked bool, reason, host string) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("security.blocked", blocked),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String("security.block_reason", reason))
	}
	if host != "" {
		attrs = append(attrs, attribute.String("server.address", host))
	}

	span.AddEvent("security.event", trace.WithAttributes(attrs...))
}
