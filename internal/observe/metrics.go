// Package observe provides the observability primitives of vishguard:
// OpenTelemetry metrics, tracing, trace-aware logging, HTTP middleware, and
// instrumented wrappers for the classifier and its external collaborators.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus scraping by [InitProvider]. Tests should use [NewMetrics] with a
// private [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vishguard metrics.
const meterName = "github.com/MrWong99/vishguard"

// Provider kinds used as the "kind" attribute.
const (
	KindClassifier = "classifier"
	KindSTT        = "stt"
	KindOCR        = "ocr"
	KindLLM        = "llm"
)

// Metrics holds all OpenTelemetry instruments of the application. The
// underlying OTel types handle their own synchronisation.
type Metrics struct {
	// PredictDuration tracks classifier latency. Attributes: predictor.
	PredictDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text latency. Attributes: provider.
	STTDuration metric.Float64Histogram

	// OCRDuration tracks text extraction latency. Attributes: provider.
	OCRDuration metric.Float64Histogram

	// LLMDuration tracks summary generation latency. Attributes: provider.
	LLMDuration metric.Float64Histogram

	// Predictions counts verdicts. Attributes: label, scam.
	Predictions metric.Int64Counter

	// ProviderRequests counts collaborator calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts collaborator failures. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Attributes: tool, status.
	ToolCalls metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// breaker, to.
	BreakerTransitions metric.Int64Counter

	// ActiveStreams tracks open live-call WebSocket feeds.
	ActiveStreams metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request time. Attributes: method, route.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Local inference lands
// in the low buckets, transcription of long calls in the high ones.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.PredictDuration, "vishguard.predict.duration", "Latency of text classification."},
		{&met.STTDuration, "vishguard.stt.duration", "Latency of speech-to-text transcription."},
		{&met.OCRDuration, "vishguard.ocr.duration", "Latency of image text extraction."},
		{&met.LLMDuration, "vishguard.llm.duration", "Latency of LLM call summaries."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	if met.Predictions, err = m.Int64Counter("vishguard.predictions",
		metric.WithDescription("Total predictions by label."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("vishguard.provider.requests",
		metric.WithDescription("Total provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("vishguard.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("vishguard.tool.calls",
		metric.WithDescription("Total MCP tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("vishguard.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("vishguard.active_streams",
		metric.WithDescription("Number of open live-call feeds."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("vishguard.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Call it after [InitProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordPrediction counts one verdict.
func (m *Metrics) RecordPrediction(ctx context.Context, label string, scam bool) {
	m.Predictions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("label", label),
			attribute.Bool("scam", scam),
		),
	)
}

// RecordProviderRequest counts one collaborator call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts one collaborator failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordToolCall counts one MCP tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}
