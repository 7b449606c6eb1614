package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/vishguard/pkg/classifier"
	"github.com/MrWong99/vishguard/pkg/provider/llm"
	"github.com/MrWong99/vishguard/pkg/provider/ocr"
	"github.com/MrWong99/vishguard/pkg/provider/stt"
)

// observeCall runs fn inside a span, records its latency on h and counts the
// provider request and any error.
func observeCall(ctx context.Context, m *Metrics, h metric.Float64Histogram, kind, name string, fn func(context.Context) error) error {
	ctx, span := StartSpan(ctx, kind+"."+name,
		trace.WithAttributes(
			attribute.String("provider", name),
			attribute.String("kind", kind),
		),
	)
	start := time.Now()
	err := fn(ctx)
	h.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", name)),
	)
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, name, kind)
		Logger(ctx).Warn("provider call failed", "provider", name, "kind", kind, "err", err)
	}
	m.RecordProviderRequest(ctx, name, kind, status)
	EndSpan(span, err)
	return err
}

type predictor struct {
	next classifier.Predictor
	name string
	m    *Metrics
}

// InstrumentPredictor wraps p so every prediction is traced, timed and
// counted by label.
func InstrumentPredictor(p classifier.Predictor, name string, m *Metrics) classifier.Predictor {
	return &predictor{next: p, name: name, m: m}
}

func (p *predictor) Predict(ctx context.Context, text string) (classifier.Prediction, error) {
	var out classifier.Prediction
	err := observeCall(ctx, p.m, p.m.PredictDuration, KindClassifier, p.name, func(ctx context.Context) error {
		var err error
		out, err = p.next.Predict(ctx, text)
		if err == nil {
			trace.SpanFromContext(ctx).SetAttributes(
				attribute.String("prediction.label", out.Label),
				attribute.Float64("prediction.confidence", out.Confidence),
			)
		}
		return err
	})
	if err == nil {
		p.m.RecordPrediction(ctx, out.Label, out.Scam())
	}
	return out, err
}

type transcriber struct {
	next stt.Transcriber
	name string
	m    *Metrics
}

// InstrumentTranscriber wraps t with tracing and latency metrics.
func InstrumentTranscriber(t stt.Transcriber, name string, m *Metrics) stt.Transcriber {
	return &transcriber{next: t, name: name, m: m}
}

func (t *transcriber) Transcribe(ctx context.Context, audio stt.Audio) (string, error) {
	var text string
	err := observeCall(ctx, t.m, t.m.STTDuration, KindSTT, t.name, func(ctx context.Context) error {
		var err error
		text, err = t.next.Transcribe(ctx, audio)
		return err
	})
	return text, err
}

type extractor struct {
	next ocr.Extractor
	name string
	m    *Metrics
}

// InstrumentExtractor wraps x with tracing and latency metrics.
func InstrumentExtractor(x ocr.Extractor, name string, m *Metrics) ocr.Extractor {
	return &extractor{next: x, name: name, m: m}
}

func (x *extractor) Extract(ctx context.Context, img ocr.Image) (string, error) {
	var text string
	err := observeCall(ctx, x.m, x.m.OCRDuration, KindOCR, x.name, func(ctx context.Context) error {
		var err error
		text, err = x.next.Extract(ctx, img)
		return err
	})
	return text, err
}

type llmProvider struct {
	next llm.Provider
	name string
	m    *Metrics
}

// InstrumentLLM wraps p with tracing and latency metrics.
func InstrumentLLM(p llm.Provider, name string, m *Metrics) llm.Provider {
	return &llmProvider{next: p, name: name, m: m}
}

func (p *llmProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := observeCall(ctx, p.m, p.m.LLMDuration, KindLLM, p.name, func(ctx context.Context) error {
		var err error
		resp, err = p.next.Complete(ctx, req)
		return err
	})
	return resp, err
}
