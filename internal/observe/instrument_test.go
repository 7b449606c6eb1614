package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/vishguard/pkg/classifier"
	classifiermock "github.com/MrWong99/vishguard/pkg/classifier/mock"
	"github.com/MrWong99/vishguard/pkg/provider/llm"
	llmmock "github.com/MrWong99/vishguard/pkg/provider/llm/mock"
	"github.com/MrWong99/vishguard/pkg/provider/ocr"
	ocrmock "github.com/MrWong99/vishguard/pkg/provider/ocr/mock"
	"github.com/MrWong99/vishguard/pkg/provider/stt"
	sttmock "github.com/MrWong99/vishguard/pkg/provider/stt/mock"
)

func TestInstrumentPredictor(t *testing.T) {
	exp := useTestTracer(t)
	m, reader := newTestMetrics(t)
	inner := &classifiermock.Predictor{Result: classifier.Prediction{Label: "scam", Confidence: 97.4}}
	p := InstrumentPredictor(inner, "local", m)

	got, err := p.Predict(context.Background(), "verify your account")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if got.Label != "scam" || got.Text != "verify your account" {
		t.Errorf("prediction = %+v", got)
	}

	rm := collect(t, reader)
	if n := sumWhere(t, rm, "vishguard.predictions", "label", "scam"); n != 1 {
		t.Errorf("scam predictions = %d, want 1", n)
	}
	if n := histCount(t, rm, "vishguard.predict.duration"); n != 1 {
		t.Errorf("predict duration samples = %d, want 1", n)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "classifier.local" {
		t.Fatalf("spans = %v", spans)
	}
}

func TestInstrumentPredictor_Error(t *testing.T) {
	exp := useTestTracer(t)
	m, reader := newTestMetrics(t)
	p := InstrumentPredictor(&classifiermock.Predictor{Err: errors.New("boom")}, "remote", m)

	if _, err := p.Predict(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
	rm := collect(t, reader)
	if n := sumWhere(t, rm, "vishguard.provider.errors", "provider", "remote"); n != 1 {
		t.Errorf("provider errors = %d, want 1", n)
	}
	if met := findMetric(rm, "vishguard.predictions"); met != nil {
		t.Error("failed prediction was counted as a verdict")
	}
	if spans := exp.GetSpans(); len(spans) != 1 || spans[0].Status.Code != codes.Error {
		t.Errorf("span status not set to error")
	}
}

func TestInstrumentCollaborators(t *testing.T) {
	useTestTracer(t)
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	tr := InstrumentTranscriber(&sttmock.Transcriber{Text: "hello"}, "whisper", m)
	if text, err := tr.Transcribe(ctx, stt.Audio{Name: "a.wav", Data: []byte{1}}); err != nil || text != "hello" {
		t.Errorf("Transcribe = %q, %v", text, err)
	}

	x := InstrumentExtractor(&ocrmock.Extractor{Text: "click here"}, "tesseract", m)
	if text, err := x.Extract(ctx, ocr.Image{Name: "a.png", Data: []byte{1}}); err != nil || text != "click here" {
		t.Errorf("Extract = %q, %v", text, err)
	}

	l := InstrumentLLM(&llmmock.Provider{Reply: "scam"}, "openai", m)
	if resp, err := l.Complete(ctx, llm.CompletionRequest{}); err != nil || resp.Content != "scam" {
		t.Errorf("Complete = %v, %v", resp, err)
	}

	rm := collect(t, reader)
	for _, name := range []string{"vishguard.stt.duration", "vishguard.ocr.duration", "vishguard.llm.duration"} {
		if n := histCount(t, rm, name); n != 1 {
			t.Errorf("%s samples = %d, want 1", name, n)
		}
	}
	for _, kind := range []string{KindSTT, KindOCR, KindLLM} {
		if n := sumWhere(t, rm, "vishguard.provider.requests", "kind", kind); n != 1 {
			t.Errorf("%s requests = %d, want 1", kind, n)
		}
	}
}
