package resilience

import (
	"context"

	"github.com/MrWong99/vishguard/pkg/classifier"
	"github.com/MrWong99/vishguard/pkg/provider/llm"
	"github.com/MrWong99/vishguard/pkg/provider/ocr"
	"github.com/MrWong99/vishguard/pkg/provider/stt"
)

// TranscriberFallback implements [stt.Transcriber] with failover across
// several speech-to-text backends.
type TranscriberFallback struct {
	*FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Transcribe implements [stt.Transcriber].
func (f *TranscriberFallback) Transcribe(ctx context.Context, audio stt.Audio) (string, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, audio)
	})
}

// ExtractorFallback implements [ocr.Extractor] with failover across several
// OCR backends.
type ExtractorFallback struct {
	*FallbackGroup[ocr.Extractor]
}

var _ ocr.Extractor = (*ExtractorFallback)(nil)

// NewExtractorFallback creates an [ExtractorFallback].
func NewExtractorFallback(primary ocr.Extractor, primaryName string, cfg FallbackConfig) *ExtractorFallback {
	return &ExtractorFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Extract implements [ocr.Extractor].
func (f *ExtractorFallback) Extract(ctx context.Context, img ocr.Image) (string, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(x ocr.Extractor) (string, error) {
		return x.Extract(ctx, img)
	})
}

// PredictorFallback implements [classifier.Predictor] with failover, typically
// from the local detector to a hosted model.
type PredictorFallback struct {
	*FallbackGroup[classifier.Predictor]
}

var _ classifier.Predictor = (*PredictorFallback)(nil)

// NewPredictorFallback creates a [PredictorFallback].
func NewPredictorFallback(primary classifier.Predictor, primaryName string, cfg FallbackConfig) *PredictorFallback {
	return &PredictorFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Predict implements [classifier.Predictor].
func (f *PredictorFallback) Predict(ctx context.Context, text string) (classifier.Prediction, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(p classifier.Predictor) (classifier.Prediction, error) {
		return p.Predict(ctx, text)
	})
}

// LLMFallback implements [llm.Provider] with failover across several LLM
// backends.
type LLMFallback struct {
	*FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback].
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Complete implements [llm.Provider].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}
