// Building this file needs libwhisper.a and whisper.h on LIBRARY_PATH and
// C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/vishguard/pkg/provider/stt"
)

var _ stt.Transcriber = (*NativeTranscriber)(nil)

// NativeTranscriber runs whisper.cpp in-process. It only understands 16-bit
// PCM WAV; anything else fails with [stt.ErrUnsupportedFormat] so that a
// fallback HTTP transcriber can take the call.
type NativeTranscriber struct {
	model    whisperlib.Model
	language string
}

// NativeOption configures a [NativeTranscriber].
type NativeOption func(*NativeTranscriber)

// WithNativeLanguage sets the spoken language hint. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(t *NativeTranscriber) { t.language = lang }
}

// NewNative loads the ggml model at modelPath. Call Close to free it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeTranscriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	t := &NativeTranscriber{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close releases the model.
func (t *NativeTranscriber) Close() error {
	if t.model == nil {
		return nil
	}
	return t.model.Close()
}

// Transcribe implements [stt.Transcriber].
func (t *NativeTranscriber) Transcribe(ctx context.Context, audio stt.Audio) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	info, err := decodeWAV(audio.Data)
	if err != nil {
		return "", fmt.Errorf("whisper: %s: %w", audio.Name, err)
	}
	samples := resampleLinear(pcmToFloat32Mono(info.pcm, info.channels), info.sampleRate, defaultSampleRate)

	// The model is shared; a context per call keeps Transcribe concurrent-safe.
	wctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: new context: %w", err)
	}
	if err := wctx.SetLanguage(t.language); err != nil {
		slog.Warn("whisper: language rejected, keeping model default", "language", t.language, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process %s: %w", audio.Name, err)
	}
	return joinSegments(wctx)
}

func joinSegments(wctx whisperlib.Context) (string, error) {
	var b strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("whisper: next segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
}
