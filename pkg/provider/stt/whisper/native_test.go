package whisper_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/MrWong99/vishguard/pkg/provider/stt"
	"github.com/MrWong99/vishguard/pkg/provider/stt/whisper"
)

// nativeModel loads the model named by WHISPER_MODEL_PATH or skips.
func nativeModel(t *testing.T) *whisper.NativeTranscriber {
	t.Helper()
	path := os.Getenv("WHISPER_MODEL_PATH")
	if path == "" {
		t.Skip("WHISPER_MODEL_PATH not set")
	}
	tr, err := whisper.NewNative(path, whisper.WithNativeLanguage("en"))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestNewNative_BadPath(t *testing.T) {
	for _, path := range []string{"", "/nonexistent/ggml-base.en.bin"} {
		if _, err := whisper.NewNative(path); err == nil {
			t.Errorf("NewNative(%q) succeeded", path)
		}
	}
}

func TestNativeTranscribe(t *testing.T) {
	tr := nativeModel(t)
	ctx := context.Background()

	if _, err := tr.Transcribe(ctx, stt.Audio{Name: "call.mp3", Data: []byte("ID3")}); !errors.Is(err, stt.ErrUnsupportedFormat) {
		t.Errorf("mp3: err = %v, want ErrUnsupportedFormat", err)
	}

	// One second of 16 kHz mono silence.
	wav := make([]byte, 44+32000)
	copy(wav, "RIFF\x00\x00\x00\x00WAVEfmt \x10\x00\x00\x00\x01\x00\x01\x00\x80\x3e\x00\x00\x00\x7d\x00\x00\x02\x00\x10\x00data\x00\x7d\x00\x00")
	if _, err := tr.Transcribe(ctx, stt.Audio{Name: "silence.wav", Data: wav}); err != nil {
		t.Errorf("silence: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := tr.Transcribe(cancelled, stt.Audio{Name: "silence.wav", Data: wav}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: err = %v", err)
	}
}
