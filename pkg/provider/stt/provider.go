// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber turns one recorded call (an audio file uploaded to the API,
// picked from a folder, or passed to the CLI) into plain text that the
// classifier can score. Backends include a whisper.cpp server, the
// whisper.cpp CGO bindings, Deepgram's streaming API and OpenAI's hosted
// transcription models.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrUnsupportedFormat is returned by backends that cannot decode the given
// audio container or encoding.
var ErrUnsupportedFormat = errors.New("stt: unsupported audio format")

// Extensions lists the audio file extensions accepted for analysis.
var Extensions = []string{".wav", ".mp3", ".m4a", ".flac"}

// Audio is a complete recorded audio file.
type Audio struct {
	// Name is the original file name including its extension. Backends use it
	// to pick a container decoder and as the multipart file name.
	Name string

	// ContentType is the MIME type of Data. When empty it is derived from the
	// extension of Name.
	ContentType string

	// Data holds the encoded file bytes.
	Data []byte
}

// MIMEType returns ContentType, falling back to the type of the extension of
// Name and finally to application/octet-stream.
func (a Audio) MIMEType() string {
	if a.ContentType != "" {
		return a.ContentType
	}
	ext := strings.ToLower(filepath.Ext(a.Name))
	switch ext {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".flac":
		return "audio/flac"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Transcriber is the abstraction over any STT backend.
type Transcriber interface {
	// Transcribe returns the full transcript of audio. An empty transcript
	// with a nil error means the backend heard no speech.
	Transcribe(ctx context.Context, audio Audio) (string, error)
}

// IsAudioFile reports whether name carries one of the accepted audio
// extensions (case-insensitive).
func IsAudioFile(name string) bool {
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(name)))
}

// ReadFile loads the audio file at path.
func ReadFile(path string) (Audio, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Audio{}, fmt.Errorf("stt: read audio: %w", err)
	}
	return Audio{Name: filepath.Base(path), Data: data}, nil
}
