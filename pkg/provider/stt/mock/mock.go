// Package mock provides a test double for the stt.Transcriber interface.
//
// Example:
//
//	tr := &mock.Transcriber{Text: "your account is suspended"}
//	text, _ := tr.Transcribe(ctx, stt.Audio{Name: "call.wav"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vishguard/pkg/provider/stt"
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by every successful call.
	Text string

	// ByName, when it has an entry for the audio name, overrides Text.
	ByName map[string]string

	// Err, if non-nil, is returned from Transcribe.
	Err error

	// Calls records the name of every transcribed file.
	Calls []string
}

// Transcribe records the call and returns the configured text or error.
func (t *Transcriber) Transcribe(ctx context.Context, audio stt.Audio) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, audio.Name)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t.Err != nil {
		return "", t.Err
	}
	if text, ok := t.ByName[audio.Name]; ok {
		return text, nil
	}
	return t.Text, nil
}

// CallCount returns the number of Transcribe calls so far.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}
