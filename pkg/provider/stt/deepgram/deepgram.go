// Package deepgram provides an STT transcriber backed by Deepgram's streaming
// WebSocket API.
//
// A recorded call is streamed to wss://api.deepgram.com/v1/listen in binary
// chunks, followed by a CloseStream control message. Deepgram detects the
// container format (WAV, MP3, M4A, FLAC) itself, so no encoding parameters
// are sent. The transcript is the concatenation of every final Results
// message received before the server closes the connection.
//
// Usage:
//
//	t, err := deepgram.New(apiKey, deepgram.WithModel("nova-3"))
//	text, err := t.Transcribe(ctx, audio)
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/MrWong99/vishguard/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkSize is the number of audio bytes sent per WebSocket message.
	chunkSize = 32 * 1024
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model (e.g., "nova-3", "nova-2", "base").
// Defaults to "nova-3".
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = model
	}
}

// WithLanguage sets the language tag (e.g., "en-US", "de"). Defaults to "en".
func WithLanguage(language string) Option {
	return func(t *Transcriber) {
		t.language = language
	}
}

// WithEndpoint overrides the WebSocket endpoint. Intended for tests and
// self-hosted deployments.
func WithEndpoint(endpoint string) Option {
	return func(t *Transcriber) {
		t.endpoint = endpoint
	}
}

// Transcriber implements stt.Transcriber using Deepgram. It is safe for
// concurrent use; each call opens its own connection.
type Transcriber struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe streams audio to Deepgram and returns the joined final
// transcripts.
func (t *Transcriber) Transcribe(ctx context.Context, audio stt.Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", errors.New("deepgram: empty audio")
	}
	wsURL, err := t.buildURL()
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- sendAudio(ctx, conn, audio.Data)
	}()

	var parts []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", fmt.Errorf("deepgram: %w", ctxErr)
			}
			return "", fmt.Errorf("deepgram: read: %w", err)
		}
		text, done, ok := parseDeepgramResponse(msg)
		if ok && text != "" {
			parts = append(parts, text)
		}
		if done {
			break
		}
	}
	if err := <-writeErr; err != nil {
		return "", err
	}
	conn.Close(websocket.StatusNormalClosure, "transcription complete")
	return strings.Join(parts, " "), nil
}

// sendAudio writes data in chunks and then asks the server to flush.
func sendAudio(ctx context.Context, conn *websocket.Conn, data []byte) error {
	for off := 0; off < len(data); off += chunkSize {
		end := min(off+chunkSize, len(data))
		if err := conn.Write(ctx, websocket.MessageBinary, data[off:end]); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", err)
	}
	return nil
}

// buildURL constructs the Deepgram WebSocket URL with query parameters.
func (t *Transcriber) buildURL() (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", t.language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the subset of a Deepgram streaming message that the
// transcriber reads.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse returns the final transcript carried by data, whether
// the message marks the end of the stream, and whether it carried a final
// transcript at all.
func parseDeepgramResponse(data []byte) (text string, done, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", false, false
	}
	switch resp.Type {
	case "Metadata":
		return "", true, false
	case "Results":
	default:
		return "", false, false
	}
	if !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
		return "", false, false
	}
	return strings.TrimSpace(resp.Channel.Alternatives[0].Transcript), false, true
}
