// Package tesseract provides an OCR extractor backed by a tesseract-server
// instance, which wraps the tesseract CLI behind POST /tesseract.
//
// The request is multipart form data with a "file" part holding the image
// and an "options" part holding JSON such as {"languages":["eng"]}. The
// response carries the recognised text in data.stdout.
//
// Usage:
//
//	x, err := tesseract.New("http://localhost:8884", tesseract.WithLanguages("eng", "deu"))
//	text, err := x.Extract(ctx, img)
package tesseract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/vishguard/pkg/provider/ocr"
)

const defaultTimeout = 60 * time.Second

// Compile-time assertion that Extractor implements ocr.Extractor.
var _ ocr.Extractor = (*Extractor)(nil)

// Option is a functional option for configuring an Extractor.
type Option func(*Extractor)

// WithLanguages sets the tesseract language packs to use. Defaults to "eng".
func WithLanguages(langs ...string) Option {
	return func(x *Extractor) {
		x.languages = langs
	}
}

// WithTimeout sets the HTTP timeout of one request.
func WithTimeout(d time.Duration) Option {
	return func(x *Extractor) {
		x.httpClient.Timeout = d
	}
}

// Extractor implements ocr.Extractor against a tesseract-server.
type Extractor struct {
	serverURL  string
	languages  []string
	httpClient *http.Client
}

// New creates an Extractor for the server at serverURL.
func New(serverURL string, opts ...Option) (*Extractor, error) {
	if serverURL == "" {
		return nil, errors.New("tesseract: serverURL must not be empty")
	}
	x := &Extractor{
		serverURL:  strings.TrimRight(serverURL, "/"),
		languages:  []string{"eng"},
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(x)
	}
	return x, nil
}

// Extract uploads img and returns the trimmed recognised text.
func (x *Extractor) Extract(ctx context.Context, img ocr.Image) (string, error) {
	if len(img.Data) == 0 {
		return "", errors.New("tesseract: empty image")
	}
	opts, err := json.Marshal(map[string]any{"languages": x.languages})
	if err != nil {
		return "", fmt.Errorf("tesseract: encode options: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("options", string(opts)); err != nil {
		return "", fmt.Errorf("tesseract: write options field: %w", err)
	}
	name := img.Name
	if name == "" {
		name = "image.png"
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("tesseract: create form file: %w", err)
	}
	if _, err := fw.Write(img.Data); err != nil {
		return "", fmt.Errorf("tesseract: write image data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("tesseract: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.serverURL+"/tesseract", &body)
	if err != nil {
		return "", fmt.Errorf("tesseract: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tesseract: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("tesseract: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tesseract: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result struct {
		Data struct {
			Stdout string `json:"stdout"`
			Stderr string `json:"stderr"`
			Exit   struct {
				Code int `json:"code"`
			} `json:"exit"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("tesseract: parse JSON response: %w", err)
	}
	if result.Data.Exit.Code != 0 {
		return "", fmt.Errorf("tesseract: exit code %d: %s", result.Data.Exit.Code, strings.TrimSpace(result.Data.Stderr))
	}
	return strings.TrimSpace(result.Data.Stdout), nil
}
