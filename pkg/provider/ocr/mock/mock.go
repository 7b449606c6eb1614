// Package mock provides a test double for the ocr.Extractor interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vishguard/pkg/provider/ocr"
)

// Compile-time assertion that Extractor implements ocr.Extractor.
var _ ocr.Extractor = (*Extractor)(nil)

// Extractor is a mock implementation of ocr.Extractor.
type Extractor struct {
	mu sync.Mutex

	// Text is returned by every successful call.
	Text string

	// Err, if non-nil, is returned from Extract.
	Err error

	// Calls records the name of every processed image.
	Calls []string
}

// Extract records the call and returns Text, Err.
func (e *Extractor) Extract(ctx context.Context, img ocr.Image) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = append(e.Calls, img.Name)
	if e.Err != nil {
		return "", e.Err
	}
	return e.Text, nil
}
