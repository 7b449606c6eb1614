// Package ocr defines the Extractor interface for optical character
// recognition backends. OCR lets screenshots of scam messages (SMS, chat,
// e-mail) go through the same classifier as transcribed calls.
package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Extensions lists the image file extensions accepted for analysis.
var Extensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".gif", ".tif", ".tiff", ".webp"}

// Image is a complete encoded image file.
type Image struct {
	// Name is the original file name including its extension.
	Name string

	// ContentType is the MIME type of Data, if known.
	ContentType string

	// Data holds the encoded image bytes.
	Data []byte
}

// Extractor is the abstraction over any OCR backend.
//
// Implementations must be safe for concurrent use.
type Extractor interface {
	// Extract returns the text recognised in img. An empty string with a nil
	// error means no text was found.
	Extract(ctx context.Context, img Image) (string, error)
}

// IsImageFile reports whether name carries one of the accepted image
// extensions (case-insensitive).
func IsImageFile(name string) bool {
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(name)))
}

// ReadFile loads the image file at path.
func ReadFile(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("ocr: read image: %w", err)
	}
	return Image{Name: filepath.Base(path), Data: data}, nil
}
