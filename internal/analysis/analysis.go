// Package analysis turns uploaded recordings, screenshots, and raw text into
// recorded call verdicts.
//
// A [Pipeline] routes each input to the matching collaborator
// (speech-to-text for audio, OCR for images), scores the text with a
// [classifier.Predictor], and appends the result to the call history.
// It backs the HTTP API, the MCP tools and the scan command alike.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vishguard/internal/history"
	"github.com/MrWong99/vishguard/pkg/classifier"
	"github.com/MrWong99/vishguard/pkg/provider/ocr"
	"github.com/MrWong99/vishguard/pkg/provider/stt"
)

var (
	// ErrUnsupportedFile is returned for uploads that are neither audio, an
	// image nor plain text.
	ErrUnsupportedFile = errors.New("analysis: unsupported file type")

	// ErrNoTranscriber is returned for audio when no speech-to-text provider
	// is configured.
	ErrNoTranscriber = errors.New("analysis: no speech-to-text provider configured")

	// ErrNoExtractor is returned for images when no OCR provider is
	// configured.
	ErrNoExtractor = errors.New("analysis: no OCR provider configured")

	// ErrInvalidDirectory is returned by [Pipeline.AnalyzeFolder] when the
	// path is not a readable directory.
	ErrInvalidDirectory = errors.New("analysis: invalid directory path")

	// ErrDirectoryNotAllowed is returned when the directory lies outside the
	// configured roots.
	ErrDirectoryNotAllowed = errors.New("analysis: directory not allowed")
)

const defaultConcurrency = 4

// Upload is one file handed in for analysis.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithTranscriber enables audio analysis.
func WithTranscriber(t stt.Transcriber) Option {
	return func(p *Pipeline) { p.transcriber = t }
}

// WithExtractor enables screenshot analysis.
func WithExtractor(x ocr.Extractor) Option {
	return func(p *Pipeline) { p.extractor = x }
}

// WithStore records every verdict in s. Without a store results are
// returned but not kept.
func WithStore(s history.Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithConcurrency bounds parallel transcriptions in [Pipeline.AnalyzeFolder].
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithAllowedRoots restricts folder analysis to directories below roots.
func WithAllowedRoots(roots ...string) Option {
	return func(p *Pipeline) { p.roots = roots }
}

// WithClock overrides time.Now for call timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline analyses calls. It is safe for concurrent use.
type Pipeline struct {
	predictor   classifier.Predictor
	transcriber stt.Transcriber
	extractor   ocr.Extractor
	store       history.Store
	concurrency int
	roots       []string
	now         func() time.Time
}

// New creates a Pipeline scoring texts with predictor.
func New(predictor classifier.Predictor, opts ...Option) (*Pipeline, error) {
	if predictor == nil {
		return nil, errors.New("analysis: predictor must not be nil")
	}
	p := &Pipeline{
		predictor:   predictor,
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// CanTranscribe reports whether audio uploads are accepted.
func (p *Pipeline) CanTranscribe() bool { return p.transcriber != nil }

// CanExtract reports whether image uploads are accepted.
func (p *Pipeline) CanExtract() bool { return p.extractor != nil }

// Extract returns the text carried by u and the kind of input it was.
func (p *Pipeline) Extract(ctx context.Context, u Upload) (string, history.Source, error) {
	switch kindOf(u) {
	case history.SourceAudio:
		if p.transcriber == nil {
			return "", "", ErrNoTranscriber
		}
		text, err := p.transcriber.Transcribe(ctx, stt.Audio{Name: u.Name, ContentType: u.ContentType, Data: u.Data})
		if err != nil {
			return "", "", fmt.Errorf("analysis: transcribe %q: %w", u.Name, err)
		}
		return strings.TrimSpace(text), history.SourceAudio, nil
	case history.SourceImage:
		if p.extractor == nil {
			return "", "", ErrNoExtractor
		}
		text, err := p.extractor.Extract(ctx, ocr.Image{Name: u.Name, ContentType: u.ContentType, Data: u.Data})
		if err != nil {
			return "", "", fmt.Errorf("analysis: extract text from %q: %w", u.Name, err)
		}
		return strings.TrimSpace(text), history.SourceImage, nil
	case history.SourceText:
		return string(u.Data), history.SourceText, nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnsupportedFile, u.Name)
}

// kindOf classifies an upload by extension, then by content type.
func kindOf(u Upload) history.Source {
	switch {
	case stt.IsAudioFile(u.Name):
		return history.SourceAudio
	case ocr.IsImageFile(u.Name):
		return history.SourceImage
	case strings.EqualFold(filepath.Ext(u.Name), ".txt"):
		return history.SourceText
	}
	ct := strings.ToLower(u.ContentType)
	switch {
	case strings.HasPrefix(ct, "audio/"):
		return history.SourceAudio
	case strings.HasPrefix(ct, "image/"):
		return history.SourceImage
	case strings.HasPrefix(ct, "text/plain"):
		return history.SourceText
	}
	return ""
}

// AnalyzeUpload extracts the text of u, scores it, and records the call.
func (p *Pipeline) AnalyzeUpload(ctx context.Context, u Upload) (history.Call, error) {
	text, source, err := p.Extract(ctx, u)
	if err != nil {
		return history.Call{}, err
	}
	return p.AnalyzeText(ctx, u.Name, source, text)
}

// AnalyzeText scores text and records the call under filename.
func (p *Pipeline) AnalyzeText(ctx context.Context, filename string, source history.Source, text string) (history.Call, error) {
	pred, err := p.Classify(ctx, text)
	if err != nil {
		return history.Call{}, err
	}
	return p.Record(ctx, filename, source, pred)
}

// Classify scores text without recording it.
func (p *Pipeline) Classify(ctx context.Context, text string) (classifier.Prediction, error) {
	pred, err := p.predictor.Predict(ctx, text)
	if err != nil {
		return classifier.Prediction{}, fmt.Errorf("analysis: classify: %w", err)
	}
	return pred, nil
}

// Record stores pred as a new call.
func (p *Pipeline) Record(ctx context.Context, filename string, source history.Source, pred classifier.Prediction) (history.Call, error) {
	call := history.NewCall(filename, source, pred, p.now())
	if p.store != nil {
		if err := p.store.Add(ctx, call); err != nil {
			return history.Call{}, fmt.Errorf("analysis: record call: %w", err)
		}
	}
	slog.Info("call analysed",
		"call_id", call.ID,
		"filename", filename,
		"source", source,
		"status", call.Status,
		"risk", call.Risk,
	)
	return call, nil
}

// AnalyzeFolder transcribes and scores every audio file directly inside
// dir, in name order. Files that fail are logged and skipped; only an
// invalid directory or cancellation of ctx fails the whole run.
func (p *Pipeline) AnalyzeFolder(ctx context.Context, dir string) ([]history.Call, error) {
	if dir == "" {
		return nil, ErrInvalidDirectory
	}
	dir, err := p.checkRoot(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDirectory, err)
	}
	if p.transcriber == nil {
		return nil, ErrNoTranscriber
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && stt.IsAudioFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	results := make([]*history.Call, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			call, err := p.analyzeFile(gctx, filepath.Join(dir, name))
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Warn("failed to process file", "dir", dir, "file", name, "err", err)
				return nil
			}
			results[i] = &call
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]history.Call, 0, len(names))
	for _, c := range results {
		if c != nil {
			out = append(out, *c)
		}
	}
	slog.Info("folder analysed", "dir", dir, "files", len(names), "processed", len(out))
	return out, nil
}

func (p *Pipeline) analyzeFile(ctx context.Context, path string) (history.Call, error) {
	audio, err := stt.ReadFile(path)
	if err != nil {
		return history.Call{}, err
	}
	return p.AnalyzeUpload(ctx, Upload{Name: audio.Name, Data: audio.Data})
}

// checkRoot enforces that dir is a directory inside one of the allowed
// roots and returns it with symlinks resolved. Both sides are resolved
// before comparing, so a link inside a root cannot point out of it.
func (p *Pipeline) checkRoot(dir string) (string, error) {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidDirectory, err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidDirectory, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", ErrInvalidDirectory
	}
	if len(p.roots) == 0 {
		return abs, nil
	}
	for _, root := range p.roots {
		rootAbs, err := resolveRoot(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrDirectoryNotAllowed, dir)
}

func resolveRoot(root string) (string, error) {
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", err
	}
	return filepath.Abs(resolved)
}
