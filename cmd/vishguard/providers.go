package main

import (
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/vishguard/internal/app"
	"github.com/MrWong99/vishguard/internal/config"
	"github.com/MrWong99/vishguard/internal/observe"
	"github.com/MrWong99/vishguard/internal/resilience"
	"github.com/MrWong99/vishguard/pkg/classifier"
	"github.com/MrWong99/vishguard/pkg/classifier/remote"
	"github.com/MrWong99/vishguard/pkg/provider/llm"
	"github.com/MrWong99/vishguard/pkg/provider/llm/anyllm"
	"github.com/MrWong99/vishguard/pkg/provider/ocr"
	"github.com/MrWong99/vishguard/pkg/provider/ocr/tesseract"
	"github.com/MrWong99/vishguard/pkg/provider/stt"
	"github.com/MrWong99/vishguard/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/vishguard/pkg/provider/stt/openai"
	"github.com/MrWong99/vishguard/pkg/provider/stt/whisper"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = config.OptString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oaistt.Option
		if entry.Model != "" {
			opts = append(opts, oaistt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		return oaistt.New(entry.APIKey, opts...)
	})

	// ── OCR ───────────────────────────────────────────────────────────────────

	reg.RegisterOCR("tesseract", func(entry config.ProviderEntry) (ocr.Extractor, error) {
		var opts []tesseract.Option
		if langs := config.OptStrings(entry.Options, "languages"); len(langs) > 0 {
			opts = append(opts, tesseract.WithLanguages(langs...))
		}
		return tesseract.New(entry.BaseURL, opts...)
	})

	// ── Remote classifier ─────────────────────────────────────────────────────

	reg.RegisterClassifier("gradio", func(entry config.ProviderEntry) (classifier.Predictor, error) {
		var opts []remote.Option
		if name := config.OptString(entry.Options, "api_name"); name != "" {
			opts = append(opts, remote.WithAPIName(name))
		}
		if entry.APIKey != "" {
			opts = append(opts, remote.WithToken(entry.APIKey))
		}
		return remote.New(entry.BaseURL, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// Hosted backends share the same pattern: optional APIKey + optional
	// BaseURL. ollama is a local server and takes the BaseURL only.
	for _, providerName := range anyllm.Backends() {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" && providerName != "ollama" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. Entries with fallbacks are wrapped in a circuit-breaking failover
// group whose transitions are counted on m.
func buildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}
	bc := app.BreakerConfig(cfg.Resilience, m)

	primary, fbs, err := createChain("stt", cfg.Providers.STT, reg.CreateSTT)
	if err != nil {
		return nil, err
	}
	ps.STT = primary
	if len(fbs) > 0 {
		g := resilience.NewTranscriberFallback(primary, cfg.Providers.STT.Name, bc)
		for _, f := range fbs {
			g.AddFallback(f.name, f.value)
		}
		ps.STT = g
	}

	ext, extFbs, err := createChain("ocr", cfg.Providers.OCR, reg.CreateOCR)
	if err != nil {
		return nil, err
	}
	ps.OCR = ext
	if len(extFbs) > 0 {
		g := resilience.NewExtractorFallback(ext, cfg.Providers.OCR.Name, bc)
		for _, f := range extFbs {
			g.AddFallback(f.name, f.value)
		}
		ps.OCR = g
	}

	pred, predFbs, err := createChain("classifier", cfg.Providers.Classifier, reg.CreateClassifier)
	if err != nil {
		return nil, err
	}
	ps.Classifier = pred
	if len(predFbs) > 0 {
		g := resilience.NewPredictorFallback(pred, cfg.Providers.Classifier.Name, bc)
		for _, f := range predFbs {
			g.AddFallback(f.name, f.value)
		}
		ps.Classifier = g
	}

	lp, lpFbs, err := createChain("llm", cfg.Providers.LLM, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	ps.LLM = lp
	if len(lpFbs) > 0 {
		g := resilience.NewLLMFallback(lp, cfg.Providers.LLM.Name, bc)
		for _, f := range lpFbs {
			g.AddFallback(f.name, f.value)
		}
		ps.LLM = g
	}

	return ps, nil
}

type named[T any] struct {
	name  string
	value T
}

// createChain builds the primary provider of entry and its fallbacks. An
// unset entry yields the zero value. Unregistered fallback names are skipped
// with a warning; an unregistered primary is an error.
func createChain[T any](kind string, entry config.ProviderEntry, create func(config.ProviderEntry) (T, error)) (T, []named[T], error) {
	var zero T
	if entry.Name == "" {
		return zero, nil, nil
	}
	primary, err := create(entry)
	if err != nil {
		return zero, nil, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)

	var fbs []named[T]
	for _, fe := range entry.Fallbacks {
		v, err := create(fe)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("fallback provider not registered, skipping", "kind", kind, "name", fe.Name)
			continue
		}
		if err != nil {
			return zero, nil, fmt.Errorf("create %s fallback %q: %w", kind, fe.Name, err)
		}
		slog.Info("fallback provider created", "kind", kind, "name", fe.Name, "primary", entry.Name)
		fbs = append(fbs, named[T]{fe.Name, v})
	}
	return primary, fbs, nil
}
