package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"whisper", "whisper-native", "deepgram", "openai"},
	"ocr":        {"tesseract"},
	"classifier": {"gradio"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be between 0 and 1", r))
	}
	if slices.Contains(cfg.Server.AllowedOrigins, "*") && len(cfg.Server.AllowedOrigins) > 1 {
		slog.Warn(`server.allowed_origins contains "*"; the other entries are redundant`)
	}

	// Providers
	errs = append(errs, validateEntry("stt", "providers.stt", cfg.Providers.STT)...)
	errs = append(errs, validateEntry("ocr", "providers.ocr", cfg.Providers.OCR)...)
	errs = append(errs, validateEntry("classifier", "providers.classifier", cfg.Providers.Classifier)...)
	errs = append(errs, validateEntry("llm", "providers.llm", cfg.Providers.LLM)...)
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; audio uploads will be rejected")
	}
	if cfg.Providers.OCR.Name == "" {
		slog.Debug("providers.ocr is not configured; image uploads will be rejected")
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 || cfg.Resilience.HalfOpenMax < 0 || cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}

	// History
	if !cfg.History.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: memory, postgres", cfg.History.Backend))
	}
	if cfg.History.Backend == HistoryPostgres && cfg.History.PostgresDSN == "" {
		errs = append(errs, errors.New("history.postgres_dsn is required when history.backend is postgres"))
	}
	if cfg.History.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("history.max_entries %d must not be negative", cfg.History.MaxEntries))
	}
	if cfg.History.Backend == HistoryMemory {
		slog.Debug("history.backend is memory; analysed calls are lost on restart")
	}

	// Auth
	if cfg.Auth.Email != "" && !strings.Contains(cfg.Auth.Email, "@") {
		errs = append(errs, fmt.Errorf("auth.email %q is not an email address", cfg.Auth.Email))
	}
	if cfg.Auth.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(cfg.Auth.PasswordHash)); err != nil {
			errs = append(errs, fmt.Errorf("auth.password_hash is not a bcrypt hash: %w", err))
		}
	} else {
		slog.Warn("auth.password_hash is empty; the dashboard uses the default password")
	}
	if cfg.Auth.TokenTTL < 0 {
		errs = append(errs, errors.New("auth.token_ttl must not be negative"))
	}

	// MCP
	if cfg.MCP.Path != "" && !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}

	// Analysis
	if cfg.Analysis.FolderConcurrency < 0 {
		errs = append(errs, errors.New("analysis.folder_concurrency must not be negative"))
	}
	if cfg.Analysis.SummaryMaxTokens < 0 {
		errs = append(errs, errors.New("analysis.summary_max_tokens must not be negative"))
	}
	if cfg.Analysis.NearMisses && cfg.Providers.STT.Name == "" {
		slog.Warn("analysis.near_misses only helps with transcribed audio but providers.stt is not configured")
	}

	return errors.Join(errs...)
}

// validateEntry checks a provider entry and its fallbacks.
func validateEntry(kind, prefix string, e ProviderEntry) []error {
	var errs []error
	if e.Name == "" {
		if len(e.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s.fallbacks requires %s.name to be set", prefix, prefix))
		}
		return errs
	}
	validateProviderName(kind, e.Name)
	seen := map[string]int{e.Name: -1}
	for i, fb := range e.Fallbacks {
		fp := fmt.Sprintf("%s.fallbacks[%d]", prefix, i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", fp))
			continue
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s.fallbacks must not be nested", fp))
		}
		if _, dup := seen[fb.Name]; dup {
			slog.Warn("provider listed more than once in a fallback chain", "kind", kind, "name", fb.Name)
		}
		seen[fb.Name] = i
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
