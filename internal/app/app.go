// Package app wires all vishguard subsystems into a running analysis server.
//
// The App struct owns the full lifecycle: New loads the classifier and
// connects the history store, Run serves the HTTP API until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithPredictor,
// WithHistoryStore, ...). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/vishguard/internal/analysis"
	"github.com/MrWong99/vishguard/internal/config"
	"github.com/MrWong99/vishguard/internal/health"
	"github.com/MrWong99/vishguard/internal/history"
	"github.com/MrWong99/vishguard/internal/mcpserver"
	"github.com/MrWong99/vishguard/internal/observe"
	"github.com/MrWong99/vishguard/internal/report"
	"github.com/MrWong99/vishguard/internal/resilience"
	"github.com/MrWong99/vishguard/internal/server"
	"github.com/MrWong99/vishguard/pkg/classifier"
	"github.com/MrWong99/vishguard/pkg/provider/llm"
	"github.com/MrWong99/vishguard/pkg/provider/ocr"
	"github.com/MrWong99/vishguard/pkg/provider/stt"
)

const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per collaborator slot. Nil means the
// collaborator is not configured. Populated by main via the config registry.
type Providers struct {
	STT        stt.Transcriber
	OCR        ocr.Extractor
	Classifier classifier.Predictor
	LLM        llm.Provider
}

// App owns all subsystem lifetimes of the analysis server.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	detector       *classifier.Detector
	predictor      classifier.Predictor
	store          history.Store
	pipeline       *analysis.Pipeline
	auth           *server.Auth
	cors           *server.CORS
	mcp            *mcpserver.Server
	handler        http.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	logLevel       *slog.LevelVar

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
	ready      chan struct{}

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithPredictor uses p instead of loading the local artifacts and the
// configured remote classifier.
func WithPredictor(p classifier.Predictor) Option {
	return func(a *App) { a.predictor = p }
}

// WithHistoryStore injects a history store instead of creating one from
// config. The App does not close an injected store.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets [App.Reload] change the level of the process logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main (populated via the config registry) and may be nil.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		ready:     make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Classifier ───────────────────────────────────────────────────
	if err := a.initPredictor(); err != nil {
		return nil, fmt.Errorf("app: init classifier: %w", err)
	}

	// ── 2. History store ────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 3. Analysis pipeline ────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 4. HTTP API ─────────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initPredictor loads the local detector and combines it with the remote
// classifier. A configured remote classifier is tried first with the local
// detector as its fallback.
func (a *App) initPredictor() error {
	if a.predictor != nil {
		if d, ok := a.predictor.(*classifier.Detector); ok {
			a.detector = d
		}
		return nil
	}

	paths := a.cfg.Model.Paths()
	det, err := classifier.Load(paths)
	remote := a.providers.Classifier
	switch {
	case err != nil && remote == nil:
		return err
	case err != nil:
		slog.Warn("local classifier unavailable, using remote classifier only", "vocab", paths.Vocab, "err", err)
	default:
		a.detector = det
		slog.Info("local classifier loaded", "weights", paths.Weights, "labels", det.Labels())
	}

	switch {
	case remote == nil:
		a.predictor = observe.InstrumentPredictor(det, "local", a.metrics)
	case a.detector == nil:
		a.predictor = observe.InstrumentPredictor(remote, a.cfg.Providers.Classifier.Name, a.metrics)
	default:
		fb := resilience.NewPredictorFallback(
			observe.InstrumentPredictor(remote, a.cfg.Providers.Classifier.Name, a.metrics),
			a.cfg.Providers.Classifier.Name,
			BreakerConfig(a.cfg.Resilience, a.metrics),
		)
		fb.AddFallback("local", observe.InstrumentPredictor(det, "local", a.metrics))
		a.predictor = fb
	}
	return nil
}

// initHistory connects the configured history store unless one was injected.
func (a *App) initHistory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	switch a.cfg.History.Backend {
	case config.HistoryPostgres:
		store, err := history.NewPostgresStore(ctx, a.cfg.History.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = store
		slog.Info("history store connected", "backend", "postgres")
	default:
		a.store = history.NewMemStore(a.cfg.History.MaxEntries)
		slog.Info("history store ready", "backend", "memory", "max_entries", a.cfg.History.MaxEntries)
	}
	store := a.store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initPipeline builds the analysis pipeline from the instrumented
// collaborators.
func (a *App) initPipeline() error {
	opts := []analysis.Option{
		analysis.WithStore(a.store),
		analysis.WithConcurrency(a.cfg.Analysis.FolderConcurrency),
		analysis.WithAllowedRoots(a.cfg.Analysis.AllowedRoots...),
	}
	if t := a.providers.STT; t != nil {
		opts = append(opts, analysis.WithTranscriber(observe.InstrumentTranscriber(t, a.cfg.Providers.STT.Name, a.metrics)))
	} else {
		slog.Warn("no speech-to-text provider configured, audio uploads are disabled")
	}
	if x := a.providers.OCR; x != nil {
		opts = append(opts, analysis.WithExtractor(observe.InstrumentExtractor(x, a.cfg.Providers.OCR.Name, a.metrics)))
	} else {
		slog.Info("no OCR provider configured, image uploads are disabled")
	}
	p, err := analysis.New(a.predictor, opts...)
	if err != nil {
		return err
	}
	a.pipeline = p
	return nil
}

// initServer builds the summarizer, health checks, auth, CORS and the
// optional MCP endpoint, and assembles the API handler.
func (a *App) initServer() error {
	sumOpts := []report.Option{}
	if a.cfg.Analysis.SummaryMaxTokens > 0 {
		sumOpts = append(sumOpts, report.WithMaxTokens(a.cfg.Analysis.SummaryMaxTokens))
	}
	if a.cfg.Analysis.NearMisses {
		sumOpts = append(sumOpts, report.WithNearMisses(report.NewNearMissFinder(0, 0)))
	}
	if p := a.providers.LLM; p != nil {
		sumOpts = append(sumOpts, report.WithLLM(observe.InstrumentLLM(p, a.cfg.Providers.LLM.Name, a.metrics)))
	}

	checks := []health.Checker{health.PingCheck("history", a.store)}
	if a.detector != nil {
		checks = append(checks, health.ModelCheck(a.detector))
	}

	auth, err := server.NewAuth(server.AuthConfig{
		Email:        a.cfg.Auth.Email,
		Name:         a.cfg.Auth.Name,
		PasswordHash: a.cfg.Auth.PasswordHash,
		RequireToken: a.cfg.Auth.RequireToken,
		TokenTTL:     a.cfg.Auth.TokenTTL,
	})
	if err != nil {
		return err
	}
	a.auth = auth
	a.cors = server.NewCORS(a.cfg.Server.AllowedOrigins)

	srvOpts := []server.Option{
		server.WithSummarizer(report.NewSummarizer(sumOpts...)),
		server.WithAuth(a.auth),
		server.WithCORS(a.cors),
		server.WithHealth(health.New(checks...)),
		server.WithMetrics(a.metrics),
		server.WithMaxUploadBytes(int64(a.cfg.Server.MaxUploadMB) << 20),
	}
	if a.metricsHandler != nil {
		srvOpts = append(srvOpts, server.WithMetricsHandler(a.metricsHandler))
	}
	if a.detector != nil {
		srvOpts = append(srvOpts, server.WithStreamWindow(a.detector.MaxLen()))
	}
	if a.cfg.MCP.Enabled {
		m, err := mcpserver.New(a.predictor, mcpserver.WithMetrics(a.metrics))
		if err != nil {
			return err
		}
		a.mcp = m
		srvOpts = append(srvOpts, server.WithMount(a.cfg.MCP.Path, m.Handler()))
		slog.Info("mcp endpoint enabled", "path", a.cfg.MCP.Path)
	}

	srv, err := server.New(a.pipeline, a.store, srvOpts...)
	if err != nil {
		return err
	}
	a.handler = srv.Handler()
	return nil
}

// BreakerConfig builds the per-backend breaker settings from cfg and reports
// every state transition to m.
func BreakerConfig(cfg config.ResilienceConfig, m *observe.Metrics) resilience.FallbackConfig {
	return resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.MaxFailures,
		ResetTimeout: cfg.ResetTimeout,
		HalfOpenMax:  cfg.HalfOpenMax,
		OnStateChange: func(name string, _, to resilience.State) {
			m.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the fully wrapped HTTP API handler.
func (a *App) Handler() http.Handler { return a.handler }

// Predictor returns the classifier used for every analysis.
func (a *App) Predictor() classifier.Predictor { return a.predictor }

// Pipeline returns the analysis pipeline.
func (a *App) Pipeline() *analysis.Pipeline { return a.pipeline }

// Addr returns the listen address once Run has bound it, or nil.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Ready is closed once Run is accepting connections.
func (a *App) Ready() <-chan struct{} { return a.ready }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API on the configured listen address until ctx is
// cancelled. It serves TLS when server.tls is configured. Cancelling ctx does
// not stop in-flight requests; call Shutdown for that.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	hs := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	a.mu.Lock()
	a.httpServer = hs
	a.addr = ln.Addr()
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if tls := a.cfg.Server.TLS; tls != nil {
			errCh <- hs.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- hs.Serve(ln)
	}()
	slog.Info("api server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	close(a.ready)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of a changed config: log level,
// allowed origins and token enforcement. Changes to other sections are
// logged and take effect after a restart. It matches the callback signature
// of [config.NewWatcher].
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.OriginsChanged {
		a.cors.SetOrigins(d.NewOrigins)
		slog.Info("allowed origins changed", "origins", d.NewOrigins)
	}
	if d.RequireTokenChanged {
		a.auth.SetRequireToken(d.NewRequireToken)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, waiting for in-flight requests, then runs
// the closers. It respects the context deadline: if ctx expires first, the
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.mu.Lock()
		hs := a.httpServer
		a.mu.Unlock()
		if hs != nil {
			if err := hs.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
				shutdownErr = err
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases what New acquired before it failed.
func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
