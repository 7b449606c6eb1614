// Package server implements the HTTP API of the vishing dashboard.
//
// Routes:
//
//	GET  /api/health                 model readiness
//	POST /api/auth/login             exchange credentials for a bearer token
//	POST /api/analyze                analyse an uploaded recording or screenshot
//	POST /api/analyze_text           analyse raw text
//	POST /api/analyze_folder         analyse every recording in a server directory
//	GET  /api/calls                  list calls (status, start_date, end_date filters)
//	GET  /api/calls/{id}             fetch one call
//	PUT  /api/calls/{id}/resolve     mark a call as resolved
//	POST /api/summarize/{id}         summarise a call
//	GET  /api/stream                 WebSocket live-call feed
//	GET  /healthz, /readyz           probes
//	GET  /metrics                    Prometheus scrape endpoint
//
// Errors are JSON objects of the form {"error": "..."}.
package server

import (
	"errors"
	"net/http"

	"github.com/MrWong99/vishguard/internal/analysis"
	"github.com/MrWong99/vishguard/internal/health"
	"github.com/MrWong99/vishguard/internal/history"
	"github.com/MrWong99/vishguard/internal/observe"
	"github.com/MrWong99/vishguard/internal/report"
	"github.com/MrWong99/vishguard/pkg/artifact"
)

const defaultMaxUpload = 32 << 20

// Option configures a [Server].
type Option func(*Server)

// WithSummarizer sets the call summarizer. Defaults to template summaries.
func WithSummarizer(s *report.Summarizer) Option {
	return func(srv *Server) { srv.summarizer = s }
}

// WithAuth enables the login endpoint and token checks.
func WithAuth(a *Auth) Option {
	return func(srv *Server) { srv.auth = a }
}

// WithCORS sets the cross-origin policy.
func WithCORS(c *CORS) Option {
	return func(srv *Server) { srv.cors = c }
}

// WithHealth mounts the probe endpoints and /api/health.
func WithHealth(h *health.Handler) Option {
	return func(srv *Server) { srv.health = h }
}

// WithMetrics sets the instruments used by the request middleware and the
// live feed.
func WithMetrics(m *observe.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(srv *Server) { srv.metricsHandler = h }
}

// WithMount serves h under pattern, outside the token check. Used for the
// MCP endpoint.
func WithMount(pattern string, h http.Handler) Option {
	return func(srv *Server) { srv.mounts = append(srv.mounts, mount{pattern, h}) }
}

// WithMaxUploadBytes caps the request body of /api/analyze.
func WithMaxUploadBytes(n int64) Option {
	return func(srv *Server) {
		if n > 0 {
			srv.maxUpload = n
		}
	}
}

// WithStreamWindow sets how many trailing words of a live transcript are
// scored after each segment. Use the model's sequence length so the verdict
// covers what was said last. Zero or less scores the whole transcript.
func WithStreamWindow(words int) Option {
	return func(srv *Server) { srv.streamWindow = words }
}

type mount struct {
	pattern string
	handler http.Handler
}

// Server holds the API dependencies. Create it with [New] and serve
// [Server.Handler].
type Server struct {
	pipeline       *analysis.Pipeline
	store          history.Store
	summarizer     *report.Summarizer
	auth           *Auth
	cors           *CORS
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	mounts         []mount
	maxUpload      int64
	streamWindow   int
}

// New creates a Server analysing calls with pipeline and reading history
// from store.
func New(pipeline *analysis.Pipeline, store history.Store, opts ...Option) (*Server, error) {
	if pipeline == nil {
		return nil, errors.New("server: pipeline must not be nil")
	}
	if store == nil {
		return nil, errors.New("server: store must not be nil")
	}
	s := &Server{
		pipeline:  pipeline,
		store:     store,
		maxUpload:    defaultMaxUpload,
		streamWindow: artifact.DefaultMaxLen,
	}
	for _, o := range opts {
		o(s)
	}
	if s.summarizer == nil {
		s.summarizer = report.NewSummarizer()
	}
	if s.cors == nil {
		s.cors = NewCORS(nil)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// Handler returns the fully wrapped API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	protect := func(h http.HandlerFunc) http.Handler {
		if s.auth == nil {
			return h
		}
		return s.auth.Require(h)
	}

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	if s.auth != nil {
		mux.HandleFunc("POST /api/auth/login", s.auth.handleLogin)
	}

	mux.Handle("POST /api/analyze", protect(s.handleAnalyze))
	mux.Handle("POST /api/analyze_text", protect(s.handleAnalyzeText))
	mux.Handle("POST /api/analyze_folder", protect(s.handleAnalyzeFolder))
	mux.Handle("GET /api/calls", protect(s.handleListCalls))
	mux.Handle("GET /api/calls/{id}", protect(s.handleGetCall))
	mux.Handle("PUT /api/calls/{id}/resolve", protect(s.handleResolveCall))
	mux.Handle("POST /api/summarize/{id}", protect(s.handleSummarize))
	mux.Handle("GET /api/stream", protect(s.handleStream))

	for _, m := range s.mounts {
		mux.Handle(m.pattern, m.handler)
	}

	return observe.Middleware(s.metrics)(s.cors.Wrap(mux))
}
