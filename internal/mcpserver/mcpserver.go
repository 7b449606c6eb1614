// Package mcpserver exposes the classifier as Model Context Protocol tools so
// that agents and assistants can screen messages for vishing.
//
// Two tools are registered:
//
//   - classify_text: score a message or call transcript.
//   - normalize_text: show how a text is normalized, which scam keywords it
//     contains and its lexical features.
//
// The server runs over stdio ([Server.RunStdio], used by "vishguard mcp") or
// is mounted into the HTTP API as a streamable-HTTP endpoint
// ([Server.Handler]).
package mcpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/vishguard/internal/observe"
	"github.com/MrWong99/vishguard/pkg/classifier"
	"github.com/MrWong99/vishguard/pkg/textproc"
)

// Tool names.
const (
	ToolClassify  = "classify_text"
	ToolNormalize = "normalize_text"
)

const implementationName = "vishguard"

// ClassifyInput is the argument object of classify_text.
type ClassifyInput struct {
	Text string `json:"text" jsonschema:"the message or call transcript to classify"`
}

// ClassifyOutput is the result of classify_text.
type ClassifyOutput struct {
	Label      string   `json:"label" jsonschema:"predicted class name"`
	Confidence float64  `json:"confidence" jsonschema:"confidence of the label in percent"`
	Scam       bool     `json:"scam" jsonschema:"true when the label is the scam class"`
	Keywords   []string `json:"keywords" jsonschema:"scam keywords found in the text"`
}

// NormalizeInput is the argument object of normalize_text.
type NormalizeInput struct {
	Text string `json:"text" jsonschema:"the text to normalize"`
}

// NormalizeOutput is the result of normalize_text.
type NormalizeOutput struct {
	Normalized string             `json:"normalized"`
	Keywords   []string           `json:"keywords"`
	Features   map[string]float64 `json:"features"`
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics records tool invocations on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the implementation version announced to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server is an MCP server backed by a [classifier.Predictor].
type Server struct {
	predictor classifier.Predictor
	metrics   *observe.Metrics
	version   string
	mcp       *mcp.Server
}

// New creates a Server whose classify_text tool scores with p.
func New(p classifier.Predictor, opts ...Option) (*Server, error) {
	if p == nil {
		return nil, errors.New("mcpserver: predictor must not be nil")
	}
	s := &Server{predictor: p, version: "dev"}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{Name: implementationName, Version: s.version}, nil)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolClassify,
		Description: "Classify a text message or phone call transcript as a voice phishing scam or a normal conversation.",
	}, s.classify)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolNormalize,
		Description: "Normalize a text the way the classifier does and report its scam keywords and lexical features.",
	}, s.normalize)
	return s, nil
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// RunStdio serves MCP over stdin/stdout until ctx is cancelled or the client
// disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	slog.Info("mcp server listening on stdio")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns a streamable-HTTP handler serving this server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}

func (s *Server) classify(ctx context.Context, _ *mcp.CallToolRequest, in ClassifyInput) (*mcp.CallToolResult, ClassifyOutput, error) {
	pred, err := s.predictor.Predict(ctx, in.Text)
	if err != nil {
		s.metrics.RecordToolCall(ctx, ToolClassify, "error")
		observe.Logger(ctx).Warn("mcp classify failed", "err", err)
		return nil, ClassifyOutput{}, err
	}
	s.metrics.RecordToolCall(ctx, ToolClassify, "ok")
	kw := pred.Keywords
	if kw == nil {
		kw = []string{}
	}
	return nil, ClassifyOutput{
		Label:      pred.Label,
		Confidence: pred.Confidence,
		Scam:       pred.Scam(),
		Keywords:   kw,
	}, nil
}

func (s *Server) normalize(ctx context.Context, _ *mcp.CallToolRequest, in NormalizeInput) (*mcp.CallToolResult, NormalizeOutput, error) {
	norm := textproc.Normalize(in.Text)
	feats := textproc.ExtractFeatures(in.Text, norm)
	out := NormalizeOutput{
		Normalized: norm,
		Keywords:   textproc.MatchedKeywords(norm),
		Features:   make(map[string]float64, textproc.FeatureCount),
	}
	if out.Keywords == nil {
		out.Keywords = []string{}
	}
	for i, name := range textproc.FeatureNames {
		out.Features[name] = feats[i]
	}
	s.metrics.RecordToolCall(ctx, ToolNormalize, "ok")
	return nil, out, nil
}
