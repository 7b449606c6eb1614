package mcpserver

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/vishguard/internal/observe"
	"github.com/MrWong99/vishguard/pkg/classifier"
	classifiermock "github.com/MrWong99/vishguard/pkg/classifier/mock"
)

func newMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	return m, reader
}

func toolCalls(t *testing.T, reader *sdkmetric.ManualReader, tool, status string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var n int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "vishguard.tool.calls" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				want := attribute.NewSet(
					attribute.String("status", status),
					attribute.String("tool", tool),
				)
				if dp.Attributes.Equivalent() == want.Equivalent() {
					n += dp.Value
				}
			}
		}
	}
	return n
}

// connect starts s on an in-memory transport and returns a client session.
func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	st, ct := mcp.NewInMemoryTransports()
	ss, err := s.MCP().Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] is %T, want *mcp.TextContent", res.Content[0])
	}
	return tc.Text
}

func TestNew_NilPredictor(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil predictor")
	}
}

func TestListTools(t *testing.T) {
	m, _ := newMetrics(t)
	s, err := New(&classifiermock.Predictor{}, WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}
	cs := connect(t, s)

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	slices.Sort(names)
	if !slices.Equal(names, []string{ToolClassify, ToolNormalize}) {
		t.Errorf("tools = %v", names)
	}
}

func TestClassifyText(t *testing.T) {
	m, reader := newMetrics(t)
	p := &classifiermock.Predictor{Result: classifier.Prediction{
		Label:      "scam",
		Confidence: 97.5,
		Keywords:   []string{"verify", "bank"},
	}}
	s, err := New(p, WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}
	cs := connect(t, s)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolClassify,
		Arguments: map[string]any{"text": "verify your bank account"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", textOf(t, res))
	}
	var out ClassifyOutput
	if err := json.Unmarshal([]byte(textOf(t, res)), &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Label != "scam" || !out.Scam || out.Confidence != 97.5 || len(out.Keywords) != 2 {
		t.Errorf("output = %+v", out)
	}
	if p.CallCount() != 1 || p.Calls[0] != "verify your bank account" {
		t.Errorf("predictor calls = %v", p.Calls)
	}
	if got := toolCalls(t, reader, ToolClassify, "ok"); got != 1 {
		t.Errorf("ok tool calls = %d, want 1", got)
	}
}

func TestClassifyText_PredictorError(t *testing.T) {
	m, reader := newMetrics(t)
	p := &classifiermock.Predictor{Err: classifier.ErrPredictionFailed}
	s, err := New(p, WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}
	cs := connect(t, s)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolClassify,
		Arguments: map[string]any{"text": "hello"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Error("expected IsError result")
	}
	if got := toolCalls(t, reader, ToolClassify, "error"); got != 1 {
		t.Errorf("error tool calls = %d, want 1", got)
	}
}

func TestNormalizeText(t *testing.T) {
	m, _ := newMetrics(t)
	s, err := New(&classifiermock.Predictor{}, WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}
	cs := connect(t, s)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolNormalize,
		Arguments: map[string]any{"text": "URGENT!!  Verify your   Bank account"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	var out NormalizeOutput
	if err := json.Unmarshal([]byte(textOf(t, res)), &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Normalized != "urgent!! verify your bank account" {
		t.Errorf("normalized = %q", out.Normalized)
	}
	for _, kw := range []string{"urgent", "verify", "account", "bank"} {
		if !slices.Contains(out.Keywords, kw) {
			t.Errorf("keywords %v missing %q", out.Keywords, kw)
		}
	}
	if out.Features["scam_keyword_count"] != 4 || out.Features["word_count"] != 5 {
		t.Errorf("features = %v", out.Features)
	}
}

func TestHandler_StreamableHTTP(t *testing.T) {
	m, _ := newMetrics(t)
	s, err := New(&classifiermock.Predictor{Result: classifier.Prediction{Label: "normal", Confidence: 80}}, WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{Endpoint: srv.URL}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolClassify,
		Arguments: map[string]any{"text": "see you at dinner"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	var out ClassifyOutput
	if err := json.Unmarshal([]byte(textOf(t, res)), &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Scam || out.Label != "normal" {
		t.Errorf("output = %+v", out)
	}
}
