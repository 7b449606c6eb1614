package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/crypto/bcrypt"

	"github.com/MrWong99/vishguard/internal/app"
	"github.com/MrWong99/vishguard/internal/config"
	"github.com/MrWong99/vishguard/internal/history"
	"github.com/MrWong99/vishguard/internal/observe"
	"github.com/MrWong99/vishguard/pkg/artifact/artifacttest"
	"github.com/MrWong99/vishguard/pkg/classifier"
	"github.com/MrWong99/vishguard/pkg/classifier/mock"
)

// testConfig returns a defaulted config whose model directory holds the
// keyword bundle.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	paths := artifacttest.WriteKeywordBundle(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{}
	cfg.Model.Vocab = paths.Vocab
	cfg.Model.Labels = paths.Labels
	cfg.Model.Scaler = paths.Scaler
	cfg.Model.Weights = paths.Weights
	cfg.Auth.PasswordHash = string(hash)
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.ApplyDefaults()
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_NilConfig(t *testing.T) {
	t.Parallel()
	if _, err := app.New(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNew_MissingArtifacts(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Model.Dir = t.TempDir()
	cfg.ApplyDefaults()
	if _, err := app.New(context.Background(), cfg, nil, app.WithMetrics(testMetrics(t))); err == nil {
		t.Fatal("expected error when no artifacts and no remote classifier")
	}
}

func TestNew_LocalDetector(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(t), nil)

	pred, err := a.Predictor().Predict(context.Background(), "call the bank now")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if !pred.Scam() {
		t.Errorf("label = %q, want scam", pred.Label)
	}

	call, err := a.Pipeline().AnalyzeText(context.Background(), "note.txt", history.SourceText, "see you at dinner")
	if err != nil {
		t.Fatalf("AnalyzeText: %v", err)
	}
	if call.Status != history.StatusSafe {
		t.Errorf("status = %q, want %q", call.Status, history.StatusSafe)
	}
}

func TestNew_RemoteWithLocalFallback(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Providers.Classifier.Name = "remote"

	remote := &mock.Predictor{Result: classifier.Prediction{Label: "normal", Confidence: 80}}
	a := newApp(t, cfg, &app.Providers{Classifier: remote})

	pred, err := a.Predictor().Predict(context.Background(), "call the bank now")
	if err != nil {
		t.Fatal(err)
	}
	if pred.Label != "normal" || remote.CallCount() != 1 {
		t.Fatalf("remote not used first: label=%q calls=%d", pred.Label, remote.CallCount())
	}

	remote2 := &mock.Predictor{Err: errors.New("unreachable")}
	b := newApp(t, testConfig(t), &app.Providers{Classifier: remote2})
	pred, err = b.Predictor().Predict(context.Background(), "call the bank now")
	if err != nil {
		t.Fatalf("fallback Predict: %v", err)
	}
	if !pred.Scam() {
		t.Errorf("fallback label = %q, want scam from the local detector", pred.Label)
	}
	if remote2.CallCount() == 0 {
		t.Error("remote classifier was never tried")
	}
}

func TestNew_RemoteOnly(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Model.Dir = t.TempDir()
	cfg.Providers.Classifier.Name = "remote"
	cfg.ApplyDefaults()

	remote := &mock.Predictor{Result: classifier.Prediction{Label: "scam", Confidence: 99}}
	a := newApp(t, cfg, &app.Providers{Classifier: remote})
	pred, err := a.Predictor().Predict(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if pred.Label != "scam" {
		t.Errorf("label = %q, want scam", pred.Label)
	}
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.MCP.Enabled = true
	a := newApp(t, cfg, nil, app.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "# metrics\n")
	})))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	tests := []struct {
		method, path, body string
		want               int
	}{
		{"GET", "/healthz", "", http.StatusOK},
		{"GET", "/api/health", "", http.StatusOK},
		{"GET", "/metrics", "", http.StatusOK},
		{"POST", "/api/analyze_text", `{"text":"verify your bank account now"}`, http.StatusOK},
		{"GET", "/api/calls", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	resp, err := http.Get(srv.URL + cfg.MCP.Path)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		t.Error("mcp endpoint not mounted")
	}
}

func TestRunAndShutdown(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	select {
	case <-a.Ready():
	case err := <-errCh:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not become ready")
	}

	resp, err := http.Get("http://" + a.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Run() = %v, want nil after cancel", err)
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
	// A second call is a no-op.
	if err := a.Shutdown(sctx); err != nil {
		t.Errorf("second Shutdown() = %v", err)
	}
}

func TestReload(t *testing.T) {
	t.Parallel()
	var level slog.LevelVar
	cfg := testConfig(t)
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	a := newApp(t, cfg, nil, app.WithLogLevel(&level))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	allowOrigin := func(origin string) string {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.Header.Get("Access-Control-Allow-Origin")
	}
	if got := allowOrigin("http://dash.example"); got != "" {
		t.Fatalf("origin allowed before reload: %q", got)
	}

	next := *cfg
	next.Server.LogLevel = config.LogDebug
	next.Server.AllowedOrigins = []string{"http://dash.example"}
	next.Auth.RequireToken = true
	a.Reload(cfg, &next)

	if level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", level.Level())
	}
	if got := allowOrigin("http://dash.example"); got != "http://dash.example" {
		t.Errorf("Access-Control-Allow-Origin = %q after reload", got)
	}
	resp, err := http.Get(srv.URL + "/api/calls")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 once tokens are required", resp.StatusCode)
	}
}
