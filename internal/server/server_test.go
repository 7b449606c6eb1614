package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/crypto/bcrypt"

	"github.com/MrWong99/vishguard/internal/analysis"
	"github.com/MrWong99/vishguard/internal/health"
	"github.com/MrWong99/vishguard/internal/history"
	"github.com/MrWong99/vishguard/internal/observe"
	"github.com/MrWong99/vishguard/pkg/artifact/artifacttest"
	"github.com/MrWong99/vishguard/pkg/classifier"
	"github.com/MrWong99/vishguard/pkg/provider/stt"
	sttmock "github.com/MrWong99/vishguard/pkg/provider/stt/mock"
)

const scamText = "URGENT! Verify your bank account password now or it will be suspended"

type testEnv struct {
	handler     http.Handler
	store       *history.MemStore
	transcriber *sttmock.Transcriber
	auth        *Auth
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func testHash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(h)
}

func newEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	det, err := classifier.NewDetector(artifacttest.KeywordBundle())
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	store := history.NewMemStore(0)
	tr := &sttmock.Transcriber{Text: scamText}
	pipeline, err := analysis.New(det, analysis.WithTranscriber(tr), analysis.WithStore(store))
	if err != nil {
		t.Fatal(err)
	}
	auth, err := NewAuth(AuthConfig{Email: "admin@vishing.com", Name: "Supervisory Admin", PasswordHash: testHash(t, "admin123")})
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	base := []Option{
		WithAuth(auth),
		WithMetrics(testMetrics(t)),
		WithHealth(health.New(health.ModelCheck(det), health.PingCheck("history", store))),
		WithCORS(NewCORS([]string{"http://localhost:3000"})),
	}
	srv, err := New(pipeline, store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEnv{handler: srv.Handler(), store: store, transcriber: tr, auth: auth}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func uploadRequest(t *testing.T, field, name string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()
	req := httptest.NewRequest("POST", "/api/analyze", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(nil, history.NewMemStore(0)); err == nil {
		t.Error("expected error for nil pipeline")
	}
}

func TestAPIHealth(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, httptest.NewRequest("GET", "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["status"] != "ready" || body["model"] != "loaded" {
		t.Errorf("body = %v", body)
	}
}

func TestLogin(t *testing.T) {
	env := newEnv(t)
	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantError  string
	}{
		{"success", loginRequest{Email: "admin@vishing.com", Password: "admin123"}, http.StatusOK, ""},
		{"email case and space", loginRequest{Email: "  Admin@Vishing.com ", Password: "admin123"}, http.StatusOK, ""},
		{"wrong password", loginRequest{Email: "admin@vishing.com", Password: "nope"}, http.StatusUnauthorized, "Invalid credentials"},
		{"wrong email", loginRequest{Email: "root@vishing.com", Password: "admin123"}, http.StatusUnauthorized, "Invalid credentials"},
		{"missing body", nil, http.StatusBadRequest, "Missing request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, jsonRequest("POST", "/api/auth/login", tt.body))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantError != "" {
				if got := decode[errorBody](t, rec).Error; got != tt.wantError {
					t.Errorf("error = %q, want %q", got, tt.wantError)
				}
				return
			}
			resp := decode[loginResponse](t, rec)
			if resp.Message != "Authentication successful" || resp.User.Name != "Supervisory Admin" || resp.Token == "" {
				t.Errorf("response = %+v", resp)
			}
			if !env.auth.Valid(resp.Token) {
				t.Error("issued token is not valid")
			}
		})
	}
}

func TestNewAuth_DefaultPassword(t *testing.T) {
	a, err := NewAuth(AuthConfig{Email: "admin@vishing.com"})
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	if _, _, err := a.Login("admin@vishing.com", DefaultPassword); err != nil {
		t.Errorf("default password rejected: %v", err)
	}
	if _, err := NewAuth(AuthConfig{Email: "a@b", PasswordHash: "plain"}); err == nil {
		t.Error("expected error for non-bcrypt hash")
	}
}

func TestAuth_TokenExpiry(t *testing.T) {
	a, err := NewAuth(AuthConfig{Email: "a@b.c", PasswordHash: testHash(t, "pw"), TokenTTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	_, token, err := a.Login("a@b.c", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Valid(token) {
		t.Fatal("fresh token invalid")
	}
	now = now.Add(time.Hour)
	if a.Valid(token) {
		t.Error("expired token still valid")
	}
}

func TestRequireToken(t *testing.T) {
	env := newEnv(t)
	env.auth.SetRequireToken(true)

	if rec := env.do(t, httptest.NewRequest("GET", "/api/calls", nil)); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}
	if rec := env.do(t, httptest.NewRequest("GET", "/api/health", nil)); rec.Code != http.StatusOK {
		t.Errorf("health must stay public, status = %d", rec.Code)
	}

	_, token, err := env.auth.Login("admin@vishing.com", "admin123")
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("GET", "/api/calls", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if rec := env.do(t, req); rec.Code != http.StatusOK {
		t.Errorf("header token: status = %d", rec.Code)
	}
	if rec := env.do(t, httptest.NewRequest("GET", "/api/calls?token="+token, nil)); rec.Code != http.StatusOK {
		t.Errorf("query token: status = %d", rec.Code)
	}

	env.auth.SetRequireToken(false)
	if rec := env.do(t, httptest.NewRequest("GET", "/api/calls", nil)); rec.Code != http.StatusOK {
		t.Errorf("enforcement off: status = %d", rec.Code)
	}
}

func TestAnalyze(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, uploadRequest(t, "file", "recordings/call1.wav", []byte("RIFF....")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	call := decode[history.Call](t, rec)
	if call.Status != history.StatusScam {
		t.Errorf("status = %q, want Scam", call.Status)
	}
	if call.Filename != "call1.wav" || call.Transcript != scamText || call.ID == "" {
		t.Errorf("call = %+v", call)
	}
	if len(call.Keywords) == 0 {
		t.Error("no keywords reported")
	}
	if _, err := time.Parse(history.TimestampLayout, call.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", call.Timestamp, err)
	}
	if _, err := env.store.Get(context.Background(), call.ID); err != nil {
		t.Errorf("call not stored: %v", err)
	}
}

func TestAnalyze_Errors(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, uploadRequest(t, "upload", "call.wav", []byte("x")))
	if rec.Code != http.StatusBadRequest || decode[errorBody](t, rec).Error != "No file part" {
		t.Errorf("missing part: %d %s", rec.Code, rec.Body)
	}

	rec = env.do(t, uploadRequest(t, "file", "setup.exe", []byte("MZ")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsupported: status = %d", rec.Code)
	}

	env.transcriber.Err = errors.New("whisper: server returned HTTP 500")
	rec = env.do(t, uploadRequest(t, "file", "call.wav", []byte("x")))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("failure: status = %d", rec.Code)
	}
	if msg := decode[errorBody](t, rec).Error; !strings.HasPrefix(msg, "Analysis failed: ") {
		t.Errorf("error = %q", msg)
	}
}

func TestAnalyze_TooLarge(t *testing.T) {
	env := newEnv(t, WithMaxUploadBytes(1024))
	rec := env.do(t, uploadRequest(t, "file", "call.wav", bytes.Repeat([]byte{1}, 64<<10)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestAnalyzeText(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, jsonRequest("POST", "/api/analyze_text", analyzeTextRequest{Text: "see you at dinner tonight"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	call := decode[history.Call](t, rec)
	if call.Status != history.StatusSafe || call.Source != history.SourceText {
		t.Errorf("call = %+v", call)
	}

	rec = env.do(t, jsonRequest("POST", "/api/analyze_text", analyzeTextRequest{Text: "  "}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank text: status = %d", rec.Code)
	}
}

func TestAnalyzeFolder(t *testing.T) {
	env := newEnv(t)
	dir := t.TempDir()
	for _, n := range []string{"a.wav", "b.flac", "readme.md"} {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	rec := env.do(t, jsonRequest("POST", "/api/analyze_folder", analyzeFolderRequest{Path: dir}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decode[analyzeFolderResponse](t, rec)
	if resp.Processed != 2 || len(resp.Results) != 2 || resp.Results[0].Filename != "a.wav" {
		t.Errorf("response = %+v", resp)
	}

	rec = env.do(t, jsonRequest("POST", "/api/analyze_folder", analyzeFolderRequest{Path: filepath.Join(dir, "nope")}))
	if rec.Code != http.StatusBadRequest || decode[errorBody](t, rec).Error != "Invalid directory path" {
		t.Errorf("invalid dir: %d", rec.Code)
	}
}

func seedCalls(t *testing.T, store history.Store) []history.Call {
	t.Helper()
	mk := func(id string, status history.Status, at time.Time) history.Call {
		return history.Call{
			ID: id, Filename: id + ".wav", Status: status, Keywords: []string{"bank"},
			Timestamp: at.Format(history.TimestampLayout), CreatedAt: at,
		}
	}
	calls := []history.Call{
		mk("c1", history.StatusScam, time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local)),
		mk("c2", history.StatusSafe, time.Date(2025, 3, 2, 23, 59, 0, 0, time.Local)),
		mk("c3", history.StatusScam, time.Date(2025, 3, 3, 8, 0, 0, 0, time.Local)),
	}
	for _, c := range calls {
		if err := store.Add(context.Background(), c); err != nil {
			t.Fatal(err)
		}
	}
	return calls
}

func TestListCalls(t *testing.T) {
	env := newEnv(t)
	seedCalls(t, env.store)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"c3", "c2", "c1"}},
		{"?status=scam", []string{"c3", "c1"}},
		{"?status=SAFE", []string{"c2"}},
		{"?start_date=2025-03-02", []string{"c3", "c2"}},
		{"?end_date=2025-03-02", []string{"c2", "c1"}},
		{"?start_date=2025-03-02&end_date=2025-03-02", []string{"c2"}},
		{"?status=scam&start_date=not-a-date", []string{"c3", "c1"}},
		{"?status=resolved", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := env.do(t, httptest.NewRequest("GET", "/api/calls"+tt.query, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			calls := decode[[]history.Call](t, rec)
			var ids []string
			for _, c := range calls {
				ids = append(ids, c.ID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Errorf("ids = %v, want %v", ids, tt.want)
					break
				}
			}
		})
	}
}

func TestCallLifecycle(t *testing.T) {
	env := newEnv(t)
	seedCalls(t, env.store)

	rec := env.do(t, httptest.NewRequest("GET", "/api/calls/missing", nil))
	if rec.Code != http.StatusNotFound || decode[errorBody](t, rec).Error != "Call not found" {
		t.Errorf("missing call: %d", rec.Code)
	}

	rec = env.do(t, httptest.NewRequest("GET", "/api/calls/c1", nil))
	if rec.Code != http.StatusOK || decode[history.Call](t, rec).ID != "c1" {
		t.Errorf("get: %d", rec.Code)
	}

	rec = env.do(t, httptest.NewRequest("POST", "/api/summarize/c1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("summarize: %d", rec.Code)
	}
	if sum := decode[map[string]any](t, rec); !strings.Contains(sum["summary"].(string), "SCAM") {
		t.Errorf("summary = %v", sum)
	}

	rec = env.do(t, httptest.NewRequest("PUT", "/api/calls/c1/resolve", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: %d", rec.Code)
	}
	resp := decode[resolveResponse](t, rec)
	if resp.Message != "Call marked as resolved" || resp.Call.Status != history.StatusResolved {
		t.Errorf("resolve = %+v", resp)
	}

	if rec := env.do(t, httptest.NewRequest("PUT", "/api/calls/missing/resolve", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("resolve missing: %d", rec.Code)
	}
	if rec := env.do(t, httptest.NewRequest("POST", "/api/summarize/missing", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("summarize missing: %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	env := newEnv(t)

	pre := httptest.NewRequest("OPTIONS", "/api/calls", nil)
	pre.Header.Set("Origin", "http://localhost:3000")
	pre.Header.Set("Access-Control-Request-Method", "GET")
	rec := env.do(t, pre)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow origin = %q", got)
	}

	req := httptest.NewRequest("GET", "/api/calls", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = env.do(t, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestCORS_Wildcard(t *testing.T) {
	c := NewCORS([]string{"*"})
	if got := c.allowed("https://anything.example"); got != "*" {
		t.Errorf("allowed = %q", got)
	}
	if p := c.hostPatterns(); len(p) != 1 || p[0] != "*" {
		t.Errorf("hostPatterns = %v", p)
	}
	c.SetOrigins([]string{"https://soc.example:8443"})
	if p := c.hostPatterns(); len(p) != 1 || p[0] != "soc.example:8443" {
		t.Errorf("hostPatterns = %v", p)
	}
}

func TestMountsAndMetrics(t *testing.T) {
	env := newEnv(t,
		WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("# metrics")) })),
		WithMount("/mcp", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })),
	)
	if rec := env.do(t, httptest.NewRequest("GET", "/metrics", nil)); rec.Body.String() != "# metrics" {
		t.Errorf("metrics body = %q", rec.Body)
	}
	if rec := env.do(t, httptest.NewRequest("POST", "/mcp", nil)); rec.Code != http.StatusAccepted {
		t.Errorf("mount status = %d", rec.Code)
	}
}

var _ stt.Transcriber = (*sttmock.Transcriber)(nil)
