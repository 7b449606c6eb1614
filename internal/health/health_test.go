package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func failing(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func passing(context.Context) error { return nil }

func TestHealthz(t *testing.T) {
	// Liveness ignores every checker.
	h := New(Checker{Name: "history", Check: failing("down")})
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	var body result
	decode(t, rec, &body)
	if body.Status != "ok" || len(body.Checks) != 0 {
		t.Errorf("body = %+v", body)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "history", Check: passing}, {Name: "model", Check: passing}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"history": "ok", "model": "ok"},
		},
		{
			name: "history down",
			checkers: []Checker{
				{Name: "history", Check: failing("connection refused")},
				{Name: "model", Check: passing},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"history": "fail: connection refused", "model": "ok"},
		},
		{
			name: "everything down",
			checkers: []Checker{
				PingCheck("history", fakePinger{err: errors.New("timeout")}),
				ModelCheck(nil),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"history": "fail: timeout", "model": "fail: detector not loaded"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			New(tt.checkers...).Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantCode)
			}
			var body result
			decode(t, rec, &body)
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			for name, want := range tt.wantChecks {
				if body.Checks[name] != want {
					t.Errorf("checks[%s] = %q, want %q", name, body.Checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	h := New(Checker{Name: "history", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestNew_CopiesCheckers(t *testing.T) {
	checkers := []Checker{{Name: "model", Check: passing}}
	h := New(checkers...)
	checkers[0] = Checker{Name: "model", Check: failing("swapped")}

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 after caller mutated its slice", rec.Code)
	}
}

func TestRegister(t *testing.T) {
	mux := http.NewServeMux()
	New(Checker{Name: "model", Check: failing("loading")}).Register(mux)

	for path, want := range map[string]int{
		"/healthz":    http.StatusOK,
		"/readyz":     http.StatusServiceUnavailable,
		"/api/health": http.StatusServiceUnavailable,
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, want)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /healthz = %d, want 405", rec.Code)
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeLabels []string

func (f fakeLabels) Labels() []string { return f }

func TestAPIStatus(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		want       apiStatus
	}{
		{
			name:       "ready",
			checkers:   []Checker{ModelCheck(fakeLabels{"normal", "scam"}), PingCheck("history", fakePinger{})},
			wantStatus: http.StatusOK,
			want:       apiStatus{Status: "ready", Model: "loaded"},
		},
		{
			name:       "no labels",
			checkers:   []Checker{ModelCheck(fakeLabels{})},
			wantStatus: http.StatusServiceUnavailable,
			want:       apiStatus{Status: "loading", Model: "unavailable"},
		},
		{
			name:       "nil detector",
			checkers:   []Checker{ModelCheck(nil)},
			wantStatus: http.StatusServiceUnavailable,
			want:       apiStatus{Status: "loading", Model: "unavailable"},
		},
		{
			name:       "store down",
			checkers:   []Checker{PingCheck("history", fakePinger{err: errors.New("dial tcp: refused")})},
			wantStatus: http.StatusServiceUnavailable,
			want:       apiStatus{Status: "loading", Model: "unavailable"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			New(tt.checkers...).APIStatus(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var got apiStatus
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.want {
				t.Errorf("body = %+v, want %+v", got, tt.want)
			}
		})
	}
}
