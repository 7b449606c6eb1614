package observe

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestMiddleware_Correlation(t *testing.T) {
	useTestTracer(t)
	m, _ := newTestMetrics(t)

	t.Run("generated", func(t *testing.T) {
		var inside string
		h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			inside = CorrelationID(r.Context())
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze_text", nil))

		if !traceIDPattern.MatchString(inside) {
			t.Fatalf("handler saw correlation id %q", inside)
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != inside {
			t.Errorf("X-Correlation-ID = %q, want %q", got, inside)
		}
		if tp := rec.Header().Get("traceparent"); !strings.Contains(tp, inside) {
			t.Errorf("traceparent %q does not carry %s", tp, inside)
		}
	})

	t.Run("continues caller trace", func(t *testing.T) {
		const traceID = "0af7651916cd43dd8448eb211c80319c"
		var inside string
		h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			inside = CorrelationID(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/api/calls", nil)
		req.Header.Set("traceparent", "00-"+traceID+"-b7ad6b7169203331-01")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if inside != traceID {
			t.Errorf("correlation id = %q, want %q", inside, traceID)
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
			t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
		}
	})
}

func TestMiddleware_SpanPerRoute(t *testing.T) {
	exp := useTestTracer(t)
	m, reader := newTestMetrics(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/calls/{id}", okHandler)
	mux.HandleFunc("DELETE /api/calls/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := Middleware(m)(mux)

	for _, id := range []string{"c-1", "c-2", "c-3"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/calls/"+id, nil))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/calls/gone", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	spans := exp.GetSpans()
	if len(spans) != 5 {
		t.Fatalf("got %d spans, want 5", len(spans))
	}
	wantNames := []string{
		"HTTP GET /api/calls/{id}",
		"HTTP GET /api/calls/{id}",
		"HTTP GET /api/calls/{id}",
		"HTTP DELETE /api/calls/{id}",
		"HTTP GET /nowhere",
	}
	for i, want := range wantNames {
		if spans[i].Name != want {
			t.Errorf("span %d name = %q, want %q", i, spans[i].Name, want)
		}
	}

	var status int64
	for _, kv := range spans[3].Attributes {
		if kv.Key == "http.response.status_code" {
			status = kv.Value.AsInt64()
		}
	}
	if status != http.StatusNotFound {
		t.Errorf("delete span status attribute = %d, want 404", status)
	}

	met := findMetric(collect(t, reader), "vishguard.http.request.duration")
	if met == nil {
		t.Fatal("request duration histogram not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration data is %T", met.Data)
	}

	counts := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		method, _ := dp.Attributes.Value("method")
		route, _ := dp.Attributes.Value("route")
		counts[method.AsString()+" "+route.AsString()] += dp.Count
	}
	want := map[string]uint64{
		"GET /api/calls/{id}":    3,
		"DELETE /api/calls/{id}": 1,
		"GET /nowhere":           1,
	}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("samples for %q = %d, want %d (all: %v)", k, counts[k], n, counts)
		}
	}
}

func TestMiddleware_QuietProbes(t *testing.T) {
	useTestTracer(t)
	m, _ := newTestMetrics(t)
	logs := captureLogs(t)

	h := Middleware(m)(http.HandlerFunc(okHandler))
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	if logs.Len() != 0 {
		t.Errorf("probe requests logged at info:\n%s", logs)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if out := logs.String(); !strings.Contains(out, "request completed") || !strings.Contains(out, "route=/api/stats") {
		t.Errorf("api request not logged: %q", out)
	}
}

func TestMiddleware_HijackUnsupported(t *testing.T) {
	useTestTracer(t)
	m, _ := newTestMetrics(t)

	var hijackErr error
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _, hijackErr = http.NewResponseController(w).Hijack()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/stream", nil))

	if !errors.Is(hijackErr, http.ErrNotSupported) {
		t.Errorf("Hijack error = %v, want ErrNotSupported", hijackErr)
	}
}

func TestRouteOf(t *testing.T) {
	tests := []struct {
		pattern, path, want string
	}{
		{"", "/unmatched", "/unmatched"},
		{"GET /api/calls/{id}", "/api/calls/x", "/api/calls/{id}"},
		{"/healthz", "/healthz", "/healthz"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, tt.path, nil)
		r.Pattern = tt.pattern
		if got := routeOf(r); got != tt.want {
			t.Errorf("routeOf(%q) = %q, want %q", tt.pattern, got, tt.want)
		}
	}
}
