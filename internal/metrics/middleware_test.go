package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPMiddleware_StatusClasses(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		silent bool
		want   string
	}{
		{name: "implicit ok", silent: true, want: "2xx"},
		{name: "accepted", code: http.StatusAccepted, want: "2xx"},
		{name: "not found", code: http.StatusNotFound, want: "4xx"},
		{name: "server error", code: http.StatusInternalServerError, want: "5xx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			wrapped := HTTPMiddleware(reg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !tt.silent {
					w.WriteHeader(tt.code)
				}
			}))

			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/backtests", nil))

			mf := family(t, reg, "http_requests_total")
			if mf == nil || len(mf.GetMetric()) != 1 {
				t.Fatal("expected one request series")
			}
			l := labels(mf.GetMetric()[0])
			if l["status"] != tt.want || l["method"] != http.MethodPost {
				t.Errorf("labels = %v, want status %s", l, tt.want)
			}
			if family(t, reg, "http_request_duration_seconds") == nil {
				t.Error("duration not observed")
			}
		})
	}
}

func TestHTTPMiddleware_InFlight(t *testing.T) {
	reg := NewRegistry()

	inFlight := func() float64 {
		mf := family(t, reg, "http_requests_in_flight")
		if mf == nil {
			return -1
		}
		return mf.GetMetric()[0].GetGauge().GetValue()
	}

	var during float64
	wrapped := HTTPMiddleware(reg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = inFlight()
	}))
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if during != 1 {
		t.Errorf("in-flight during request = %v, want 1", during)
	}
	if after := inFlight(); after != 0 {
		t.Errorf("in-flight after request = %v, want 0", after)
	}
}

func TestHTTPMiddleware_UsesRoutePattern(t *testing.T) {
	reg := NewRegistry()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := HTTPMiddleware(reg)(mux)

	for _, id := range []string{"a", "b", "c"} {
		wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/jobs/"+id, nil))
	}

	mf := family(t, reg, "http_requests_total")
	if mf == nil || len(mf.GetMetric()) != 1 {
		t.Fatalf("expected one series for the route")
	}
	m := mf.GetMetric()[0]
	if got := labels(m)["path"]; got != "GET /jobs/{id}" {
		t.Errorf("path label = %s", got)
	}
	if m.GetCounter().GetValue() != 3 {
		t.Errorf("expected 3 requests, got %v", m.GetCounter().GetValue())
	}
}

func TestRouteLabel_FallsBackToPath(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/unrouted", nil)
	if got := routeLabel(r); got != "/unrouted" {
		t.Errorf("routeLabel = %s", got)
	}
}
