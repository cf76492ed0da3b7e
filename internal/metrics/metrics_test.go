package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/predictex/exchange-engine/internal/metrics"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Get("/markets/{marketID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, id := range []string{"abc", "def"} {
		req := httptest.NewRequest("GET", "/markets/"+id, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
	}

	// Both requests land on one route-pattern label, not one label per id.
	pattern := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/markets/{marketID}", "200"))
	if pattern != 2 {
		t.Errorf("pattern-labeled count = %v, want 2", pattern)
	}
	raw := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/markets/abc", "200"))
	if raw != 0 {
		t.Errorf("raw-path count = %v, want 0", raw)
	}
}
