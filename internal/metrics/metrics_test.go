package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	RequestLatencySeconds.Reset()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/static/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, path := range []string{"/static/a.css", "/static/b.js", "/static/deep/c.png"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}

	// All asset paths collapse into the one /static/* series.
	if got := testutil.CollectAndCount(RequestLatencySeconds); got != 1 {
		t.Fatalf("expected 1 latency series, got %d", got)
	}
}
