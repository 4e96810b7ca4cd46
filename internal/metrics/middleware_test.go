package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Delete("/v1/artifacts/{artifact_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	for _, id := range []string{"a", "b"} {
		req, err := http.NewRequest(http.MethodDelete, ts.URL+"/v1/artifacts/"+id, nil)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
	}
	resp, err := http.Get(ts.URL + "/v1/missing")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("DELETE", "204")); val != 2 {
		t.Errorf("expected two DELETE 204 requests, got %f", val)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")); val != 1 {
		t.Errorf("expected one GET 404 request, got %f", val)
	}
	// Both deletes share a single route series rather than one per id.
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val != 2 {
		t.Errorf("expected two duration series (route and unknown), got %d", val)
	}
}
