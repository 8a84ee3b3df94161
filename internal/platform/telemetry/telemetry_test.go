package telemetry

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetrics_NoPanic(t *testing.T) {
	var m *Metrics
	m.EnrichmentFinished(OutcomeCreated, time.Second)
	m.EnrichmentQueued(3)
	m.InstancesPlaced(2, 1)

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if err := m.Middleware()(func(echo.Context) error { return nil })(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnrichmentCounters(t *testing.T) {
	m := New()
	m.EnrichmentFinished(OutcomeCreated, 10*time.Millisecond)
	m.EnrichmentFinished(OutcomeUpdated, 10*time.Millisecond)
	m.EnrichmentFinished(OutcomeFailed, 0)
	m.EnrichmentFinished(OutcomeFailed, 0)

	if got := testutil.ToFloat64(m.enrichmentRuns.WithLabelValues(OutcomeFailed)); got != 2 {
		t.Errorf("expected 2 failed runs, got %v", got)
	}
	if got := testutil.ToFloat64(m.enrichmentRuns.WithLabelValues(OutcomeCreated)); got != 1 {
		t.Errorf("expected 1 created run, got %v", got)
	}

	m.EnrichmentQueued(4)
	if got := testutil.ToFloat64(m.enrichmentQueue); got != 4 {
		t.Errorf("expected queue depth 4, got %v", got)
	}

	m.InstancesPlaced(2, 1)
	if testutil.ToFloat64(m.instancesAccepted) != 2 || testutil.ToFloat64(m.instancesRejected) != 1 {
		t.Error("unexpected instance counters")
	}
}

func TestMiddleware_RecordsRoute(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/studies/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "cross_tenant")
	})
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for _, path := range []string{"/api/v1/studies/abc", "/ok"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/studies/:id", "403")); got != 1 {
		t.Errorf("expected one 403 on the study route, got %v", got)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/ok", "200")); got != 1 {
		t.Errorf("expected one 200 on /ok, got %v", got)
	}
}

func TestHandler_Exposition(t *testing.T) {
	m := New()
	m.EnrichmentFinished(OutcomeDropped, 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `pacs_enrichment_runs_total{outcome="dropped"} 1`) {
		t.Errorf("expected enrichment counter in exposition, got:\n%s", body)
	}
}

func TestMiddleware_PassesErrorThrough(t *testing.T) {
	m := New()
	e := echo.New()
	want := errors.New("boom")
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if err := m.Middleware()(func(echo.Context) error { return want })(c); err != want {
		t.Errorf("expected error to pass through, got %v", err)
	}
}
