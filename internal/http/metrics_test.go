package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRequestMetrics_Middleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newRequestMetrics(mp.Meter(meterName), nil)

	e := echo.New()
	e.Use(m.Middleware())
	e.POST("/api/v1/tenants/:tenant_id/projects/:project_id/retrieve", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/api/v1/jobs/:job_id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	})
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("boom")
	})

	for _, r := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/tenants/acme/projects/docs/retrieve"},
		{http.MethodPost, "/api/v1/tenants/globex/projects/wiki/retrieve"},
		{http.MethodGet, "/api/v1/jobs/abc"},
		{http.MethodGet, "/boom"},
	} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(r.method, r.path, nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))

	counts := map[string]int64{}
	var latencyCount uint64
	var inFlight int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, inst := range sm.Metrics {
			switch data := inst.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					if inst.Name == "ragd.http.requests.in_flight" {
						inFlight = dp.Value
						continue
					}
					route, _ := dp.Attributes.Value(attribute.Key("route"))
					class, _ := dp.Attributes.Value(attribute.Key("status_class"))
					counts[route.AsString()+" "+class.AsString()] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					latencyCount += dp.Count
				}
			}
		}
	}

	assert.Equal(t, map[string]int64{
		"/api/v1/tenants/:tenant_id/projects/:project_id/retrieve 2xx": 2,
		"/api/v1/jobs/:job_id 4xx": 1,
		"/boom 5xx":                1,
	}, counts)
	assert.Equal(t, uint64(4), latencyCount)
	assert.Equal(t, int64(0), inFlight)
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "4xx", statusClass(403))
	assert.Equal(t, "5xx", statusClass(503))
	assert.Equal(t, "unknown", statusClass(0))
	assert.Equal(t, "unmatched", routeLabel(""))
}
