package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_ServesRequestAndBusinessMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	p := NewPrometheus(NewPrometheusOptions{
		Subsystem:   "entitlement",
		MetricsList: []*Metric{MetricsBusinessProcess},
		Registry:    reg,
	})

	r := gin.New()
	p.Use(r)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	ObserveBusinessProcess(BusinessRefresh, "fresh_cache", time.Now())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Contains(t, body, "entitlement_req_total")
	require.Contains(t, body, `entitlement_bp_dur_bucket{subtype="fresh_cache",type="refresh"`)
}

func TestComputeApproximateRequestSize(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/a", nil)
	req.Header.Set("X-K", "v")
	require.Greater(t, computeApproximateRequestSize(req), len("/a")+len("POST"))
}
