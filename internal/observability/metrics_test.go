package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRoutePlan(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.ObserveRoutePlan("foot-walking", OutcomeOK, 120*time.Millisecond)
	c.ObserveRoutePlan("foot-walking", OutcomeOK, 80*time.Millisecond)
	c.ObserveRoutePlan("driving-car", OutcomeRejected, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.RoutePlans.WithLabelValues("foot-walking", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RoutePlans.WithLabelValues("driving-car", OutcomeRejected)))
	assert.Equal(t, 1, testutil.CollectAndCount(c.RoutePlanDuration), "rejected plans are not timed")
}

func TestObserveIngestion(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.ObserveIngestion(nil, 42, 3)
	c.ObserveIngestion(errors.New("feed down"), 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.HazardIngestions.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.HazardIngestions.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 42.0, testutil.ToFloat64(c.HazardPoints), "failure keeps the last gauge value")
	assert.Equal(t, 3.0, testutil.ToFloat64(c.HazardSkippedRows))
}

func TestNewCollector_ReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	require.NoError(t, err)
	second, err := NewCollector(reg)
	require.NoError(t, err)

	first.ObserveRelay("driving-car", 200)
	assert.Equal(t, 1.0, testutil.ToFloat64(second.RelayRequests.WithLabelValues("driving-car", "200")))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveRoutePlan("foot-walking", OutcomeOK, time.Second)
		c.ObserveRelay("foot-walking", 502)
		c.ObserveIngestion(nil, 1, 0)
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)
	c.ObserveIngestion(nil, 7, 0)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "saferoute_hazard_points 7")
}
