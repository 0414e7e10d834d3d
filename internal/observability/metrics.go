package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Route plan outcomes
const (
	OutcomeOK              = "ok"
	OutcomeRejected        = "rejected"
	OutcomeBackendError    = "backend_error"
	OutcomeInvalidGeometry = "invalid_geometry"
	OutcomeFailed          = "failed"
	OutcomeSuperseded      = "superseded"
)

// Collector bundles the server's Prometheus metrics. A nil *Collector is valid
// and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	RoutePlans        *prometheus.CounterVec
	RoutePlanDuration *prometheus.HistogramVec
	RelayRequests     *prometheus.CounterVec
	HazardIngestions  *prometheus.CounterVec
	HazardPoints      prometheus.Gauge
	HazardSkippedRows prometheus.Gauge
}

// NewCollector registers metrics against reg, defaulting to the global
// registry when nil. Registering twice against the same registry reuses the
// existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	plans, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saferoute_route_plans_total",
		Help: "Route plans by routing profile and outcome.",
	}, []string{"profile", "outcome"}), "saferoute_route_plans_total")
	if err != nil {
		return nil, err
	}

	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "saferoute_route_plan_duration_seconds",
		Help:    "Latency of directions backend calls in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"profile"}), "saferoute_route_plan_duration_seconds")
	if err != nil {
		return nil, err
	}

	relay, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saferoute_directions_relay_requests_total",
		Help: "Directions relay requests by profile and upstream status code.",
	}, []string{"profile", "code"}), "saferoute_directions_relay_requests_total")
	if err != nil {
		return nil, err
	}

	ingestions, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "saferoute_hazard_ingestions_total",
		Help: "Hazard feed refreshes by outcome.",
	}, []string{"outcome"}), "saferoute_hazard_ingestions_total")
	if err != nil {
		return nil, err
	}

	points, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "saferoute_hazard_points",
		Help: "Hazard points in the current snapshot.",
	}), "saferoute_hazard_points")
	if err != nil {
		return nil, err
	}

	skipped, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "saferoute_hazard_skipped_rows",
		Help: "Feed rows skipped during the most recent refresh.",
	}), "saferoute_hazard_skipped_rows")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:          gatherer,
		RoutePlans:        plans,
		RoutePlanDuration: durations,
		RelayRequests:     relay,
		HazardIngestions:  ingestions,
		HazardPoints:      points,
		HazardSkippedRows: skipped,
	}, nil
}

// Handler exposes the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveRoutePlan records one planner call.
func (c *Collector) ObserveRoutePlan(profile, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.RoutePlans.WithLabelValues(profile, outcome).Inc()
	if outcome != OutcomeRejected {
		c.RoutePlanDuration.WithLabelValues(profile).Observe(elapsed.Seconds())
	}
}

// ObserveRelay records one proxied directions request.
func (c *Collector) ObserveRelay(profile string, statusCode int) {
	if c == nil {
		return
	}
	c.RelayRequests.WithLabelValues(profile, strconv.Itoa(statusCode)).Inc()
}

// ObserveIngestion records a hazard refresh. points and skipped are only
// applied on success.
func (c *Collector) ObserveIngestion(err error, points, skipped int) {
	if c == nil {
		return
	}
	if err != nil {
		c.HazardIngestions.WithLabelValues(OutcomeFailed).Inc()
		return
	}
	c.HazardIngestions.WithLabelValues(OutcomeOK).Inc()
	c.HazardPoints.Set(float64(points))
	c.HazardSkippedRows.Set(float64(skipped))
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T, name string) (T, error) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return collector, nil
}
