package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus metrics for enrichment cycles, upstream feeds,
// persistence and the HTTP API.
type Collector struct {
	gatherer prometheus.Gatherer

	Cycles         prometheus.Counter
	CycleDuration  prometheus.Histogram
	SourceFailures *prometheus.CounterVec
	SourceRecords  *prometheus.GaugeVec
	Matches        *prometheus.CounterVec
	Flights        prometheus.Gauge
	StoreFailures  *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
	HTTPDurations  *prometheus.HistogramVec
}

// NewCollector registers the metrics against reg, defaulting to the global registry when nil
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	cycles, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrichment_cycles_total",
		Help: "Total number of completed enrichment cycles.",
	}), "enrichment_cycles_total")
	if err != nil {
		return nil, err
	}

	cycleDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "enrichment_cycle_duration_seconds",
		Help:    "Wall time of one enrichment cycle in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}), "enrichment_cycle_duration_seconds")
	if err != nil {
		return nil, err
	}

	sourceFailures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "source_fetch_failures_total",
		Help: "Upstream fetches that degraded to an empty contribution, labeled by source.",
	}, []string{"source"}), "source_fetch_failures_total")
	if err != nil {
		return nil, err
	}

	sourceRecords, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "source_records",
		Help: "Records received from each source in the last cycle.",
	}, []string{"source"}), "source_records")
	if err != nil {
		return nil, err
	}

	matches, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "correlation_matches_total",
		Help: "Telemetry-to-schedule correlations, labeled by match kind.",
	}, []string{"kind"}), "correlation_matches_total")
	if err != nil {
		return nil, err
	}

	flights, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "enriched_flights",
		Help: "Number of enriched flights in the latest snapshot.",
	}), "enriched_flights")
	if err != nil {
		return nil, err
	}

	storeFailures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_write_failures_total",
		Help: "Best-effort persistence failures, labeled by store.",
	}, []string{"store"}), "store_write_failures_total")
	if err != nil {
		return nil, err
	}

	httpRequests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Handled API requests, labeled by route pattern, method and status code.",
	}, []string{"route", "method", "code"}), "http_requests_total")
	if err != nil {
		return nil, err
	}

	httpDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "API request latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"route", "method"}), "http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:       gatherer,
		Cycles:         cycles,
		CycleDuration:  cycleDuration,
		SourceFailures: sourceFailures,
		SourceRecords:  sourceRecords,
		Matches:        matches,
		Flights:        flights,
		StoreFailures:  storeFailures,
		HTTPRequests:   httpRequests,
		HTTPDurations:  httpDurations,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveCycle records one completed enrichment cycle
func (c *Collector) ObserveCycle(d time.Duration, flights int) {
	if c == nil {
		return
	}
	c.Cycles.Inc()
	c.CycleDuration.Observe(d.Seconds())
	c.Flights.Set(float64(flights))
}

// ObserveSource records the outcome of one upstream fetch
func (c *Collector) ObserveSource(source string, records int, ok bool) {
	if c == nil {
		return
	}
	c.SourceRecords.WithLabelValues(source).Set(float64(records))
	if !ok {
		c.SourceFailures.WithLabelValues(source).Inc()
	}
}

// ObserveMatch records one correlation outcome
func (c *Collector) ObserveMatch(kind string) {
	if c == nil {
		return
	}
	c.Matches.WithLabelValues(kind).Inc()
}

// ObserveStoreFailure records a failed best-effort write
func (c *Collector) ObserveStoreFailure(store string) {
	if c == nil {
		return
	}
	c.StoreFailures.WithLabelValues(store).Inc()
}

// Middleware records request counts and durations keyed by the chi route pattern
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		c.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		c.HTTPDurations.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
