// Package metrics exposes formflow operation metrics through Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements service.MetricsRecorder on a private Prometheus
// registry and serves it over HTTP.
type Recorder struct {
	prom       *prometheus.Registry
	durations  *prometheus.HistogramVec
	successes  *prometheus.CounterVec
	failures   *prometheus.CounterVec
	requests   *prometheus.CounterVec
	reqLatency *prometheus.HistogramVec
}

// Options configures NewRecorder.
type Options struct {
	// Namespace prefixes every metric name; defaults to "formflow".
	Namespace string
	// RuntimeCollectors adds the Go and process collectors.
	RuntimeCollectors bool
}

// NewRecorder creates the recorder and registers its collectors.
func NewRecorder(opts Options) (*Recorder, error) {
	ns := opts.Namespace
	if ns == "" {
		ns = "formflow"
	}
	reg := prometheus.NewRegistry()
	if opts.RuntimeCollectors {
		if err := reg.Register(collectors.NewGoCollector()); err != nil {
			return nil, fmt.Errorf("registering go collector: %w", err)
		}
		if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			return nil, fmt.Errorf("registering process collector: %w", err)
		}
	}

	r := &Recorder{
		prom: reg,
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "operation_duration_seconds",
			Help:      "Duration of service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		successes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "operation_success_total",
			Help:      "Service operations that completed without error.",
		}, []string{"operation"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "operation_errors_total",
			Help:      "Service operations that failed, by error code.",
		}, []string{"operation", "code"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status.",
		}, []string{"method", "route", "status"}),
		reqLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	for _, c := range []prometheus.Collector{r.durations, r.successes, r.failures, r.requests, r.reqLatency} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return r, nil
}

func (r *Recorder) RecordDuration(operation string, d time.Duration) {
	r.durations.WithLabelValues(operation).Observe(d.Seconds())
}

func (r *Recorder) RecordError(operation, code string) {
	r.failures.WithLabelValues(operation, code).Inc()
}

func (r *Recorder) RecordSuccess(operation string) {
	r.successes.WithLabelValues(operation).Inc()
}

// RecordRequest counts one served HTTP request. route is the route
// pattern, not the raw path.
func (r *Recorder) RecordRequest(method, route string, status int, d time.Duration) {
	r.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.reqLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Gatherer returns the underlying registry.
func (r *Recorder) Gatherer() prometheus.Gatherer { return r.prom }
