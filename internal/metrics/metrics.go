package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minions",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of start attempts by result (ok or error).",
		}, []string{"result"},
	)
	processStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "minions",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of processes moved to STOPPED by stop, delete or shutdown.",
		},
	)
	processTerminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minions",
			Subsystem: "process",
			Name:      "terminations_total",
			Help:      "Number of OS process terminations by mode (graceful or forced).",
		}, []string{"mode"},
	)
	processRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "minions",
			Subsystem: "process",
			Name:      "running",
			Help:      "Processes currently tracked by the supervisor.",
		},
	)
	operationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minions",
			Name:      "operation_failures_total",
			Help:      "Failed lifecycle operations by operation and error kind.",
		}, []string{"op", "kind"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{processStarts, processStops, processTerminations, processRunning, operationFailures}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics gathered from g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(ok bool) {
	if regOK.Load() {
		result := "ok"
		if !ok {
			result = "error"
		}
		processStarts.WithLabelValues(result).Inc()
	}
}

func IncStop() {
	if regOK.Load() {
		processStops.Inc()
	}
}

func IncTermination(forced bool) {
	if regOK.Load() {
		mode := "graceful"
		if forced {
			mode = "forced"
		}
		processTerminations.WithLabelValues(mode).Inc()
	}
}

func SetRunning(n int) {
	if regOK.Load() {
		processRunning.Set(float64(n))
	}
}

func IncFailure(op, kind string) {
	if regOK.Load() {
		operationFailures.WithLabelValues(op, kind).Inc()
	}
}
