// Package metrics holds the counters shared by every stage and serves the
// scrape endpoint. Stage-specific counters live in their stage packages.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Error types used as the error_type label.
const (
	ErrTypeTransient   = "transient"
	ErrTypeMalformed   = "malformed_input"
	ErrTypeModelOutput = "model_output"
	ErrTypeNotFound    = "not_found"
	ErrTypeDelivery    = "delivery"
)

var (
	errorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "newsprism_errors_total",
		Help: "The number of errors by error type",
	}, []string{"error_type"})
	operationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "newsprism_operation_seconds",
		Help: "Time taken by an operation",
		Buckets: []float64{
			0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 20, 30, 60,
		},
	}, []string{"request_type"})
)

// IncrementError increments the error counter for the given error type.
func IncrementError(errType string) {
	errorCounter.With(prometheus.Labels{"error_type": errType}).Inc()
}

// ObserveOperation records the duration of one operation under request_type.
func ObserveOperation(requestType string, d time.Duration) {
	operationHistogram.With(prometheus.Labels{"request_type": requestType}).Observe(d.Seconds())
}

// TimeOperation returns a func that records the elapsed time when called.
//
//	defer metrics.TimeOperation("rank_post")()
func TimeOperation(requestType string) func() {
	start := time.Now()
	return func() { ObserveOperation(requestType, time.Since(start)) }
}

// Serve exposes /metrics on the given address in a background goroutine.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Error("Metrics endpoint stopped")
		}
	}()
}

func init() {
	prometheus.MustRegister(errorCounter)
	prometheus.MustRegister(operationHistogram)
}
