package rpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const outcomeOK = "ok"

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainstream_rpc_calls_total",
		Help: "Provider calls by method and outcome (ok or the error class of the final failure)",
	}, []string{"method", "outcome"})

	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "chainstream_rpc_call_duration_seconds",
		Help: "Duration of provider calls including retries",
		// 10ms .. ~20s
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), //nolint:mnd
	}, []string{"method"})

	callsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainstream_rpc_calls_in_flight",
		Help: "Provider calls currently running or waiting for a retry",
	})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainstream_rpc_retries_total",
		Help: "Retries by method and the class of the failure retried",
	}, []string{"method", "error_class"})

	limiterWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chainstream_rpc_rate_limiter_wait_seconds",
		Help:    "Time calls spent waiting for the client side rate limiter",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), //nolint:mnd
	})
)

// trackCall marks a call as started and returns the function that records its result.
func trackCall(method string) func(err error) {
	start := time.Now()
	callsInFlight.Inc()

	return func(err error) {
		callsInFlight.Dec()
		callDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

		outcome := outcomeOK
		if err != nil {
			outcome = classify(err).String()
		}
		callsTotal.WithLabelValues(method, outcome).Inc()
	}
}

func observeRetry(method string, class errorClass) {
	retriesTotal.WithLabelValues(method, class.String()).Inc()
}
