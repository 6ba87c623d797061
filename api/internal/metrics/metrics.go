// Package metrics holds the Prometheus collectors shared by the gateway,
// the pipeline and the batch driver.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ModelCalls counts model invocations by backend and result ("ok" | "error").
	ModelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "halluclean_model_calls_total",
		Help: "Model invocations by backend and result",
	}, []string{"backend", "result"})

	// ModelCallDuration tracks the latency of a single model call.
	ModelCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "halluclean_model_call_duration_seconds",
		Help:    "Model call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
	}, []string{"backend"})

	// Verdicts counts judge outcomes by task.
	Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "halluclean_verdicts_total",
		Help: "Judge verdicts by task and verdict",
	}, []string{"task", "verdict"})

	// Revisions counts revise-stage calls by task.
	Revisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "halluclean_revisions_total",
		Help: "Revision calls by task",
	}, []string{"task"})

	// BatchRecords counts records processed by the batch driver.
	BatchRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "halluclean_batch_records_total",
		Help: "Batch records by task, mode and result",
	}, []string{"task", "mode", "result"})
)

// ObserveModelCall records one model invocation.
func ObserveModelCall(backend string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ModelCalls.WithLabelValues(backend, result).Inc()
	ModelCallDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// ObserveVerdict records a judge outcome.
func ObserveVerdict(task string, hallucinated bool) {
	v := "no"
	if hallucinated {
		v = "yes"
	}
	Verdicts.WithLabelValues(task, v).Inc()
}
