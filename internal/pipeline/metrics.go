package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// filesProcessed counts finished runs.
	// Labels: policy, state (ok, error), exit (continue, soft-stop, hard-fail)
	filesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seisarchive",
		Subsystem: "pipeline",
		Name:      "files_total",
		Help:      "Files that finished a pipeline run",
	}, []string{"policy", "state", "exit"})

	// halts counts runs ended by a halt.
	// Labels: stage, code, class (policy, infrastructure, invariant)
	halts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seisarchive",
		Subsystem: "pipeline",
		Name:      "halts_total",
		Help:      "Pipeline halts by stage and reason code",
	}, []string{"stage", "code", "class"})

	// stageDuration measures stage execution time.
	// Labels: stage, outcome (continue, goto, halt, error)
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "seisarchive",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Stage execution latency in seconds",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
	}, []string{"stage", "outcome"})
)

func observeStage(stageName, outcome string, elapsed time.Duration) {
	stageDuration.WithLabelValues(stageName, outcome).Observe(elapsed.Seconds())
}

func recordResult(policy string, res Result) {
	filesProcessed.WithLabelValues(policy, string(res.State), res.Session.Exit().String()).Inc()
	if res.Halted {
		halts.WithLabelValues(res.Stage, res.Reason.Code, string(res.Reason.Class)).Inc()
	}
}
