package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels completed analysis runs.
	OutcomeSuccess = "success"
	// OutcomeError labels failed analysis runs.
	OutcomeError = "error"
)

var (
	analysisRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "analysis_runs_total",
			Help:      "Total number of correlation runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "correlator",
			Name:      "analysis_seconds",
			Help:      "Correlation run latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	pairsEmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "session_pairs_emitted_total",
			Help:      "Total number of session pairs emitted across all runs.",
		},
	)

	candidatesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "candidates_dropped_total",
			Help:      "Candidate pairs dropped before emission and guard groups too small to cluster, partitioned by reason.",
		},
		[]string{"reason"},
	)
)

// Register attaches correlator collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysisRunsTotal,
		analysisDurationSeconds,
		pairsEmittedTotal,
		candidatesDroppedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records a run duration and outcome label.
func ObserveRun(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	analysisRunsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// AddPairsEmitted counts emitted session pairs.
func AddPairsEmitted(n int) {
	if n > 0 {
		pairsEmittedTotal.Add(float64(n))
	}
}

// AddCandidatesDropped counts dropped candidates under a reason label.
func AddCandidatesDropped(reason string, n int) {
	if n > 0 {
		candidatesDroppedTotal.WithLabelValues(reason).Add(float64(n))
	}
}
