package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_reallocation_cycles_total",
			Help: "Total reallocation cycles by outcome",
		},
		[]string{"result"}, // success|skipped|failure
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "planner_reallocation_cycle_duration_seconds",
			Help:    "Duration of reallocation cycles",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlansPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "planner_plans_persisted_total",
			Help: "Host allocation plans committed by reallocation cycles",
		},
	)

	TokensDistributed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_tokens_distributed_total",
			Help: "Class 1 tokens handed to hosts at plan-serving time",
		},
		[]string{"source"}, // weight|even_split|unsplit
	)

	SnapshotReports = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "planner_stats_snapshot_reports",
			Help: "Feedback reports in the current stats snapshot",
		},
	)

	FeedbackMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "planner_feedback_messages_total",
			Help: "Feedback messages received by transport and outcome",
		},
		[]string{"transport", "result"}, // pubsub|kafka|http, accepted|rejected|failed
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(PlansPersisted)
	prometheus.MustRegister(TokensDistributed)
	prometheus.MustRegister(SnapshotReports)
	prometheus.MustRegister(FeedbackMessagesTotal)
}

func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
