package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Log metrics
	ChunksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventstore_chunks_total",
			Help: "Total number of chunk files in the transaction log",
		},
	)

	LogBytesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventstore_log_bytes_total",
			Help: "Total size of the transaction log in bytes",
		},
	)

	AppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventstore_append_duration_seconds",
			Help:    "Time taken to commit an append through the coordinator",
			Buckets: prometheus.DefBuckets,
		},
	)

	AppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventstore_appends_total",
			Help: "Total number of append requests by outcome",
		},
		[]string{"outcome"}, // committed, wrong_expected_version, stream_deleted, error
	)

	EventsAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "eventstore_events_appended_total",
			Help: "Total number of events committed to the log",
		},
	)

	// Index metrics
	StreamsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventstore_streams_total",
			Help: "Total number of distinct streams known to the index",
		},
	)

	IndexLookupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventstore_index_lookup_duration_seconds",
			Help:    "Time taken to resolve a stream/event-number index lookup",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventstore_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventstore_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventstore_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Subscription metrics
	SubscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventstore_subscriptions_total",
			Help: "Total number of active subscriptions by mode",
		},
		[]string{"mode"}, // live, catchup_stream, catchup_all
	)

	SubscriptionsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventstore_subscriptions_dropped_total",
			Help: "Total number of subscriptions dropped by reason",
		},
		[]string{"reason"},
	)

	SubscriberLag = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventstore_subscriber_lag_events",
			Help:    "Number of events a catch-up subscription is behind the log tail when it reaches live",
			Buckets: []float64{0, 1, 10, 100, 1000, 10000, 100000},
		},
	)

	// Persistent subscription metrics
	PersistentGroupsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventstore_persistent_groups_total",
			Help: "Total number of persistent subscription groups",
		},
	)

	PersistentInFlightTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventstore_persistent_in_flight_total",
			Help: "Number of events currently in flight per persistent subscription group",
		},
		[]string{"stream", "group"},
	)

	PersistentParkedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventstore_persistent_parked_total",
			Help: "Total number of events parked by a persistent subscription group",
		},
		[]string{"stream", "group", "reason"},
	)

	PersistentAcksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventstore_persistent_acks_total",
			Help: "Total number of acked events per persistent subscription group",
		},
		[]string{"stream", "group"},
	)

	PersistentLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "eventstore_persistent_lag_events",
			Help: "Difference between the stream tail and a group's checkpoint",
		},
		[]string{"stream", "group"},
	)
)

func init() {
	prometheus.MustRegister(ChunksTotal)
	prometheus.MustRegister(LogBytesTotal)
	prometheus.MustRegister(AppendDuration)
	prometheus.MustRegister(AppendsTotal)
	prometheus.MustRegister(EventsAppendedTotal)

	prometheus.MustRegister(StreamsTotal)
	prometheus.MustRegister(IndexLookupDuration)

	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)

	prometheus.MustRegister(SubscriptionsTotal)
	prometheus.MustRegister(SubscriptionsDroppedTotal)
	prometheus.MustRegister(SubscriberLag)

	prometheus.MustRegister(PersistentGroupsTotal)
	prometheus.MustRegister(PersistentInFlightTotal)
	prometheus.MustRegister(PersistentParkedTotal)
	prometheus.MustRegister(PersistentAcksTotal)
	prometheus.MustRegister(PersistentLag)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
