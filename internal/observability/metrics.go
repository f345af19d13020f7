package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce           sync.Once
	httpDurationHistogram  *prometheus.HistogramVec
	commandCounter         *prometheus.CounterVec
	commandConflictCounter prometheus.Counter
	projectionApplied      *prometheus.CounterVec
	projectionSkipped      prometheus.Counter
	projectionCorruptions  prometheus.Counter
	projectionCheckpoint   prometheus.Gauge
	liveDroppedCounter     prometheus.Counter
	liveSubscribersGauge   prometheus.Gauge
	idempotencyCounter     *prometheus.CounterVec
	replayCounter          *prometheus.CounterVec
	reconcileMismatches    *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		commandCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "account_commands_total",
			Help: "Account commands by outcome",
		}, []string{"command", "result"})

		commandConflictCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "account_command_conflicts_total",
			Help: "Optimistic concurrency conflicts retried by the dispatcher",
		})

		projectionApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "projection_events_applied_total",
			Help: "Events applied to the read model",
		}, []string{"type"})

		projectionSkipped = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "projection_events_skipped_total",
			Help: "Events skipped because they were already applied",
		})

		projectionCorruptions = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "projection_corruptions_total",
			Help: "Events rejected as projection corruption",
		})

		projectionCheckpoint = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "projection_checkpoint",
			Help: "Last global sequence consumed by the projection",
		})

		liveDroppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "live_updates_dropped_total",
			Help: "Live updates discarded for slow subscribers",
		})

		liveSubscribersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "live_subscribers",
			Help: "Open live-update subscriptions",
		})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		replayCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "replays_total",
			Help: "Read model replays by outcome",
		}, []string{"result"})

		reconcileMismatches = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "read_model_mismatches_total",
			Help: "Accounts whose projected summary disagrees with the event log",
		}, []string{"field"})

		prometheus.MustRegister(
			httpDurationHistogram,
			commandCounter,
			commandConflictCounter,
			projectionApplied,
			projectionSkipped,
			projectionCorruptions,
			projectionCheckpoint,
			liveDroppedCounter,
			liveSubscribersGauge,
			idempotencyCounter,
			replayCounter,
			reconcileMismatches,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementCommand(command, result string) {
	if commandCounter == nil {
		return
	}
	commandCounter.WithLabelValues(command, result).Inc()
}

func IncrementCommandConflict() {
	if commandConflictCounter == nil {
		return
	}
	commandConflictCounter.Inc()
}

func IncrementProjectionApplied(eventType string) {
	if projectionApplied == nil {
		return
	}
	projectionApplied.WithLabelValues(eventType).Inc()
}

func IncrementProjectionSkipped() {
	if projectionSkipped == nil {
		return
	}
	projectionSkipped.Inc()
}

func IncrementProjectionCorruption() {
	if projectionCorruptions == nil {
		return
	}
	projectionCorruptions.Inc()
}

func SetProjectionCheckpoint(seq uint64) {
	if projectionCheckpoint == nil {
		return
	}
	projectionCheckpoint.Set(float64(seq))
}

func IncrementLiveUpdateDropped() {
	if liveDroppedCounter == nil {
		return
	}
	liveDroppedCounter.Inc()
}

func SetLiveSubscribers(n int) {
	if liveSubscribersGauge == nil {
		return
	}
	liveSubscribersGauge.Set(float64(n))
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementReplay(result string) {
	if replayCounter == nil {
		return
	}
	replayCounter.WithLabelValues(result).Inc()
}

func IncrementReconcileMismatch(field string) {
	if reconcileMismatches == nil {
		return
	}
	reconcileMismatches.WithLabelValues(field).Inc()
}
