package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for cashbotd.
// Every component takes a *Metrics that may be nil; the helper methods below
// are no-ops on a nil receiver.
type Metrics struct {
	// --- Ledger ---
	LedgerCommits     *prometheus.CounterVec
	LedgerRejections  *prometheus.CounterVec
	LedgerBalance     prometheus.Gauge
	LedgerHighest     prometheus.Gauge
	LedgerDailyGains  prometheus.Gauge
	LedgerSequence    prometheus.Gauge
	SubscriberPanics  prometheus.Counter
	MirrorFailures    *prometheus.CounterVec
	DedupLRUSize      prometheus.Gauge
	DedupLRUEvictions prometheus.Counter

	// --- Event bus ---
	BusDelivered *prometheus.CounterVec
	BusPanics    *prometheus.CounterVec
	BusDropped   *prometheus.CounterVec

	// --- Sync ---
	SyncOutcomes *prometheus.CounterVec
	SyncDuration prometheus.Histogram
	SyncLastOK   prometheus.Gauge

	// --- Broadcast ---
	BroadcastPublished prometheus.Counter
	BroadcastReceived  *prometheus.CounterVec

	// --- Sessions & scheduler ---
	SessionsSimulated *prometheus.CounterVec
	SchedulerRuns     *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge
	PersistDrops         prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates the metrics and registers them with reg.
// A nil reg creates unregistered collectors, which tests use to avoid
// duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		// Ledger
		LedgerCommits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cashbot_ledger_commits_total",
			Help: "Committed ledger changes",
		}, []string{"kind"}),

		LedgerRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cashbot_ledger_rejections_total",
			Help: "Ledger operations rejected (invalid, unbound, limit, duplicate, stale)",
		}, []string{"kind"}),

		LedgerBalance: f.NewGauge(prometheus.GaugeOpts{
			Name: "cashbot_ledger_balance",
			Help: "Current displayed balance of the bound user",
		}),

		LedgerHighest: f.NewGauge(prometheus.GaugeOpts{
			Name: "cashbot_ledger_highest_observed_balance",
			Help: "Highest observed balance watermark",
		}),

		LedgerDailyGains: f.NewGauge(prometheus.GaugeOpts{
			Name: "cashbot_ledger_daily_gains",
			Help: "Gains credited in the current daily window",
		}),

		LedgerSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "cashbot_ledger_sequence",
			Help: "Sequence of the last committed change",
		}),

		SubscriberPanics: f.NewCounter(prometheus.CounterOpts{
			Name: "cashbot_ledger_subscriber_panics_total",
			Help: "Panics recovered from ledger subscribers",
		}),

		MirrorFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cashbot_mirror_failures_total",
			Help: "Local mirror read/write/clear failures",
		}, []string{"op"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "cashbot_dedup_lru_size",
			Help: "Current delta dedup LRU occupancy",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "cashbot_dedup_lru_evictions_total",
			Help: "Delta dedup LRU evictions",
		}),

		// Event bus
		BusDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cashbot_bus_delivered_total",
			Help: "Events delivered to bus handlers",
		}, []string{"event_type"}),

		BusPanics: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cashbot_bus_handler_panics_total",
			Help: "Panics recovered from bus handlers",
		}, []string{"event_type"}),

		BusDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cashbot_bus_dropped_total",
			Help: "Events dropped by the router",
		}, []string{"event_type", "reason"}),

		// Sync
		SyncOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cashbot_sync_outcomes_total",
			Help: "Remote sync outcomes",
		}, []string{"outcome", "reason"}),

		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cashbot_sync_duration_seconds",
			Help:    "Remote sync round trip",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		SyncLastOK: f.NewGauge(prometheus.GaugeOpts{
			Name: "cashbot_sync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful sync",
		}),

		// Broadcast
		BroadcastPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "cashbot_broadcast_published_total",
			Help: "Balance changes published to NATS",
		}),

		BroadcastReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cashbot_broadcast_received_total",
			Help: "Balance changes received from NATS",
		}, []string{"result"}),

		// Sessions & scheduler
		SessionsSimulated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cashbot_sessions_simulated_total",
			Help: "Simulated earning sessions",
		}, []string{"result"}),

		SchedulerRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cashbot_scheduler_runs_total",
			Help: "Scheduled job runs",
		}, []string{"job", "result"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "cashbot_persist_events_written_total",
			Help: "Balance events written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cashbot_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cashbot_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cashbot_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "cashbot_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "cashbot_persist_last_sequence",
			Help: "Last persisted ledger sequence",
		}),

		PersistDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "cashbot_persist_drops_total",
			Help: "Changes dropped because the journal channel was full",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cashbot_query_requests_total",
			Help: "HTTP API requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cashbot_query_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// CommitRecorded counts a committed ledger change and updates the gauges.
func (m *Metrics) CommitRecorded(kind string, balance, highest, gains float64, seq int64) {
	if m == nil {
		return
	}
	m.LedgerCommits.WithLabelValues(kind).Inc()
	m.LedgerBalance.Set(balance)
	m.LedgerHighest.Set(highest)
	m.LedgerDailyGains.Set(gains)
	m.LedgerSequence.Set(float64(seq))
}

// RejectionRecorded counts a rejected ledger operation.
func (m *Metrics) RejectionRecorded(kind string) {
	if m == nil {
		return
	}
	m.LedgerRejections.WithLabelValues(kind).Inc()
}

// SubscriberPanicked counts a recovered subscriber panic.
func (m *Metrics) SubscriberPanicked() {
	if m == nil {
		return
	}
	m.SubscriberPanics.Inc()
}

// MirrorFailed counts a failed mirror operation.
func (m *Metrics) MirrorFailed(op string) {
	if m == nil {
		return
	}
	m.MirrorFailures.WithLabelValues(op).Inc()
}

// SetDedupMetrics updates LRU occupancy and evictions.
func (m *Metrics) SetDedupMetrics(size int, newEvictions int64) {
	if m == nil {
		return
	}
	m.DedupLRUSize.Set(float64(size))
	if newEvictions > 0 {
		m.DedupLRUEvictions.Add(float64(newEvictions))
	}
}

// BusDelivery counts one delivery of eventType; panicked marks a recovered
// handler panic.
func (m *Metrics) BusDelivery(eventType string, panicked bool) {
	if m == nil {
		return
	}
	m.BusDelivered.WithLabelValues(eventType).Inc()
	if panicked {
		m.BusPanics.WithLabelValues(eventType).Inc()
	}
}

// BusDrop counts an event the router refused.
func (m *Metrics) BusDrop(eventType, reason string) {
	if m == nil {
		return
	}
	m.BusDropped.WithLabelValues(eventType, reason).Inc()
}

// SyncObserved records one sync attempt.
func (m *Metrics) SyncObserved(outcome, reason string, seconds float64, ok bool, unixNow float64) {
	if m == nil {
		return
	}
	m.SyncOutcomes.WithLabelValues(outcome, reason).Inc()
	m.SyncDuration.Observe(seconds)
	if ok {
		m.SyncLastOK.Set(unixNow)
	}
}

// SchedulerRun records one scheduled job run.
func (m *Metrics) SchedulerRun(job string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SchedulerRuns.WithLabelValues(job, result).Inc()
}

// SessionSimulated records the result of one simulated session.
func (m *Metrics) SessionSimulated(result string) {
	if m == nil {
		return
	}
	m.SessionsSimulated.WithLabelValues(result).Inc()
}

// BroadcastIn records a received broadcast.
func (m *Metrics) BroadcastIn(result string) {
	if m == nil {
		return
	}
	m.BroadcastReceived.WithLabelValues(result).Inc()
}

// BroadcastOut records a published broadcast.
func (m *Metrics) BroadcastOut() {
	if m == nil {
		return
	}
	m.BroadcastPublished.Inc()
}

// QueryObserved records one HTTP API request.
func (m *Metrics) QueryObserved(endpoint string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.QueryDuration.WithLabelValues(endpoint).Observe(seconds)
}
