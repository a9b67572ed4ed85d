package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce              sync.Once
	httpDurationHistogram     *prometheus.HistogramVec
	invariantViolationCounter *prometheus.CounterVec
	idempotencyCounter        *prometheus.CounterVec
	reconciliationQueueGauge  prometheus.Gauge
	reconciliationFlagCounter *prometheus.CounterVec
	withdrawalDecisionCounter *prometheus.CounterVec
	ledgerEntryCounter        *prometheus.CounterVec
	versionConflictCounter    prometheus.Counter
	workerRunCounter          *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		invariantViolationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_invariant_violations_total",
			Help: "Wallets found out of balance by reconciliation",
		}, []string{"check"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		reconciliationQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reconciliation_queue_size",
			Help: "Orders currently flagged as needing reconciliation",
		})

		reconciliationFlagCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_reconciliation_events_total",
			Help: "Orders flagged for or repaired from reconciliation",
		}, []string{"event"})

		withdrawalDecisionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawal_decisions_total",
			Help: "Withdrawal requests by final decision",
		}, []string{"decision"})

		ledgerEntryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_entries_total",
			Help: "Ledger apply outcomes by entry type",
		}, []string{"type", "outcome"})

		versionConflictCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_version_conflicts_total",
			Help: "Optimistic wallet version conflicts that forced a retry",
		})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			invariantViolationCounter,
			idempotencyCounter,
			reconciliationQueueGauge,
			reconciliationFlagCounter,
			withdrawalDecisionCounter,
			ledgerEntryCounter,
			versionConflictCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementInvariantViolation(check string) {
	if invariantViolationCounter == nil {
		return
	}
	invariantViolationCounter.WithLabelValues(check).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func SetReconciliationQueueSize(size int64) {
	if reconciliationQueueGauge == nil {
		return
	}
	reconciliationQueueGauge.Set(float64(size))
}

func IncrementReconciliationEvent(event string) {
	if reconciliationFlagCounter == nil {
		return
	}
	reconciliationFlagCounter.WithLabelValues(event).Inc()
}

func IncrementWithdrawalDecision(decision string) {
	if withdrawalDecisionCounter == nil {
		return
	}
	withdrawalDecisionCounter.WithLabelValues(decision).Inc()
}

func IncrementLedgerEntry(entryType, outcome string) {
	if ledgerEntryCounter == nil {
		return
	}
	ledgerEntryCounter.WithLabelValues(entryType, outcome).Inc()
}

func IncrementVersionConflict() {
	if versionConflictCounter == nil {
		return
	}
	versionConflictCounter.Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
