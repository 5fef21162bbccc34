package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records settlement and ledger activity.
type Metrics struct {
	ledgerEntries        *prometheus.CounterVec
	commissionPostings   *prometheus.CounterVec
	distributionFailures prometheus.Counter
	replayMismatches     prometheus.Counter
	idempotentReplays    *prometheus.CounterVec
	settlementDuration   prometheus.Histogram
}

// New registers the metric set on the default registerer.
func New() (*Metrics, error) {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metric set on reg. Tests pass their own registry.
func NewWith(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stakeroom",
			Name:      "ledger_entries_total",
			Help:      "Ledger entries appended, by entry type.",
		}, []string{"entry_type"}),
		commissionPostings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stakeroom",
			Name:      "commission_postings_total",
			Help:      "Commission postings created, by game category.",
		}, []string{"category"}),
		distributionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stakeroom",
			Name:      "commission_distribution_failures_total",
			Help:      "Per-node commission posting failures awaiting manual reconciliation.",
		}),
		replayMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stakeroom",
			Name:      "ledger_replay_mismatches_total",
			Help:      "Accounts frozen because ledger replay diverged from the stored balance.",
		}),
		idempotentReplays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stakeroom",
			Name:      "idempotent_replays_total",
			Help:      "Duplicate triggers absorbed as no-ops, by kind.",
		}, []string{"kind"}),
		settlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stakeroom",
			Name:      "bet_settlement_duration_seconds",
			Help:      "End-to-end bet settlement duration including distribution.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	collectors := []prometheus.Collector{
		m.ledgerEntries,
		m.commissionPostings,
		m.distributionFailures,
		m.replayMismatches,
		m.idempotentReplays,
		m.settlementDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RecordLedgerEntry(entryType string) {
	m.ledgerEntries.WithLabelValues(entryType).Inc()
}

func (m *Metrics) RecordCommissionPosting(category string) {
	m.commissionPostings.WithLabelValues(category).Inc()
}

func (m *Metrics) RecordDistributionFailure() {
	m.distributionFailures.Inc()
}

func (m *Metrics) RecordReplayMismatch() {
	m.replayMismatches.Inc()
}

func (m *Metrics) RecordIdempotentReplay(kind string) {
	m.idempotentReplays.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveSettlement(d time.Duration) {
	m.settlementDuration.Observe(d.Seconds())
}
