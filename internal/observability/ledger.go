package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics counts postings and close attempts. It satisfies both the
// journal and close metrics ports; a nil receiver records nothing.
type LedgerMetrics struct {
	entriesPosted *prometheus.CounterVec
	batchEntries  prometheus.Histogram
	closeAttempts *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger collectors on registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	entries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_gl_entries_posted_total",
		Help: "Journal entries posted, partitioned by source.",
	}, []string{"source"})
	batches := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "odyssey_gl_batch_entries",
		Help:    "Entries posted per posting batch.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
	})
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_gl_close_attempts_total",
		Help: "Fiscal period close completion attempts by close type and outcome.",
	}, []string{"type", "outcome"})
	registerer.MustRegister(entries, batches, attempts)
	return &LedgerMetrics{entriesPosted: entries, batchEntries: batches, closeAttempts: attempts}
}

// EntryPosted counts one posted entry.
func (m *LedgerMetrics) EntryPosted(source string) {
	if m == nil {
		return
	}
	if source == "" {
		source = "MANUAL"
	}
	m.entriesPosted.WithLabelValues(source).Inc()
}

// BatchPosted observes the size of a posted batch.
func (m *LedgerMetrics) BatchPosted(entries int) {
	if m == nil {
		return
	}
	m.batchEntries.Observe(float64(entries))
}

// CloseAttempt counts a close completion outcome.
func (m *LedgerMetrics) CloseAttempt(closeType, outcome string) {
	if m == nil {
		return
	}
	m.closeAttempts.WithLabelValues(closeType, outcome).Inc()
}
