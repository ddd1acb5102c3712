package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WalletMetrics records outcomes of ledger operations.
type WalletMetrics struct {
	duration          *prometheus.HistogramVec
	committed         *prometheus.CounterVec
	failed            *prometheus.CounterVec
	insufficientFunds prometheus.Counter
	balanceConflicts  prometheus.Counter
}

// NewWalletMetrics registers the wallet metrics on the provided registerer.
func NewWalletMetrics(reg prometheus.Registerer) *WalletMetrics {
	if reg == nil {
		return &WalletMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_operation_duration_seconds",
		Help:    "Duration of wallet ledger operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	committed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_transactions_committed",
		Help: "Committed wallet transactions by type.",
	}, []string{"type"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_operation_failures",
		Help: "Failed wallet ledger operations by operation.",
	}, []string{"operation"})
	insufficientFunds := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallet_insufficient_funds_total",
		Help: "Debits declined because the balance was too low.",
	})
	balanceConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wallet_balance_conflicts_total",
		Help: "Conditional balance updates that lost a concurrent race and were retried.",
	})
	reg.MustRegister(duration, committed, failed, insufficientFunds, balanceConflicts)
	return &WalletMetrics{
		duration:          duration,
		committed:         committed,
		failed:            failed,
		insufficientFunds: insufficientFunds,
		balanceConflicts:  balanceConflicts,
	}
}

// ObserveDuration records the duration for the named operation.
func (m *WalletMetrics) ObserveDuration(operation string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncCommitted increments the committed transaction counter for the type.
func (m *WalletMetrics) IncCommitted(txType string) {
	if m == nil || m.committed == nil {
		return
	}
	m.committed.WithLabelValues(normalizeLabel(txType)).Inc()
}

// IncFailed increments the failure counter for the named operation.
func (m *WalletMetrics) IncFailed(operation string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(operation)).Inc()
}

// IncInsufficientFunds counts a debit declined by the sufficiency check.
func (m *WalletMetrics) IncInsufficientFunds() {
	if m == nil || m.insufficientFunds == nil {
		return
	}
	m.insufficientFunds.Inc()
}

// IncBalanceConflict counts a lost conditional balance update.
func (m *WalletMetrics) IncBalanceConflict() {
	if m == nil || m.balanceConflicts == nil {
		return
	}
	m.balanceConflicts.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
