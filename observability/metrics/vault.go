// Package metrics exposes Prometheus instruments for vault workflows.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics implements the engine's metrics sink contract.
type VaultMetrics struct {
	processingState    prometheus.Gauge
	workflowsStarted   *prometheus.CounterVec
	workflowsCompleted *prometheus.CounterVec
	workflowsFailed    *prometheus.CounterVec
	refundsRecorded    prometheus.Counter
	staleLockEvictions prometheus.Counter
}

var (
	vaultOnce     sync.Once
	vaultRegistry *VaultMetrics
)

// Vault returns the process-wide vault metrics, registering them on first use.
func Vault() *VaultMetrics {
	vaultOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			processingState: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "vault_processing_state",
				Help: "Numeric processing state currently holding the vault lock.",
			}),
			workflowsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_workflows_started_total",
				Help: "Count of workflow acquisitions by workflow tag.",
			}, []string{"workflow"}),
			workflowsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_workflows_completed_total",
				Help: "Count of workflows that reached their terminal success event.",
			}, []string{"workflow"}),
			workflowsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_workflows_failed_total",
				Help: "Count of workflows that ended in a failure event.",
			}, []string{"workflow"}),
			refundsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "vault_refund_entries_total",
				Help: "Number of failed transfers recorded in the refund ledger.",
			}),
			staleLockEvictions: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "vault_stale_lock_evictions_total",
				Help: "Number of processing locks overwritten past the stale timeout.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.processingState,
			vaultRegistry.workflowsStarted,
			vaultRegistry.workflowsCompleted,
			vaultRegistry.workflowsFailed,
			vaultRegistry.refundsRecorded,
			vaultRegistry.staleLockEvictions,
		)
	})
	return vaultRegistry
}

func (m *VaultMetrics) SetProcessingState(state uint8) {
	if m == nil {
		return
	}
	m.processingState.Set(float64(state))
}

func (m *VaultMetrics) WorkflowStarted(tag string) {
	if m == nil {
		return
	}
	m.workflowsStarted.WithLabelValues(tag).Inc()
}

func (m *VaultMetrics) WorkflowCompleted(tag string) {
	if m == nil {
		return
	}
	m.workflowsCompleted.WithLabelValues(tag).Inc()
}

func (m *VaultMetrics) WorkflowFailed(tag string) {
	if m == nil {
		return
	}
	m.workflowsFailed.WithLabelValues(tag).Inc()
}

func (m *VaultMetrics) RefundRecorded() {
	if m == nil {
		return
	}
	m.refundsRecorded.Inc()
}

// StaleLockEvicted records a lock takeover after the stale timeout.
func (m *VaultMetrics) StaleLockEvicted() {
	if m == nil {
		return
	}
	m.staleLockEvictions.Inc()
}
