package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	swapMetricsOnce sync.Once
	swapRegistry    *SwapMetrics
)

// SwapMetrics bundles collectors tracking swap and payment settlement
// activity.
type SwapMetrics struct {
	swaps    *prometheus.CounterVec
	payments *prometheus.CounterVec
	volume   *prometheus.CounterVec
}

// Swap returns the lazily-initialised metrics registry for the swap engine.
func Swap() *SwapMetrics {
	swapMetricsOnce.Do(func() {
		swapRegistry = &SwapMetrics{
			swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flowmint",
				Subsystem: "swap",
				Name:      "swaps_total",
				Help:      "Count of swap executions segmented by outcome.",
			}, []string{"outcome"}),
			payments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flowmint",
				Subsystem: "swap",
				Name:      "payments_total",
				Help:      "Count of payment settlements segmented by outcome.",
			}, []string{"outcome"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flowmint",
				Subsystem: "swap",
				Name:      "volume_total",
				Help:      "Settled volume in integer stable units segmented by asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			swapRegistry.swaps,
			swapRegistry.payments,
			swapRegistry.volume,
		)
	})
	return swapRegistry
}

// RecordSwap increments the swap counter for the supplied outcome.
func (m *SwapMetrics) RecordSwap(outcome string) {
	if m == nil {
		return
	}
	m.swaps.WithLabelValues(labelOutcome(outcome)).Inc()
}

// RecordPayment increments the payment counter for the supplied outcome.
func (m *SwapMetrics) RecordPayment(outcome string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(labelOutcome(outcome)).Inc()
}

// RecordVolume adds settled volume for an asset. Negative amounts are
// ignored.
func (m *SwapMetrics) RecordVolume(asset string, amount float64) {
	if m == nil || amount < 0 {
		return
	}
	label := strings.ToUpper(strings.TrimSpace(asset))
	if label == "" {
		label = "UNKNOWN"
	}
	m.volume.WithLabelValues(label).Add(amount)
}

func labelOutcome(outcome string) string {
	trimmed := strings.TrimSpace(outcome)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
