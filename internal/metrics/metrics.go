package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the ledger collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	transfersTotal     *prometheus.CounterVec
	casConflictsTotal  *prometheus.CounterVec
	partialsTotal      prometheus.Counter
	compensationsTotal *prometheus.CounterVec
	settlementsTotal   *prometheus.CounterVec
	gatewayCallsTotal  *prometheus.CounterVec
}

// New registers the collectors on reg; pass prometheus.DefaultRegisterer in main
// and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transfersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crowdfund_ledger",
				Subsystem: "engine",
				Name:      "transfers_total",
				Help:      "Transfers partitioned by kind and result.",
			},
			[]string{"kind", "result"},
		),
		casConflictsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crowdfund_ledger",
				Subsystem: "engine",
				Name:      "cas_conflicts_total",
				Help:      "Optimistic write conflicts partitioned by entity.",
			},
			[]string{"entity"},
		),
		partialsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "crowdfund_ledger",
				Subsystem: "engine",
				Name:      "partial_failures_total",
				Help:      "Transfers that applied some but not all writes.",
			},
		),
		compensationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crowdfund_ledger",
				Subsystem: "engine",
				Name:      "compensations_total",
				Help:      "Compensating reversals partitioned by result.",
			},
			[]string{"result"},
		),
		settlementsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crowdfund_ledger",
				Subsystem: "settlement",
				Name:      "settlements_total",
				Help:      "Gateway settlements partitioned by result.",
			},
			[]string{"result"},
		),
		gatewayCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crowdfund_ledger",
				Subsystem: "gateway",
				Name:      "calls_total",
				Help:      "Payment gateway calls partitioned by operation and result.",
			},
			[]string{"op", "result"},
		),
	}
}

func (m *Metrics) Transfer(kind, result string) {
	if m == nil {
		return
	}
	m.transfersTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) CASConflict(entity string) {
	if m == nil {
		return
	}
	m.casConflictsTotal.WithLabelValues(entity).Inc()
}

func (m *Metrics) Partial() {
	if m == nil {
		return
	}
	m.partialsTotal.Inc()
}

func (m *Metrics) Compensation(result string) {
	if m == nil {
		return
	}
	m.compensationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Settlement(result string) {
	if m == nil {
		return
	}
	m.settlementsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) GatewayCall(op, result string) {
	if m == nil {
		return
	}
	m.gatewayCallsTotal.WithLabelValues(op, result).Inc()
}
