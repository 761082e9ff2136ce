package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lensbook"

// Metrics holds the booking counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	quotesAccepted    prometheus.Counter
	slotConflicts     prometheus.Counter
	transitions       *prometheus.CounterVec
	paymentsCaptured  *prometheus.CounterVec
	capturedAmount    *prometheus.CounterVec
	refundsIssued     prometheus.Counter
	refundedAmount    prometheus.Counter
	duplicateEvents   prometheus.Counter
	processorRetries  *prometheus.CounterVec
	processorFailures *prometheus.CounterVec
}

// New registers the booking collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		quotesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quotes",
			Name:      "accepted_total",
			Help:      "Quotes accepted into reservations.",
		}),
		slotConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quotes",
			Name:      "slot_conflicts_total",
			Help:      "Quote acceptances rejected because the slot was already claimed.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservations",
			Name:      "transitions_total",
			Help:      "Reservation state transitions by source and target state.",
		}, []string{"from", "to"}),
		paymentsCaptured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "captured_total",
			Help:      "Payment legs captured, by leg.",
		}, []string{"leg"}),
		capturedAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "captured_minor_units_total",
			Help:      "Captured gross amount in minor currency units, by leg.",
		}, []string{"leg"}),
		refundsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "refunds_total",
			Help:      "Refunds recorded in the ledger.",
		}),
		refundedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "refunded_minor_units_total",
			Help:      "Refunded amount in minor currency units.",
		}),
		duplicateEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "duplicate_events_total",
			Help:      "Processor events ignored because they were already recorded.",
		}),
		processorRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "retries_total",
			Help:      "Retries of transient processor failures, by operation.",
		}, []string{"op"}),
		processorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "failures_total",
			Help:      "Processor calls that failed after retries, by operation and kind.",
		}, []string{"op", "kind"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.quotesAccepted,
			m.slotConflicts,
			m.transitions,
			m.paymentsCaptured,
			m.capturedAmount,
			m.refundsIssued,
			m.refundedAmount,
			m.duplicateEvents,
			m.processorRetries,
			m.processorFailures,
		)
	}
	return m
}

func (m *Metrics) QuoteAccepted() {
	if m == nil {
		return
	}
	m.quotesAccepted.Inc()
}

func (m *Metrics) SlotConflict() {
	if m == nil {
		return
	}
	m.slotConflicts.Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) PaymentCaptured(leg string, amount int64) {
	if m == nil {
		return
	}
	m.paymentsCaptured.WithLabelValues(leg).Inc()
	m.capturedAmount.WithLabelValues(leg).Add(float64(amount))
}

func (m *Metrics) Refunded(amount int64) {
	if m == nil {
		return
	}
	m.refundsIssued.Inc()
	m.refundedAmount.Add(float64(amount))
}

func (m *Metrics) DuplicateEvent() {
	if m == nil {
		return
	}
	m.duplicateEvents.Inc()
}

func (m *Metrics) ProcessorRetry(op string) {
	if m == nil {
		return
	}
	m.processorRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) ProcessorFailure(op, kind string) {
	if m == nil {
		return
	}
	m.processorFailures.WithLabelValues(op, kind).Inc()
}
