// Package metrics exposes application-level prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics exposes the webhook pipeline instruments.
type Metrics struct {
	registry *prometheus.Registry

	eventsReceived  *prometheus.CounterVec
	eventsFinalized *prometheus.CounterVec
	invoiceRetries  prometheus.Counter
	invalidStates   prometheus.Counter
}

func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "substation",
			Name:      "events_received_total",
			Help:      "Inbound processor notifications persisted to the ledger.",
		}, []string{"payload_type"}),
		eventsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "substation",
			Name:      "events_finalized_total",
			Help:      "Ledger events reaching a terminal status.",
		}, []string{"type", "status"}),
		invoiceRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "substation",
			Name:      "invoice_retries_total",
			Help:      "Open-invoice retry calls issued after a payment method change.",
		}),
		invalidStates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "substation",
			Name:      "invalid_states_total",
			Help:      "State derivations that fell through to the invalid case.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.eventsReceived,
		m.eventsFinalized,
		m.invoiceRetries,
		m.invalidStates,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordEventReceived(payloadType string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(payloadType).Inc()
}

func (m *Metrics) RecordEventFinalized(eventType, status string) {
	if m == nil {
		return
	}
	m.eventsFinalized.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) RecordInvoiceRetry() {
	if m == nil {
		return
	}
	m.invoiceRetries.Inc()
}

func (m *Metrics) RecordInvalidState() {
	if m == nil {
		return
	}
	m.invalidStates.Inc()
}
