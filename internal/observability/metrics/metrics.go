package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents counts processed provider events by type and outcome
	// (applied, duplicate, ignored, error).
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paperstream",
		Name:      "webhook_events_total",
		Help:      "Billing provider webhook events processed.",
	}, []string{"type", "outcome"})

	// WebhookUnknownPrice counts subscription events carrying a price the
	// catalog does not know. Nonzero means the catalog and the provider
	// dashboard have drifted.
	WebhookUnknownPrice = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "paperstream",
		Name:      "webhook_unknown_price_total",
		Help:      "Webhook events referencing a price absent from the plan catalog.",
	})

	// UsageDecisions counts gate verdicts; allowed decisions use reason
	// "allowed".
	UsageDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paperstream",
		Name:      "usage_decisions_total",
		Help:      "Usage gate decisions by outcome reason.",
	}, []string{"reason"})
)
