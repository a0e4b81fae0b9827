package stripe

import (
	"encoding/json"
	"strings"
	"time"

	paymentdomain "github.com/paperstreamhq/paperstream/internal/payment/domain"
)

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type eventCheckoutSession struct {
	ID           string            `json:"id"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type eventSubscription struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []stripeSubscriptionItem `json:"data"`
	} `json:"items"`
}

type eventInvoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
}

// ParseEvent maps a raw Stripe webhook payload to a reconciliation event.
// Event types outside the reconciler's contract return ErrEventIgnored so
// the endpoint can acknowledge them without processing.
func ParseEvent(payload []byte) (*paymentdomain.Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "checkout.session.completed":
		return parseCheckoutCompleted(event, payload)
	case "customer.subscription.created":
		return parseSubscription(event, payload, paymentdomain.EventSubscriptionCreated)
	case "customer.subscription.updated":
		return parseSubscription(event, payload, paymentdomain.EventSubscriptionUpdated)
	case "customer.subscription.deleted":
		return parseSubscription(event, payload, paymentdomain.EventSubscriptionDeleted)
	case "invoice.payment_failed":
		return parsePaymentFailed(event, payload)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

func parseCheckoutCompleted(event stripeEvent, payload []byte) (*paymentdomain.Event, error) {
	var session eventCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.Subscription) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.Event{
		ProviderEventID: event.ID,
		Type:            paymentdomain.EventCheckoutCompleted,
		CustomerID:      session.Customer,
		SubscriptionID:  session.Subscription,
		OrganizationID:  strings.TrimSpace(session.Metadata["organization_id"]),
		PlanID:          strings.TrimSpace(session.Metadata["plan_id"]),
		RawPayload:      payload,
	}, nil
}

func parseSubscription(event stripeEvent, payload []byte, eventType paymentdomain.EventType) (*paymentdomain.Event, error) {
	var sub eventSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	out := &paymentdomain.Event{
		ProviderEventID:   event.ID,
		Type:              eventType,
		CustomerID:        sub.Customer,
		SubscriptionID:    sub.ID,
		Status:            strings.TrimSpace(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		RawPayload:        payload,
	}
	// Zero epoch seconds means the payload carried no bounds; leaving the
	// times zero-valued keeps the reconciler from applying an epoch period.
	if sub.CurrentPeriodStart > 0 {
		out.CurrentPeriodStart = time.Unix(sub.CurrentPeriodStart, 0).UTC()
	}
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if len(sub.Items.Data) > 0 {
		out.PriceID = sub.Items.Data[0].Price.ID
	}
	return out, nil
}

func parsePaymentFailed(event stripeEvent, payload []byte) (*paymentdomain.Event, error) {
	var invoice eventInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(invoice.Subscription) == "" && strings.TrimSpace(invoice.Customer) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.Event{
		ProviderEventID: event.ID,
		Type:            paymentdomain.EventPaymentFailed,
		CustomerID:      invoice.Customer,
		SubscriptionID:  invoice.Subscription,
		RawPayload:      payload,
	}, nil
}
