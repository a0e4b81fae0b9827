// Package domain defines the payment provider gateway contract and the
// reconciliation event model. The provider is the only source of truth
// for provider-side subscription state; everything it pushes arrives as
// a signed Event through the webhook reconciler.
package domain

import (
	"context"
	"time"
)

// SubscriptionSnapshot is the provider's view of a subscription at the
// time of a retrieve or update call.
type SubscriptionSnapshot struct {
	SubscriptionID     string
	CustomerID         string
	Status             string
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}

// PaymentMethodSummary describes a customer's default card, if any.
type PaymentMethodSummary struct {
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

// CheckoutParams configures a hosted checkout session. Metadata is opaque
// to the provider and echoed back on the completion event so the webhook
// can attribute the subscription without a pre-created local row.
type CheckoutParams struct {
	CustomerEmail string
	PriceID       string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

// Gateway is the outbound provider interface. All calls are bounded by
// the client timeout; a timeout surfaces as ErrProviderUnavailable and
// never implies any state change.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (url string, err error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (url string, err error)
	RetrieveSubscription(ctx context.Context, subscriptionID string) (SubscriptionSnapshot, error)
	UpdateSubscriptionPlan(ctx context.Context, subscriptionID, newPriceID string, prorate bool) (SubscriptionSnapshot, error)
	ScheduleDowngrade(ctx context.Context, subscriptionID, newPriceID string, effectiveAt time.Time) error
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error
	CancelImmediately(ctx context.Context, subscriptionID string) error
	Reactivate(ctx context.Context, subscriptionID string) error
	PreviewUpgrade(ctx context.Context, subscriptionID, newPriceID string) (amountDueNowCents int64, err error)
	PreviewDowngrade(ctx context.Context, subscriptionID, newPriceID string) (nextPeriodAmountCents int64, err error)
	DefaultPaymentMethod(ctx context.Context, customerID string) (*PaymentMethodSummary, error)
	DeleteCustomer(ctx context.Context, customerID string) error
}

// EventType tags the provider notifications the reconciler understands.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout.completed"
	EventSubscriptionCreated EventType = "subscription.created"
	EventSubscriptionUpdated EventType = "subscription.updated"
	EventSubscriptionDeleted EventType = "subscription.deleted"
	EventPaymentFailed       EventType = "invoice.payment_failed"
)

// Event is the tagged-variant reconciliation input. Exactly the fields a
// handler needs are populated per type; RawPayload is archived verbatim.
type Event struct {
	ProviderEventID string
	Type            EventType

	CustomerID     string
	SubscriptionID string

	// Checkout completion metadata, echoed from CheckoutParams.Metadata.
	OrganizationID string
	PlanID         string

	// Subscription created/updated fields.
	Status             string
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool

	RawPayload []byte
}
