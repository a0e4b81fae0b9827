package domain

import (
	"context"
	"time"

	"github.com/paperstreamhq/paperstream/internal/plan"
)

// CheckoutRequest starts a provider checkout session for a first
// subscription. Local state is not touched until the completion webhook.
type CheckoutRequest struct {
	PlanID string `json:"plan_id"`
}

type CheckoutResponse struct {
	URL string `json:"url"`
}

type ChangePlanRequest struct {
	PlanID string `json:"plan_id"`
}

type PortalResponse struct {
	URL string `json:"url"`
}

type PreviewResponse struct {
	AmountCents int64 `json:"amount_cents"`
}

// ScheduledDowngrade mirrors the pending plan change for API clients.
type ScheduledDowngrade struct {
	PlanID      plan.ID   `json:"plan_id"`
	EffectiveAt time.Time `json:"effective_at"`
}

// PaymentMethod is the card summary surfaced on the billing page.
type PaymentMethod struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

// Summary is the billing overview returned to the UI.
type Summary struct {
	PlanID             plan.ID             `json:"plan_id"`
	Status             Status              `json:"status"`
	Quota              int                 `json:"quota"`
	Used               int                 `json:"used"`
	PeriodStart        *time.Time          `json:"period_start,omitempty"`
	PeriodEnd          *time.Time          `json:"period_end,omitempty"`
	IsTrial            bool                `json:"is_trial"`
	TrialEndsAt        *time.Time          `json:"trial_ends_at,omitempty"`
	ScheduledDowngrade *ScheduledDowngrade `json:"scheduled_downgrade,omitempty"`
	CancelAtPeriodEnd  bool                `json:"cancel_at_period_end"`
	PaymentMethod      *PaymentMethod      `json:"payment_method,omitempty"`
}

// Service is the subscription lifecycle state machine. Every operation
// resolves the organization from context and honors the status guards;
// only confirmed provider responses or verified webhooks change billing
// state.
type Service interface {
	EnsureAccount(ctx context.Context) (*Account, error)
	Checkout(ctx context.Context, req CheckoutRequest) (CheckoutResponse, error)
	Upgrade(ctx context.Context, req ChangePlanRequest) error
	ScheduleDowngrade(ctx context.Context, req ChangePlanRequest) (*ScheduledDowngrade, error)
	Cancel(ctx context.Context) error
	CancelImmediately(ctx context.Context) error
	Reactivate(ctx context.Context) error
	PreviewUpgrade(ctx context.Context, planID string) (PreviewResponse, error)
	PreviewDowngrade(ctx context.Context, planID string) (PreviewResponse, error)
	Portal(ctx context.Context) (PortalResponse, error)
	Summary(ctx context.Context) (Summary, error)
}
