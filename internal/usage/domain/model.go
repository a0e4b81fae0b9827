package domain

import "context"

// DenyReason explains why an ingestion request was refused, ordered by
// precedence: subscription state first, then trial expiry, then quota.
type DenyReason string

const (
	ReasonSubscriptionInactive DenyReason = "SUBSCRIPTION_INACTIVE"
	ReasonTrialExpired         DenyReason = "TRIAL_EXPIRED"
	ReasonMonthlyLimitReached  DenyReason = "MONTHLY_LIMIT_REACHED"
)

// Decision is the gate's answer to a batch check. Remaining and Limit
// reflect the effective quota at decision time so callers can render
// usage without a second round trip.
type Decision struct {
	Allowed   bool       `json:"allowed"`
	Reason    DenyReason `json:"reason,omitempty"`
	Remaining int        `json:"remaining"`
	Limit     int        `json:"limit"`
}

type CheckRequest struct {
	Count int `json:"count"`
}

type CommitRequest struct {
	Count int `json:"count"`
}

// Service gates invoice ingestion against the organization's plan quota.
// CheckAndReserve is advisory; Commit records invoices actually processed.
// The two phases are deliberately not transactional: a burst admitted
// between them lands as a small accepted overshoot rather than a
// distributed lock on the hot path.
type Service interface {
	CheckAndReserve(ctx context.Context, req CheckRequest) (Decision, error)
	Commit(ctx context.Context, req CommitRequest) error
}
