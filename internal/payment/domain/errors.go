package domain

import "errors"

var (
	// Logic errors: user-actionable, never retried.
	ErrNoActiveSubscription = errors.New("no_active_subscription")
	ErrAlreadyOnPlan        = errors.New("already_on_plan")
	ErrNoCustomer           = errors.New("no_customer")

	// Transient errors: timeouts and provider 5xx; callers may retry.
	ErrProviderUnavailable = errors.New("provider_unavailable")

	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrInvalidConfig    = errors.New("invalid_config")
)
