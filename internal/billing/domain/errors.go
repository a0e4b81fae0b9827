package domain

import "errors"

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrAccountNotFound      = errors.New("billing_account_not_found")
	ErrInvalidPlan          = errors.New("invalid_plan")
	ErrNoActiveSubscription = errors.New("no_active_subscription")
	ErrAlreadyOnPlan        = errors.New("already_on_plan")
	ErrNotAnUpgrade         = errors.New("not_an_upgrade")
	ErrNotADowngrade        = errors.New("not_a_downgrade")
	ErrNotCancelPending     = errors.New("not_cancel_pending")
	ErrAlreadySubscribed    = errors.New("already_subscribed")
)
