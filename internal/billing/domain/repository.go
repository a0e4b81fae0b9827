package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/paperstreamhq/paperstream/internal/plan"
)

// SubscriptionAttach carries everything a checkout-completed event binds
// onto the account in one atomic write.
type SubscriptionAttach struct {
	CustomerID     string
	SubscriptionID string
	PlanID         plan.ID
	Quota          int
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	Status         Status
}

// LifecycleUpdate is the writable subset of an account touched by
// user-initiated lifecycle operations. Nil pointer fields keep the stored
// value; ClearSchedule zeroes both schedule columns.
type LifecycleUpdate struct {
	PlanID            *plan.ID
	Quota             *int
	Status            *Status
	CancelAtPeriodEnd *bool
	ScheduledPlanID   *plan.ID
	ScheduledAt       *time.Time
	ClearSchedule     bool
}

// Repository is the subscription state store. All mutations are single
// SQL statements so a webhook and a lifecycle operation racing on the
// same organization can never interleave a partial update.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	FindByOrgID(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*Account, error)
	FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*Account, error)
	FindByCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*Account, error)

	UpdateLifecycle(ctx context.Context, db *gorm.DB, orgID snowflake.ID, update LifecycleUpdate, now time.Time) error
	AttachSubscription(ctx context.Context, db *gorm.DB, orgID snowflake.ID, attach SubscriptionAttach, now time.Time) error
	SetStatus(ctx context.Context, db *gorm.DB, orgID snowflake.ID, status Status, now time.Time) error

	// ApplyPeriod writes new period bounds only when start is not older
	// than the stored current_period_start, and resets the usage counter
	// when the write represents a rollover.
	ApplyPeriod(ctx context.Context, db *gorm.DB, orgID snowflake.ID, start, end time.Time, now time.Time) (rolledOver bool, err error)

	// AddUsage increments the period usage counter with a SQL-level
	// atomic add; concurrent commits are additive and never lost.
	AddUsage(ctx context.Context, db *gorm.DB, orgID snowflake.ID, count int, now time.Time) error
}
