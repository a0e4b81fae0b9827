// Package domain contains the billing facet of an organization: its plan,
// subscription status, billing period and usage counter.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"

	"github.com/paperstreamhq/paperstream/internal/plan"
)

// Status represents lifecycle states for an organization's subscription.
type Status string

const (
	StatusTrialing Status = "TRIALING"
	StatusActive   Status = "ACTIVE"
	StatusPastDue  Status = "PAST_DUE"
	StatusCanceled Status = "CANCELED"
)

// Account is the per-organization billing record. Exactly one row exists
// per organization for its whole lifetime; it is removed only together
// with the organization itself.
type Account struct {
	ID    snowflake.ID `gorm:"primaryKey"`
	OrgID snowflake.ID `gorm:"not null;uniqueIndex"`

	PlanID plan.ID `gorm:"type:text;not null"`
	Status Status  `gorm:"type:text;not null;index"`

	ProviderCustomerID     *string `gorm:"type:text;index"`
	ProviderSubscriptionID *string `gorm:"type:text;uniqueIndex"`

	CurrentPeriodStart *time.Time `gorm:""`
	CurrentPeriodEnd   *time.Time `gorm:""`
	TrialEndsAt        *time.Time `gorm:""`

	MonthlyInvoiceQuota    int `gorm:"not null"`
	InvoicesUsedThisPeriod int `gorm:"not null;default:0"`

	// A scheduled downgrade: target plan applied at the period rollover
	// whose effectiveAt has passed. Both columns are set or cleared together.
	ScheduledPlanID *plan.ID   `gorm:"type:text"`
	ScheduledAt     *time.Time `gorm:""`

	CancelAtPeriodEnd bool `gorm:"not null;default:false"`

	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "billing_accounts" }

// IsTrial reports whether the account is in its free trial window. A paid
// subscription, once created, supersedes trial state permanently, even
// when the subscription was later canceled.
func (a *Account) IsTrial(now time.Time) bool {
	if a.ProviderSubscriptionID != nil {
		return false
	}
	return a.Status == StatusTrialing && a.TrialEndsAt != nil && !now.After(*a.TrialEndsAt)
}

// TrialExpired reports whether the account never subscribed and its trial
// window has passed.
func (a *Account) TrialExpired(now time.Time) bool {
	if a.ProviderSubscriptionID != nil {
		return false
	}
	return a.Status == StatusTrialing && (a.TrialEndsAt == nil || now.After(*a.TrialEndsAt))
}

// HasScheduledDowngrade reports whether a plan change is pending.
func (a *Account) HasScheduledDowngrade() bool {
	return a.ScheduledPlanID != nil && a.ScheduledAt != nil
}
