package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	billingdomain "github.com/paperstreamhq/paperstream/internal/billing/domain"
)

type repositoryImpl struct{}

// Provide returns the gorm-backed subscription state store.
func Provide() billingdomain.Repository {
	return &repositoryImpl{}
}

func (r *repositoryImpl) Insert(ctx context.Context, db *gorm.DB, account *billingdomain.Account) error {
	return db.WithContext(ctx).Create(account).Error
}

func (r *repositoryImpl) FindByOrgID(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*billingdomain.Account, error) {
	var account billingdomain.Account
	err := db.WithContext(ctx).Where("org_id = ?", orgID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repositoryImpl) FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*billingdomain.Account, error) {
	var account billingdomain.Account
	err := db.WithContext(ctx).Where("provider_subscription_id = ?", subscriptionID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repositoryImpl) FindByCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*billingdomain.Account, error) {
	var account billingdomain.Account
	err := db.WithContext(ctx).Where("provider_customer_id = ?", customerID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repositoryImpl) UpdateLifecycle(
	ctx context.Context,
	db *gorm.DB,
	orgID snowflake.ID,
	update billingdomain.LifecycleUpdate,
	now time.Time,
) error {
	values := map[string]any{"updated_at": now}
	if update.PlanID != nil {
		values["plan_id"] = *update.PlanID
	}
	if update.Quota != nil {
		values["monthly_invoice_quota"] = *update.Quota
	}
	if update.Status != nil {
		values["status"] = *update.Status
	}
	if update.CancelAtPeriodEnd != nil {
		values["cancel_at_period_end"] = *update.CancelAtPeriodEnd
	}
	if update.ClearSchedule {
		values["scheduled_plan_id"] = nil
		values["scheduled_at"] = nil
	} else {
		if update.ScheduledPlanID != nil {
			values["scheduled_plan_id"] = *update.ScheduledPlanID
		}
		if update.ScheduledAt != nil {
			values["scheduled_at"] = *update.ScheduledAt
		}
	}

	result := db.WithContext(ctx).
		Model(&billingdomain.Account{}).
		Where("org_id = ?", orgID).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return billingdomain.ErrAccountNotFound
	}
	return nil
}

func (r *repositoryImpl) AttachSubscription(
	ctx context.Context,
	db *gorm.DB,
	orgID snowflake.ID,
	attach billingdomain.SubscriptionAttach,
	now time.Time,
) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE billing_accounts
		 SET provider_customer_id = ?,
		     provider_subscription_id = ?,
		     plan_id = ?,
		     status = ?,
		     monthly_invoice_quota = ?,
		     current_period_start = ?,
		     current_period_end = ?,
		     invoices_used_this_period = 0,
		     cancel_at_period_end = ?,
		     scheduled_plan_id = NULL,
		     scheduled_at = NULL,
		     updated_at = ?
		 WHERE org_id = ?`,
		attach.CustomerID,
		attach.SubscriptionID,
		attach.PlanID,
		attach.Status,
		attach.Quota,
		attach.PeriodStart,
		attach.PeriodEnd,
		false,
		now,
		orgID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return billingdomain.ErrAccountNotFound
	}
	return nil
}

func (r *repositoryImpl) SetStatus(ctx context.Context, db *gorm.DB, orgID snowflake.ID, status billingdomain.Status, now time.Time) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE billing_accounts SET status = ?, updated_at = ? WHERE org_id = ?`,
		status, now, orgID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return billingdomain.ErrAccountNotFound
	}
	return nil
}

// ApplyPeriod advances period bounds monotonically. A strictly newer
// start is a rollover: bounds replace the stored ones and usage resets in
// the same statement. An equal start refreshes the period end only. An
// older start matches no row and the event's bounds are discarded.
func (r *repositoryImpl) ApplyPeriod(
	ctx context.Context,
	db *gorm.DB,
	orgID snowflake.ID,
	start, end time.Time,
	now time.Time,
) (bool, error) {
	rollover := db.WithContext(ctx).Exec(
		`UPDATE billing_accounts
		 SET current_period_start = ?,
		     current_period_end = ?,
		     invoices_used_this_period = 0,
		     updated_at = ?
		 WHERE org_id = ? AND (current_period_start IS NULL OR current_period_start < ?)`,
		start, end, now, orgID, start,
	)
	if rollover.Error != nil {
		return false, rollover.Error
	}
	if rollover.RowsAffected > 0 {
		return true, nil
	}

	refresh := db.WithContext(ctx).Exec(
		`UPDATE billing_accounts
		 SET current_period_end = ?, updated_at = ?
		 WHERE org_id = ? AND current_period_start = ?`,
		end, now, orgID, start,
	)
	return false, refresh.Error
}

func (r *repositoryImpl) AddUsage(ctx context.Context, db *gorm.DB, orgID snowflake.ID, count int, now time.Time) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE billing_accounts
		 SET invoices_used_this_period = invoices_used_this_period + ?, updated_at = ?
		 WHERE org_id = ?`,
		count, now, orgID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return billingdomain.ErrAccountNotFound
	}
	return nil
}
