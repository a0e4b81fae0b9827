package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/paperstreamhq/paperstream/internal/billing/domain"
	"github.com/paperstreamhq/paperstream/internal/clock"
	"github.com/paperstreamhq/paperstream/internal/config"
	"github.com/paperstreamhq/paperstream/internal/orgcontext"
	paymentdomain "github.com/paperstreamhq/paperstream/internal/payment/domain"
	"github.com/paperstreamhq/paperstream/internal/plan"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    billingdomain.Repository
	Catalog plan.Catalog
	Gateway paymentdomain.Gateway
	Cfg     config.Config
}

// Service drives the subscription lifecycle state machine. Gateway calls
// run on the request context with no row lock held; only the final local
// write is transactional, so a slow provider never serializes an
// organization's other billing traffic.
type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	repo    billingdomain.Repository
	catalog plan.Catalog
	gateway paymentdomain.Gateway
	cfg     config.Config
}

func NewService(p ServiceParam) billingdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("billing.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		catalog: p.Catalog,
		gateway: p.Gateway,
		cfg:     p.Cfg,
	}
}

// EnsureAccount returns the organization's billing record, creating the
// trial row on first use. New organizations start trialing on starter
// quotas with no provider identifiers.
func (s *Service) EnsureAccount(ctx context.Context) (*billingdomain.Account, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, billingdomain.ErrInvalidOrganization
	}

	account, err := s.repo.FindByOrgID(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}

	starter, err := s.catalog.Resolve(plan.Starter)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	trialEndsAt := now.AddDate(0, 0, s.catalog.TrialDays())
	account = &billingdomain.Account{
		ID:                  s.genID.Generate(),
		OrgID:               orgID,
		PlanID:              plan.Starter,
		Status:              billingdomain.StatusTrialing,
		TrialEndsAt:         &trialEndsAt,
		MonthlyInvoiceQuota: starter.MonthlyQuota,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.repo.Insert(ctx, s.db, account); err != nil {
		return nil, err
	}
	return account, nil
}

// Checkout creates a provider checkout session for an organization with
// no subscription yet. Local state stays untouched: an abandoned session
// must leave no trace, so only the completion webhook mutates the record.
func (s *Service) Checkout(ctx context.Context, req billingdomain.CheckoutRequest) (billingdomain.CheckoutResponse, error) {
	account, err := s.EnsureAccount(ctx)
	if err != nil {
		return billingdomain.CheckoutResponse{}, err
	}
	if account.ProviderSubscriptionID != nil {
		return billingdomain.CheckoutResponse{}, billingdomain.ErrAlreadySubscribed
	}

	target, err := s.resolvePricedPlan(req.PlanID)
	if err != nil {
		return billingdomain.CheckoutResponse{}, err
	}

	url, err := s.gateway.CreateCheckoutSession(ctx, paymentdomain.CheckoutParams{
		PriceID:    target.PriceID,
		SuccessURL: s.cfg.CheckoutSuccessURL,
		CancelURL:  s.cfg.CheckoutCancelURL,
		Metadata: map[string]string{
			"organization_id": account.OrgID.String(),
			"plan_id":         string(target.ID),
		},
	})
	if err != nil {
		return billingdomain.CheckoutResponse{}, err
	}
	return billingdomain.CheckoutResponse{URL: url}, nil
}

// Upgrade moves an active subscription to a higher plan with immediate
// proration. The usage counter is not reset: the billing period continues.
func (s *Service) Upgrade(ctx context.Context, req billingdomain.ChangePlanRequest) error {
	account, err := s.requireSubscribed(ctx)
	if err != nil {
		return err
	}

	target, err := s.resolvePricedPlan(req.PlanID)
	if err != nil {
		return err
	}
	if target.ID == account.PlanID {
		return billingdomain.ErrAlreadyOnPlan
	}
	if plan.Rank(target.ID) < plan.Rank(account.PlanID) {
		return billingdomain.ErrNotAnUpgrade
	}

	if _, err := s.gateway.UpdateSubscriptionPlan(ctx, *account.ProviderSubscriptionID, target.PriceID, true); err != nil {
		return err
	}

	now := s.clock.Now()
	planID := target.ID
	quota := target.MonthlyQuota
	cancel := false
	update := billingdomain.LifecycleUpdate{
		PlanID:            &planID,
		Quota:             &quota,
		CancelAtPeriodEnd: &cancel,
		ClearSchedule:     true,
	}
	if err := s.repo.UpdateLifecycle(ctx, s.db, account.OrgID, update, now); err != nil {
		return err
	}

	s.log.Info("subscription upgraded",
		zap.String("org_id", account.OrgID.String()),
		zap.String("from_plan", string(account.PlanID)),
		zap.String("to_plan", string(target.ID)),
	)
	return nil
}

// ScheduleDowngrade records a plan change that takes effect at the end of
// the paid period. The local record is authoritative: the reconciler
// applies it on the rollover event whether or not the provider honored
// the schedule call.
func (s *Service) ScheduleDowngrade(ctx context.Context, req billingdomain.ChangePlanRequest) (*billingdomain.ScheduledDowngrade, error) {
	account, err := s.requireSubscribed(ctx)
	if err != nil {
		return nil, err
	}
	if account.CurrentPeriodEnd == nil {
		return nil, billingdomain.ErrNoActiveSubscription
	}

	target, err := s.resolvePricedPlan(req.PlanID)
	if err != nil {
		return nil, err
	}
	if target.ID == account.PlanID {
		return nil, billingdomain.ErrAlreadyOnPlan
	}
	if plan.Rank(target.ID) > plan.Rank(account.PlanID) {
		return nil, billingdomain.ErrNotADowngrade
	}

	effectiveAt := *account.CurrentPeriodEnd
	if err := s.gateway.ScheduleDowngrade(ctx, *account.ProviderSubscriptionID, target.PriceID, effectiveAt); err != nil {
		// Local state drives the rollover application either way.
		s.log.Warn("provider downgrade schedule failed",
			zap.String("org_id", account.OrgID.String()),
			zap.Error(err),
		)
	}

	now := s.clock.Now()
	planID := target.ID
	update := billingdomain.LifecycleUpdate{
		ScheduledPlanID: &planID,
		ScheduledAt:     &effectiveAt,
	}
	if err := s.repo.UpdateLifecycle(ctx, s.db, account.OrgID, update, now); err != nil {
		return nil, err
	}

	return &billingdomain.ScheduledDowngrade{PlanID: target.ID, EffectiveAt: effectiveAt}, nil
}

// Cancel requests cancellation at period end. The subscription stays
// fully functional until then; a pending downgrade is superseded.
func (s *Service) Cancel(ctx context.Context) error {
	account, err := s.requireSubscribed(ctx)
	if err != nil {
		return err
	}
	if account.CancelAtPeriodEnd {
		return nil
	}

	if err := s.gateway.CancelAtPeriodEnd(ctx, *account.ProviderSubscriptionID); err != nil {
		return err
	}

	now := s.clock.Now()
	cancel := true
	update := billingdomain.LifecycleUpdate{
		CancelAtPeriodEnd: &cancel,
		ClearSchedule:     true,
	}
	return s.repo.UpdateLifecycle(ctx, s.db, account.OrgID, update, now)
}

// CancelImmediately terminates the provider subscription and customer and
// marks the record canceled synchronously. Called from the account
// deletion flow, where waiting on a webhook would race the record's own
// removal.
func (s *Service) CancelImmediately(ctx context.Context) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return billingdomain.ErrInvalidOrganization
	}
	account, err := s.repo.FindByOrgID(ctx, s.db, orgID)
	if err != nil {
		return err
	}
	if account == nil {
		return billingdomain.ErrAccountNotFound
	}

	if account.ProviderSubscriptionID != nil {
		if err := s.gateway.CancelImmediately(ctx, *account.ProviderSubscriptionID); err != nil &&
			err != paymentdomain.ErrNoActiveSubscription {
			return err
		}
	}
	if account.ProviderCustomerID != nil {
		if err := s.gateway.DeleteCustomer(ctx, *account.ProviderCustomerID); err != nil &&
			err != paymentdomain.ErrNoCustomer {
			return err
		}
	}

	return s.repo.SetStatus(ctx, s.db, orgID, billingdomain.StatusCanceled, s.clock.Now())
}

// Reactivate clears a pending cancellation while the paid period is still
// running. Once the period ends the deleted event lands and there is no
// subscription left to reactivate.
func (s *Service) Reactivate(ctx context.Context) error {
	account, err := s.requireSubscribed(ctx)
	if err != nil {
		return err
	}
	if !account.CancelAtPeriodEnd {
		return billingdomain.ErrNotCancelPending
	}
	now := s.clock.Now()
	if account.CurrentPeriodEnd == nil || !now.Before(*account.CurrentPeriodEnd) {
		return billingdomain.ErrNoActiveSubscription
	}

	if err := s.gateway.Reactivate(ctx, *account.ProviderSubscriptionID); err != nil {
		return err
	}

	cancel := false
	update := billingdomain.LifecycleUpdate{CancelAtPeriodEnd: &cancel}
	return s.repo.UpdateLifecycle(ctx, s.db, account.OrgID, update, now)
}

// Summary assembles the billing overview for the UI, including the
// default payment method when the provider knows one.
func (s *Service) Summary(ctx context.Context) (billingdomain.Summary, error) {
	account, err := s.EnsureAccount(ctx)
	if err != nil {
		return billingdomain.Summary{}, err
	}

	now := s.clock.Now()
	summary := billingdomain.Summary{
		PlanID:            account.PlanID,
		Status:            account.Status,
		Quota:             account.MonthlyInvoiceQuota,
		Used:              account.InvoicesUsedThisPeriod,
		PeriodStart:       account.CurrentPeriodStart,
		PeriodEnd:         account.CurrentPeriodEnd,
		IsTrial:           account.IsTrial(now),
		TrialEndsAt:       account.TrialEndsAt,
		CancelAtPeriodEnd: account.CancelAtPeriodEnd,
	}
	if summary.IsTrial {
		summary.Quota = min(s.catalog.TrialQuota(), account.MonthlyInvoiceQuota)
	}
	if account.HasScheduledDowngrade() {
		summary.ScheduledDowngrade = &billingdomain.ScheduledDowngrade{
			PlanID:      *account.ScheduledPlanID,
			EffectiveAt: *account.ScheduledAt,
		}
	}
	if account.ProviderCustomerID != nil {
		pm, err := s.gateway.DefaultPaymentMethod(ctx, *account.ProviderCustomerID)
		if err != nil {
			s.log.Debug("payment method lookup failed",
				zap.String("org_id", account.OrgID.String()),
				zap.Error(err),
			)
		} else if pm != nil {
			summary.PaymentMethod = &billingdomain.PaymentMethod{
				Brand:    pm.Brand,
				Last4:    pm.Last4,
				ExpMonth: pm.ExpMonth,
				ExpYear:  pm.ExpYear,
			}
		}
	}

	return summary, nil
}

func (s *Service) requireSubscribed(ctx context.Context) (*billingdomain.Account, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, billingdomain.ErrInvalidOrganization
	}
	account, err := s.repo.FindByOrgID(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, billingdomain.ErrAccountNotFound
	}
	if account.ProviderSubscriptionID == nil || account.Status == billingdomain.StatusCanceled {
		return nil, billingdomain.ErrNoActiveSubscription
	}
	return account, nil
}

// resolvePricedPlan parses and resolves a plan that can be purchased
// through the provider. Enterprise is billed out-of-band and has no price
// reference, so it is never a valid checkout or plan-change target.
func (s *Service) resolvePricedPlan(raw string) (plan.Plan, error) {
	id, err := plan.ParseID(raw)
	if err != nil {
		return plan.Plan{}, billingdomain.ErrInvalidPlan
	}
	resolved, err := s.catalog.Resolve(id)
	if err != nil {
		return plan.Plan{}, billingdomain.ErrInvalidPlan
	}
	if resolved.PriceID == "" {
		return plan.Plan{}, billingdomain.ErrInvalidPlan
	}
	return resolved, nil
}
