package service

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/paperstreamhq/paperstream/internal/billing/domain"
	"github.com/paperstreamhq/paperstream/internal/clock"
	"github.com/paperstreamhq/paperstream/internal/observability/metrics"
	"github.com/paperstreamhq/paperstream/internal/orgcontext"
	"github.com/paperstreamhq/paperstream/internal/plan"
	usagedomain "github.com/paperstreamhq/paperstream/internal/usage/domain"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    billingdomain.Repository
	Catalog plan.Catalog
	Billing billingdomain.Service
}

// Service is the ingestion gate. Check and commit are two calls by
// design: the check admits work before processing starts, the commit
// records what actually finished. Batches racing between the two can
// overshoot the quota by at most one in-flight batch, which billing
// accepts in exchange for a lock-free hot path.
type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    billingdomain.Repository
	catalog plan.Catalog
	billing billingdomain.Service
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usage.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		catalog: p.Catalog,
		billing: p.Billing,
	}
}

// CheckAndReserve decides whether a batch of invoices may be ingested.
// Subscription state outranks trial expiry, which outranks the quota.
func (s *Service) CheckAndReserve(ctx context.Context, req usagedomain.CheckRequest) (usagedomain.Decision, error) {
	if req.Count <= 0 {
		return usagedomain.Decision{}, usagedomain.ErrInvalidCount
	}

	account, err := s.billing.EnsureAccount(ctx)
	if err != nil {
		return usagedomain.Decision{}, err
	}

	now := s.clock.Now()
	limit := s.effectiveQuota(account, now)

	deny := func(reason usagedomain.DenyReason) usagedomain.Decision {
		metrics.UsageDecisions.WithLabelValues(string(reason)).Inc()
		return usagedomain.Decision{
			Reason:    reason,
			Remaining: remaining(limit, account.InvoicesUsedThisPeriod),
			Limit:     limit,
		}
	}

	switch account.Status {
	case billingdomain.StatusPastDue, billingdomain.StatusCanceled:
		return deny(usagedomain.ReasonSubscriptionInactive), nil
	}
	if account.TrialExpired(now) {
		return deny(usagedomain.ReasonTrialExpired), nil
	}
	if account.InvoicesUsedThisPeriod+req.Count > limit {
		return deny(usagedomain.ReasonMonthlyLimitReached), nil
	}

	metrics.UsageDecisions.WithLabelValues("allowed").Inc()
	return usagedomain.Decision{
		Allowed:   true,
		Remaining: remaining(limit, account.InvoicesUsedThisPeriod+req.Count),
		Limit:     limit,
	}, nil
}

// Commit records invoices that finished processing. The increment is a
// single SQL add, so concurrent workers never lose counts.
func (s *Service) Commit(ctx context.Context, req usagedomain.CommitRequest) error {
	if req.Count <= 0 {
		return usagedomain.ErrInvalidCount
	}
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return billingdomain.ErrInvalidOrganization
	}
	return s.repo.AddUsage(ctx, s.db, orgID, req.Count, s.clock.Now())
}

// effectiveQuota is the plan quota, capped by the trial allowance while
// the organization is still trialing.
func (s *Service) effectiveQuota(account *billingdomain.Account, now time.Time) int {
	quota := account.MonthlyInvoiceQuota
	if account.IsTrial(now) {
		if trial := s.catalog.TrialQuota(); trial < quota {
			quota = trial
		}
	}
	return quota
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}
