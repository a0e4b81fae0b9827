package service

import (
	"context"

	billingdomain "github.com/paperstreamhq/paperstream/internal/billing/domain"
	"github.com/paperstreamhq/paperstream/internal/orgcontext"
	paymentdomain "github.com/paperstreamhq/paperstream/internal/payment/domain"
)

// PreviewUpgrade returns the prorated charge for moving to a higher plan
// right now. Organizations without a subscription see a zero amount, not
// an error: the billing page renders the preview unconditionally.
func (s *Service) PreviewUpgrade(ctx context.Context, planID string) (billingdomain.PreviewResponse, error) {
	return s.preview(ctx, planID, s.gateway.PreviewUpgrade)
}

// PreviewDowngrade returns the credit or charge a provider-side downgrade
// would produce. Usually zero under period-end scheduling, but surfaced
// so the UI reflects whatever the provider will actually do.
func (s *Service) PreviewDowngrade(ctx context.Context, planID string) (billingdomain.PreviewResponse, error) {
	return s.preview(ctx, planID, s.gateway.PreviewDowngrade)
}

func (s *Service) preview(ctx context.Context, planID string, fn func(context.Context, string, string) (int64, error)) (billingdomain.PreviewResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return billingdomain.PreviewResponse{}, billingdomain.ErrInvalidOrganization
	}
	account, err := s.repo.FindByOrgID(ctx, s.db, orgID)
	if err != nil {
		return billingdomain.PreviewResponse{}, err
	}
	if account == nil || account.ProviderSubscriptionID == nil {
		return billingdomain.PreviewResponse{}, nil
	}

	target, err := s.resolvePricedPlan(planID)
	if err != nil {
		return billingdomain.PreviewResponse{}, err
	}

	amount, err := fn(ctx, *account.ProviderSubscriptionID, target.PriceID)
	if err != nil {
		return billingdomain.PreviewResponse{}, err
	}
	return billingdomain.PreviewResponse{AmountCents: amount}, nil
}

// Portal opens the provider's self-serve billing portal. Only
// organizations with a provider customer have anything to manage there.
func (s *Service) Portal(ctx context.Context) (billingdomain.PortalResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return billingdomain.PortalResponse{}, billingdomain.ErrInvalidOrganization
	}
	account, err := s.repo.FindByOrgID(ctx, s.db, orgID)
	if err != nil {
		return billingdomain.PortalResponse{}, err
	}
	if account == nil || account.ProviderCustomerID == nil {
		return billingdomain.PortalResponse{}, paymentdomain.ErrNoCustomer
	}

	url, err := s.gateway.CreatePortalSession(ctx, *account.ProviderCustomerID, s.cfg.PortalReturnURL)
	if err != nil {
		return billingdomain.PortalResponse{}, err
	}
	return billingdomain.PortalResponse{URL: url}, nil
}
