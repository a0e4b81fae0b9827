package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/paperstreamhq/paperstream/internal/billing/domain"
	"github.com/paperstreamhq/paperstream/internal/billing/repository"
	"github.com/paperstreamhq/paperstream/internal/clock"
	"github.com/paperstreamhq/paperstream/internal/config"
	"github.com/paperstreamhq/paperstream/internal/orgcontext"
	paymentdomain "github.com/paperstreamhq/paperstream/internal/payment/domain"
	"github.com/paperstreamhq/paperstream/internal/plan"
)

// Fake gateway

type fakeGateway struct {
	err error

	checkoutParams   *paymentdomain.CheckoutParams
	updatedPriceIDs  []string
	scheduleErr      error
	scheduleCalls    int
	cancelCalls      int
	cancelNowCalls   int
	reactivateCalls  int
	deletedCustomers []string
	paymentMethod    *paymentdomain.PaymentMethodSummary
	upgradeAmount    int64
	downgradeAmount  int64
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, params paymentdomain.CheckoutParams) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.checkoutParams = &params
	return "https://checkout.example.com/session", nil
}

func (g *fakeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return "https://portal.example.com/" + customerID, nil
}

func (g *fakeGateway) RetrieveSubscription(ctx context.Context, subscriptionID string) (paymentdomain.SubscriptionSnapshot, error) {
	return paymentdomain.SubscriptionSnapshot{SubscriptionID: subscriptionID}, g.err
}

func (g *fakeGateway) UpdateSubscriptionPlan(ctx context.Context, subscriptionID, newPriceID string, prorate bool) (paymentdomain.SubscriptionSnapshot, error) {
	if g.err != nil {
		return paymentdomain.SubscriptionSnapshot{}, g.err
	}
	g.updatedPriceIDs = append(g.updatedPriceIDs, newPriceID)
	return paymentdomain.SubscriptionSnapshot{SubscriptionID: subscriptionID, PriceID: newPriceID}, nil
}

func (g *fakeGateway) ScheduleDowngrade(ctx context.Context, subscriptionID, newPriceID string, effectiveAt time.Time) error {
	g.scheduleCalls++
	return g.scheduleErr
}

func (g *fakeGateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	if g.err != nil {
		return g.err
	}
	g.cancelCalls++
	return nil
}

func (g *fakeGateway) CancelImmediately(ctx context.Context, subscriptionID string) error {
	if g.err != nil {
		return g.err
	}
	g.cancelNowCalls++
	return nil
}

func (g *fakeGateway) Reactivate(ctx context.Context, subscriptionID string) error {
	if g.err != nil {
		return g.err
	}
	g.reactivateCalls++
	return nil
}

func (g *fakeGateway) PreviewUpgrade(ctx context.Context, subscriptionID, newPriceID string) (int64, error) {
	return g.upgradeAmount, g.err
}

func (g *fakeGateway) PreviewDowngrade(ctx context.Context, subscriptionID, newPriceID string) (int64, error) {
	return g.downgradeAmount, g.err
}

func (g *fakeGateway) DefaultPaymentMethod(ctx context.Context, customerID string) (*paymentdomain.PaymentMethodSummary, error) {
	return g.paymentMethod, g.err
}

func (g *fakeGateway) DeleteCustomer(ctx context.Context, customerID string) error {
	if g.err != nil {
		return g.err
	}
	g.deletedCustomers = append(g.deletedCustomers, customerID)
	return nil
}

// Test harness

type harness struct {
	svc     billingdomain.Service
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	gateway *fakeGateway
	repo    billingdomain.Repository
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}
	if err := db.AutoMigrate(&billingdomain.Account{}); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	node, _ := snowflake.NewNode(1)
	fc := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	gw := &fakeGateway{}
	repo := repository.Provide()

	svc := NewService(ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fc,
		Repo:    repo,
		Catalog: plan.NewCatalog(config.DefaultPlanSettings()),
		Gateway: gw,
		Cfg: config.Config{
			CheckoutSuccessURL: "https://app.example.com/billing?checkout=success",
			CheckoutCancelURL:  "https://app.example.com/billing?checkout=canceled",
			PortalReturnURL:    "https://app.example.com/billing",
		},
	})

	return &harness{svc: svc, db: db, node: node, clock: fc, gateway: gw, repo: repo}
}

func (h *harness) orgContext() (context.Context, snowflake.ID) {
	orgID := h.node.Generate()
	return orgcontext.WithOrgID(context.Background(), orgID), orgID
}

// subscribe puts the account into an active paid state, as if checkout
// and its webhooks had completed.
func (h *harness) subscribe(t *testing.T, ctx context.Context, orgID snowflake.ID, planID plan.ID, quota int) {
	t.Helper()
	_, err := h.svc.EnsureAccount(ctx)
	require.NoError(t, err)

	start := h.clock.Now()
	end := start.AddDate(0, 1, 0)
	err = h.repo.AttachSubscription(ctx, h.db, orgID, billingdomain.SubscriptionAttach{
		CustomerID:     "cus_" + orgID.String(),
		SubscriptionID: "sub_" + orgID.String(),
		PlanID:         planID,
		Quota:          quota,
		PeriodStart:    &start,
		PeriodEnd:      &end,
		Status:         billingdomain.StatusActive,
	}, start)
	require.NoError(t, err)
}

func (h *harness) account(t *testing.T, ctx context.Context) *billingdomain.Account {
	t.Helper()
	orgID, _ := orgcontext.OrgIDFromContext(ctx)
	account, err := h.repo.FindByOrgID(ctx, h.db, orgID)
	require.NoError(t, err)
	require.NotNil(t, account)
	return account
}

// Tests

func TestEnsureAccountBootstrapsTrial(t *testing.T) {
	h := newHarness(t)
	ctx, orgID := h.orgContext()

	account, err := h.svc.EnsureAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, orgID, account.OrgID)
	assert.Equal(t, plan.Starter, account.PlanID)
	assert.Equal(t, billingdomain.StatusTrialing, account.Status)
	require.NotNil(t, account.TrialEndsAt)
	assert.True(t, account.TrialEndsAt.Equal(h.clock.Now().AddDate(0, 0, 14)))
	assert.Equal(t, 500, account.MonthlyInvoiceQuota)

	again, err := h.svc.EnsureAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, account.ID, again.ID, "idempotent")
}

func TestEnsureAccountRequiresOrganization(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.EnsureAccount(context.Background())
	assert.ErrorIs(t, err, billingdomain.ErrInvalidOrganization)
}

func TestCheckoutCreatesSessionWithoutLocalMutation(t *testing.T) {
	h := newHarness(t)
	ctx, orgID := h.orgContext()

	resp, err := h.svc.Checkout(ctx, billingdomain.CheckoutRequest{PlanID: "pro"})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example.com/session", resp.URL)

	require.NotNil(t, h.gateway.checkoutParams)
	assert.Equal(t, "price_pro_monthly", h.gateway.checkoutParams.PriceID)
	assert.Equal(t, orgID.String(), h.gateway.checkoutParams.Metadata["organization_id"])
	assert.Equal(t, "pro", h.gateway.checkoutParams.Metadata["plan_id"])

	account := h.account(t, ctx)
	assert.Equal(t, billingdomain.StatusTrialing, account.Status, "abandoned session leaves no trace")
	assert.Nil(t, account.ProviderSubscriptionID)
}

func TestCheckoutRejectsExistingSubscription(t *testing.T) {
	h := newHarness(t)
	ctx, orgID := h.orgContext()
	h.subscribe(t, ctx, orgID, plan.Starter, 500)

	_, err := h.svc.Checkout(ctx, billingdomain.CheckoutRequest{PlanID: "pro"})
	assert.ErrorIs(t, err, billingdomain.ErrAlreadySubscribed)
}

func TestCheckoutRejectsEnterprise(t *testing.T) {
	h := newHarness(t)
	ctx, _ := h.orgContext()

	_, err := h.svc.Checkout(ctx, billingdomain.CheckoutRequest{PlanID: "enterprise"})
	assert.ErrorIs(t, err, billingdomain.ErrInvalidPlan)
}

func TestUpgradeAppliesImmediately(t *testing.T) {
	h := newHarness(t)
	ctx, orgID := h.orgContext()
	h.subscribe(t, ctx, orgID, plan.Starter, 500)
	require.NoError(t, h.repo.AddUsage(ctx, h.db, orgID, 42, h.clock.Now()))

	require.NoError(t, h.svc.Upgrade(ctx, billingdomain.ChangePlanRequest{PlanID: "pro"}))

	assert.Equal(t, []string{"price_pro_monthly"}, h.gateway.updatedPriceIDs)
	account := h.account(t, ctx)
	assert.Equal(t, plan.Pro, account.PlanID)
	assert.Equal(t, 1500, account.MonthlyInvoiceQuota)
	assert.Equal(t, 42, account.InvoicesUsedThisPeriod, "usage survives an upgrade")
}

func TestUpgradeGuards(t *testing.T) {
	h := newHarness(t)
	ctx, orgID := h.orgContext()

	_, err := h.svc.EnsureAccount(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, h.svc.Upgrade(ctx, billingdomain.ChangePlanRequest{PlanID: "pro"}), billingdomain.ErrNoActiveSubscription)

	h.subscribe(t, ctx, orgID, plan.Pro, 1500)
	assert.ErrorIs(t, h.svc.Upgrade(ctx, billingdomain.ChangePlanRequest{PlanID: "pro"}), billingdomain.ErrAlreadyOnPlan)
	assert.ErrorIs(t, h.svc.Upgrade(ctx, billingdomain.ChangePlanRequest{PlanID: "starter"}), billingdomain.ErrNotAnUpgrade)
	assert.ErrorIs(t, h.svc.Upgrade(ctx, billingdomain.ChangePlanRequest{PlanID: "enterprise"}), billingdomain.ErrInvalidPlan)
	assert.Empty(t, h.gateway.updatedPriceIDs, "no provider call on guard failure")
}

func TestUpgradeClearsPendingDowngrade(t *testing.T) {
	h := newHarness(t)
	ctx, orgID := h.orgContext()
	h.subscribe(t, ctx, orgID, plan.Pro, 1500)

	_, err := h.svc.ScheduleDowngrade(ctx, billingdomain.ChangePlanRequest{PlanID: "starter"})
	require.NoError(t, err)
	require.True(t, h.account(t, ctx).HasScheduledDowngrade())

	// Not a real tier above pro with a price, so drop back down first.
	require.NoError(t, h.repo.UpdateLifecycle(ctx, h.db, orgID, billingdomain.LifecycleUpdate{
		PlanID: planPtr(plan.Starter),
		Quota:  intPtr(500),
	}, h.clock.Now()))

	require.NoError(t, h.svc.Upgrade(ctx, billingdomain.ChangePlanRequest{PlanID: "pro"}))
	assert.False(t, h.account(t, ctx).HasScheduledDowngrade(), "upgrade supersedes the schedule")
}

func TestScheduleDowngradeRecordsLocally(t *testing.T) {
	h := newHarness(t)
	ctx, orgID := h.orgContext()
	h.subscribe(t, ctx, orgID, plan.Pro, 1500)

	scheduled, err := h.svc.ScheduleDowngrade(ctx, billingdomain.ChangePlanRequest{PlanID: "starter"})
	require.NoError(t, err)
	assert.Equal(t, plan.Starter, scheduled.PlanID)

	account := h.account(t, ctx)
	require.True(t, account.HasScheduledDowngrade())
	assert.Equal(t, plan.Starter, *account.ScheduledPlanID)
	assert.True(t, account.ScheduledAt.Equal(*account.CurrentPeriodEnd))
	assert.Equal(t, plan.Pro, account.PlanID, "plan unchanged until rollover")
	assert.Equal(t, 1, h.gateway.scheduleCalls)
}

func TestScheduleDowngradeSurvivesProviderFailure(t *testing.T) {
	h := newHarness(t)
	ctx, orgID := h.orgContext()
	h.subscribe(t, ctx, orgID, plan.Pro, 1500)
	h.gateway.scheduleErr = paymentdomain.ErrProviderUnavailable

	_, err := h.svc.ScheduleDowngrade(ctx, billingdomain.ChangePlanRequest{PlanID: "starter"})
	require.NoError(t, err, "local record is authoritative")
	assert.True(t, h.account(t, ctx).HasScheduledDowngrade())
}

func TestScheduleDowngradeGuards(t *testing.T) {
	h := newHarness(t)
	ctx, orgID := h.orgContext()
	h.subscribe(t, ctx, orgID, plan.Starter, 500)

	_, err := h.svc.ScheduleDowngrade(ctx, billingdomain.ChangePlanRequest{PlanID: "pro"})
	assert.ErrorIs(t, err, billingdomain.ErrNotADowngrade)

	_, err = h.svc.ScheduleDowngrade(ctx, billingdomain.ChangePlanRequest{PlanID: "starter"})
	assert.ErrorIs(t, err, billingdomain.ErrAlreadyOnPlan)
}

func TestCancelSetsFlagAndClearsSchedule(t *testing.T) {
	h := newHarness(t)
	ctx, orgID := h.orgContext()
	h.subscribe(t, ctx, orgID, plan.Pro, 1500)

	_, err := h.svc.ScheduleDowngrade(ctx, billingdomain.ChangePlanRequest{PlanID: "starter"})
	require.NoError(t, err)

	require.NoError(t, h.svc.Cancel(ctx))
	account := h.account(t, ctx)
	assert.True(t, account.CancelAtPeriodEnd)
	assert.Equal(t, billingdomain.StatusActive, account.Status, "active until period end")
	assert.False(t, account.HasScheduledDowngrade())
	assert.Equal(t, 1, h.gateway.cancelCalls)

	require.NoError(t, h.svc.Cancel(ctx), "second cancel is a no-op")
	assert.Equal(t, 1, h.gateway.cancelCalls)
}

func TestCancelImmediatelyTerminatesAndDeletesCustomer(t *testing.T) {
	h := newHarness(t)
	ctx, orgID := h.orgContext()
	h.subscribe(t, ctx, orgID, plan.Pro, 1500)

	require.NoError(t, h.svc.CancelImmediately(ctx))
	account := h.account(t, ctx)
	assert.Equal(t, billingdomain.StatusCanceled, account.Status)
	assert.Equal(t, 1, h.gateway.cancelNowCalls)
	assert.Equal(t, []string{"cus_" + orgID.String()}, h.gateway.deletedCustomers)
}

func TestReactivateWithinPeriod(t *testing.T) {
	h := newHarness(t)
	ctx, orgID := h.orgContext()
	h.subscribe(t, ctx, orgID, plan.Pro, 1500)
	require.NoError(t, h.svc.Cancel(ctx))

	h.clock.Advance(15 * 24 * time.Hour)
	require.NoError(t, h.svc.Reactivate(ctx))
	assert.False(t, h.account(t, ctx).CancelAtPeriodEnd)
	assert.Equal(t, 1, h.gateway.reactivateCalls)
}

func TestReactivateAfterPeriodEndFails(t *testing.T) {
	h := newHarness(t)
	ctx, orgID := h.orgContext()
	h.subscribe(t, ctx, orgID, plan.Pro, 1500)
	require.NoError(t, h.svc.Cancel(ctx))

	h.clock.Advance(32 * 24 * time.Hour)
	assert.ErrorIs(t, h.svc.Reactivate(ctx), billingdomain.ErrNoActiveSubscription)
	assert.Zero(t, h.gateway.reactivateCalls)
}

func TestReactivateWithoutPendingCancelFails(t *testing.T) {
	h := newHarness(t)
	ctx, orgID := h.orgContext()
	h.subscribe(t, ctx, orgID, plan.Pro, 1500)

	assert.ErrorIs(t, h.svc.Reactivate(ctx), billingdomain.ErrNotCancelPending)
}

func TestSummaryDuringTrialCapsQuota(t *testing.T) {
	h := newHarness(t)
	ctx, _ := h.orgContext()

	summary, err := h.svc.Summary(ctx)
	require.NoError(t, err)
	assert.True(t, summary.IsTrial)
	assert.Equal(t, 10, summary.Quota, "trial allowance, not the plan quota")
	assert.Equal(t, plan.Starter, summary.PlanID)
}

func TestSummaryIncludesPaymentMethodAndSchedule(t *testing.T) {
	h := newHarness(t)
	ctx, orgID := h.orgContext()
	h.subscribe(t, ctx, orgID, plan.Pro, 1500)
	h.gateway.paymentMethod = &paymentdomain.PaymentMethodSummary{
		Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030,
	}
	_, err := h.svc.ScheduleDowngrade(ctx, billingdomain.ChangePlanRequest{PlanID: "starter"})
	require.NoError(t, err)

	summary, err := h.svc.Summary(ctx)
	require.NoError(t, err)
	assert.False(t, summary.IsTrial)
	assert.Equal(t, 1500, summary.Quota)
	require.NotNil(t, summary.PaymentMethod)
	assert.Equal(t, "4242", summary.PaymentMethod.Last4)
	require.NotNil(t, summary.ScheduledDowngrade)
	assert.Equal(t, plan.Starter, summary.ScheduledDowngrade.PlanID)
}

func TestPreviewsWithoutSubscriptionReturnZero(t *testing.T) {
	h := newHarness(t)
	ctx, _ := h.orgContext()
	h.gateway.upgradeAmount = 999

	resp, err := h.svc.PreviewUpgrade(ctx, "pro")
	require.NoError(t, err)
	assert.Zero(t, resp.AmountCents)
}

func TestPreviewUpgradeReturnsProration(t *testing.T) {
	h := newHarness(t)
	ctx, orgID := h.orgContext()
	h.subscribe(t, ctx, orgID, plan.Starter, 500)
	h.gateway.upgradeAmount = 1250

	resp, err := h.svc.PreviewUpgrade(ctx, "pro")
	require.NoError(t, err)
	assert.Equal(t, int64(1250), resp.AmountCents)
}

func TestPortalRequiresCustomer(t *testing.T) {
	h := newHarness(t)
	ctx, _ := h.orgContext()

	_, err := h.svc.EnsureAccount(ctx)
	require.NoError(t, err)

	_, err = h.svc.Portal(ctx)
	assert.ErrorIs(t, err, paymentdomain.ErrNoCustomer)
}

func planPtr(id plan.ID) *plan.ID { return &id }
func intPtr(v int) *int           { return &v }
