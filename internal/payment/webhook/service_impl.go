package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	billingdomain "github.com/paperstreamhq/paperstream/internal/billing/domain"
	"github.com/paperstreamhq/paperstream/internal/clock"
	"github.com/paperstreamhq/paperstream/internal/observability/metrics"
	paymentdomain "github.com/paperstreamhq/paperstream/internal/payment/domain"
	"github.com/paperstreamhq/paperstream/internal/payment/stripe"
	"github.com/paperstreamhq/paperstream/internal/plan"
)

// scheduleSkew tolerates provider clock drift when deciding whether a
// period rollover reaches a pending downgrade's effective time.
const scheduleSkew = time.Minute

// errUnknownAccount aborts a delivery whose account row does not exist
// yet, rolling back the archive insert so the provider's redelivery gets
// a second chance once checkout-completed has created the row.
var errUnknownAccount = errors.New("unknown_account")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     billingdomain.Repository
	Catalog  plan.Catalog
	Gateway  paymentdomain.Gateway
	Verifier *stripe.Verifier
}

// Service is the webhook reconciler. Every handler is idempotent and
// tolerates out-of-order delivery: the provider retries until it sees a
// 2xx, and deliveries for the same subscription can arrive interleaved.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     billingdomain.Repository
	catalog  plan.Catalog
	gateway  paymentdomain.Gateway
	verifier *stripe.Verifier
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.webhook"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		catalog:  p.Catalog,
		gateway:  p.Gateway,
		verifier: p.Verifier,
	}
}

// Process verifies, deduplicates, and applies one provider delivery.
// Verification failures are the caller's signal to reject the request;
// anything after a valid signature must be acknowledged so the provider
// does not retry a delivery we have already archived.
func (s *Service) Process(ctx context.Context, payload []byte, header http.Header) error {
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}
	if err := s.verifier.Verify(payload, header, s.clock.Now()); err != nil {
		return err
	}

	event, err := stripe.ParseEvent(payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			metrics.WebhookEvents.WithLabelValues("unhandled", "ignored").Inc()
			return nil
		}
		return err
	}

	if event.Type == paymentdomain.EventCheckoutCompleted {
		s.enrichPeriodBounds(ctx, event)
	}

	outcome := "applied"
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := &paymentdomain.WebhookEvent{
			ID:              s.genID.Generate(),
			ProviderEventID: event.ProviderEventID,
			EventType:       string(event.Type),
			Payload:         datatypes.JSON(event.RawPayload),
			ReceivedAt:      s.clock.Now(),
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_event_id"}},
			DoNothing: true,
		}).Create(record)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			outcome = "duplicate"
			return nil
		}
		return s.dispatch(ctx, tx, event)
	})
	if errors.Is(err, errUnknownAccount) {
		// Rolled back, not archived. Acknowledge anyway: the provider's
		// scheduled redelivery will land after checkout-completed has
		// created the account row.
		s.log.Warn("event precedes its account, leaving for redelivery",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("type", string(event.Type)),
			zap.String("subscription_id", event.SubscriptionID),
			zap.String("customer_id", event.CustomerID),
		)
		metrics.WebhookEvents.WithLabelValues(string(event.Type), "skipped").Inc()
		return nil
	}
	if err != nil {
		outcome = "error"
	}
	metrics.WebhookEvents.WithLabelValues(string(event.Type), outcome).Inc()

	if err != nil {
		s.log.Error("webhook event failed",
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
		return err
	}
	s.log.Info("webhook event processed",
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("type", string(event.Type)),
		zap.String("outcome", outcome),
	)
	return nil
}

func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, event *paymentdomain.Event) error {
	switch event.Type {
	case paymentdomain.EventCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, tx, event)
	case paymentdomain.EventSubscriptionCreated, paymentdomain.EventSubscriptionUpdated:
		return s.handleSubscriptionChanged(ctx, tx, event)
	case paymentdomain.EventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, tx, event)
	case paymentdomain.EventPaymentFailed:
		return s.handlePaymentFailed(ctx, tx, event)
	default:
		return paymentdomain.ErrInvalidEvent
	}
}

// enrichPeriodBounds retrieves the subscription behind a completed
// checkout so the attach carries its billing period. The session payload
// itself has no bounds, and the subscription events that do can arrive
// in any order relative to this one. Retrieval runs before the archive
// transaction opens; on provider failure the attach proceeds without
// bounds and a later subscription event supplies them.
func (s *Service) enrichPeriodBounds(ctx context.Context, event *paymentdomain.Event) {
	if event.SubscriptionID == "" || !event.CurrentPeriodStart.IsZero() {
		return
	}
	snap, err := s.gateway.RetrieveSubscription(ctx, event.SubscriptionID)
	if err != nil {
		s.log.Warn("subscription retrieve failed, attaching without period bounds",
			zap.String("subscription_id", event.SubscriptionID),
			zap.Error(err),
		)
		return
	}
	event.CurrentPeriodStart = snap.CurrentPeriodStart
	event.CurrentPeriodEnd = snap.CurrentPeriodEnd
}

// handleCheckoutCompleted binds the provider identifiers onto the
// organization named in the session metadata and activates the plan the
// customer checked out, with the period bounds retrieved from the
// provider subscription.
func (s *Service) handleCheckoutCompleted(ctx context.Context, tx *gorm.DB, event *paymentdomain.Event) error {
	orgID, err := snowflake.ParseString(event.OrganizationID)
	if err != nil || orgID == 0 {
		return paymentdomain.ErrInvalidEvent
	}
	planID, err := plan.ParseID(event.PlanID)
	if err != nil {
		return paymentdomain.ErrInvalidEvent
	}
	resolved, err := s.catalog.Resolve(planID)
	if err != nil {
		return paymentdomain.ErrInvalidEvent
	}
	if event.CustomerID == "" || event.SubscriptionID == "" {
		return paymentdomain.ErrInvalidEvent
	}

	now := s.clock.Now()
	account, err := s.repo.FindByOrgID(ctx, tx, orgID)
	if err != nil {
		return err
	}
	if account == nil {
		account = &billingdomain.Account{
			ID:                  s.genID.Generate(),
			OrgID:               orgID,
			PlanID:              planID,
			Status:              billingdomain.StatusTrialing,
			MonthlyInvoiceQuota: resolved.MonthlyQuota,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := s.repo.Insert(ctx, tx, account); err != nil {
			return err
		}
	}
	if account.ProviderSubscriptionID != nil && *account.ProviderSubscriptionID == event.SubscriptionID {
		// Redelivery with a fresh provider event id.
		return nil
	}

	attach := billingdomain.SubscriptionAttach{
		CustomerID:     event.CustomerID,
		SubscriptionID: event.SubscriptionID,
		PlanID:         planID,
		Quota:          resolved.MonthlyQuota,
		Status:         billingdomain.StatusActive,
	}
	if !event.CurrentPeriodStart.IsZero() && !event.CurrentPeriodEnd.IsZero() {
		start, end := event.CurrentPeriodStart, event.CurrentPeriodEnd
		attach.PeriodStart = &start
		attach.PeriodEnd = &end
	}
	return s.repo.AttachSubscription(ctx, tx, orgID, attach, now)
}

// handleSubscriptionChanged mirrors provider-side subscription state:
// status, cancel flag, period bounds, and plan. A rollover that reaches a
// pending downgrade's effective time applies the downgrade exactly once.
func (s *Service) handleSubscriptionChanged(ctx context.Context, tx *gorm.DB, event *paymentdomain.Event) error {
	account, err := s.findAccount(ctx, tx, event)
	if err != nil {
		return err
	}
	if account == nil {
		return errUnknownAccount
	}

	now := s.clock.Now()
	rolledOver := false
	if !event.CurrentPeriodStart.IsZero() && !event.CurrentPeriodEnd.IsZero() {
		rolledOver, err = s.repo.ApplyPeriod(ctx, tx, account.OrgID, event.CurrentPeriodStart, event.CurrentPeriodEnd, now)
		if err != nil {
			return err
		}
	}

	status := mapProviderStatus(event.Status)
	cancel := event.CancelAtPeriodEnd
	update := billingdomain.LifecycleUpdate{
		Status:            &status,
		CancelAtPeriodEnd: &cancel,
	}

	if rolledOver && account.HasScheduledDowngrade() &&
		!event.CurrentPeriodStart.Before(account.ScheduledAt.Add(-scheduleSkew)) {
		resolved, err := s.catalog.Resolve(*account.ScheduledPlanID)
		if err == nil {
			update.PlanID = account.ScheduledPlanID
			update.Quota = &resolved.MonthlyQuota
			update.ClearSchedule = true
		}
	} else if event.PriceID != "" {
		if planID, ok := s.catalog.ByPriceID(event.PriceID); ok {
			if planID != account.PlanID {
				resolved, err := s.catalog.Resolve(planID)
				if err != nil {
					return err
				}
				update.PlanID = &planID
				update.Quota = &resolved.MonthlyQuota
			}
		} else {
			// Plan stays as-is until the catalog learns the price.
			metrics.WebhookUnknownPrice.Inc()
			s.log.Warn("subscription event with unknown price",
				zap.String("org_id", account.OrgID.String()),
				zap.String("price_id", event.PriceID),
			)
		}
	}

	return s.repo.UpdateLifecycle(ctx, tx, account.OrgID, update, now)
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, tx *gorm.DB, event *paymentdomain.Event) error {
	account, err := s.findAccount(ctx, tx, event)
	if err != nil {
		return err
	}
	if account == nil {
		return errUnknownAccount
	}

	status := billingdomain.StatusCanceled
	cancel := false
	update := billingdomain.LifecycleUpdate{
		Status:            &status,
		CancelAtPeriodEnd: &cancel,
		ClearSchedule:     true,
	}
	return s.repo.UpdateLifecycle(ctx, tx, account.OrgID, update, s.clock.Now())
}

func (s *Service) handlePaymentFailed(ctx context.Context, tx *gorm.DB, event *paymentdomain.Event) error {
	account, err := s.findAccount(ctx, tx, event)
	if err != nil {
		return err
	}
	if account == nil {
		return errUnknownAccount
	}
	if account.Status == billingdomain.StatusCanceled {
		return nil
	}
	return s.repo.SetStatus(ctx, tx, account.OrgID, billingdomain.StatusPastDue, s.clock.Now())
}

func (s *Service) findAccount(ctx context.Context, tx *gorm.DB, event *paymentdomain.Event) (*billingdomain.Account, error) {
	if event.SubscriptionID != "" {
		account, err := s.repo.FindBySubscriptionID(ctx, tx, event.SubscriptionID)
		if err != nil || account != nil {
			return account, err
		}
	}
	if event.CustomerID != "" {
		return s.repo.FindByCustomerID(ctx, tx, event.CustomerID)
	}
	return nil, nil
}

// mapProviderStatus folds the provider's status vocabulary onto the
// local state machine. Unknown values land on PAST_DUE: the safe side is
// blocking ingestion, never granting it.
func mapProviderStatus(status string) billingdomain.Status {
	switch status {
	case "trialing", "active":
		return billingdomain.StatusActive
	case "past_due":
		return billingdomain.StatusPastDue
	case "canceled", "unpaid", "incomplete_expired":
		return billingdomain.StatusCanceled
	default:
		return billingdomain.StatusPastDue
	}
}
