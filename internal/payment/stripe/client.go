// Package stripe implements the provider gateway against the Stripe REST
// API and verifies Stripe webhook signatures.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	paymentdomain "github.com/paperstreamhq/paperstream/internal/payment/domain"
)

const apiBase = "https://api.stripe.com"

// Gateway talks to the Stripe API over form-encoded REST calls. Every
// request runs under the client timeout; transport failures and 5xx map
// to ErrProviderUnavailable so callers can tell transient from logic
// errors.
type Gateway struct {
	apiKey string
	client *http.Client
}

func NewGateway(apiKey string) *Gateway {
	return &Gateway{
		apiKey: strings.TrimSpace(apiKey),
		client: &http.Client{Timeout: 12 * time.Second},
	}
}

type stripeSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripePrice struct {
	ID string `json:"id"`
}

type stripeSubscriptionItem struct {
	ID    string      `json:"id"`
	Price stripePrice `json:"price"`
}

type stripeSubscription struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []stripeSubscriptionItem `json:"data"`
	} `json:"items"`
}

type stripeInvoice struct {
	AmountDue int64 `json:"amount_due"`
}

type stripePaymentMethod struct {
	ID   string `json:"id"`
	Card struct {
		Brand    string `json:"brand"`
		Last4    string `json:"last4"`
		ExpMonth int    `json:"exp_month"`
		ExpYear  int    `json:"exp_year"`
	} `json:"card"`
}

type stripeList[T any] struct {
	Data []T `json:"data"`
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Param   string `json:"param"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, params paymentdomain.CheckoutParams) (string, error) {
	values := url.Values{}
	values.Set("mode", "subscription")
	values.Set("line_items[0][price]", params.PriceID)
	values.Set("line_items[0][quantity]", "1")
	values.Set("success_url", params.SuccessURL)
	values.Set("cancel_url", params.CancelURL)
	if params.CustomerEmail != "" {
		values.Set("customer_email", params.CustomerEmail)
	}
	for key, value := range params.Metadata {
		values.Set("metadata["+key+"]", value)
		values.Set("subscription_data[metadata]["+key+"]", value)
	}

	var session stripeSession
	if err := g.do(ctx, http.MethodPost, "/v1/checkout/sessions", values, uuid.NewString(), &session); err != nil {
		return "", err
	}
	if session.URL == "" {
		return "", paymentdomain.ErrProviderUnavailable
	}
	return session.URL, nil
}

func (g *Gateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if strings.TrimSpace(customerID) == "" {
		return "", paymentdomain.ErrNoCustomer
	}
	values := url.Values{}
	values.Set("customer", customerID)
	values.Set("return_url", returnURL)

	var session stripeSession
	if err := g.do(ctx, http.MethodPost, "/v1/billing_portal/sessions", values, "", &session); err != nil {
		return "", err
	}
	return session.URL, nil
}

func (g *Gateway) RetrieveSubscription(ctx context.Context, subscriptionID string) (paymentdomain.SubscriptionSnapshot, error) {
	sub, err := g.fetchSubscription(ctx, subscriptionID)
	if err != nil {
		return paymentdomain.SubscriptionSnapshot{}, err
	}
	return snapshot(sub), nil
}

func (g *Gateway) UpdateSubscriptionPlan(ctx context.Context, subscriptionID, newPriceID string, prorate bool) (paymentdomain.SubscriptionSnapshot, error) {
	sub, err := g.fetchSubscription(ctx, subscriptionID)
	if err != nil {
		return paymentdomain.SubscriptionSnapshot{}, err
	}
	if len(sub.Items.Data) == 0 {
		return paymentdomain.SubscriptionSnapshot{}, paymentdomain.ErrNoActiveSubscription
	}

	values := url.Values{}
	values.Set("items[0][id]", sub.Items.Data[0].ID)
	values.Set("items[0][price]", newPriceID)
	if prorate {
		values.Set("proration_behavior", "always_invoice")
	} else {
		values.Set("proration_behavior", "none")
	}
	values.Set("cancel_at_period_end", "false")

	var updated stripeSubscription
	if err := g.do(ctx, http.MethodPost, "/v1/subscriptions/"+subscriptionID, values, uuid.NewString(), &updated); err != nil {
		return paymentdomain.SubscriptionSnapshot{}, err
	}
	return snapshot(updated), nil
}

// ScheduleDowngrade registers a provider-side phase change at period end.
// The reconciler applies the local scheduledPlanChange on rollover either
// way, so this call is best-effort from the engine's point of view.
func (g *Gateway) ScheduleDowngrade(ctx context.Context, subscriptionID, newPriceID string, effectiveAt time.Time) error {
	values := url.Values{}
	values.Set("from_subscription", subscriptionID)

	var schedule struct {
		ID     string `json:"id"`
		Phases []struct {
			StartDate int64 `json:"start_date"`
			EndDate   int64 `json:"end_date"`
		} `json:"phases"`
	}
	if err := g.do(ctx, http.MethodPost, "/v1/subscription_schedules", values, uuid.NewString(), &schedule); err != nil {
		return err
	}

	sub, err := g.fetchSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if len(sub.Items.Data) == 0 {
		return paymentdomain.ErrNoActiveSubscription
	}

	amend := url.Values{}
	amend.Set("phases[0][items][0][price]", sub.Items.Data[0].Price.ID)
	amend.Set("phases[0][start_date]", strconv.FormatInt(sub.CurrentPeriodStart, 10))
	amend.Set("phases[0][end_date]", strconv.FormatInt(effectiveAt.Unix(), 10))
	amend.Set("phases[1][items][0][price]", newPriceID)
	amend.Set("phases[1][start_date]", strconv.FormatInt(effectiveAt.Unix(), 10))

	var out struct {
		ID string `json:"id"`
	}
	return g.do(ctx, http.MethodPost, "/v1/subscription_schedules/"+schedule.ID, amend, "", &out)
}

func (g *Gateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	values := url.Values{}
	values.Set("cancel_at_period_end", "true")
	var out stripeSubscription
	return g.do(ctx, http.MethodPost, "/v1/subscriptions/"+subscriptionID, values, "", &out)
}

func (g *Gateway) CancelImmediately(ctx context.Context, subscriptionID string) error {
	var out stripeSubscription
	return g.do(ctx, http.MethodDelete, "/v1/subscriptions/"+subscriptionID, nil, "", &out)
}

func (g *Gateway) Reactivate(ctx context.Context, subscriptionID string) error {
	values := url.Values{}
	values.Set("cancel_at_period_end", "false")
	var out stripeSubscription
	return g.do(ctx, http.MethodPost, "/v1/subscriptions/"+subscriptionID, values, "", &out)
}

func (g *Gateway) PreviewUpgrade(ctx context.Context, subscriptionID, newPriceID string) (int64, error) {
	return g.previewInvoice(ctx, subscriptionID, newPriceID, "always_invoice")
}

func (g *Gateway) PreviewDowngrade(ctx context.Context, subscriptionID, newPriceID string) (int64, error) {
	return g.previewInvoice(ctx, subscriptionID, newPriceID, "none")
}

func (g *Gateway) previewInvoice(ctx context.Context, subscriptionID, newPriceID, prorationBehavior string) (int64, error) {
	sub, err := g.fetchSubscription(ctx, subscriptionID)
	if err != nil {
		return 0, err
	}
	if len(sub.Items.Data) == 0 {
		return 0, paymentdomain.ErrNoActiveSubscription
	}

	query := url.Values{}
	query.Set("subscription", subscriptionID)
	query.Set("subscription_items[0][id]", sub.Items.Data[0].ID)
	query.Set("subscription_items[0][price]", newPriceID)
	query.Set("subscription_proration_behavior", prorationBehavior)

	var invoice stripeInvoice
	if err := g.do(ctx, http.MethodGet, "/v1/invoices/upcoming?"+query.Encode(), nil, "", &invoice); err != nil {
		return 0, err
	}
	return invoice.AmountDue, nil
}

func (g *Gateway) DefaultPaymentMethod(ctx context.Context, customerID string) (*paymentdomain.PaymentMethodSummary, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, paymentdomain.ErrNoCustomer
	}
	query := url.Values{}
	query.Set("customer", customerID)
	query.Set("type", "card")
	query.Set("limit", "1")

	var list stripeList[stripePaymentMethod]
	if err := g.do(ctx, http.MethodGet, "/v1/payment_methods?"+query.Encode(), nil, "", &list); err != nil {
		return nil, err
	}
	if len(list.Data) == 0 {
		return nil, nil
	}
	pm := list.Data[0]
	return &paymentdomain.PaymentMethodSummary{
		Brand:    pm.Card.Brand,
		Last4:    pm.Card.Last4,
		ExpMonth: pm.Card.ExpMonth,
		ExpYear:  pm.Card.ExpYear,
	}, nil
}

func (g *Gateway) DeleteCustomer(ctx context.Context, customerID string) error {
	if strings.TrimSpace(customerID) == "" {
		return paymentdomain.ErrNoCustomer
	}
	var out struct {
		Deleted bool `json:"deleted"`
	}
	return g.do(ctx, http.MethodDelete, "/v1/customers/"+customerID, nil, "", &out)
}

func (g *Gateway) fetchSubscription(ctx context.Context, subscriptionID string) (stripeSubscription, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return stripeSubscription{}, paymentdomain.ErrNoActiveSubscription
	}
	var sub stripeSubscription
	if err := g.do(ctx, http.MethodGet, "/v1/subscriptions/"+subscriptionID, nil, "", &sub); err != nil {
		return stripeSubscription{}, err
	}
	return sub, nil
}

func snapshot(sub stripeSubscription) paymentdomain.SubscriptionSnapshot {
	snap := paymentdomain.SubscriptionSnapshot{
		SubscriptionID:     sub.ID,
		CustomerID:         sub.Customer,
		Status:             sub.Status,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}
	if len(sub.Items.Data) > 0 {
		snap.PriceID = sub.Items.Data[0].Price.ID
	}
	return snap
}

func (g *Gateway) do(ctx context.Context, method, path string, values url.Values, idempotencyKey string, out any) error {
	if g.apiKey == "" {
		return paymentdomain.ErrInvalidConfig
	}

	body := ""
	if values != nil {
		body = values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, apiBase+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		// Timeouts and transport failures never imply provider-side state.
		return paymentdomain.ErrProviderUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return paymentdomain.ErrProviderUnavailable
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return mapAPIError(resp.Body)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func mapAPIError(body io.Reader) error {
	var apiErr stripeErrorResponse
	if err := json.NewDecoder(body).Decode(&apiErr); err != nil {
		return paymentdomain.ErrProviderUnavailable
	}
	switch apiErr.Error.Code {
	case "resource_missing":
		if strings.HasPrefix(apiErr.Error.Param, "customer") {
			return paymentdomain.ErrNoCustomer
		}
		return paymentdomain.ErrNoActiveSubscription
	}
	message := strings.TrimSpace(apiErr.Error.Message)
	if message == "" {
		message = "stripe_request_failed"
	}
	return errors.New(message)
}
