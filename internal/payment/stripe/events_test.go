package stripe

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	paymentdomain "github.com/paperstreamhq/paperstream/internal/payment/domain"
)

func TestParseCheckoutCompleted(t *testing.T) {
	payload := []byte(`{
		"id": "evt_checkout",
		"type": "checkout.session.completed",
		"created": 1748779200,
		"data": {"object": {
			"id": "cs_123",
			"customer": "cus_123",
			"subscription": "sub_123",
			"metadata": {"organization_id": "900719", "plan_id": "pro"}
		}}
	}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventCheckoutCompleted, event.Type)
	assert.Equal(t, "evt_checkout", event.ProviderEventID)
	assert.Equal(t, "cus_123", event.CustomerID)
	assert.Equal(t, "sub_123", event.SubscriptionID)
	assert.Equal(t, "900719", event.OrganizationID)
	assert.Equal(t, "pro", event.PlanID)
}

func TestParseSubscriptionUpdated(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_sub",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_123",
			"customer": "cus_123",
			"status": "active",
			"cancel_at_period_end": true,
			"current_period_start": %d,
			"current_period_end": %d,
			"items": {"data": [{"id": "si_1", "price": {"id": "price_pro_monthly"}}]}
		}}
	}`, start.Unix(), end.Unix()))

	event, err := ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventSubscriptionUpdated, event.Type)
	assert.Equal(t, "active", event.Status)
	assert.True(t, event.CancelAtPeriodEnd)
	assert.Equal(t, "price_pro_monthly", event.PriceID)
	assert.Equal(t, start, event.CurrentPeriodStart)
	assert.Equal(t, end, event.CurrentPeriodEnd)
}

func TestParseSubscriptionWithoutBounds(t *testing.T) {
	payload := []byte(`{
		"id": "evt_sub",
		"type": "customer.subscription.updated",
		"data": {"object": {"id": "sub_123", "customer": "cus_123", "status": "past_due"}}
	}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)
	assert.True(t, event.CurrentPeriodStart.IsZero())
	assert.True(t, event.CurrentPeriodEnd.IsZero())
}

func TestParsePaymentFailed(t *testing.T) {
	payload := []byte(`{
		"id": "evt_inv",
		"type": "invoice.payment_failed",
		"data": {"object": {"id": "in_1", "customer": "cus_123", "subscription": "sub_123"}}
	}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventPaymentFailed, event.Type)
	assert.Equal(t, "sub_123", event.SubscriptionID)
}

func TestParseIgnoresUnhandledTypes(t *testing.T) {
	payload := []byte(`{"id": "evt_x", "type": "customer.created", "data": {"object": {}}}`)
	_, err := ParseEvent(payload)
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
}

func TestParseRejectsMalformedPayload(t *testing.T) {
	_, err := ParseEvent([]byte(`{not json`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
}
