package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	paymentdomain "github.com/paperstreamhq/paperstream/internal/payment/domain"
)

const testSecret = "whsec_test"

func hexSignature(secret string, payload []byte, signedAt time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", signedAt.Unix(), payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func signPayload(secret string, payload []byte, signedAt time.Time) string {
	return fmt.Sprintf("t=%d,v1=%s", signedAt.Unix(), hexSignature(secret, payload, signedAt))
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)

	headers := http.Header{}
	headers.Set("Stripe-Signature", signPayload(testSecret, payload, now))

	v := NewVerifier(testSecret)
	require.NoError(t, v.Verify(payload, headers, now))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"id":"evt_1"}`)

	headers := http.Header{}
	headers.Set("Stripe-Signature", signPayload("whsec_other", payload, now))

	v := NewVerifier(testSecret)
	assert.ErrorIs(t, v.Verify(payload, headers, now), paymentdomain.ErrInvalidSignature)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"id":"evt_1"}`)

	headers := http.Header{}
	headers.Set("Stripe-Signature", signPayload(testSecret, payload, now))

	v := NewVerifier(testSecret)
	assert.ErrorIs(t, v.Verify([]byte(`{"id":"evt_2"}`), headers, now), paymentdomain.ErrInvalidSignature)
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"id":"evt_1"}`)

	headers := http.Header{}
	headers.Set("Stripe-Signature", signPayload(testSecret, payload, now.Add(-6*time.Minute)))

	v := NewVerifier(testSecret)
	assert.ErrorIs(t, v.Verify(payload, headers, now), paymentdomain.ErrInvalidSignature)
}

func TestVerifyRejectsMissingHeader(t *testing.T) {
	v := NewVerifier(testSecret)
	assert.ErrorIs(t, v.Verify([]byte(`{}`), http.Header{}, time.Now()), paymentdomain.ErrInvalidSignature)
}

func TestVerifyRequiresConfiguredSecret(t *testing.T) {
	v := NewVerifier("")
	assert.ErrorIs(t, v.Verify([]byte(`{}`), http.Header{}, time.Now()), paymentdomain.ErrInvalidConfig)
}

func TestVerifyAcceptsSecondV1Signature(t *testing.T) {
	// During secret rotation Stripe sends one v1 entry per active secret.
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"id":"evt_1"}`)

	combined := fmt.Sprintf("t=%d,v1=%s,v1=%s",
		now.Unix(),
		hexSignature("whsec_rotated_out", payload, now),
		hexSignature(testSecret, payload, now),
	)

	headers := http.Header{}
	headers.Set("Stripe-Signature", combined)

	v := NewVerifier(testSecret)
	require.NoError(t, v.Verify(payload, headers, now))
}
