package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	paymentdomain "github.com/paperstreamhq/paperstream/internal/payment/domain"
)

const maxWebhookBody = 1 << 20

// StripeWebhook ingests provider deliveries. Only an unverifiable
// request gets a non-2xx: once the signature checks out the delivery is
// archived, so a retry would be a duplicate, and a handler failure is
// our problem to repair, not the provider's to redeliver.
func (s *Server) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	err = s.webhookSvc.Process(c.Request.Context(), payload, c.Request.Header)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, paymentdomain.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
	default:
		s.log.Error("webhook handler failed after verification", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
