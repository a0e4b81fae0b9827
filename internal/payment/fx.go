package payment

import (
	"go.uber.org/fx"

	"github.com/paperstreamhq/paperstream/internal/config"
	paymentdomain "github.com/paperstreamhq/paperstream/internal/payment/domain"
	"github.com/paperstreamhq/paperstream/internal/payment/stripe"
	"github.com/paperstreamhq/paperstream/internal/payment/webhook"
)

var Module = fx.Module("payment",
	fx.Provide(
		provideGateway,
		provideVerifier,
		webhook.NewService,
	),
)

func provideGateway(cfg config.Config) paymentdomain.Gateway {
	return stripe.NewGateway(cfg.StripeAPIKey)
}

func provideVerifier(cfg config.Config) *stripe.Verifier {
	return stripe.NewVerifier(cfg.StripeWebhookSecret)
}
