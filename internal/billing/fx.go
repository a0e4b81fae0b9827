package billing

import (
	"go.uber.org/fx"

	"github.com/paperstreamhq/paperstream/internal/billing/repository"
	"github.com/paperstreamhq/paperstream/internal/billing/service"
)

var Module = fx.Module("billing",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
