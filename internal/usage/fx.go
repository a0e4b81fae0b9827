package usage

import (
	"go.uber.org/fx"

	"github.com/paperstreamhq/paperstream/internal/usage/service"
)

var Module = fx.Module("usage",
	fx.Provide(
		service.NewService,
	),
)
