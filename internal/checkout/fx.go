package checkout

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/enrollpay/internal/checkout/service"
)

var Module = fx.Module("checkout.service",
	fx.Provide(service.NewService),
)
