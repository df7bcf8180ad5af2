package payment

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/enrollpay/internal/payment/adapters"
	"github.com/smallbiznis/enrollpay/internal/payment/adapters/square"
	"github.com/smallbiznis/enrollpay/internal/payment/adapters/stripe"
	"github.com/smallbiznis/enrollpay/internal/payment/repository"
	"github.com/smallbiznis/enrollpay/internal/payment/selector"
	paymentservice "github.com/smallbiznis/enrollpay/internal/payment/service"
	"github.com/smallbiznis/enrollpay/internal/payment/webhook"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(repository.NewLedgerReader),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
			square.NewFactory(),
		)
	}),
	fx.Provide(selector.NewSelector),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
