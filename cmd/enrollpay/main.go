package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/enrollpay/internal/checkout"
	"github.com/smallbiznis/enrollpay/internal/config"
	"github.com/smallbiznis/enrollpay/internal/idempotency"
	"github.com/smallbiznis/enrollpay/internal/migration"
	"github.com/smallbiznis/enrollpay/internal/observability"
	"github.com/smallbiznis/enrollpay/internal/payment"
	"github.com/smallbiznis/enrollpay/internal/ratelimit"
	"github.com/smallbiznis/enrollpay/internal/redis"
	"github.com/smallbiznis/enrollpay/internal/server"
	"github.com/smallbiznis/enrollpay/pkg/db"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		redis.Module,
		migration.Module,

		ratelimit.Module,
		idempotency.Module,

		// Payments
		payment.Module,
		checkout.Module,

		server.Module,
	)
	app.Run()
}

// RegisterSnowflake uses SNOWFLAKE_NODE so replicas mint distinct ids.
func RegisterSnowflake() (*snowflake.Node, error) {
	node := int64(1)
	if raw := os.Getenv("SNOWFLAKE_NODE"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		node = parsed
	}
	return snowflake.NewNode(node)
}
