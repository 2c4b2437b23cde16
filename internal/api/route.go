package api

import (
	v1 "github.com/finledger/ledgercore/internal/api/v1"
	"github.com/finledger/ledgercore/internal/metrics"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const prefixV1 = "/api/v1"

func SetupRoutes(app *fiber.App, handler *v1.Handler, m *metrics.Metrics, logger *zap.Logger) {
	app.Use(metrics.HTTPMetricsMiddleware(m, logger))

	app.Get("/ping", handler.Pong)
	app.Post(prefixV1+"/transactions", handler.ExecuteTransaction)
	app.Get(prefixV1+"/accounts/:id/balance", handler.GetAccountBalance)
}
