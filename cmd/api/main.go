package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/finledger/ledgercore/internal/api"
	v1 "github.com/finledger/ledgercore/internal/api/v1"
	apivalidator "github.com/finledger/ledgercore/internal/api/validator"
	"github.com/finledger/ledgercore/internal/config"
	apperrors "github.com/finledger/ledgercore/internal/errors"
	"github.com/finledger/ledgercore/internal/events"
	"github.com/finledger/ledgercore/internal/kv"
	"github.com/finledger/ledgercore/internal/kv/memkv"
	"github.com/finledger/ledgercore/internal/kv/mysqlkv"
	"github.com/finledger/ledgercore/internal/metrics"
	"github.com/finledger/ledgercore/internal/service"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	fx.New(
		fx.Provide(
			config.Load,
			zap.NewProduction,
			metrics.NewMetrics,
			newValidator,
			newStore,
			newPublisher,
			newTransactionService,
			service.NewBalanceService,
			v1.NewHandler,
			newFiber,
		),
		fx.Invoke(startServer, startMetricsServer, startCollector),
	).Run()
}

func newFiber() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: apperrors.ErrorHandler()})
}

func newValidator(m *metrics.Metrics) apivalidator.IXValidator {
	return apivalidator.NewXValidator(validator.New(), m)
}

func newStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (kv.Store, *gorm.DB, error) {
	if cfg.Store.Driver == "memory" {
		logger.Warn("Using in-memory record store; data will not survive restarts")
		return memkv.NewStore(), nil, nil
	}

	db, err := mysqlkv.Open(context.Background(), cfg.Store.MySQL, logger)
	if err != nil {
		return nil, nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return mysqlkv.NewStore(db, logger), db, nil
}

func newPublisher(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) events.Publisher {
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Info("Kafka not configured; transaction events disabled")
		return events.NoopPublisher{}
	}

	publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return publisher.Close() },
	})
	return publisher
}

func newTransactionService(store kv.Store, publisher events.Publisher, logger *zap.Logger, m *metrics.Metrics, cfg *config.Config) service.TransactionService {
	return service.NewTransactionService(store, publisher, logger, m, cfg.Idempotency)
}

func startServer(app *fiber.App, handler *v1.Handler, m *metrics.Metrics, logger *zap.Logger, cfg *config.Config, lc fx.Lifecycle) {
	api.SetupRoutes(app, handler, m, logger)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := app.Listen(cfg.API.Port); err != nil {
					logger.Error("API server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return app.ShutdownWithContext(ctx)
		},
	})
}

func startMetricsServer(cfg *config.Config, logger *zap.Logger, lc fx.Lifecycle) {
	srv := &http.Server{Addr: cfg.Metrics.Port, Handler: promhttp.Handler()}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
					logger.Error("Metrics server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func startCollector(m *metrics.Metrics, logger *zap.Logger, db *gorm.DB, lc fx.Lifecycle) {
	collector := metrics.NewCollector(m, logger, db)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			collector.Start(15 * time.Second)
			return nil
		},
		OnStop: func(context.Context) error {
			collector.Stop()
			return nil
		},
	})
}
