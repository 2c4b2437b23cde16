// Command provision creates the record-store schema and optionally seeds
// initial account balances from the provision section of the config.
package main

import (
	"context"
	"errors"
	"time"

	"github.com/finledger/ledgercore/internal/config"
	"github.com/finledger/ledgercore/internal/kv"
	"github.com/finledger/ledgercore/internal/kv/mysqlkv"
	"github.com/finledger/ledgercore/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx := context.Background()
	db, err := mysqlkv.Open(ctx, cfg.Store.MySQL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to record store", zap.Error(err))
	}

	if err := mysqlkv.Migrate(db); err != nil {
		logger.Fatal("Failed to provision record store schema", zap.Error(err))
	}
	logger.Info("Record store schema provisioned")

	store := mysqlkv.NewStore(db, logger)
	seedBalances(ctx, store, cfg.Provision.Seed, logger)
}

func seedBalances(ctx context.Context, store kv.Store, seeds []config.SeedAccount, logger *zap.Logger) {
	for _, seed := range seeds {
		balance, err := decimal.NewFromString(seed.Balance)
		if err != nil {
			logger.Error("Skipping seed with invalid balance",
				zap.String("account_id", seed.AccountID),
				zap.String("balance", seed.Balance),
				zap.Error(err),
			)
			continue
		}

		now := time.Now()
		rec := model.BalanceRecord{
			AccountID: seed.AccountID,
			Balance:   balance,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}

		err = store.Put(ctx, rec.Record(), kv.IfAbsent())
		if errors.Is(err, kv.ErrConditionFailed) {
			logger.Info("Account already exists, seed skipped", zap.String("account_id", seed.AccountID))
			continue
		}
		if err != nil {
			logger.Fatal("Failed to seed account balance",
				zap.String("account_id", seed.AccountID), zap.Error(err))
		}

		logger.Info("Seeded account balance",
			zap.String("account_id", seed.AccountID),
			zap.String("balance", balance.String()),
		)
	}
}
