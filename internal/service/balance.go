package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/finledger/ledgercore/internal/constants"
	"github.com/finledger/ledgercore/internal/kv"
	"github.com/finledger/ledgercore/internal/metrics"
	"github.com/finledger/ledgercore/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type BalanceService interface {
	GetBalance(ctx context.Context, accountID string) (BalanceResult, error)
}

type balanceService struct {
	store   kv.Store
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewBalanceService(store kv.Store, log *zap.Logger, metrics *metrics.Metrics) BalanceService {
	return &balanceService{store: store, log: log, metrics: metrics}
}

func (s *balanceService) GetBalance(ctx context.Context, accountID string) (BalanceResult, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return BalanceResult{}, NewServiceError(constants.ErrCodeInvalidAccount, ErrInvalidAccount)
	}

	start := time.Now()
	rec, err := s.store.Read(ctx, model.BalanceKey(accountID))
	duration := time.Since(start)

	if err != nil {
		// An account with no record holds a zero balance; that is the
		// canonical new-account state, not an error.
		if errors.Is(err, kv.ErrNotFound) {
			s.metrics.RecordStoreOp("read", "not_found", duration)
			s.metrics.RecordBalanceRetrieval("success")
			return BalanceResult{AccountID: accountID, Balance: decimal.Zero}, nil
		}

		s.log.Error("Failed to read balance record",
			zap.String("account_id", accountID),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		s.metrics.RecordStoreOp("read", "error", duration)
		s.metrics.RecordBalanceRetrieval("error")
		return BalanceResult{}, NewServiceError(constants.ErrCodeStoreUnavailable, err)
	}
	s.metrics.RecordStoreOp("read", "success", duration)

	balance, err := model.BalanceFromRecord(rec)
	if err != nil {
		s.log.Error("Corrupt balance record", zap.String("account_id", accountID), zap.Error(err))
		s.metrics.RecordBalanceRetrieval("error")
		return BalanceResult{}, NewServiceError(constants.ErrCodeStoreUnavailable, err)
	}

	s.metrics.RecordBalanceRetrieval("success")
	s.metrics.UpdateAccountBalance(accountID, balance.Balance.InexactFloat64())

	s.log.Debug("Balance retrieved",
		zap.String("account_id", accountID),
		zap.String("balance", balance.Balance.String()),
		zap.Duration("duration", duration),
	)

	return BalanceResult{AccountID: accountID, Balance: balance.Balance}, nil
}
