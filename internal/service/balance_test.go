package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/finledger/ledgercore/internal/constants"
	"github.com/finledger/ledgercore/internal/kv"
	"github.com/finledger/ledgercore/internal/kv/memkv"
	"github.com/finledger/ledgercore/internal/metrics"
	"github.com/finledger/ledgercore/internal/model"
	"github.com/finledger/ledgercore/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newBalanceService(store kv.Store) service.BalanceService {
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	return service.NewBalanceService(store, zap.NewNop(), m)
}

func TestGetBalance_InvalidAccount(t *testing.T) {
	svc := newBalanceService(memkv.NewStore())

	for _, accountID := range []string{"", "   ", "\t"} {
		_, err := svc.GetBalance(context.Background(), accountID)
		assertCode(t, err, constants.ErrCodeInvalidAccount)
	}
}

func TestGetBalance_UnseenAccountIsZero(t *testing.T) {
	svc := newBalanceService(memkv.NewStore())

	result, err := svc.GetBalance(context.Background(), "never-seen")
	assert.NoError(t, err)
	assert.Equal(t, "never-seen", result.AccountID)
	assert.True(t, result.Balance.IsZero())
}

func TestGetBalance_ExistingAccount(t *testing.T) {
	store := memkv.NewStore()
	svc := newBalanceService(store)
	ctx := context.Background()

	now := time.Now()
	rec := model.BalanceRecord{
		AccountID: "u1",
		Balance:   decimal.RequireFromString("42.50"),
		Version:   3,
		CreatedAt: now,
		UpdatedAt: now,
	}
	assert.NoError(t, store.Put(ctx, rec.Record(), kv.IfAbsent()))

	result, err := svc.GetBalance(ctx, " u1 ")
	assert.NoError(t, err)
	assert.Equal(t, "u1", result.AccountID)
	assert.True(t, result.Balance.Equal(decimal.RequireFromString("42.5")))
}

func TestGetBalance_StoreUnavailable(t *testing.T) {
	store := &hookStore{Store: memkv.NewStore()}
	store.setReadErr(errors.New("connection reset"))
	svc := newBalanceService(store)

	_, err := svc.GetBalance(context.Background(), "u1")
	assertCode(t, err, constants.ErrCodeStoreUnavailable)
}
