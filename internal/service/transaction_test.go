package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/finledger/ledgercore/internal/constants"
	"github.com/finledger/ledgercore/internal/events"
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

func newTransactionService(store kv.Store, cfg service.IdempotencyConfig) service.TransactionService {
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	return service.NewTransactionService(store, events.NoopPublisher{}, zap.NewNop(), m, cfg)
}

// hookStore wraps a real store to inject faults at chosen points.
type hookStore struct {
	kv.Store
	mu           sync.Mutex
	readErr      error
	beforeCommit func()
}

func (h *hookStore) Read(ctx context.Context, key kv.Key) (kv.Record, error) {
	h.mu.Lock()
	err := h.readErr
	h.mu.Unlock()
	if err != nil {
		return kv.Record{}, err
	}
	return h.Store.Read(ctx, key)
}

func (h *hookStore) Commit(ctx context.Context, writes []kv.Write) error {
	h.mu.Lock()
	hook := h.beforeCommit
	h.beforeCommit = nil
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	return h.Store.Commit(ctx, writes)
}

func (h *hookStore) setReadErr(err error) {
	h.mu.Lock()
	h.readErr = err
	h.mu.Unlock()
}

func creditCmd(token, account, amount string) service.TransactionCommand {
	return service.TransactionCommand{
		IdempotencyToken: token,
		AccountID:        account,
		Amount:           amount,
		Direction:        model.DirectionCredit,
	}
}

func debitCmd(token, account, amount string) service.TransactionCommand {
	return service.TransactionCommand{
		IdempotencyToken: token,
		AccountID:        account,
		Amount:           amount,
		Direction:        model.DirectionDebit,
	}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var serviceErr service.Error
	assert.True(t, errors.As(err, &serviceErr), "expected service.Error, got %v", err)
	assert.Equal(t, code, serviceErr.Code)
}

func ledgerEntryCount(store *memkv.Store, accountID string) int {
	count := 0
	for _, key := range store.Keys() {
		if key.PK == "USER#"+accountID && strings.HasPrefix(key.SK, "TXN#") {
			count++
		}
	}
	return count
}

func TestExecute_Validation(t *testing.T) {
	store := memkv.NewStore()
	svc := newTransactionService(store, service.IdempotencyConfig{})
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  service.TransactionCommand
		code string
	}{
		{"empty token", creditCmd("", "u1", "100"), constants.ErrCodeInvalidToken},
		{"whitespace token", creditCmd("   ", "u1", "100"), constants.ErrCodeInvalidToken},
		{"empty account", creditCmd("t1", "  ", "100"), constants.ErrCodeInvalidAccount},
		{"unparseable amount", creditCmd("t1", "u1", "abc"), constants.ErrCodeInvalidAmount},
		{"zero amount", creditCmd("t1", "u1", "0"), constants.ErrCodeInvalidAmount},
		{"negative amount", creditCmd("t1", "u1", "-5"), constants.ErrCodeInvalidAmount},
		{"sub-cent amount", creditCmd("t1", "u1", "0.001"), constants.ErrCodeInvalidAmount},
		{"bad direction", service.TransactionCommand{IdempotencyToken: "t1", AccountID: "u1", Amount: "100", Direction: "transfer"}, constants.ErrCodeInvalidDirection},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Execute(ctx, tc.cmd)
			assertCode(t, err, tc.code)
		})
	}

	// Malformed input never reaches the store and is never recorded.
	assert.Equal(t, 0, store.Len())
}

func TestExecute_CreditUnseenAccount(t *testing.T) {
	store := memkv.NewStore()
	svc := newTransactionService(store, service.IdempotencyConfig{})
	ctx := context.Background()

	result, err := svc.Execute(ctx, creditCmd("t1", "u1", "100"))
	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.Replayed)
	assert.True(t, result.Balance.Equal(decimal.RequireFromString("100")))
	assert.Equal(t, "u1", result.AccountID)
	assert.Equal(t, model.DirectionCredit, result.Direction)

	balance, err := store.Read(ctx, model.BalanceKey("u1"))
	assert.NoError(t, err)
	assert.Equal(t, int64(1), balance.Version)

	assert.Equal(t, 1, ledgerEntryCount(store, "u1"))

	idem, err := store.Read(ctx, model.IdempotencyKey("t1"))
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, idem.Status)
}

func TestExecute_ReplaySameToken(t *testing.T) {
	store := memkv.NewStore()
	svc := newTransactionService(store, service.IdempotencyConfig{})
	ctx := context.Background()

	first, err := svc.Execute(ctx, creditCmd("t1", "u1", "100"))
	assert.NoError(t, err)
	assert.True(t, first.Success)

	// Identical retry replays the stored outcome without re-executing.
	second, err := svc.Execute(ctx, creditCmd("t1", "u1", "100"))
	assert.NoError(t, err)
	assert.True(t, second.Success)
	assert.True(t, second.Replayed)
	assert.True(t, second.Balance.Equal(decimal.RequireFromString("100")))
	assert.Contains(t, second.Message, "already processed")

	// A retry with a different amount still returns the original outcome.
	third, err := svc.Execute(ctx, creditCmd("t1", "u1", "999"))
	assert.NoError(t, err)
	assert.True(t, third.Replayed)
	assert.True(t, third.Amount.Equal(decimal.RequireFromString("100")))

	balance, err := store.Read(ctx, model.BalanceKey("u1"))
	assert.NoError(t, err)
	assert.Equal(t, int64(1), balance.Version)
	assert.Equal(t, 1, ledgerEntryCount(store, "u1"))
}

func TestExecute_InsufficientFunds(t *testing.T) {
	store := memkv.NewStore()
	svc := newTransactionService(store, service.IdempotencyConfig{})
	ctx := context.Background()

	_, err := svc.Execute(ctx, creditCmd("t1", "u1", "100"))
	assert.NoError(t, err)

	_, err = svc.Execute(ctx, debitCmd("t2", "u1", "150"))
	assertCode(t, err, constants.ErrCodeInsufficientFunds)

	// Balance untouched.
	balance, readErr := store.Read(ctx, model.BalanceKey("u1"))
	assert.NoError(t, readErr)
	record, convErr := model.BalanceFromRecord(balance)
	assert.NoError(t, convErr)
	assert.True(t, record.Balance.Equal(decimal.RequireFromString("100")))
	assert.Equal(t, int64(1), record.Version)

	// The failure was recorded; replaying the token returns the stored
	// failed outcome without touching the account.
	replay, err := svc.Execute(ctx, debitCmd("t2", "u1", "150"))
	assert.NoError(t, err)
	assert.False(t, replay.Success)
	assert.True(t, replay.Replayed)
	assert.True(t, replay.Balance.IsZero())
	assert.Contains(t, replay.Message, "previously failed")
}

func TestExecute_ExactDebitToZero(t *testing.T) {
	store := memkv.NewStore()
	svc := newTransactionService(store, service.IdempotencyConfig{})
	ctx := context.Background()

	_, err := svc.Execute(ctx, creditCmd("t1", "u1", "100"))
	assert.NoError(t, err)

	result, err := svc.Execute(ctx, debitCmd("t2", "u1", "100"))
	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Balance.IsZero())
}

func TestExecute_VersionMonotonic(t *testing.T) {
	store := memkv.NewStore()
	svc := newTransactionService(store, service.IdempotencyConfig{})
	ctx := context.Background()

	_, err := svc.Execute(ctx, creditCmd("t1", "u1", "10.25"))
	assert.NoError(t, err)
	_, err = svc.Execute(ctx, creditCmd("t2", "u1", "5.50"))
	assert.NoError(t, err)
	result, err := svc.Execute(ctx, debitCmd("t3", "u1", "0.75"))
	assert.NoError(t, err)

	assert.True(t, result.Balance.Equal(decimal.RequireFromString("15.00")))

	balance, err := store.Read(ctx, model.BalanceKey("u1"))
	assert.NoError(t, err)
	assert.Equal(t, int64(3), balance.Version)
}

func TestExecute_RaceConditionReleasesClaim(t *testing.T) {
	inner := memkv.NewStore()
	store := &hookStore{Store: inner}
	svc := newTransactionService(store, service.IdempotencyConfig{})
	ctx := context.Background()

	_, err := svc.Execute(ctx, creditCmd("t1", "u1", "100"))
	assert.NoError(t, err)

	// A concurrent writer advances the account between our balance read and
	// the commit.
	store.beforeCommit = func() {
		now := time.Now()
		rec := model.BalanceRecord{
			AccountID: "u1",
			Balance:   decimal.RequireFromString("200"),
			Version:   2,
			CreatedAt: now,
			UpdatedAt: now,
		}
		_ = inner.Put(ctx, rec.Record(), kv.IfVersion(1))
	}

	_, err = svc.Execute(ctx, creditCmd("t2", "u1", "50"))
	assertCode(t, err, constants.ErrCodeRaceCondition)

	// The pending claim was released, so retrying the same token succeeds
	// against the fresh balance.
	result, err := svc.Execute(ctx, creditCmd("t2", "u1", "50"))
	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Balance.Equal(decimal.RequireFromString("250")))
}

func TestExecute_PendingClaimConflict(t *testing.T) {
	store := memkv.NewStore()
	svc := newTransactionService(store, service.IdempotencyConfig{})
	ctx := context.Background()

	now := time.Now()
	claim := model.IdempotencyRecord{
		Token:            "t1",
		AccountID:        "u1",
		Amount:           "100",
		Direction:        model.DirectionCredit,
		ResultingBalance: decimal.Zero,
		Status:           model.StatusPending,
		Version:          1,
		CreatedAt:        now,
		ExpiresAt:        now.Add(30 * 24 * time.Hour),
	}
	assert.NoError(t, store.Put(ctx, claim.Record(), kv.IfAbsent()))

	_, err := svc.Execute(ctx, creditCmd("t1", "u1", "100"))
	assertCode(t, err, constants.ErrCodeRaceCondition)

	// Nothing was executed while the claim is held elsewhere.
	_, err = store.Read(ctx, model.BalanceKey("u1"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestExecute_AbandonedClaimTakeover(t *testing.T) {
	store := memkv.NewStore()
	svc := newTransactionService(store, service.IdempotencyConfig{ClaimTTL: time.Nanosecond})
	ctx := context.Background()

	stale := time.Now().Add(-time.Hour)
	claim := model.IdempotencyRecord{
		Token:            "t1",
		AccountID:        "u1",
		Amount:           "100",
		Direction:        model.DirectionCredit,
		ResultingBalance: decimal.Zero,
		Status:           model.StatusPending,
		Version:          1,
		CreatedAt:        stale,
		ExpiresAt:        stale.Add(30 * 24 * time.Hour),
	}
	assert.NoError(t, store.Put(ctx, claim.Record(), kv.IfAbsent()))

	result, err := svc.Execute(ctx, creditCmd("t1", "u1", "100"))
	assert.NoError(t, err)
	assert.True(t, result.Success)

	idem, err := store.Read(ctx, model.IdempotencyKey("t1"))
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, idem.Status)
	assert.Equal(t, int64(2), idem.Version)
}

func TestExecute_StoreUnavailableRecordsFailure(t *testing.T) {
	inner := memkv.NewStore()
	store := &hookStore{Store: inner}
	svc := newTransactionService(store, service.IdempotencyConfig{})
	ctx := context.Background()

	store.setReadErr(errors.New("connection refused"))

	_, err := svc.Execute(ctx, creditCmd("t1", "u1", "100"))
	assertCode(t, err, constants.ErrCodeStoreUnavailable)

	store.setReadErr(nil)

	// The best-effort failure record landed, so the retry replays it.
	replay, err := svc.Execute(ctx, creditCmd("t1", "u1", "100"))
	assert.NoError(t, err)
	assert.False(t, replay.Success)
	assert.True(t, replay.Replayed)
	assert.True(t, replay.Balance.IsZero())
}

func TestExecute_ConcurrentDebits(t *testing.T) {
	store := memkv.NewStore()
	svc := newTransactionService(store, service.IdempotencyConfig{})
	ctx := context.Background()

	_, err := svc.Execute(ctx, creditCmd("seed", "u1", "100"))
	assert.NoError(t, err)

	const callers = 5
	results := make([]error, callers)
	tokens := []string{"d1", "d2", "d3", "d4", "d5"}

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// RaceCondition is the caller's signal to retry with the same token.
			for {
				_, err := svc.Execute(ctx, debitCmd(tokens[i], "u1", "50"))
				var serviceErr service.Error
				if errors.As(err, &serviceErr) && serviceErr.Code == constants.ErrCodeRaceCondition {
					continue
				}
				results[i] = err
				return
			}
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		assertCode(t, err, constants.ErrCodeInsufficientFunds)
	}
	assert.Equal(t, 2, successes)

	balance, err := store.Read(ctx, model.BalanceKey("u1"))
	assert.NoError(t, err)
	record, err := model.BalanceFromRecord(balance)
	assert.NoError(t, err)
	assert.True(t, record.Balance.IsZero())
	// seed + exactly two successful debits
	assert.Equal(t, int64(3), record.Version)
}
