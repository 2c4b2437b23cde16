package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/finledger/ledgercore/internal/constants"
	"github.com/finledger/ledgercore/internal/events"
	"github.com/finledger/ledgercore/internal/kv"
	"github.com/finledger/ledgercore/internal/metrics"
	"github.com/finledger/ledgercore/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInvalidToken      = errors.New("invalid idempotency token")
	ErrInvalidAccount    = errors.New("invalid account id")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidDirection  = errors.New("invalid direction")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRaceCondition     = errors.New("concurrent update conflict")
)

// IdempotencyConfig controls the outcome cache: RecordTTL is the retention
// horizon written on every record, ClaimTTL is how long a pending claim is
// honored before it counts as abandoned.
type IdempotencyConfig struct {
	RecordTTL time.Duration `mapstructure:"record_ttl"`
	ClaimTTL  time.Duration `mapstructure:"claim_ttl"`
}

const (
	defaultRecordTTL = 30 * 24 * time.Hour
	defaultClaimTTL  = 5 * time.Minute
)

// Index of the idempotency finalize write inside the commit batch.
const claimWriteIndex = 2

type TransactionService interface {
	Execute(ctx context.Context, cmd TransactionCommand) (TransactionResult, error)
}

type transactionService struct {
	store     kv.Store
	publisher events.Publisher
	log       *zap.Logger
	metrics   *metrics.Metrics
	cfg       IdempotencyConfig
	now       func() time.Time
}

func NewTransactionService(store kv.Store, publisher events.Publisher, log *zap.Logger, metrics *metrics.Metrics, cfg IdempotencyConfig) TransactionService {
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = defaultRecordTTL
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = defaultClaimTTL
	}
	return &transactionService{
		store:     store,
		publisher: publisher,
		log:       log,
		metrics:   metrics,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Execute applies one credit or debit with exactly-once effect. The
// idempotency record's creation is the concurrency gate: a pending marker is
// claimed before the balance read and finalized in the same atomic batch as
// the balance and ledger writes.
func (s *transactionService) Execute(ctx context.Context, cmd TransactionCommand) (TransactionResult, error) {
	cmd, amount, err := validate(cmd)
	if err != nil {
		// Malformed input is never recorded; the caller resubmits corrected input.
		return TransactionResult{}, err
	}

	now := s.now()

	claim, replay, err := s.claimToken(ctx, cmd, now)
	if err != nil {
		return TransactionResult{}, err
	}
	if replay != nil {
		return *replay, nil
	}

	current, err := s.currentBalance(ctx, cmd.AccountID)
	if err != nil {
		s.metrics.RecordTransaction(cmd.Direction, "store_unavailable")
		s.recordFailureLogged(ctx, claim)
		return TransactionResult{}, err
	}

	newBalance := current.Balance.Add(amount)
	if cmd.Direction == model.DirectionDebit {
		newBalance = current.Balance.Sub(amount)
		if newBalance.IsNegative() {
			s.metrics.RecordTransaction(cmd.Direction, "insufficient_funds")
			s.recordFailureLogged(ctx, claim)
			s.log.Info("Debit rejected for insufficient funds",
				zap.String("account_id", cmd.AccountID),
				zap.String("balance", current.Balance.String()),
				zap.String("amount", amount.String()),
			)
			return TransactionResult{}, NewServiceError(constants.ErrCodeInsufficientFunds,
				fmt.Errorf("%w: account %s holds %s, debit of %s requested",
					ErrInsufficientFunds, cmd.AccountID, current.Balance, amount))
		}
	}

	if err := s.commit(ctx, cmd, claim, current, amount, newBalance, now); err != nil {
		return TransactionResult{}, err
	}

	s.metrics.RecordTransaction(cmd.Direction, "completed")
	s.metrics.UpdateAccountBalance(cmd.AccountID, newBalance.InexactFloat64())

	if err := s.publisher.PublishTransactionCompleted(ctx, events.TransactionCompleted{
		IdempotencyToken: cmd.IdempotencyToken,
		AccountID:        cmd.AccountID,
		Direction:        cmd.Direction,
		Amount:           amount,
		ResultingBalance: newBalance,
		OccurredAt:       now,
	}); err != nil {
		s.log.Warn("Failed to publish transaction event",
			zap.String("idempotency_token", cmd.IdempotencyToken),
			zap.Error(err),
		)
	}

	s.log.Info("Transaction completed",
		zap.String("idempotency_token", cmd.IdempotencyToken),
		zap.String("account_id", cmd.AccountID),
		zap.String("direction", cmd.Direction),
		zap.String("amount", amount.String()),
		zap.String("balance", newBalance.String()),
		zap.Int64("version", current.Version+1),
	)

	return TransactionResult{
		Success:          true,
		IdempotencyToken: cmd.IdempotencyToken,
		AccountID:        cmd.AccountID,
		Amount:           amount,
		Direction:        cmd.Direction,
		Balance:          newBalance,
		Message:          constants.TransactionCompleted,
	}, nil
}

func validate(cmd TransactionCommand) (TransactionCommand, decimal.Decimal, error) {
	cmd.IdempotencyToken = strings.TrimSpace(cmd.IdempotencyToken)
	if cmd.IdempotencyToken == "" {
		return cmd, decimal.Decimal{}, NewServiceError(constants.ErrCodeInvalidToken, ErrInvalidToken)
	}

	cmd.AccountID = strings.TrimSpace(cmd.AccountID)
	if cmd.AccountID == "" {
		return cmd, decimal.Decimal{}, NewServiceError(constants.ErrCodeInvalidAccount, ErrInvalidAccount)
	}

	cmd.Amount = strings.TrimSpace(cmd.Amount)
	amount, err := decimal.NewFromString(cmd.Amount)
	if err != nil {
		return cmd, decimal.Decimal{}, NewServiceError(constants.ErrCodeInvalidAmount,
			fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, cmd.Amount))
	}
	if !amount.IsPositive() {
		return cmd, decimal.Decimal{}, NewServiceError(constants.ErrCodeInvalidAmount,
			fmt.Errorf("%w: %q is not positive", ErrInvalidAmount, cmd.Amount))
	}
	// Accounting precision is two decimal places; sub-cent amounts are rejected.
	if !amount.Equal(amount.Round(2)) {
		return cmd, decimal.Decimal{}, NewServiceError(constants.ErrCodeInvalidAmount,
			fmt.Errorf("%w: %q has sub-cent precision", ErrInvalidAmount, cmd.Amount))
	}

	cmd.Direction = strings.TrimSpace(cmd.Direction)
	if cmd.Direction != model.DirectionCredit && cmd.Direction != model.DirectionDebit {
		return cmd, decimal.Decimal{}, NewServiceError(constants.ErrCodeInvalidDirection,
			fmt.Errorf("%w: %q", ErrInvalidDirection, cmd.Direction))
	}

	return cmd, amount, nil
}

// claimToken inserts the pending marker, or short-circuits: a terminal record
// replays its stored outcome, a live pending marker means another caller is
// mid-flight, and an abandoned marker is taken over on its stale version.
func (s *transactionService) claimToken(ctx context.Context, cmd TransactionCommand, now time.Time) (model.IdempotencyRecord, *TransactionResult, error) {
	claim := model.IdempotencyRecord{
		Token:            cmd.IdempotencyToken,
		AccountID:        cmd.AccountID,
		Amount:           cmd.Amount,
		Direction:        cmd.Direction,
		ResultingBalance: decimal.Zero,
		Status:           model.StatusPending,
		Version:          1,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.cfg.RecordTTL),
	}

	err := s.storePut(ctx, claim.Record(), kv.IfAbsent())
	if err == nil {
		return claim, nil, nil
	}
	if !errors.Is(err, kv.ErrConditionFailed) {
		s.log.Error("Failed to claim idempotency token",
			zap.String("idempotency_token", cmd.IdempotencyToken), zap.Error(err))
		return claim, nil, NewServiceError(constants.ErrCodeStoreUnavailable, err)
	}

	existing, err := s.readIdempotency(ctx, cmd.IdempotencyToken)
	if err != nil {
		return claim, nil, err
	}

	if existing.Terminal() {
		s.metrics.RecordReplay(existing.Status)
		s.log.Info("Replaying stored outcome for idempotency token",
			zap.String("idempotency_token", cmd.IdempotencyToken),
			zap.String("status", existing.Status),
		)
		result := replayResult(existing)
		return claim, &result, nil
	}

	if now.Sub(existing.CreatedAt) <= s.cfg.ClaimTTL {
		s.metrics.RecordTransaction(cmd.Direction, "race_condition")
		return claim, nil, NewServiceError(constants.ErrCodeRaceCondition,
			fmt.Errorf("%w: token %s is already being processed", ErrRaceCondition, cmd.IdempotencyToken))
	}

	// The previous holder never finalized; re-claim against its version.
	claim.Version = existing.Version + 1
	err = s.storePut(ctx, claim.Record(), kv.IfVersion(existing.Version))
	if err == nil {
		s.log.Warn("Took over abandoned idempotency claim",
			zap.String("idempotency_token", cmd.IdempotencyToken),
			zap.Time("claimed_at", existing.CreatedAt),
		)
		return claim, nil, nil
	}
	if errors.Is(err, kv.ErrConditionFailed) {
		s.metrics.RecordTransaction(cmd.Direction, "race_condition")
		return claim, nil, NewServiceError(constants.ErrCodeRaceCondition,
			fmt.Errorf("%w: token %s was re-claimed concurrently", ErrRaceCondition, cmd.IdempotencyToken))
	}
	return claim, nil, NewServiceError(constants.ErrCodeStoreUnavailable, err)
}

func replayResult(rec model.IdempotencyRecord) TransactionResult {
	amount, err := decimal.NewFromString(rec.Amount)
	if err != nil {
		amount = decimal.Zero
	}

	message := "transaction already processed"
	if rec.Status == model.StatusFailed {
		message = "transaction previously failed"
	}

	return TransactionResult{
		Success:          rec.Status == model.StatusCompleted,
		IdempotencyToken: rec.Token,
		AccountID:        rec.AccountID,
		Amount:           amount,
		Direction:        rec.Direction,
		Balance:          rec.ResultingBalance,
		Replayed:         true,
		Message:          message,
	}
}

// currentBalance reads the account's balance record, defaulting to the
// zero-balance version-0 baseline for unseen accounts. No record is created
// here; the commit's absent-or-version predicate covers both cases.
func (s *transactionService) currentBalance(ctx context.Context, accountID string) (model.BalanceRecord, error) {
	start := time.Now()
	rec, err := s.store.Read(ctx, model.BalanceKey(accountID))
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			s.metrics.RecordStoreOp("read", "not_found", duration)
			return model.BalanceRecord{AccountID: accountID, Balance: decimal.Zero}, nil
		}
		s.metrics.RecordStoreOp("read", "error", duration)
		s.log.Error("Failed to read balance record",
			zap.String("account_id", accountID), zap.Error(err))
		return model.BalanceRecord{}, NewServiceError(constants.ErrCodeStoreUnavailable, err)
	}
	s.metrics.RecordStoreOp("read", "success", duration)

	balance, err := model.BalanceFromRecord(rec)
	if err != nil {
		s.log.Error("Corrupt balance record", zap.String("account_id", accountID), zap.Error(err))
		return model.BalanceRecord{}, NewServiceError(constants.ErrCodeStoreUnavailable, err)
	}
	return balance, nil
}

// commit writes the new balance, the ledger entry and the finalized
// idempotency record in one all-or-nothing batch. The balance write's
// version predicate is the sole correctness gate against concurrent mutators
// of the same account.
func (s *transactionService) commit(ctx context.Context, cmd TransactionCommand, claim model.IdempotencyRecord,
	current model.BalanceRecord, amount, newBalance decimal.Decimal, now time.Time) error {

	next := model.BalanceRecord{
		AccountID: cmd.AccountID,
		Balance:   newBalance,
		Version:   current.Version + 1,
		CreatedAt: current.CreatedAt,
		UpdatedAt: now,
	}
	if current.Version == 0 {
		next.CreatedAt = now
	}

	entry := model.LedgerEntry{
		AccountID:        cmd.AccountID,
		IdempotencyToken: cmd.IdempotencyToken,
		Amount:           amount,
		Direction:        cmd.Direction,
		ResultingBalance: newBalance,
		Status:           model.StatusCompleted,
		CreatedAt:        now,
	}

	final := claim
	final.Status = model.StatusCompleted
	final.ResultingBalance = newBalance

	writes := []kv.Write{
		{Record: next.Record(), Predicate: kv.IfAbsentOrVersion(current.Version)},
		{Record: entry.Record(), Predicate: kv.IfAbsent()},
		{Record: final.Record(), Predicate: kv.IfStatus(model.StatusPending)},
	}

	start := time.Now()
	err := s.store.Commit(ctx, writes)
	duration := time.Since(start)
	if err == nil {
		s.metrics.RecordStoreOp("commit", "success", duration)
		return nil
	}

	var condErr *kv.ConditionError
	if errors.As(err, &condErr) {
		s.metrics.RecordStoreOp("commit", "condition_failed", duration)
		s.metrics.RecordTransaction(cmd.Direction, "race_condition")
		// Releasing the claim keeps a retry of the same token viable; when
		// the finalize write itself lost, the claim is no longer ours to
		// release.
		if condErr.Index != claimWriteIndex {
			s.releaseClaimLogged(ctx, claim)
		}
		s.log.Warn("Commit lost optimistic concurrency check",
			zap.String("account_id", cmd.AccountID),
			zap.Int64("observed_version", current.Version),
			zap.Int("failed_write", condErr.Index),
		)
		return NewServiceError(constants.ErrCodeRaceCondition,
			fmt.Errorf("%w: account %s advanced past version %d", ErrRaceCondition, cmd.AccountID, current.Version))
	}

	s.metrics.RecordStoreOp("commit", "error", duration)
	s.metrics.RecordTransaction(cmd.Direction, "store_unavailable")
	s.recordFailureLogged(ctx, claim)
	s.log.Error("Atomic commit failed",
		zap.String("account_id", cmd.AccountID),
		zap.String("idempotency_token", cmd.IdempotencyToken),
		zap.Error(err),
	)
	return NewServiceError(constants.ErrCodeStoreUnavailable, err)
}

// recordFailure finalizes the claim to a failed outcome so a later identical
// call replays the failure instead of re-deriving it. The caller decides what
// to do with the error; by contract it never masks the original failure.
func (s *transactionService) recordFailure(ctx context.Context, claim model.IdempotencyRecord) error {
	failed := claim
	failed.Status = model.StatusFailed
	failed.ResultingBalance = decimal.Zero
	return s.storePut(ctx, failed.Record(), kv.IfStatus(model.StatusPending))
}

func (s *transactionService) recordFailureLogged(ctx context.Context, claim model.IdempotencyRecord) {
	if err := s.recordFailure(ctx, claim); err != nil {
		s.log.Warn("Failed to record failed outcome",
			zap.String("idempotency_token", claim.Token),
			zap.Error(err),
		)
	}
}

// releaseClaim removes our pending marker after a retryable conflict.
func (s *transactionService) releaseClaim(ctx context.Context, claim model.IdempotencyRecord) error {
	return s.store.Commit(ctx, []kv.Write{{
		Record:    kv.Record{Key: model.IdempotencyKey(claim.Token)},
		Predicate: kv.IfStatus(model.StatusPending),
		Delete:    true,
	}})
}

func (s *transactionService) releaseClaimLogged(ctx context.Context, claim model.IdempotencyRecord) {
	if err := s.releaseClaim(ctx, claim); err != nil {
		s.log.Warn("Failed to release idempotency claim",
			zap.String("idempotency_token", claim.Token),
			zap.Error(err),
		)
	}
}

func (s *transactionService) readIdempotency(ctx context.Context, token string) (model.IdempotencyRecord, error) {
	start := time.Now()
	rec, err := s.store.Read(ctx, model.IdempotencyKey(token))
	duration := time.Since(start)

	if err != nil {
		// The marker existed a moment ago; it vanishing between the failed
		// claim and this read is a concurrent release, so let the caller retry.
		if errors.Is(err, kv.ErrNotFound) {
			s.metrics.RecordStoreOp("read", "not_found", duration)
			return model.IdempotencyRecord{}, NewServiceError(constants.ErrCodeRaceCondition,
				fmt.Errorf("%w: token %s claim released concurrently", ErrRaceCondition, token))
		}
		s.metrics.RecordStoreOp("read", "error", duration)
		return model.IdempotencyRecord{}, NewServiceError(constants.ErrCodeStoreUnavailable, err)
	}
	s.metrics.RecordStoreOp("read", "success", duration)

	out, err := model.IdempotencyFromRecord(rec)
	if err != nil {
		return model.IdempotencyRecord{}, NewServiceError(constants.ErrCodeStoreUnavailable, err)
	}
	return out, nil
}

func (s *transactionService) storePut(ctx context.Context, rec kv.Record, pred kv.Predicate) error {
	start := time.Now()
	err := s.store.Put(ctx, rec, pred)

	status := "success"
	if errors.Is(err, kv.ErrConditionFailed) {
		status = "condition_failed"
	} else if err != nil {
		status = "error"
	}
	s.metrics.RecordStoreOp("put", status, time.Since(start))

	return err
}
