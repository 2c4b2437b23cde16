package model

import (
	"fmt"
	"time"

	"github.com/finledger/ledgercore/internal/kv"
	"github.com/shopspring/decimal"
)

// IdempotencyRecord is the outcome cache for one token. Its creation doubles
// as the concurrency gate: a pending marker is claimed before any balance
// read and finalized atomically with the commit. Terminal statuses
// (completed, failed) are never overwritten.
type IdempotencyRecord struct {
	Token     string
	AccountID string
	// Amount keeps the caller's original string form so a replay can echo
	// the request exactly as it was first made.
	Amount           string
	Direction        string
	ResultingBalance decimal.Decimal
	Status           string
	Version          int64
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

func (r IdempotencyRecord) Record() kv.Record {
	return kv.Record{
		Key:     IdempotencyKey(r.Token),
		Version: r.Version,
		Status:  r.Status,
		Attributes: map[string]string{
			"token":             r.Token,
			"account_id":        r.AccountID,
			"amount":            r.Amount,
			"direction":         r.Direction,
			"resulting_balance": r.ResultingBalance.String(),
			"created_at":        r.CreatedAt.UTC().Format(attrTimeFormat),
			"expires_at":        r.ExpiresAt.UTC().Format(attrTimeFormat),
		},
	}
}

func IdempotencyFromRecord(rec kv.Record) (IdempotencyRecord, error) {
	resulting, err := decimal.NewFromString(rec.Attributes["resulting_balance"])
	if err != nil {
		return IdempotencyRecord{}, fmt.Errorf("idempotency record %s: %w", rec.Key, err)
	}
	createdAt, err := parseTime(rec, "created_at")
	if err != nil {
		return IdempotencyRecord{}, err
	}
	expiresAt, err := parseTime(rec, "expires_at")
	if err != nil {
		return IdempotencyRecord{}, err
	}

	return IdempotencyRecord{
		Token:            rec.Attributes["token"],
		AccountID:        rec.Attributes["account_id"],
		Amount:           rec.Attributes["amount"],
		Direction:        rec.Attributes["direction"],
		ResultingBalance: resulting,
		Status:           rec.Status,
		Version:          rec.Version,
		CreatedAt:        createdAt,
		ExpiresAt:        expiresAt,
	}, nil
}

// Terminal reports whether the record has reached a final outcome.
func (r IdempotencyRecord) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}
