package model

import (
	"fmt"
	"time"

	"github.com/finledger/ledgercore/internal/kv"
	"github.com/shopspring/decimal"
)

// LedgerEntry is the immutable audit record of one applied operation. Entries
// are append-only and never rewritten.
type LedgerEntry struct {
	AccountID        string
	IdempotencyToken string
	Amount           decimal.Decimal
	Direction        string
	ResultingBalance decimal.Decimal
	Status           string
	CreatedAt        time.Time
}

func (e LedgerEntry) Record() kv.Record {
	return kv.Record{
		Key:     LedgerKey(e.AccountID, e.CreatedAt, e.IdempotencyToken),
		Version: 1,
		Status:  e.Status,
		Attributes: map[string]string{
			"account_id":        e.AccountID,
			"idempotency_token": e.IdempotencyToken,
			"amount":            e.Amount.String(),
			"direction":         e.Direction,
			"resulting_balance": e.ResultingBalance.String(),
			"created_at":        e.CreatedAt.UTC().Format(attrTimeFormat),
		},
	}
}

func LedgerEntryFromRecord(rec kv.Record) (LedgerEntry, error) {
	amount, err := decimal.NewFromString(rec.Attributes["amount"])
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("ledger entry %s: %w", rec.Key, err)
	}
	resulting, err := decimal.NewFromString(rec.Attributes["resulting_balance"])
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("ledger entry %s: %w", rec.Key, err)
	}
	createdAt, err := parseTime(rec, "created_at")
	if err != nil {
		return LedgerEntry{}, err
	}

	return LedgerEntry{
		AccountID:        rec.Attributes["account_id"],
		IdempotencyToken: rec.Attributes["idempotency_token"],
		Amount:           amount,
		Direction:        rec.Attributes["direction"],
		ResultingBalance: resulting,
		Status:           rec.Status,
		CreatedAt:        createdAt,
	}, nil
}
