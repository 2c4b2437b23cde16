// Package model holds the three durable entities of the ledger engine and
// their shaping to and from store records. Monetary values are decimals
// end-to-end; binary floats never touch a balance.
package model

import (
	"fmt"
	"time"

	"github.com/finledger/ledgercore/internal/kv"
	"github.com/shopspring/decimal"
)

const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const attrTimeFormat = time.RFC3339Nano

// BalanceRecord is the current state of one account. Version advances by
// exactly 1 on every successful mutation; version 0 is the unseen-account
// baseline and never stored.
type BalanceRecord struct {
	AccountID string
	Balance   decimal.Decimal
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b BalanceRecord) Record() kv.Record {
	return kv.Record{
		Key:     BalanceKey(b.AccountID),
		Version: b.Version,
		Attributes: map[string]string{
			"account_id": b.AccountID,
			"balance":    b.Balance.String(),
			"created_at": b.CreatedAt.UTC().Format(attrTimeFormat),
			"updated_at": b.UpdatedAt.UTC().Format(attrTimeFormat),
		},
	}
}

func BalanceFromRecord(rec kv.Record) (BalanceRecord, error) {
	balance, err := decimal.NewFromString(rec.Attributes["balance"])
	if err != nil {
		return BalanceRecord{}, fmt.Errorf("balance record %s: %w", rec.Key, err)
	}
	createdAt, err := parseTime(rec, "created_at")
	if err != nil {
		return BalanceRecord{}, err
	}
	updatedAt, err := parseTime(rec, "updated_at")
	if err != nil {
		return BalanceRecord{}, err
	}

	return BalanceRecord{
		AccountID: rec.Attributes["account_id"],
		Balance:   balance,
		Version:   rec.Version,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func parseTime(rec kv.Record, attr string) (time.Time, error) {
	t, err := time.Parse(attrTimeFormat, rec.Attributes[attr])
	if err != nil {
		return time.Time{}, fmt.Errorf("record %s attribute %s: %w", rec.Key, attr, err)
	}
	return t, nil
}
