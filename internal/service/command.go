package service

import (
	"github.com/shopspring/decimal"
)

// TransactionCommand carries one credit/debit request into the processor.
// Amount stays a string until validation so the original form can be echoed
// on replays.
type TransactionCommand struct {
	IdempotencyToken string
	AccountID        string
	Amount           string
	Direction        string
}

type TransactionResult struct {
	Success          bool            `json:"success"`
	IdempotencyToken string          `json:"idempotency_token"`
	AccountID        string          `json:"account_id"`
	Amount           decimal.Decimal `json:"amount"`
	Direction        string          `json:"direction"`
	Balance          decimal.Decimal `json:"balance"`
	Replayed         bool            `json:"replayed"`
	Message          string          `json:"message"`
}

type BalanceResult struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
}
