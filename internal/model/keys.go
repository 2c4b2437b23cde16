package model

import (
	"time"

	"github.com/finledger/ledgercore/internal/kv"
)

// Key layout is load-bearing for deployments that share a store with the
// existing system; do not change the prefixes or separators.

func BalanceKey(accountID string) kv.Key {
	return kv.Key{PK: "USER#" + accountID, SK: "BALANCE"}
}

func LedgerKey(accountID string, at time.Time, token string) kv.Key {
	return kv.Key{
		PK: "USER#" + accountID,
		SK: "TXN#" + at.UTC().Format(time.RFC3339Nano) + "#" + token,
	}
}

func IdempotencyKey(token string) kv.Key {
	return kv.Key{PK: "TXN#" + token, SK: "RESULT"}
}
