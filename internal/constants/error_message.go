package constants

const MessageErrorFormat = "The '%s' format is invalid"

const (
	ErrCodeInvalidToken      = "INVALID_TOKEN"
	ErrCodeInvalidAccount    = "INVALID_ACCOUNT"
	ErrCodeInvalidAmount     = "INVALID_AMOUNT"
	ErrCodeInvalidDirection  = "INVALID_DIRECTION"
	ErrCodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	ErrCodeRaceCondition     = "RACE_CONDITION"
	ErrCodeStoreUnavailable  = "STORE_UNAVAILABLE"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
)

const (
	ErrMsgInvalidToken      = "idempotency token must be a non-empty string"
	ErrMsgInvalidAccount    = "account id must be a non-empty string"
	ErrMsgInvalidAmount     = "amount must be a positive decimal with at most two decimal places"
	ErrMsgInvalidDirection  = "direction must be credit or debit"
	ErrMsgInsufficientFunds = "insufficient funds"
	ErrMsgRaceCondition     = "concurrent update detected, retry the request"
	ErrMsgStoreUnavailable  = "record store unavailable"
)

var errorMessages = map[string]string{
	ErrCodeInvalidToken:      ErrMsgInvalidToken,
	ErrCodeInvalidAccount:    ErrMsgInvalidAccount,
	ErrCodeInvalidAmount:     ErrMsgInvalidAmount,
	ErrCodeInvalidDirection:  ErrMsgInvalidDirection,
	ErrCodeInsufficientFunds: ErrMsgInsufficientFunds,
	ErrCodeRaceCondition:     ErrMsgRaceCondition,
	ErrCodeStoreUnavailable:  ErrMsgStoreUnavailable,
}

func GetErrorMessage(code string) string {
	msg, exists := errorMessages[code]
	if !exists {
		return ""
	}
	return msg
}

const (
	TransactionCompleted = "transaction completed"
	BalanceRetrieved     = "balance retrieved successfully"
)
