package v1

type ExecuteTransactionRequest struct {
	IdempotencyToken string `json:"idempotency_token" validate:"required"`
	AccountID        string `json:"account_id" validate:"required"`
	Amount           string `json:"amount" validate:"required,amount"`
	Direction        string `json:"direction" validate:"required,oneof=credit debit"`
}
