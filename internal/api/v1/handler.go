package v1

import (
	"time"

	"github.com/finledger/ledgercore/internal/api/contract"
	"github.com/finledger/ledgercore/internal/api/validator"
	"github.com/finledger/ledgercore/internal/constants"
	"github.com/finledger/ledgercore/internal/service"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Handler struct {
	logger       *zap.Logger
	transactions service.TransactionService
	balances     service.BalanceService
	XValidator   validator.IXValidator
}

func NewHandler(logger *zap.Logger, transactions service.TransactionService, balances service.BalanceService, XValidator validator.IXValidator) *Handler {
	return &Handler{
		logger:       logger,
		transactions: transactions,
		balances:     balances,
		XValidator:   XValidator,
	}
}

func (h *Handler) Pong(c *fiber.Ctx) error {
	return c.SendString("pong")
}

func (h *Handler) ExecuteTransaction(c *fiber.Ctx) error {
	start := time.Now()

	var handlerRequest ExecuteTransactionRequest
	responseError := h.XValidator.Validator(&handlerRequest, constants.MessageErrorFormat, c)
	if responseError.Code != "" {
		h.logger.Error("Error Validator", zap.Any("request", handlerRequest))
		responseError.Code = constants.ErrCodeValidationFailed
		return c.JSON(responseError)
	}

	cmd := service.TransactionCommand{
		IdempotencyToken: handlerRequest.IdempotencyToken,
		AccountID:        handlerRequest.AccountID,
		Amount:           handlerRequest.Amount,
		Direction:        handlerRequest.Direction,
	}

	result, err := h.transactions.Execute(c.UserContext(), cmd)
	if err != nil {
		return err
	}

	h.logger.Info("Transaction request served",
		zap.String("idempotency_token", cmd.IdempotencyToken),
		zap.String("account_id", cmd.AccountID),
		zap.Bool("replayed", result.Replayed),
		zap.Duration("duration", time.Since(start)),
	)

	return c.JSON(contract.Response{
		Successful: result.Success,
		Code:       "success",
		Message:    result.Message,
		TrackID:    uuid.NewString(),
		Result:     result,
	})
}

func (h *Handler) GetAccountBalance(c *fiber.Ctx) error {
	start := time.Now()

	accountID := c.Params("id")

	result, err := h.balances.GetBalance(c.UserContext(), accountID)
	if err != nil {
		h.logger.Error("Error getting account balance", zap.Error(err))
		return err
	}

	h.logger.Info("Account balance retrieved",
		zap.String("account_id", result.AccountID),
		zap.String("balance", result.Balance.String()),
		zap.Duration("duration", time.Since(start)),
	)

	return c.JSON(contract.Response{
		Successful: true,
		Code:       "success",
		Message:    constants.BalanceRetrieved,
		TrackID:    uuid.NewString(),
		Result:     result,
	})
}
