package errors

import (
	"errors"

	"github.com/finledger/ledgercore/internal/constants"
	"github.com/finledger/ledgercore/internal/service"
	"github.com/gofiber/fiber/v2"
)

func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var serviceErr service.Error
		if errors.As(err, &serviceErr) {
			return handleServiceError(c, serviceErr)
		}

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Internal server error",
			"message": "Could not process the request",
		})
	}
}

func handleServiceError(c *fiber.Ctx, err service.Error) error {
	statusMap := map[string]int{
		constants.ErrCodeInvalidToken:      fiber.StatusUnprocessableEntity,
		constants.ErrCodeInvalidAccount:    fiber.StatusUnprocessableEntity,
		constants.ErrCodeInvalidAmount:     fiber.StatusUnprocessableEntity,
		constants.ErrCodeInvalidDirection:  fiber.StatusUnprocessableEntity,
		constants.ErrCodeInsufficientFunds: fiber.StatusConflict,
		constants.ErrCodeRaceCondition:     fiber.StatusConflict,
		constants.ErrCodeStoreUnavailable:  fiber.StatusServiceUnavailable,
	}

	status, ok := statusMap[err.Code]
	if !ok {
		status = fiber.StatusInternalServerError
	}

	return c.Status(status).JSON(fiber.Map{
		"code":    err.Code,
		"message": constants.GetErrorMessage(err.Code),
	})
}
