package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// statusMapping 錯誤 → HTTP 狀態碼，依序比對
var statusMapping = []struct {
	err    error
	status int
}{
	{domain.ErrInvalidAmount, fiber.StatusBadRequest},
	{domain.ErrSameAccount, fiber.StatusBadRequest},
	{domain.ErrInvalidPage, fiber.StatusBadRequest},
	{domain.ErrInsufficientFunds, fiber.StatusBadRequest},
	{domain.ErrInvalidOwner, fiber.StatusUnauthorized},
	{domain.ErrAccountFrozen, fiber.StatusForbidden},
	{domain.ErrSourceFrozen, fiber.StatusForbidden},
	{domain.ErrDestinationFrozen, fiber.StatusForbidden},
	{domain.ErrAccountNotFound, fiber.StatusNotFound},
	{domain.ErrSourceNotFound, fiber.StatusNotFound},
	{domain.ErrDestinationNotFound, fiber.StatusNotFound},
	{domain.ErrTransactionAlreadyProcessed, fiber.StatusConflict},
	{domain.ErrConcurrencyConflict, fiber.StatusConflict},
	{domain.ErrDuplicateAccountNumber, fiber.StatusConflict},
	{domain.ErrStorageFailure, fiber.StatusServiceUnavailable},
	{context.DeadlineExceeded, fiber.StatusServiceUnavailable},
	{context.Canceled, fiber.StatusServiceUnavailable},
}

func statusOf(err error) int {
	for _, m := range statusMapping {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return fiber.StatusInternalServerError
}

// fail 統一的錯誤回應 {success: false, message}
func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}

// failWith 將 domain 錯誤轉為 HTTP 回應；餘額不足時附上 currentBalance
func failWith(c *fiber.Ctx, err error) error {
	status := statusOf(err)

	body := fiber.Map{
		"success": false,
		"message": err.Error(),
	}
	switch status {
	case fiber.StatusServiceUnavailable:
		body["message"] = domain.ErrStorageFailure.Error()
	case fiber.StatusInternalServerError:
		body["message"] = "internal error"
	}

	var insufficient *domain.InsufficientFundsError
	if errors.As(err, &insufficient) {
		body["message"] = "Insufficient funds"
		body["currentBalance"] = domain.FormatAmount(insufficient.Balance)
	}
	return c.Status(status).JSON(body)
}
