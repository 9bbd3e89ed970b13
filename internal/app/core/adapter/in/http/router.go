package http

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// 各路由的必填欄位
var (
	amountFields   = []string{"accountId", "amount"}
	transferFields = []string{"fromAccount", "toAccount", "amount"}
	accountFields  = []string{"accountId"}
)

// NewApp 建立 fiber.App 並掛上所有路由
//
// 參數:
//
//	ledger: 帳務操作
//	accounts: 帳戶生命週期
//	logger: 請求 log
//
// 回傳值:
//
//	*fiber.App: 尚未 Listen 的 app
func NewApp(ledger usecase.Ledger, accounts usecase.Accounts, logger *slog.Logger) *fiber.App {
	if logger == nil {
		logger = slog.Default()
	}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return fail(c, fe.Code, fe.Message)
			}
			logger.ErrorContext(c.UserContext(), "unhandled http error", slog.Any("error", err))
			return fail(c, fiber.StatusInternalServerError, "internal error")
		},
	})
	app.Use(RequestLogger(logger))

	h := NewHandler(ledger, accounts, logger)

	api := app.Group("/api", Identity())
	api.Post("/accounts", h.CreateAccount)
	api.Get("/accounts", h.ListAccounts)
	api.Get("/accounts/:id", h.GetAccount)
	api.Post("/deposit", Required(amountFields...), h.Deposit)
	api.Post("/withdraw", Required(amountFields...), h.Withdraw)
	api.Post("/transfer", Required(transferFields...), h.Transfer)
	api.Get("/transactions", h.Transactions)

	admin := api.Group("/admin", AdminOnly())
	admin.Post("/freeze", Required(accountFields...), h.Freeze)
	admin.Post("/unfreeze", Required(accountFields...), h.Unfreeze)
	admin.Get("/accounts/:id", h.AccountStatus)
	admin.Get("/transactions", h.AllTransactions)

	return app
}
