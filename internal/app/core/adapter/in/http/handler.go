package http

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

const (
	defaultPage  = 1
	defaultLimit = 10
)

// Handler REST 端點，只做參數轉換與錯誤對應
type Handler struct {
	ledger   usecase.Ledger
	accounts usecase.Accounts
	logger   *slog.Logger
}

// NewHandler 建立 Handler
func NewHandler(ledger usecase.Ledger, accounts usecase.Accounts, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		ledger:   ledger,
		accounts: accounts,
		logger:   logger,
	}
}

// CreateAccount POST /api/accounts
func (h *Handler) CreateAccount(c *fiber.Ctx) error {
	account, err := h.accounts.CreateAccount(c.UserContext(), userID(c))
	if err != nil {
		return failWith(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Account created successfully",
		"account": toAccountDTO(account),
	})
}

// ListAccounts GET /api/accounts
func (h *Handler) ListAccounts(c *fiber.Ctx) error {
	accounts, err := h.accounts.ListAccounts(c.UserContext(), userID(c))
	if err != nil {
		return failWith(c, err)
	}
	out := make([]accountDTO, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountDTO(a))
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"accounts": out,
		"count":    len(out),
	})
}

// GetAccount GET /api/accounts/:id
func (h *Handler) GetAccount(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid account id")
	}
	account, err := h.ledger.GetBalance(c.UserContext(), userID(c), int64(id))
	if err != nil {
		return failWith(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"account": toAccountDTO(account),
	})
}

// Deposit POST /api/deposit {accountId, amount}
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid body")
	}
	amount, err := domain.ParseAmount(string(req.Amount))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid amount")
	}
	ref, err := idempotencyKey(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid Idempotency-Key")
	}

	result, err := h.ledger.Deposit(c.UserContext(), domain.DepositRequest{
		OwnerID:   userID(c),
		AccountID: int64(req.AccountID),
		Amount:    amount,
		RefID:     ref,
	})
	if err != nil {
		return failWith(c, err)
	}
	return c.JSON(fiber.Map{
		"success":     true,
		"message":     "Deposit successful",
		"newBalance":  domain.FormatAmount(result.Balance),
		"transaction": toTransactionDTO(result.Transaction),
	})
}

// Withdraw POST /api/withdraw {accountId, amount}
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid body")
	}
	amount, err := domain.ParseAmount(string(req.Amount))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid amount")
	}
	ref, err := idempotencyKey(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid Idempotency-Key")
	}

	result, err := h.ledger.Withdraw(c.UserContext(), domain.WithdrawRequest{
		OwnerID:   userID(c),
		AccountID: int64(req.AccountID),
		Amount:    amount,
		RefID:     ref,
	})
	if err != nil {
		return failWith(c, err)
	}
	return c.JSON(fiber.Map{
		"success":     true,
		"message":     "Withdrawal successful",
		"newBalance":  domain.FormatAmount(result.Balance),
		"transaction": toTransactionDTO(result.Transaction),
	})
}

// Transfer POST /api/transfer {fromAccount, toAccount, amount}
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid body")
	}
	amount, err := domain.ParseAmount(string(req.Amount))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid amount")
	}
	ref, err := idempotencyKey(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid Idempotency-Key")
	}

	result, err := h.ledger.Transfer(c.UserContext(), domain.TransferRequest{
		OwnerID:       userID(c),
		SourceID:      int64(req.FromAccount),
		DestinationID: int64(req.ToAccount),
		Amount:        amount,
		RefID:         ref,
	})
	if err != nil {
		return failWith(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Transfer successful",
		"data": fiber.Map{
			"from":          result.SourceAccount,
			"to":            result.DestinationAccount,
			"amount":        domain.FormatAmount(result.Amount),
			"sourceBalance": domain.FormatAmount(result.SourceBalance),
		},
		"transaction": toTransactionDTO(result.Transaction),
	})
}

// Transactions GET /api/transactions?page&limit
func (h *Handler) Transactions(c *fiber.Ctx) error {
	page, err := h.ledger.GetHistory(c.UserContext(), domain.HistoryQuery{
		OwnerID:  userID(c),
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("limit", defaultLimit),
	})
	if err != nil {
		return failWith(c, err)
	}
	return c.JSON(fiber.Map{
		"success":      true,
		"transactions": toTransactionDTOs(page.Transactions),
		"pagination":   toPagination(page),
	})
}

// Freeze POST /api/admin/freeze {accountId}
func (h *Handler) Freeze(c *fiber.Ctx) error {
	var req accountIDRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid body")
	}
	account, err := h.accounts.Freeze(c.UserContext(), int64(req.AccountID))
	if err != nil {
		return failWith(c, err)
	}
	h.logger.InfoContext(c.UserContext(), "account frozen by admin",
		slog.Int64("account_id", account.ID),
		slog.Int64("admin_id", userID(c)),
	)
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Account frozen successfully",
		"account": toAccountDTO(account),
	})
}

// Unfreeze POST /api/admin/unfreeze {accountId}
func (h *Handler) Unfreeze(c *fiber.Ctx) error {
	var req accountIDRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid body")
	}
	account, err := h.accounts.Unfreeze(c.UserContext(), int64(req.AccountID))
	if err != nil {
		return failWith(c, err)
	}
	h.logger.InfoContext(c.UserContext(), "account unfrozen by admin",
		slog.Int64("account_id", account.ID),
		slog.Int64("admin_id", userID(c)),
	)
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Account unfrozen successfully",
		"account": toAccountDTO(account),
	})
}

// AccountStatus GET /api/admin/accounts/:id
// 凍結帳戶回 403 並附上帳戶資料
func (h *Handler) AccountStatus(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid account id")
	}
	account, err := h.accounts.GetAccount(c.UserContext(), int64(id))
	if err != nil {
		return failWith(c, err)
	}
	if !account.IsActive() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"message": "This account is frozen",
			"account": toAccountDTO(account),
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Account is active",
		"account": toAccountDTO(account),
	})
}

// AllTransactions GET /api/admin/transactions?page&limit
func (h *Handler) AllTransactions(c *fiber.Ctx) error {
	page, err := h.ledger.ListAllTransactions(c.UserContext(),
		c.QueryInt("page", defaultPage),
		c.QueryInt("limit", defaultLimit),
	)
	if err != nil {
		return failWith(c, err)
	}
	return c.JSON(fiber.Map{
		"success":      true,
		"transactions": toTransactionDTOs(page.Transactions),
		"pagination":   toPagination(page),
	})
}
