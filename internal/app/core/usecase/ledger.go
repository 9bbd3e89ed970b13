package usecase

import (
	"context"
	"log/slog"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// Ledger 帳務操作，供 gRPC / HTTP 等驅動端使用
type Ledger interface {
	Deposit(ctx context.Context, req domain.DepositRequest) (*domain.BalanceResult, error)
	Withdraw(ctx context.Context, req domain.WithdrawRequest) (*domain.BalanceResult, error)
	Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error)
	GetHistory(ctx context.Context, query domain.HistoryQuery) (*domain.HistoryPage, error)
	ListAllTransactions(ctx context.Context, page, pageSize int) (*domain.HistoryPage, error)
	GetBalance(ctx context.Context, ownerID, accountID int64) (*domain.Account, error)
}

// LedgerEngine 是帳務核心：存款、提款、轉帳與交易紀錄查詢
//
// 結構:
//
//	store: 注入的儲存層，每個操作取得一個 unit of work
//	retry: 併發衝突重試策略
//	maxPageSize: 單頁筆數上限
type LedgerEngine struct {
	store       Store
	retry       *retrier
	maxPageSize int
	logger      *slog.Logger
}

// EngineOption 定義了 LedgerEngine 的配置選項函數
type EngineOption func(*LedgerEngine)

// WithRetry 套用衝突重試選項
func WithRetry(opts ...RetryOption) EngineOption {
	return func(e *LedgerEngine) {
		for _, opt := range opts {
			opt(e.retry)
		}
	}
}

// WithMaxPageSize 設定歷史查詢的單頁上限
func WithMaxPageSize(n int) EngineOption {
	return func(e *LedgerEngine) {
		if n > 0 {
			e.maxPageSize = n
		}
	}
}

// NewLedgerEngine 建立 LedgerEngine
//
// 參數:
//
//	store: 儲存層
//	logger: 結構化 logger，nil 時使用 slog.Default()
//	opts: 選項
//
// 回傳:
//
//	*LedgerEngine: LedgerEngine 實例
func NewLedgerEngine(store Store, logger *slog.Logger, opts ...EngineOption) *LedgerEngine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &LedgerEngine{
		store:       store,
		retry:       newRetrier(logger),
		maxPageSize: DefaultMaxPageSize,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deposit 存款
//
// 參數:
//
//	ctx: 上下文
//	req: 存款請求
//
// 回傳:
//
//	*domain.BalanceResult: 新餘額與交易紀錄
//	error: ErrInvalidAmount / ErrAccountNotFound / ErrAccountFrozen 等
func (e *LedgerEngine) Deposit(ctx context.Context, req domain.DepositRequest) (*domain.BalanceResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var result *domain.BalanceResult
	err := e.retry.do(ctx, "deposit", func() error {
		return e.store.WithinUnitOfWork(ctx, func(uow UnitOfWork) error {
			locked, err := uow.LockAccounts(ctx, req.AccountID)
			if err != nil {
				return err
			}
			account, ok := locked[req.AccountID]
			if !ok || !account.OwnedBy(req.OwnerID) {
				return domain.ErrAccountNotFound
			}
			if !account.IsActive() {
				return domain.ErrAccountFrozen
			}

			if err := account.Deposit(req.Amount); err != nil {
				return err
			}
			if err := uow.UpdateBalance(ctx, account); err != nil {
				return err
			}
			tran := domain.NewDepositTransaction(account.AccountNumber, req.Amount, req.RefID)
			if err := uow.AppendTransaction(ctx, tran); err != nil {
				return err
			}

			result = &domain.BalanceResult{
				AccountID:     account.ID,
				AccountNumber: account.AccountNumber,
				Balance:       account.Balance,
				Transaction:   tran,
			}
			return nil
		})
	})
	if err != nil {
		return nil, e.fail(ctx, "deposit", err)
	}

	e.logger.DebugContext(ctx, "deposit committed",
		slog.String("account", result.AccountNumber),
		slog.String("amount", domain.FormatAmount(req.Amount)),
		slog.Int64("transaction_id", result.Transaction.ID),
	)
	return result, nil
}

// Withdraw 提款；餘額檢查與扣款在同一個 unit of work 內，持有帳戶鎖
//
// 參數:
//
//	ctx: 上下文
//	req: 提款請求
//
// 回傳:
//
//	*domain.BalanceResult: 新餘額與交易紀錄
//	error: 餘額不足時為 *domain.InsufficientFundsError
func (e *LedgerEngine) Withdraw(ctx context.Context, req domain.WithdrawRequest) (*domain.BalanceResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var result *domain.BalanceResult
	err := e.retry.do(ctx, "withdraw", func() error {
		return e.store.WithinUnitOfWork(ctx, func(uow UnitOfWork) error {
			locked, err := uow.LockAccounts(ctx, req.AccountID)
			if err != nil {
				return err
			}
			account, ok := locked[req.AccountID]
			if !ok || !account.OwnedBy(req.OwnerID) {
				return domain.ErrAccountNotFound
			}
			if !account.IsActive() {
				return domain.ErrAccountFrozen
			}

			if err := account.Withdraw(req.Amount); err != nil {
				return err
			}
			if err := uow.UpdateBalance(ctx, account); err != nil {
				return err
			}
			tran := domain.NewWithdrawalTransaction(account.AccountNumber, req.Amount, req.RefID)
			if err := uow.AppendTransaction(ctx, tran); err != nil {
				return err
			}

			result = &domain.BalanceResult{
				AccountID:     account.ID,
				AccountNumber: account.AccountNumber,
				Balance:       account.Balance,
				Transaction:   tran,
			}
			return nil
		})
	})
	if err != nil {
		return nil, e.fail(ctx, "withdraw", err)
	}

	e.logger.DebugContext(ctx, "withdrawal committed",
		slog.String("account", result.AccountNumber),
		slog.String("amount", domain.FormatAmount(req.Amount)),
		slog.Int64("transaction_id", result.Transaction.ID),
	)
	return result, nil
}

// Transfer 轉帳：兩個帳戶在同一個 unit of work 內依 ID 遞增順序上鎖
//
// 參數:
//
//	ctx: 上下文
//	req: 轉帳請求
//
// 回傳:
//
//	*domain.TransferResult: 雙方帳號、金額、轉出方新餘額
//	error: 處理錯誤
func (e *LedgerEngine) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var result *domain.TransferResult
	err := e.retry.do(ctx, "transfer", func() error {
		return e.store.WithinUnitOfWork(ctx, func(uow UnitOfWork) error {
			locked, err := uow.LockAccounts(ctx, domain.LockOrder(req.SourceID, req.DestinationID)...)
			if err != nil {
				return err
			}

			source, ok := locked[req.SourceID]
			if !ok || !source.OwnedBy(req.OwnerID) {
				return domain.ErrSourceNotFound
			}
			if !source.IsActive() {
				return domain.ErrSourceFrozen
			}
			if source.Balance.LessThan(req.Amount) {
				return &domain.InsufficientFundsError{Balance: source.Balance}
			}
			destination, ok := locked[req.DestinationID]
			if !ok {
				return domain.ErrDestinationNotFound
			}
			if !destination.IsActive() {
				return domain.ErrDestinationFrozen
			}

			if err := source.Withdraw(req.Amount); err != nil {
				return err
			}
			if err := destination.Deposit(req.Amount); err != nil {
				return err
			}
			// 依鎖定順序寫回
			for _, account := range orderedAccounts(source, destination) {
				if err := uow.UpdateBalance(ctx, account); err != nil {
					return err
				}
			}
			tran := domain.NewTransferTransaction(source.AccountNumber, destination.AccountNumber, req.Amount, req.RefID)
			if err := uow.AppendTransaction(ctx, tran); err != nil {
				return err
			}

			result = &domain.TransferResult{
				SourceAccount:      source.AccountNumber,
				DestinationAccount: destination.AccountNumber,
				Amount:             req.Amount,
				SourceBalance:      source.Balance,
				Transaction:        tran,
			}
			return nil
		})
	})
	if err != nil {
		return nil, e.fail(ctx, "transfer", err)
	}

	e.logger.DebugContext(ctx, "transfer committed",
		slog.String("from", result.SourceAccount),
		slog.String("to", result.DestinationAccount),
		slog.String("amount", domain.FormatAmount(result.Amount)),
		slog.Int64("transaction_id", result.Transaction.ID),
	)
	return result, nil
}

// GetHistory 查詢呼叫者所有帳戶的交易紀錄 (唯讀，不上鎖)
//
// 參數:
//
//	ctx: 上下文
//	query: 擁有者與分頁
//
// 回傳:
//
//	*domain.HistoryPage: 一頁紀錄、總筆數、總頁數
//	error: ErrInvalidPage 或儲存錯誤
func (e *LedgerEngine) GetHistory(ctx context.Context, query domain.HistoryQuery) (*domain.HistoryPage, error) {
	query, err := query.Normalize(e.maxPageSize)
	if err != nil {
		return nil, err
	}

	accounts, err := e.store.ListAccountsByOwner(ctx, query.OwnerID)
	if err != nil {
		return nil, e.fail(ctx, "history", err)
	}
	if len(accounts) == 0 {
		return domain.NewHistoryPage(nil, query.Page, query.PageSize, 0), nil
	}

	numbers := make([]string, 0, len(accounts))
	for _, account := range accounts {
		numbers = append(numbers, account.AccountNumber)
	}
	txs, total, err := e.store.ListTransactions(ctx, TransactionFilter{
		AccountNumbers: numbers,
		Offset:         query.Offset(),
		Limit:          query.PageSize,
	})
	if err != nil {
		return nil, e.fail(ctx, "history", err)
	}
	return domain.NewHistoryPage(txs, query.Page, query.PageSize, total), nil
}

// ListAllTransactions 列出全部交易紀錄 (稽核用，由特權呼叫者使用)
func (e *LedgerEngine) ListAllTransactions(ctx context.Context, page, pageSize int) (*domain.HistoryPage, error) {
	page, pageSize, err := domain.NormalizePage(page, pageSize, e.maxPageSize)
	if err != nil {
		return nil, err
	}
	txs, total, err := e.store.ListTransactions(ctx, TransactionFilter{
		Offset: domain.PageOffset(page, pageSize),
		Limit:  pageSize,
	})
	if err != nil {
		return nil, e.fail(ctx, "list transactions", err)
	}
	return domain.NewHistoryPage(txs, page, pageSize, total), nil
}

// GetBalance 讀取呼叫者擁有的帳戶 (凍結帳戶仍可讀取)
//
// 參數:
//
//	ctx: 上下文
//	ownerID: 呼叫者
//	accountID: 帳戶 ID
//
// 回傳:
//
//	*domain.Account: 已提交的帳戶快照
//	error: 查詢錯誤 (如帳戶不存在)
func (e *LedgerEngine) GetBalance(ctx context.Context, ownerID, accountID int64) (*domain.Account, error) {
	if ownerID <= 0 {
		return nil, domain.ErrInvalidOwner
	}
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, e.fail(ctx, "balance", err)
	}
	if !account.OwnedBy(ownerID) {
		return nil, domain.ErrAccountNotFound
	}
	return account, nil
}

// fail 將錯誤歸類；未知錯誤一律視為儲存失敗，確保不會在儲存失敗後回報成功
func (e *LedgerEngine) fail(ctx context.Context, op string, err error) error {
	err = classify(op, err)

	switch {
	case domain.IsBusinessError(err):
		e.logger.DebugContext(ctx, "operation rejected", slog.String("op", op), slog.Any("error", err))
	case domain.IsRetryable(err):
		e.logger.WarnContext(ctx, "retry budget exhausted", slog.String("op", op), slog.Any("error", err))
	default:
		e.logger.ErrorContext(ctx, "operation failed", slog.String("op", op), slog.Any("error", err))
	}
	return err
}

// orderedAccounts 依 ID 遞增排列
func orderedAccounts(a, b *domain.Account) []*domain.Account {
	if a.ID < b.ID {
		return []*domain.Account{a, b}
	}
	return []*domain.Account{b, a}
}

var _ Ledger = (*LedgerEngine)(nil)
