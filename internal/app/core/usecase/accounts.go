package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// maxNumberAttempts 帳號碰撞時重新產生的次數上限
const maxNumberAttempts = 5

// Accounts 帳戶生命週期操作，供驅動端使用
type Accounts interface {
	CreateAccount(ctx context.Context, ownerID int64) (*domain.Account, error)
	Freeze(ctx context.Context, accountID int64) (*domain.Account, error)
	Unfreeze(ctx context.Context, accountID int64) (*domain.Account, error)
	ListAccounts(ctx context.Context, ownerID int64) ([]*domain.Account, error)
	GetAccount(ctx context.Context, accountID int64) (*domain.Account, error)
}

// AccountManager 帳戶生命週期：建立、凍結、解凍
// Ledger Engine 只讀取它設定的 status，不擁有它
type AccountManager struct {
	store   Store
	numbers AccountNumberGenerator
	retry   *retrier
	logger  *slog.Logger
}

// NewAccountManager 建立 AccountManager
//
// 參數:
//
//	store: 儲存層
//	numbers: 帳號產生器
//	logger: nil 時使用 slog.Default()
//	opts: 凍結/解凍遇到併發衝突時的重試選項，與 LedgerEngine 相同
func NewAccountManager(store Store, numbers AccountNumberGenerator, logger *slog.Logger, opts ...RetryOption) *AccountManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountManager{
		store:   store,
		numbers: numbers,
		retry:   newRetrier(logger, opts...),
		logger:  logger,
	}
}

// CreateAccount 為擁有者開新帳戶：餘額 0、狀態 active
//
// 參數:
//
//	ctx: 上下文
//	ownerID: 擁有者
//
// 回傳:
//
//	*domain.Account: 新帳戶
//	error: 帳號連續碰撞或儲存錯誤
func (m *AccountManager) CreateAccount(ctx context.Context, ownerID int64) (*domain.Account, error) {
	if ownerID <= 0 {
		return nil, domain.ErrInvalidOwner
	}

	var lastErr error
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		account := domain.NewAccount(ownerID, m.numbers.Next())
		err := m.store.CreateAccount(ctx, account)
		if err == nil {
			m.logger.InfoContext(ctx, "account created",
				slog.Int64("account_id", account.ID),
				slog.Int64("owner_id", ownerID),
				slog.String("account_number", account.AccountNumber),
			)
			return account, nil
		}
		if !errors.Is(err, domain.ErrDuplicateAccountNumber) {
			return nil, classify("create account", err)
		}
		m.logger.WarnContext(ctx, "account number collision, regenerating",
			slog.String("account_number", account.AccountNumber),
			slog.Int("attempt", attempt),
		)
		lastErr = err
	}
	return nil, fmt.Errorf("create account after %d attempts: %w", maxNumberAttempts, lastErr)
}

// Freeze 凍結帳戶；已凍結時不做任何寫入並視為成功
func (m *AccountManager) Freeze(ctx context.Context, accountID int64) (*domain.Account, error) {
	return m.setStatus(ctx, accountID, domain.AccountStatusFrozen)
}

// Unfreeze 解凍帳戶；已是 active 時不做任何寫入並視為成功
func (m *AccountManager) Unfreeze(ctx context.Context, accountID int64) (*domain.Account, error) {
	return m.setStatus(ctx, accountID, domain.AccountStatusActive)
}

// setStatus 在持有帳戶鎖的 unit of work 內變更狀態，與餘額操作互斥
func (m *AccountManager) setStatus(ctx context.Context, accountID int64, status domain.AccountStatus) (*domain.Account, error) {
	var result *domain.Account
	err := m.retry.do(ctx, "set status", func() error {
		return m.store.WithinUnitOfWork(ctx, func(uow UnitOfWork) error {
			locked, err := uow.LockAccounts(ctx, accountID)
			if err != nil {
				return err
			}
			account, ok := locked[accountID]
			if !ok {
				return domain.ErrAccountNotFound
			}
			result = account
			if account.Status == status {
				return nil
			}
			account.Status = status
			return uow.UpdateStatus(ctx, account)
		})
	})
	if err != nil {
		return nil, classify("set status", err)
	}

	m.logger.InfoContext(ctx, "account status changed",
		slog.Int64("account_id", accountID),
		slog.String("status", string(result.Status)),
	)
	return result, nil
}

// ListAccounts 列出擁有者的帳戶
func (m *AccountManager) ListAccounts(ctx context.Context, ownerID int64) ([]*domain.Account, error) {
	if ownerID <= 0 {
		return nil, domain.ErrInvalidOwner
	}
	accounts, err := m.store.ListAccountsByOwner(ctx, ownerID)
	if err != nil {
		return nil, classify("list accounts", err)
	}
	return accounts, nil
}

// GetAccount 不檢查擁有者的帳戶狀態查詢 (特權呼叫者使用)
func (m *AccountManager) GetAccount(ctx context.Context, accountID int64) (*domain.Account, error) {
	account, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, classify("get account", err)
	}
	return account, nil
}

// classify 未知錯誤包裝為 StorageError
func classify(op string, err error) error {
	if domain.IsKnown(err) {
		return err
	}
	return domain.NewStorageError(op, err)
}

var _ Accounts = (*AccountManager)(nil)
