package usecase

import (
	"context"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

//go:generate mockgen -destination=mocks/mock_store.go -source=store.go -package=mock_usecase

// Store 是帳務核心唯一的共享可變資源，由外部注入 Ledger Engine
type Store interface {
	AccountStore
	TransactionLog

	// WithinUnitOfWork 在單一交易邊界內執行 fn
	// fn 回傳 nil 且 ctx 未取消時才提交，其餘情況一律回滾
	WithinUnitOfWork(ctx context.Context, fn func(uow UnitOfWork) error) error
}

// AccountStore 帳戶表 (不需鎖定的操作)
type AccountStore interface {
	// CreateAccount 寫入新帳戶並回填 ID / CreatedAt
	// 帳號重複時回傳 domain.ErrDuplicateAccountNumber
	CreateAccount(ctx context.Context, account *domain.Account) error
	// GetAccount 讀取已提交的帳戶快照
	GetAccount(ctx context.Context, accountID int64) (*domain.Account, error)
	// ListAccountsByOwner 依 ID 遞增列出擁有者的帳戶
	ListAccountsByOwner(ctx context.Context, ownerID int64) ([]*domain.Account, error)
}

// TransactionFilter 交易紀錄查詢條件
// AccountNumbers 為空時代表全部紀錄
type TransactionFilter struct {
	AccountNumbers []string
	Offset         int
	Limit          int
}

// TransactionLog 只追加的交易紀錄
type TransactionLog interface {
	// ListTransactions 依 created_at DESC, id DESC 排序分頁，並回傳符合條件的總筆數
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*domain.Transaction, int64, error)
}

// UnitOfWork 單一交易邊界內可用的操作
type UnitOfWork interface {
	// LockAccounts 依 ID 遞增順序取得帳戶獨占鎖並回傳鎖定後的快照
	// 不存在的 ID 不會出現在回傳的 map 中；每個 unit of work 只呼叫一次
	LockAccounts(ctx context.Context, ids ...int64) (map[int64]*domain.Account, error)
	// UpdateBalance 寫入已鎖定帳戶的新餘額
	UpdateBalance(ctx context.Context, account *domain.Account) error
	// UpdateStatus 寫入已鎖定帳戶的新狀態
	UpdateStatus(ctx context.Context, account *domain.Account) error
	// AppendTransaction 追加交易紀錄，提交後回填 ID / CreatedAt
	// RefID 重複時回傳 domain.ErrTransactionAlreadyProcessed
	AppendTransaction(ctx context.Context, tran *domain.Transaction) error
}

// AccountNumberGenerator 產生對外帳號，唯一性最終仍由 Store 保證
type AccountNumberGenerator interface {
	Next() string
}
