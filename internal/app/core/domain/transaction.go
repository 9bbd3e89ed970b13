package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType 交易類型
type TransactionType string

const (
	// 存款
	TransactionTypeDeposit TransactionType = "deposit"
	// 提款
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	// 轉帳
	TransactionTypeTransfer TransactionType = "transfer"
)

// Valid 是否為已知的交易類型
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeTransfer:
		return true
	}
	return false
}

// Transaction 交易紀錄，建立後不可修改、不可刪除
//
// SourceAccount / DestinationAccount 記錄對外帳號 (非內部 ID)，空字串代表 NULL：
// 存款沒有 Source，提款沒有 Destination。
type Transaction struct {
	// ID: 儲存層於提交時分配，單調遞增
	ID int64 `json:"id"`
	// RefID: 外部追蹤號 (UUID)，零值代表未提供
	RefID              uuid.UUID       `json:"ref_id"`
	Type               TransactionType `json:"type"`
	Amount             decimal.Decimal `json:"amount"`
	SourceAccount      string          `json:"source_account,omitempty"`
	DestinationAccount string          `json:"destination_account,omitempty"`
	// CreatedAt: 提交時間
	CreatedAt time.Time `json:"created_at"`
}

// NewDepositTransaction 存款紀錄
func NewDepositTransaction(destination string, amount decimal.Decimal, refID uuid.UUID) *Transaction {
	return &Transaction{
		RefID:              refID,
		Type:               TransactionTypeDeposit,
		Amount:             amount,
		DestinationAccount: destination,
	}
}

// NewWithdrawalTransaction 提款紀錄
func NewWithdrawalTransaction(source string, amount decimal.Decimal, refID uuid.UUID) *Transaction {
	return &Transaction{
		RefID:         refID,
		Type:          TransactionTypeWithdrawal,
		Amount:        amount,
		SourceAccount: source,
	}
}

// NewTransferTransaction 轉帳紀錄，同時引用雙方帳號
func NewTransferTransaction(source, destination string, amount decimal.Decimal, refID uuid.UUID) *Transaction {
	return &Transaction{
		RefID:              refID,
		Type:               TransactionTypeTransfer,
		Amount:             amount,
		SourceAccount:      source,
		DestinationAccount: destination,
	}
}

// HasRef 是否帶有外部追蹤號
func (t *Transaction) HasRef() bool {
	return t.RefID != uuid.Nil
}

// Involves 紀錄是否涉及任一指定帳號
func (t *Transaction) Involves(accountNumbers map[string]struct{}) bool {
	if _, ok := accountNumbers[t.SourceAccount]; ok && t.SourceAccount != "" {
		return true
	}
	if _, ok := accountNumbers[t.DestinationAccount]; ok && t.DestinationAccount != "" {
		return true
	}
	return false
}

// NewerThan 歷史排序：created_at 由新到舊，相同時以 ID 由大到小
func (t *Transaction) NewerThan(other *Transaction) bool {
	if !t.CreatedAt.Equal(other.CreatedAt) {
		return t.CreatedAt.After(other.CreatedAt)
	}
	return t.ID > other.ID
}

// LockOrder 回傳需要鎖定的帳戶 ID，遞增排序並去重以避免死鎖
// 不論誰是轉出方，兩筆反向轉帳都會以相同順序取鎖
func LockOrder(ids ...int64) []int64 {
	out := make([]int64, 0, len(ids))
	out = append(out, ids...)
	slices.Sort(out)
	return slices.Compact(out)
}
