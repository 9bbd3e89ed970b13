package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccountStatus 帳戶狀態，只由帳戶生命週期管理變更
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
)

// Account 帳戶
//
// 結構:
//
//	ID: 內部 ID (儲存層分配)
//	OwnerID: 擁有者
//	AccountNumber: 對外帳號，建立後不可變
//	Balance: 餘額，永遠 >= 0，只由 Ledger Engine 變更
//	Status: active / frozen
type Account struct {
	ID            int64           `json:"id"`
	OwnerID       int64           `json:"owner_id"`
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
	Status        AccountStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewAccount 建立新帳戶：餘額 0、狀態 active
func NewAccount(ownerID int64, accountNumber string) *Account {
	return &Account{
		OwnerID:       ownerID,
		AccountNumber: accountNumber,
		Balance:       decimal.Zero,
		Status:        AccountStatusActive,
	}
}

// IsActive 是否可進行存提款、轉帳
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// OwnedBy 是否屬於指定擁有者
func (a *Account) OwnedBy(ownerID int64) bool {
	return a.OwnerID == ownerID
}

// Deposit 存款；入帳後餘額必須小於 MaxAmount，否則回傳 ErrInvalidAmount 且餘額不變
func (a *Account) Deposit(amount decimal.Decimal) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if a.Balance.Add(amount).GreaterThanOrEqual(MaxAmount) {
		return fmt.Errorf("%w: balance would exceed maximum", ErrInvalidAmount)
	}

	a.Balance = a.Balance.Add(amount)
	return nil
}

// Withdraw 提款，餘額不足時回傳 *InsufficientFundsError，餘額不變
func (a *Account) Withdraw(amount decimal.Decimal) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}

	if a.Balance.LessThan(amount) {
		return &InsufficientFundsError{Balance: a.Balance}
	}

	a.Balance = a.Balance.Sub(amount)
	return nil
}

// Clone 回傳值拷貝，避免外部改寫儲存層內部狀態
func (a *Account) Clone() *Account {
	cp := *a
	return &cp
}
