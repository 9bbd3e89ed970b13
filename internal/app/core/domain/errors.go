package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount 金額缺漏、非正數、非數字或精度超過兩位小數
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrAccountNotFound 找不到帳戶 (或帳戶不屬於呼叫者)
	ErrAccountNotFound = errors.New("account not found")

	// ErrSourceNotFound 轉出帳戶不存在或不屬於呼叫者
	ErrSourceNotFound = errors.New("source account not found")

	// ErrDestinationNotFound 轉入帳戶不存在
	ErrDestinationNotFound = errors.New("destination account not found")

	// ErrAccountFrozen 帳戶已凍結
	ErrAccountFrozen = errors.New("account is frozen")

	// ErrSourceFrozen 轉出帳戶已凍結
	ErrSourceFrozen = errors.New("source account is frozen")

	// ErrDestinationFrozen 轉入帳戶已凍結
	ErrDestinationFrozen = errors.New("destination account is frozen")

	// ErrInsufficientFunds 餘額不足
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrSameAccount 轉出與轉入為同一帳戶
	ErrSameAccount = errors.New("cannot transfer to the same account")

	// ErrInvalidPage 分頁參數錯誤
	ErrInvalidPage = errors.New("page and page size must be positive")

	// ErrInvalidOwner 缺少呼叫者身分
	ErrInvalidOwner = errors.New("caller identity is required")

	// ErrDuplicateAccountNumber 帳號重複 (由儲存層的唯一鍵保證)
	ErrDuplicateAccountNumber = errors.New("account number already exists")

	// ErrTransactionAlreadyProcessed 交易已處理 (RefID 重複)
	ErrTransactionAlreadyProcessed = errors.New("transaction already processed")

	// ErrConcurrencyConflict 鎖等待逾時或死鎖，可整筆重試
	ErrConcurrencyConflict = errors.New("concurrency conflict, retry the operation")

	// ErrStorageFailure 儲存層不可用，交易確定沒有提交
	ErrStorageFailure = errors.New("storage failure")
)

// InsufficientFundsError 餘額不足，附帶目前餘額供呼叫端顯示
type InsufficientFundsError struct {
	Balance decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s: current balance %s", ErrInsufficientFunds, e.Balance.StringFixed(AmountScale))
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// StorageError 包裝底層儲存錯誤，errors.Is(err, ErrStorageFailure) 為 true
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError 建立 StorageError；err 為 nil 時回傳 nil
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorageFailure, e.Op, e.Err)
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

var businessErrors = []error{
	ErrInvalidAmount,
	ErrAccountNotFound,
	ErrSourceNotFound,
	ErrDestinationNotFound,
	ErrAccountFrozen,
	ErrSourceFrozen,
	ErrDestinationFrozen,
	ErrInsufficientFunds,
	ErrSameAccount,
	ErrInvalidPage,
	ErrInvalidOwner,
	ErrDuplicateAccountNumber,
	ErrTransactionAlreadyProcessed,
}

// IsBusinessError 判斷是否為業務規則錯誤 (不重試，直接回給呼叫端)
func IsBusinessError(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsRetryable 只有併發衝突可以整筆重試
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsKnown 判斷錯誤是否已屬於既定分類 (業務錯誤、衝突、儲存失敗或 context 取消)
func IsKnown(err error) bool {
	return IsBusinessError(err) ||
		IsRetryable(err) ||
		errors.Is(err, ErrStorageFailure) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
