package domain

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// precondition 單一前置條件：ok 為 false 時回傳 err
type precondition struct {
	ok  bool
	err error
}

// evaluate 依宣告順序檢查前置條件，回傳第一個失敗的錯誤
func evaluate(rules ...precondition) error {
	for _, rule := range rules {
		if !rule.ok {
			return rule.err
		}
	}
	return nil
}

func ownerPresent(ownerID int64) precondition {
	return precondition{ok: ownerID > 0, err: ErrInvalidOwner}
}

func validAmount(amount decimal.Decimal) precondition {
	err := ValidateAmount(amount)
	return precondition{ok: err == nil, err: err}
}

func accountReferenced(id int64, err error) precondition {
	return precondition{ok: id > 0, err: err}
}

// DepositRequest 存款請求
type DepositRequest struct {
	OwnerID   int64
	AccountID int64
	Amount    decimal.Decimal
	RefID     uuid.UUID
}

// Validate 存款前置條件，在開啟 unit of work 之前檢查一次
func (r DepositRequest) Validate() error {
	return evaluate(
		ownerPresent(r.OwnerID),
		validAmount(r.Amount),
		accountReferenced(r.AccountID, ErrAccountNotFound),
	)
}

// WithdrawRequest 提款請求
type WithdrawRequest struct {
	OwnerID   int64
	AccountID int64
	Amount    decimal.Decimal
	RefID     uuid.UUID
}

// Validate 提款前置條件
func (r WithdrawRequest) Validate() error {
	return evaluate(
		ownerPresent(r.OwnerID),
		validAmount(r.Amount),
		accountReferenced(r.AccountID, ErrAccountNotFound),
	)
}

// TransferRequest 轉帳請求
type TransferRequest struct {
	OwnerID       int64
	SourceID      int64
	DestinationID int64
	Amount        decimal.Decimal
	RefID         uuid.UUID
}

// Validate 轉帳前置條件；同帳戶在存取任何狀態前就拒絕
func (r TransferRequest) Validate() error {
	return evaluate(
		ownerPresent(r.OwnerID),
		validAmount(r.Amount),
		precondition{ok: r.SourceID != r.DestinationID, err: ErrSameAccount},
		accountReferenced(r.SourceID, ErrSourceNotFound),
		accountReferenced(r.DestinationID, ErrDestinationNotFound),
	)
}

// HistoryQuery 交易紀錄查詢
type HistoryQuery struct {
	OwnerID  int64
	Page     int
	PageSize int
}

// Normalize 檢查分頁參數並將 PageSize 限制在 maxPageSize 以內
func (q HistoryQuery) Normalize(maxPageSize int) (HistoryQuery, error) {
	if err := evaluate(ownerPresent(q.OwnerID)); err != nil {
		return q, err
	}
	page, pageSize, err := NormalizePage(q.Page, q.PageSize, maxPageSize)
	if err != nil {
		return q, err
	}
	q.Page, q.PageSize = page, pageSize
	return q, nil
}

// Offset 分頁起點
func (q HistoryQuery) Offset() int {
	return PageOffset(q.Page, q.PageSize)
}

// NormalizePage 檢查頁碼與單頁筆數並套用上限
//
// 參數:
//
//	page: 頁碼，從 1 開始
//	pageSize: 單頁筆數
//	maxPageSize: 單頁上限，<= 0 表示不限制
//
// 回傳:
//
//	int, int: 頁碼與套用上限後的單頁筆數
//	error: 頁碼或筆數 < 1，或分頁起點超出 int 範圍時回傳 ErrInvalidPage
func NormalizePage(page, pageSize, maxPageSize int) (int, int, error) {
	if page < 1 || pageSize < 1 {
		return 0, 0, ErrInvalidPage
	}
	if maxPageSize > 0 && pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page-1 > math.MaxInt/pageSize {
		return 0, 0, fmt.Errorf("%w: page %d out of range", ErrInvalidPage, page)
	}
	return page, pageSize, nil
}

// PageOffset 分頁起點，參數需先經過 NormalizePage
func PageOffset(page, pageSize int) int {
	return (page - 1) * pageSize
}

// BalanceResult 存款/提款結果
type BalanceResult struct {
	AccountID     int64
	AccountNumber string
	Balance       decimal.Decimal
	Transaction   *Transaction
}

// TransferResult 轉帳結果
type TransferResult struct {
	SourceAccount      string
	DestinationAccount string
	Amount             decimal.Decimal
	SourceBalance      decimal.Decimal
	Transaction        *Transaction
}

// HistoryPage 一頁交易紀錄
type HistoryPage struct {
	Transactions []*Transaction
	Page         int
	PageSize     int
	Total        int64
	TotalPages   int
}

// NewHistoryPage 依總筆數計算總頁數
func NewHistoryPage(txs []*Transaction, page, pageSize int, total int64) *HistoryPage {
	if txs == nil {
		txs = []*Transaction{}
	}
	totalPages := 0
	if pageSize > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return &HistoryPage{
		Transactions: txs,
		Page:         page,
		PageSize:     pageSize,
		Total:        total,
		TotalPages:   totalPages,
	}
}
