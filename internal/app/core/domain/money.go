package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// 金額使用 decimal，固定精度：小數點後 2 位，對應資料庫 DECIMAL(15, 2)
const (
	AmountScale = 2
)

// MaxAmount DECIMAL(15, 2) 可容納的上限 (不含)
var MaxAmount = decimal.New(1, 13)

// ParseAmount 將外部傳入的字串解析為金額
//
// 參數:
//
//	s: 十進位字串，例如 "100.00"
//
// 回傳:
//
//	decimal.Decimal: 金額
//	error: 非數字、NaN/Inf、非正數或超過兩位小數時回傳 ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// ValidateAmount 檢查金額是否為正、精確 (不超過兩位小數) 且在範圍內
func ValidateAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(AmountScale)) {
		return fmt.Errorf("%w: more than %d fractional digits", ErrInvalidAmount, AmountScale)
	}
	if amount.GreaterThanOrEqual(MaxAmount) {
		return fmt.Errorf("%w: exceeds maximum", ErrInvalidAmount)
	}
	return nil
}

// FormatAmount 以固定兩位小數輸出
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(AmountScale)
}
