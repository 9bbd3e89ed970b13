package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "100", want: "100.00"},
		{in: "100.5", want: "100.50"},
		{in: " 0.01 ", want: "0.01"},
		{in: "9999999999999.99", want: "9999999999999.99"},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "0", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "1.001", wantErr: true},
		{in: "NaN", wantErr: true},
		{in: "Inf", wantErr: true},
		{in: "10000000000000", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, FormatAmount(got))
		})
	}
}

func TestAccount_DepositWithdraw(t *testing.T) {
	account := NewAccount(1, "ACC1")
	require.True(t, account.IsActive())

	require.NoError(t, account.Deposit(decimal.RequireFromString("0.10")))
	require.NoError(t, account.Deposit(decimal.RequireFromString("0.20")))
	assert.Equal(t, "0.30", FormatAmount(account.Balance))

	err := account.Withdraw(decimal.RequireFromString("0.31"))
	var insufficient *InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, "0.30", FormatAmount(insufficient.Balance))
	assert.Equal(t, "0.30", FormatAmount(account.Balance))

	require.NoError(t, account.Withdraw(decimal.RequireFromString("0.30")))
	assert.True(t, account.Balance.IsZero())

	assert.ErrorIs(t, account.Deposit(decimal.Zero), ErrInvalidAmount)
	assert.ErrorIs(t, account.Withdraw(decimal.RequireFromString("-1")), ErrInvalidAmount)
}

func TestAccount_DepositBalanceLimit(t *testing.T) {
	account := NewAccount(1, "ACC1")
	require.NoError(t, account.Deposit(decimal.RequireFromString("9999999999999.98")))

	err := account.Deposit(decimal.RequireFromString("0.02"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, "9999999999999.98", FormatAmount(account.Balance))

	require.NoError(t, account.Deposit(decimal.RequireFromString("0.01")))
	assert.Equal(t, "9999999999999.99", FormatAmount(account.Balance))
}

func TestAccount_Clone(t *testing.T) {
	account := NewAccount(1, "ACC1")
	clone := account.Clone()
	clone.Balance = decimal.NewFromInt(5)
	clone.Status = AccountStatusFrozen

	assert.True(t, account.Balance.IsZero())
	assert.True(t, account.IsActive())
	assert.True(t, account.OwnedBy(1))
	assert.False(t, account.OwnedBy(2))
}
