package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/storetest"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) usecase.Store {
		s, err := NewStore(WithLockTimeout(time.Second))
		require.NoError(t, err)
		return s
	})
}

func TestStore_ConformanceWithWAL(t *testing.T) {
	storetest.Run(t, func(t *testing.T) usecase.Store {
		w, err := wal.NewWAL(filepath.Join(t.TempDir(), "ledger.wal"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = w.Close() })
		s, err := NewStore(WithWAL(w))
		require.NoError(t, err)
		return s
	})
}

// holdLock 在背景 goroutine 持有帳戶鎖，直到 release 被關閉
func holdLock(t *testing.T, s *Store, id int64) (release chan struct{}, done chan error) {
	t.Helper()
	locked := make(chan struct{})
	release = make(chan struct{})
	done = make(chan error, 1)
	go func() {
		ctx := context.Background()
		done <- s.WithinUnitOfWork(ctx, func(uow usecase.UnitOfWork) error {
			if _, err := uow.LockAccounts(ctx, id); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	select {
	case <-locked:
	case <-time.After(time.Second):
		t.Fatal("lock holder did not acquire the lock")
	}
	return release, done
}

func TestStore_LockTimeoutIsConflict(t *testing.T) {
	s, err := NewStore(WithLockTimeout(20 * time.Millisecond))
	require.NoError(t, err)
	account := storetest.MustCreate(t, s, 1)

	release, done := holdLock(t, s, account.ID)

	ctx := context.Background()
	start := time.Now()
	err = s.WithinUnitOfWork(ctx, func(uow usecase.UnitOfWork) error {
		_, err := uow.LockAccounts(ctx, account.ID)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	close(release)
	require.NoError(t, <-done)

	// 鎖已釋放，可以再次取得
	err = s.WithinUnitOfWork(ctx, func(uow usecase.UnitOfWork) error {
		_, err := uow.LockAccounts(ctx, account.ID)
		return err
	})
	assert.NoError(t, err)
}

func TestStore_LockWaitCancelled(t *testing.T) {
	s, err := NewStore(WithLockTimeout(time.Minute))
	require.NoError(t, err)
	account := storetest.MustCreate(t, s, 1)

	release, done := holdLock(t, s, account.ID)
	defer func() {
		close(release)
		<-done
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.WithinUnitOfWork(ctx, func(uow usecase.UnitOfWork) error {
		_, err := uow.LockAccounts(ctx, account.ID)
		return err
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStore_LockAccountsTwice(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)
	account := storetest.MustCreate(t, s, 1)

	ctx := context.Background()
	err = s.WithinUnitOfWork(ctx, func(uow usecase.UnitOfWork) error {
		if _, err := uow.LockAccounts(ctx, account.ID); err != nil {
			return err
		}
		_, err := uow.LockAccounts(ctx, account.ID)
		return err
	})
	assert.ErrorIs(t, err, errLockedTwice)
}

func TestStore_UpdateUnlockedAccount(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)
	a := storetest.MustCreate(t, s, 1)
	b := storetest.MustCreate(t, s, 1)

	ctx := context.Background()
	err = s.WithinUnitOfWork(ctx, func(uow usecase.UnitOfWork) error {
		if _, err := uow.LockAccounts(ctx, a.ID); err != nil {
			return err
		}
		b.Balance = decimal.NewFromInt(100)
		return uow.UpdateBalance(ctx, b)
	})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	got, err := s.GetAccount(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())
}

func TestStore_ReturnsCopies(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)
	account := storetest.MustCreate(t, s, 1)

	got, err := s.GetAccount(context.Background(), account.ID)
	require.NoError(t, err)
	got.Balance = decimal.NewFromInt(1_000_000)
	got.Status = domain.AccountStatusFrozen

	again, err := s.GetAccount(context.Background(), account.ID)
	require.NoError(t, err)
	assert.True(t, again.Balance.IsZero())
	assert.Equal(t, domain.AccountStatusActive, again.Status)
}

func TestStore_RecoverFromWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.wal")
	ref := uuid.New()
	ctx := context.Background()

	w, err := wal.NewWAL(path)
	require.NoError(t, err)
	s, err := NewStore(WithWAL(w))
	require.NoError(t, err)

	a := storetest.MustCreate(t, s, 7)
	b := storetest.MustCreate(t, s, 7)
	storetest.MustDeposit(t, s, a, "100.50")

	err = s.WithinUnitOfWork(ctx, func(uow usecase.UnitOfWork) error {
		locked, err := uow.LockAccounts(ctx, a.ID, b.ID)
		if err != nil {
			return err
		}
		amount := decimal.RequireFromString("40.25")
		src, dst := locked[a.ID], locked[b.ID]
		if err := src.Withdraw(amount); err != nil {
			return err
		}
		if err := dst.Deposit(amount); err != nil {
			return err
		}
		dst.Status = domain.AccountStatusFrozen
		for _, acc := range []*domain.Account{src, dst} {
			if err := uow.UpdateBalance(ctx, acc); err != nil {
				return err
			}
		}
		if err := uow.UpdateStatus(ctx, dst); err != nil {
			return err
		}
		return uow.AppendTransaction(ctx, domain.NewTransferTransaction(src.AccountNumber, dst.AccountNumber, amount, ref))
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// 重新開啟
	w2, err := wal.NewWAL(path)
	require.NoError(t, err)
	defer w2.Close()
	restored, err := NewStore(WithWAL(w2))
	require.NoError(t, err)

	gotA, err := restored.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	gotB, err := restored.GetAccount(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "60.25", domain.FormatAmount(gotA.Balance))
	assert.Equal(t, "40.25", domain.FormatAmount(gotB.Balance))
	assert.Equal(t, domain.AccountStatusFrozen, gotB.Status)
	assert.Equal(t, a.AccountNumber, gotA.AccountNumber)

	txs, total, err := restored.ListTransactions(ctx, usecase.TransactionFilter{Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, txs, 2)
	assert.Equal(t, domain.TransactionTypeTransfer, txs[0].Type)
	assert.Equal(t, ref, txs[0].RefID)

	// 帳號唯一鍵、RefID、ID 序號都必須恢復
	assert.ErrorIs(t, restored.CreateAccount(ctx, domain.NewAccount(9, a.AccountNumber)), domain.ErrDuplicateAccountNumber)
	c := storetest.MustCreate(t, restored, 9)
	assert.Greater(t, c.ID, b.ID)
	next := storetest.MustDeposit(t, restored, c, "1.00")
	assert.Greater(t, next.ID, txs[0].ID)

	err = restored.WithinUnitOfWork(ctx, func(uow usecase.UnitOfWork) error {
		return uow.AppendTransaction(ctx, domain.NewDepositTransaction(c.AccountNumber, decimal.NewFromInt(1), ref))
	})
	assert.ErrorIs(t, err, domain.ErrTransactionAlreadyProcessed)
}

func TestStore_RecoverIgnoresTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.wal")

	w, err := wal.NewWAL(path)
	require.NoError(t, err)
	s, err := NewStore(WithWAL(w))
	require.NoError(t, err)
	account := storetest.MustCreate(t, s, 3)
	storetest.MustDeposit(t, s, account, "12.00")
	require.NoError(t, w.Close())

	// 模擬寫到一半當機
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"kind":"commit","accounts":[{"id":1,"bal`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w2, err := wal.NewWAL(path)
	require.NoError(t, err)
	defer w2.Close()
	restored, err := NewStore(WithWAL(w2))
	require.NoError(t, err)

	got, err := restored.GetAccount(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, "12.00", domain.FormatAmount(got.Balance))
}
