// Package storetest 是所有 usecase.Store 實作共用的行為測試
package storetest

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// Factory 每個子測試建立一個 Store
type Factory func(t *testing.T) usecase.Store

// Run 對 Store 實作跑完整的行為測試
// 資料庫實作會共用同一個 schema，所以帳號與擁有者都是隨機產生
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGetAccount", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("DuplicateAccountNumber", func(t *testing.T) { testDuplicateNumber(t, newStore(t)) })
	t.Run("ListAccountsByOwner", func(t *testing.T) { testListByOwner(t, newStore(t)) })
	t.Run("CommitUnitOfWork", func(t *testing.T) { testCommit(t, newStore(t)) })
	t.Run("MaxBalance", func(t *testing.T) { testMaxBalance(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollbackOnError(t, newStore(t)) })
	t.Run("RollbackOnCancel", func(t *testing.T) { testRollbackOnCancel(t, newStore(t)) })
	t.Run("LockMissingAccount", func(t *testing.T) { testLockMissing(t, newStore(t)) })
	t.Run("DuplicateRefID", func(t *testing.T) { testDuplicateRef(t, newStore(t)) })
	t.Run("UpdateStatus", func(t *testing.T) { testUpdateStatus(t, newStore(t)) })
	t.Run("ListTransactions", func(t *testing.T) { testListTransactions(t, newStore(t)) })
	t.Run("ListDuringCommits", func(t *testing.T) { testListDuringCommits(t, newStore(t)) })
	t.Run("ExclusiveLocks", func(t *testing.T) { testExclusiveLocks(t, newStore(t)) })
}

// RandomOwner 隨機擁有者 ID
func RandomOwner() int64 {
	return rand.Int64N(1<<40) + 1
}

// RandomNumber 隨機帳號
func RandomNumber() string {
	return "T" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// MustCreate 建立一個帳戶，失敗直接結束測試
func MustCreate(t *testing.T, store usecase.Store, ownerID int64) *domain.Account {
	t.Helper()
	account := domain.NewAccount(ownerID, RandomNumber())
	require.NoError(t, store.CreateAccount(context.Background(), account))
	require.NotZero(t, account.ID)
	return account
}

// MustDeposit 直接透過 unit of work 加錢並寫一筆存款紀錄
func MustDeposit(t *testing.T, store usecase.Store, account *domain.Account, amount string) *domain.Transaction {
	t.Helper()
	ctx := context.Background()
	var tran *domain.Transaction
	err := store.WithinUnitOfWork(ctx, func(uow usecase.UnitOfWork) error {
		locked, err := uow.LockAccounts(ctx, account.ID)
		if err != nil {
			return err
		}
		a := locked[account.ID]
		if err := a.Deposit(decimal.RequireFromString(amount)); err != nil {
			return err
		}
		if err := uow.UpdateBalance(ctx, a); err != nil {
			return err
		}
		tran = domain.NewDepositTransaction(a.AccountNumber, decimal.RequireFromString(amount), uuid.Nil)
		return uow.AppendTransaction(ctx, tran)
	})
	require.NoError(t, err)
	return tran
}

func balanceOf(t *testing.T, store usecase.Store, id int64) decimal.Decimal {
	t.Helper()
	account, err := store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return account.Balance
}

func testCreateAndGet(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	owner := RandomOwner()
	created := MustCreate(t, store, owner)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := store.GetAccount(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, owner, got.OwnerID)
	assert.Equal(t, created.AccountNumber, got.AccountNumber)
	assert.True(t, got.Balance.IsZero())
	assert.Equal(t, domain.AccountStatusActive, got.Status)

	_, err = store.GetAccount(ctx, created.ID+1_000_000_000)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func testDuplicateNumber(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	first := MustCreate(t, store, RandomOwner())

	dup := domain.NewAccount(RandomOwner(), first.AccountNumber)
	err := store.CreateAccount(ctx, dup)
	assert.ErrorIs(t, err, domain.ErrDuplicateAccountNumber)
}

func testListByOwner(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	owner := RandomOwner()
	a := MustCreate(t, store, owner)
	b := MustCreate(t, store, owner)
	MustCreate(t, store, RandomOwner())

	accounts, err := store.ListAccountsByOwner(ctx, owner)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, a.ID, accounts[0].ID)
	assert.Equal(t, b.ID, accounts[1].ID)

	none, err := store.ListAccountsByOwner(ctx, RandomOwner())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testCommit(t *testing.T, store usecase.Store) {
	account := MustCreate(t, store, RandomOwner())
	tran := MustDeposit(t, store, account, "10.25")

	assert.NotZero(t, tran.ID)
	assert.False(t, tran.CreatedAt.IsZero())
	assert.True(t, decimal.RequireFromString("10.25").Equal(balanceOf(t, store, account.ID)))

	txs, total, err := store.ListTransactions(context.Background(), usecase.TransactionFilter{
		AccountNumbers: []string{account.AccountNumber},
		Limit:          10,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, txs, 1)
	assert.Equal(t, tran.ID, txs[0].ID)
	assert.Equal(t, domain.TransactionTypeDeposit, txs[0].Type)
	assert.Equal(t, account.AccountNumber, txs[0].DestinationAccount)
	assert.Empty(t, txs[0].SourceAccount)
	assert.Equal(t, "10.25", domain.FormatAmount(txs[0].Amount))
}

// 引擎允許的最大餘額必須能被每個儲存層原樣保存
func testMaxBalance(t *testing.T, store usecase.Store) {
	account := MustCreate(t, store, RandomOwner())
	MustDeposit(t, store, account, "9999999999999.99")
	assert.Equal(t, "9999999999999.99", domain.FormatAmount(balanceOf(t, store, account.ID)))

	ctx := context.Background()
	err := store.WithinUnitOfWork(ctx, func(uow usecase.UnitOfWork) error {
		locked, err := uow.LockAccounts(ctx, account.ID)
		if err != nil {
			return err
		}
		return locked[account.ID].Deposit(decimal.RequireFromString("0.01"))
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Equal(t, "9999999999999.99", domain.FormatAmount(balanceOf(t, store, account.ID)))
}

func testRollbackOnError(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	account := MustCreate(t, store, RandomOwner())
	MustDeposit(t, store, account, "5.00")

	boom := errors.New("boom")
	err := store.WithinUnitOfWork(ctx, func(uow usecase.UnitOfWork) error {
		locked, err := uow.LockAccounts(ctx, account.ID)
		if err != nil {
			return err
		}
		a := locked[account.ID]
		a.Balance = a.Balance.Add(decimal.NewFromInt(100))
		if err := uow.UpdateBalance(ctx, a); err != nil {
			return err
		}
		if err := uow.AppendTransaction(ctx, domain.NewDepositTransaction(a.AccountNumber, decimal.NewFromInt(100), uuid.Nil)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "5.00", domain.FormatAmount(balanceOf(t, store, account.ID)))

	_, total, err := store.ListTransactions(ctx, usecase.TransactionFilter{AccountNumbers: []string{account.AccountNumber}, Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func testRollbackOnCancel(t *testing.T, store usecase.Store) {
	account := MustCreate(t, store, RandomOwner())

	ctx, cancel := context.WithCancel(context.Background())
	err := store.WithinUnitOfWork(ctx, func(uow usecase.UnitOfWork) error {
		locked, err := uow.LockAccounts(ctx, account.ID)
		if err != nil {
			return err
		}
		a := locked[account.ID]
		a.Balance = decimal.NewFromInt(42)
		if err := uow.UpdateBalance(ctx, a); err != nil {
			return err
		}
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, balanceOf(t, store, account.ID).IsZero())
}

func testLockMissing(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	account := MustCreate(t, store, RandomOwner())
	missing := account.ID + 1_000_000_000

	err := store.WithinUnitOfWork(ctx, func(uow usecase.UnitOfWork) error {
		locked, err := uow.LockAccounts(ctx, missing, account.ID)
		if err != nil {
			return err
		}
		assert.Len(t, locked, 1)
		assert.Contains(t, locked, account.ID)
		assert.NotContains(t, locked, missing)
		return nil
	})
	require.NoError(t, err)
}

func testDuplicateRef(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	account := MustCreate(t, store, RandomOwner())
	ref := uuid.New()

	deposit := func() error {
		return store.WithinUnitOfWork(ctx, func(uow usecase.UnitOfWork) error {
			locked, err := uow.LockAccounts(ctx, account.ID)
			if err != nil {
				return err
			}
			a := locked[account.ID]
			amount := decimal.NewFromInt(7)
			if err := a.Deposit(amount); err != nil {
				return err
			}
			if err := uow.UpdateBalance(ctx, a); err != nil {
				return err
			}
			return uow.AppendTransaction(ctx, domain.NewDepositTransaction(a.AccountNumber, amount, ref))
		})
	}

	require.NoError(t, deposit())
	assert.ErrorIs(t, deposit(), domain.ErrTransactionAlreadyProcessed)
	assert.Equal(t, "7.00", domain.FormatAmount(balanceOf(t, store, account.ID)))

	txs, total, err := store.ListTransactions(ctx, usecase.TransactionFilter{AccountNumbers: []string{account.AccountNumber}, Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, txs, 1)
	assert.Equal(t, ref, txs[0].RefID)
}

func testUpdateStatus(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	account := MustCreate(t, store, RandomOwner())

	err := store.WithinUnitOfWork(ctx, func(uow usecase.UnitOfWork) error {
		locked, err := uow.LockAccounts(ctx, account.ID)
		if err != nil {
			return err
		}
		a := locked[account.ID]
		a.Status = domain.AccountStatusFrozen
		return uow.UpdateStatus(ctx, a)
	})
	require.NoError(t, err)

	got, err := store.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusFrozen, got.Status)
}

func testListTransactions(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	owner := RandomOwner()
	a := MustCreate(t, store, owner)
	b := MustCreate(t, store, owner)
	other := MustCreate(t, store, RandomOwner())

	var ids []int64
	for _, amount := range []string{"1.00", "2.00", "3.00"} {
		ids = append(ids, MustDeposit(t, store, a, amount).ID)
	}
	ids = append(ids, MustDeposit(t, store, b, "4.00").ID)
	MustDeposit(t, store, other, "5.00")

	filter := usecase.TransactionFilter{
		AccountNumbers: []string{a.AccountNumber, b.AccountNumber},
		Limit:          3,
	}
	first, total, err := store.ListTransactions(ctx, filter)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	require.Len(t, first, 3)

	filter.Offset = 3
	second, total, err := store.ListTransactions(ctx, filter)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	require.Len(t, second, 1)

	all := append(first, second...)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].NewerThan(all[i]), "records must be ordered newest first")
	}
	seen := make(map[int64]bool)
	for _, tran := range all {
		seen[tran.ID] = true
	}
	for _, id := range ids {
		assert.True(t, seen[id], "transaction %d missing from history", id)
	}

	filter.Offset = 10
	empty, total, err := store.ListTransactions(ctx, filter)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	assert.Empty(t, empty)
}

// testListDuringCommits 寫入持續進行時，總筆數必須與同一次查詢回傳的紀錄一致
func testListDuringCommits(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	account := MustCreate(t, store, RandomOwner())
	const deposits = 50

	done := make(chan error, 1)
	go func() {
		for range deposits {
			err := store.WithinUnitOfWork(ctx, func(uow usecase.UnitOfWork) error {
				locked, err := uow.LockAccounts(ctx, account.ID)
				if err != nil {
					return err
				}
				a := locked[account.ID]
				if err := a.Deposit(decimal.NewFromInt(1)); err != nil {
					return err
				}
				if err := uow.UpdateBalance(ctx, a); err != nil {
					return err
				}
				return uow.AppendTransaction(ctx, domain.NewDepositTransaction(a.AccountNumber, decimal.NewFromInt(1), uuid.Nil))
			})
			if err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	filter := usecase.TransactionFilter{AccountNumbers: []string{account.AccountNumber}, Limit: deposits * 2}
	for {
		txs, total, err := store.ListTransactions(ctx, filter)
		require.NoError(t, err)
		require.EqualValues(t, len(txs), total)

		select {
		case err := <-done:
			require.NoError(t, err)
			_, total, err := store.ListTransactions(ctx, filter)
			require.NoError(t, err)
			assert.EqualValues(t, deposits, total)
			return
		default:
		}
	}
}

// testExclusiveLocks 並發的讀改寫必須互斥，最後餘額等於總次數
func testExclusiveLocks(t *testing.T, store usecase.Store) {
	ctx := context.Background()
	account := MustCreate(t, store, RandomOwner())
	const workers = 20

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				err := store.WithinUnitOfWork(ctx, func(uow usecase.UnitOfWork) error {
					locked, err := uow.LockAccounts(ctx, account.ID)
					if err != nil {
						return err
					}
					a := locked[account.ID]
					a.Balance = a.Balance.Add(decimal.NewFromInt(1))
					return uow.UpdateBalance(ctx, a)
				})
				if errors.Is(err, domain.ErrConcurrencyConflict) {
					continue
				}
				errs <- err
				return
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, "20.00", domain.FormatAmount(balanceOf(t, store, account.ID)))
}
