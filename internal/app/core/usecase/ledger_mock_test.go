package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	mock_usecase "github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase/mocks"
)

var errDiskGone = errors.New("disk gone")

// runWith 讓 mock store 以指定的 unit of work 執行 fn
func runWith(uow usecase.UnitOfWork) func(context.Context, func(usecase.UnitOfWork) error) error {
	return func(_ context.Context, fn func(usecase.UnitOfWork) error) error {
		return fn(uow)
	}
}

func activeAccount(id, owner int64, balance string) *domain.Account {
	account := domain.NewAccount(owner, fmt.Sprintf("ACC%d", id))
	account.ID = id
	account.Balance = dec(balance)
	return account
}

func TestLedgerEngine_SameAccountSkipsStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// 沒有任何 EXPECT：只要碰到儲存層就會失敗
	store := mock_usecase.NewMockStore(ctrl)
	engine := usecase.NewLedgerEngine(store, nil)

	_, err := engine.Transfer(context.Background(), domain.TransferRequest{
		OwnerID: ownerA, SourceID: 7, DestinationID: 7, Amount: dec("1"),
	})
	assert.ErrorIs(t, err, domain.ErrSameAccount)
}

func TestLedgerEngine_StorageFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(store *mock_usecase.MockStore, uow *mock_usecase.MockUnitOfWork)
	}{
		{
			name: "begin fails",
			setup: func(store *mock_usecase.MockStore, _ *mock_usecase.MockUnitOfWork) {
				store.EXPECT().WithinUnitOfWork(gomock.Any(), gomock.Any()).Return(errDiskGone)
			},
		},
		{
			name: "lock fails",
			setup: func(store *mock_usecase.MockStore, uow *mock_usecase.MockUnitOfWork) {
				store.EXPECT().WithinUnitOfWork(gomock.Any(), gomock.Any()).DoAndReturn(runWith(uow))
				uow.EXPECT().LockAccounts(gomock.Any(), int64(1)).Return(nil, errDiskGone)
			},
		},
		{
			name: "append fails",
			setup: func(store *mock_usecase.MockStore, uow *mock_usecase.MockUnitOfWork) {
				store.EXPECT().WithinUnitOfWork(gomock.Any(), gomock.Any()).DoAndReturn(runWith(uow))
				uow.EXPECT().LockAccounts(gomock.Any(), int64(1)).
					Return(map[int64]*domain.Account{1: activeAccount(1, ownerA, "10")}, nil)
				uow.EXPECT().UpdateBalance(gomock.Any(), gomock.Any()).Return(nil)
				uow.EXPECT().AppendTransaction(gomock.Any(), gomock.Any()).Return(errDiskGone)
			},
		},
		{
			name: "commit fails after fn succeeded",
			setup: func(store *mock_usecase.MockStore, uow *mock_usecase.MockUnitOfWork) {
				store.EXPECT().WithinUnitOfWork(gomock.Any(), gomock.Any()).
					DoAndReturn(func(ctx context.Context, fn func(usecase.UnitOfWork) error) error {
						if err := fn(uow); err != nil {
							return err
						}
						return errDiskGone
					})
				uow.EXPECT().LockAccounts(gomock.Any(), int64(1)).
					Return(map[int64]*domain.Account{1: activeAccount(1, ownerA, "10")}, nil)
				uow.EXPECT().UpdateBalance(gomock.Any(), gomock.Any()).Return(nil)
				uow.EXPECT().AppendTransaction(gomock.Any(), gomock.Any()).Return(nil)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			store := mock_usecase.NewMockStore(ctrl)
			uow := mock_usecase.NewMockUnitOfWork(ctrl)
			tt.setup(store, uow)

			engine := usecase.NewLedgerEngine(store, nil)
			result, err := engine.Withdraw(context.Background(), domain.WithdrawRequest{
				OwnerID: ownerA, AccountID: 1, Amount: dec("5"),
			})
			require.Error(t, err)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, domain.ErrStorageFailure)
			assert.ErrorIs(t, err, errDiskGone)
		})
	}
}

func TestLedgerEngine_TransferLocksInIDOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mock_usecase.NewMockStore(ctrl)
	uow := mock_usecase.NewMockUnitOfWork(ctrl)

	store.EXPECT().WithinUnitOfWork(gomock.Any(), gomock.Any()).DoAndReturn(runWith(uow))
	source := activeAccount(9, ownerA, "10")
	destination := activeAccount(3, ownerB, "0")
	uow.EXPECT().LockAccounts(gomock.Any(), int64(3), int64(9)).Return(map[int64]*domain.Account{
		9: source,
		3: destination,
	}, nil)
	gomock.InOrder(
		uow.EXPECT().UpdateBalance(gomock.Any(), destination).Return(nil),
		uow.EXPECT().UpdateBalance(gomock.Any(), source).Return(nil),
	)
	uow.EXPECT().AppendTransaction(gomock.Any(), gomock.Any()).Return(nil)

	engine := usecase.NewLedgerEngine(store, nil)
	result, err := engine.Transfer(context.Background(), domain.TransferRequest{
		OwnerID: ownerA, SourceID: 9, DestinationID: 3, Amount: dec("4"),
	})
	require.NoError(t, err)
	assertBalance(t, "6", result.SourceBalance)
	assertBalance(t, "4", destination.Balance)
}

func TestLedgerEngine_RetryUntilSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mock_usecase.NewMockStore(ctrl)
	uow := mock_usecase.NewMockUnitOfWork(ctrl)

	gomock.InOrder(
		store.EXPECT().WithinUnitOfWork(gomock.Any(), gomock.Any()).Return(domain.ErrConcurrencyConflict).Times(3),
		store.EXPECT().WithinUnitOfWork(gomock.Any(), gomock.Any()).DoAndReturn(runWith(uow)),
	)
	uow.EXPECT().LockAccounts(gomock.Any(), int64(1)).
		Return(map[int64]*domain.Account{1: activeAccount(1, ownerA, "10")}, nil)
	uow.EXPECT().UpdateBalance(gomock.Any(), gomock.Any()).Return(nil)
	uow.EXPECT().AppendTransaction(gomock.Any(), gomock.Any()).Return(nil)

	engine := usecase.NewLedgerEngine(store, nil, usecase.WithRetry(usecase.WithRetryBackoff(time.Millisecond)))
	result, err := engine.Deposit(context.Background(), domain.DepositRequest{
		OwnerID: ownerA, AccountID: 1, Amount: dec("2.50"),
	})
	require.NoError(t, err)
	assertBalance(t, "12.50", result.Balance)
}

func TestLedgerEngine_RetryBudget(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mock_usecase.NewMockStore(ctrl)
	// 1 次 + 2 次重試
	store.EXPECT().WithinUnitOfWork(gomock.Any(), gomock.Any()).Return(domain.ErrConcurrencyConflict).Times(3)

	engine := usecase.NewLedgerEngine(store, nil,
		usecase.WithRetry(usecase.WithMaxRetries(2), usecase.WithRetryBackoff(time.Millisecond)),
	)
	_, err := engine.Deposit(context.Background(), domain.DepositRequest{
		OwnerID: ownerA, AccountID: 1, Amount: dec("1"),
	})
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	assert.NotErrorIs(t, err, domain.ErrStorageFailure)
}

func TestLedgerEngine_BusinessErrorsNotRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mock_usecase.NewMockStore(ctrl)
	store.EXPECT().WithinUnitOfWork(gomock.Any(), gomock.Any()).Return(domain.ErrAccountFrozen).Times(1)

	engine := usecase.NewLedgerEngine(store, nil)
	_, err := engine.Withdraw(context.Background(), domain.WithdrawRequest{
		OwnerID: ownerA, AccountID: 1, Amount: dec("1"),
	})
	assert.ErrorIs(t, err, domain.ErrAccountFrozen)
	assert.NotErrorIs(t, err, domain.ErrStorageFailure)
}

func TestLedgerEngine_CancelDuringBackoff(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := mock_usecase.NewMockStore(ctrl)
	store.EXPECT().WithinUnitOfWork(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, func(usecase.UnitOfWork) error) error {
			cancel()
			return domain.ErrConcurrencyConflict
		}).Times(1)

	engine := usecase.NewLedgerEngine(store, nil, usecase.WithRetry(usecase.WithRetryBackoff(time.Hour)))
	_, err := engine.Deposit(ctx, domain.DepositRequest{
		OwnerID: ownerA, AccountID: 1, Amount: dec("1"),
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrStorageFailure)
}

func TestLedgerEngine_ReadFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mock_usecase.NewMockStore(ctrl)
	store.EXPECT().GetAccount(gomock.Any(), int64(1)).Return(nil, errDiskGone)
	store.EXPECT().ListAccountsByOwner(gomock.Any(), ownerA).Return([]*domain.Account{activeAccount(1, ownerA, "0")}, nil)
	store.EXPECT().ListTransactions(gomock.Any(), usecase.TransactionFilter{
		AccountNumbers: []string{"ACC1"},
		Offset:         10,
		Limit:          10,
	}).Return(nil, int64(0), errDiskGone)

	engine := usecase.NewLedgerEngine(store, nil)

	_, err := engine.GetBalance(context.Background(), ownerA, 1)
	assert.ErrorIs(t, err, domain.ErrStorageFailure)

	_, err = engine.GetHistory(context.Background(), domain.HistoryQuery{OwnerID: ownerA, Page: 2, PageSize: 10})
	assert.ErrorIs(t, err, domain.ErrStorageFailure)
}

func TestAccountManager_NumberCollision(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mock_usecase.NewMockStore(ctrl)
	numbers := mock_usecase.NewMockAccountNumberGenerator(ctrl)

	gomock.InOrder(
		numbers.EXPECT().Next().Return("ACC1"),
		numbers.EXPECT().Next().Return("ACC2"),
	)
	gomock.InOrder(
		store.EXPECT().CreateAccount(gomock.Any(), gomock.Any()).Return(domain.ErrDuplicateAccountNumber),
		store.EXPECT().CreateAccount(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, account *domain.Account) error {
				account.ID = 77
				return nil
			}),
	)

	manager := usecase.NewAccountManager(store, numbers, nil)
	account, err := manager.CreateAccount(context.Background(), ownerA)
	require.NoError(t, err)
	assert.Equal(t, "ACC2", account.AccountNumber)
	assert.EqualValues(t, 77, account.ID)
	assert.Equal(t, domain.AccountStatusActive, account.Status)
	assert.True(t, account.Balance.IsZero())
}

func TestAccountManager_CollisionBudget(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mock_usecase.NewMockStore(ctrl)
	numbers := mock_usecase.NewMockAccountNumberGenerator(ctrl)
	numbers.EXPECT().Next().Return("ACC1").Times(5)
	store.EXPECT().CreateAccount(gomock.Any(), gomock.Any()).Return(domain.ErrDuplicateAccountNumber).Times(5)

	manager := usecase.NewAccountManager(store, numbers, nil)
	_, err := manager.CreateAccount(context.Background(), ownerA)
	assert.ErrorIs(t, err, domain.ErrDuplicateAccountNumber)
}

func TestAccountManager_InvalidOwner(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	manager := usecase.NewAccountManager(mock_usecase.NewMockStore(ctrl), mock_usecase.NewMockAccountNumberGenerator(ctrl), nil)
	_, err := manager.CreateAccount(context.Background(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidOwner)
	_, err = manager.ListAccounts(context.Background(), -1)
	assert.ErrorIs(t, err, domain.ErrInvalidOwner)
}

func TestAccountManager_FreezeIdempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mock_usecase.NewMockStore(ctrl)
	uow := mock_usecase.NewMockUnitOfWork(ctrl)

	frozen := activeAccount(4, ownerA, "3")
	frozen.Status = domain.AccountStatusFrozen

	store.EXPECT().WithinUnitOfWork(gomock.Any(), gomock.Any()).DoAndReturn(runWith(uow))
	uow.EXPECT().LockAccounts(gomock.Any(), int64(4)).Return(map[int64]*domain.Account{4: frozen}, nil)
	// 已凍結：不應呼叫 UpdateStatus

	manager := usecase.NewAccountManager(store, mock_usecase.NewMockAccountNumberGenerator(ctrl), nil)
	account, err := manager.Freeze(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountStatusFrozen, account.Status)
	assertBalance(t, "3", account.Balance)
}

func TestAccountManager_UnfreezeWritesStatus(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mock_usecase.NewMockStore(ctrl)
	uow := mock_usecase.NewMockUnitOfWork(ctrl)

	frozen := activeAccount(4, ownerA, "3")
	frozen.Status = domain.AccountStatusFrozen

	store.EXPECT().WithinUnitOfWork(gomock.Any(), gomock.Any()).DoAndReturn(runWith(uow))
	uow.EXPECT().LockAccounts(gomock.Any(), int64(4)).Return(map[int64]*domain.Account{4: frozen}, nil)
	uow.EXPECT().UpdateStatus(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, account *domain.Account) error {
			assert.Equal(t, domain.AccountStatusActive, account.Status)
			return nil
		})

	manager := usecase.NewAccountManager(store, mock_usecase.NewMockAccountNumberGenerator(ctrl), nil)
	account, err := manager.Unfreeze(context.Background(), 4)
	require.NoError(t, err)
	assert.True(t, account.IsActive())
}

func TestAccountManager_FreezeMissing(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mock_usecase.NewMockStore(ctrl)
	uow := mock_usecase.NewMockUnitOfWork(ctrl)
	store.EXPECT().WithinUnitOfWork(gomock.Any(), gomock.Any()).DoAndReturn(runWith(uow))
	uow.EXPECT().LockAccounts(gomock.Any(), int64(4)).Return(map[int64]*domain.Account{}, nil)

	manager := usecase.NewAccountManager(store, mock_usecase.NewMockAccountNumberGenerator(ctrl), nil)
	_, err := manager.Freeze(context.Background(), 4)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAccountManager_RetryOptions(t *testing.T) {
	tests := []struct {
		name     string
		opts     []usecase.RetryOption
		attempts int
	}{
		{name: "no retry", opts: []usecase.RetryOption{usecase.WithMaxRetries(0)}, attempts: 1},
		{name: "two retries", opts: []usecase.RetryOption{usecase.WithMaxRetries(2), usecase.WithRetryBackoff(time.Millisecond)}, attempts: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			store := mock_usecase.NewMockStore(ctrl)
			store.EXPECT().WithinUnitOfWork(gomock.Any(), gomock.Any()).
				Return(domain.ErrConcurrencyConflict).
				Times(tt.attempts)

			manager := usecase.NewAccountManager(store, mock_usecase.NewMockAccountNumberGenerator(ctrl), nil, tt.opts...)
			_, err := manager.Freeze(context.Background(), 4)
			assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
		})
	}
}
