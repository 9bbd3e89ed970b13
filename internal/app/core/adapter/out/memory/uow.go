package memory

import (
	"context"
	"errors"
	"time"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// errLockedTwice LockAccounts 在同一個 unit of work 只能呼叫一次
var errLockedTwice = errors.New("memory: accounts already locked in this unit of work")

// unitOfWork 暫存一次交易中的變更，commit 前對其他人不可見
type unitOfWork struct {
	store  *Store
	held   []chan struct{}
	staged map[int64]*domain.Account
	dirty  []int64
	tran   *domain.Transaction
	locked bool
}

func newUnitOfWork(s *Store) *unitOfWork {
	return &unitOfWork{
		store:  s,
		staged: make(map[int64]*domain.Account),
	}
}

// LockAccounts 依 ID 遞增順序取得帳戶鎖
//
// 參數:
//
//	ctx: 上下文，等待期間取消回傳 ctx.Err()
//	ids: 帳戶 ID
//
// 回傳:
//
//	map[int64]*domain.Account: 鎖定後的帳戶拷貝 (不存在的 ID 不會出現)
//	error: 等待逾時回傳 domain.ErrConcurrencyConflict
func (u *unitOfWork) LockAccounts(ctx context.Context, ids ...int64) (map[int64]*domain.Account, error) {
	if u.locked {
		return nil, errLockedTwice
	}
	u.locked = true

	out := make(map[int64]*domain.Account, len(ids))
	for _, id := range domain.LockOrder(ids...) {
		u.store.mu.RLock()
		sem, ok := u.store.locks[id]
		u.store.mu.RUnlock()
		if !ok {
			continue
		}
		if err := u.acquire(ctx, sem); err != nil {
			return nil, err
		}
		u.held = append(u.held, sem)
	}

	// 全部鎖到之後才讀快照，確保看到的是前一個持有者提交後的值
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()
	for _, id := range ids {
		if account, ok := u.store.accounts[id]; ok {
			u.staged[id] = account.Clone()
			out[id] = account.Clone()
		}
	}
	return out, nil
}

// acquire 等待帳戶鎖，最多 lockTimeout
func (u *unitOfWork) acquire(ctx context.Context, sem chan struct{}) error {
	timer := time.NewTimer(u.store.lockTimeout)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return domain.ErrConcurrencyConflict
	}
}

// release 依取得的相反順序釋放
func (u *unitOfWork) release() {
	for i := len(u.held) - 1; i >= 0; i-- {
		<-u.held[i]
	}
	u.held = nil
}

// UpdateBalance 暫存新餘額
func (u *unitOfWork) UpdateBalance(ctx context.Context, account *domain.Account) error {
	staged, err := u.stagedAccount(account.ID)
	if err != nil {
		return err
	}
	staged.Balance = account.Balance
	return nil
}

// UpdateStatus 暫存新狀態
func (u *unitOfWork) UpdateStatus(ctx context.Context, account *domain.Account) error {
	staged, err := u.stagedAccount(account.ID)
	if err != nil {
		return err
	}
	staged.Status = account.Status
	return nil
}

// AppendTransaction 暫存交易紀錄；RefID 重複在 commit 時才檢查
func (u *unitOfWork) AppendTransaction(ctx context.Context, tran *domain.Transaction) error {
	if u.tran != nil {
		return errors.New("memory: one transaction record per unit of work")
	}
	if tran.HasRef() {
		u.store.mu.RLock()
		_, seen := u.store.refs[tran.RefID]
		u.store.mu.RUnlock()
		if seen {
			return domain.ErrTransactionAlreadyProcessed
		}
	}
	u.tran = tran
	return nil
}

// stagedAccount 只允許寫入本 unit of work 已鎖定的帳戶
func (u *unitOfWork) stagedAccount(id int64) (*domain.Account, error) {
	staged, ok := u.staged[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	for _, d := range u.dirty {
		if d == id {
			return staged, nil
		}
	}
	u.dirty = append(u.dirty, id)
	return staged, nil
}

// changedAccounts 依寫入順序回傳被修改過的帳戶
func (u *unitOfWork) changedAccounts() []*domain.Account {
	out := make([]*domain.Account, 0, len(u.dirty))
	for _, id := range u.dirty {
		out = append(out, u.staged[id])
	}
	return out
}
