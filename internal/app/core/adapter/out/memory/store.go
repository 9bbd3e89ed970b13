package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

// DefaultLockTimeout 單一帳戶鎖的最長等待時間
const DefaultLockTimeout = 5 * time.Second

// Store 是一個記憶體帳本，以 WAL 保證重啟後狀態不遺失
//
// 結構:
//
//	mu: 保護下列 map / slice；提交在寫鎖內完成，讀取者看不到一半的 unit of work
//	accounts: 帳戶資料 Map
//	numbers: 對外帳號 → 帳戶 ID (唯一鍵)
//	locks: 每個帳戶一個容量 1 的 channel，作為可逾時的獨占鎖
//	transactions: 只追加的交易紀錄
//	refs: 已處理過的交易 RefID
//	wal: Write-Ahead Log 實例 (可為 nil)
type Store struct {
	mu           sync.RWMutex
	accounts     map[int64]*domain.Account
	numbers      map[string]int64
	locks        map[int64]chan struct{}
	transactions []*domain.Transaction
	refs         map[uuid.UUID]struct{}

	nextAccountID int64
	nextTxID      int64

	wal         *wal.WAL
	lockTimeout time.Duration
	clock       func() time.Time
}

// Option 定義了 Store 的配置選項函數
type Option func(*Store)

// WithWAL 每次提交先寫入 WAL，並在建立時從 WAL 恢復
func WithWAL(w *wal.WAL) Option {
	return func(s *Store) {
		s.wal = w
	}
}

// WithLockTimeout 設定帳戶鎖等待上限，逾時回傳 domain.ErrConcurrencyConflict
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithClock 替換時間來源 (測試用)
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore 建立一個新的 Store 實例
//
// 參數:
//
//	opts: 選項 (WAL、鎖逾時、時間來源)
//
// 回傳:
//
//	*Store: Store 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewStore(opts ...Option) (*Store, error) {
	s := &Store{
		accounts:    make(map[int64]*domain.Account),
		numbers:     make(map[string]int64),
		locks:       make(map[int64]chan struct{}),
		refs:        make(map[uuid.UUID]struct{}),
		lockTimeout: DefaultLockTimeout,
		clock:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.wal != nil {
		if err := s.recoverFromWAL(); err != nil {
			return nil, fmt.Errorf("recover from wal: %w", err)
		}
	}
	return s, nil
}

// walRecord WAL 中的一筆紀錄
type walRecord struct {
	Kind     string              `json:"kind"`
	Account  *domain.Account     `json:"account,omitempty"`
	Accounts []*domain.Account   `json:"accounts,omitempty"`
	Tx       *domain.Transaction `json:"tx,omitempty"`
}

const (
	recordAccountCreated = "account_created"
	recordCommit         = "commit"
)

// recoverFromWAL 從 WAL 檔案恢復帳本狀態
// 只有 NewStore 呼叫，無需 Lock (單執行緒)
func (s *Store) recoverFromWAL() error {
	return s.wal.ReadAll(func(jsonRaw []byte) error {
		var rec walRecord
		if err := json.Unmarshal(jsonRaw, &rec); err != nil {
			return err
		}
		switch rec.Kind {
		case recordAccountCreated:
			if rec.Account == nil {
				return fmt.Errorf("wal: %s record without account", rec.Kind)
			}
			s.applyAccount(rec.Account)
		case recordCommit:
			s.applyCommit(rec.Accounts, rec.Tx)
		default:
			return fmt.Errorf("wal: unknown record kind %q", rec.Kind)
		}
		return nil
	})
}

// applyAccount 寫入新帳戶 (呼叫者需持有寫鎖或處於恢復階段)
func (s *Store) applyAccount(account *domain.Account) {
	s.accounts[account.ID] = account.Clone()
	s.numbers[account.AccountNumber] = account.ID
	s.locks[account.ID] = make(chan struct{}, 1)
	if account.ID > s.nextAccountID {
		s.nextAccountID = account.ID
	}
}

// applyCommit 套用一個已提交的 unit of work (呼叫者需持有寫鎖或處於恢復階段)
func (s *Store) applyCommit(accounts []*domain.Account, tran *domain.Transaction) {
	for _, changed := range accounts {
		current, ok := s.accounts[changed.ID]
		if !ok {
			continue
		}
		current.Balance = changed.Balance
		current.Status = changed.Status
	}
	if tran != nil {
		cp := *tran
		s.transactions = append(s.transactions, &cp)
		if cp.HasRef() {
			s.refs[cp.RefID] = struct{}{}
		}
		if cp.ID > s.nextTxID {
			s.nextTxID = cp.ID
		}
	}
}

// CreateAccount 寫入新帳戶，帳號重複時回傳 domain.ErrDuplicateAccountNumber
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.numbers[account.AccountNumber]; ok {
		return domain.ErrDuplicateAccountNumber
	}

	created := account.Clone()
	created.ID = s.nextAccountID + 1
	created.CreatedAt = s.clock()

	if s.wal != nil {
		if err := s.wal.Write(walRecord{Kind: recordAccountCreated, Account: created}); err != nil {
			return domain.NewStorageError("wal write", err)
		}
	}
	s.applyAccount(created)

	account.ID = created.ID
	account.CreatedAt = created.CreatedAt
	return nil
}

// GetAccount 取得帳戶快照
//
// 參數:
//
//	ctx: 上下文
//	accountID: 帳戶 ID
//
// 回傳:
//
//	*domain.Account: 帳戶值拷貝
//	error: 查詢錯誤 (如帳戶不存在)
func (s *Store) GetAccount(ctx context.Context, accountID int64) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return account.Clone(), nil
}

// ListAccountsByOwner 依 ID 遞增列出擁有者的帳戶
func (s *Store) ListAccountsByOwner(ctx context.Context, ownerID int64) ([]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Account, 0)
	for _, account := range s.accounts {
		if account.OwnerID == ownerID {
			out = append(out, account.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *domain.Account) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

// ListTransactions 依 created_at DESC, id DESC 分頁
func (s *Store) ListTransactions(ctx context.Context, filter usecase.TransactionFilter) ([]*domain.Transaction, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var wanted map[string]struct{}
	if len(filter.AccountNumbers) > 0 {
		wanted = make(map[string]struct{}, len(filter.AccountNumbers))
		for _, number := range filter.AccountNumbers {
			wanted[number] = struct{}{}
		}
	}

	matched := make([]*domain.Transaction, 0)
	for _, tran := range s.transactions {
		if wanted == nil || tran.Involves(wanted) {
			matched = append(matched, tran)
		}
	}
	slices.SortFunc(matched, func(a, b *domain.Transaction) int {
		if a.NewerThan(b) {
			return -1
		}
		if b.NewerThan(a) {
			return 1
		}
		return 0
	})

	total := int64(len(matched))
	start := min(max(filter.Offset, 0), len(matched))
	end := len(matched)
	if filter.Limit > 0 {
		end = min(start+filter.Limit, len(matched))
	}

	page := make([]*domain.Transaction, 0, end-start)
	for _, tran := range matched[start:end] {
		cp := *tran
		page = append(page, &cp)
	}
	return page, total, nil
}

// WithinUnitOfWork 在持有帳戶鎖的範圍內執行 fn，成功才一次性提交
//
// 參數:
//
//	ctx: 上下文；提交前被取消則回滾
//	fn: 交易內容
//
// 回傳:
//
//	error: fn 的錯誤、ctx 錯誤或提交錯誤
func (s *Store) WithinUnitOfWork(ctx context.Context, fn func(uow usecase.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	uow := newUnitOfWork(s)
	// 不論成功與否都釋放帳戶鎖；未提交的暫存直接丟棄即為回滾
	defer uow.release()

	if err := fn(uow); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(uow)
}

// commit 先寫 WAL 再套用到記憶體，全程持有寫鎖
func (s *Store) commit(uow *unitOfWork) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tran *domain.Transaction
	if uow.tran != nil {
		if uow.tran.HasRef() {
			if _, ok := s.refs[uow.tran.RefID]; ok {
				return domain.ErrTransactionAlreadyProcessed
			}
		}
		cp := *uow.tran
		cp.ID = s.nextTxID + 1
		cp.CreatedAt = s.clock()
		tran = &cp
	}

	changed := uow.changedAccounts()
	if len(changed) == 0 && tran == nil {
		return nil
	}

	if s.wal != nil {
		if err := s.wal.Write(walRecord{Kind: recordCommit, Accounts: changed, Tx: tran}); err != nil {
			return domain.NewStorageError("wal write", err)
		}
	}
	s.applyCommit(changed, tran)

	if tran != nil {
		uow.tran.ID = tran.ID
		uow.tran.CreatedAt = tran.CreatedAt
	}
	return nil
}

var _ usecase.Store = (*Store)(nil)
