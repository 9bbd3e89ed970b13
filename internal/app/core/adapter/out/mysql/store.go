package mysql

import (
	"context"
	"database/sql"
	"errors"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
)

// MySQL 錯誤碼
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
	errDuplicateEntry  = 1062
)

// Store 以 MySQL (InnoDB) 實作 usecase.Store
// 帳戶鎖使用 SELECT ... FOR UPDATE，等待上限由連線的 innodb_lock_wait_timeout 決定
type Store struct {
	db *gorm.DB
}

// NewStore 建立 Store
func NewStore(client *mysql.Client) *Store {
	return &Store{
		db: client.DB(),
	}
}

// Migrate 建立或更新 accounts / transactions 表
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&sqlAccount{}, &sqlTransaction{})
}

// CreateAccount 寫入新帳戶，帳號重複時回傳 domain.ErrDuplicateAccountNumber
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	ts := now()
	row := sqlAccount{
		OwnerID:       account.OwnerID,
		AccountNumber: account.AccountNumber,
		Balance:       account.Balance,
		Status:        string(account.Status),
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return translateError(err, domain.ErrDuplicateAccountNumber)
	}
	account.ID = row.ID
	account.CreatedAt = row.CreatedAt
	return nil
}

// GetAccount 讀取已提交的帳戶
func (s *Store) GetAccount(ctx context.Context, accountID int64) (*domain.Account, error) {
	var row sqlAccount
	err := s.db.WithContext(ctx).Where("id = ?", accountID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, translateError(err, nil)
	}
	return toDomainAccount(&row), nil
}

// ListAccountsByOwner 依 ID 遞增列出擁有者的帳戶
func (s *Store) ListAccountsByOwner(ctx context.Context, ownerID int64) ([]*domain.Account, error) {
	var rows []sqlAccount
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, translateError(err, nil)
	}
	out := make([]*domain.Account, 0, len(rows))
	for i := range rows {
		out = append(out, toDomainAccount(&rows[i]))
	}
	return out, nil
}

// ListTransactions 依 created_at DESC, id DESC 分頁
// 總筆數與該頁在同一個唯讀 REPEATABLE READ 交易內查詢，兩者看到同一個快照
func (s *Store) ListTransactions(ctx context.Context, filter usecase.TransactionFilter) ([]*domain.Transaction, int64, error) {
	involves := func(db *gorm.DB) *gorm.DB {
		if len(filter.AccountNumbers) == 0 {
			return db
		}
		return db.Where("source_account IN ? OR destination_account IN ?", filter.AccountNumbers, filter.AccountNumbers)
	}

	var (
		total int64
		rows  []sqlTransaction
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&sqlTransaction{}).Scopes(involves).Count(&total).Error; err != nil {
			return err
		}
		query := tx.Scopes(involves).Order("created_at DESC, id DESC").Offset(filter.Offset)
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		return query.Find(&rows).Error
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, 0, translateError(err, nil)
	}

	out := make([]*domain.Transaction, 0, len(rows))
	for i := range rows {
		tran, err := toDomainTransaction(&rows[i])
		if err != nil {
			return nil, 0, domain.NewStorageError("decode transaction", err)
		}
		out = append(out, tran)
	}
	return out, total, nil
}

// WithinUnitOfWork 在一個資料庫交易內執行 fn
// fn 回傳錯誤或 ctx 已取消時 gorm 會 Rollback
func (s *Store) WithinUnitOfWork(ctx context.Context, fn func(uow usecase.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := fn(&unitOfWork{tx: tx}); err != nil {
			return err
		}
		return ctx.Err()
	})
	if err != nil && ctx.Err() != nil && !domain.IsBusinessError(err) {
		return ctx.Err()
	}
	return translateError(err, nil)
}

// unitOfWork 綁定在單一 gorm 交易上
type unitOfWork struct {
	tx *gorm.DB
}

// LockAccounts 依 ID 遞增逐筆 SELECT ... FOR UPDATE
func (u *unitOfWork) LockAccounts(ctx context.Context, ids ...int64) (map[int64]*domain.Account, error) {
	out := make(map[int64]*domain.Account, len(ids))
	for _, id := range domain.LockOrder(ids...) {
		var row sqlAccount
		err := u.tx.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, translateError(err, nil)
		}
		out[id] = toDomainAccount(&row)
	}
	return out, nil
}

// UpdateBalance 寫入新餘額
func (u *unitOfWork) UpdateBalance(ctx context.Context, account *domain.Account) error {
	return u.update(ctx, account.ID, map[string]any{"balance": account.Balance})
}

// UpdateStatus 寫入新狀態
func (u *unitOfWork) UpdateStatus(ctx context.Context, account *domain.Account) error {
	return u.update(ctx, account.ID, map[string]any{"status": string(account.Status)})
}

// update 只更新已鎖定的列；MySQL 的 RowsAffected 只計算值有變的列，不能拿來判斷是否存在
func (u *unitOfWork) update(ctx context.Context, id int64, values map[string]any) error {
	values["updated_at"] = now()
	err := u.tx.WithContext(ctx).Model(&sqlAccount{}).Where("id = ?", id).Updates(values).Error
	return translateError(err, nil)
}

// AppendTransaction 寫入交易紀錄，RefID 重複時回傳 domain.ErrTransactionAlreadyProcessed
func (u *unitOfWork) AppendTransaction(ctx context.Context, tran *domain.Transaction) error {
	row := toSQLTransaction(tran)
	row.CreatedAt = now()
	if err := u.tx.WithContext(ctx).Create(row).Error; err != nil {
		return translateError(err, domain.ErrTransactionAlreadyProcessed)
	}
	tran.ID = row.ID
	tran.CreatedAt = row.CreatedAt
	return nil
}

// translateError 把 MySQL 錯誤碼轉成 domain 錯誤
//
// 參數:
//
//	err: 原始錯誤
//	onDuplicate: 唯一鍵衝突時要回傳的錯誤 (nil 代表不預期會發生)
//
// 回傳:
//
//	error: 鎖逾時/死鎖為 domain.ErrConcurrencyConflict；其他錯誤原樣回傳，由上層歸類
func translateError(err error, onDuplicate error) error {
	if err == nil {
		return nil
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errLockWaitTimeout, errDeadlock:
			return domain.ErrConcurrencyConflict
		case errDuplicateEntry:
			if onDuplicate != nil {
				return onDuplicate
			}
		}
	}
	return err
}

var _ usecase.Store = (*Store)(nil)
