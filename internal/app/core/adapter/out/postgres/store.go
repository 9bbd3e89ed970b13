package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/postgres"
)

// PostgreSQL SQLSTATE
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
)

// Store 以 PostgreSQL 實作 usecase.Store
// NUMERIC 一律以文字進出，避免經過浮點數
type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// Option 定義了 Store 的配置選項函數
type Option func(*Store)

// WithLockTimeout 每個 unit of work 以 SET LOCAL lock_timeout 限制等待帳戶鎖的時間
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.lockTimeout = d
	}
}

// NewStore 建立 Store
func NewStore(client *postgres.Client, opts ...Option) *Store {
	s := &Store{pool: client.Pool()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate 建立資料表
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate postgres schema: %w", err)
	}
	return nil
}

const accountColumns = `id, owner_id, account_number, balance::text, status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		account domain.Account
		balance string
		status  string
	)
	if err := row.Scan(&account.ID, &account.OwnerID, &account.AccountNumber, &balance, &status, &account.CreatedAt); err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("decode balance %q: %w", balance, err)
	}
	account.Balance = amount
	account.Status = domain.AccountStatus(status)
	account.CreatedAt = account.CreatedAt.UTC()
	return &account, nil
}

// CreateAccount 寫入新帳戶，帳號重複時回傳 domain.ErrDuplicateAccountNumber
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (owner_id, account_number, balance, status)
		 VALUES ($1, $2, $3::numeric, $4)
		 RETURNING id, created_at`,
		account.OwnerID, account.AccountNumber, account.Balance.String(), string(account.Status),
	).Scan(&account.ID, &account.CreatedAt)
	if err != nil {
		return translateError(err)
	}
	account.CreatedAt = account.CreatedAt.UTC()
	return nil
}

// GetAccount 讀取已提交的帳戶
func (s *Store) GetAccount(ctx context.Context, accountID int64) (*domain.Account, error) {
	account, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, translateError(err)
	}
	return account, nil
}

// ListAccountsByOwner 依 ID 遞增列出擁有者的帳戶
func (s *Store) ListAccountsByOwner(ctx context.Context, ownerID int64) ([]*domain.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 ORDER BY id ASC`, ownerID)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	out := make([]*domain.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, translateError(err)
		}
		out = append(out, account)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err)
	}
	return out, nil
}

// ListTransactions 依 created_at DESC, id DESC 分頁
// 總筆數與該頁在同一個唯讀 REPEATABLE READ 交易內查詢，兩者看到同一個快照
func (s *Store) ListTransactions(ctx context.Context, filter usecase.TransactionFilter) ([]*domain.Transaction, int64, error) {
	where := ""
	args := []any{}
	if len(filter.AccountNumbers) > 0 {
		where = ` WHERE source_account = ANY($1) OR destination_account = ANY($1)`
		args = append(args, filter.AccountNumbers)
	}

	limit := "ALL"
	if filter.Limit > 0 {
		limit = fmt.Sprintf("%d", filter.Limit)
	}
	query := fmt.Sprintf(
		`SELECT id, ref_id::text, type, amount::text, source_account, destination_account, created_at
		 FROM transactions%s ORDER BY created_at DESC, id DESC LIMIT %s OFFSET %d`,
		where, limit, max(filter.Offset, 0))

	var (
		total int64
		out   = make([]*domain.Transaction, 0)
	)
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM transactions`+where, args...).Scan(&total); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			tran, err := scanTransaction(rows)
			if err != nil {
				return err
			}
			out = append(out, tran)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, translateError(err)
	}
	return out, total, nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		tran                     domain.Transaction
		ref, source, destination *string
		kind, amount             string
	)
	if err := row.Scan(&tran.ID, &ref, &kind, &amount, &source, &destination, &tran.CreatedAt); err != nil {
		return nil, err
	}
	if ref != nil {
		parsed, err := uuid.Parse(*ref)
		if err != nil {
			return nil, fmt.Errorf("decode ref_id %q: %w", *ref, err)
		}
		tran.RefID = parsed
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("decode amount %q: %w", amount, err)
	}
	tran.Amount = value
	tran.Type = domain.TransactionType(kind)
	if source != nil {
		tran.SourceAccount = *source
	}
	if destination != nil {
		tran.DestinationAccount = *destination
	}
	tran.CreatedAt = tran.CreatedAt.UTC()
	return &tran, nil
}

// WithinUnitOfWork 在 pgx.BeginTxFunc 內執行 fn：fn 成功且 ctx 未取消才 Commit
func (s *Store) WithinUnitOfWork(ctx context.Context, fn func(uow usecase.UnitOfWork) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if s.lockTimeout > 0 {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		if err := fn(&unitOfWork{tx: tx}); err != nil {
			return err
		}
		return ctx.Err()
	})
	if err != nil && ctx.Err() != nil && !domain.IsBusinessError(err) {
		return ctx.Err()
	}
	return translateError(err)
}

// unitOfWork 綁定在單一 pgx.Tx 上
type unitOfWork struct {
	tx pgx.Tx
}

// LockAccounts 依 ID 遞增逐筆 SELECT ... FOR UPDATE
func (u *unitOfWork) LockAccounts(ctx context.Context, ids ...int64) (map[int64]*domain.Account, error) {
	out := make(map[int64]*domain.Account, len(ids))
	for _, id := range domain.LockOrder(ids...) {
		account, err := scanAccount(u.tx.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, translateError(err)
		}
		out[id] = account
	}
	return out, nil
}

// UpdateBalance 寫入新餘額
func (u *unitOfWork) UpdateBalance(ctx context.Context, account *domain.Account) error {
	tag, err := u.tx.Exec(ctx,
		`UPDATE accounts SET balance = $1::numeric, updated_at = clock_timestamp() WHERE id = $2`,
		account.Balance.String(), account.ID)
	return affected(tag, err)
}

// UpdateStatus 寫入新狀態
func (u *unitOfWork) UpdateStatus(ctx context.Context, account *domain.Account) error {
	tag, err := u.tx.Exec(ctx,
		`UPDATE accounts SET status = $1, updated_at = clock_timestamp() WHERE id = $2`,
		string(account.Status), account.ID)
	return affected(tag, err)
}

func affected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// AppendTransaction 寫入交易紀錄，RefID 重複時回傳 domain.ErrTransactionAlreadyProcessed
func (u *unitOfWork) AppendTransaction(ctx context.Context, tran *domain.Transaction) error {
	var ref, source, destination *string
	if tran.HasRef() {
		s := tran.RefID.String()
		ref = &s
	}
	if tran.SourceAccount != "" {
		source = &tran.SourceAccount
	}
	if tran.DestinationAccount != "" {
		destination = &tran.DestinationAccount
	}

	err := u.tx.QueryRow(ctx,
		`INSERT INTO transactions (ref_id, type, amount, source_account, destination_account)
		 VALUES ($1::uuid, $2, $3::numeric, $4, $5)
		 RETURNING id, created_at`,
		ref, string(tran.Type), tran.Amount.String(), source, destination,
	).Scan(&tran.ID, &tran.CreatedAt)
	if err != nil {
		return translateError(err)
	}
	tran.CreatedAt = tran.CreatedAt.UTC()
	return nil
}

// translateError 把 SQLSTATE 轉成 domain 錯誤，其他錯誤原樣回傳
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return domain.ErrConcurrencyConflict
	case codeUniqueViolation:
		switch pgErr.ConstraintName {
		case constraintAccountNumber:
			return domain.ErrDuplicateAccountNumber
		case constraintRefID:
			return domain.ErrTransactionAlreadyProcessed
		}
	}
	return err
}

var _ usecase.Store = (*Store)(nil)
