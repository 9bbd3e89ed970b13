package mysql

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// sqlAccount 對應資料庫的 accounts 表
type sqlAccount struct {
	ID            int64           `gorm:"primaryKey;autoIncrement"`
	OwnerID       int64           `gorm:"column:owner_id;not null;index"`
	AccountNumber string          `gorm:"column:account_number;type:varchar(32);not null;uniqueIndex:accounts_account_number_key"`
	Balance       decimal.Decimal `gorm:"column:balance;type:decimal(15,2);not null"`
	Status        string          `gorm:"column:status;type:varchar(16);not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;type:datetime(6);not null"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;type:datetime(6);not null"`
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

// sqlTransaction 對應資料庫的 transactions 表
// 帳號欄位存對外帳號；存款沒有 source、提款沒有 destination (NULL)
type sqlTransaction struct {
	ID                 int64           `gorm:"primaryKey;autoIncrement"`
	RefID              []byte          `gorm:"column:ref_id;type:binary(16);uniqueIndex:transactions_ref_id_key"` // 對應 domain.Transaction.RefID，未提供時為 NULL
	Type               string          `gorm:"column:type;type:varchar(16);not null"`
	Amount             decimal.Decimal `gorm:"column:amount;type:decimal(15,2);not null"`
	SourceAccount      *string         `gorm:"column:source_account;type:varchar(32);index"`
	DestinationAccount *string         `gorm:"column:destination_account;type:varchar(32);index"`
	CreatedAt          time.Time       `gorm:"column:created_at;type:datetime(6);not null;index:idx_transactions_created,sort:desc"`
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

// now 與 datetime(6) 的精度一致，回填到 domain 的時間才會跟之後讀出來的相同
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func toDomainAccount(row *sqlAccount) *domain.Account {
	return &domain.Account{
		ID:            row.ID,
		OwnerID:       row.OwnerID,
		AccountNumber: row.AccountNumber,
		Balance:       row.Balance,
		Status:        domain.AccountStatus(row.Status),
		CreatedAt:     row.CreatedAt,
	}
}

func toSQLTransaction(tran *domain.Transaction) *sqlTransaction {
	row := &sqlTransaction{
		Type:               string(tran.Type),
		Amount:             tran.Amount,
		SourceAccount:      nullable(tran.SourceAccount),
		DestinationAccount: nullable(tran.DestinationAccount),
	}
	if tran.HasRef() {
		ref := tran.RefID
		row.RefID = ref[:]
	}
	return row
}

func toDomainTransaction(row *sqlTransaction) (*domain.Transaction, error) {
	tran := &domain.Transaction{
		ID:        row.ID,
		Type:      domain.TransactionType(row.Type),
		Amount:    row.Amount,
		CreatedAt: row.CreatedAt,
	}
	if len(row.RefID) > 0 {
		ref, err := uuid.FromBytes(row.RefID)
		if err != nil {
			return nil, err
		}
		tran.RefID = ref
	}
	if row.SourceAccount != nil {
		tran.SourceAccount = *row.SourceAccount
	}
	if row.DestinationAccount != nil {
		tran.DestinationAccount = *row.DestinationAccount
	}
	return tran, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
