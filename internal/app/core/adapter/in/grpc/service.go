package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// ServiceName 完整的 gRPC 服務名稱
const ServiceName = "ledger.v1.LedgerService"

// Account 帳戶 (金額以兩位小數字串表示)
type Account struct {
	ID            int64     `json:"id"`
	OwnerID       int64     `json:"owner_id"`
	AccountNumber string    `json:"account_number"`
	Balance       string    `json:"balance"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// Transaction 交易紀錄
type Transaction struct {
	ID                 int64     `json:"id"`
	RefID              string    `json:"ref_id,omitempty"`
	Type               string    `json:"type"`
	Amount             string    `json:"amount"`
	SourceAccount      string    `json:"source_account,omitempty"`
	DestinationAccount string    `json:"destination_account,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

type CreateAccountRequest struct{}

type ListAccountsRequest struct{}

type ListAccountsResponse struct {
	Accounts []*Account `json:"accounts"`
}

// AccountRequest 以帳戶 ID 查詢或變更狀態
type AccountRequest struct {
	AccountID int64 `json:"account_id"`
}

type AccountResponse struct {
	Account *Account `json:"account"`
}

// DepositRequest 存款；RefID 為選填的 UUID，用於冪等
type DepositRequest struct {
	AccountID int64  `json:"account_id"`
	Amount    string `json:"amount"`
	RefID     string `json:"ref_id,omitempty"`
}

// WithdrawRequest 提款
type WithdrawRequest struct {
	AccountID int64  `json:"account_id"`
	Amount    string `json:"amount"`
	RefID     string `json:"ref_id,omitempty"`
}

// BalanceResponse 存款/提款後的餘額
type BalanceResponse struct {
	AccountID     int64        `json:"account_id"`
	AccountNumber string       `json:"account_number"`
	Balance       string       `json:"balance"`
	Transaction   *Transaction `json:"transaction"`
}

// TransferRequest 轉帳
type TransferRequest struct {
	FromAccountID int64  `json:"from_account_id"`
	ToAccountID   int64  `json:"to_account_id"`
	Amount        string `json:"amount"`
	RefID         string `json:"ref_id,omitempty"`
}

type TransferResponse struct {
	FromAccount    string       `json:"from_account"`
	ToAccount      string       `json:"to_account"`
	Amount         string       `json:"amount"`
	CurrentBalance string       `json:"current_balance"`
	Transaction    *Transaction `json:"transaction"`
}

// HistoryRequest 分頁參數
type HistoryRequest struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

type HistoryResponse struct {
	Transactions []*Transaction `json:"transactions"`
	Page         int            `json:"page"`
	PageSize     int            `json:"page_size"`
	Total        int64          `json:"total"`
	TotalPages   int            `json:"total_pages"`
}

// LedgerServiceServer 帳務 gRPC 服務
type LedgerServiceServer interface {
	CreateAccount(context.Context, *CreateAccountRequest) (*AccountResponse, error)
	ListAccounts(context.Context, *ListAccountsRequest) (*ListAccountsResponse, error)
	GetBalance(context.Context, *AccountRequest) (*AccountResponse, error)
	Deposit(context.Context, *DepositRequest) (*BalanceResponse, error)
	Withdraw(context.Context, *WithdrawRequest) (*BalanceResponse, error)
	Transfer(context.Context, *TransferRequest) (*TransferResponse, error)
	GetHistory(context.Context, *HistoryRequest) (*HistoryResponse, error)
	FreezeAccount(context.Context, *AccountRequest) (*AccountResponse, error)
	UnfreezeAccount(context.Context, *AccountRequest) (*AccountResponse, error)
	GetAccountStatus(context.Context, *AccountRequest) (*AccountResponse, error)
	ListAllTransactions(context.Context, *HistoryRequest) (*HistoryResponse, error)
}

// ServiceDesc 手寫的服務描述，訊息透過 jsonCodec 編碼
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreateAccount", LedgerServiceServer.CreateAccount),
		unaryMethod("ListAccounts", LedgerServiceServer.ListAccounts),
		unaryMethod("GetBalance", LedgerServiceServer.GetBalance),
		unaryMethod("Deposit", LedgerServiceServer.Deposit),
		unaryMethod("Withdraw", LedgerServiceServer.Withdraw),
		unaryMethod("Transfer", LedgerServiceServer.Transfer),
		unaryMethod("GetHistory", LedgerServiceServer.GetHistory),
		unaryMethod("FreezeAccount", LedgerServiceServer.FreezeAccount),
		unaryMethod("UnfreezeAccount", LedgerServiceServer.UnfreezeAccount),
		unaryMethod("GetAccountStatus", LedgerServiceServer.GetAccountStatus),
		unaryMethod("ListAllTransactions", LedgerServiceServer.ListAllTransactions),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger.proto",
}

// RegisterLedgerServiceServer 註冊服務
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// unaryMethod 把 LedgerServiceServer 的方法轉成 grpc.MethodDesc，與 protoc 產生的 handler 行為相同
func unaryMethod[Req, Resp any](name string, call func(LedgerServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func toAccount(a *domain.Account) *Account {
	return &Account{
		ID:            a.ID,
		OwnerID:       a.OwnerID,
		AccountNumber: a.AccountNumber,
		Balance:       domain.FormatAmount(a.Balance),
		Status:        string(a.Status),
		CreatedAt:     a.CreatedAt,
	}
}

func toTransaction(t *domain.Transaction) *Transaction {
	if t == nil {
		return nil
	}
	out := &Transaction{
		ID:                 t.ID,
		Type:               string(t.Type),
		Amount:             domain.FormatAmount(t.Amount),
		SourceAccount:      t.SourceAccount,
		DestinationAccount: t.DestinationAccount,
		CreatedAt:          t.CreatedAt,
	}
	if t.HasRef() {
		out.RefID = t.RefID.String()
	}
	return out
}

func toHistory(page *domain.HistoryPage) *HistoryResponse {
	txs := make([]*Transaction, 0, len(page.Transactions))
	for _, t := range page.Transactions {
		txs = append(txs, toTransaction(t))
	}
	return &HistoryResponse{
		Transactions: txs,
		Page:         page.Page,
		PageSize:     page.PageSize,
		Total:        page.Total,
		TotalPages:   page.TotalPages,
	}
}
