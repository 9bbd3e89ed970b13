package grpc

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Client 帳務服務的 gRPC 客戶端
//
// 連線需以 CallOptions() 設定 JSON codec，例如透過 pkg/grpc.WithCallOptions。
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient 建立 Client
//
// 參數:
//
//	conn: 連線 (通常來自 pkg/grpc.Pool)
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// CallOptions 呼叫帳務服務所需的預設 CallOption
func CallOptions() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(CodecName)}
}

// IdentityMetadata 呼叫者身分的 metadata key/value 對，role 為空時省略
func IdentityMetadata(userID int64, role string) []string {
	pairs := []string{MetadataUserID, strconv.FormatInt(userID, 10)}
	if role != "" {
		pairs = append(pairs, MetadataUserRole, role)
	}
	return pairs
}

// WithIdentity 在 outgoing metadata 附上呼叫者身分
func WithIdentity(ctx context.Context, userID int64, role string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, IdentityMetadata(userID, role)...)
}

func invoke[Req, Resp any](ctx context.Context, c *Client, method string, req *Req, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateAccount(ctx context.Context, req *CreateAccountRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[CreateAccountRequest, AccountResponse](ctx, c, "CreateAccount", req, opts)
}

func (c *Client) ListAccounts(ctx context.Context, req *ListAccountsRequest, opts ...grpc.CallOption) (*ListAccountsResponse, error) {
	return invoke[ListAccountsRequest, ListAccountsResponse](ctx, c, "ListAccounts", req, opts)
}

func (c *Client) GetBalance(ctx context.Context, req *AccountRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountRequest, AccountResponse](ctx, c, "GetBalance", req, opts)
}

func (c *Client) Deposit(ctx context.Context, req *DepositRequest, opts ...grpc.CallOption) (*BalanceResponse, error) {
	return invoke[DepositRequest, BalanceResponse](ctx, c, "Deposit", req, opts)
}

func (c *Client) Withdraw(ctx context.Context, req *WithdrawRequest, opts ...grpc.CallOption) (*BalanceResponse, error) {
	return invoke[WithdrawRequest, BalanceResponse](ctx, c, "Withdraw", req, opts)
}

func (c *Client) Transfer(ctx context.Context, req *TransferRequest, opts ...grpc.CallOption) (*TransferResponse, error) {
	return invoke[TransferRequest, TransferResponse](ctx, c, "Transfer", req, opts)
}

func (c *Client) GetHistory(ctx context.Context, req *HistoryRequest, opts ...grpc.CallOption) (*HistoryResponse, error) {
	return invoke[HistoryRequest, HistoryResponse](ctx, c, "GetHistory", req, opts)
}

func (c *Client) FreezeAccount(ctx context.Context, req *AccountRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountRequest, AccountResponse](ctx, c, "FreezeAccount", req, opts)
}

func (c *Client) UnfreezeAccount(ctx context.Context, req *AccountRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountRequest, AccountResponse](ctx, c, "UnfreezeAccount", req, opts)
}

func (c *Client) GetAccountStatus(ctx context.Context, req *AccountRequest, opts ...grpc.CallOption) (*AccountResponse, error) {
	return invoke[AccountRequest, AccountResponse](ctx, c, "GetAccountStatus", req, opts)
}

func (c *Client) ListAllTransactions(ctx context.Context, req *HistoryRequest, opts ...grpc.CallOption) (*HistoryResponse, error) {
	return invoke[HistoryRequest, HistoryResponse](ctx, c, "ListAllTransactions", req, opts)
}
