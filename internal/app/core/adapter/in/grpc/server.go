package grpc

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// 呼叫者身分由上游驗證後放進 metadata
const (
	MetadataUserID   = "x-user-id"
	MetadataUserRole = "x-user-role"
	RoleAdmin        = "admin"

	errorDomain = "ledger.v1"
)

// Server 帳務 gRPC 服務，只做參數轉換與錯誤對應，不含業務規則
type Server struct {
	ledger   usecase.Ledger
	accounts usecase.Accounts
	logger   *slog.Logger
}

// NewServer 建立 Server
func NewServer(ledger usecase.Ledger, accounts usecase.Accounts, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ledger:   ledger,
		accounts: accounts,
		logger:   logger,
	}
}

// NewGRPCServer 建立 *grpc.Server 並註冊帳務服務、health 與 reflection
//
// 參數:
//
//	srv: 帳務服務
//	logger: 存取 log
//	opts: 額外的 ServerOption
//
// 回傳值:
//
//	*grpc.Server: 尚未 Serve 的 gRPC 伺服器
//	*health.Server: health 狀態 (關機時可設為 NOT_SERVING)
func NewGRPCServer(srv *Server, logger *slog.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(LoggingInterceptor(logger))}, opts...)
	s := grpc.NewServer(opts...)

	RegisterLedgerServiceServer(s, srv)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, healthServer)

	reflection.Register(s)
	return s, healthServer
}

// LoggingInterceptor 記錄每個 RPC 的方法、狀態碼與耗時
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		level := slog.LevelDebug
		switch code {
		case codes.Internal, codes.Unavailable, codes.Unknown:
			level = slog.LevelError
		}
		logger.Log(ctx, level, "grpc request",
			slog.String("method", info.FullMethod),
			slog.String("code", code.String()),
			slog.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}

// caller 從 metadata 取出呼叫者
func caller(ctx context.Context) (int64, bool, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return 0, false, status.Error(codes.Unauthenticated, "missing caller identity")
	}
	values := md.Get(MetadataUserID)
	if len(values) == 0 {
		return 0, false, status.Error(codes.Unauthenticated, "missing caller identity")
	}
	userID, err := strconv.ParseInt(values[0], 10, 64)
	if err != nil || userID <= 0 {
		return 0, false, status.Error(codes.Unauthenticated, "invalid caller identity")
	}
	roles := md.Get(MetadataUserRole)
	return userID, len(roles) > 0 && roles[0] == RoleAdmin, nil
}

// requireAdmin 特權操作只允許 admin
func requireAdmin(ctx context.Context) error {
	_, admin, err := caller(ctx)
	if err != nil {
		return err
	}
	if !admin {
		return status.Error(codes.PermissionDenied, "admin role required")
	}
	return nil
}

func parseRefID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	ref, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid ref_id: %v", err)
	}
	return ref, nil
}

// CreateAccount 為呼叫者開戶
func (s *Server) CreateAccount(ctx context.Context, _ *CreateAccountRequest) (*AccountResponse, error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	account, err := s.accounts.CreateAccount(ctx, userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AccountResponse{Account: toAccount(account)}, nil
}

// ListAccounts 列出呼叫者的帳戶
func (s *Server) ListAccounts(ctx context.Context, _ *ListAccountsRequest) (*ListAccountsResponse, error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := s.accounts.ListAccounts(ctx, userID)
	if err != nil {
		return nil, toStatus(err)
	}
	out := make([]*Account, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccount(a))
	}
	return &ListAccountsResponse{Accounts: out}, nil
}

// GetBalance 查詢呼叫者帳戶的餘額
func (s *Server) GetBalance(ctx context.Context, req *AccountRequest) (*AccountResponse, error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	account, err := s.ledger.GetBalance(ctx, userID, req.AccountID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AccountResponse{Account: toAccount(account)}, nil
}

// Deposit 存款
func (s *Server) Deposit(ctx context.Context, req *DepositRequest) (*BalanceResponse, error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	ref, err := parseRefID(req.RefID)
	if err != nil {
		return nil, err
	}

	result, err := s.ledger.Deposit(ctx, domain.DepositRequest{
		OwnerID:   userID,
		AccountID: req.AccountID,
		Amount:    amount,
		RefID:     ref,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return toBalanceResponse(result), nil
}

// Withdraw 提款
func (s *Server) Withdraw(ctx context.Context, req *WithdrawRequest) (*BalanceResponse, error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	ref, err := parseRefID(req.RefID)
	if err != nil {
		return nil, err
	}

	result, err := s.ledger.Withdraw(ctx, domain.WithdrawRequest{
		OwnerID:   userID,
		AccountID: req.AccountID,
		Amount:    amount,
		RefID:     ref,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return toBalanceResponse(result), nil
}

// Transfer 轉帳
func (s *Server) Transfer(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	ref, err := parseRefID(req.RefID)
	if err != nil {
		return nil, err
	}

	result, err := s.ledger.Transfer(ctx, domain.TransferRequest{
		OwnerID:       userID,
		SourceID:      req.FromAccountID,
		DestinationID: req.ToAccountID,
		Amount:        amount,
		RefID:         ref,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &TransferResponse{
		FromAccount:    result.SourceAccount,
		ToAccount:      result.DestinationAccount,
		Amount:         domain.FormatAmount(result.Amount),
		CurrentBalance: domain.FormatAmount(result.SourceBalance),
		Transaction:    toTransaction(result.Transaction),
	}, nil
}

// GetHistory 呼叫者所有帳戶的交易紀錄
func (s *Server) GetHistory(ctx context.Context, req *HistoryRequest) (*HistoryResponse, error) {
	userID, _, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	page, err := s.ledger.GetHistory(ctx, domain.HistoryQuery{
		OwnerID:  userID,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return toHistory(page), nil
}

// FreezeAccount 凍結帳戶 (admin)
func (s *Server) FreezeAccount(ctx context.Context, req *AccountRequest) (*AccountResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	account, err := s.accounts.Freeze(ctx, req.AccountID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AccountResponse{Account: toAccount(account)}, nil
}

// UnfreezeAccount 解凍帳戶 (admin)
func (s *Server) UnfreezeAccount(ctx context.Context, req *AccountRequest) (*AccountResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	account, err := s.accounts.Unfreeze(ctx, req.AccountID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AccountResponse{Account: toAccount(account)}, nil
}

// GetAccountStatus 查詢任一帳戶的狀態 (admin)
func (s *Server) GetAccountStatus(ctx context.Context, req *AccountRequest) (*AccountResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	account, err := s.accounts.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AccountResponse{Account: toAccount(account)}, nil
}

// ListAllTransactions 全部交易紀錄 (admin)
func (s *Server) ListAllTransactions(ctx context.Context, req *HistoryRequest) (*HistoryResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	page, err := s.ledger.ListAllTransactions(ctx, req.Page, req.PageSize)
	if err != nil {
		return nil, toStatus(err)
	}
	return toHistory(page), nil
}

func toBalanceResponse(result *domain.BalanceResult) *BalanceResponse {
	return &BalanceResponse{
		AccountID:     result.AccountID,
		AccountNumber: result.AccountNumber,
		Balance:       domain.FormatAmount(result.Balance),
		Transaction:   toTransaction(result.Transaction),
	}
}

// statusMapping 錯誤 → gRPC 狀態碼與 ErrorInfo.Reason，依序比對
var statusMapping = []struct {
	err    error
	code   codes.Code
	reason string
}{
	{domain.ErrInvalidAmount, codes.InvalidArgument, "INVALID_AMOUNT"},
	{domain.ErrSameAccount, codes.InvalidArgument, "SAME_ACCOUNT"},
	{domain.ErrInvalidPage, codes.InvalidArgument, "INVALID_PAGE"},
	{domain.ErrInvalidOwner, codes.Unauthenticated, "INVALID_OWNER"},
	{domain.ErrAccountNotFound, codes.NotFound, "ACCOUNT_NOT_FOUND"},
	{domain.ErrSourceNotFound, codes.NotFound, "SOURCE_NOT_FOUND"},
	{domain.ErrDestinationNotFound, codes.NotFound, "DESTINATION_NOT_FOUND"},
	{domain.ErrAccountFrozen, codes.FailedPrecondition, "ACCOUNT_FROZEN"},
	{domain.ErrSourceFrozen, codes.FailedPrecondition, "SOURCE_FROZEN"},
	{domain.ErrDestinationFrozen, codes.FailedPrecondition, "DESTINATION_FROZEN"},
	{domain.ErrInsufficientFunds, codes.FailedPrecondition, "INSUFFICIENT_FUNDS"},
	{domain.ErrTransactionAlreadyProcessed, codes.AlreadyExists, "TRANSACTION_ALREADY_PROCESSED"},
	{domain.ErrDuplicateAccountNumber, codes.Aborted, "DUPLICATE_ACCOUNT_NUMBER"},
	{domain.ErrConcurrencyConflict, codes.Aborted, "CONCURRENCY_CONFLICT"},
	{domain.ErrStorageFailure, codes.Unavailable, "STORAGE_FAILURE"},
	{context.Canceled, codes.Canceled, "CANCELED"},
	{context.DeadlineExceeded, codes.DeadlineExceeded, "DEADLINE_EXCEEDED"},
}

// toStatus 把 domain 錯誤轉為帶 ErrorInfo 的 gRPC status
func toStatus(err error) error {
	code, reason := codes.Internal, "INTERNAL"
	for _, m := range statusMapping {
		if errors.Is(err, m.err) {
			code, reason = m.code, m.reason
			break
		}
	}

	info := &errdetails.ErrorInfo{
		Reason:   reason,
		Domain:   errorDomain,
		Metadata: map[string]string{},
	}
	var insufficient *domain.InsufficientFundsError
	if errors.As(err, &insufficient) {
		info.Metadata["current_balance"] = domain.FormatAmount(insufficient.Balance)
	}

	// 不把底層儲存細節外洩給呼叫端
	msg := err.Error()
	switch code {
	case codes.Unavailable:
		msg = domain.ErrStorageFailure.Error()
	case codes.Internal:
		msg = "internal error"
	}
	st := status.New(code, msg)
	if detailed, detailErr := st.WithDetails(info); detailErr == nil {
		st = detailed
	}
	return st.Err()
}

var _ LedgerServiceServer = (*Server)(nil)
