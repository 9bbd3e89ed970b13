package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	grpc_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/grpc"
	pkggrpc "github.com/JoeShih716/go-bank-ledger/pkg/grpc"
)

const usage = `ledgerctl [flags] <command> [args]

commands:
  create                              open a new account
  accounts                            list caller's accounts
  balance   <account-id>              show one account
  deposit   <account-id> <amount>     deposit
  withdraw  <account-id> <amount>     withdraw
  transfer  <from-id> <to-id> <amount>
  history   [page] [page-size]        caller's transactions
  freeze    <account-id>              (admin)
  unfreeze  <account-id>              (admin)
  status    <account-id>              (admin) account status
  audit     [page] [page-size]        (admin) all transactions
  bench                               concurrent load generator

flags:
`

// options 全域參數
type options struct {
	addr    string
	userID  int64
	role    string
	refID   string
	timeout time.Duration
	verbose bool
}

func main() {
	opts := options{}
	flag.StringVar(&opts.addr, "addr", "localhost:50051", "ledger gRPC address")
	flag.Int64Var(&opts.userID, "user", 1, "caller user id (x-user-id)")
	flag.StringVar(&opts.role, "role", "", "caller role (x-user-role), e.g. admin")
	flag.StringVar(&opts.refID, "ref", "", "idempotency reference (UUID) for deposit/withdraw/transfer")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "per command timeout (bench uses -duration)")
	flag.BoolVar(&opts.verbose, "v", false, "log every RPC")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(opts, logger, flag.Arg(0), flag.Args()[1:]); err != nil {
		var argErr usageError
		if errors.As(err, &argErr) {
			fmt.Fprintln(os.Stderr, argErr)
			flag.Usage()
			os.Exit(2)
		}
		if st, ok := status.FromError(err); ok {
			fmt.Fprintf(os.Stderr, "%s: %s\n", st.Code(), st.Message())
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// newPool 建立連線池：每個呼叫都帶上 JSON codec 與 -user / -role 指定的身分
func newPool(opts options, logger *slog.Logger) *pkggrpc.Pool {
	return pkggrpc.NewPool(
		pkggrpc.WithCallOptions(grpc_adapter.CallOptions()...),
		pkggrpc.WithOutgoingMetadata(grpc_adapter.IdentityMetadata(opts.userID, opts.role)...),
		pkggrpc.WithInterceptor(loggingInterceptor(logger)),
	)
}

func run(opts options, logger *slog.Logger, command string, args []string) error {
	pool := newPool(opts, logger)
	defer pool.Close()

	conn, err := pool.GetConnection(opts.addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", opts.addr, err)
	}
	client := grpc_adapter.NewClient(conn)

	if command == "bench" {
		return runBench(client, opts, args)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	result, err := dispatch(ctx, client, opts, command, args)
	if err != nil {
		return err
	}
	return printJSON(result)
}

// dispatch 對應子命令到 RPC
func dispatch(ctx context.Context, client *grpc_adapter.Client, opts options, command string, args []string) (any, error) {
	switch command {
	case "create":
		return client.CreateAccount(ctx, &grpc_adapter.CreateAccountRequest{})
	case "accounts":
		return client.ListAccounts(ctx, &grpc_adapter.ListAccountsRequest{})
	case "balance", "freeze", "unfreeze", "status":
		if len(args) != 1 {
			return nil, usageError(command + " needs <account-id>")
		}
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		req := &grpc_adapter.AccountRequest{AccountID: id}
		switch command {
		case "balance":
			return client.GetBalance(ctx, req)
		case "freeze":
			return client.FreezeAccount(ctx, req)
		case "unfreeze":
			return client.UnfreezeAccount(ctx, req)
		default:
			return client.GetAccountStatus(ctx, req)
		}
	case "deposit", "withdraw":
		if len(args) != 2 {
			return nil, usageError(command + " needs <account-id> <amount>")
		}
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		if command == "deposit" {
			return client.Deposit(ctx, &grpc_adapter.DepositRequest{AccountID: id, Amount: args[1], RefID: opts.refID})
		}
		return client.Withdraw(ctx, &grpc_adapter.WithdrawRequest{AccountID: id, Amount: args[1], RefID: opts.refID})
	case "transfer":
		if len(args) != 3 {
			return nil, usageError("transfer needs <from-id> <to-id> <amount>")
		}
		from, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		to, err := parseID(args[1])
		if err != nil {
			return nil, err
		}
		return client.Transfer(ctx, &grpc_adapter.TransferRequest{
			FromAccountID: from,
			ToAccountID:   to,
			Amount:        args[2],
			RefID:         opts.refID,
		})
	case "history", "audit":
		req, err := parsePage(args)
		if err != nil {
			return nil, err
		}
		if command == "history" {
			return client.GetHistory(ctx, req)
		}
		return client.ListAllTransactions(ctx, req)
	default:
		return nil, usageError("unknown command " + strconv.Quote(command))
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, usageError("invalid account id " + strconv.Quote(s))
	}
	return id, nil
}

func parsePage(args []string) (*grpc_adapter.HistoryRequest, error) {
	req := &grpc_adapter.HistoryRequest{Page: 1, PageSize: 10}
	for i, dst := range []*int{&req.Page, &req.PageSize} {
		if i >= len(args) {
			break
		}
		n, err := strconv.Atoi(args[i])
		if err != nil {
			return nil, usageError("invalid page argument " + strconv.Quote(args[i]))
		}
		*dst = n
	}
	return req, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// loggingInterceptor 在 debug level 記錄每個 RPC 的耗時
func loggingInterceptor(logger *slog.Logger) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		logger.DebugContext(ctx, "rpc",
			slog.String("method", method),
			slog.Any("user", userOf(ctx)),
			slog.Duration("duration", time.Since(start)),
			slog.String("code", status.Code(err).String()),
		)
		return err
	}
}

func userOf(ctx context.Context) []string {
	md, _ := metadata.FromOutgoingContext(ctx)
	return md.Get(grpc_adapter.MetadataUserID)
}
