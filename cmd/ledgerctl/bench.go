package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	grpc_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/grpc"
)

// benchResult 壓測結果
type benchResult struct {
	Requests  int               `json:"requests"`
	Succeeded int64             `json:"succeeded"`
	Failed    map[string]int64  `json:"failed"`
	Elapsed   string            `json:"elapsed"`
	TPS       float64           `json:"tps"`
	Balances  map[string]string `json:"balances"`
}

// runBench 建立兩個帳戶並以固定併發量互相轉帳 (每個請求帶新的 RefID)
//
// 參數:
//
//	client: gRPC 客戶端
//	opts: 全域參數 (timeout)
//	args: -n 請求數, -c 併發量, -amount 單筆金額, -seed 初始存款, -duration 總時限
func runBench(client *grpc_adapter.Client, opts options, args []string) error {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	total := fs.Int("n", 10000, "total requests")
	concurrency := fs.Int("c", 100, "concurrent requests")
	amount := fs.String("amount", "1.00", "amount per transfer")
	seed := fs.String("seed", "1000000.00", "initial deposit into each account")
	duration := fs.Duration("duration", 120*time.Second, "overall time limit")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if *total <= 0 || *concurrency <= 0 {
		return usageError("bench needs positive -n and -c")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	ids := make([]int64, 2)
	for i := range ids {
		resp, err := client.CreateAccount(ctx, &grpc_adapter.CreateAccountRequest{})
		if err != nil {
			return fmt.Errorf("create bench account: %w", err)
		}
		ids[i] = resp.Account.ID
		if _, err := client.Deposit(ctx, &grpc_adapter.DepositRequest{AccountID: ids[i], Amount: *seed}); err != nil {
			return fmt.Errorf("seed bench account: %w", err)
		}
	}

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		mu        sync.Mutex
		failed    = map[string]int64{}
	)
	sem := make(chan struct{}, *concurrency)
	startTime := time.Now()

	for i := 0; i < *total; i++ {
		sem <- struct{}{}
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			// 奇偶交替方向，兩邊同時持有鎖的順序由服務端決定
			from, to := ids[0], ids[1]
			if idx%2 == 1 {
				from, to = to, from
			}
			_, err := client.Transfer(ctx, &grpc_adapter.TransferRequest{
				FromAccountID: from,
				ToAccountID:   to,
				Amount:        *amount,
				RefID:         uuid.NewString(),
			})
			if err != nil {
				code := status.Code(err)
				mu.Lock()
				failed[code.String()]++
				mu.Unlock()
				return
			}
			succeeded.Add(1)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(startTime)

	result := benchResult{
		Requests:  *total,
		Succeeded: succeeded.Load(),
		Failed:    failed,
		Elapsed:   elapsed.String(),
		TPS:       float64(*total) / elapsed.Seconds(),
		Balances:  map[string]string{},
	}

	// 壓測結束後讀回餘額，總和應等於兩筆初始存款
	readCtx, readCancel := context.WithTimeout(context.Background(), opts.timeout)
	defer readCancel()
	for _, id := range ids {
		resp, err := client.GetBalance(readCtx, &grpc_adapter.AccountRequest{AccountID: id})
		if err != nil {
			if status.Code(err) == codes.DeadlineExceeded {
				break
			}
			return fmt.Errorf("read balance %d: %w", id, err)
		}
		result.Balances[resp.Account.AccountNumber] = resp.Account.Balance
	}
	return printJSON(result)
}
